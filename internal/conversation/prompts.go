package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"PeopleChat/internal/backend"
)

const (
	samplePromptTemplate = "Generate %d sample prompts from the user perspective based on the context. " +
		"Each sample prompt should be no more than %d words. " +
		"Put each prompt on its own line and do not add any other text."

	followupTemplate = "Generate %d follow-up questions from the user perspective based on the conversation. " +
		"Each follow-up question should be no more than %d words. " +
		"Put each question on its own line. Only provide the questions and do not add any other text."

	listTemplate = "Generate a list of %d items based on the following description: %s. " +
		"Each item should be no more than %d words. " +
		"Please use '%s' as the delimiter between items and do not add any extra content."

	listDelimiter = "%%"
)

// GenerateSamplePrompts asks for up to numSamples candidate prompts derived
// from contextText. History is not changed.
func (c *Conversation) GenerateSamplePrompts(ctx context.Context, contextText string, numSamples, maxWords int) ([]string, error) {
	return c.generatePrompts(ctx, contextText, numSamples, maxWords, false)
}

// GenerateFollowups asks for up to numSamples follow-up questions to the last
// exchange. History is not changed.
func (c *Conversation) GenerateFollowups(ctx context.Context, lastQuestion, lastAnswer string, numSamples, maxWords int) ([]string, error) {
	return c.generatePrompts(ctx, RenderExchange(lastQuestion, lastAnswer), numSamples, maxWords, true)
}

// RenderExchange formats one question and answer as follow-up context
func RenderExchange(question, answer string) string {
	return fmt.Sprintf("User: %s\nAssistant: %s\n", question, answer)
}

func (c *Conversation) generatePrompts(ctx context.Context, contextText string, numSamples, maxWords int, followupMode bool) ([]string, error) {
	if numSamples <= 0 || maxWords <= 0 {
		return nil, fmt.Errorf("%w: count %d and max words %d must be positive", ErrInvalidArgument, numSamples, maxWords)
	}

	template, op := samplePromptTemplate, "sample prompts"
	if followupMode {
		template, op = followupTemplate, "follow-ups"
	}
	instructions := fmt.Sprintf(template, numSamples, maxWords)

	raw, err := c.metaQuery(ctx, instructions, contextText, true)
	if err != nil {
		return nil, fmt.Errorf("generating %s: %w", op, err)
	}

	prompts := splitClean(raw, "\n")
	if len(prompts) == 0 {
		return nil, fmt.Errorf("generating %s: %w", op, backend.ErrEmptyResponse)
	}
	if len(prompts) > numSamples {
		prompts = prompts[:numSamples]
	}
	return prompts, nil
}

// GenerateList asks for itemCount items matching description, separated by %%.
// It always uses the stateless backend and never changes history.
func (c *Conversation) GenerateList(ctx context.Context, description string, itemCount, maxWordsPerItem int) ([]string, error) {
	if itemCount <= 0 || maxWordsPerItem <= 0 {
		return nil, fmt.Errorf("%w: item count %d and max words %d must be positive", ErrInvalidArgument, itemCount, maxWordsPerItem)
	}

	instructions := fmt.Sprintf(listTemplate, itemCount, description, maxWordsPerItem, listDelimiter)
	raw, err := c.metaQuery(ctx, instructions, description, false)
	if err != nil {
		return nil, fmt.Errorf("generating list: %w", err)
	}

	items := splitClean(raw, listDelimiter)
	if len(items) == 0 {
		return nil, fmt.Errorf("generating list: %w", backend.ErrEmptyResponse)
	}
	return items, nil
}

// metaQuery runs a one-off completion with no prior messages. The session lock
// is held so the call is ordered with the session's turns.
func (c *Conversation) metaQuery(ctx context.Context, instructions, userText string, allowAssistant bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if allowAssistant && c.settings.AssistantID != "" {
		return c.adapter.CompleteAssistantThread(ctx, instructions, userText, c.settings.AssistantID)
	}
	return c.adapter.CompleteChat(ctx, instructions, nil, userText, c.settings)
}

// splitClean splits raw on sep, trims each part and drops blanks
func splitClean(raw, sep string) []string {
	parts := lo.Map(strings.Split(raw, sep), func(part string, _ int) string {
		return strings.TrimSpace(part)
	})
	return lo.Compact(parts)
}
