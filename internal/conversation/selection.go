package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// InvalidSelectionError reports a follow-up choice that is not a number in [0, Max]
type InvalidSelectionError struct {
	Choice string
	Max    int
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("invalid selection %q: enter a number between 1 and %d, or 0 to skip", e.Choice, e.Max)
}

// Exchange is the latest question and its answer
type Exchange struct {
	Question string
	Answer   string
}

// ParseSelection interprets a 1-based menu choice among n follow-ups.
// "0" means skip. The returned index is 0-based.
func ParseSelection(choice string, n int) (index int, skip bool, err error) {
	trimmed := strings.TrimSpace(choice)
	number, convErr := strconv.Atoi(trimmed)
	if convErr != nil || number < 0 || number > n {
		return 0, false, &InvalidSelectionError{Choice: choice, Max: n}
	}
	if number == 0 {
		return 0, true, nil
	}
	return number - 1, false, nil
}

// ChooseFollowup applies a menu choice to the last exchange. Skipping returns
// last unchanged. A valid choice asks the chosen follow-up and returns the new
// exchange. An invalid choice returns last and an *InvalidSelectionError
// without touching the session.
func (c *Conversation) ChooseFollowup(ctx context.Context, instructions string, last Exchange, followups []string, choice string) (Exchange, error) {
	index, skip, err := ParseSelection(choice, len(followups))
	if err != nil {
		return last, err
	}
	if skip {
		return last, nil
	}

	question := followups[index]
	result, err := c.AskQuestion(ctx, instructions, question)
	if err != nil {
		return last, err
	}
	return Exchange{Question: question, Answer: result.Reply}, nil
}
