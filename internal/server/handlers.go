package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"PeopleChat/internal/backend"
	"PeopleChat/internal/conversation"
	"PeopleChat/internal/rpc"
	"PeopleChat/internal/session"
)

// connState is owned by one connection's read loop
type connState struct {
	conv      *conversation.Conversation
	last      conversation.Exchange
	followups []string
}

type handlerFunc func(s *Server, ctx context.Context, st *connState, params json.RawMessage) (any, error)

var handlers = map[string]handlerFunc{
	rpc.MethodAsk:            (*Server).ask,
	rpc.MethodSamplePrompts:  (*Server).samplePrompts,
	rpc.MethodFollowups:      (*Server).generateFollowups,
	rpc.MethodSelectFollowup: (*Server).selectFollowup,
	rpc.MethodList:           (*Server).list,
	rpc.MethodHistory:        (*Server).history,
	rpc.MethodReset:          (*Server).reset,
	rpc.MethodSettings:       (*Server).settings,
	rpc.MethodSetModel:       (*Server).setModel,
	rpc.MethodSetTemperature: (*Server).setTemperature,
	rpc.MethodSetAssistant:   (*Server).setAssistant,
	rpc.MethodSpeak:          (*Server).speak,
	rpc.MethodTranscribe:     (*Server).transcribe,
}

func (s *Server) handleMessage(ctx context.Context, st *connState, data []byte, log *slog.Logger) rpc.Response {
	var req rpc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(0, &rpc.Error{Code: rpc.CodeParseError, Message: "parse error: " + err.Error()})
	}

	handler, ok := handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, &rpc.Error{Code: rpc.CodeMethodNotFound, Message: "method not found: " + req.Method})
	}

	result, err := handler(s, ctx, st, req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		log.Warn("request failed", "method", req.Method, "code", rpcErr.Code, "error", err)
		return errorResponse(req.ID, rpcErr)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, &rpc.Error{Code: rpc.CodeBackendError, Message: "failed to marshal result: " + err.Error()})
	}
	log.Debug("request served", "method", req.Method)
	return rpc.Response{JSONRPC: rpc.Version, ID: req.ID, Result: raw}
}

func errorResponse(id int, err *rpc.Error) rpc.Response {
	return rpc.Response{JSONRPC: rpc.Version, ID: id, Error: err}
}

func invalidParams(format string, args ...any) *rpc.Error {
	return &rpc.Error{Code: rpc.CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// toRPCError maps the error taxonomy onto JSON-RPC error codes
func toRPCError(err error) *rpc.Error {
	var (
		rpcErr *rpc.Error
		selErr *conversation.InvalidSelectionError
		cfgErr *session.ConfigurationError
	)
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.As(err, &selErr):
		return &rpc.Error{Code: rpc.CodeInvalidSelection, Message: selErr.Error(), Data: map[string]int{"max": selErr.Max}}
	case errors.As(err, &cfgErr), errors.Is(err, backend.ErrAssistantUnsupported):
		return &rpc.Error{Code: rpc.CodeConfiguration, Message: err.Error()}
	case errors.Is(err, conversation.ErrInvalidArgument):
		return &rpc.Error{Code: rpc.CodeInvalidParams, Message: err.Error()}
	case conversation.IsEmpty(err):
		return &rpc.Error{Code: rpc.CodeEmptyResponse, Message: err.Error()}
	default:
		return &rpc.Error{Code: rpc.CodeBackendError, Message: err.Error()}
	}
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("invalid params: %v", err)
	}
	return nil
}

func (s *Server) instructions(override string) string {
	if override != "" {
		return override
	}
	return s.cfg.Instructions
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func (s *Server) ask(ctx context.Context, st *connState, params json.RawMessage) (any, error) {
	var p rpc.AskParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Question) == "" {
		return nil, invalidParams("question is required")
	}

	var opts []conversation.AskOption
	if p.IncludeHistory != nil && !*p.IncludeHistory {
		opts = append(opts, conversation.WithoutHistory())
	}
	if p.AssistantID != nil {
		opts = append(opts, conversation.WithAssistant(*p.AssistantID))
	}

	result, err := st.conv.AskQuestion(ctx, s.instructions(p.Instructions), p.Question, opts...)
	if err != nil {
		return nil, err
	}
	st.last = conversation.Exchange{Question: p.Question, Answer: result.Reply}
	st.followups = nil
	return rpc.AskResult{Reply: result.Reply, Conversation: result.Conversation}, nil
}

func (s *Server) samplePrompts(ctx context.Context, st *connState, params json.RawMessage) (any, error) {
	var p rpc.SamplePromptsParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	prompts, err := st.conv.GenerateSamplePrompts(ctx, p.Context,
		orDefault(p.Count, s.cfg.Samples.Count), orDefault(p.MaxWords, s.cfg.Followups.MaxWords))
	if err != nil {
		return nil, err
	}
	return rpc.PromptsResult{Prompts: prompts}, nil
}

func (s *Server) generateFollowups(ctx context.Context, st *connState, params json.RawMessage) (any, error) {
	var p rpc.FollowupsParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	last := st.last
	if p.Question != "" || p.Answer != "" {
		last = conversation.Exchange{Question: p.Question, Answer: p.Answer}
	}
	if last.Question == "" {
		return nil, invalidParams("no previous exchange, ask a question first")
	}

	followups, err := st.conv.GenerateFollowups(ctx, last.Question, last.Answer,
		orDefault(p.Count, s.cfg.Followups.Count), orDefault(p.MaxWords, s.cfg.Followups.MaxWords))
	if err != nil {
		return nil, err
	}
	st.last = last
	st.followups = followups
	return rpc.PromptsResult{Prompts: followups}, nil
}

func (s *Server) selectFollowup(ctx context.Context, st *connState, params json.RawMessage) (any, error) {
	var p rpc.SelectFollowupParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	_, skip, _ := conversation.ParseSelection(p.Choice, len(st.followups))
	next, err := st.conv.ChooseFollowup(ctx, s.instructions(p.Instructions), st.last, st.followups, p.Choice)
	if err != nil {
		return nil, err
	}
	if !skip {
		st.last = next
		st.followups = nil
	}
	return rpc.SelectFollowupResult{
		Skipped:      skip,
		Question:     next.Question,
		Answer:       next.Answer,
		Conversation: st.conv.History(),
	}, nil
}

func (s *Server) list(ctx context.Context, st *connState, params json.RawMessage) (any, error) {
	var p rpc.ListParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	items, err := st.conv.GenerateList(ctx, p.Description, p.Count, p.MaxWords)
	if err != nil {
		return nil, err
	}
	return rpc.ListResult{Items: items}, nil
}

func (s *Server) history(_ context.Context, st *connState, _ json.RawMessage) (any, error) {
	return rpc.HistoryResult{Conversation: st.conv.History()}, nil
}

func (s *Server) reset(_ context.Context, st *connState, _ json.RawMessage) (any, error) {
	st.conv.Reset()
	st.last = conversation.Exchange{}
	st.followups = nil
	return rpc.OK{OK: true}, nil
}

func (s *Server) settings(_ context.Context, st *connState, _ json.RawMessage) (any, error) {
	return st.conv.Settings(), nil
}

func (s *Server) setModel(_ context.Context, st *connState, params json.RawMessage) (any, error) {
	var p rpc.SetModelParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := st.conv.SetModel(p.Model); err != nil {
		return nil, err
	}
	return st.conv.Settings(), nil
}

func (s *Server) setTemperature(_ context.Context, st *connState, params json.RawMessage) (any, error) {
	var p rpc.SetTemperatureParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := st.conv.SetTemperature(p.Temperature); err != nil {
		return nil, err
	}
	return st.conv.Settings(), nil
}

func (s *Server) setAssistant(_ context.Context, st *connState, params json.RawMessage) (any, error) {
	var p rpc.SetAssistantParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	st.conv.SetAssistant(p.AssistantID)
	return st.conv.Settings(), nil
}

func (s *Server) speak(ctx context.Context, st *connState, params json.RawMessage) (any, error) {
	if s.deps.Speaker == nil {
		return nil, &session.ConfigurationError{Field: "provider", Reason: "text to speech is not supported"}
	}
	var p rpc.SpeakParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	text := p.Text
	if text == "" {
		text = st.last.Answer
	}
	if text == "" {
		return nil, invalidParams("nothing to speak")
	}
	voice := p.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}

	audio, err := s.deps.Speaker.TextToSpeech(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	return rpc.SpeakResult{Audio: audio}, nil
}

func (s *Server) transcribe(ctx context.Context, _ *connState, params json.RawMessage) (any, error) {
	if s.deps.Transcriber == nil {
		return nil, &session.ConfigurationError{Field: "provider", Reason: "speech to text is not supported"}
	}
	var p rpc.TranscribeParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if len(p.Audio) == 0 {
		return nil, invalidParams("audio is required")
	}

	// the provider infers the format from the file extension
	f, err := os.CreateTemp("", "peoplechat-*"+filepath.Ext(filepath.Base(p.Filename)))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(p.Audio); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	text, err := s.deps.Transcriber.SpeechToText(ctx, f.Name())
	if err != nil {
		return nil, err
	}
	return rpc.TranscribeResult{Text: text}, nil
}
