package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"PeopleChat/internal/session"
)

type instrumented struct {
	next     Adapter
	provider string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	requests metric.Int64Counter
}

// Instrument wraps next with a span per call plus request duration and count metrics
func Instrument(next Adapter, provider string, tracer trace.Tracer, meter metric.Meter) (Adapter, error) {
	duration, err := meter.Float64Histogram(
		"llm.request.duration",
		metric.WithDescription("LLM request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	requests, err := meter.Int64Counter(
		"llm.requests",
		metric.WithDescription("LLM requests by kind and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	return &instrumented{
		next:     next,
		provider: provider,
		tracer:   tracer,
		duration: duration,
		requests: requests,
	}, nil
}

func (a *instrumented) CompleteChat(ctx context.Context, instructions string, prior []session.Message, newUserText string, settings session.Settings) (string, error) {
	ctx, span := a.tracer.Start(ctx, "chat_completion", trace.WithAttributes(
		attribute.String("llm.provider", a.provider),
		attribute.String("llm.model", settings.Model),
		attribute.Float64("llm.temperature", settings.Temperature),
		attribute.Int("llm.history_length", len(prior)),
	))
	defer span.End()

	start := time.Now()
	reply, err := a.next.CompleteChat(ctx, instructions, prior, newUserText, settings)
	a.record(ctx, span, "chat", start, err)
	return reply, err
}

func (a *instrumented) CompleteAssistantThread(ctx context.Context, instructions, newUserText, assistantID string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "assistant_thread", trace.WithAttributes(
		attribute.String("llm.provider", a.provider),
		attribute.String("llm.assistant_id", assistantID),
	))
	defer span.End()

	start := time.Now()
	reply, err := a.next.CompleteAssistantThread(ctx, instructions, newUserText, assistantID)
	a.record(ctx, span, "assistant", start, err)
	return reply, err
}

func (a *instrumented) record(ctx context.Context, span trace.Span, kind string, start time.Time, err error) {
	result := outcome(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("llm.outcome", result))

	attrs := metric.WithAttributes(
		attribute.String("provider", a.provider),
		attribute.String("kind", kind),
		attribute.String("outcome", result),
	)
	a.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	a.requests.Add(ctx, 1, attrs)
}

func outcome(err error) string {
	var timeout *TimeoutError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
