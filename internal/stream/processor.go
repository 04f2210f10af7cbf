// Package stream implements the reliable stream processor (C7): a
// consumer-group read loop with pending reclaim, envelope/payload
// validation, attempt accounting, idempotence, dead-lettering, and ack
// discipline. Grounded on the read/XReadGroup/XAutoClaim/ack shape of
// brokle-ai-brokle's TelemetryStreamConsumer, adapted to this module's
// envelope contract and the stricter ack-timing table this module follows.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/auditflow/internal/dedup"
	"github.com/fairyhunter13/auditflow/internal/dlq"
	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
	"github.com/fairyhunter13/auditflow/internal/observability"
	"github.com/fairyhunter13/auditflow/internal/schema"
)

var tracer = otel.Tracer("auditflow/stream")

// Outcome tags how one message tick was resolved, for logging and metrics.
type Outcome string

// Recognized outcomes.
const (
	OutcomeHandled    Outcome = "handled"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeDLQ        Outcome = "dlq"
	OutcomePending    Outcome = "pending"
	OutcomeIgnored    Outcome = "ignored"
)

// Handler processes one validated EventEnvelope. A returned error is
// treated as a business failure subject to the retry/DLQ rules in Tick;
// handlers must not themselves decide whether to ack.
type Handler func(ctx context.Context, envelope domain.EventEnvelope, raw map[string]string) error

// Processor runs the per-tick read/validate/dispatch/ack algorithm for one
// (stream, consumer group, consumer) triple.
type Processor struct {
	Backend       kv.Backend
	Schemas       *schema.Registry
	DLQ           *dlq.Writer
	Dedup         *dedup.Dedup
	Logger        *slog.Logger
	Stream        string
	Group         string
	Consumer      string
	ReadCount     int64
	BlockFor      time.Duration
	IdleReclaim   time.Duration
	ReclaimCount  int64
	MaxAttempts   int64
	DedupeTTL     time.Duration
	Handle        Handler
}

// EnsureGroup creates the consumer group (MKSTREAM semantics, idempotent).
func (p *Processor) EnsureGroup(ctx context.Context) error {
	return p.Backend.XGroupCreate(ctx, p.Stream, p.Group)
}

// Run loops Tick until ctx is cancelled, logging and continuing on
// transient errors per spec §4.7 step 1.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := p.Tick(ctx); err != nil {
			p.Logger.Warn("stream tick failed", slog.String("stream", p.Stream), slog.Any("error", err))
		}
	}
}

// Tick executes one read (with reclaim fallback) and processes every
// returned message to completion.
func (p *Processor) Tick(ctx context.Context) error {
	messages, err := p.Backend.XReadGroup(ctx, p.Stream, p.Group, p.Consumer, p.ReadCount, p.BlockFor)
	if err != nil {
		return fmt.Errorf("op=Processor.Tick: read: %w", err)
	}
	if len(messages) == 0 {
		claimed, _, err := p.Backend.XAutoClaim(ctx, p.Stream, p.Group, p.Consumer, p.IdleReclaim, "0-0", p.ReclaimCount)
		if err != nil {
			p.Logger.Warn("reclaim failed", slog.String("stream", p.Stream), slog.Any("error", err))
			return nil
		}
		messages = claimed
	}
	for _, msg := range messages {
		p.processOne(ctx, msg)
	}
	return nil
}

func (p *Processor) processOne(ctx context.Context, msg kv.StreamMessage) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "stream.process_message",
		trace.WithAttributes(
			attribute.String("stream", p.Stream),
			attribute.String("group", p.Group),
			attribute.String("message_id", msg.ID),
		))
	defer span.End()

	outcome := p.handleMessage(ctx, msg)
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if outcome == OutcomePending {
		span.SetStatus(codes.Error, "left pending")
	}
	observability.RecordStreamOutcome(p.Stream, p.Group, string(outcome), time.Since(start))
}

func (p *Processor) handleMessage(ctx context.Context, msg kv.StreamMessage) Outcome {
	raw, ok := msg.Values["event"]
	if !ok || raw == "" {
		p.deadLetter(ctx, "missing event field", msg, "", nil)
		p.ack(ctx, msg.ID)
		return OutcomeDLQ
	}

	var envelope domain.EventEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		p.deadLetter(ctx, fmt.Sprintf("invalid json: %v", err), msg, "", nil)
		p.ack(ctx, msg.ID)
		return OutcomeDLQ
	}

	envResult := p.Schemas.ValidateEnvelope([]byte(raw))
	if !envResult.OK {
		p.deadLetter(ctx, envResult.Reason, msg, envResult.SchemaID, nil)
		p.ack(ctx, msg.ID)
		return OutcomeDLQ
	}

	payloadJSON, err := json.Marshal(envelope.Payload)
	if err != nil {
		p.deadLetter(ctx, fmt.Sprintf("payload re-encode failed: %v", err), msg, "", nil)
		p.ack(ctx, msg.ID)
		return OutcomeDLQ
	}
	payloadResult := p.Schemas.ValidatePayload(envelope.EventType, payloadJSON)
	if !payloadResult.OK {
		p.deadLetter(ctx, payloadResult.Reason, msg, payloadResult.SchemaID, nil)
		p.ack(ctx, msg.ID)
		return OutcomeDLQ
	}

	meta, err := p.accountAttempt(ctx, msg.ID)
	if err != nil {
		p.Logger.Warn("attempt accounting failed", slog.String("message_id", msg.ID), slog.Any("error", err))
	}

	processedKey := dedup.ProcessedKey(p.Group, envelope.EventID)
	isNew, err := p.Dedup.MarkIfNew(ctx, processedKey, p.DedupeTTL)
	if err != nil {
		p.Logger.Warn("idempotence check failed", slog.String("event_id", envelope.EventID), slog.Any("error", err))
	}
	if err == nil && !isNew {
		p.ack(ctx, msg.ID)
		return OutcomeDuplicate
	}

	handlerErr := p.safeInvoke(ctx, envelope, msg.Values)
	if handlerErr == nil {
		p.ack(ctx, msg.ID)
		return OutcomeHandled
	}

	// The idempotence mark only stands for a successful run: drop it so a
	// reclaimed delivery invokes the handler again.
	if isNew {
		if err := p.Backend.Del(ctx, processedKey); err != nil {
			p.Logger.Warn("failed to clear idempotence mark", slog.String("event_id", envelope.EventID), slog.Any("error", err))
		}
	}

	if meta.Attempts >= p.MaxAttempts {
		p.deadLetter(ctx, handlerErr.Error(), msg, "", &meta)
		p.ack(ctx, msg.ID)
		return OutcomeDLQ
	}

	p.Logger.Warn("handler failed, leaving pending for reclaim",
		slog.String("event_id", envelope.EventID),
		slog.String("event_type", envelope.EventType),
		slog.Int64("attempts", meta.Attempts),
		slog.Any("error", handlerErr))
	return OutcomePending
}

// safeInvoke recovers a panicking handler into an error so a single
// misbehaving handler cannot crash the read loop.
func (p *Processor) safeInvoke(ctx context.Context, envelope domain.EventEnvelope, raw map[string]string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.Handle(ctx, envelope, raw)
}

func (p *Processor) accountAttempt(ctx context.Context, messageID string) (domain.AttemptMeta, error) {
	key := fmt.Sprintf("attempts:%s:%s", p.Group, messageID)
	now := time.Now().UTC().Format(time.RFC3339)
	attempts, err := p.Backend.HIncrBy(ctx, key, "attempts", 1)
	if err != nil {
		return domain.AttemptMeta{}, err
	}
	fields := map[string]string{"last_seen_at": now}
	if attempts == 1 {
		fields["first_seen_at"] = now
	}
	if err := p.Backend.HSet(ctx, key, fields); err != nil {
		return domain.AttemptMeta{}, err
	}
	if err := p.Backend.Expire(ctx, key, p.DedupeTTL); err != nil {
		return domain.AttemptMeta{}, err
	}
	data, err := p.Backend.HGetAll(ctx, key)
	if err != nil {
		return domain.AttemptMeta{}, err
	}
	return domain.AttemptMeta{
		Attempts:    attempts,
		FirstSeenAt: data["first_seen_at"],
		LastSeenAt:  data["last_seen_at"],
	}, nil
}

func (p *Processor) deadLetter(ctx context.Context, reason string, msg kv.StreamMessage, schemaID string, meta *domain.AttemptMeta) {
	fields := map[string]any{"event": msg.Values["event"], "message_id": msg.ID}
	opts := dlq.Options{SchemaID: schemaID, ConsumerGroup: p.Group}
	if meta != nil {
		opts.Attempts = meta.Attempts
		opts.FirstSeenAt = meta.FirstSeenAt
		opts.LastSeenAt = meta.LastSeenAt
		opts.Err = errors.New(reason)
	}
	if _, err := p.DLQ.Publish(ctx, reason, fields, opts); err != nil {
		p.Logger.Error("failed to write DLQ document", slog.String("message_id", msg.ID), slog.Any("error", err))
		return
	}
	observability.RecordDLQWrite(p.Stream, reason)
}

func (p *Processor) ack(ctx context.Context, id string) {
	if err := p.Backend.XAck(ctx, p.Stream, p.Group, id); err != nil {
		p.Logger.Warn("ack failed", slog.String("message_id", id), slog.Any("error", err))
	}
}

// Publish marshals envelope as given and appends it to streamName under the
// "event" field, trimming the stream to roughly maxLenApprox entries.
func Publish(ctx context.Context, backend kv.Backend, streamName string, envelope domain.EventEnvelope, maxLenApprox int64) (string, error) {
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("op=stream.Publish: encode: %w", err)
	}
	return backend.XAdd(ctx, streamName, map[string]string{"event": string(encoded)}, maxLenApprox)
}
