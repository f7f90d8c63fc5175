// Package worker serves diagnose requests arriving on the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-health/kestrel/internal/catalog"
	"github.com/opensource-health/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-worker")

// Worker answers diagnose requests from the EventBus.
type Worker struct {
	bus       domain.EventBus
	diagnoser *catalog.Diagnoser

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Scopes lists catalogue IDs served on their own subject. The global
	// scope is always served; its requests name the catalogue in the payload.
	Scopes []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, diagnoser *catalog.Diagnoser) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		diagnoser: diagnoser,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to diagnose requests.
func (w *Worker) Start(cfg Config) error {
	if err := w.subscribe(domain.ScopeGlobal); err != nil {
		return err
	}

	for _, scope := range cfg.Scopes {
		if scope == domain.ScopeGlobal {
			continue
		}
		if err := w.subscribe(scope); err != nil {
			slog.Error("failed to start worker for catalogue",
				"catalogue_id", scope,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"scope_count", len(cfg.Scopes)+1,
		"topic", domain.TopicDiagnosisRequest,
	)
	return nil
}

func (w *Worker) subscribe(scope string) error {
	sub, err := w.bus.Subscribe(w.ctx, scope, domain.TopicDiagnosisRequest, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Debug("worker subscribed",
		"scope", scope,
		"topic", domain.TopicDiagnosisRequest,
	)
	return nil
}

// handleMessage diagnoses one request and replies when the sender waits.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "worker.diagnose")
	defer span.End()

	var req domain.DiagnoseRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse diagnose request",
			"message_id", msg.ID,
			"error", err,
		)
		span.SetStatus(codes.Error, "invalid payload")
		return w.reply(ctx, msg, &domain.DiagnoseReply{Error: fmt.Sprintf("invalid request: %v", err)})
	}

	if req.CatalogueID == "" && msg.Scope != domain.ScopeGlobal {
		req.CatalogueID = msg.Scope
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	span.SetAttributes(
		attribute.String("catalogue_id", req.CatalogueID),
		attribute.String("trace_id", req.TraceID),
		attribute.String("request_id", req.RequestID),
	)

	diag, err := w.diagnoser.Diagnose(ctx, &req)
	if err != nil {
		w.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		out := &domain.DiagnoseReply{Error: err.Error()}
		var ioe *domain.InvalidObservationError
		if errors.As(err, &ioe) {
			out.Unknown = ioe.Symptoms
		}

		slog.Warn("diagnose request rejected",
			"catalogue_id", req.CatalogueID,
			"trace_id", req.TraceID,
			"error", err,
		)
		return w.reply(ctx, msg, out)
	}

	w.processed.Add(1)

	payload, _ := json.Marshal(diag)
	if err := w.bus.Publish(ctx, msg.Scope, domain.TopicDiagnosisCompleted, payload); err != nil {
		slog.Error("failed to publish diagnosis",
			"diagnosis_id", diag.ID,
			"error", err,
		)
	}

	slog.Info("diagnosis processed",
		"diagnosis_id", diag.ID,
		"request_id", req.RequestID,
		"catalogue_id", diag.CatalogueID,
		"top", diag.Top.Name,
		"confidence", diag.Top.Confidence,
		"classification", diag.Classification,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return w.reply(ctx, msg, &domain.DiagnoseReply{Diagnosis: diag})
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, out *domain.DiagnoseReply) error {
	if msg.Metadata[domain.MetadataReplyTo] == "" {
		return nil
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if err := w.bus.Reply(ctx, msg, payload); err != nil {
		slog.Error("failed to reply",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
