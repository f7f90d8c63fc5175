// Package report turns an evaluation into a complete diagnosis.
// It runs the engine, classifies the top condition and explains it.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/engine"
	"github.com/opensource-health/kestrel/internal/rulebase"
)

var tracer = otel.Tracer("kestrel-report")

// Processor packages engine output into a Diagnosis.
type Processor struct {
	// Thresholds for the classification of the top condition
	Thresholds engine.Thresholds
}

// NewProcessor creates a processor with the default thresholds.
func NewProcessor() *Processor {
	return &Processor{
		Thresholds: engine.DefaultThresholds(),
	}
}

// Input contains all data needed for a diagnosis.
type Input struct {
	CatalogueID  string
	RuleBase     *rulebase.RuleBase
	Observations domain.Observations
	TraceID      string
	RequestID    string
	StartTime    time.Time
}

// Process evaluates the observations and produces a diagnosis.
// Rule base and observation errors are returned unchanged.
func (p *Processor) Process(ctx context.Context, input *Input) (*domain.Diagnosis, error) {
	if input == nil || input.RuleBase == nil {
		return nil, errors.New("report: rule base is required")
	}

	_, span := tracer.Start(ctx, "report.Process",
		trace.WithAttributes(
			attribute.String("catalogue.id", input.CatalogueID),
			attribute.Int("conditions", input.RuleBase.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	received := input.StartTime
	if received.IsZero() {
		received = start
	}

	ranked, err := engine.Evaluate(input.RuleBase, input.Observations)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// A valid rule base is never empty.
	top, _ := ranked.Top()
	class := engine.Classify(top.Confidence, p.Thresholds)

	expl, err := engine.Explain(input.RuleBase, input.Observations, top.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	diag := &domain.Diagnosis{
		ID:             uuid.New().String(),
		CatalogueID:    input.CatalogueID,
		Ranked:         ranked,
		Top:            top,
		Classification: class,
		Explanation:    expl,
		Timestamp:      time.Now().UTC(),
		Metadata: domain.DiagnosisMetadata{
			TraceID:             input.TraceID,
			RequestID:           input.RequestID,
			EvaluateMs:          time.Since(start).Milliseconds(),
			TotalMs:             time.Since(received).Milliseconds(),
			ConditionsEvaluated: ranked.Len(),
			SymptomsPresent:     domain.NewObservations(input.Observations).PresentCount(),
			EngineVersion:       "kestrel-" + engine.Version,
		},
	}

	span.SetAttributes(
		attribute.String("diagnosis.id", diag.ID),
		attribute.String("diagnosis.top", top.Name),
		attribute.String("diagnosis.classification", string(class)),
	)
	return diag, nil
}

// IsConfident returns true if the diagnosis reached the HIGH band.
func IsConfident(diag *domain.Diagnosis) bool {
	return diag.Classification == domain.ClassificationHigh
}

// Differential returns the names of conditions whose confidence is within
// margin percentage points of the top condition, the top included.
func Differential(diag *domain.Diagnosis, margin float64) []string {
	var names []string
	for _, s := range diag.Ranked.All() {
		if diag.Top.Confidence-s.Confidence <= margin {
			names = append(names, s.Name)
		}
	}
	return names
}
