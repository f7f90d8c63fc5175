package catalog

import (
	"context"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/engine"
	"github.com/opensource-health/kestrel/internal/intake"
	"github.com/opensource-health/kestrel/internal/report"
	"github.com/opensource-health/kestrel/internal/rulebase"
)

// Diagnoser runs the full diagnose flow for a request: resolve the rule
// base, build observations, derive probed symptoms, then report.
type Diagnoser struct {
	catalogues *Service
	deriver    *intake.Deriver
	processor  *report.Processor
}

// NewDiagnoser creates a diagnoser. deriver may be nil.
func NewDiagnoser(catalogues *Service, deriver *intake.Deriver, processor *report.Processor) *Diagnoser {
	if processor == nil {
		processor = report.NewProcessor()
	}
	return &Diagnoser{
		catalogues: catalogues,
		deriver:    deriver,
		processor:  processor,
	}
}

// Catalogues returns the underlying catalogue service.
func (d *Diagnoser) Catalogues() *Service {
	return d.catalogues
}

// Diagnose evaluates req against its catalogue.
func (d *Diagnoser) Diagnose(ctx context.Context, req *domain.DiagnoseRequest) (*domain.Diagnosis, error) {
	start := time.Now()

	rb, obs, err := d.observe(ctx, req)
	if err != nil {
		return nil, err
	}

	return d.processor.Process(ctx, &report.Input{
		CatalogueID:  req.CatalogueID,
		RuleBase:     rb,
		Observations: obs,
		TraceID:      req.TraceID,
		RequestID:    req.RequestID,
		StartTime:    start,
	})
}

// Explain partitions the symptoms of req.Condition.
func (d *Diagnoser) Explain(ctx context.Context, req *domain.ExplainRequest) (domain.Explanation, error) {
	rb, obs, err := d.observe(ctx, &req.DiagnoseRequest)
	if err != nil {
		return domain.Explanation{}, err
	}
	return engine.Explain(rb, obs, req.Condition)
}

func (d *Diagnoser) observe(ctx context.Context, req *domain.DiagnoseRequest) (*rulebase.RuleBase, domain.Observations, error) {
	rb, err := d.catalogues.RuleBase(ctx, req.CatalogueID)
	if err != nil {
		return nil, nil, err
	}

	obs, err := intake.BuildObservations(rb, req.Answers)
	if err != nil {
		return nil, nil, err
	}

	if d.deriver != nil && len(req.Measurements) > 0 {
		obs = d.deriver.Apply(rb, obs, intake.Answered(req.Answers), req.Measurements)
	}
	return rb, obs, nil
}
