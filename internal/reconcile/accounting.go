package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/smallbiznis/allocsync/internal/allocation"
	"github.com/smallbiznis/allocsync/internal/reconcile/fanout"
	usagedomain "github.com/smallbiznis/allocsync/internal/usage/domain"
)

// UsageAccountingPipeline bills recorded job usage in two phases: raw events
// become processed records, then the month's records are submitted as one
// usage report per plan period and component.
type UsageAccountingPipeline struct {
	deps Deps
}

func NewUsageAccountingPipeline(d Deps) (*UsageAccountingPipeline, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if d.GenID == nil {
		return nil, fmt.Errorf("%w: id generator is required", ErrInvalidConfig)
	}
	d = d.withDefaults()
	d.Log = d.Log.Named("usage_accounting")
	return &UsageAccountingPipeline{deps: d}, nil
}

func (p *UsageAccountingPipeline) Name() string { return TaskUsageAccounting }

func (p *UsageAccountingPipeline) Run(ctx context.Context) (Report, error) {
	report := newReport(TaskUsageAccounting)
	errA := p.processRaw(ctx, &report)
	errB := p.submit(ctx, &report)
	return report, errors.Join(errA, errB)
}

// processRaw converts every unprocessed raw event. Failed events stay
// unprocessed and are picked up again next cycle.
func (p *UsageAccountingPipeline) processRaw(ctx context.Context, report *Report) error {
	d := p.deps
	cache, err := d.newCache()
	if err != nil {
		return err
	}
	t := d.tuning()

	err = d.Usage.StreamUnprocessed(ctx, t.EventBatchSize, func(batch []usagedomain.RawUsageEvent) error {
		results := fanout.Map(ctx, t.FanOutWidth, batch, func(ctx context.Context, event usagedomain.RawUsageEvent) (bool, error) {
			return p.account(ctx, cache, event)
		})
		for i, event := range batch {
			switch {
			case results[i].Err != nil:
				report.Fail(event.JobID, results[i].Err)
			case results[i].Value:
				report.Processed++
			default:
				report.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream raw usage: %w", err)
	}
	return nil
}

// account bills one raw event. It reports false when the event had already
// been recorded.
func (p *UsageAccountingPipeline) account(ctx context.Context, cache *passCache, event usagedomain.RawUsageEvent) (bool, error) {
	d := p.deps
	resources, err := cache.projectResources(ctx, event.ProjectExternalID)
	if err != nil {
		return false, err
	}
	if len(resources) == 0 {
		return false, fmt.Errorf("project %s: %w", event.ProjectExternalID, ErrNoResources)
	}

	sel, err := selectComponent(ctx, cache, resources, event.Seconds)
	if err != nil {
		return false, err
	}
	unit, err := sel.Component.Unit()
	if err != nil {
		return false, err
	}

	created := event.CreatedAt.UTC()
	month, year := int(created.Month()), created.Year()
	periods, err := cache.planPeriods(ctx, sel.Resource.UUID, month, year)
	if err != nil {
		return false, err
	}
	if len(periods) == 0 {
		return false, fmt.Errorf("resource %s %04d-%02d: %w", sel.Resource.UUID, year, month, ErrPlanPeriodNotFound)
	}
	period := periods[len(periods)-1]

	applied, err := d.Usage.RecordProcessed(ctx, &usagedomain.ProcessedUsageRecord{
		ID:                d.GenID.Generate(),
		JobID:             event.JobID,
		ProjectExternalID: event.ProjectExternalID,
		ResourceID:        sel.Resource.UUID,
		Month:             month,
		Year:              year,
		PlanPeriodID:      period.UUID,
		ComponentType:     sel.Component.Type,
		Amount:            allocation.ComponentAmount(event.Seconds, unit),
		Seconds:           event.Seconds,
		CreatedAt:         d.Clock.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("record processed usage: %w", err)
	}
	return applied, nil
}

// submit reports the current month's totals. Rejected reports are stored for
// manual follow-up and never retried here.
func (p *UsageAccountingPipeline) submit(ctx context.Context, report *Report) error {
	d := p.deps
	now := d.Clock.Now().UTC()
	month, year := int(now.Month()), now.Year()

	aggregates, err := d.Usage.AggregateProcessed(ctx, month, year)
	if err != nil {
		return fmt.Errorf("aggregate processed usage: %w", err)
	}

	reports := make([]allocation.UsageReport, len(aggregates))
	for i, agg := range aggregates {
		reports[i] = usageReport(agg)
	}
	results := fanout.Map(ctx, d.tuning().FanOutWidth, reports, func(ctx context.Context, r allocation.UsageReport) (struct{}, error) {
		return struct{}{}, d.API.SubmitUsage(ctx, r)
	})

	log := d.logger(ctx)
	for i, agg := range aggregates {
		if results[i].Err == nil {
			continue
		}
		submitErr := results[i].Err
		d.Metrics.IncFailedSubmission()
		key := agg.PlanPeriodID + "/" + agg.ComponentType
		report.Fail(key, fmt.Errorf("submit usage: %w", submitErr))

		payload, err := json.Marshal(reports[i])
		if err != nil {
			return err
		}
		failed := &usagedomain.FailedSubmission{
			ID:            d.GenID.Generate(),
			PlanPeriodID:  agg.PlanPeriodID,
			ComponentType: agg.ComponentType,
			Month:         month,
			Year:          year,
			Payload:       datatypes.JSON(payload),
			Reason:        submitErr.Error(),
			CreatedAt:     now,
		}
		if err := d.Usage.InsertFailedSubmission(ctx, failed); err != nil {
			log.Error("failed to persist rejected usage report",
				zap.String("plan_period_id", agg.PlanPeriodID),
				zap.String("component_type", agg.ComponentType),
				zap.Error(err),
			)
		}
	}
	return nil
}

func usageReport(agg usagedomain.UsageAggregate) allocation.UsageReport {
	return allocation.UsageReport{
		PlanPeriod: agg.PlanPeriodID,
		Usages: []allocation.ComponentUsage{{
			Type:        agg.ComponentType,
			Amount:      agg.Amount,
			Description: fmt.Sprintf("%d jobs, %.2f seconds", agg.Records, agg.Seconds),
		}},
	}
}
