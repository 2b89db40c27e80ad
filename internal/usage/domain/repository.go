package domain

import "context"

type Repository interface {
	InsertRawEvent(ctx context.Context, event *RawUsageEvent) error
	// StreamUnprocessed calls fn with successive batches of unprocessed events
	// in insertion order until the table is exhausted or fn returns an error.
	StreamUnprocessed(ctx context.Context, batchSize int, fn func([]RawUsageEvent) error) error
	// RecordProcessed inserts rec, marks its raw event processed and debits
	// the project's net seconds in one atomic step. applied is false when a
	// record for the job already existed; the raw event is still marked.
	RecordProcessed(ctx context.Context, rec *ProcessedUsageRecord) (applied bool, err error)
	AggregateProcessed(ctx context.Context, month, year int) ([]UsageAggregate, error)
	InsertFailedSubmission(ctx context.Context, failed *FailedSubmission) error
}
