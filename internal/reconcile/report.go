package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

const (
	TaskProjectSync      = "project_sync"
	TaskUserSync         = "user_sync"
	TaskAllocationResync = "allocation_resync"
	TaskUsageAccounting  = "usage_accounting"
)

// Task is one step of a sync cycle.
type Task interface {
	Name() string
	Run(ctx context.Context) (Report, error)
}

// Report summarizes one task run. Errors is keyed by the item that failed
// (order, resource, project or job id).
type Report struct {
	Task      string
	Processed int
	Skipped   int
	Failed    int
	Errors    map[string]error
}

func newReport(task string) Report {
	return Report{Task: task}
}

func (r *Report) Fail(key string, err error) {
	if err == nil {
		return
	}
	r.Failed++
	if r.Errors == nil {
		r.Errors = make(map[string]error)
	}
	if prev, ok := r.Errors[key]; ok {
		err = errors.Join(prev, err)
	}
	r.Errors[key] = err
}

// Err joins the per-item errors in key order, or returns nil.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.Errors))
	for key := range r.Errors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	errs := make([]error, 0, len(keys))
	for _, key := range keys {
		errs = append(errs, fmt.Errorf("%s: %w", key, r.Errors[key]))
	}
	return errors.Join(errs...)
}
