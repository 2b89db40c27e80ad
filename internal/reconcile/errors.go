package reconcile

import "errors"

var (
	ErrInvalidConfig      = errors.New("reconcile: invalid config")
	ErrNoResources        = errors.New("reconcile: project has no approved resources")
	ErrPlanPeriodNotFound = errors.New("reconcile: plan period not found")
	ErrComponentNotFound  = errors.New("reconcile: component not found")
	ErrProjectNotFound    = errors.New("reconcile: project not found")
	ErrNoOverlap          = errors.New("reconcile: no resource overlaps the stored project")
)
