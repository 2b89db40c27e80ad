package reconcile

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/clock"
	"github.com/smallbiznis/allocsync/internal/config"
	"github.com/smallbiznis/allocsync/internal/observability/logger"
	"github.com/smallbiznis/allocsync/internal/observability/metrics"
	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
	usagedomain "github.com/smallbiznis/allocsync/internal/usage/domain"
)

// Deps are the collaborators shared by every sync task.
type Deps struct {
	API        AllocationAPI
	Projects   projectdomain.Repository
	Usage      usagedomain.Repository
	GenID      *snowflake.Node
	Clock      clock.Clock
	Tuning     *config.TuningHolder
	ProviderID string
	Log        *zap.Logger
	Metrics    *metrics.SyncMetrics
}

func (d Deps) validate() error {
	switch {
	case d.API == nil:
		return fmt.Errorf("%w: allocation api is required", ErrInvalidConfig)
	case d.Projects == nil:
		return fmt.Errorf("%w: project repository is required", ErrInvalidConfig)
	case d.Usage == nil:
		return fmt.Errorf("%w: usage repository is required", ErrInvalidConfig)
	case d.ProviderID == "":
		return fmt.Errorf("%w: provider id is required", ErrInvalidConfig)
	}
	return nil
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.SystemClock{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return d
}

func (d Deps) tuning() config.Tuning {
	return d.Tuning.Get()
}

func (d Deps) newCache() (*passCache, error) {
	t := d.tuning()
	return newPassCache(d.API, d.ProviderID, t.ResourceCacheSize, t.ComponentCacheSize)
}

func (d Deps) logger(ctx context.Context) *zap.Logger {
	return logger.WithContext(ctx, d.Log)
}
