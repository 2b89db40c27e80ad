package reconcile

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/allocation"
	"github.com/smallbiznis/allocsync/internal/clock"
	"github.com/smallbiznis/allocsync/internal/config"
	"github.com/smallbiznis/allocsync/internal/observability/metrics"
	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
	usagedomain "github.com/smallbiznis/allocsync/internal/usage/domain"
)

var Module = fx.Module("reconcile",
	fx.Provide(
		func(c *allocation.Client) AllocationAPI { return c },
		NewDeps,
		NewProjectReconciler,
		NewUserListReconciler,
		NewAllocationReconciler,
		NewUsageAccountingPipeline,
	),
)

type Params struct {
	fx.In

	API      AllocationAPI
	Projects projectdomain.Repository
	Usage    usagedomain.Repository
	GenID    *snowflake.Node
	Clock    clock.Clock
	Tuning   *config.TuningHolder
	Config   config.Config
	Log      *zap.Logger
	Metrics  *metrics.SyncMetrics `optional:"true"`
}

func NewDeps(p Params) Deps {
	return Deps{
		API:        p.API,
		Projects:   p.Projects,
		Usage:      p.Usage,
		GenID:      p.GenID,
		Clock:      p.Clock,
		Tuning:     p.Tuning,
		ProviderID: p.Config.Sync.ProviderID,
		Log:        p.Log,
		Metrics:    p.Metrics,
	}
}
