package allocation

import (
	"github.com/smallbiznis/allocsync/internal/config"
	"github.com/smallbiznis/allocsync/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("allocation",
	fx.Provide(NewFromConfig),
)

// NewFromConfig builds the shared client used by every sync task.
func NewFromConfig(cfg config.Config, log *zap.Logger, m *metrics.SyncMetrics) (*Client, error) {
	return NewClient(Config{
		BaseURL:  cfg.Allocation.BaseURL,
		Token:    cfg.Allocation.Token,
		Timeout:  cfg.Allocation.Timeout,
		PageSize: cfg.Allocation.PageSize,
	}, nil, log, m)
}
