// Package store selects the persistence backend for projects and usage
// records from configuration.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/allocsync/internal/config"
	"github.com/smallbiznis/allocsync/internal/migration"
	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
	projectrepo "github.com/smallbiznis/allocsync/internal/project/repository"
	"github.com/smallbiznis/allocsync/internal/store/mongo"
	usagedomain "github.com/smallbiznis/allocsync/internal/usage/domain"
	usagerepo "github.com/smallbiznis/allocsync/internal/usage/repository"
	"github.com/smallbiznis/allocsync/pkg/db"
)

const connectTimeout = 15 * time.Second

var Module = fx.Module("store",
	fx.Provide(
		NewSnowflake,
		NewBackend,
	),
)

// Pinger reports whether the backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Backend struct {
	fx.Out

	Projects projectdomain.Repository
	Usage    usagedomain.Repository
	Health   Pinger
}

func NewSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}

// NewBackend opens the configured backend, brings its schema up to date and
// registers shutdown with the lifecycle.
func NewBackend(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Backend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if cfg.IsMongo() {
		return openMongo(ctx, lc, cfg, log)
	}
	return openRelational(lc, cfg, log)
}

func openMongo(ctx context.Context, lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Backend, error) {
	s, err := mongo.Connect(ctx, cfg.DBURL, cfg.DBName, log)
	if err != nil {
		return Backend{}, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close(context.Background())
		return Backend{}, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return s.Close(ctx)
		},
	})
	log.Info("store ready", zap.String("db_type", cfg.DBType), zap.String("database", cfg.DBName))
	return Backend{Projects: s, Usage: s, Health: s}, nil
}

func openRelational(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Backend, error) {
	conn, err := db.Open(db.FromAppConfig(cfg), log)
	if err != nil {
		return Backend{}, err
	}
	if err := migration.Apply(conn, cfg.DBType); err != nil {
		return Backend{}, fmt.Errorf("migrate: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	log.Info("store ready", zap.String("db_type", cfg.DBType), zap.String("database", cfg.DBName))
	return Backend{
		Projects: projectrepo.Provide(conn),
		Usage:    usagerepo.Provide(conn),
		Health:   gormPinger{conn: conn},
	}, nil
}

type gormPinger struct {
	conn *gorm.DB
}

func (p gormPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
