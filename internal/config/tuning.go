package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Tuning holds the knobs operators may change without a restart.
type Tuning struct {
	FanOutWidth        int           `mapstructure:"fanOutWidth"`
	ResourceCacheSize  int           `mapstructure:"resourceCacheSize"`
	ComponentCacheSize int           `mapstructure:"componentCacheSize"`
	EventBatchSize     int           `mapstructure:"eventBatchSize"`
	JobTimeout         time.Duration `mapstructure:"jobTimeout"`
	AccountingTimeout  time.Duration `mapstructure:"accountingTimeout"`
}

func DefaultTuning() Tuning {
	return Tuning{
		FanOutWidth:        8,
		ResourceCacheSize:  256,
		ComponentCacheSize: 512,
		EventBatchSize:     200,
		JobTimeout:         5 * time.Minute,
		AccountingTimeout:  15 * time.Minute,
	}
}

type TuningHolder struct {
	current atomic.Value // holds Tuning
}

// NewStaticTuningHolder returns a holder that never reloads.
func NewStaticTuningHolder(t Tuning) *TuningHolder {
	holder := &TuningHolder{}
	holder.current.Store(t)
	return holder
}

// NewTuningHolder reads allocsync.yml and watches it for changes. A missing
// file falls back to DefaultTuning.
func NewTuningHolder(log *zap.Logger) (*TuningHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("tuning")

	v := viper.New()
	v.SetConfigName("allocsync")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/allocsync")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ALLOCSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTuning()
	v.SetDefault("sync.fanOutWidth", defaults.FanOutWidth)
	v.SetDefault("sync.resourceCacheSize", defaults.ResourceCacheSize)
	v.SetDefault("sync.componentCacheSize", defaults.ComponentCacheSize)
	v.SetDefault("sync.eventBatchSize", defaults.EventBatchSize)
	v.SetDefault("sync.jobTimeout", defaults.JobTimeout)
	v.SetDefault("sync.accountingTimeout", defaults.AccountingTimeout)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var cfg Tuning
	if err := v.UnmarshalKey("sync", &cfg); err != nil {
		return nil, err
	}
	if err := validateTuning(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticTuningHolder(cfg)
	if !fileFound {
		log.Info("tuning file not found, using defaults")
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Tuning
		if err := v.UnmarshalKey("sync", &updated); err != nil {
			log.Warn("tuning reload failed", zap.Error(err))
			return
		}
		if err := validateTuning(updated); err != nil {
			log.Warn("invalid tuning ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("tuning reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *TuningHolder) Get() Tuning {
	if h == nil {
		return DefaultTuning()
	}
	return h.current.Load().(Tuning)
}

func validateTuning(cfg Tuning) error {
	if cfg.FanOutWidth <= 0 {
		return errors.New("sync.fanOutWidth must be positive")
	}
	if cfg.ResourceCacheSize <= 0 || cfg.ComponentCacheSize <= 0 {
		return errors.New("sync cache sizes must be positive")
	}
	if cfg.EventBatchSize <= 0 {
		return errors.New("sync.eventBatchSize must be positive")
	}
	if cfg.JobTimeout <= 0 || cfg.AccountingTimeout <= 0 {
		return errors.New("sync job timeouts must be positive")
	}
	return nil
}
