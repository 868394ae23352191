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

// SettlementConfig holds the tunables of the settlement engine. It is loaded
// from settlement.yml and reloaded when the file changes.
type SettlementConfig struct {
	LeaseTTL time.Duration `mapstructure:"leaseTTL"`
	Sweep    SweepConfig   `mapstructure:"sweep"`
	Gateway  GatewayPolicy `mapstructure:"gateway"`
}

type SweepConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batchSize"`
	MinAge      time.Duration `mapstructure:"minAge"`
	Concurrency int           `mapstructure:"concurrency"`
	LockTTL     time.Duration `mapstructure:"lockTTL"`
}

// GatewayPolicy bounds every outbound gateway call.
type GatewayPolicy struct {
	CallTimeout     time.Duration `mapstructure:"callTimeout"`
	InitialInterval time.Duration `mapstructure:"initialInterval"`
	MaxInterval     time.Duration `mapstructure:"maxInterval"`
	MaxTries        uint          `mapstructure:"maxTries"`
}

func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		LeaseTTL: 2 * time.Minute,
		Sweep: SweepConfig{
			Enabled:     true,
			Interval:    time.Minute,
			BatchSize:   50,
			MinAge:      2 * time.Minute,
			Concurrency: 4,
			LockTTL:     55 * time.Second,
		},
		Gateway: GatewayPolicy{
			CallTimeout:     10 * time.Second,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			MaxTries:        3,
		},
	}
}

type SettlementConfigHolder struct {
	current atomic.Value // holds SettlementConfig
}

// NewStaticSettlementConfigHolder returns a holder that never reloads.
func NewStaticSettlementConfigHolder(cfg SettlementConfig) *SettlementConfigHolder {
	holder := &SettlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewSettlementConfigHolder(log *zap.Logger) (*SettlementConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.settlement")

	v := viper.New()

	v.SetConfigName("settlement")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/gigpay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GIGPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setSettlementDefaults(v, DefaultSettlementConfig())

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg SettlementConfig
	if err := v.UnmarshalKey("settlement", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateSettlementConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticSettlementConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SettlementConfig
		if err := v.UnmarshalKey("settlement", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := ValidateSettlementConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *SettlementConfigHolder) Get() SettlementConfig {
	if h == nil {
		return DefaultSettlementConfig()
	}
	cfg, ok := h.current.Load().(SettlementConfig)
	if !ok {
		return DefaultSettlementConfig()
	}
	return cfg
}

func setSettlementDefaults(v *viper.Viper, d SettlementConfig) {
	v.SetDefault("settlement.leaseTTL", d.LeaseTTL)
	v.SetDefault("settlement.sweep.enabled", d.Sweep.Enabled)
	v.SetDefault("settlement.sweep.interval", d.Sweep.Interval)
	v.SetDefault("settlement.sweep.batchSize", d.Sweep.BatchSize)
	v.SetDefault("settlement.sweep.minAge", d.Sweep.MinAge)
	v.SetDefault("settlement.sweep.concurrency", d.Sweep.Concurrency)
	v.SetDefault("settlement.sweep.lockTTL", d.Sweep.LockTTL)
	v.SetDefault("settlement.gateway.callTimeout", d.Gateway.CallTimeout)
	v.SetDefault("settlement.gateway.initialInterval", d.Gateway.InitialInterval)
	v.SetDefault("settlement.gateway.maxInterval", d.Gateway.MaxInterval)
	v.SetDefault("settlement.gateway.maxTries", d.Gateway.MaxTries)
}

func ValidateSettlementConfig(cfg SettlementConfig) error {
	if cfg.LeaseTTL <= 0 {
		return errors.New("settlement.leaseTTL must be positive")
	}
	if cfg.Sweep.Interval <= 0 {
		return errors.New("settlement.sweep.interval must be positive")
	}
	if cfg.Sweep.BatchSize <= 0 {
		return errors.New("settlement.sweep.batchSize must be positive")
	}
	if cfg.Sweep.Concurrency <= 0 {
		return errors.New("settlement.sweep.concurrency must be positive")
	}
	if cfg.Sweep.MinAge < 0 {
		return errors.New("settlement.sweep.minAge cannot be negative")
	}
	if cfg.Gateway.CallTimeout <= 0 {
		return errors.New("settlement.gateway.callTimeout must be positive")
	}
	if cfg.Gateway.MaxTries == 0 {
		return errors.New("settlement.gateway.maxTries must be at least 1")
	}
	// A lease shorter than one gateway call would let a second worker resume mid-call.
	if cfg.LeaseTTL < cfg.Gateway.CallTimeout {
		return errors.New("settlement.leaseTTL must be at least settlement.gateway.callTimeout")
	}
	return nil
}
