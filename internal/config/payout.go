package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PayoutConfig tunes the weekly settlement run. The 7-day discovery window and the
// 12% service fee are not configurable.
type PayoutConfig struct {
	Schedule        string        `mapstructure:"schedule"`
	Timezone        string        `mapstructure:"timezone"`
	Currency        string        `mapstructure:"currency"`
	Concurrency     int           `mapstructure:"concurrency"`
	TransferTimeout time.Duration `mapstructure:"transferTimeout"`
	RunTimeout      time.Duration `mapstructure:"runTimeout"`
	MaxAttempts     int           `mapstructure:"maxAttempts"`
	LockTTL         time.Duration `mapstructure:"lockTTL"`
	LockKey         string        `mapstructure:"lockKey"`
	Gateway         GatewayConfig `mapstructure:"gateway"`
}

type GatewayConfig struct {
	Provider      string        `mapstructure:"provider"`
	BaseURL       string        `mapstructure:"baseURL"`
	APIToken      string        `mapstructure:"apiToken"`
	MasterAccount string        `mapstructure:"masterAccount"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func DefaultPayoutConfig() PayoutConfig {
	return PayoutConfig{
		Schedule:        "0 9 * * 1",
		Timezone:        "Africa/Johannesburg",
		Currency:        "ZAR",
		Concurrency:     4,
		TransferTimeout: 30 * time.Second,
		RunTimeout:      30 * time.Minute,
		MaxAttempts:     5,
		LockTTL:         time.Hour,
		Gateway: GatewayConfig{
			Provider:      "sandbox",
			MasterAccount: "rubhub-master",
			Timeout:       15 * time.Second,
		},
	}
}

type PayoutConfigHolder struct {
	current atomic.Value // holds PayoutConfig
}

// NewPayoutConfigHolder reads payout.yml and keeps it hot-reloaded. A missing file
// falls back to DefaultPayoutConfig.
func NewPayoutConfigHolder(cfg Config) (*PayoutConfigHolder, error) {
	v := newPayoutViper(cfg.PayoutConfigPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	payoutCfg, err := decodePayoutConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPayoutConfigHolder(payoutCfg)

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodePayoutConfig(v)
			if err != nil {
				zap.L().Warn("payout.config.reload_rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			zap.L().Info("payout.config.reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

// NewStaticPayoutConfigHolder wraps a fixed config, mostly for tests.
func NewStaticPayoutConfigHolder(cfg PayoutConfig) *PayoutConfigHolder {
	holder := &PayoutConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PayoutConfigHolder) Get() PayoutConfig {
	return h.current.Load().(PayoutConfig)
}

func newPayoutViper(path string) *viper.Viper {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("payout")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/rubhub")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RUBHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPayoutConfig()
	v.SetDefault("payout.schedule", defaults.Schedule)
	v.SetDefault("payout.timezone", defaults.Timezone)
	v.SetDefault("payout.currency", defaults.Currency)
	v.SetDefault("payout.concurrency", defaults.Concurrency)
	v.SetDefault("payout.transferTimeout", defaults.TransferTimeout)
	v.SetDefault("payout.runTimeout", defaults.RunTimeout)
	v.SetDefault("payout.maxAttempts", defaults.MaxAttempts)
	v.SetDefault("payout.lockTTL", defaults.LockTTL)
	v.SetDefault("payout.gateway.provider", defaults.Gateway.Provider)
	v.SetDefault("payout.gateway.masterAccount", defaults.Gateway.MasterAccount)
	v.SetDefault("payout.gateway.timeout", defaults.Gateway.Timeout)
	// Keys without a default need an explicit env binding.
	_ = v.BindEnv("payout.gateway.baseURL")
	_ = v.BindEnv("payout.gateway.apiToken")
	_ = v.BindEnv("payout.lockKey")
	return v
}

// decodePayoutConfig layers RUBHUB_* env vars over the file over the defaults.
// UnmarshalKey("payout") only sees the file's map, so it must stay Unmarshal.
func decodePayoutConfig(v *viper.Viper) (PayoutConfig, error) {
	cfg := DefaultPayoutConfig()
	settings := struct {
		Payout *PayoutConfig `mapstructure:"payout"`
	}{Payout: &cfg}
	if err := v.Unmarshal(&settings); err != nil {
		return PayoutConfig{}, err
	}
	cfg.Gateway.Provider = strings.ToLower(strings.TrimSpace(cfg.Gateway.Provider))
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if err := ValidatePayoutConfig(cfg); err != nil {
		return PayoutConfig{}, err
	}
	return cfg, nil
}

var (
	ErrInvalidSchedule    = errors.New("invalid_payout_schedule")
	ErrInvalidTimezone    = errors.New("invalid_payout_timezone")
	ErrInvalidConcurrency = errors.New("invalid_payout_concurrency")
	ErrInvalidTimeout     = errors.New("invalid_payout_timeout")
	ErrInvalidMaxAttempts = errors.New("invalid_payout_max_attempts")
	ErrInvalidGateway     = errors.New("invalid_payout_gateway")
	ErrInvalidCurrency    = errors.New("invalid_payout_currency")
)

func ValidatePayoutConfig(cfg PayoutConfig) error {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return errors.Join(ErrInvalidSchedule, err)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return errors.Join(ErrInvalidTimezone, err)
	}
	if len(cfg.Currency) != 3 {
		return ErrInvalidCurrency
	}
	if cfg.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if cfg.TransferTimeout <= 0 || cfg.RunTimeout <= 0 || cfg.LockTTL <= 0 {
		return ErrInvalidTimeout
	}
	if cfg.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	switch cfg.Gateway.Provider {
	case "sandbox":
	case "http":
		if strings.TrimSpace(cfg.Gateway.BaseURL) == "" {
			return ErrInvalidGateway
		}
	default:
		return ErrInvalidGateway
	}
	return nil
}
