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

// InvoiceConfig tunes invoice dispatching. It is hot reloaded from invoice.yml.
type InvoiceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MaxInvoiceLookback bounds how far back existing invoices are loaded. Zero loads everything.
	MaxInvoiceLookback time.Duration `mapstructure:"maxInvoiceLookback"`
	MaxLockTries       int           `mapstructure:"maxLockTries"`
	// LockTTL is the expiry of the account lock. Holders extend it every third of the TTL, so it
	// only bounds how long a crashed holder blocks the account.
	LockTTL                    time.Duration `mapstructure:"lockTTL"`
	LockRetryInterval          time.Duration `mapstructure:"lockRetryInterval"`
	RescheduleIntervalOnLock   time.Duration `mapstructure:"rescheduleIntervalOnLock"`
	DryRunNotificationLeadTime time.Duration `mapstructure:"dryRunNotificationLeadTime"`
	PluginOrder                []string      `mapstructure:"pluginOrder"`
	NotificationPollInterval   time.Duration `mapstructure:"notificationPollInterval"`
	NotificationBatchSize      int           `mapstructure:"notificationBatchSize"`
	ListenerMaxRetries         int           `mapstructure:"listenerMaxRetries"`
	ListenerInitialBackoff     time.Duration `mapstructure:"listenerInitialBackoff"`
}

func DefaultInvoiceConfig() InvoiceConfig {
	return InvoiceConfig{
		Enabled:                    true,
		MaxInvoiceLookback:         0,
		MaxLockTries:               5,
		LockTTL:                    5 * time.Minute,
		LockRetryInterval:          100 * time.Millisecond,
		RescheduleIntervalOnLock:   0,
		DryRunNotificationLeadTime: 0,
		NotificationPollInterval:   30 * time.Second,
		NotificationBatchSize:      100,
		ListenerMaxRetries:         3,
		ListenerInitialBackoff:     200 * time.Millisecond,
	}
}

type InvoiceConfigHolder struct {
	current atomic.Value // holds InvoiceConfig
}

// NewInvoiceConfigHolder reads invoice.yml from the usual locations, falling back to defaults
// when no file exists, and watches the file for changes.
func NewInvoiceConfigHolder(log *zap.Logger) (*InvoiceConfigHolder, error) {
	v := viper.New()
	v.SetConfigName("invoice")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/invoicing/config")
	v.AddConfigPath("/etc/invoicing")
	v.AddConfigPath(".")
	return loadInvoiceConfig(v, log)
}

// LoadInvoiceConfigFile reads the invoice configuration from an explicit file path.
func LoadInvoiceConfigFile(path string, log *zap.Logger) (*InvoiceConfigHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return loadInvoiceConfig(v, log)
}

// NewStaticInvoiceConfigHolder returns a holder that never reloads.
func NewStaticInvoiceConfigHolder(cfg InvoiceConfig) *InvoiceConfigHolder {
	holder := &InvoiceConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func loadInvoiceConfig(v *viper.Viper, log *zap.Logger) (*InvoiceConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.invoice")

	v.SetEnvPrefix("INVOICING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultInvoiceConfig()
	v.SetDefault("invoice.enabled", defaults.Enabled)
	v.SetDefault("invoice.maxInvoiceLookback", defaults.MaxInvoiceLookback)
	v.SetDefault("invoice.maxLockTries", defaults.MaxLockTries)
	v.SetDefault("invoice.lockTTL", defaults.LockTTL)
	v.SetDefault("invoice.lockRetryInterval", defaults.LockRetryInterval)
	v.SetDefault("invoice.rescheduleIntervalOnLock", defaults.RescheduleIntervalOnLock)
	v.SetDefault("invoice.dryRunNotificationLeadTime", defaults.DryRunNotificationLeadTime)
	v.SetDefault("invoice.pluginOrder", []string{})
	v.SetDefault("invoice.notificationPollInterval", defaults.NotificationPollInterval)
	v.SetDefault("invoice.notificationBatchSize", defaults.NotificationBatchSize)
	v.SetDefault("invoice.listenerMaxRetries", defaults.ListenerMaxRetries)
	v.SetDefault("invoice.listenerInitialBackoff", defaults.ListenerInitialBackoff)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg InvoiceConfig
	if err := v.UnmarshalKey("invoice", &cfg); err != nil {
		return nil, err
	}
	if err := validateInvoiceConfig(cfg); err != nil {
		return nil, err
	}

	holder := &InvoiceConfigHolder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		log.Info("config.invoice.defaults")
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated InvoiceConfig
		if err := v.UnmarshalKey("invoice", &updated); err != nil {
			log.Warn("config.invoice.reload_failed", zap.Error(err))
			return
		}
		if err := validateInvoiceConfig(updated); err != nil {
			log.Warn("config.invoice.invalid_ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("config.invoice.reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *InvoiceConfigHolder) Get() InvoiceConfig {
	return h.current.Load().(InvoiceConfig)
}

// Store replaces the active configuration after validating it.
func (h *InvoiceConfigHolder) Store(cfg InvoiceConfig) error {
	if err := validateInvoiceConfig(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

func (c InvoiceConfig) withDefaults() InvoiceConfig {
	defaults := DefaultInvoiceConfig()
	if c.MaxLockTries <= 0 {
		c.MaxLockTries = defaults.MaxLockTries
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockRetryInterval <= 0 {
		c.LockRetryInterval = defaults.LockRetryInterval
	}
	if c.NotificationPollInterval <= 0 {
		c.NotificationPollInterval = defaults.NotificationPollInterval
	}
	if c.NotificationBatchSize <= 0 {
		c.NotificationBatchSize = defaults.NotificationBatchSize
	}
	if c.ListenerMaxRetries < 0 {
		c.ListenerMaxRetries = defaults.ListenerMaxRetries
	}
	if c.ListenerInitialBackoff <= 0 {
		c.ListenerInitialBackoff = defaults.ListenerInitialBackoff
	}
	return c
}

func validateInvoiceConfig(cfg InvoiceConfig) error {
	if cfg.MaxInvoiceLookback < 0 {
		return errors.New("invoice.maxInvoiceLookback cannot be negative")
	}
	if cfg.MaxLockTries <= 0 {
		return errors.New("invoice.maxLockTries must be positive")
	}
	if cfg.LockTTL <= 0 {
		return errors.New("invoice.lockTTL must be positive")
	}
	if cfg.RescheduleIntervalOnLock < 0 {
		return errors.New("invoice.rescheduleIntervalOnLock cannot be negative")
	}
	if cfg.DryRunNotificationLeadTime < 0 {
		return errors.New("invoice.dryRunNotificationLeadTime cannot be negative")
	}
	if cfg.NotificationBatchSize <= 0 {
		return errors.New("invoice.notificationBatchSize must be positive")
	}
	return nil
}
