package config

import (
	"time"

	"k8s.io/utils/ptr"

	"github.com/giantswarm/reconcilekit/internal/reconciler"
)

// Config is the top-level configuration structure.
type Config struct {
	Logging     LoggingConfig      `yaml:"logging"`
	Operator    OperatorConfig     `yaml:"operator"`
	Controllers []ControllerConfig `yaml:"controllers,omitempty"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // debug, info, warn or error (default: info)
}

// OperatorConfig holds settings shared by all controllers.
type OperatorConfig struct {
	ShutdownGracePeriod time.Duration `yaml:"shutdownGracePeriod,omitempty"`
	WorkflowConcurrency int64         `yaml:"workflowConcurrency,omitempty"`
	SyncTimeout         time.Duration `yaml:"syncTimeout,omitempty"`
	Metrics             bool          `yaml:"metrics"`
}

// ControllerConfig overrides the dispatcher settings of one controller.
type ControllerConfig struct {
	Name                      string           `yaml:"name"`
	Workers                   int              `yaml:"workers,omitempty"`
	GenerationAware           bool             `yaml:"generationAware,omitempty"`
	ReconcileTimeout          time.Duration    `yaml:"reconcileTimeout,omitempty"`
	MaxReconciliationInterval time.Duration    `yaml:"maxReconciliationInterval,omitempty"`
	Finalizer                 string           `yaml:"finalizer,omitempty"`
	Retry                     *RetryConfig     `yaml:"retry,omitempty"`
	RateLimit                 *RateLimitConfig `yaml:"rateLimit,omitempty"`
}

// RetryConfig mirrors reconciler.RetryConfig.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval,omitempty"`
	Multiplier      float64       `yaml:"multiplier,omitempty"`
	MaxInterval     time.Duration `yaml:"maxInterval,omitempty"`
	MaxAttempts     *int          `yaml:"maxAttempts,omitempty"`
}

// RateLimitConfig mirrors reconciler.RateLimit.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Period time.Duration `yaml:"period"`
}

// Controller returns the configuration of the named controller, or an empty
// one carrying just the name.
func (c Config) Controller(name string) ControllerConfig {
	for _, cc := range c.Controllers {
		if cc.Name == name {
			return cc
		}
	}
	return ControllerConfig{Name: name}
}

// DispatcherConfig converts the controller configuration. Unset fields keep
// the dispatcher's defaults.
func (cc ControllerConfig) DispatcherConfig() reconciler.Config {
	cfg := reconciler.Config{
		Name:                      cc.Name,
		WorkerCount:               cc.Workers,
		GenerationAware:           cc.GenerationAware,
		ReconcileTimeout:          cc.ReconcileTimeout,
		MaxReconciliationInterval: cc.MaxReconciliationInterval,
	}

	if cc.Retry != nil {
		retry := reconciler.DefaultRetryConfig()
		if cc.Retry.InitialInterval > 0 {
			retry.InitialInterval = cc.Retry.InitialInterval
		}
		if cc.Retry.Multiplier > 0 {
			retry.Multiplier = cc.Retry.Multiplier
		}
		if cc.Retry.MaxInterval > 0 {
			retry.MaxInterval = cc.Retry.MaxInterval
		}
		retry.MaxAttempts = ptr.Deref(cc.Retry.MaxAttempts, retry.MaxAttempts)
		cfg.Retry = retry
	}

	if cc.RateLimit != nil {
		cfg.RateLimit = &reconciler.RateLimit{Limit: cc.RateLimit.Limit, Period: cc.RateLimit.Period}
	}
	return cfg
}
