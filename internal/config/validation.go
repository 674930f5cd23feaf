package config

import (
	"fmt"

	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// Validate checks cfg and returns a *ConfigurationErrorCollection listing
// every problem, or nil.
func Validate(cfg Config) error {
	errs := &ConfigurationErrorCollection{}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), "use one of debug, info, warn, error")
	}

	if cfg.Operator.ShutdownGracePeriod < 0 {
		errs.Add("operator.shutdownGracePeriod", "must not be negative")
	}
	if cfg.Operator.WorkflowConcurrency < 0 {
		errs.Add("operator.workflowConcurrency", "must not be negative")
	}
	if cfg.Operator.SyncTimeout < 0 {
		errs.Add("operator.syncTimeout", "must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Controllers))
	for i, cc := range cfg.Controllers {
		field := fmt.Sprintf("controllers[%d]", i)
		if cc.Name == "" {
			errs.Add(field+".name", "is required")
		} else if seen[cc.Name] {
			errs.Add(field+".name", fmt.Sprintf("duplicate controller %q", cc.Name))
		}
		seen[cc.Name] = true

		validateController(errs, field, cc)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateController(errs *ConfigurationErrorCollection, field string, cc ControllerConfig) {
	if cc.Workers < 0 {
		errs.Add(field+".workers", "must not be negative")
	}
	if cc.ReconcileTimeout < 0 {
		errs.Add(field+".reconcileTimeout", "must not be negative")
	}
	if cc.MaxReconciliationInterval < 0 {
		errs.Add(field+".maxReconciliationInterval", "must not be negative")
	}

	if r := cc.Retry; r != nil {
		if r.InitialInterval < 0 {
			errs.Add(field+".retry.initialInterval", "must not be negative")
		}
		if r.Multiplier != 0 && r.Multiplier < 1 {
			errs.Add(field+".retry.multiplier", "must be at least 1", "a multiplier below 1 shrinks the delay between retries")
		}
		if r.MaxInterval > 0 && r.MaxInterval < r.InitialInterval {
			errs.Add(field+".retry.maxInterval", "must not be shorter than initialInterval")
		}
	}

	if rl := cc.RateLimit; rl != nil {
		if rl.Limit <= 0 {
			errs.Add(field+".rateLimit.limit", "must be positive", "remove rateLimit to disable rate limiting")
		}
		if rl.Period <= 0 {
			errs.Add(field+".rateLimit.period", "must be positive")
		}
	}
}
