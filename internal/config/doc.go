// Package config loads the operator configuration.
//
// Configuration is read from a single YAML file. A missing file yields the
// defaults, so an operator runs without any configuration at all.
//
// # Configuration Structure
//
//	logging:
//	  level: info                       # debug, info, warn or error (default: info)
//	operator:
//	  shutdownGracePeriod: 30s          # how long Stop drains in-flight reconciliations
//	  workflowConcurrency: 10           # workflow nodes running at once, across controllers
//	  syncTimeout: 2m                   # how long event sources may take to sync
//	  metrics: true                     # register Prometheus collectors
//	controllers:
//	  - name: apps
//	    workers: 4                      # reconciliations running at once (default: 2)
//	    generationAware: true           # skip events that did not change the generation
//	    reconcileTimeout: 30s
//	    maxReconciliationInterval: 10m  # periodic re-run after a success
//	    retry:
//	      initialInterval: 2s
//	      multiplier: 1.5
//	      maxInterval: 15s
//	      maxAttempts: 5                # 0 disables retries, -1 retries forever
//	    rateLimit:
//	      limit: 10                     # executions per period and primary
//	      period: 1m
//
// # Validation
//
// Validate collects every problem into a ConfigurationErrorCollection rather
// than stopping at the first one, so `config validate` can report them all.
//
// # Usage Examples
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := config.Validate(cfg); err != nil {
//	    log.Fatal(err)
//	}
//	dispatcherConfig := cfg.Controller("apps").DispatcherConfig()
package config
