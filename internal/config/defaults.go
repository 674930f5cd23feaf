package config

import "time"

const (
	DefaultShutdownGracePeriod = 30 * time.Second
	DefaultWorkflowConcurrency = 10
	DefaultSyncTimeout         = 2 * time.Minute
	DefaultLogLevel            = "info"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: DefaultLogLevel},
		Operator: OperatorConfig{
			ShutdownGracePeriod: DefaultShutdownGracePeriod,
			WorkflowConcurrency: DefaultWorkflowConcurrency,
			SyncTimeout:         DefaultSyncTimeout,
			Metrics:             true,
		},
	}
}
