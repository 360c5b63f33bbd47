package config

import "time"

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		UserID: "default",
		Adaptation: AdaptationConfig{
			LearningRate: 0.1,
			Epsilon:      1e-3,
			Window:       50,
		},
		Retention: RetentionConfig{
			MaxEntries: 500,
			MaxAge:     30 * 24 * time.Hour,
		},
		Visibility: VisibilityConfig{
			AdvancedThreshold: 0.3,
			ExpertThreshold:   0.7,
		},
		Highlight: HighlightConfig{
			Enabled:  true,
			Duration: 0,
		},
		Sync: SyncConfig{
			Primary:     "",
			Mirrors:     []string{},
			Parallelism: 4,
			Timeout:     10 * time.Second,
		},
		Sources: SourcesConfig{
			API: APIConfig{
				MaxRetries: 3,
				BaseDelay:  200 * time.Millisecond,
				MaxDelay:   5 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
