package engine

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/reveal/internal/config"
	"github.com/roach88/reveal/internal/syncer"
)

// Settings are the tunables of one engine instance.
type Settings struct {
	LearningRate float64
	Epsilon      float64
	Window       int

	MaxEntries int
	MaxAge     time.Duration

	AdvancedThreshold float64
	ExpertThreshold   float64

	Highlights        bool
	HighlightDuration time.Duration // 0 keeps highlights until seen

	Parallelism int
	SyncTimeout time.Duration // 0 means no timeout
}

// DefaultSettings returns the settings of config.DefaultConfig.
func DefaultSettings() Settings {
	return SettingsFrom(config.DefaultConfig())
}

// SettingsFrom extracts engine settings from a loaded config.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		LearningRate:      cfg.Adaptation.LearningRate,
		Epsilon:           cfg.Adaptation.Epsilon,
		Window:            cfg.Adaptation.Window,
		MaxEntries:        cfg.Retention.MaxEntries,
		MaxAge:            cfg.Retention.MaxAge,
		AdvancedThreshold: cfg.Visibility.AdvancedThreshold,
		ExpertThreshold:   cfg.Visibility.ExpertThreshold,
		Highlights:        cfg.Highlight.Enabled,
		HighlightDuration: cfg.Highlight.Duration,
		Parallelism:       cfg.Sync.Parallelism,
		SyncTimeout:       cfg.Sync.Timeout,
	}
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures an Engine.
type Option func(*Engine)

// WithSources registers the primary data source and write-only mirrors.
func WithSources(primary syncer.DataSource, mirrors ...syncer.DataSource) Option {
	return func(e *Engine) {
		e.primary = primary
		e.mirrors = mirrors
	}
}

// WithUserID sets the user whose state is pulled and pushed.
func WithUserID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.userID = id
		}
	}
}

// WithNow sets the wall clock used for timestamps and time windows.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithAfterFunc sets the timer factory used for highlight auto-dismiss.
func WithAfterFunc(fn AfterFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.afterFunc = fn
		}
	}
}

// WithIDGenerator sets the interaction ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics registers Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		if reg != nil {
			e.metrics = NewMetrics(reg)
		}
	}
}

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(e *Engine) {
		e.settings = s
	}
}

// WithBackgroundSync controls whether pushes and tracked events are sent
// by a background worker (the default) or only on Flush.
func WithBackgroundSync(enabled bool) Option {
	return func(e *Engine) {
		e.background = enabled
	}
}
