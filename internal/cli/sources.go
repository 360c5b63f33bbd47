package cli

import (
	"fmt"

	"github.com/roach88/reveal/internal/config"
	"github.com/roach88/reveal/internal/source"
	"github.com/roach88/reveal/internal/syncer"
)

// buildSources constructs the primary source and mirrors named by the
// sync settings. An empty primary yields no sources at all.
func buildSources(cfg *config.Config) (syncer.DataSource, []syncer.DataSource, error) {
	if cfg.Sync.Primary == "" {
		return nil, nil, nil
	}

	primary, err := newSource(cfg, cfg.Sync.Primary)
	if err != nil {
		return nil, nil, err
	}

	mirrors := make([]syncer.DataSource, 0, len(cfg.Sync.Mirrors))
	for _, name := range cfg.Sync.Mirrors {
		if name == cfg.Sync.Primary {
			continue
		}
		m, err := newSource(cfg, name)
		if err != nil {
			return nil, nil, err
		}
		mirrors = append(mirrors, m)
	}
	return primary, mirrors, nil
}

func newSource(cfg *config.Config, name string) (syncer.DataSource, error) {
	s := cfg.Sources
	switch name {
	case config.SourceMemory:
		return source.NewMemory(config.SourceMemory), nil
	case config.SourceSQLite:
		return source.NewSQLite(s.SQLite.Path), nil
	case config.SourcePostgres:
		return source.NewPostgres(s.Postgres.DSN)
	case config.SourceAPI:
		return source.NewAPI(s.API.URL,
			source.WithToken(s.API.Token),
			source.WithRetries(s.API.MaxRetries, s.API.BaseDelay, s.API.MaxDelay),
		)
	case config.SourceWebSocket:
		return source.NewWebSocketMirror(s.WebSocket.URL, s.WebSocket.Token)
	default:
		return nil, fmt.Errorf("unknown source %q", name)
	}
}
