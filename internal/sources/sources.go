// Package sources builds the per-source fetch operations the pipeline
// fans out over.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"marketfeed/internal/core/domain"
	"marketfeed/internal/infra/httpfetch"
	"marketfeed/internal/pipeline"
)

// Registry maps source ids onto their fetch operations. External
// collaborators can override the HTTP default for any source, for example
// to plug in an SDK-backed provider.
type Registry struct {
	client *httpfetch.Client
	log    *slog.Logger

	mu        sync.RWMutex
	overrides map[domain.SourceID]pipeline.FetchFunc
}

// NewRegistry creates a registry backed by the shared HTTP client.
func NewRegistry(client *httpfetch.Client, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		client:    client,
		log:       log,
		overrides: make(map[domain.SourceID]pipeline.FetchFunc),
	}
}

// Register installs a custom fetch operation for one source, replacing the
// HTTP default.
func (r *Registry) Register(id domain.SourceID, fn pipeline.FetchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[id] = fn
}

// FetchFor returns the fetch operation for the given source. The HTTP
// default tries the configured endpoints in order and returns the first
// success; the last error propagates when every endpoint fails.
func (r *Registry) FetchFor(src domain.Source) pipeline.FetchFunc {
	r.mu.RLock()
	fn, ok := r.overrides[src.ID]
	r.mu.RUnlock()
	if ok {
		return fn
	}
	return r.httpFetch(src)
}

func (r *Registry) httpFetch(src domain.Source) pipeline.FetchFunc {
	return func(ctx context.Context) (domain.RawPayload, error) {
		if len(src.Endpoints) == 0 {
			return nil, fmt.Errorf("source %q has no endpoints", src.ID)
		}
		var lastErr error
		for i, endpoint := range src.Endpoints {
			payload, err := r.client.Fetch(ctx, src.ID, endpoint)
			if err == nil {
				return payload, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			if i < len(src.Endpoints)-1 {
				r.log.Debug("endpoint failed, trying next",
					"source", string(src.ID), "endpoint", endpoint, "error", err)
			}
		}
		return nil, lastErr
	}
}
