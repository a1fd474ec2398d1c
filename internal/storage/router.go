package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/retry"
)

// RouterConfig selects the active backend and bounds Resolve calls.
type RouterConfig struct {
	Active    string
	Timeout   time.Duration
	Retries   int
	BaseDelay time.Duration
}

// Router owns every configured backend. New uploads go to the active one;
// existing references are dispatched to the backend named in the reference,
// so assets keep resolving while a migration between backends is underway.
type Router struct {
	active   Backend
	backends map[string]Backend
	cfg      RouterConfig
	log      *zap.Logger
}

// NewRouter builds a Router. cfg.Active must name one of backends.
func NewRouter(cfg RouterConfig, log *zap.Logger, backends ...Backend) (*Router, error) {
	r := &Router{backends: make(map[string]Backend, len(backends)), cfg: cfg, log: log}
	for _, b := range backends {
		if _, dup := r.backends[b.Name()]; dup {
			return nil, fmt.Errorf("duplicate storage backend %q", b.Name())
		}
		r.backends[b.Name()] = b
	}
	active, ok := r.backends[cfg.Active]
	if !ok {
		return nil, fmt.Errorf("active storage backend %q is not configured", cfg.Active)
	}
	r.active = active
	return r, nil
}

// Active returns the backend new uploads are written to.
func (r *Router) Active() Backend { return r.active }

// Backend looks a backend up by name.
func (r *Router) Backend(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q", errs.ErrStorageUnavailable, name)
	}
	return b, nil
}

// Names lists the configured backends in stable order.
func (r *Router) Names() []string {
	out := make([]string, 0, len(r.backends))
	for name := range r.backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Put stores bytes on the active backend.
func (r *Router) Put(ctx context.Context, body io.Reader, size int64, name, contentType string) (model.StorageRef, error) {
	return r.PutTo(ctx, r.active.Name(), body, size, name, contentType)
}

// PutTo stores bytes on a named backend. Puts are not retried because the
// reader cannot be replayed.
func (r *Router) PutTo(ctx context.Context, backend string, body io.Reader, size int64, name, contentType string) (model.StorageRef, error) {
	b, err := r.Backend(backend)
	if err != nil {
		return model.StorageRef{}, err
	}
	key, err := b.Put(ctx, body, size, name, contentType)
	if err != nil {
		return model.StorageRef{}, fmt.Errorf("put to %s: %w", backend, err)
	}
	return model.StorageRef{Backend: backend, Key: key}, nil
}

// Resolve turns a reference into an Access. Each attempt is bounded by the
// configured timeout; transient failures are retried and finally reported as
// ErrStorageUnavailable. ErrAssetMissingOnBackend is returned immediately.
func (r *Router) Resolve(ctx context.Context, ref model.StorageRef, filename string) (*Access, error) {
	b, err := r.Backend(ref.Backend)
	if err != nil {
		return nil, err
	}
	var access *Access
	err = retry.Do(ctx, retry.Policy{
		Retries:   r.cfg.Retries,
		Timeout:   r.cfg.Timeout,
		BaseDelay: r.cfg.BaseDelay,
		Permanent: func(err error) bool { return errors.Is(err, errs.ErrAssetMissingOnBackend) },
		Notify: func(err error, wait time.Duration) {
			r.log.Warn("storage resolve failed, retrying",
				zap.String("backend", ref.Backend),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
	}, func(attemptCtx context.Context) error {
		a, err := b.Resolve(attemptCtx, ref.Key, filename)
		if err != nil {
			return err
		}
		access = a
		return nil
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	return access, nil
}

// Open returns the full bytes behind a reference. The reader may be bound to
// ctx, so no per-attempt deadline is applied.
func (r *Router) Open(ctx context.Context, ref model.StorageRef) (io.ReadCloser, error) {
	b, err := r.Backend(ref.Backend)
	if err != nil {
		return nil, err
	}
	rc, err := b.Open(ctx, ref.Key)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return rc, nil
}

// Delete removes the object behind a reference. Deleting twice is fine.
func (r *Router) Delete(ctx context.Context, ref model.StorageRef) error {
	b, err := r.Backend(ref.Backend)
	if err != nil {
		return err
	}
	return b.Delete(ctx, ref.Key)
}

// Health checks every backend and reports failures by backend name.
func (r *Router) Health(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for name, b := range r.backends {
		if err := b.Health(ctx); err != nil {
			out[name] = err
		}
	}
	return out
}

func classify(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, errs.ErrAssetMissingOnBackend), errors.Is(err, errs.ErrStorageUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
	}
}
