// Package identity turns request credentials into a model.Identity. Two
// mechanisms exist (a bearer JWT and a signed session cookie); callers only
// ever see the resulting identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/model"
)

// ErrNoCredentials means the provider found nothing it understands on the
// request. A Chain moves on to the next provider.
var ErrNoCredentials = errors.New("no credentials")

// Provider authenticates a request.
type Provider interface {
	Authenticate(r *http.Request) (model.Identity, error)
}

// Chain tries providers in order.
type Chain []Provider

// Authenticate returns the first identity a provider vouches for. Invalid
// credentials stop the chain; missing ones fall through.
func (c Chain) Authenticate(r *http.Request) (model.Identity, error) {
	for _, p := range c {
		id, err := p.Authenticate(r)
		if errors.Is(err, ErrNoCredentials) {
			continue
		}
		if err != nil {
			return model.Identity{}, err
		}
		return id, nil
	}
	return model.Identity{}, ErrNoCredentials
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware, or the anonymous
// identity.
func FromContext(ctx context.Context) model.Identity {
	id, _ := ctx.Value(ctxKey{}).(model.Identity)
	return id
}

// Middleware authenticates every request. Requests without credentials pass
// through anonymously; invalid credentials are rejected through onErr.
func Middleware(p Provider, onErr func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := p.Authenticate(r)
			switch {
			case errors.Is(err, ErrNoCredentials):
				next.ServeHTTP(w, r)
			case err != nil:
				onErr(w, r, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err))
			default:
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
			}
		})
	}
}

// RequireBuyer rejects anonymous requests.
func RequireBuyer(onErr func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()).Anonymous() {
				onErr(w, r, errs.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects requests whose identity lacks role.
func RequireRole(role string, onErr func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id.Anonymous() {
				onErr(w, r, errs.ErrUnauthorized)
				return
			}
			if id.Role != role {
				onErr(w, r, errs.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
