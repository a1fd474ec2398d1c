package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dharsanguruparan/VaultShop/internal/model"
)

// Claims is the JWT payload accepted by BearerProvider.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// BearerProvider validates HS256 tokens from the Authorization header.
type BearerProvider struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

// NewBearerProvider builds a provider for tokens signed with secret.
func NewBearerProvider(secret []byte) *BearerProvider {
	return &BearerProvider{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(30*time.Second),
			jwt.WithExpirationRequired(),
		),
		now: time.Now,
	}
}

// Authenticate implements Provider.
func (p *BearerProvider) Authenticate(r *http.Request) (model.Identity, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return model.Identity{}, ErrNoCredentials
	}
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return model.Identity{}, ErrNoCredentials
	}
	var c Claims
	_, err := p.parser.ParseWithClaims(strings.TrimSpace(raw), &c, func(*jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil {
		return model.Identity{}, fmt.Errorf("bearer token: %w", err)
	}
	if c.Subject == "" {
		return model.Identity{}, errors.New("bearer token: missing subject")
	}
	return model.Identity{ID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

// Issue signs a token for id valid for ttl. Used by tooling and tests; login
// itself happens elsewhere.
func (p *BearerProvider) Issue(id model.Identity, ttl time.Duration) (string, error) {
	now := p.now()
	c := Claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
}
