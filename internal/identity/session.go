package identity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/signing"
)

// SessionCookie is the cookie SessionProvider reads.
const SessionCookie = "vs_session"

type sessionPayload struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Exp   int64  `json:"exp"`
}

// SessionProvider validates "<payload>.<signature>" cookies, where payload is
// base64url JSON and signature covers payload and expiry.
type SessionProvider struct {
	signer *signing.Signer
	now    func() time.Time
}

// NewSessionProvider builds a provider backed by signer.
func NewSessionProvider(signer *signing.Signer) *SessionProvider {
	return &SessionProvider{signer: signer, now: time.Now}
}

// Authenticate implements Provider.
func (p *SessionProvider) Authenticate(r *http.Request) (model.Identity, error) {
	c, err := r.Cookie(SessionCookie)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && c.Value == "") {
		return model.Identity{}, ErrNoCredentials
	}
	if err != nil {
		return model.Identity{}, err
	}
	encoded, sig, ok := strings.Cut(c.Value, ".")
	if !ok {
		return model.Identity{}, errors.New("session: malformed cookie")
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return model.Identity{}, fmt.Errorf("session: %w", err)
	}
	var sp sessionPayload
	if err := json.Unmarshal(raw, &sp); err != nil {
		return model.Identity{}, fmt.Errorf("session: %w", err)
	}
	if !p.signer.Validate(encoded, strconv.FormatInt(sp.Exp, 10), sig) {
		return model.Identity{}, errors.New("session: bad signature")
	}
	if p.now().Unix() >= sp.Exp {
		return model.Identity{}, errors.New("session: expired")
	}
	if sp.ID == "" {
		return model.Identity{}, errors.New("session: missing id")
	}
	return model.Identity{ID: sp.ID, Email: sp.Email, Role: sp.Role}, nil
}

// Issue returns a cookie value for id valid for ttl.
func (p *SessionProvider) Issue(id model.Identity, ttl time.Duration) (string, error) {
	exp := p.now().Add(ttl).Unix()
	raw, err := json.Marshal(sessionPayload{ID: id.ID, Email: id.Email, Role: id.Role, Exp: exp})
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + p.signer.Sign(encoded, exp), nil
}
