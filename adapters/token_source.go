package adapters

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const TokenDefaultTTL = time.Hour

type TokenSourceParams struct {
	DeviceID string
	Secret   []byte
	Audience string
	TTL      time.Duration

	NowFunc func() time.Time

	Log zerolog.Logger
}

func (p *TokenSourceParams) EnsureDefaults() {
	if p.Audience == "" {
		p.Audience = "pinpilot"
	}

	if p.TTL == 0 {
		p.TTL = TokenDefaultTTL
	}

	if p.NowFunc == nil {
		p.NowFunc = time.Now
	}
}

// TokenSource mints a short-lived signed token per broker handshake,
// for brokers that authenticate devices with a JWT in the password
// field. The device identifier rides in the username.
type TokenSource struct {
	params TokenSourceParams

	log zerolog.Logger
}

func NewTokenSource(params TokenSourceParams) (*TokenSource, error) {
	if params.DeviceID == "" {
		return nil, fmt.Errorf("DeviceID is empty")
	}
	if len(params.Secret) == 0 {
		return nil, fmt.Errorf("Secret is empty")
	}
	params.EnsureDefaults()
	return &TokenSource{params: params, log: params.Log}, nil
}

// Token returns a fresh HS256-signed token for this device.
func (t *TokenSource) Token() (string, error) {
	now := t.params.NowFunc()
	claims := jwt.RegisteredClaims{
		Subject:   t.params.DeviceID,
		Audience:  jwt.ClaimStrings{t.params.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.params.TTL)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.params.Secret)
}

// Credentials satisfies the transport's per-connect credential hook. A
// signing failure yields an empty password; the broker will refuse the
// handshake and the session manager retries.
func (t *TokenSource) Credentials() (string, string) {
	token, err := t.Token()
	if err != nil {
		t.log.Error().Err(err).Msg("token signing failed")
		return t.params.DeviceID, ""
	}
	return t.params.DeviceID, token
}

var _ CredentialsSource = &TokenSource{}
