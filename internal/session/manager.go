// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hgraven/wavegate/internal/kvstore"
)

// Header and query names clients use to present CSRF material.
const (
	HeaderCSRF      = "X-Gateway-CSRF"
	HeaderCSRFProof = "X-Gateway-CSRF-Proof"
	queryCSRF       = "csrf"
	queryCSRFProof  = "csrf_proof"
)

// Validation failure kinds. The gateway maps these onto 401/403.
var (
	ErrNoSession    = errors.New("session: no session")
	ErrExpired      = errors.New("session: expired")
	ErrCSRFMismatch = errors.New("session: csrf token mismatch")
)

// Session is the server-side session record.
type Session struct {
	ID        string `json:"id"`
	Nonce     string `json:"nonce"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
	CSRFProof string `json:"csrfProof"`
}

// nonceRecord lets proof-only clients recover session state. It is a
// secondary lookup: the stored proof is HMAC-verified on every load.
type nonceRecord struct {
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
	CSRFProof string `json:"csrfProof"`
}

// Config for the manager.
type Config struct {
	Secret     string
	TTL        time.Duration
	CookieName string
	// Strict refuses to boot with a short secret instead of generating one.
	Strict bool
}

// Manager issues and validates sessions against a shared store.
type Manager struct {
	store      kvstore.Store
	secret     []byte
	ttl        time.Duration
	cookieName string
	logger     zerolog.Logger
	now        func() time.Time
}

// secretKey is the shared-store key replicas converge on.
const secretKey = "session:secret"

// NewManager bootstraps the signing secret and returns the manager. A
// missing or short secret is replaced by a generated one (fatal in strict
// mode); with a shared store a set-if-absent makes replicas converge.
func NewManager(ctx context.Context, store kvstore.Store, cfg Config, logger zerolog.Logger) (*Manager, error) {
	secret := cfg.Secret
	if len(secret) < 32 {
		if cfg.Strict {
			return nil, fmt.Errorf("session secret must be at least 32 bytes")
		}
		if secret != "" {
			logger.Warn().Str("event", "session.secret_too_short").
				Msg("configured session secret is shorter than 32 bytes, generating an ephemeral one")
		} else {
			logger.Warn().Str("event", "session.secret_generated").
				Msg("no session secret configured, generating an ephemeral one")
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		secret = hex.EncodeToString(buf)

		created, err := store.SetNX(ctx, secretKey, []byte(secret), 0)
		if err != nil {
			logger.Warn().Err(err).Str("event", "session.secret_store_failed").
				Msg("could not persist generated secret, replicas will not converge")
		} else if !created {
			existing, err := store.Get(ctx, secretKey)
			if err == nil && len(existing) >= 32 {
				secret = string(existing)
			}
		}
	}

	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = "wavegate_session"
	}

	return &Manager{
		store:      store,
		secret:     []byte(secret),
		ttl:        cfg.TTL,
		cookieName: cookieName,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func sessionKey(id string) string  { return "session:sid:" + id }
func nonceKey(nonce string) string { return "session:nonce:" + nonce }

// Issue creates a new session, persists it under both the session id and
// the nonce index, and returns it.
func (m *Manager) Issue(ctx context.Context) (*Session, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Nonce:     hex.EncodeToString(buf),
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(m.ttl).UnixMilli(),
	}
	s.CSRFProof = SignProof(m.secret, s.Nonce, time.UnixMilli(s.ExpiresAt))

	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) persist(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(ctx, sessionKey(s.ID), data, m.ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	idx, err := json.Marshal(nonceRecord{Nonce: s.Nonce, ExpiresAt: s.ExpiresAt, CSRFProof: s.CSRFProof})
	if err != nil {
		return fmt.Errorf("encode nonce record: %w", err)
	}
	if err := m.store.Set(ctx, nonceKey(s.Nonce), idx, m.ttl); err != nil {
		return fmt.Errorf("store nonce record: %w", err)
	}
	return nil
}

// Cookie builds the session cookie for s.
func (m *Manager) Cookie(s *Session) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(m.ttl.Seconds()),
	}
}

// Validate authenticates the request. It loads the session by cookie,
// falling back to proof or nonce recovery, enforces the CSRF token for
// non-OPTIONS methods, then refreshes the TTL and re-signs the proof.
func (m *Manager) Validate(ctx context.Context, r *http.Request) (*Session, error) {
	s, err := m.load(ctx, r)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if now.UnixMilli() > s.ExpiresAt {
		_ = m.store.Delete(ctx, nonceKey(s.Nonce))
		if s.ID != "" {
			_ = m.store.Delete(ctx, sessionKey(s.ID))
		}
		return nil, ErrExpired
	}

	if r.Method != http.MethodOptions {
		token := r.Header.Get(HeaderCSRF)
		if token == "" {
			token = r.URL.Query().Get(queryCSRF)
		}
		if token == "" || !hmac.Equal([]byte(token), []byte(s.Nonce)) {
			return nil, ErrCSRFMismatch
		}
	}

	// Successful validation refreshes the TTL and regenerates the proof.
	s.ExpiresAt = now.Add(m.ttl).UnixMilli()
	s.CSRFProof = SignProof(m.secret, s.Nonce, time.UnixMilli(s.ExpiresAt))
	if s.ID == "" {
		// Recovered session: anchor it under a fresh id so the client can
		// receive a cookie again.
		s.ID = uuid.NewString()
		s.IssuedAt = now.UnixMilli()
	}
	if err := m.persist(ctx, s); err != nil {
		m.logger.Warn().Err(err).Str("event", "session.refresh_failed").
			Msg("could not persist refreshed session")
	}
	return s, nil
}

// load resolves the request to a session record without validating CSRF.
func (m *Manager) load(ctx context.Context, r *http.Request) (*Session, error) {
	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		data, err := m.store.Get(ctx, sessionKey(c.Value))
		if err == nil {
			var s Session
			if jerr := json.Unmarshal(data, &s); jerr == nil {
				return &s, nil
			}
		} else if !errors.Is(err, kvstore.ErrNotFound) {
			m.logger.Warn().Err(err).Str("event", "session.store_read_failed").Msg("session store read failed")
		}
	}

	// Proof recovery: stateless, HMAC-verified.
	proof := r.Header.Get(HeaderCSRFProof)
	if proof == "" {
		proof = r.URL.Query().Get(queryCSRFProof)
	}
	if proof != "" {
		nonce, exp, err := VerifyProof(m.secret, proof)
		if err != nil {
			return nil, err
		}
		return &Session{Nonce: nonce, ExpiresAt: exp.UnixMilli(), CSRFProof: proof}, nil
	}

	// Nonce-index recovery: the client presents only the CSRF token. The
	// index is a hint; the stored proof must still pass HMAC verification.
	if token := r.Header.Get(HeaderCSRF); token != "" {
		data, err := m.store.Get(ctx, nonceKey(token))
		if err == nil {
			var rec nonceRecord
			if jerr := json.Unmarshal(data, &rec); jerr == nil {
				nonce, exp, verr := VerifyProof(m.secret, rec.CSRFProof)
				if verr != nil || nonce != rec.Nonce {
					_ = m.store.Delete(ctx, nonceKey(token))
					return nil, ErrProofInvalid
				}
				return &Session{Nonce: rec.Nonce, ExpiresAt: exp.UnixMilli(), CSRFProof: rec.CSRFProof}, nil
			}
		} else if !errors.Is(err, kvstore.ErrNotFound) {
			m.logger.Warn().Err(err).Str("event", "session.store_read_failed").Msg("nonce index read failed")
		}
	}

	return nil, ErrNoSession
}
