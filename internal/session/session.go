// Package session holds the signed-in identity. The access token and a
// minimal user object are persisted in the local store; their presence is
// what gates protected operations.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/apperr"
	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/remote"
)

// Local store keys.
const (
	KeyAccessToken = "accessToken"
	KeyUser        = "user"
)

// Store persists session values.
type Store interface {
	Get(key string) (string, bool, error)
	SetMany(values map[string]string) error
	Delete(keys ...string) error
}

// Syncer links a freshly signed-in identity to the backend account.
type Syncer interface {
	GoogleLogin(ctx context.Context, token string, in remote.LoginSync) error
}

// Identity is what the identity provider hands back after sign-in.
// Empty User fields are filled from the token claims when it is a JWT.
type Identity struct {
	Token string
	User  models.User
}

// Session is the process-wide sign-in state.
type Session struct {
	mu    sync.RWMutex
	token string
	user  models.User

	store     Store
	syncer    Syncer
	log       *zap.Logger
	listeners []func()
}

// New loads any persisted session from store.
func New(store Store, syncer Syncer, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{store: store, syncer: syncer, log: log.Named("session")}

	token, ok, err := store.Get(KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("session: load token: %w", err)
	}
	if !ok {
		return s, nil
	}
	s.token = token

	if raw, ok, err := store.Get(KeyUser); err != nil {
		return nil, fmt.Errorf("session: load user: %w", err)
	} else if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.user); err != nil {
			s.log.Warn("stored user unreadable", zap.Error(err))
		}
	}
	return s, nil
}

// SignIn stores the identity, then syncs it with the backend. A failed sync
// is returned but leaves the session signed in.
func (s *Session) SignIn(ctx context.Context, id Identity) error {
	token := strings.TrimSpace(id.Token)
	if token == "" {
		return fmt.Errorf("%w: access token required", apperr.ErrValidation)
	}
	user := fillFromClaims(id.User, token)

	rawUser, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("session: encode user: %w", err)
	}
	if err := s.store.SetMany(map[string]string{
		KeyAccessToken: token,
		KeyUser:        string(rawUser),
	}); err != nil {
		return fmt.Errorf("session: persist: %w", err)
	}

	s.mu.Lock()
	s.token, s.user = token, user
	s.mu.Unlock()
	s.log.Info("signed in", zap.String("email", user.Email))
	s.changed()

	if s.syncer == nil {
		return nil
	}
	if err := s.syncer.GoogleLogin(ctx, token, remote.LoginSync{
		Name:     user.DisplayName,
		Email:    user.Email,
		PhotoURL: user.PhotoURL,
	}); err != nil {
		s.log.Warn("auth sync failed", zap.Error(err))
		return fmt.Errorf("session: auth sync: %w", err)
	}
	return nil
}

// SignOut clears the token and user.
func (s *Session) SignOut() error {
	if err := s.store.Delete(KeyAccessToken, KeyUser); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	s.mu.Lock()
	s.token, s.user = "", models.User{}
	s.mu.Unlock()
	s.log.Info("signed out")
	s.changed()
	return nil
}

// OnChange registers fn to run after every sign-in and sign-out, before
// the sign-in sync.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) changed() {
	s.mu.RLock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// IsAuthenticated reports whether a token is present.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Require returns apperr.ErrUnauthenticated when signed out.
func (s *Session) Require() error {
	if !s.IsAuthenticated() {
		return apperr.ErrUnauthenticated
	}
	return nil
}

// AccessToken returns the bearer token, empty when signed out.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user.
func (s *Session) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.token != ""
}

// ExpiresAt reads the exp claim of the token without verifying it. ok is
// false when signed out or the token carries no readable exp.
func (s *Session) ExpiresAt() (time.Time, bool) {
	claims, err := unverifiedClaims(s.AccessToken())
	if err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func unverifiedClaims(token string) (jwt.MapClaims, error) {
	if token == "" {
		return nil, errors.New("no token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func fillFromClaims(u models.User, token string) models.User {
	claims, err := unverifiedClaims(token)
	if err != nil {
		return u
	}
	str := func(name string) string {
		v, _ := claims[name].(string)
		return v
	}
	if u.UID == "" {
		u.UID = str("user_id")
		if u.UID == "" {
			u.UID, _ = claims.GetSubject()
		}
	}
	if u.Email == "" {
		u.Email = str("email")
	}
	if u.DisplayName == "" {
		u.DisplayName = str("name")
	}
	if u.PhotoURL == "" {
		u.PhotoURL = str("picture")
	}
	return u
}
