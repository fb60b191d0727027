package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentworkforce/courierlink/internal/kvstore"
)

const (
	accessTokenKey  = "auth.access_token"
	refreshTokenKey = "auth.refresh_token"
)

var (
	ErrNoSession        = errors.New("no stored session")
	ErrIncompleteTokens = errors.New("access and refresh token must both be set")
	ErrSessionExpired   = errors.New("session expired")
)

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (t Tokens) Complete() bool {
	return strings.TrimSpace(t.AccessToken) != "" && strings.TrimSpace(t.RefreshToken) != ""
}

// Sealer transforms token values before they reach the backing store.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// CredentialStore persists the access/refresh pair. A partially stored pair
// reads as no session.
type CredentialStore struct {
	kv     kvstore.Store
	sealer Sealer
}

func NewCredentialStore(kv kvstore.Store, sealer Sealer) *CredentialStore {
	return &CredentialStore{kv: kv, sealer: sealer}
}

func (s *CredentialStore) Get(ctx context.Context) (Tokens, error) {
	access, err := s.read(ctx, accessTokenKey)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.read(ctx, refreshTokenKey)
	if err != nil {
		return Tokens{}, err
	}
	tokens := Tokens{AccessToken: access, RefreshToken: refresh}
	if !tokens.Complete() {
		return Tokens{}, ErrNoSession
	}
	return tokens, nil
}

func (s *CredentialStore) Set(ctx context.Context, tokens Tokens) error {
	if !tokens.Complete() {
		return ErrIncompleteTokens
	}
	if err := s.write(ctx, refreshTokenKey, tokens.RefreshToken); err != nil {
		return err
	}
	if err := s.write(ctx, accessTokenKey, tokens.AccessToken); err != nil {
		// Never leave a new refresh token beside a stale access token.
		return errors.Join(err, s.Clear(ctx))
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range []string{accessTokenKey, refreshTokenKey} {
		if err := s.kv.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (s *CredentialStore) HasSession(ctx context.Context) bool {
	_, err := s.Get(ctx)
	return err == nil
}

func (s *CredentialStore) read(ctx context.Context, key string) (string, error) {
	value, err := s.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if s.sealer != nil {
		opened, openErr := s.sealer.Open(value)
		if openErr != nil {
			// Values sealed with a different secret are unusable.
			return "", nil
		}
		value = opened
	}
	return string(value), nil
}

func (s *CredentialStore) write(ctx context.Context, key, value string) error {
	data := []byte(value)
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(data)
		if err != nil {
			return fmt.Errorf("seal %s: %w", key, err)
		}
		data = sealed
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
