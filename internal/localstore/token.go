package localstore

import (
	"context"
	"errors"
)

// TokenKey is the key the bearer token is stored under.
const TokenKey = "token"

// TokenStore persists the auth token in a KV.
type TokenStore struct {
	kv KV
}

func NewTokenStore(kv KV) *TokenStore {
	return &TokenStore{kv: kv}
}

// Token returns the stored token, or "" when signed out.
func (t *TokenStore) Token(ctx context.Context) (string, error) {
	v, err := t.kv.Get(ctx, TokenKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (t *TokenStore) SetToken(ctx context.Context, token string) error {
	return t.kv.Set(ctx, TokenKey, token)
}

func (t *TokenStore) ClearToken(ctx context.Context) error {
	return t.kv.Delete(ctx, TokenKey)
}
