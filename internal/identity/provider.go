// Package identity resolves bearer tokens to document store users.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"docstore/api/internal/store"
)

// ErrUnknownToken is returned when a token does not map to any user.
var ErrUnknownToken = errors.New("identity: unknown token")

// Provider turns an opaque bearer token into the user it belongs to.
type Provider interface {
	Lookup(ctx context.Context, token string) (store.User, error)
}

// HashToken derives the storage key for a raw token. Raw tokens are
// never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// StaticProvider resolves tokens from a fixed in-memory table. It backs
// development setups and tests where no Redis is available.
type StaticProvider struct {
	users map[string]store.User
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{users: make(map[string]store.User)}
}

// ParseStaticTokens builds a provider from a "token=id:username" list,
// comma separated, as carried by the DOCSTORE_STATIC_TOKENS setting.
func ParseStaticTokens(spec string) *StaticProvider {
	p := NewStaticProvider()
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, userSpec, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		idPart, username, ok := strings.Cut(userSpec, ":")
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			continue
		}
		p.Add(token, store.User{ID: id, Username: username, Name: username})
	}
	return p
}

// Add registers a token for a user.
func (p *StaticProvider) Add(token string, user store.User) {
	p.users[HashToken(token)] = user
}

func (p *StaticProvider) Lookup(_ context.Context, token string) (store.User, error) {
	user, ok := p.users[HashToken(token)]
	if !ok {
		return store.User{}, ErrUnknownToken
	}
	return user, nil
}
