package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore resolves bearer tokens into actors using Redis.
// Tokens are issued by the authentication service; Issue exists for
// operator tooling and tests.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

// Lookup returns the actor bound to token.
func (ts *TokenStore) Lookup(ctx context.Context, token string) (Actor, error) {
	if token == "" {
		return Actor{}, ErrUnauthorized
	}
	payload, err := ts.client.Get(ctx, ts.redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Actor{}, ErrUnauthorized
		}
		return Actor{}, err
	}
	var actor Actor
	if err := json.Unmarshal(payload, &actor); err != nil {
		return Actor{}, err
	}
	if actor.ID <= 0 {
		return Actor{}, ErrUnauthorized
	}
	return actor, nil
}

// Issue stores a new random token for actor.
func (ts *TokenStore) Issue(ctx context.Context, actor Actor) (string, error) {
	if actor.ID <= 0 || actor.Role == "" {
		return "", InvalidRequestf("actor id and role required")
	}
	data, err := json.Marshal(actor)
	if err != nil {
		return "", err
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := ts.client.Set(ctx, ts.redisKey(token), data, ts.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Revoke deletes token.
func (ts *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := ts.client.Del(ctx, ts.redisKey(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func (ts *TokenStore) redisKey(token string) string {
	return "stock:token:" + token
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
