package pingone

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/config"
)

// Token is a cached worker credential for server-to-server calls
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Usable reports whether the token is still inside its reuse window
func (t Token) Usable(now time.Time, buffer time.Duration) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt.Add(-buffer))
}

// TokenSource obtains and caches worker tokens. TestToken validates
// credentials with a direct token request that bypasses the cache.
type TokenSource interface {
	GetToken(ctx context.Context, environmentID, clientID, clientSecret string) (Token, error)
	TestToken(ctx context.Context, environmentID, clientID, clientSecret string) (Token, error)
	Invalidate(environmentID, clientID string)
}

type cacheKey struct {
	environmentID string
	clientID      string
}

type refreshCall struct {
	done  chan struct{}
	token Token
	err   error
}

// TokenCache caches one worker token per (environment, client) pair and
// refreshes on expiry. Concurrent callers hitting a stale entry for the
// same key collapse into a single token request.
type TokenCache struct {
	cfg        config.PingOneConfig
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	tokens   map[cacheKey]Token
	inflight map[cacheKey]*refreshCall
}

var _ TokenSource = (*TokenCache)(nil)

// NewTokenCache creates a TokenCache
func NewTokenCache(cfg config.PingOneConfig, log zerolog.Logger) *TokenCache {
	return &TokenCache{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		log:        log.With().Str("service", "token-cache").Logger(),
		now:        time.Now,
		tokens:     make(map[cacheKey]Token),
		inflight:   make(map[cacheKey]*refreshCall),
	}
}

// GetToken returns a usable worker token for the given environment and
// client, hitting the token endpoint only on a cache miss or stale entry.
func (c *TokenCache) GetToken(ctx context.Context, environmentID, clientID, clientSecret string) (Token, error) {
	key := cacheKey{environmentID: environmentID, clientID: clientID}

	c.mu.Lock()
	if token, ok := c.tokens[key]; ok && token.Usable(c.now(), c.cfg.TokenBuffer) {
		c.mu.Unlock()
		c.log.Debug().
			Str("environment_id", environmentID).
			Str("client_id", clientID).
			Time("expires_at", token.ExpiresAt).
			Msg("Worker token reused")
		return token, nil
	}

	// Join an in-flight refresh for the same key instead of issuing a
	// second token request
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return Token{}, &AuthError{Message: ctx.Err().Error()}
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	token, err := c.requestToken(ctx, environmentID, clientID, clientSecret)

	c.mu.Lock()
	if err == nil {
		c.tokens[key] = token
	}
	delete(c.inflight, key)
	c.mu.Unlock()

	call.token = token
	call.err = err
	close(call.done)

	return token, err
}

// TestToken performs a token request without reading or writing the cache.
// Used by the credential-test endpoint.
func (c *TokenCache) TestToken(ctx context.Context, environmentID, clientID, clientSecret string) (Token, error) {
	return c.requestToken(ctx, environmentID, clientID, clientSecret)
}

// Invalidate drops the cached token for a key, forcing the next GetToken
// to hit the token endpoint. Called after a credential change.
func (c *TokenCache) Invalidate(environmentID, clientID string) {
	key := cacheKey{environmentID: environmentID, clientID: clientID}
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()

	c.log.Info().
		Str("environment_id", environmentID).
		Str("client_id", clientID).
		Msg("Worker token invalidated")
}

// requestToken performs a client-credentials grant against the provider's
// token endpoint using HTTP Basic auth
func (c *TokenCache) requestToken(ctx context.Context, environmentID, clientID, clientSecret string) (Token, error) {
	endpoint := fmt.Sprintf("%s/%s/as/token", strings.TrimRight(c.cfg.AuthBase, "/"), environmentID)
	form := url.Values{"grant_type": {"client_credentials"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, &AuthError{Message: err.Error()}
	}
	req.SetBasicAuth(clientID, clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, &AuthError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("environment_id", environmentID).
			Msg("Token request rejected")
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Message: tokenErrorMessage(body)}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Message: "malformed token response"}
	}
	if payload.AccessToken == "" {
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Message: "token response missing access_token"}
	}

	ttl := c.cfg.TokenTTL
	if payload.ExpiresIn > 0 {
		ttl = time.Duration(payload.ExpiresIn) * time.Second
	}
	token := Token{
		AccessToken: payload.AccessToken,
		ExpiresAt:   c.now().Add(ttl),
	}

	c.log.Info().
		Str("environment_id", environmentID).
		Str("client_id", clientID).
		Time("expires_at", token.ExpiresAt).
		Msg("Worker token obtained")

	return token, nil
}

func tokenErrorMessage(body []byte) string {
	var payload struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Description != "" {
			return payload.Description
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return "token endpoint rejected the request"
}
