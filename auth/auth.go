// Package auth obtains OAuth2 client-credentials tokens for outbound calls.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCred caches a token and refreshes it when it expires. It is safe
// for concurrent use.
type ClientCred struct {
	conf clientcredentials.Config

	mu    sync.Mutex
	token *oauth2.Token
}

func NewClientCred(conf Conf) *ClientCred {
	return &ClientCred{conf: conf.toOauth2Config()}
}

// Token returns a valid access token, fetching a new one when the cached
// token is missing or expired.
func (c *ClientCred) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Valid() {
		return c.token, nil
	}
	return c.fetch(ctx)
}

// ForceRefresh discards the cached token, typically after the remote side
// answered 401.
func (c *ClientCred) ForceRefresh(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetch(ctx)
}

func (c *ClientCred) fetch(ctx context.Context) (*oauth2.Token, error) {
	tok, err := c.conf.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	c.token = tok
	return tok, nil
}

// SetAuthHeader sets the Authorization header of r.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	tok, err := c.Token(r.Context())
	if err != nil {
		return err
	}
	tok.SetAuthHeader(r)
	return nil
}
