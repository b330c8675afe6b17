// Package httpclient builds the *http.Client used to reach the directory API.
package httpclient

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const DefaultTimeout = 20 * time.Second

// New returns a client with a request timeout and TLS 1.2 minimum. A
// non-empty token is sent as a bearer Authorization header on every request.
func New(timeout time.Duration, token string) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	if token == "" {
		return &http.Client{Timeout: timeout, Transport: base}
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: base})
	c := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	c.Timeout = timeout
	return c
}
