package planning

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	ErrNotFound     = errors.New("snapshot not found")
	ErrUnauthorized = errors.New("planning api rejected credentials")
)

// APIError is a non-2xx answer from the planning service.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("planning api %s %s: status %d: %s", e.Method, e.URL, e.Status, truncate(e.Body, 2048))
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// Transient reports whether the request may succeed when repeated.
func (e *APIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type Config struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// InsecureTLS disables certificate checks; the test environments use self-signed certificates.
	InsecureTLS bool
	Attempts    int
	Backoff     time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Realm == "" {
		c.Realm = "Esarom"
	}
	if c.ClientID == "" {
		c.ClientID = "apiClient-test"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	return c
}

func (c Config) TokenURL() string {
	return c.BaseURL + "/keycloak/realms/" + c.Realm + "/protocol/openid-connect/token"
}

func (c Config) APIBase() string {
	return c.BaseURL + "/esarom-be/api/v1"
}

// Client talks to the planning service. Tokens are fetched and refreshed by the oauth2 transport.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("planning base url is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("CLIENT_SECRET is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	base := &http.Client{Timeout: cfg.Timeout}
	if cfg.InsecureTLS {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		base.Transport = tr
		log.Warn("planning api: TLS verification disabled")
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL(),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	hc := cc.Client(ctx)
	hc.Timeout = cfg.Timeout
	return &Client{cfg: cfg, http: hc, log: log}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	target := c.cfg.APIBase() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.Attempts; attempt++ {
		if attempt > 0 {
			wait := c.cfg.Backoff * time.Duration(1<<(attempt-1))
			c.log.Warn("planning api: retrying",
				zap.String("method", method), zap.String("path", path),
				zap.Int("attempt", attempt+1), zap.Duration("backoff", wait), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		raw, err := c.once(ctx, method, target, payload)
		if err == nil {
			if out == nil || len(bytes.TrimSpace(raw)) == 0 {
				return nil
			}
			if err := decodeJSON(raw, out); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, path, err)
			}
			return nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			return err
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("planning api call",
		zap.String("method", method), zap.String("url", target),
		zap.Int("status", resp.StatusCode), zap.Duration("latency", time.Since(start)))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, &APIError{Method: method, URL: target, Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var oauthErr *oauth2.RetrieveError
	if errors.As(err, &oauthErr) {
		return oauthErr.Response != nil && oauthErr.Response.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func decodeJSON(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
