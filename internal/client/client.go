package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Options struct {
	BaseURL string

	// Token is sent as a bearer token when set. Otherwise TenantID and Actor
	// travel as headers, which the server accepts when JWT auth is off.
	Token    string
	TenantID uuid.UUID
	Actor    string

	Timeout    time.Duration
	MaxRetries int

	HTTPClient *http.Client
}

// Client talks to the rollout API.
type Client struct {
	baseURL  string
	token    string
	tenantID uuid.UUID
	actor    string

	timeout    time.Duration
	maxRetries int

	httpClient *http.Client
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		tenantID:   opts.TenantID,
		actor:      strings.TrimSpace(opts.Actor),
		timeout:    timeout,
		maxRetries: maxRetries,
		httpClient: hc,
	}, nil
}

// NewFromEnv reads FLEET_API_URL, FLEET_API_TOKEN, FLEET_TENANT_ID, FLEET_ACTOR,
// FLEET_API_TIMEOUT_SECONDS and FLEET_API_MAX_RETRIES.
func NewFromEnv() (*Client, error) {
	var tenantID uuid.UUID
	if raw := strings.TrimSpace(os.Getenv("FLEET_TENANT_ID")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errors.New("invalid FLEET_TENANT_ID")
		}
		tenantID = id
	}
	return New(Options{
		BaseURL:    getEnv("FLEET_API_URL", "http://localhost:8080"),
		Token:      os.Getenv("FLEET_API_TOKEN"),
		TenantID:   tenantID,
		Actor:      os.Getenv("FLEET_ACTOR"),
		Timeout:    time.Duration(intFromEnv("FLEET_API_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxRetries: intFromEnv("FLEET_API_MAX_RETRIES", 2),
	})
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) setHeaders(req *http.Request, hdr http.Header) {
	req.Header.Set("Accept", "application/json")
	if req.Body != nil && req.Body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		if c.tenantID != uuid.Nil {
			req.Header.Set("X-Tenant-Id", c.tenantID.String())
		}
		if c.actor != "" {
			req.Header.Set("X-Actor", c.actor)
		}
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

// doJSON sends body and decodes a 2xx response into out. Only GETs are
// retried; commands are not idempotent and surface their first failure.
func (c *Client) doJSON(ctx context.Context, timeout time.Duration, method string, path string, hdr http.Header, body any, out any) (http.Header, error) {
	var buf []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = b
	}

	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retries := 0
	if method == http.MethodGet {
		retries = c.maxRetries
	}

	var lastErr error
	backoff := 250 * time.Millisecond
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx2.Err() != nil {
			return nil, ctx2.Err()
		}
		var rdr io.Reader = http.NoBody
		if buf != nil {
			rdr = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx2, method, c.baseURL+path, rdr)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req, hdr)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
			_ = resp.Body.Close()
			if readErr != nil {
				return nil, readErr
			}
			switch {
			case resp.StatusCode == http.StatusNotModified:
				return resp.Header, ErrNotModified
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				herr := parseHTTPError(resp.StatusCode, raw)
				lastErr = herr
				if !herr.Temporary() {
					return resp.Header, herr
				}
			default:
				if out != nil && len(raw) > 0 {
					if err := json.Unmarshal(raw, out); err != nil {
						return resp.Header, err
					}
				}
				return resp.Header, nil
			}
		}

		if attempt < retries {
			select {
			case <-ctx2.Done():
				return nil, ctx2.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	if lastErr == nil {
		lastErr = errors.New("request failed")
	}
	return nil, lastErr
}

func getEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
