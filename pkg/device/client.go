// Package device talks to the config endpoint of a single dashboard device.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"dashmaster/services/packs"
)

// DefaultBaseURLPattern targets the bench-local relay port for a slot.
const DefaultBaseURLPattern = "http://127.0.0.1:{port}"

// Resolver renders device base URLs from a pattern with {host} and {port}
// placeholders.
type Resolver struct {
	pattern string
}

func NewResolver(pattern string) *Resolver {
	if pattern == "" {
		pattern = DefaultBaseURLPattern
	}
	return &Resolver{pattern: pattern}
}

// BaseURL renders the base URL for one device.
func (r *Resolver) BaseURL(host string, port int) string {
	repl := strings.NewReplacer("{host}", host, "{port}", strconv.Itoa(port))
	return repl.Replace(r.pattern)
}

// PushError reports a failed artifact delivery. Status is zero when the
// device never produced a response (transport failure after retries).
type PushError struct {
	Kind   packs.Kind
	Status int
	Body   string
	Err    error
}

func (e *PushError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("push %s: device returned %d: %s", e.Kind, e.Status, e.Body)
	}
	return fmt.Sprintf("push %s: %v", e.Kind, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// Config tunes the push client. Zero values select the defaults used against
// real hardware: 5s per request, 3 attempts, exponential backoff from 500ms
// capped at 4s.
type Config struct {
	Timeout     time.Duration
	Attempts    int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 4 * time.Second
	}
	return c
}

// Client pushes artifacts to device config endpoints. Transport-level
// failures are retried with backoff; a delivered non-2xx response is
// terminal, the device has spoken.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// PushArtifact POSTs one artifact to the device.
func (c *Client) PushArtifact(ctx context.Context, baseURL string, art packs.Artifact) error {
	url := strings.TrimRight(baseURL, "/") + art.Kind.DevicePath()

	backoff := retry.NewExponential(c.cfg.BackoffBase)
	backoff = retry.WithCappedDuration(c.cfg.BackoffCap, backoff)
	backoff = retry.WithMaxRetries(uint64(c.cfg.Attempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(art.Data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", art.Kind.ContentType())

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &PushError{Kind: art.Kind, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	var perr *PushError
	if errors.As(err, &perr) {
		return perr
	}
	return &PushError{Kind: art.Kind, Err: err}
}

// PushPack delivers every artifact in kind order and stops at the first
// failure. The device applies each POST as it lands, so a mid-pack failure
// can leave it partially updated; the caller treats any failure as a failed
// delivery and records nothing.
func (c *Client) PushPack(ctx context.Context, baseURL string, pack packs.Pack) error {
	for _, kind := range pack.Kinds() {
		if err := c.PushArtifact(ctx, baseURL, pack[kind]); err != nil {
			return err
		}
	}
	return nil
}
