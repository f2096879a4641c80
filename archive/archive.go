// Package archive is the HTTP collaborator for the out-of-scope
// archive service: it posts append-only operation events and caches
// the archive's reachability status, since a failed archive push is
// never critical enough to fail the caller's own request.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/openanchor/anchorsvc/pkg/httpclient"
	"github.com/openanchor/anchorsvc/pkg/log"
)

// StatusCacheTTL bounds how long a cached archive-reachability status
// is trusted before the next push re-probes it.
const StatusCacheTTL = time.Hour

// Event is one append-only record pushed to the archive.
type Event struct {
	AnchorNumber uint64    `json:"anchor_number"`
	Operation    string    `json:"operation"`
	Timestamp    time.Time `json:"timestamp"`
}

// Config describes how to reach the archive endpoint.
type Config struct {
	Endpoint           string
	RootCAs            []string
	InsecureSkipVerify bool
}

// Client pushes Events to the archive endpoint over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	logger   log.Logger
	now      func() time.Time

	mu           sync.Mutex
	lastStatusOK bool
	lastChecked  time.Time
}

// NewClient builds a Client from cfg using the same custom CA pool and
// tuned transport timeouts as every other outbound HTTP call this
// service makes.
func NewClient(cfg Config, logger log.Logger, now func() time.Time) (*Client, error) {
	httpClient, err := httpclient.NewHTTPClient(cfg.RootCAs, cfg.InsecureSkipVerify)
	if err != nil {
		return nil, fmt.Errorf("build archive http client: %w", err)
	}
	return &Client{endpoint: cfg.Endpoint, http: httpClient, logger: logger, now: now}, nil
}

// Push posts ev to the archive. A failure is logged and reflected in
// the cached status but never returned as an error: archive delivery
// is a non-critical side effect of the caller's operation.
func (c *Client) Push(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		c.logger.Errorf("archive: marshal event: %v", err)
		c.recordStatus(false)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		c.logger.Errorf("archive: build request: %v", err)
		c.recordStatus(false)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warnf("archive: push failed, will retry on next event: %v", err)
		c.recordStatus(false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warnf("archive: push rejected with status %d", resp.StatusCode)
		c.recordStatus(false)
		return
	}
	c.recordStatus(true)
}

func (c *Client) recordStatus(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastStatusOK = ok
	c.lastChecked = c.now()
}

// Status reports the cached reachability of the archive endpoint. If
// the cache is older than StatusCacheTTL, the status is considered
// stale rather than failed.
type Status struct {
	OK    bool
	Stale bool
}

// Status returns the cached archive status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastChecked.IsZero() {
		return Status{OK: true, Stale: true}
	}
	stale := c.now().Sub(c.lastChecked) > StatusCacheTTL
	return Status{OK: c.lastStatusOK, Stale: stale}
}
