// Package ultrasync is a client for the embedded web server of Interlogix
// UltraSync / ComNav alarm panels.
//
// The client logs in with a user name and PIN and then keeps a local copy of
// the panel's area and zone state, using three independent systems:
//  1. Request queue - every panel request is fire-and-forget; a 300ms tick
//     delivers responses, expires requests after 5s and resubmits repeating ones
//  2. Sequence sync - two loops compare the panel's sequence vectors every
//     5.5s and fetch only the banks whose sequence number moved
//  3. Session recovery - a rejected session triggers a background re-login
//     with prime number backoff
//
// Commands (arm, disarm, chime, zone bypass) travel through the same queue and
// their responses are applied as full-state updates.
package ultrasync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/st-keller/ultrasync/panel"
	"github.com/st-keller/ultrasync/queue"
	"github.com/st-keller/ultrasync/registry"
	"github.com/st-keller/ultrasync/seqsync"
	"github.com/st-keller/ultrasync/standard"
	"github.com/st-keller/ultrasync/transport"
	"github.com/st-keller/ultrasync/update"
	"github.com/st-keller/ultrasync/xmlvalue"
)

// DefaultUserAgent is the browser the panel expects to talk to.
const DefaultUserAgent = "Mozilla/5.0 (X11; Fedora; Linux x86_64; rv:69.0) Gecko/20100101 Firefox/69.0"

// MaxBackoffSec caps the re-login backoff.
const MaxBackoffSec = 59

// Re-login backoff sequence in seconds.
var backoffPrimes = []int{1, 2, 3, 5, 11, 23, 47, 61}

// Config holds client configuration. Host, User and Pin are required.
type Config struct {
	Host               string        // Panel host, optionally host:port (e.g. "zerowire")
	User               string        // Panel user name (e.g. "User 1")
	Pin                string        // User PIN
	UserAgent          string        // Sent with every request (default: DefaultUserAgent)
	Scheme             string        // "http" or "https" (default: "http")
	CAPath             string        // Optional CA bundle for https panels
	InsecureSkipVerify bool          // Accept self-signed panel certificates
	RequestTimeout     time.Duration // Per-request deadline (default: 5s)

	TickInterval     time.Duration // Queue tick (default: 300ms)
	SequenceInterval time.Duration // Sequence loop interval (default: 5.5s)
	Logger           *slog.Logger  // Structured log output (default: discard)
}

// Validate checks if all required config fields are present.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("Host required")
	}
	if c.User == "" {
		return fmt.Errorf("User required")
	}
	if c.Pin == "" {
		return fmt.Errorf("Pin required")
	}
	switch c.Scheme {
	case "", "http", "https":
	default:
		return fmt.Errorf("Scheme must be http or https, got %q", c.Scheme)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("RequestTimeout must be >= 0")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = update.Timeout.Duration()
	}
	if c.TickInterval <= 0 {
		c.TickInterval = update.Tick.Duration()
	}
	if c.SequenceInterval <= 0 {
		c.SequenceInterval = update.Sequence.Duration()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// Client talks to one panel.
type Client struct {
	config  Config
	baseURL string
	http    *http.Client

	registry *registry.Registry
	queue    *queue.Scheduler
	sync     *seqsync.Controller

	// Standard components (public access via getters)
	logs         *standard.RecentLogs
	connectivity *standard.ConnectivityTracker

	mu        sync.Mutex
	session   string
	areaNames panel.Names
	zoneNames panel.Names
	running   bool
	stopped   bool
	stopChan  chan struct{}

	// Backoff System state
	backoffIndex int
}

// New creates a client. It does not contact the panel; call Login and then Start.
func New(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config = config.withDefaults()
	baseURL := config.Scheme + "://" + config.Host

	// The queue owns request deadlines, so the client itself has no timeout.
	httpClient, err := transport.BuildHTTPClient(transport.Options{
		CAPath:             config.CAPath,
		InsecureSkipVerify: config.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}

	c := &Client{
		config:       config,
		baseURL:      baseURL,
		http:         httpClient,
		registry:     registry.New(),
		logs:         standard.NewRecentLogs(100, config.Logger),
		connectivity: standard.NewConnectivityTracker(),
		stopChan:     make(chan struct{}),
	}

	tr := transport.NewHTTPTransport(httpClient, config.UserAgent, baseURL+panel.LoginPagePath)
	c.queue, err = queue.New(tr, queue.Options{
		BaseURL:      baseURL,
		Session:      c.Session,
		Surface:      sessionSurface{c: c},
		Logs:         c.logs,
		Connectivity: c.connectivity,
		Timeout:      config.RequestTimeout,
		TickInterval: config.TickInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create request queue: %w", err)
	}

	c.sync = seqsync.New(c.queue, c.registry, seqsync.Options{
		Interval: config.SequenceInterval,
		Logs:     c.logs,
	})

	return c, nil
}

// Login authenticates against the panel and seeds the local state from the
// login and zones pages. It blocks until both pages have been read.
func (c *Client) Login(ctx context.Context) error {
	body, err := c.post(ctx, panel.LoginPath, url.Values{
		"lgname": {c.config.User},
		"lgpin":  {c.config.Pin},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	login, err := panel.ParseLogin(body)
	if err != nil {
		c.logs.Warn("Panel rejected login", map[string]interface{}{
			"user": c.config.User,
			"host": c.config.Host,
		})
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	body, err = c.post(ctx, panel.ZonesPath, url.Values{"sess": {login.Session}})
	if err != nil {
		return fmt.Errorf("%w: zones page: %w", ErrLoginFailed, err)
	}
	if xmlvalue.IsSentinel(body) {
		return fmt.Errorf("%w: zones page rejected session", ErrLoginFailed)
	}
	zones, err := panel.ParseZones(body)
	if err != nil {
		return fmt.Errorf("%w: zones page: %w", ErrLoginFailed, err)
	}

	c.registry.SeedAreas(login.AreaSequences, login.AreaStatus)
	c.registry.SeedZones(zones.ZoneSequences, zones.ZoneStatus)

	c.mu.Lock()
	c.session = login.Session
	c.areaNames = login.AreaNames
	c.zoneNames = zones.ZoneNames
	c.mu.Unlock()

	c.logs.Info("Logged in to panel", map[string]interface{}{
		"host":  c.config.Host,
		"user":  c.config.User,
		"areas": login.AreaNames.Count(),
		"zones": zones.ZoneNames.Count(),
	})
	return nil
}

// Logout ends the panel session and forgets the local state. Stop the
// client first; a running client would otherwise keep polling.
func (c *Client) Logout(ctx context.Context) error {
	session := c.Session()
	if session == "" {
		return ErrNotAuthenticated
	}

	_, err := c.post(ctx, panel.LogoutPath, url.Values{"sess": {session}})

	c.mu.Lock()
	c.session = ""
	c.areaNames = nil
	c.zoneNames = nil
	c.mu.Unlock()
	c.registry.Reset()

	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	c.logs.Info("Logged out of panel", map[string]interface{}{
		"host": c.config.Host,
	})
	return nil
}

// Start starts the request queue and both sequence loops. Login must have
// succeeded first.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("client already running")
	}
	if c.session == "" {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	c.running = true
	c.mu.Unlock()

	c.queue.Start()
	c.sync.Start()

	c.logs.Info("Panel client started", map[string]interface{}{
		"host":              c.config.Host,
		"tick_ms":           c.config.TickInterval.Milliseconds(),
		"sequence_interval": c.config.SequenceInterval.String(),
	})
	return nil
}

// Stop stops the loops and the queue and abandons any re-login in progress.
// A stopped client cannot be started again.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.running = false
	close(c.stopChan)
	c.mu.Unlock()

	c.sync.Stop()
	c.queue.Stop()

	c.logs.Info("Panel client stopped", map[string]interface{}{
		"host": c.config.Host,
	})
}

// Done is closed once the client has been stopped.
func (c *Client) Done() <-chan struct{} {
	return c.stopChan
}

// Session returns the current session token, or "" when logged out or
// while a re-login is in progress.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// GetLogs returns the logs component.
func (c *Client) GetLogs() *standard.RecentLogs {
	return c.logs
}

// GetConnectivity returns the per-endpoint exchange statistics.
func (c *Client) GetConnectivity() *standard.ConnectivityTracker {
	return c.connectivity
}

// Registry returns the local state cache. Use Registry().OnChange to follow
// bank updates.
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// Pending returns the number of requests in the queue.
func (c *Client) Pending() int {
	return c.queue.Len()
}

// post performs one synchronous form POST outside the queue (login pages).
func (c *Client) post(ctx context.Context, path string, form url.Values) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Referer", c.baseURL+panel.LoginPagePath)

	startTime := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(startTime)
	if err != nil {
		c.connectivity.Track(path, standard.OutcomeTimeout, latency, err.Error())
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.connectivity.Track(path, standard.OutcomeTimeout, latency, err.Error())
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.connectivity.Track(path, standard.OutcomeAuth, latency, fmt.Sprintf("status %d", resp.StatusCode))
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	c.connectivity.Track(path, standard.OutcomeSuccess, latency, "")
	return string(data), nil
}
