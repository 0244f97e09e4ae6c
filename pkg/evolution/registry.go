package evolution

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Connection is a fully validated, immutable connection profile.
type Connection struct {
	Name      string
	ServerURL string
	APIKey    string
	HTTP      HTTPConfig
	Retry     RetryConfig
}

// ConnectionRegistry resolves named connection profiles from static
// configuration and runtime registrations, and tracks the active one.
//
// Resolution precedence is resolved-cache first, then runtime registrations,
// then static configuration. Once a name has been resolved its profile does
// not silently change: AddRuntime for an already-resolved name takes effect
// only after Purge. Callers already holding the profile are never surprised
// by a reconfiguration mid-flight.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	cfg      Config
	resolved map[string]*Connection
	runtime  map[string]ConnectionConfig
	active   string

	group singleflight.Group
}

func NewConnectionRegistry(cfg Config) *ConnectionRegistry {
	if cfg.DefaultConnection == "" {
		cfg.DefaultConnection = "default"
	}
	return &ConnectionRegistry{
		cfg:      cfg,
		resolved: make(map[string]*Connection),
		runtime:  make(map[string]ConnectionConfig),
		active:   "default",
	}
}

// Resolve returns the profile for name, validating and caching it on first
// use. Concurrent resolutions of the same name share one validation pass.
func (r *ConnectionRegistry) Resolve(name string) (*Connection, error) {
	r.mu.RLock()
	conn, ok := r.resolved[name]
	r.mu.RUnlock()
	if ok {
		return conn, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		r.mu.RLock()
		if conn, ok := r.resolved[name]; ok {
			r.mu.RUnlock()
			return conn, nil
		}
		source, found := r.lookupLocked(name)
		r.mu.RUnlock()
		if !found {
			return nil, newConnectionNotFoundError(name)
		}

		conn, err := buildConnection(name, source)
		if err != nil {
			// Partial profiles are never cached.
			return nil, err
		}

		r.mu.Lock()
		r.resolved[name] = conn
		r.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Connection), nil
}

// lookupLocked finds the raw configuration for name: runtime registrations
// win over static config; "default" additionally falls back to the
// configured default connection name (legacy single-connection shape).
func (r *ConnectionRegistry) lookupLocked(name string) (ConnectionConfig, bool) {
	if cc, ok := r.runtime[name]; ok {
		return cc, true
	}
	if cc, ok := r.cfg.Connections[name]; ok {
		return cc, true
	}
	if name == "default" && r.cfg.DefaultConnection != "default" {
		if cc, ok := r.cfg.Connections[r.cfg.DefaultConnection]; ok {
			return cc, true
		}
	}
	return ConnectionConfig{}, false
}

// SetActive validates name via Resolve and records it as the active
// connection.
func (r *ConnectionRegistry) SetActive(name string) error {
	if _, err := r.Resolve(name); err != nil {
		return err
	}
	r.mu.Lock()
	r.active = name
	r.mu.Unlock()
	return nil
}

// Active returns the currently active connection name.
func (r *ConnectionRegistry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// AddRuntime registers or overwrites a profile outside static configuration.
// The profile is validated immediately; an already-resolved same-named
// profile keeps precedence until Purge.
func (r *ConnectionRegistry) AddRuntime(name string, cc ConnectionConfig) error {
	if _, err := buildConnection(name, cc); err != nil {
		return err
	}
	r.mu.Lock()
	r.runtime[name] = cc
	r.mu.Unlock()
	return nil
}

// Remove drops a runtime profile and its cached resolution. If it was the
// active connection, active reverts to "default".
func (r *ConnectionRegistry) Remove(name string) {
	r.mu.Lock()
	delete(r.runtime, name)
	delete(r.resolved, name)
	if r.active == name {
		r.active = "default"
	}
	r.mu.Unlock()
}

// Purge clears the resolution cache and all runtime registrations, then
// eagerly re-resolves "default" from the original configuration so
// misconfiguration surfaces immediately.
func (r *ConnectionRegistry) Purge() error {
	r.mu.Lock()
	r.resolved = make(map[string]*Connection)
	r.runtime = make(map[string]ConnectionConfig)
	r.active = "default"
	r.mu.Unlock()

	if _, err := r.Resolve("default"); err != nil {
		if IsKind(err, KindConnectionNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// ListAvailable returns the deduplicated, sorted union of config-declared,
// runtime-added and already-resolved connection names.
func (r *ConnectionRegistry) ListAvailable() []string {
	r.mu.RLock()
	names := make(map[string]struct{}, len(r.cfg.Connections)+len(r.runtime)+len(r.resolved))
	for name := range r.cfg.Connections {
		names[name] = struct{}{}
	}
	for name := range r.runtime {
		names[name] = struct{}{}
	}
	for name := range r.resolved {
		names[name] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func buildConnection(name string, cc ConnectionConfig) (*Connection, error) {
	serverURL := strings.TrimSpace(cc.ServerURL)
	if serverURL == "" {
		return nil, newConfigurationError("connection %q is missing server_url", name)
	}
	if strings.TrimSpace(cc.APIKey) == "" {
		return nil, newConfigurationError("connection %q is missing api_key", name)
	}

	parsed, err := url.Parse(serverURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, newConfigurationError("connection %q has a malformed server_url: %q", name, serverURL)
	}

	conn := &Connection{
		Name:      name,
		ServerURL: strings.TrimRight(serverURL, "/"),
		APIKey:    cc.APIKey,
		HTTP:      cc.HTTP,
		Retry:     cc.Retry,
	}
	if conn.HTTP.Timeout <= 0 {
		conn.HTTP.Timeout = defaultHTTPConfig().Timeout
	}
	if conn.HTTP.ConnectTimeout <= 0 {
		conn.HTTP.ConnectTimeout = defaultHTTPConfig().ConnectTimeout
	}
	if conn.Retry.MaxAttempts <= 0 {
		conn.Retry.MaxAttempts = defaultRetryConfig().MaxAttempts
	}
	if conn.Retry.BaseDelay <= 0 {
		conn.Retry.BaseDelay = defaultRetryConfig().BaseDelay
	}
	if len(conn.Retry.RetryableStatusCodes) == 0 {
		conn.Retry.RetryableStatusCodes = defaultRetryConfig().RetryableStatusCodes
	}
	return conn, nil
}
