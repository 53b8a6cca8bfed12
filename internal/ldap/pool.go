package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
const MaxConnectionPoolLimit = 100

// maxAuthAge is how long a pooled bind is trusted before it is redone.
const maxAuthAge = 5 * time.Minute

// connectionPool implements ConnectionPool.
type connectionPool struct {
	ctx         context.Context // logging context carrying the ldap subsystem
	config      *ConnectionConfig
	servers     []*ServerInfo
	connections chan *PooledConnection
	mu          sync.RWMutex
	closed      bool

	// dial is replaced in tests.
	dial func(ctx context.Context, server *ServerInfo) (*ldap.Conn, error)

	activeConns  atomic.Int64
	totalCreated atomic.Int64
	totalErrors  atomic.Int64
	startTime    time.Time

	healthStop chan struct{}
	healthWg   sync.WaitGroup
}

// NewConnectionPool validates config, resolves the server list and starts
// the health checker. No connection is opened until Get is called.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig) (ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	servers, err := resolveServers(ctx, config, NewSRVDiscovery())
	if err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	pool := &connectionPool{
		ctx:         ctx,
		config:      config,
		servers:     servers,
		connections: make(chan *PooledConnection, config.MaxConnections),
		startTime:   time.Now(),
		healthStop:  make(chan struct{}),
	}
	pool.dial = pool.dialServer

	if config.HealthCheck > 0 {
		pool.startHealthChecker()
	}

	tflog.SubsystemDebug(ctx, "ldap", "Connection pool created", map[string]any{
		"server_count":    len(servers),
		"max_connections": config.MaxConnections,
	})

	return pool, nil
}

// resolveServers prefers configured URLs over SRV discovery.
func resolveServers(ctx context.Context, config *ConnectionConfig, discovery *SRVDiscovery) ([]*ServerInfo, error) {
	if len(config.LDAPURLs) > 0 {
		servers := make([]*ServerInfo, 0, len(config.LDAPURLs))
		for _, u := range config.LDAPURLs {
			server, err := ParseLDAPURL(u)
			if err != nil {
				return nil, fmt.Errorf("invalid LDAP URL %s: %w", u, err)
			}
			servers = append(servers, server)
		}
		return servers, nil
	}

	if config.Domain == "" {
		return nil, errors.New("either domain or LDAP URLs must be specified")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	return discovery.DiscoverServers(lookupCtx, config.Domain)
}

// Get returns an idle healthy connection or dials a new one.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, errors.New("connection pool is closed")
	}

	for {
		select {
		case conn := <-p.connections:
			if !p.isConnectionHealthy(conn) {
				p.closeConnection(conn)
				continue
			}
			if p.config.HasAuthentication() && needsReAuthentication(conn) {
				if err := p.authenticateConnection(ctx, conn); err != nil {
					p.closeConnection(conn)
					continue
				}
			}
			conn.lastUsed = time.Now()
			p.activeConns.Add(1)
			return conn, nil
		default:
			return p.createConnection(ctx)
		}
	}
}

// createConnection walks the server list with exponential backoff between rounds.
func (p *connectionPool) createConnection(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range p.servers {
			conn, err := p.createSingleConnection(ctx, server)
			if err != nil {
				lastErr = err
				p.totalErrors.Add(1)
				tflog.SubsystemDebug(p.ctx, "ldap", "Connection attempt failed", map[string]any{
					"server":  ServerInfoToURL(server),
					"attempt": attempt + 1,
					"error":   err.Error(),
				})
				continue
			}

			p.totalCreated.Add(1)
			p.activeConns.Add(1)
			return conn, nil
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	return nil, NewConnectionError("failed to create connection after retries", true, lastErr)
}

func (p *connectionPool) createSingleConnection(ctx context.Context, server *ServerInfo) (*PooledConnection, error) {
	conn, err := p.dial(ctx, server)
	if err != nil {
		return nil, err
	}

	pc := &PooledConnection{
		conn:         conn,
		lastUsed:     time.Now(),
		healthy:      true,
		serverInfo:   server,
		returnToPool: p.returnConnection,
	}

	if p.config.HasAuthentication() {
		if err := p.authenticateConnection(ctx, pc); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to authenticate connection to %s: %w", ServerInfoToURL(server), err)
		}
	}

	return pc, nil
}

// dialServer opens LDAPS directly, or plain LDAP upgraded with StartTLS unless SkipTLS is set.
func (p *connectionPool) dialServer(_ context.Context, server *ServerInfo) (*ldap.Conn, error) {
	url := ServerInfoToURL(server)
	tlsConfig := tlsConfigFor(p.config.TLSConfig, server)

	var conn *ldap.Conn
	var err error
	if server.UseTLS {
		conn, err = ldap.DialURL(url, ldap.DialWithTLSConfig(tlsConfig))
	} else {
		conn, err = ldap.DialURL(url)
		if err == nil && p.config.UseTLS && !p.config.SkipTLS {
			if err = conn.StartTLS(tlsConfig); err != nil {
				_ = conn.Close()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	conn.SetTimeout(p.config.Timeout)
	return conn, nil
}

// tlsConfigFor clones base and pins ServerName to the server host.
func tlsConfigFor(base *tls.Config, server *ServerInfo) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" && server != nil {
		cfg.ServerName = server.Host
	}
	return cfg
}

func (p *connectionPool) authenticateConnection(ctx context.Context, pc *PooledConnection) error {
	if pc == nil || pc.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	if err := authenticate(ctx, pc.conn, p.config, pc.serverInfo); err != nil {
		pc.authenticated = false
		pc.authTime = time.Time{}
		return err
	}

	pc.authenticated = true
	pc.authTime = time.Now()
	return nil
}

func needsReAuthentication(conn *PooledConnection) bool {
	if conn == nil || !conn.authenticated {
		return true
	}
	return time.Since(conn.authTime) > maxAuthAge
}

func (p *connectionPool) returnConnection(conn *PooledConnection) {
	if conn == nil {
		return
	}

	p.activeConns.Add(-1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.isConnectionHealthy(conn) {
		p.closeConnection(conn)
		return
	}

	select {
	case p.connections <- conn:
	default:
		p.closeConnection(conn)
	}
}

func (p *connectionPool) isConnectionHealthy(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil || !conn.healthy {
		return false
	}
	if conn.conn.IsClosing() {
		return false
	}
	if time.Since(conn.lastUsed) > p.config.MaxIdleTime {
		return false
	}
	if p.config.HasAuthentication() && !conn.authenticated {
		return false
	}
	return true
}

func (p *connectionPool) closeConnection(conn *PooledConnection) {
	if conn == nil || conn.conn == nil {
		return
	}
	_ = conn.conn.Close()
	conn.healthy = false
	conn.authenticated = false
	conn.authTime = time.Time{}
}

// Close closes all idle connections and stops the health checker.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// The health checker may be returning connections; let it finish first.
	close(p.healthStop)
	p.healthWg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	close(p.connections)
	for conn := range p.connections {
		p.closeConnection(conn)
	}

	return nil
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	idle := len(p.connections)
	active := p.activeConns.Load()
	return PoolStats{
		Total:   idle + int(active),
		Active:  active,
		Idle:    idle,
		Created: p.totalCreated.Load(),
		Errors:  p.totalErrors.Load(),
		Uptime:  time.Since(p.startTime),
	}
}

func (p *connectionPool) startHealthChecker() {
	ticker := time.NewTicker(p.config.HealthCheck)

	p.healthWg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.performHealthCheck()
			case <-p.healthStop:
				return
			}
		}
	})
}

// performHealthCheck probes up to three idle connections against the root DSE.
func (p *connectionPool) performHealthCheck() {
	var toCheck []*PooledConnection

drain:
	for range 3 {
		select {
		case conn, ok := <-p.connections:
			if !ok {
				return
			}
			toCheck = append(toCheck, conn)
		default:
			break drain
		}
	}

	for _, conn := range toCheck {
		if p.testConnection(conn) {
			// returnConnection decrements the active count.
			p.activeConns.Add(1)
			p.returnConnection(conn)
			continue
		}
		tflog.SubsystemDebug(p.ctx, "ldap", "Dropping unhealthy pooled connection", map[string]any{
			"server": ServerInfoToURL(conn.serverInfo),
		})
		p.closeConnection(conn)
	}
}

func (p *connectionPool) testConnection(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil {
		return false
	}

	if p.config.HasAuthentication() && needsReAuthentication(conn) {
		if err := p.authenticateConnection(p.ctx, conn); err != nil {
			return false
		}
	}

	if _, err := conn.conn.Search(rootDSERequest(nil)); err != nil {
		conn.authenticated = false
		return false
	}
	return true
}

// rootDSERequest builds a base-object search of the root DSE.
func rootDSERequest(attributes []string) *ldap.SearchRequest {
	if attributes == nil {
		attributes = []string{"defaultNamingContext"}
	}
	return ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		attributes,
		nil,
	)
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}
	if config.MaxConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	}
	if config.MaxIdleTime <= 0 {
		return errors.New("MaxIdleTime must be positive")
	}
	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}
	if config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}
	return nil
}

// Close hands the connection back to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

func (pc *PooledConnection) Conn() *ldap.Conn {
	return pc.conn
}

func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}

func (pc *PooledConnection) IsHealthy() bool {
	return pc.healthy
}

func (pc *PooledConnection) LastUsed() time.Time {
	return pc.lastUsed
}
