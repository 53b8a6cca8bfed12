package ldap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for LDAP connections.
type ConnectionConfig struct {
	// Connection settings
	Domain   string        // Domain for SRV discovery
	LDAPURLs []string      // Direct LDAP URLs (overrides domain)
	BaseDN   string        // Default naming context; discovered from the root DSE when empty
	Timeout  time.Duration // Connection timeout

	// Authentication settings
	Username               string // Username for authentication (DN, UPN, or SAM format)
	Password               string // Password for simple bind authentication
	KerberosRealm          string // Kerberos realm for GSSAPI authentication
	KerberosKeytab         string // Path to Kerberos keytab file
	KerberosConfig         string // Path to krb5.conf; generated at runtime when empty
	KerberosCCache         string // Path to Kerberos credential cache
	KerberosSPN            string // Service principal override
	KerberosDNSLookupKDC   bool
	KerberosDNSLookupRealm bool

	// TLS settings
	TLSConfig *tls.Config
	UseTLS    bool // Force TLS usage
	SkipTLS   bool // Skip StartTLS on plain connections

	// Pool settings
	MaxConnections int           // Maximum connections in pool
	MaxIdleTime    time.Duration // Maximum idle time before connection cleanup
	HealthCheck    time.Duration // Health check interval

	// Retry settings
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:                30 * time.Second,
		UseTLS:                 true,
		MaxConnections:         10,
		MaxIdleTime:            5 * time.Minute,
		HealthCheck:            30 * time.Second,
		MaxRetries:             3,
		InitialBackoff:         500 * time.Millisecond,
		MaxBackoff:             30 * time.Second,
		BackoffFactor:          2.0,
		KerberosDNSLookupKDC:   true,
		KerberosDNSLookupRealm: false,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// PooledConnection represents a connection in the pool.
type PooledConnection struct {
	conn          *ldap.Conn
	lastUsed      time.Time
	healthy       bool
	authenticated bool
	authTime      time.Time
	serverInfo    *ServerInfo
	returnToPool  func(*PooledConnection)
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// ConnectionPool manages a pool of LDAP connections.
type ConnectionPool interface {
	Get(ctx context.Context) (*PooledConnection, error)
	Close() error
	Stats() PoolStats
}

// PoolStats provides statistics about the connection pool.
type PoolStats struct {
	Total   int
	Active  int64
	Idle    int
	Created int64
	Errors  int64
	Uptime  time.Duration
}

// Client is the read-only directory client used by lookups.
type Client interface {
	// Connect verifies that a connection can be established and bound.
	Connect(ctx context.Context) error
	Close() error

	// BindWithConfig authenticates using the ConnectionConfig credentials.
	BindWithConfig(ctx context.Context) error

	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	// GetBaseDN returns the configured base DN, falling back to the
	// defaultNamingContext advertised by the root DSE.
	GetBaseDN(ctx context.Context) (string, error)

	Ping(ctx context.Context) error
	Stats() PoolStats
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	SizeLimit    int
	TimeLimit    time.Duration
	DerefAliases DerefAliases
}

// SearchResult contains search results and metadata.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
	HasMore bool
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// ParseSearchScope maps the usual textual scope names onto a SearchScope.
// The second return value is false for names it does not recognize.
func ParseSearchScope(s string) (SearchScope, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base", "baseobject":
		return ScopeBaseObject, true
	case "one", "onelevel", "one-level", "singlelevel":
		return ScopeSingleLevel, true
	case "sub", "subtree", "wholesubtree":
		return ScopeWholeSubtree, true
	default:
		return ScopeWholeSubtree, false
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota
	AuthMethodKerberos
	AuthMethodExternal
)

func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodExternal:
		return "external"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.Username != "") {
		return AuthMethodKerberos
	}

	if c.Username != "" {
		return AuthMethodSimpleBind
	}

	if c.TLSConfig != nil && len(c.TLSConfig.Certificates) > 0 {
		return AuthMethodExternal
	}

	return AuthMethodSimpleBind
}

// HasAuthentication checks if any authentication method is configured.
func (c *ConnectionConfig) HasAuthentication() bool {
	hasPassword := c.Username != "" && c.Password != ""
	hasKerberos := c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.Username != "")
	hasExternal := c.TLSConfig != nil && len(c.TLSConfig.Certificates) > 0

	return hasPassword || hasKerberos || hasExternal
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
