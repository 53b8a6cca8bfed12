// Package config reads provider settings from AD_* environment variables.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

// Env holds every setting the provider accepts from the environment. Provider
// schema attributes, when set, override these values.
type Env struct {
	// Connection
	Domain  string `env:"AD_DOMAIN"`
	LDAPURL string `env:"AD_LDAP_URL"`
	BaseDN  string `env:"AD_BASE_DN"`

	// Authentication
	Username       string `env:"AD_USERNAME"`
	Password       string `env:"AD_PASSWORD"`
	KerberosRealm  string `env:"AD_KERBEROS_REALM"`
	KerberosKeytab string `env:"AD_KERBEROS_KEYTAB"`
	KerberosConfig string `env:"AD_KERBEROS_CONFIG"`
	KerberosCCache string `env:"AD_KERBEROS_CCACHE"`
	KerberosSPN    string `env:"AD_KERBEROS_SPN"`

	// TLS
	UseTLS            bool   `env:"AD_USE_TLS" default:"true"`
	SkipTLSVerify     bool   `env:"AD_SKIP_TLS_VERIFY"`
	TLSCACertFile     string `env:"AD_TLS_CA_CERT_FILE"`
	TLSCACert         string `env:"AD_TLS_CA_CERT"`
	TLSClientCertFile string `env:"AD_TLS_CLIENT_CERT_FILE"`
	TLSClientKeyFile  string `env:"AD_TLS_CLIENT_KEY_FILE"`

	// Pool and retry; times in the units the provider schema uses
	MaxConnections int64 `env:"AD_MAX_CONNECTIONS" default:"10"`
	MaxIdleTime    int64 `env:"AD_MAX_IDLE_TIME" default:"300"`  // seconds
	ConnectTimeout int64 `env:"AD_CONNECT_TIMEOUT" default:"30"` // seconds
	MaxRetries     int64 `env:"AD_MAX_RETRIES" default:"3"`
	InitialBackoff int64 `env:"AD_INITIAL_BACKOFF" default:"500"` // milliseconds
	MaxBackoff     int64 `env:"AD_MAX_BACKOFF" default:"30"`      // seconds

	Lookup Lookup
}

// Lookup configures user resolution.
type Lookup struct {
	UserAttributes    []string `env:"AD_USER_ATTRIBUTES" envSeparator:"," default:"[\"dn\",\"distinguishedName\",\"userPrincipalName\",\"sAMAccountName\",\"mail\",\"lockoutTime\",\"whenCreated\",\"pwdLastSet\",\"userAccountControl\",\"employeeID\",\"sn\",\"givenName\",\"initials\",\"cn\",\"displayName\",\"comment\",\"description\"]"`
	GroupAttributes   []string `env:"AD_GROUP_ATTRIBUTES" envSeparator:"," default:"[\"objectCategory\",\"distinguishedName\",\"cn\",\"description\"]"`
	UserBaseDN        string   `env:"AD_USER_BASE_DN"`
	GroupBaseDN       string   `env:"AD_GROUP_BASE_DN"`
	IncludeMembership []string `env:"AD_INCLUDE_MEMBERSHIP" envSeparator:","`
}

var membershipKinds = []string{"user", "group", "all"}

// Load applies defaults and then the environment.
func Load() (*Env, error) {
	cfg := &Env{}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Lookup.normalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalize trims list entries, restores defaults for lists left empty and
// rejects unknown membership kinds.
func (l *Lookup) normalize() error {
	l.UserAttributes = cleanList(l.UserAttributes)
	l.GroupAttributes = cleanList(l.GroupAttributes)
	l.IncludeMembership = cleanList(l.IncludeMembership)

	if err := defaults.Set(l); err != nil {
		return fmt.Errorf("failed to set default values: %w", err)
	}

	for _, kind := range l.IncludeMembership {
		if !slices.Contains(membershipKinds, strings.ToLower(kind)) {
			return fmt.Errorf("AD_INCLUDE_MEMBERSHIP: unknown kind %q, expected one of %s", kind, strings.Join(membershipKinds, ", "))
		}
	}

	return nil
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// HasAuthentication reports whether password, Kerberos or client
// certificate credentials are set.
func (e *Env) HasAuthentication() bool {
	return (e.Username != "" && e.Password != "") ||
		e.KerberosRealm != "" ||
		(e.TLSClientCertFile != "" && e.TLSClientKeyFile != "")
}

// ConnectionConfig converts the settings to a transport configuration.
func (e *Env) ConnectionConfig() (*ldap.ConnectionConfig, error) {
	config := ldap.DefaultConfig()

	config.Domain = e.Domain
	if e.LDAPURL != "" {
		config.LDAPURLs = []string{e.LDAPURL}
	}
	config.BaseDN = e.BaseDN

	config.Username = e.Username
	config.Password = e.Password
	config.KerberosRealm = e.KerberosRealm
	config.KerberosKeytab = e.KerberosKeytab
	config.KerberosConfig = e.KerberosConfig
	config.KerberosCCache = e.KerberosCCache
	config.KerberosSPN = e.KerberosSPN

	config.UseTLS = e.UseTLS
	tlsConfig, err := e.tlsConfig(config.TLSConfig)
	if err != nil {
		return nil, err
	}
	config.TLSConfig = tlsConfig

	if e.MaxConnections > 0 {
		config.MaxConnections = int(e.MaxConnections)
	}
	if e.MaxIdleTime > 0 {
		config.MaxIdleTime = time.Duration(e.MaxIdleTime) * time.Second
	}
	if e.ConnectTimeout > 0 {
		config.Timeout = time.Duration(e.ConnectTimeout) * time.Second
	}
	if e.MaxRetries >= 0 {
		config.MaxRetries = int(e.MaxRetries)
	}
	if e.InitialBackoff > 0 {
		config.InitialBackoff = time.Duration(e.InitialBackoff) * time.Millisecond
	}
	if e.MaxBackoff > 0 {
		config.MaxBackoff = time.Duration(e.MaxBackoff) * time.Second
	}

	return config, nil
}

func (e *Env) tlsConfig(base *tls.Config) (*tls.Config, error) {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cfg.InsecureSkipVerify = e.SkipTLSVerify

	caPEM := []byte(e.TLSCACert)
	if e.TLSCACertFile != "" {
		data, err := os.ReadFile(e.TLSCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		caPEM = data
	}
	if len(caPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid PEM certificates found in CA certificate")
		}
		cfg.RootCAs = pool
	}

	switch {
	case e.TLSClientCertFile != "" && e.TLSClientKeyFile != "":
		cert, err := tls.LoadX509KeyPair(e.TLSClientCertFile, e.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case e.TLSClientCertFile != "" || e.TLSClientKeyFile != "":
		return nil, fmt.Errorf("tls_client_cert_file and tls_client_key_file must be set together")
	}

	return cfg, nil
}
