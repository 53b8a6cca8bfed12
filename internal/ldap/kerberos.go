package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
)

// kerberosPrincipal is the principal resolved from a ConnectionConfig.
type kerberosPrincipal struct {
	Username string
	Realm    string
}

// performKerberosAuth binds conn using GSSAPI. Shared by the client and the pool.
func performKerberosAuth(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	principal, err := resolveKerberosPrincipal(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := createGSSAPIClient(ctx, cfg, principal)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	tflog.SubsystemDebug(ctx, "ldap", "Performing GSSAPI bind", map[string]any{
		"principal": principal.Username + "@" + principal.Realm,
		"spn":       spn,
	})

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// resolveKerberosPrincipal splits user@REALM usernames and checks that some
// credential source exists. cfg is not modified.
func resolveKerberosPrincipal(cfg *ConnectionConfig) (kerberosPrincipal, error) {
	if cfg == nil {
		return kerberosPrincipal{}, fmt.Errorf("configuration cannot be nil")
	}

	p := kerberosPrincipal{Username: cfg.Username, Realm: cfg.KerberosRealm}
	if user, realm, ok := strings.Cut(cfg.Username, "@"); ok && p.Realm == "" {
		p.Username, p.Realm = user, realm
	}
	if p.Realm == "" && cfg.Domain != "" {
		p.Realm = strings.ToUpper(cfg.Domain)
	}

	if p.Realm == "" {
		return p, fmt.Errorf("kerberos realm is required (set kerberos_realm or include realm in username)")
	}

	if !hasKerberosCredentials(cfg) {
		return p, fmt.Errorf("no suitable Kerberos credentials found: provide kerberos_ccache, kerberos_keytab, password, or ensure default credential cache/keytab exists")
	}

	if p.Username == "" && !hasCCache(cfg) {
		return p, fmt.Errorf("username (principal) is required for Kerberos authentication")
	}

	return p, nil
}

// createGSSAPIClient logs in with the first available credential source:
// credential cache, then keytab, then password.
func createGSSAPIClient(ctx context.Context, cfg *ConnectionConfig, p kerberosPrincipal) (*gssapi.Client, error) {
	krbConf, err := loadKrb5Config(ctx, cfg, p.Realm)
	if err != nil {
		return nil, err
	}

	settings := krb5client.DisablePAFXFAST(true)

	if path := firstExisting(cfg.KerberosCCache, getDefaultCCachePath()); path != "" {
		ccache, err := credentials.LoadCCache(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load credential cache %s: %w", path, err)
		}
		cl, err := krb5client.NewFromCCache(ccache, krbConf, settings)
		if err != nil {
			return nil, fmt.Errorf("failed to create client from credential cache: %w", err)
		}
		tflog.SubsystemDebug(ctx, "ldap", "Using Kerberos credential cache", map[string]any{"ccache": path})
		return &gssapi.Client{Client: cl}, nil
	}

	var cl *krb5client.Client
	if path := firstExisting(cfg.KerberosKeytab, getDefaultKeytabPath()); path != "" && p.Username != "" {
		kt, err := keytab.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load keytab %s: %w", path, err)
		}
		cl = krb5client.NewWithKeytab(p.Username, p.Realm, kt, krbConf, settings)
		tflog.SubsystemDebug(ctx, "ldap", "Using Kerberos keytab", map[string]any{"keytab": path})
	} else if p.Username != "" && cfg.Password != "" {
		cl = krb5client.NewWithPassword(p.Username, p.Realm, cfg.Password, krbConf, settings)
		tflog.SubsystemDebug(ctx, "ldap", "Using Kerberos password authentication")
	} else {
		return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
	}

	if err := cl.Login(); err != nil {
		return nil, fmt.Errorf("kerberos login failed: %w", err)
	}

	return &gssapi.Client{Client: cl}, nil
}

// loadKrb5Config reads cfg.KerberosConfig, or generates a DNS-discovery
// configuration for realm when no file is configured.
func loadKrb5Config(ctx context.Context, cfg *ConnectionConfig, realm string) (*krb5config.Config, error) {
	if cfg.KerberosConfig != "" {
		if !fileExists(cfg.KerberosConfig) {
			return nil, fmt.Errorf("kerberos configuration file not found at %s", cfg.KerberosConfig)
		}
		conf, err := krb5config.Load(cfg.KerberosConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", cfg.KerberosConfig, err)
		}
		return conf, nil
	}

	text, err := generateRuntimeKrb5Conf(ctx, realm, cfg.Domain, cfg.KerberosDNSLookupKDC, cfg.KerberosDNSLookupRealm)
	if err != nil {
		return nil, err
	}
	conf, err := krb5config.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated krb5.conf: %w", err)
	}
	return conf, nil
}

// generateRuntimeKrb5Conf renders a krb5.conf that relies on DNS SRV records for KDCs.
func generateRuntimeKrb5Conf(ctx context.Context, realm, domain string, lookupKDC, lookupRealm bool) (string, error) {
	if realm == "" {
		return "", fmt.Errorf("kerberos realm is required for auto-discovery")
	}

	realm = strings.ToUpper(realm)
	if domain == "" {
		domain = realm
	}
	domain = strings.ToLower(domain)

	tflog.SubsystemDebug(ctx, "ldap", "Generating runtime krb5.conf", map[string]any{
		"realm":            realm,
		"domain":           domain,
		"dns_lookup_kdc":   lookupKDC,
		"dns_lookup_realm": lookupRealm,
	})

	var b strings.Builder
	fmt.Fprintf(&b, "[libdefaults]\n")
	fmt.Fprintf(&b, "    default_realm = %s\n", realm)
	fmt.Fprintf(&b, "    dns_lookup_kdc = %t\n", lookupKDC)
	fmt.Fprintf(&b, "    dns_lookup_realm = %t\n", lookupRealm)
	fmt.Fprintf(&b, "    rdns = false\n")
	fmt.Fprintf(&b, "    forwardable = true\n\n")
	fmt.Fprintf(&b, "[realms]\n")
	fmt.Fprintf(&b, "    %s = {\n    }\n\n", realm)
	fmt.Fprintf(&b, "[domain_realm]\n")
	fmt.Fprintf(&b, "    .%s = %s\n", domain, realm)
	fmt.Fprintf(&b, "    %s = %s\n", domain, realm)

	return b.String(), nil
}

// buildServicePrincipal returns cfg.KerberosSPN or ldap/<host>.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if serverInfo == nil || serverInfo.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	host, _, _ := strings.Cut(serverInfo.Host, ":")
	return "ldap/" + host, nil
}

func hasCCache(cfg *ConnectionConfig) bool {
	return firstExisting(cfg.KerberosCCache, getDefaultCCachePath()) != ""
}

func hasKerberosCredentials(cfg *ConnectionConfig) bool {
	return hasCCache(cfg) ||
		firstExisting(cfg.KerberosKeytab, getDefaultKeytabPath()) != "" ||
		cfg.Password != ""
}

// getDefaultCCachePath honours KRB5CCNAME, else /tmp/krb5cc_<uid>.
func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// getDefaultKeytabPath honours KRB5_KTNAME, else /etc/krb5.keytab.
func getDefaultKeytabPath() string {
	if kt := os.Getenv("KRB5_KTNAME"); kt != "" {
		return strings.TrimPrefix(kt, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
