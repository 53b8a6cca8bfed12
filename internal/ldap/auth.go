package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// authenticate binds conn with the method selected by cfg.
func authenticate(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, server *ServerInfo) error {
	method := cfg.GetAuthMethod()
	start := time.Now()

	var err error
	switch method {
	case AuthMethodSimpleBind:
		err = bindSimple(ctx, conn, cfg)
	case AuthMethodKerberos:
		err = performKerberosAuth(ctx, conn, cfg, server)
	case AuthMethodExternal:
		// The TLS client certificate already identified us.
		err = conn.ExternalBind()
	default:
		err = fmt.Errorf("unsupported authentication method: %s", method.String())
	}

	fields := map[string]any{
		"auth_method": method.String(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		LogLDAPError(ctx, "ldap", "authenticate", err, fields)
		return err
	}

	tflog.SubsystemDebug(ctx, "ldap", "Authentication successful", fields)
	return nil
}

func bindSimple(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig) error {
	if cfg.Username == "" {
		return fmt.Errorf("username is required for simple bind authentication")
	}

	tflog.SubsystemDebug(ctx, "ldap", "Performing simple bind", map[string]any{
		"username":       cfg.Username,
		"anonymous_bind": cfg.Password == "",
	})

	if cfg.Password == "" {
		return conn.UnauthenticatedBind(cfg.Username)
	}
	return conn.Bind(cfg.Username, cfg.Password)
}
