package provider

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/listvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/providervalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/isometry/terraform-provider-adlookup/internal/config"
	"github.com/isometry/terraform-provider-adlookup/internal/directory"
	ldapclient "github.com/isometry/terraform-provider-adlookup/internal/ldap"
	"github.com/isometry/terraform-provider-adlookup/internal/provider/validators"
)

var _ provider.Provider = &LookupProvider{}
var _ provider.ProviderWithConfigValidators = &LookupProvider{}

// Lookup metrics are process wide; a provider server may configure several
// provider instances.
var lookupMetrics = sync.OnceValue(func() *directory.Metrics {
	return directory.NewMetrics(prometheus.DefaultRegisterer)
})

// LookupProvider defines the provider implementation.
type LookupProvider struct {
	// version is set to the provider version on release, "dev" when the
	// provider is built and ran locally, and "test" when running acceptance
	// testing.
	version string
}

// LookupProviderModel describes the provider data model. Every attribute
// falls back to its AD_* environment variable.
type LookupProviderModel struct {
	// Connection settings - mutually exclusive
	Domain  types.String `tfsdk:"domain"`
	LdapURL types.String `tfsdk:"ldap_url"`
	BaseDN  types.String `tfsdk:"base_dn"`

	// Authentication settings
	Username       types.String `tfsdk:"username"`
	Password       types.String `tfsdk:"password"`
	KerberosRealm  types.String `tfsdk:"kerberos_realm"`
	KerberosKeytab types.String `tfsdk:"kerberos_keytab"`
	KerberosConfig types.String `tfsdk:"kerberos_config"`
	KerberosCCache types.String `tfsdk:"kerberos_ccache"`
	KerberosSPN    types.String `tfsdk:"kerberos_spn"`

	// TLS settings
	UseTLS            types.Bool   `tfsdk:"use_tls"`
	SkipTLSVerify     types.Bool   `tfsdk:"skip_tls_verify"`
	TLSCACertFile     types.String `tfsdk:"tls_ca_cert_file"`
	TLSCACert         types.String `tfsdk:"tls_ca_cert"`
	TLSClientCertFile types.String `tfsdk:"tls_client_cert_file"`
	TLSClientKeyFile  types.String `tfsdk:"tls_client_key_file"`

	// Connection pool and retry settings
	MaxConnections types.Int64 `tfsdk:"max_connections"`
	MaxIdleTime    types.Int64 `tfsdk:"max_idle_time"`
	ConnectTimeout types.Int64 `tfsdk:"connect_timeout"`
	MaxRetries     types.Int64 `tfsdk:"max_retries"`
	InitialBackoff types.Int64 `tfsdk:"initial_backoff"`
	MaxBackoff     types.Int64 `tfsdk:"max_backoff"`

	// Lookup settings
	UserAttributes    types.List   `tfsdk:"user_attributes"`
	GroupAttributes   types.List   `tfsdk:"group_attributes"`
	UserBaseDN        types.String `tfsdk:"user_base_dn"`
	GroupBaseDN       types.String `tfsdk:"group_base_dn"`
	IncludeMembership types.List   `tfsdk:"include_membership"`
}

func (p *LookupProvider) Metadata(ctx context.Context, req provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "adlookup"
	resp.Version = p.version
}

func (p *LookupProvider) Schema(ctx context.Context, req provider.SchemaRequest, resp *provider.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "The adlookup provider resolves Active Directory users over LDAP/LDAPS. " +
			"It supports SRV-based domain controller discovery, connection pooling, simple and Kerberos binds, " +
			"and optional nested group membership resolution. Every attribute can also be set through the " +
			"`AD_*` environment variable named in its description.",
		Attributes: map[string]schema.Attribute{
			"domain": schema.StringAttribute{
				MarkdownDescription: "Active Directory domain name for SRV-based discovery (e.g., `example.com`). " +
					"Mutually exclusive with `ldap_url`. Environment: `AD_DOMAIN`.",
				Optional:   true,
				Validators: []validator.String{stringvalidator.LengthAtLeast(1)},
			},
			"ldap_url": schema.StringAttribute{
				MarkdownDescription: "Direct LDAP/LDAPS URL (e.g., `ldaps://dc1.example.com:636`). " +
					"Mutually exclusive with `domain`. Environment: `AD_LDAP_URL`.",
				Optional:   true,
				Validators: []validator.String{stringvalidator.LengthAtLeast(1)},
			},
			"base_dn": schema.StringAttribute{
				MarkdownDescription: "Default search base. Discovered from the root DSE when unset. Environment: `AD_BASE_DN`.",
				Optional:            true,
				Validators:          []validator.String{validators.IsValidDN()},
			},

			"username": schema.StringAttribute{
				MarkdownDescription: "Bind user as DN, UPN or SAM account name. Environment: `AD_USERNAME`.",
				Optional:            true,
			},
			"password": schema.StringAttribute{
				MarkdownDescription: "Bind password. Environment: `AD_PASSWORD`.",
				Optional:            true,
				Sensitive:           true,
			},
			"kerberos_realm": schema.StringAttribute{
				MarkdownDescription: "Kerberos realm for GSSAPI authentication (e.g., `EXAMPLE.COM`). Environment: `AD_KERBEROS_REALM`.",
				Optional:            true,
			},
			"kerberos_keytab": schema.StringAttribute{
				MarkdownDescription: "Path to a Kerberos keytab. Environment: `AD_KERBEROS_KEYTAB`.",
				Optional:            true,
			},
			"kerberos_config": schema.StringAttribute{
				MarkdownDescription: "Path to krb5.conf; generated from the realm when unset. Environment: `AD_KERBEROS_CONFIG`.",
				Optional:            true,
			},
			"kerberos_ccache": schema.StringAttribute{
				MarkdownDescription: "Path to a Kerberos credential cache holding existing tickets. Environment: `AD_KERBEROS_CCACHE`.",
				Optional:            true,
			},
			"kerberos_spn": schema.StringAttribute{
				MarkdownDescription: "Service Principal Name override, e.g. `ldap/dc1.example.com` when connecting by IP. " +
					"Environment: `AD_KERBEROS_SPN`.",
				Optional: true,
			},

			"use_tls": schema.BoolAttribute{
				MarkdownDescription: "Force TLS/LDAPS. Defaults to `true`. Environment: `AD_USE_TLS`.",
				Optional:            true,
			},
			"skip_tls_verify": schema.BoolAttribute{
				MarkdownDescription: "Skip TLS certificate verification. Defaults to `false`. Environment: `AD_SKIP_TLS_VERIFY`.",
				Optional:            true,
			},
			"tls_ca_cert_file": schema.StringAttribute{
				MarkdownDescription: "Path to a PEM CA bundle. Environment: `AD_TLS_CA_CERT_FILE`.",
				Optional:            true,
			},
			"tls_ca_cert": schema.StringAttribute{
				MarkdownDescription: "PEM CA bundle content. Environment: `AD_TLS_CA_CERT`.",
				Optional:            true,
				Sensitive:           true,
			},
			"tls_client_cert_file": schema.StringAttribute{
				MarkdownDescription: "Client certificate for mutual TLS. Environment: `AD_TLS_CLIENT_CERT_FILE`.",
				Optional:            true,
			},
			"tls_client_key_file": schema.StringAttribute{
				MarkdownDescription: "Client private key for mutual TLS. Environment: `AD_TLS_CLIENT_KEY_FILE`.",
				Optional:            true,
				Sensitive:           true,
			},

			"max_connections": schema.Int64Attribute{
				MarkdownDescription: "Connection pool size. Defaults to `10`. Environment: `AD_MAX_CONNECTIONS`.",
				Optional:            true,
			},
			"max_idle_time": schema.Int64Attribute{
				MarkdownDescription: "Idle connection lifetime in seconds. Defaults to `300`. Environment: `AD_MAX_IDLE_TIME`.",
				Optional:            true,
			},
			"connect_timeout": schema.Int64Attribute{
				MarkdownDescription: "Connection timeout in seconds. Defaults to `30`. Environment: `AD_CONNECT_TIMEOUT`.",
				Optional:            true,
			},
			"max_retries": schema.Int64Attribute{
				MarkdownDescription: "Retry attempts for transient failures. Defaults to `3`. Environment: `AD_MAX_RETRIES`.",
				Optional:            true,
			},
			"initial_backoff": schema.Int64Attribute{
				MarkdownDescription: "First retry delay in milliseconds. Defaults to `500`. Environment: `AD_INITIAL_BACKOFF`.",
				Optional:            true,
			},
			"max_backoff": schema.Int64Attribute{
				MarkdownDescription: "Retry delay ceiling in seconds. Defaults to `30`. Environment: `AD_MAX_BACKOFF`.",
				Optional:            true,
			},

			"user_attributes": schema.ListAttribute{
				MarkdownDescription: "Attributes returned for users when a lookup does not name its own. " +
					"`[\"*\"]` or an empty list returns every attribute. Environment: `AD_USER_ATTRIBUTES` (comma separated).",
				ElementType: types.StringType,
				Optional:    true,
			},
			"group_attributes": schema.ListAttribute{
				MarkdownDescription: "Attributes returned for each group of an enriched user. Environment: `AD_GROUP_ATTRIBUTES`.",
				ElementType:         types.StringType,
				Optional:            true,
			},
			"user_base_dn": schema.StringAttribute{
				MarkdownDescription: "Search base for users. Defaults to `base_dn`. Environment: `AD_USER_BASE_DN`.",
				Optional:            true,
				Validators:          []validator.String{validators.IsValidDN()},
			},
			"group_base_dn": schema.StringAttribute{
				MarkdownDescription: "Search base for group membership. Defaults to `base_dn`. Environment: `AD_GROUP_BASE_DN`.",
				Optional:            true,
				Validators:          []validator.String{validators.IsValidDN()},
			},
			"include_membership": schema.ListAttribute{
				MarkdownDescription: "Entity kinds whose group membership is always resolved: `user`, `group` or `all`. " +
					"Environment: `AD_INCLUDE_MEMBERSHIP`.",
				ElementType: types.StringType,
				Optional:    true,
				Validators: []validator.List{
					listvalidator.ValueStringsAre(validators.CaseInsensitiveOneOf("user", "group", "all")),
				},
			},
		},
	}
}

// ConfigValidators implements provider.ProviderWithConfigValidators.
func (p *LookupProvider) ConfigValidators(ctx context.Context) []provider.ConfigValidator {
	return []provider.ConfigValidator{
		providervalidator.Conflicting(
			path.MatchRoot("domain"),
			path.MatchRoot("ldap_url"),
		),
		providervalidator.Conflicting(
			path.MatchRoot("tls_ca_cert_file"),
			path.MatchRoot("tls_ca_cert"),
		),
	}
}

func (p *LookupProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var data LookupProviderModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	ctx = p.configureLogging(ctx)
	tflog.Info(ctx, "Configuring adlookup provider", map[string]any{
		"version": p.version,
	})

	cfg := p.loadConfig(ctx, &data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	connConfig, err := cfg.ConnectionConfig()
	if err != nil {
		resp.Diagnostics.AddError("Invalid TLS Configuration", err.Error())
		return
	}

	start := time.Now()
	client, err := ldapclient.NewClient(ctx, connConfig)
	if err != nil {
		tflog.Error(ctx, "Failed to create LDAP client", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		resp.Diagnostics.AddError(
			"Unable to Create LDAP Client",
			"An unexpected error occurred when creating the LDAP client.\n\nLDAP Client Error: "+err.Error(),
		)
		return
	}

	start = time.Now()
	if err := client.Connect(ctx); err != nil {
		tflog.Error(ctx, "Connection test failed", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		resp.Diagnostics.AddError(
			"Unable to Connect to Active Directory",
			"The provider could not establish a connection to Active Directory. "+
				"Please verify your configuration settings.\n\nConnection Error: "+err.Error(),
		)
		return
	}

	if err := client.BindWithConfig(ctx); err != nil {
		tflog.Error(ctx, "Authentication test failed", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		resp.Diagnostics.AddError(
			"Authentication Failed",
			"The provider could not authenticate with Active Directory. "+
				"Please verify your authentication credentials and settings.\n\nAuthentication Error: "+err.Error(),
		)
		return
	}

	tflog.Info(ctx, "Connected and authenticated", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	})

	providerData := NewProviderData(client, cfg.Lookup, lookupMetrics())
	resp.DataSourceData = providerData
	resp.ResourceData = providerData
}

// configureLogging registers the subsystems and adds persistent fields for
// all provider logs.
func (p *LookupProvider) configureLogging(ctx context.Context) context.Context {
	ctx = initializeLogging(ctx)
	ctx = tflog.SetField(ctx, "provider", "adlookup")
	ctx = tflog.SetField(ctx, "provider_version", p.version)
	return ctx
}

// loadConfig reads the environment and lets provider attributes override it.
func (p *LookupProvider) loadConfig(ctx context.Context, data *LookupProviderModel, diags *diag.Diagnostics) *config.Env {
	cfg, err := config.Load()
	if err != nil {
		diags.AddError("Invalid Environment Configuration", err.Error())
		return nil
	}

	overrideString(&cfg.Domain, data.Domain)
	overrideString(&cfg.LDAPURL, data.LdapURL)
	overrideString(&cfg.BaseDN, data.BaseDN)

	overrideString(&cfg.Username, data.Username)
	overrideString(&cfg.Password, data.Password)
	overrideString(&cfg.KerberosRealm, data.KerberosRealm)
	overrideString(&cfg.KerberosKeytab, data.KerberosKeytab)
	overrideString(&cfg.KerberosConfig, data.KerberosConfig)
	overrideString(&cfg.KerberosCCache, data.KerberosCCache)
	overrideString(&cfg.KerberosSPN, data.KerberosSPN)

	overrideBool(&cfg.UseTLS, data.UseTLS)
	overrideBool(&cfg.SkipTLSVerify, data.SkipTLSVerify)
	overrideString(&cfg.TLSCACertFile, data.TLSCACertFile)
	overrideString(&cfg.TLSCACert, data.TLSCACert)
	overrideString(&cfg.TLSClientCertFile, data.TLSClientCertFile)
	overrideString(&cfg.TLSClientKeyFile, data.TLSClientKeyFile)

	overrideInt64(&cfg.MaxConnections, data.MaxConnections)
	overrideInt64(&cfg.MaxIdleTime, data.MaxIdleTime)
	overrideInt64(&cfg.ConnectTimeout, data.ConnectTimeout)
	overrideInt64(&cfg.MaxRetries, data.MaxRetries)
	overrideInt64(&cfg.InitialBackoff, data.InitialBackoff)
	overrideInt64(&cfg.MaxBackoff, data.MaxBackoff)

	overrideList(ctx, &cfg.Lookup.UserAttributes, data.UserAttributes, diags)
	overrideList(ctx, &cfg.Lookup.GroupAttributes, data.GroupAttributes, diags)
	overrideString(&cfg.Lookup.UserBaseDN, data.UserBaseDN)
	overrideString(&cfg.Lookup.GroupBaseDN, data.GroupBaseDN)
	overrideList(ctx, &cfg.Lookup.IncludeMembership, data.IncludeMembership, diags)

	if cfg.Domain == "" && cfg.LDAPURL == "" {
		diags.AddError(
			"Missing Connection Configuration",
			"Either 'domain' or 'ldap_url' must be configured, or AD_DOMAIN or AD_LDAP_URL set in the environment.",
		)
	}

	if !cfg.HasAuthentication() {
		diags.AddError(
			"Missing Authentication Configuration",
			"Configure username/password, Kerberos, or a client certificate and key. "+
				"For username/password: provide 'username' and 'password' or set AD_USERNAME and AD_PASSWORD. "+
				"For Kerberos: provide 'kerberos_realm' with a keytab, credential cache or password.",
		)
	}

	return cfg
}

func overrideString(dst *string, v types.String) {
	if !v.IsNull() && !v.IsUnknown() && v.ValueString() != "" {
		*dst = v.ValueString()
	}
}

func overrideBool(dst *bool, v types.Bool) {
	if !v.IsNull() && !v.IsUnknown() {
		*dst = v.ValueBool()
	}
}

func overrideInt64(dst *int64, v types.Int64) {
	if !v.IsNull() && !v.IsUnknown() {
		*dst = v.ValueInt64()
	}
}

// overrideList replaces dst when v is set. An explicitly empty list is kept,
// so `user_attributes = []` selects every attribute.
func overrideList(ctx context.Context, dst *[]string, v types.List, diags *diag.Diagnostics) {
	if v.IsNull() || v.IsUnknown() {
		return
	}

	values := make([]string, 0, len(v.Elements()))
	diags.Append(v.ElementsAs(ctx, &values, false)...)
	*dst = values
}

func (p *LookupProvider) Resources(ctx context.Context) []func() resource.Resource {
	return nil
}

func (p *LookupProvider) DataSources(ctx context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{
		NewUserDataSource,
	}
}

func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &LookupProvider{
			version: version,
		}
	}
}
