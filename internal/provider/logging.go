package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-adlookup/internal/directory"
)

// initializeLogging registers the provider's tflog subsystems on ctx. Each
// level is read from TF_LOG_PROVIDER_ADLOOKUP_<SUBSYSTEM>.
func initializeLogging(ctx context.Context) context.Context {
	ctx = tflog.NewSubsystem(ctx, "provider",
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_ADLOOKUP_PROVIDER"))
	ctx = tflog.NewSubsystem(ctx, "ldap",
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_ADLOOKUP_LDAP"))
	ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, "ldap", "password")
	ctx = tflog.NewSubsystem(ctx, directory.Subsystem,
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_ADLOOKUP_DIRECTORY"))
	return ctx
}
