package provider

import (
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/diag"

	"github.com/isometry/terraform-provider-adlookup/internal/config"
	"github.com/isometry/terraform-provider-adlookup/internal/directory"
	ldapclient "github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

// ProviderData is handed to data sources once the provider is configured.
type ProviderData struct {
	Client ldapclient.Client
	Finder *directory.Finder
}

// NewProviderData wires a Finder over client using the lookup settings.
// Users and groups are searched under their own base DN when one is set and
// under the client's naming context otherwise.
func NewProviderData(client ldapclient.Client, lookup config.Lookup, metrics *directory.Metrics) *ProviderData {
	base := &directory.DirectoryBase{
		Client: client,
		Kinds: map[string]string{
			directory.KindUser:  lookup.UserBaseDN,
			directory.KindGroup: lookup.GroupBaseDN,
		},
	}

	finder := directory.NewFinder(client, base,
		directory.WithDefaultAttributes(lookup.UserAttributes...),
		directory.WithDefaultMembership(lookup.IncludeMembership...),
		directory.WithMembershipFetcher(&directory.GroupMembershipFetcher{
			Searcher:   client,
			Base:       base,
			Attributes: lookup.GroupAttributes,
			Logger:     directory.TFLogger{},
		}),
		directory.WithMetrics(metrics),
	)

	return &ProviderData{Client: client, Finder: finder}
}

// providerDataFrom unpacks the value passed to a data source's Configure.
// It returns nil without error while the provider is not yet configured.
func providerDataFrom(data any, diags *diag.Diagnostics) *ProviderData {
	if data == nil {
		return nil
	}

	providerData, ok := data.(*ProviderData)
	if !ok {
		diags.AddError(
			"Unexpected Data Source Configure Type",
			fmt.Sprintf("Expected *ProviderData, got: %T. Please report this issue to the provider developers.", data),
		)
		return nil
	}

	return providerData
}
