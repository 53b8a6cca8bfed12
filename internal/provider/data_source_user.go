package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/terraform-provider-adlookup/internal/directory"
	ldapclient "github.com/isometry/terraform-provider-adlookup/internal/ldap"
	"github.com/isometry/terraform-provider-adlookup/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &UserDataSource{}
var _ datasource.DataSourceWithConfigure = &UserDataSource{}

func NewUserDataSource() datasource.DataSource {
	return &UserDataSource{}
}

// UserDataSource resolves a single user.
type UserDataSource struct {
	finder *directory.Finder
}

// UserDataSourceModel describes the data source data model.
type UserDataSourceModel struct {
	// Lookup
	Identifier        types.String `tfsdk:"identifier"`
	Filter            types.String `tfsdk:"filter"`
	Scope             types.String `tfsdk:"scope"`
	Attributes        types.List   `tfsdk:"attributes"`
	SizeLimit         types.Int64  `tfsdk:"size_limit"`
	TimeLimit         types.Int64  `tfsdk:"time_limit"`
	IncludeMembership types.Bool   `tfsdk:"include_membership"`
	Required          types.Bool   `tfsdk:"required"`

	// Result
	ID     types.String `tfsdk:"id"`
	Found  types.Bool   `tfsdk:"found"`
	DN     types.String `tfsdk:"dn"`
	Values types.Map    `tfsdk:"values"`
	Groups types.List   `tfsdk:"groups"`
	JSON   types.String `tfsdk:"json"`
}

// GroupModel is one entry of the groups list.
type GroupModel struct {
	DN     types.String `tfsdk:"dn"`
	Values types.Map    `tfsdk:"values"`
}

var (
	valuesType = types.MapType{ElemType: types.ListType{ElemType: types.StringType}}
	groupType  = types.ObjectType{AttrTypes: map[string]attr.Type{
		"dn":     types.StringType,
		"values": valuesType,
	}}
)

func (d *UserDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_user"
}

func (d *UserDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Resolves a single Active Directory user by SAM account name, User Principal Name or " +
			"Distinguished Name. When several entries match, the first is returned. A user that does not exist " +
			"is not an error: `found` is `false` and the result attributes are empty unless `required` is set.",

		Attributes: map[string]schema.Attribute{
			"identifier": schema.StringAttribute{
				MarkdownDescription: "SAM account name (`jsmith`), UPN (`jsmith@example.com`) or DN of the user. " +
					"When omitted, the first user matching `filter` is returned.",
				Optional: true,
			},
			"filter": schema.StringAttribute{
				MarkdownDescription: "LDAP filter replacing the one derived from `identifier`.",
				Optional:            true,
				Validators:          []validator.String{validators.IsValidFilter()},
			},
			"scope": schema.StringAttribute{
				MarkdownDescription: "Search scope: `base`, `one` or `sub`. Defaults to `sub`.",
				Optional:            true,
				Validators:          []validator.String{validators.IsSearchScope()},
			},
			"attributes": schema.ListAttribute{
				MarkdownDescription: "Attributes to return. Defaults to the provider's `user_attributes`. " +
					"`[\"*\"]` or an empty list returns every attribute.",
				ElementType: types.StringType,
				Optional:    true,
			},
			"size_limit": schema.Int64Attribute{
				MarkdownDescription: "Server-side entry limit for each search. `0` means no limit.",
				Optional:            true,
				Validators:          []validator.Int64{int64validator.AtLeast(0)},
			},
			"time_limit": schema.Int64Attribute{
				MarkdownDescription: "Server-side time limit for each search, in seconds. `0` means no limit.",
				Optional:            true,
				Validators:          []validator.Int64{int64validator.AtLeast(0)},
			},
			"include_membership": schema.BoolAttribute{
				MarkdownDescription: "Resolve nested group membership into `groups`. Also enabled when the provider's " +
					"`include_membership` lists `user` or `all`.",
				Optional: true,
			},
			"required": schema.BoolAttribute{
				MarkdownDescription: "Fail when no user matches. Defaults to `false`.",
				Optional:            true,
			},

			"id": schema.StringAttribute{
				MarkdownDescription: "Distinguished Name of the user, or empty when not found.",
				Computed:            true,
			},
			"found": schema.BoolAttribute{
				MarkdownDescription: "Whether a user matched.",
				Computed:            true,
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "Distinguished Name of the user.",
				Computed:            true,
			},
			"values": schema.MapAttribute{
				MarkdownDescription: "Returned attributes keyed by name, each a list of string values. " +
					"`objectGUID` and `objectSid` are rendered in their string forms.",
				ElementType: types.ListType{ElemType: types.StringType},
				Computed:    true,
			},
			"groups": schema.ListNestedAttribute{
				MarkdownDescription: "Groups the user belongs to, directly or through nesting. " +
					"Null unless membership was resolved.",
				Computed: true,
				NestedObject: schema.NestedAttributeObject{
					Attributes: map[string]schema.Attribute{
						"dn": schema.StringAttribute{
							MarkdownDescription: "Distinguished Name of the group.",
							Computed:            true,
						},
						"values": schema.MapAttribute{
							MarkdownDescription: "Group attributes selected by the provider's `group_attributes`.",
							ElementType:         types.ListType{ElemType: types.StringType},
							Computed:            true,
						},
					},
				},
			},
			"json": schema.StringAttribute{
				MarkdownDescription: "The user as a JSON object with single values flattened, for use with `jsondecode`.",
				Computed:            true,
			},
		},
	}
}

func (d *UserDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, &resp.Diagnostics)
	if providerData == nil {
		return
	}
	d.finder = providerData.Finder
}

func (d *UserDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data UserDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if d.finder == nil {
		resp.Diagnostics.AddError(
			"Provider Not Configured",
			"The adlookup provider has not been configured; cannot resolve users.",
		)
		return
	}

	opts := data.queryOptions(ctx, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	call := directory.OptionsIDFlagHandler{
		Options:           opts,
		ID:                data.Identifier.ValueString(),
		IncludeMembership: data.IncludeMembership.ValueBool(),
		Handler: func(err error, user *directory.User) {
			if err == nil {
				tflog.Trace(ctx, "User lookup settled", map[string]any{
					"dn":     user.DN,
					"groups": len(user.Groups),
				})
			}
		},
	}

	done := ldapclient.LogDataSourceOperation(ctx, "adlookup_user", "read", map[string]any{
		"identifier":         call.ID,
		"include_membership": call.IncludeMembership,
	})
	user, err := d.finder.FindUser(ctx, call).Wait(ctx)
	done(err)
	if err != nil {
		resp.Diagnostics.AddError(
			readErrorSummary(err),
			fmt.Sprintf("Could not read Active Directory user: %s", err.Error()),
		)
		return
	}

	if user.IsEmpty() && data.Required.ValueBool() {
		resp.Diagnostics.AddError(
			"User Not Found",
			fmt.Sprintf("No Active Directory user matches %q.", data.Identifier.ValueString()),
		)
		return
	}

	resp.Diagnostics.Append(data.setUser(ctx, user)...)
	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// queryOptions returns the lookup options carried by the configuration, or
// nil when it sets none.
func (m *UserDataSourceModel) queryOptions(ctx context.Context, diags *diag.Diagnostics) *directory.QueryOptions {
	opts := &directory.QueryOptions{
		Scope:     m.Scope.ValueString(),
		Filter:    m.Filter.ValueString(),
		SizeLimit: int(m.SizeLimit.ValueInt64()),
		TimeLimit: time.Duration(m.TimeLimit.ValueInt64()) * time.Second,
	}

	if !m.Attributes.IsNull() && !m.Attributes.IsUnknown() {
		opts.Attributes = make([]string, 0, len(m.Attributes.Elements()))
		diags.Append(m.Attributes.ElementsAs(ctx, &opts.Attributes, false)...)
	}

	if opts.Scope == "" && opts.Filter == "" && opts.Attributes == nil && opts.SizeLimit == 0 && opts.TimeLimit == 0 {
		return nil
	}
	return opts
}

// setUser copies the resolved user into the computed attributes.
func (m *UserDataSourceModel) setUser(ctx context.Context, user *directory.User) diag.Diagnostics {
	var diags diag.Diagnostics

	m.Found = types.BoolValue(!user.IsEmpty())
	m.DN = types.StringValue(user.DN)
	m.ID = types.StringValue(user.DN)

	values, d := attributeMap(ctx, user.Attributes)
	diags.Append(d...)
	m.Values = values

	if user.Groups == nil {
		m.Groups = types.ListNull(groupType)
	} else {
		groups := make([]GroupModel, 0, len(user.Groups))
		for _, g := range user.Groups {
			values, d := attributeMap(ctx, g.Attributes)
			diags.Append(d...)
			groups = append(groups, GroupModel{DN: types.StringValue(g.DN), Values: values})
		}
		m.Groups, d = types.ListValueFrom(ctx, groupType, groups)
		diags.Append(d...)
	}

	encoded, err := json.Marshal(user)
	if err != nil {
		diags.AddError("Error Encoding User", err.Error())
		return diags
	}
	m.JSON = types.StringValue(string(encoded))

	return diags
}

func attributeMap(ctx context.Context, attrs map[string][]string) (types.Map, diag.Diagnostics) {
	if attrs == nil {
		attrs = map[string][]string{}
	}
	return types.MapValueFrom(ctx, valuesType.ElemType, attrs)
}

func readErrorSummary(err error) string {
	switch ldapclient.GetErrorCategory(err) {
	case ldapclient.ErrorCategoryAuthentication:
		return "Authentication Failed"
	case ldapclient.ErrorCategoryPermission:
		return "Insufficient Permissions"
	case ldapclient.ErrorCategoryValidation:
		return "Invalid Lookup"
	default:
		return "Error Reading User"
	}
}
