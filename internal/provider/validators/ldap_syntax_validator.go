package validators

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
)

var _ validator.String = ldapSyntaxValidator{}

// ldapSyntaxValidator checks a string with one of the go-ldap parsers.
type ldapSyntaxValidator struct {
	what  string
	parse func(string) error
}

func (v ldapSyntaxValidator) Description(_ context.Context) string {
	return fmt.Sprintf("value must be a valid %s", v.what)
}

func (v ldapSyntaxValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v ldapSyntaxValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()

	var err error
	if value == "" {
		err = fmt.Errorf("value cannot be empty")
	} else {
		err = v.parse(value)
	}

	if err != nil {
		response.Diagnostics.AddAttributeError(
			request.Path,
			"Invalid "+v.what,
			fmt.Sprintf("The value %q is not a valid %s: %s", value, v.what, err.Error()),
		)
	}
}

// IsValidDN returns a validator which ensures that any configured attribute
// value parses as a Distinguished Name.
//
// Unknown values and null values are skipped from validation.
func IsValidDN() validator.String {
	return ldapSyntaxValidator{
		what: "Distinguished Name",
		parse: func(s string) error {
			_, err := ldap.ParseDN(s)
			return err
		},
	}
}

// IsValidFilter returns a validator which ensures that any configured
// attribute value compiles as an RFC 4515 search filter.
func IsValidFilter() validator.String {
	return ldapSyntaxValidator{
		what: "LDAP filter",
		parse: func(s string) error {
			_, err := ldap.CompileFilter(s)
			return err
		},
	}
}
