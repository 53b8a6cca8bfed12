package validators

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework/schema/validator"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

var _ validator.String = caseInsensitiveOneOfValidator{}

// caseInsensitiveOneOfValidator accepts a value when match reports it as one
// of the advertised names, ignoring case and surrounding whitespace.
type caseInsensitiveOneOfValidator struct {
	names []string
	match func(string) bool
}

func (v caseInsensitiveOneOfValidator) Description(_ context.Context) string {
	return fmt.Sprintf("value must be one of: %s (case-insensitive)", strings.Join(v.names, ", "))
}

func (v caseInsensitiveOneOfValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v caseInsensitiveOneOfValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if v.match(strings.TrimSpace(value)) {
		return
	}

	response.Diagnostics.AddAttributeError(
		request.Path,
		"Invalid Value",
		fmt.Sprintf("The value %q is not valid. Must be one of: %s (case-insensitive)", value, strings.Join(v.names, ", ")),
	)
}

// CaseInsensitiveOneOf returns a validator which ensures that any configured
// attribute value matches one of values, ignoring case differences.
//
// Unknown values and null values are skipped from validation.
func CaseInsensitiveOneOf(values ...string) validator.String {
	return caseInsensitiveOneOfValidator{
		names: values,
		match: func(s string) bool {
			for _, v := range values {
				if strings.EqualFold(s, v) {
					return true
				}
			}
			return false
		},
	}
}

// IsSearchScope accepts the scope spellings understood by the LDAP client:
// base, one or sub, plus their long forms.
func IsSearchScope() validator.String {
	return caseInsensitiveOneOfValidator{
		names: []string{"base", "one", "sub"},
		match: func(s string) bool {
			_, ok := ldap.ParseSearchScope(s)
			return ok
		},
	}
}
