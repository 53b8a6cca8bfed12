package directory

import (
	"fmt"
	"slices"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

const (
	KindUser  = "user"
	KindGroup = "group"

	// membershipAll enables membership resolution for every kind.
	membershipAll = "all"

	userCategoryFilter = "(objectCategory=User)"
	maxLoggedFilter    = 256
)

// IdentifierFilter builds the filter matching a user by identifier. A
// DN-shaped identifier matches distinguishedName; anything else matches
// sAMAccountName or userPrincipalName. An empty identifier matches any user.
func IdentifierFilter(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return userCategoryFilter
	}

	escaped := goldap.EscapeFilter(id)
	if ldap.IsDN(id) {
		return fmt.Sprintf("(&%s(distinguishedName=%s))", userCategoryFilter, escaped)
	}

	return fmt.Sprintf("(&%s(|(sAMAccountName=%s)(userPrincipalName=%s)))", userCategoryFilter, escaped, escaped)
}

// RequiredUserAttributes returns the attributes a User cannot be built
// without. Nothing is required when the caller already asks for everything.
func RequiredUserAttributes(opts *QueryOptions, withMembership bool) []string {
	if wantsAllAttributes(opts.attributes()) {
		return nil
	}

	required := []string{"distinguishedName", "objectCategory"}
	if withMembership {
		required = append(required, "memberOf")
	}
	return required
}

// IncludeMembershipFor reports whether membership should be resolved for
// kind. The markers on opts win; fallback applies when opts carries none.
func IncludeMembershipFor(opts *QueryOptions, fallback []string, kind string) bool {
	markers := fallback
	if opts != nil && len(opts.IncludeMembership) > 0 {
		markers = opts.IncludeMembership
	}

	return slices.ContainsFunc(markers, func(m string) bool {
		m = strings.TrimSpace(m)
		return strings.EqualFold(m, kind) || strings.EqualFold(m, membershipAll)
	})
}

func truncateFilter(filter string) string {
	runes := []rune(filter)
	if len(runes) <= maxLoggedFilter {
		return filter
	}
	return string(runes[:maxLoggedFilter]) + "..."
}
