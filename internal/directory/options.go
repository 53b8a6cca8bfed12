package directory

import (
	"slices"
	"strings"
	"time"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

// AllAttributes requests every attribute the server will return.
const AllAttributes = "*"

// QueryOptions are the caller-supplied search settings. A zero field is
// treated as absent.
//
// Attributes distinguishes nil (absent, use the configured defaults) from an
// empty slice (all attributes).
type QueryOptions struct {
	Scope      string
	Filter     string
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration

	// IncludeMembership lists the entity kinds ("user", "group" or "all")
	// whose group memberships should be resolved.
	IncludeMembership []string
}

// MembershipOptions is the subset of QueryOptions forwarded to a
// MembershipFetcher.
type MembershipOptions struct {
	SizeLimit int
	TimeLimit time.Duration
}

func (o *QueryOptions) membershipOptions() MembershipOptions {
	if o == nil {
		return MembershipOptions{}
	}
	return MembershipOptions{SizeLimit: o.SizeLimit, TimeLimit: o.TimeLimit}
}

func (o *QueryOptions) attributes() []string {
	if o == nil {
		return nil
	}
	return o.Attributes
}

// EffectiveQuery is the fully defaulted query sent to the Searcher.
type EffectiveQuery struct {
	BaseDN     string
	Scope      ldap.SearchScope
	Filter     string
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration
}

// Request converts the query to the transport's search request.
func (q *EffectiveQuery) Request() *ldap.SearchRequest {
	return &ldap.SearchRequest{
		BaseDN:     q.BaseDN,
		Scope:      q.Scope,
		Filter:     q.Filter,
		Attributes: slices.Clone(q.Attributes),
		SizeLimit:  q.SizeLimit,
		TimeLimit:  q.TimeLimit,
	}
}

func wantsAllAttributes(attrs []string) bool {
	if attrs == nil {
		return false
	}
	return len(attrs) == 0 || slices.Contains(attrs, AllAttributes)
}

// JoinAttributes returns the ordered union of the given attribute sets.
// Names compare case-insensitively and keep their first-seen spelling. If any
// set asks for all attributes the result is just AllAttributes.
func JoinAttributes(sets ...[]string) []string {
	var joined []string
	seen := make(map[string]bool)

	for _, set := range sets {
		if wantsAllAttributes(set) {
			return []string{AllAttributes}
		}
		for _, attr := range set {
			attr = strings.TrimSpace(attr)
			key := strings.ToLower(attr)
			if attr == "" || seen[key] {
				continue
			}
			seen[key] = true
			joined = append(joined, attr)
		}
	}

	return joined
}
