package directory

import (
	"context"
	"fmt"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

// MembershipFetcher resolves the groups an entity belongs to.
type MembershipFetcher interface {
	GroupsForDN(ctx context.Context, opts MembershipOptions, dn string) ([]*Group, error)
}

// DefaultGroupAttributes are projected onto each Group when none are configured.
var DefaultGroupAttributes = []string{"objectCategory", "distinguishedName", "cn", "description"}

// GroupMembershipFetcher walks group membership over LDAP, following nested
// groups breadth-first. Each group is reported once, in discovery order.
type GroupMembershipFetcher struct {
	Searcher   Searcher
	Base       BaseLocator
	Attributes []string
	Logger     Logger
}

func (f *GroupMembershipFetcher) GroupsForDN(ctx context.Context, opts MembershipOptions, dn string) ([]*Group, error) {
	baseDN, err := f.Base.BaseDN(ctx, KindGroup)
	if err != nil {
		return nil, err
	}

	whitelist := f.Attributes
	if whitelist == nil {
		whitelist = DefaultGroupAttributes
	}
	attributes := JoinAttributes(whitelist, []string{"distinguishedName"})

	groups := make([]*Group, 0)
	seen := map[string]bool{ldap.DNKey(dn): true}
	queue := []string{dn}

	for len(queue) > 0 {
		member := queue[0]
		queue = queue[1:]

		filter := fmt.Sprintf("(&(objectCategory=Group)(member=%s))", goldap.EscapeFilter(member))
		result, err := f.Searcher.Search(ctx, &ldap.SearchRequest{
			BaseDN:     baseDN,
			Scope:      ldap.ScopeWholeSubtree,
			Filter:     filter,
			Attributes: attributes,
			SizeLimit:  opts.SizeLimit,
			TimeLimit:  opts.TimeLimit,
		})
		if err != nil {
			return nil, err
		}
		if result == nil {
			continue
		}

		for _, entry := range result.Entries {
			key := ldap.DNKey(entry.DN)
			if seen[key] {
				continue
			}
			seen[key] = true
			groups = append(groups, &Group{DN: entry.DN, Attributes: projectAttributes(entry, whitelist)})
			queue = append(queue, entry.DN)
		}
	}

	if f.Logger != nil {
		f.Logger.Debug(ctx, "Resolved group membership", map[string]any{
			"dn":          dn,
			"group_count": len(groups),
		})
	}

	return groups, nil
}
