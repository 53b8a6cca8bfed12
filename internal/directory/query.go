package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

// BaseLocator resolves the search base for an entity kind. It is consulted on
// every call so no base DN is cached on shared state.
type BaseLocator interface {
	BaseDN(ctx context.Context, kind string) (string, error)
}

// StaticBase resolves every kind to the same DN.
type StaticBase string

func (s StaticBase) BaseDN(context.Context, string) (string, error) {
	return string(s), nil
}

// NamingContext is the subset of ldap.Client a DirectoryBase needs.
type NamingContext interface {
	GetBaseDN(ctx context.Context) (string, error)
}

// DirectoryBase prefers a configured per-kind base DN and falls back to the
// directory's default naming context.
type DirectoryBase struct {
	Client NamingContext
	Kinds  map[string]string
}

func (d *DirectoryBase) BaseDN(ctx context.Context, kind string) (string, error) {
	if dn := strings.TrimSpace(d.Kinds[kind]); dn != "" {
		return dn, nil
	}
	if d.Client == nil {
		return "", fmt.Errorf("no base DN configured for %s lookups", kind)
	}
	return d.Client.GetBaseDN(ctx)
}

// QueryBuilder turns caller options into an EffectiveQuery.
type QueryBuilder struct {
	// DefaultAttributes are fetched and projected when the caller names none.
	DefaultAttributes []string
	// DefaultMembership holds membership markers used when the caller's
	// options carry none.
	DefaultMembership []string
	Base              BaseLocator
}

// Build resolves the effective query for a user lookup. includeMembership is
// the call's own membership flag. The only error source is the BaseLocator.
func (b *QueryBuilder) Build(ctx context.Context, opts *QueryOptions, id string, includeMembership bool) (*EffectiveQuery, error) {
	baseDN, err := b.Base.BaseDN(ctx, KindUser)
	if err != nil {
		return nil, err
	}

	query := &EffectiveQuery{
		BaseDN: baseDN,
		Filter: IdentifierFilter(id),
		Scope:  ldap.ScopeWholeSubtree,
	}

	if opts != nil {
		if opts.Filter != "" {
			query.Filter = opts.Filter
		}
		// Unknown scopes fall back to the subtree default.
		query.Scope, _ = ldap.ParseSearchScope(opts.Scope)
		query.SizeLimit = opts.SizeLimit
		query.TimeLimit = opts.TimeLimit
	}

	withMembership := includeMembership || IncludeMembershipFor(opts, b.DefaultMembership, KindUser)
	query.Attributes = JoinAttributes(
		opts.attributes(),
		b.DefaultAttributes,
		RequiredUserAttributes(opts, withMembership),
	)

	return query, nil
}

// Whitelist returns the attributes a projected User may carry, with
// duplicates removed the way JoinAttributes removes them.
func (b *QueryBuilder) Whitelist(opts *QueryOptions) []string {
	attrs := opts.attributes()
	if attrs == nil {
		attrs = b.DefaultAttributes
	}
	if wantsAllAttributes(attrs) {
		return attrs
	}
	return JoinAttributes(attrs)
}
