package directory

import (
	"context"
	"fmt"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

// Searcher executes a single directory search. ldap.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error)
}

// Finder resolves single users by identifier.
type Finder struct {
	builder    QueryBuilder
	searcher   Searcher
	membership MembershipFetcher
	bus        *Bus
	logger     Logger
	metrics    *Metrics
	tracer     trace.Tracer
}

// Option configures a Finder.
type Option func(*Finder)

// WithDefaultAttributes sets the attributes fetched and projected when a call
// names none.
func WithDefaultAttributes(attrs ...string) Option {
	return func(f *Finder) { f.builder.DefaultAttributes = attrs }
}

// WithDefaultMembership sets the membership markers ("user", "group", "all")
// applied when a call's options carry none.
func WithDefaultMembership(kinds ...string) Option {
	return func(f *Finder) { f.builder.DefaultMembership = kinds }
}

func WithMembershipFetcher(m MembershipFetcher) Option {
	return func(f *Finder) { f.membership = m }
}

func WithBus(b *Bus) Option {
	return func(f *Finder) { f.bus = b }
}

func WithLogger(l Logger) Option {
	return func(f *Finder) { f.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(f *Finder) { f.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Finder) { f.tracer = tp.Tracer(tracerName) }
}

// NewFinder returns a Finder searching through searcher with base DNs from
// base. Unless overridden, membership is resolved by a GroupMembershipFetcher
// over the same searcher and base.
func NewFinder(searcher Searcher, base BaseLocator, opts ...Option) *Finder {
	f := &Finder{
		builder:  QueryBuilder{Base: base},
		searcher: searcher,
		bus:      &Bus{},
		logger:   TFLogger{},
		tracer:   defaultTracer(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.membership == nil {
		f.membership = &GroupMembershipFetcher{
			Searcher: searcher,
			Base:     base,
			Logger:   f.logger,
		}
	}

	return f
}

// Bus returns the bus notified of every successful lookup.
func (f *Finder) Bus() *Bus {
	return f.bus
}

// FindUser starts resolving the user described by call and returns
// immediately. The outcome is delivered through the returned Pending, the
// call's Handler if any, and on success an Event on the Finder's Bus.
//
// A user that does not exist is not an error: the lookup succeeds with an
// empty User and is still published on the Bus.
func (f *Finder) FindUser(ctx context.Context, call Call) *Pending {
	tuple := Normalize(call)
	pending := newPending(tuple.Handler, f.bus)

	go func() {
		user, err := f.resolve(ctx, tuple)
		pending.settle(user, err)
	}()

	return pending
}

// Find is FindUser followed by Wait.
func (f *Finder) Find(ctx context.Context, call Call) (*User, error) {
	return f.FindUser(ctx, call).Wait(ctx)
}

func (f *Finder) resolve(ctx context.Context, tuple CallTuple) (user *User, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, f.tracer, "directory.FindUser",
		attribute.String("directory.identifier", tuple.ID),
		attribute.Bool("directory.include_membership", tuple.IncludeMembership),
	)
	defer func() {
		f.metrics.ObserveLookup(outcomeOf(user, err), time.Since(start))
		endSpan(span, err)
	}()

	f.logger.Trace(ctx, "Finding user", map[string]any{
		"identifier":         tuple.ID,
		"include_membership": tuple.IncludeMembership,
		"options":            describeOptions(tuple.Options),
	})

	query, err := f.builder.Build(ctx, tuple.Options, tuple.ID, tuple.IncludeMembership)
	if err != nil {
		f.logger.Error(ctx, "Failed to resolve user search base", map[string]any{
			"identifier": tuple.ID,
			"error":      err.Error(),
		})
		return nil, err
	}

	entries, err := f.search(ctx, query)
	if err != nil {
		f.logger.Error(ctx, "User search failed", map[string]any{
			"identifier": tuple.ID,
			"filter":     truncateFilter(query.Filter),
			"error":      err.Error(),
		})
		return nil, err
	}

	filter := truncateFilter(query.Filter)
	if len(entries) == 0 {
		f.logger.Warn(ctx, fmt.Sprintf("User %q not found for query %q", tuple.ID, filter), map[string]any{
			"identifier": tuple.ID,
			"filter":     filter,
		})
		return &User{}, nil
	}

	user = ProjectEntry(entries[0], f.builder.Whitelist(tuple.Options))
	f.logger.Info(ctx, fmt.Sprintf("%d user(s) found for query %q. Returning first user", len(entries), filter), map[string]any{
		"identifier": tuple.ID,
		"filter":     filter,
		"count":      len(entries),
		"dn":         user.DN,
	})

	if tuple.IncludeMembership || IncludeMembershipFor(tuple.Options, f.builder.DefaultMembership, KindUser) {
		groups, err := f.groups(ctx, tuple.Options.membershipOptions(), user.DN)
		if err != nil {
			f.logger.Error(ctx, "Group membership lookup failed", map[string]any{
				"dn":    user.DN,
				"error": err.Error(),
			})
			return nil, err
		}
		user.Groups = groups
		f.metrics.ObserveMembership(len(groups))
	}

	return user, nil
}

func (f *Finder) search(ctx context.Context, query *EffectiveQuery) (entries []*goldap.Entry, err error) {
	ctx, span := startSpan(ctx, f.tracer, "directory.search",
		attribute.String("ldap.base_dn", query.BaseDN),
		attribute.String("ldap.scope", query.Scope.String()),
		attribute.String("ldap.filter", truncateFilter(query.Filter)),
	)
	defer func() {
		span.SetAttributes(attribute.Int("ldap.entries", len(entries)))
		endSpan(span, err)
	}()

	result, err := f.searcher.Search(ctx, query.Request())
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.Entries, nil
}

func (f *Finder) groups(ctx context.Context, opts MembershipOptions, dn string) (groups []*Group, err error) {
	ctx, span := startSpan(ctx, f.tracer, "directory.membership", attribute.String("ldap.dn", dn))
	defer func() {
		span.SetAttributes(attribute.Int("directory.groups", len(groups)))
		endSpan(span, err)
	}()

	groups, err = f.membership.GroupsForDN(ctx, opts, dn)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []*Group{}
	}
	return groups, nil
}

func outcomeOf(user *User, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case user.IsEmpty():
		return OutcomeNotFound
	default:
		return OutcomeFound
	}
}

func describeOptions(opts *QueryOptions) map[string]any {
	if opts == nil {
		return nil
	}
	return map[string]any{
		"scope":              opts.Scope,
		"filter":             opts.Filter,
		"attributes":         opts.Attributes,
		"size_limit":         opts.SizeLimit,
		"time_limit":         opts.TimeLimit.String(),
		"include_membership": opts.IncludeMembership,
	}
}
