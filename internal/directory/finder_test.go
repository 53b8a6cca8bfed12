package directory

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tflogtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

var testDefaults = []string{"sAMAccountName", "mail", "displayName"}

type finderFixture struct {
	searcher   *MockSearcher
	membership *MockMembership
	logger     *recordingLogger
	events     *eventRecorder
	finder     *Finder
}

func newFixture(t *testing.T, opts ...Option) *finderFixture {
	t.Helper()

	fx := &finderFixture{
		searcher:   &MockSearcher{},
		membership: &MockMembership{},
		logger:     &recordingLogger{},
	}

	opts = append([]Option{
		WithDefaultAttributes(testDefaults...),
		WithMembershipFetcher(fx.membership),
		WithLogger(fx.logger),
	}, opts...)

	fx.finder = NewFinder(fx.searcher, StaticBase(testBaseDN), opts...)
	fx.events = recordEvents(fx.finder.Bus())
	return fx
}

func jsmithRequest() *ldap.SearchRequest {
	return &ldap.SearchRequest{
		BaseDN:     testBaseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     "(&(objectCategory=User)(|(sAMAccountName=jsmith)(userPrincipalName=jsmith)))",
		Attributes: []string{"sAMAccountName", "mail", "displayName", "distinguishedName", "objectCategory"},
	}
}

func TestFindUser_JSmith(t *testing.T) {
	fx := newFixture(t)
	fx.searcher.On("Search", mock.Anything, jsmithRequest()).Return(searchResult(jsmithEntry()), nil).Once()

	var handled []*User
	pending := fx.finder.FindUser(t.Context(), IDHandler{ID: "jsmith", Handler: func(err error, user *User) {
		assert.NoError(t, err)
		handled = append(handled, user)
	}})

	user, err := pending.Wait(t.Context())
	require.NoError(t, err)

	assert.Equal(t, &User{
		DN: jsmithDN,
		Attributes: map[string][]string{
			"sAMAccountName": {"jsmith"},
			"mail":           {"john.smith@example.com"},
			"displayName":    {"John Smith"},
		},
	}, user)
	assert.Nil(t, user.Groups)

	events := fx.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, KindUser, events[0].Kind)
	assert.Same(t, user, events[0].User)

	require.Len(t, handled, 1)
	assert.Same(t, user, handled[0])

	info := fx.logger.byLevel("info")
	require.Len(t, info, 1)
	assert.Contains(t, info[0].msg, "1 user(s) found")
	assert.Equal(t, jsmithDN, info[0].fields["dn"])

	fx.searcher.AssertExpectations(t)
	fx.membership.AssertNotCalled(t, "GroupsForDN", mock.Anything, mock.Anything, mock.Anything)
}

func TestFindUser_GhostNotFound(t *testing.T) {
	fx := newFixture(t)
	fx.searcher.On("Search", mock.Anything, mock.Anything).Return(searchResult(), nil).Once()

	var handledErr error
	var handled *User
	calls := 0
	pending := fx.finder.FindUser(t.Context(), IDFlagHandler{ID: "ghost", IncludeMembership: true, Handler: func(err error, user *User) {
		calls++
		handledErr, handled = err, user
	}})

	user, err := pending.Wait(t.Context())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, user.IsEmpty())
	assert.Nil(t, user.Groups)

	assert.Equal(t, 1, calls)
	assert.NoError(t, handledErr)
	assert.Same(t, user, handled)

	warnings := fx.logger.byLevel("warn")
	require.Len(t, warnings, 1)
	assert.Equal(t, `User "ghost" not found for query "(&(objectCategory=User)(|(sAMAccountName=ghost)(userPrincipalName=ghost)))"`, warnings[0].msg)
	assert.Equal(t, "ghost", warnings[0].fields["identifier"])

	events := fx.events.all()
	require.Len(t, events, 1, "the not-found outcome is still published")
	assert.Same(t, user, events[0].User)

	fx.membership.AssertNotCalled(t, "GroupsForDN", mock.Anything, mock.Anything, mock.Anything)
}

func TestFindUser_NilResultIsNotFound(t *testing.T) {
	fx := newFixture(t)
	fx.searcher.On("Search", mock.Anything, mock.Anything).Return(nil, nil).Once()

	user, err := fx.finder.Find(t.Context(), ID("ghost"))
	require.NoError(t, err)
	assert.True(t, user.IsEmpty())
}

func TestFindUser_LongFilterIsTruncatedInWarning(t *testing.T) {
	fx := newFixture(t)
	fx.searcher.On("Search", mock.Anything, mock.Anything).Return(searchResult(), nil).Once()

	long := "(|" + string(bytes.Repeat([]byte("(cn=x)"), 100)) + ")"
	_, err := fx.finder.Find(t.Context(), OptionsID{Options: &QueryOptions{Filter: long}, ID: "ghost"})
	require.NoError(t, err)

	warnings := fx.logger.byLevel("warn")
	require.Len(t, warnings, 1)
	assert.Equal(t, long[:maxLoggedFilter]+"...", warnings[0].fields["filter"])
}

func TestFindUser_FirstMatchWins(t *testing.T) {
	other := userEntry("CN=John Smith Jr,OU=Users,DC=example,DC=com", map[string][]string{
		"sAMAccountName": {"jsmith2"},
	})

	single := newFixture(t)
	single.searcher.On("Search", mock.Anything, mock.Anything).Return(searchResult(jsmithEntry()), nil).Once()
	want, err := single.finder.Find(t.Context(), ID("jsmith"))
	require.NoError(t, err)

	multi := newFixture(t)
	multi.searcher.On("Search", mock.Anything, mock.Anything).Return(searchResult(jsmithEntry(), other), nil).Once()
	got, err := multi.finder.Find(t.Context(), ID("jsmith"))
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Contains(t, multi.logger.byLevel("info")[0].msg, "2 user(s) found")
}

func TestFindUser_ProjectsCallerAttributesOnly(t *testing.T) {
	fx := newFixture(t)
	fx.searcher.On("Search", mock.Anything, mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return assert.ObjectsAreEqual([]string{"telephoneNumber", "sAMAccountName", "mail", "displayName", "distinguishedName", "objectCategory"}, req.Attributes)
	})).Return(searchResult(jsmithEntry()), nil).Once()

	user, err := fx.finder.Find(t.Context(), OptionsID{Options: &QueryOptions{Attributes: []string{"telephoneNumber"}}, ID: "jsmith"})
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"telephoneNumber": {"+1-555-0100"}}, user.Attributes)
	fx.searcher.AssertExpectations(t)
}

func TestFindUser_CaseInsensitiveAttributeNames(t *testing.T) {
	fx := newFixture(t)
	fx.searcher.On("Search", mock.Anything, mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return assert.ObjectsAreEqual([]string{"mail", "sAMAccountName", "displayName", "distinguishedName", "objectCategory"}, req.Attributes)
	})).Return(searchResult(jsmithEntry()), nil).Once()

	user, err := fx.finder.Find(t.Context(), OptionsID{Options: &QueryOptions{Attributes: []string{"mail", "MAIL"}}, ID: "jsmith"})
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"mail": {"john.smith@example.com"}}, user.Attributes)
	fx.searcher.AssertExpectations(t)
}

func TestFindUser_MembershipFlagFetchesMemberOf(t *testing.T) {
	fx := newFixture(t)
	fx.searcher.On("Search", mock.Anything, mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return assert.ObjectsAreEqual([]string{"sAMAccountName", "mail", "displayName", "distinguishedName", "objectCategory", "memberOf"}, req.Attributes)
	})).Return(searchResult(jsmithEntry()), nil).Once()
	fx.membership.On("GroupsForDN", mock.Anything, mock.Anything, jsmithDN).Return(nil, nil).Once()

	_, err := fx.finder.Find(t.Context(), IDFlagHandler{ID: "jsmith", IncludeMembership: true})
	require.NoError(t, err)
	fx.searcher.AssertExpectations(t)
}

func TestFindUser_SharedBus(t *testing.T) {
	bus := &Bus{}
	events := recordEvents(bus)

	fx := newFixture(t, WithBus(bus))
	fx.searcher.On("Search", mock.Anything, mock.Anything).Return(searchResult(jsmithEntry()), nil).Once()

	user, err := fx.finder.Find(t.Context(), ID("jsmith"))
	require.NoError(t, err)

	assert.Same(t, bus, fx.finder.Bus())
	require.Len(t, events.all(), 1)
	assert.Same(t, user, events.all()[0].User)
}

func TestFindUser_MembershipOnlyWhenRequested(t *testing.T) {
	groups := []*Group{{DN: engineersDN}}

	tests := []struct {
		name     string
		defaults []string
		call     Call
		want     bool
	}{
		{"no flag, no option", nil, ID("jsmith"), false},
		{"explicit flag", nil, IDFlagHandler{ID: "jsmith", IncludeMembership: true}, true},
		{"user option", nil, OptionsID{Options: &QueryOptions{IncludeMembership: []string{"user"}}, ID: "jsmith"}, true},
		{"all option", nil, OptionsID{Options: &QueryOptions{IncludeMembership: []string{"all"}}, ID: "jsmith"}, true},
		{"group option only", nil, OptionsID{Options: &QueryOptions{IncludeMembership: []string{"group"}}, ID: "jsmith"}, false},
		{"configured default", []string{"user"}, ID("jsmith"), true},
		{"filter alone never implies membership", nil, OptionsID{Options: &QueryOptions{Filter: "(memberOf=*)"}, ID: "jsmith"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, WithDefaultMembership(tt.defaults...))
			fx.searcher.On("Search", mock.Anything, mock.Anything).Return(searchResult(jsmithEntry()), nil).Once()
			fx.membership.On("GroupsForDN", mock.Anything, mock.Anything, jsmithDN).Return(groups, nil).Maybe()

			user, err := fx.finder.Find(t.Context(), tt.call)
			require.NoError(t, err)

			if tt.want {
				assert.Equal(t, groups, user.Groups)
				fx.membership.AssertNumberOfCalls(t, "GroupsForDN", 1)
			} else {
				assert.Nil(t, user.Groups)
				fx.membership.AssertNotCalled(t, "GroupsForDN", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestFindUser_MembershipReceivesReducedOptions(t *testing.T) {
	fx := newFixture(t)
	fx.searcher.On("Search", mock.Anything, mock.Anything).Return(searchResult(jsmithEntry()), nil).Once()
	fx.membership.On("GroupsForDN", mock.Anything, MembershipOptions{SizeLimit: 25, TimeLimit: 2 * time.Second}, jsmithDN).
		Return(nil, nil).Once()

	opts := &QueryOptions{Filter: "(sAMAccountName=jsmith)", SizeLimit: 25, TimeLimit: 2 * time.Second}
	user, err := fx.finder.Find(t.Context(), OptionsIDFlagHandler{Options: opts, ID: "jsmith", IncludeMembership: true})
	require.NoError(t, err)

	assert.NotNil(t, user.Groups, "resolved membership is never nil")
	assert.Empty(t, user.Groups)
	fx.membership.AssertExpectations(t)
}

func TestFindUser_SearchFailure(t *testing.T) {
	fx := newFixture(t)
	want := errors.New("server unavailable")
	fx.searcher.On("Search", mock.Anything, mock.Anything).Return(nil, want).Once()

	var handled []error
	pending := fx.finder.FindUser(t.Context(), Positional{Args: []any{"jsmith", true, func(err error, user *User) {
		handled = append(handled, err)
		assert.Nil(t, user)
	}}})

	user, err := pending.Wait(t.Context())
	assert.Nil(t, user)
	assert.Same(t, want, err)

	require.Len(t, handled, 1)
	assert.Same(t, want, handled[0])

	assert.Empty(t, fx.events.all())
	fx.membership.AssertNotCalled(t, "GroupsForDN", mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, fx.logger.byLevel("error"), 1)
}

func TestFindUser_MembershipFailure(t *testing.T) {
	fx := newFixture(t)
	want := errors.New("insufficient access rights")
	fx.searcher.On("Search", mock.Anything, mock.Anything).Return(searchResult(jsmithEntry()), nil).Once()
	fx.membership.On("GroupsForDN", mock.Anything, mock.Anything, jsmithDN).Return(nil, want).Once()

	calls := 0
	var handledErr error
	pending := fx.finder.FindUser(t.Context(), IDFlagHandler{ID: "jsmith", IncludeMembership: true, Handler: func(err error, _ *User) {
		calls++
		handledErr = err
	}})

	user, err := pending.Wait(t.Context())
	assert.Nil(t, user)
	assert.Same(t, want, err)
	assert.Equal(t, 1, calls)
	assert.Same(t, want, handledErr)
	assert.Empty(t, fx.events.all())
}

func TestFindUser_BaseFailure(t *testing.T) {
	searcher := &MockSearcher{}
	want := errors.New("no defaultNamingContext found in root DSE")
	finder := NewFinder(searcher, failingBase{err: want}, WithLogger(&recordingLogger{}))

	_, err := finder.Find(t.Context(), ID("jsmith"))
	assert.Same(t, want, err)
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestFindUser_ReturnsBeforeSearchCompletes(t *testing.T) {
	fx := newFixture(t)
	release := make(chan time.Time)
	fx.searcher.On("Search", mock.Anything, mock.Anything).WaitUntil(release).Return(searchResult(jsmithEntry()), nil).Once()

	pending := fx.finder.FindUser(t.Context(), ID("jsmith"))

	_, err := pending.Result()
	assert.ErrorIs(t, err, ErrNotSettled)
	assert.Empty(t, fx.events.all())

	close(release)

	select {
	case <-pending.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("lookup did not settle")
	}

	user, err := pending.Result()
	require.NoError(t, err)
	assert.Equal(t, jsmithDN, user.DN)
}

func TestFindUser_DefaultGroupFetcher(t *testing.T) {
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return req.Filter == "(&(objectCategory=User)(|(sAMAccountName=jsmith)(userPrincipalName=jsmith)))"
	})).Return(searchResult(jsmithEntry()), nil).Once()
	searcher.On("Search", mock.Anything, memberOf(jsmithDN)).Return(groupEntry(engineersDN, "Engineers"), nil).Once()
	searcher.On("Search", mock.Anything, memberOf(engineersDN)).Return(searchResult(), nil).Once()

	finder := NewFinder(searcher, StaticBase(testBaseDN), WithLogger(&recordingLogger{}))

	user, err := finder.Find(t.Context(), IDFlagHandler{ID: "jsmith", IncludeMembership: true})
	require.NoError(t, err)
	assert.Equal(t, []string{engineersDN}, user.GroupDNs())
	searcher.AssertExpectations(t)
}

func TestFindUser_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	fx := newFixture(t, WithMetrics(metrics))
	fx.searcher.On("Search", mock.Anything, mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return req.Filter != "(&(objectCategory=User)(|(sAMAccountName=broken)(userPrincipalName=broken)))"
	})).Return(searchResult(jsmithEntry()), nil).Twice()
	fx.searcher.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	fx.membership.On("GroupsForDN", mock.Anything, mock.Anything, jsmithDN).Return([]*Group{{DN: engineersDN}, {DN: staffDN}}, nil).Once()

	_, err := fx.finder.Find(t.Context(), ID("jsmith"))
	require.NoError(t, err)
	_, err = fx.finder.Find(t.Context(), IDFlagHandler{ID: "jsmith", IncludeMembership: true})
	require.NoError(t, err)
	_, err = fx.finder.Find(t.Context(), ID("broken"))
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LookupOutcome.WithLabelValues(OutcomeFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LookupOutcome.WithLabelValues(OutcomeError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.LookupOutcome.WithLabelValues(OutcomeNotFound)))

	families, err := reg.Gather()
	require.NoError(t, err)

	var sampled bool
	for _, mf := range families {
		if mf.GetName() != "adlookup_user_membership_groups" {
			continue
		}
		sampled = true
		h := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(1), h.GetSampleCount())
		assert.Equal(t, 2.0, h.GetSampleSum())
	}
	assert.True(t, sampled)
}

func TestFindUser_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	fx := newFixture(t, WithTracerProvider(tp))
	want := errors.New("insufficient access rights")
	fx.searcher.On("Search", mock.Anything, mock.Anything).Return(searchResult(jsmithEntry()), nil).Once()
	fx.membership.On("GroupsForDN", mock.Anything, mock.Anything, jsmithDN).Return(nil, want).Once()

	_, err := fx.finder.Find(t.Context(), IDFlagHandler{ID: "jsmith", IncludeMembership: true})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range spans {
		byName[s.Name()] = s
	}

	root := byName["directory.FindUser"]
	require.NotNil(t, root)
	assert.Equal(t, codes.Error, root.Status().Code)

	search := byName["directory.search"]
	require.NotNil(t, search)
	assert.Equal(t, codes.Unset, search.Status().Code)
	assert.Equal(t, root.SpanContext().SpanID(), search.Parent().SpanID())

	membership := byName["directory.membership"]
	require.NotNil(t, membership)
	assert.Equal(t, codes.Error, membership.Status().Code)
	assert.Equal(t, want.Error(), membership.Status().Description)
}

func TestTFLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := tflogtest.RootLogger(t.Context(), &buf)
	ctx = tflog.NewSubsystem(ctx, Subsystem)

	fx := newFixture(t, WithLogger(TFLogger{}))
	fx.searcher.On("Search", mock.Anything, mock.Anything).Return(searchResult(), nil).Once()

	_, err := fx.finder.Find(ctx, ID("ghost"))
	require.NoError(t, err)

	entries, err := tflogtest.MultilineJSONDecode(&buf)
	require.NoError(t, err)

	var warned bool
	for _, e := range entries {
		if e["@level"] == "warn" {
			warned = true
			assert.Contains(t, e["@message"], `User "ghost" not found`)
			assert.Equal(t, "ghost", e["identifier"])
		}
	}
	assert.True(t, warned, "expected a warning entry, got %v", entries)
}
