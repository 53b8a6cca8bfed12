package directory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

const (
	jsmithDN    = "CN=John Smith,OU=Users,DC=example,DC=com"
	engineersDN = "CN=Engineers,OU=Groups,DC=example,DC=com"
	staffDN     = "CN=All Staff,OU=Groups,DC=example,DC=com"
	everyoneDN  = "CN=Everyone,OU=Groups,DC=example,DC=com"
)

func memberOf(dn string) any {
	return mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return req.Filter == "(&(objectCategory=Group)(member="+dn+"))"
	})
}

func groupEntry(dn, cn string) *ldap.SearchResult {
	return searchResult(userEntry(dn, map[string][]string{
		"cn":                {cn},
		"distinguishedName": {dn},
		"objectCategory":    {"CN=Group,CN=Schema,CN=Configuration,DC=example,DC=com"},
	}))
}

func TestGroupMembershipFetcher_Nested(t *testing.T) {
	searcher := &MockSearcher{}

	direct := groupEntry(engineersDN, "Engineers")
	direct.Entries = append(direct.Entries, groupEntry(staffDN, "All Staff").Entries...)

	searcher.On("Search", mock.Anything, memberOf(jsmithDN)).Return(direct, nil).Once()
	searcher.On("Search", mock.Anything, memberOf(engineersDN)).Return(groupEntry(everyoneDN, "Everyone"), nil).Once()
	// Everyone is reached twice; it must be reported once.
	searcher.On("Search", mock.Anything, memberOf(staffDN)).Return(groupEntry("cn=everyone,ou=groups,dc=example,dc=com", "Everyone"), nil).Once()
	searcher.On("Search", mock.Anything, memberOf(everyoneDN)).Return(searchResult(), nil).Once()

	fetcher := &GroupMembershipFetcher{
		Searcher:   searcher,
		Base:       StaticBase(testBaseDN),
		Attributes: []string{"cn"},
	}

	groups, err := fetcher.GroupsForDN(t.Context(), MembershipOptions{}, jsmithDN)
	require.NoError(t, err)

	require.Len(t, groups, 3)
	assert.Equal(t, engineersDN, groups[0].DN)
	assert.Equal(t, staffDN, groups[1].DN)
	assert.Equal(t, everyoneDN, groups[2].DN)
	assert.Equal(t, map[string][]string{"cn": {"Engineers"}}, groups[0].Attributes)

	searcher.AssertExpectations(t)
}

func TestGroupMembershipFetcher_Request(t *testing.T) {
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, &ldap.SearchRequest{
		BaseDN:     "OU=Groups,DC=example,DC=com",
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     `(&(objectCategory=Group)(member=CN=Smith\5c, John,DC=example,DC=com))`,
		Attributes: []string{"objectCategory", "distinguishedName", "cn", "description"},
		SizeLimit:  50,
		TimeLimit:  10 * time.Second,
	}).Return(searchResult(), nil).Once()

	fetcher := &GroupMembershipFetcher{
		Searcher: searcher,
		Base:     &DirectoryBase{Kinds: map[string]string{KindGroup: "OU=Groups,DC=example,DC=com"}},
	}

	groups, err := fetcher.GroupsForDN(t.Context(), MembershipOptions{SizeLimit: 50, TimeLimit: 10 * time.Second}, `CN=Smith\, John,DC=example,DC=com`)
	require.NoError(t, err)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)

	searcher.AssertExpectations(t)
}

func TestGroupMembershipFetcher_SelfReferenceIgnored(t *testing.T) {
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, memberOf(engineersDN)).Return(groupEntry(engineersDN, "Engineers"), nil).Once()

	fetcher := &GroupMembershipFetcher{Searcher: searcher, Base: StaticBase(testBaseDN)}

	groups, err := fetcher.GroupsForDN(t.Context(), MembershipOptions{}, engineersDN)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestGroupMembershipFetcher_Errors(t *testing.T) {
	t.Run("search failure", func(t *testing.T) {
		want := errors.New("size limit exceeded")
		searcher := &MockSearcher{}
		searcher.On("Search", mock.Anything, memberOf(jsmithDN)).Return(groupEntry(engineersDN, "Engineers"), nil).Once()
		searcher.On("Search", mock.Anything, memberOf(engineersDN)).Return(nil, want).Once()

		fetcher := &GroupMembershipFetcher{Searcher: searcher, Base: StaticBase(testBaseDN)}

		groups, err := fetcher.GroupsForDN(t.Context(), MembershipOptions{}, jsmithDN)
		assert.Same(t, want, err)
		assert.Nil(t, groups)
	})

	t.Run("base failure", func(t *testing.T) {
		want := errors.New("no base")
		searcher := &MockSearcher{}

		fetcher := &GroupMembershipFetcher{Searcher: searcher, Base: failingBase{err: want}}

		_, err := fetcher.GroupsForDN(t.Context(), MembershipOptions{}, jsmithDN)
		assert.Same(t, want, err)
		searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
	})
}
