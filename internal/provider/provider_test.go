package provider

import (
	"context"
	"os"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/providerserver"
	"github.com/hashicorp/terraform-plugin-go/tfprotov6"
	"github.com/stretchr/testify/mock"

	ldapclient "github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

// testAccProtoV6ProviderFactories is used to instantiate a provider during acceptance testing.
// The factory function is called for each Terraform CLI command to create a provider
// server that the CLI can connect to and interact with.
var testAccProtoV6ProviderFactories = map[string]func() (tfprotov6.ProviderServer, error){
	"adlookup": providerserver.NewProtocol6WithError(New("test")()),
}

// Environment variables for acceptance tests. The provider itself is
// configured from the regular AD_* variables.
const (
	EnvTestUser      = "AD_TEST_USER"
	EnvTestUserDN    = "AD_TEST_USER_DN"
	EnvTestMissingID = "AD_TEST_MISSING_USER"
)

func testAccPreCheck(t *testing.T) {
	t.Helper()

	if os.Getenv("AD_DOMAIN") == "" && os.Getenv("AD_LDAP_URL") == "" {
		t.Fatal("AD_DOMAIN or AD_LDAP_URL must be set for acceptance tests")
	}
	if os.Getenv(EnvTestUser) == "" {
		t.Fatalf("%s must be set for acceptance tests", EnvTestUser)
	}
}

// MockClient is a mock implementation of the LDAP client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) BindWithConfig(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Search(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*ldapclient.SearchResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) GetBaseDN(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Stats() ldapclient.PoolStats {
	args := m.Called()
	if stats, ok := args.Get(0).(ldapclient.PoolStats); ok {
		return stats
	}
	return ldapclient.PoolStats{}
}

var _ ldapclient.Client = (*MockClient)(nil)

// withFilter matches a search by its filter.
func withFilter(filter string) any {
	return mock.MatchedBy(func(req *ldapclient.SearchRequest) bool {
		return req.Filter == filter
	})
}
