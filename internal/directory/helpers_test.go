package directory

import (
	"context"
	"sync"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

const testBaseDN = "DC=example,DC=com"

// MockSearcher implements Searcher for testing.
type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*ldap.SearchResult)
	return result, args.Error(1)
}

// MockMembership implements MembershipFetcher for testing.
type MockMembership struct {
	mock.Mock
}

func (m *MockMembership) GroupsForDN(ctx context.Context, opts MembershipOptions, dn string) ([]*Group, error) {
	args := m.Called(ctx, opts, dn)
	groups, _ := args.Get(0).([]*Group)
	return groups, args.Error(1)
}

type failingBase struct {
	err error
}

func (f failingBase) BaseDN(context.Context, string) (string, error) {
	return "", f.err
}

type logEntry struct {
	level  string
	msg    string
	fields map[string]any
}

// recordingLogger captures log entries in order.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (r *recordingLogger) record(level, msg string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, logEntry{level: level, msg: msg, fields: fields})
}

func (r *recordingLogger) Trace(_ context.Context, msg string, fields map[string]any) {
	r.record("trace", msg, fields)
}

func (r *recordingLogger) Debug(_ context.Context, msg string, fields map[string]any) {
	r.record("debug", msg, fields)
}

func (r *recordingLogger) Info(_ context.Context, msg string, fields map[string]any) {
	r.record("info", msg, fields)
}

func (r *recordingLogger) Warn(_ context.Context, msg string, fields map[string]any) {
	r.record("warn", msg, fields)
}

func (r *recordingLogger) Error(_ context.Context, msg string, fields map[string]any) {
	r.record("error", msg, fields)
}

func (r *recordingLogger) byLevel(level string) []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []logEntry
	for _, e := range r.entries {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

// eventRecorder subscribes to a Bus and keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(bus *Bus) *eventRecorder {
	r := &eventRecorder{}
	bus.Subscribe(func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	return r
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func userEntry(dn string, attrs map[string][]string) *goldap.Entry {
	return goldap.NewEntry(dn, attrs)
}

func jsmithEntry() *goldap.Entry {
	return userEntry("CN=John Smith,OU=Users,DC=example,DC=com", map[string][]string{
		"distinguishedName": {"CN=John Smith,OU=Users,DC=example,DC=com"},
		"objectCategory":    {"CN=Person,CN=Schema,CN=Configuration,DC=example,DC=com"},
		"sAMAccountName":    {"jsmith"},
		"userPrincipalName": {"jsmith@example.com"},
		"mail":              {"john.smith@example.com"},
		"displayName":       {"John Smith"},
		"telephoneNumber":   {"+1-555-0100"},
	})
}

func searchResult(entries ...*goldap.Entry) *ldap.SearchResult {
	return &ldap.SearchResult{Entries: entries, Total: len(entries)}
}
