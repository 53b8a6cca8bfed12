package directory

import (
	"encoding/json"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/terraform-provider-adlookup/internal/ldap"
)

// User is a directory user projected onto the requested attributes.
//
// The zero User is the "not found" result. Groups stays nil unless membership
// was resolved, in which case it is non-nil even when the user belongs to no
// group.
type User struct {
	DN         string
	Attributes map[string][]string
	Groups     []*Group
}

// Group is a group reference attached to a User.
type Group struct {
	DN         string
	Attributes map[string][]string
}

// IsEmpty reports whether u is the not-found result.
func (u *User) IsEmpty() bool {
	return u == nil || (u.DN == "" && len(u.Attributes) == 0 && u.Groups == nil)
}

// Values returns every value of the named attribute. Names compare
// case-insensitively.
func (u *User) Values(name string) []string {
	if u == nil {
		return nil
	}
	return lookupAttribute(u.Attributes, name)
}

// Get returns the first value of the named attribute, or "".
func (u *User) Get(name string) string {
	if values := u.Values(name); len(values) > 0 {
		return values[0]
	}
	return ""
}

// GroupDNs lists the DNs of the attached groups in order.
func (u *User) GroupDNs() []string {
	if u == nil || u.Groups == nil {
		return nil
	}
	dns := make([]string, 0, len(u.Groups))
	for _, g := range u.Groups {
		dns = append(dns, g.DN)
	}
	return dns
}

// MarshalJSON flattens single-valued attributes. The empty user encodes as {}.
func (u *User) MarshalJSON() ([]byte, error) {
	if u.IsEmpty() {
		return []byte("{}"), nil
	}

	out := flattenAttributes(u.DN, u.Attributes)
	if u.Groups != nil {
		out["groups"] = u.Groups
	}
	return json.Marshal(out)
}

func (g *Group) MarshalJSON() ([]byte, error) {
	return json.Marshal(flattenAttributes(g.DN, g.Attributes))
}

func flattenAttributes(dn string, attrs map[string][]string) map[string]any {
	out := make(map[string]any, len(attrs)+2)
	for name, values := range attrs {
		if len(values) == 1 {
			out[name] = values[0]
		} else {
			out[name] = values
		}
	}
	out["dn"] = dn
	return out
}

func lookupAttribute(attrs map[string][]string, name string) []string {
	if values, ok := attrs[name]; ok {
		return values
	}
	for key, values := range attrs {
		if strings.EqualFold(key, name) {
			return values
		}
	}
	return nil
}

// ProjectEntry builds a User from entry, keeping only whitelisted
// attributes. The whitelist spelling of each name is used as the key.
func ProjectEntry(entry *goldap.Entry, whitelist []string) *User {
	if entry == nil {
		return &User{}
	}
	return &User{
		DN:         entry.DN,
		Attributes: projectAttributes(entry, whitelist),
	}
}

func projectAttributes(entry *goldap.Entry, whitelist []string) map[string][]string {
	attrs := make(map[string][]string)

	if wantsAllAttributes(whitelist) {
		for _, attr := range entry.Attributes {
			attrs[attr.Name] = attributeValues(attr)
		}
		return attrs
	}

	for _, name := range whitelist {
		if strings.EqualFold(name, "dn") {
			attrs[name] = []string{entry.DN}
			continue
		}
		for _, attr := range entry.Attributes {
			if strings.EqualFold(attr.Name, name) {
				attrs[name] = attributeValues(attr)
				break
			}
		}
	}
	return attrs
}

// attributeValues renders binary objectGUID and objectSid values as strings
// and keeps the raw values when they cannot be decoded.
func attributeValues(attr *goldap.EntryAttribute) []string {
	var decode func([]byte) (string, error)
	switch {
	case strings.EqualFold(attr.Name, "objectGUID"):
		decode = ldap.DecodeGUID
	case strings.EqualFold(attr.Name, "objectSid"):
		decode = ldap.DecodeSID
	}
	if decode == nil || len(attr.ByteValues) == 0 {
		return append([]string(nil), attr.Values...)
	}

	values := make([]string, 0, len(attr.ByteValues))
	for _, raw := range attr.ByteValues {
		s, err := decode(raw)
		if err != nil {
			return append([]string(nil), attr.Values...)
		}
		values = append(values, s)
	}
	return values
}
