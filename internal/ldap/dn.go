package ldap

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

var dnRegex = regexp.MustCompile(`^(?i)(CN|OU|DC|O|C|STREET|L|ST|POSTALCODE|UID)\s*=.+`)

// IsDN reports whether s is shaped like a distinguished name and parses as one.
func IsDN(s string) bool {
	s = strings.TrimSpace(s)
	if !dnRegex.MatchString(s) {
		return false
	}
	_, err := ldap.ParseDN(s)
	return err == nil
}

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}

// NormalizeDNCase uppercases attribute types and keeps values as written:
//
//	cn=john,ou=users,dc=example,dc=com -> CN=john,OU=users,DC=example,DC=com
func NormalizeDNCase(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	rdns := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, strings.ToUpper(attr.Type)+"="+escapeDNValue(attr.Value))
		}
		rdns = append(rdns, strings.Join(attrs, "+"))
	}

	return strings.Join(rdns, ","), nil
}

// DNKey returns a case-insensitive comparison key for dn. Unparseable input
// falls back to its lowercased, trimmed form.
func DNKey(dn string) string {
	normalized, err := NormalizeDNCase(dn)
	if err != nil {
		normalized = strings.TrimSpace(dn)
	}
	return strings.ToLower(normalized)
}

// escapeDNValue applies the RFC 4514 attribute value escaping rules.
func escapeDNValue(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 4)

	for i, r := range value {
		switch {
		case strings.ContainsRune(`,+"\<>;`, r):
			b.WriteRune('\\')
			b.WriteRune(r)
		case r == '#' && i == 0:
			b.WriteString(`\#`)
		case r == ' ' && (i == 0 || i == len(value)-1):
			b.WriteString(`\ `)
		case r == 0:
			b.WriteString(`\00`)
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}
