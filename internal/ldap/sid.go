package ldap

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
)

// minSIDLength covers revision, sub-authority count and the 6-byte authority.
const minSIDLength = 8

// DecodeSID converts a binary objectSid to its S-1-5-21-... form.
func DecodeSID(raw []byte) (string, error) {
	if len(raw) < minSIDLength {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(raw))
	}

	subAuthorities := int(raw[1])
	if want := minSIDLength + 4*subAuthorities; len(raw) < want {
		return "", fmt.Errorf("binary SID truncated: expected %d bytes, got %d", want, len(raw))
	}

	return objectsid.Decode(raw).String(), nil
}
