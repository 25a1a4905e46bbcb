package progress

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
)

// Identity is the opaque user token, normally a wallet address.
type Identity string

// ParseIdentity trims and normalizes a raw account value.
// Hex addresses are returned in EIP-55 checksum form so the same wallet
// always maps to the same cache and store key.
func ParseIdentity(raw string) (Identity, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", shared.NewDomainError("identity", "Parse", shared.ErrInvalidIdentity, "identity cannot be empty")
	}
	if common.IsHexAddress(s) {
		return Identity(common.HexToAddress(s).Hex()), nil
	}
	if strings.ContainsAny(s, " \t\n\r") {
		return "", shared.NewDomainError("identity", "Parse", shared.ErrInvalidIdentity, "identity contains whitespace")
	}
	return Identity(s), nil
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i == ""
}

// String returns the string form of the identity.
func (i Identity) String() string {
	return string(i)
}

// Short returns an abbreviated form for display and logs, e.g. 0xAb..12Cd.
func (i Identity) Short() string {
	s := string(i)
	if len(s) <= 10 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}
