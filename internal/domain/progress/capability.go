package progress

import (
	"math/big"
	"strings"
	"time"
)

// Verdict is the tri-state answer to "can this environment transact on the
// target network".
type Verdict int

const (
	// VerdictIndeterminate means the probe could not get an answer.
	VerdictIndeterminate Verdict = iota
	// VerdictSupported means the provider is on the target network.
	VerdictSupported
	// VerdictUnsupported means the provider answered with another network.
	VerdictUnsupported
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictSupported:
		return "supported"
	case VerdictUnsupported:
		return "unsupported"
	default:
		return "indeterminate"
	}
}

// Terminal reports whether the verdict may be cached for the session.
func (v Verdict) Terminal() bool {
	return v == VerdictSupported || v == VerdictUnsupported
}

// NetworkID is a CAIP-2 chain identifier such as "eip155:84532".
type NetworkID string

// BaseSepolia is the test network the practice labs transact on.
const BaseSepolia NetworkID = "eip155:84532"

// NetworkFromChainID builds an eip155 network identifier.
func NetworkFromChainID(chainID *big.Int) NetworkID {
	if chainID == nil {
		return ""
	}
	return NetworkID("eip155:" + chainID.String())
}

// ChainID returns the numeric chain id of an eip155 network.
func (n NetworkID) ChainID() (*big.Int, bool) {
	ref, ok := strings.CutPrefix(string(n), "eip155:")
	if !ok {
		return nil, false
	}
	id, ok := new(big.Int).SetString(ref, 10)
	return id, ok
}

// CompensationRecord marks that the full-practice grant was delivered for
// an identity.
type CompensationRecord struct {
	Identity  Identity  `json:"identity"`
	GrantedAt time.Time `json:"granted_at"`
}
