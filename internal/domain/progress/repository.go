package progress

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXTERNAL COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// IdentityProvider is the wallet connector.
type IdentityProvider interface {
	// RequestAccounts prompts for account access.
	// Returns shared.ErrUserRejected if the user declines.
	RequestAccounts(ctx context.Context) ([]string, error)

	// CurrentNetwork returns the network the wallet is connected to.
	CurrentNetwork(ctx context.Context) (NetworkID, error)

	// SwitchNetwork asks the wallet to move to the given network.
	// Returns shared.ErrUserRejected or shared.ErrUnsupportedNetwork.
	SwitchNetwork(ctx context.Context, network NetworkID) error
}

// NetworkChecker verifies that the target network itself answers.
type NetworkChecker interface {
	CheckNetwork(ctx context.Context) error
}

// Store is the remote authoritative progress service.
type Store interface {
	// Progress returns the flags stored for the identity.
	// Returns shared.ErrUnreachable or shared.ErrMalformed on failure.
	Progress(ctx context.Context, id Identity) (RemoteProgress, error)

	// SetFlag marks one module complete. Writing an already true flag is a no-op.
	SetFlag(ctx context.Context, id Identity, module ModuleName) error
}

// Registrar is implemented by stores that need an explicit first-visit
// registration.
type Registrar interface {
	// Register creates all-false flags for a new identity.
	// created is false when the identity was already registered.
	Register(ctx context.Context, id Identity) (created bool, err error)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL STATE
// ══════════════════════════════════════════════════════════════════════════════

// KeyValueStore is the local persistent storage behind the identity,
// compensation_record and progress_snapshot keys.
type KeyValueStore interface {
	// Get returns shared.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Local state keys.
const (
	KeyIdentity           = "identity"
	KeyCompensationPrefix = "compensation_record:"
	KeySnapshotPrefix     = "progress_snapshot:"
)

// CompensationKey returns the compensation_record key for an identity.
func CompensationKey(id Identity) string {
	return KeyCompensationPrefix + string(id)
}

// SnapshotKey returns the progress_snapshot key for an identity.
func SnapshotKey(id Identity) string {
	return KeySnapshotPrefix + string(id)
}
