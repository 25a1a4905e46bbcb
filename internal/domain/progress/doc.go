// Package progress contains the domain model of the BaseCamp learning progress.
//
// The package defines:
//
//   - Value objects: Identity, ModuleName, Group, Verdict, NetworkID
//   - Entities: Snapshot, CompensationRecord
//   - Pure derivations: Percentage, Rollup
//   - Ports implemented in infrastructure: IdentityProvider, Store,
//     Registrar, NetworkChecker, KeyValueStore
//
// # Module catalog
//
// Module names are drawn from three fixed, disjoint groups:
//
//	practice: faucet, send, receive, mint, launch
//	security: lab1 .. lab5
//	theory:   theory1 .. theory5
//
// The catalog is declared once in DefaultCatalog and every page derives its
// progress bars from it.
//
// # Monotonic flags
//
// A flag that is true never becomes false again. Snapshot.Merge combines a
// remote snapshot with the local one by logical OR, so a remote false cannot
// overwrite a local optimistic true:
//
//	local := NewSnapshot(id)
//	local.SetOptimistic(ModuleSend)
//	local.Merge(remote) // send stays true, pending until remote confirms
//
// The package only depends on go-ethereum for address checksumming.
package progress
