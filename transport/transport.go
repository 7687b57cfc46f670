// Package transport defines the narrow fetch interface the replay pipeline
// consumes. Wire-format clients (gRPC, GraphQL, archival HTTP) live outside
// this repository and plug in behind Client; here we ship the tiered
// composition, a retrying decorator, a snapshot-file client and an in-memory
// fault-injecting client for tests.
package transport

import (
	"context"
	"strconv"

	"github.com/clydemeng/sui-replay/types"
)

// PackageUpgrade is one step of a package's upgrade history: the storage
// address a given version's bytecode lives at.
type PackageUpgrade struct {
	Address types.Address `json:"address"`
	Version uint64        `json:"version"`
}

// Client is the transport primitive set. Implementations MUST distinguish
// confirmed absence (*types.NotFoundError) from transport failure
// (*types.TransportError), and MUST NOT silently substitute current state
// for historical state: FetchObject with a non-nil version either returns
// that exact version or fails.
type Client interface {
	// FetchObject returns the object at the given version, or at the
	// implementation's latest version when version is nil.
	FetchObject(ctx context.Context, id types.Address, version *uint64) (*types.VersionedObject, error)

	// FetchPackage returns the package stored at addr with modules and
	// linkage populated.
	FetchPackage(ctx context.Context, addr types.Address) (*types.Package, error)

	// FetchTransaction returns the replayable transaction record for a
	// digest, including on-chain effects and checkpoint metadata when the
	// backend has them.
	FetchTransaction(ctx context.Context, digest string) (*types.Transaction, error)

	// FetchCheckpoint returns one fully-decoded checkpoint.
	FetchCheckpoint(ctx context.Context, seq uint64) (*types.Checkpoint, error)

	// FetchCheckpoints returns the requested checkpoints in input order.
	FetchCheckpoints(ctx context.Context, seqs []uint64) ([]*types.Checkpoint, error)

	// FetchPackageUpgrades returns the upgrade history of a package's
	// runtime id, oldest first.
	FetchPackageUpgrades(ctx context.Context, runtimeID types.Address) ([]PackageUpgrade, error)

	// ListDynamicFields enumerates the child object ids hanging off a
	// dynamic-field parent.
	ListDynamicFields(ctx context.Context, parent types.Address) ([]types.Address, error)

	// Endpoint names the backend for error reporting and logs.
	Endpoint() string
}

// Tiered combines a historical/archival channel with a latest-state channel.
// All Client calls go to the historical tier; the latest tier is reachable
// only through CurrentObject so that substitution is always an explicit,
// policy-gated act of the caller.
type Tiered struct {
	Historical Client
	Latest     Client
}

var _ Client = (*Tiered)(nil)

func (t *Tiered) FetchObject(ctx context.Context, id types.Address, version *uint64) (*types.VersionedObject, error) {
	return t.Historical.FetchObject(ctx, id, version)
}

func (t *Tiered) FetchPackage(ctx context.Context, addr types.Address) (*types.Package, error) {
	return t.Historical.FetchPackage(ctx, addr)
}

func (t *Tiered) FetchTransaction(ctx context.Context, digest string) (*types.Transaction, error) {
	return t.Historical.FetchTransaction(ctx, digest)
}

func (t *Tiered) FetchCheckpoint(ctx context.Context, seq uint64) (*types.Checkpoint, error) {
	return t.Historical.FetchCheckpoint(ctx, seq)
}

func (t *Tiered) FetchCheckpoints(ctx context.Context, seqs []uint64) ([]*types.Checkpoint, error) {
	return t.Historical.FetchCheckpoints(ctx, seqs)
}

func (t *Tiered) FetchPackageUpgrades(ctx context.Context, runtimeID types.Address) ([]PackageUpgrade, error) {
	return t.Historical.FetchPackageUpgrades(ctx, runtimeID)
}

func (t *Tiered) ListDynamicFields(ctx context.Context, parent types.Address) ([]types.Address, error) {
	return t.Historical.ListDynamicFields(ctx, parent)
}

func (t *Tiered) Endpoint() string { return t.Historical.Endpoint() }

// CurrentObject fetches the object's latest state from the latest-state
// tier. Callers own the decision of whether that state is admissible.
func (t *Tiered) CurrentObject(ctx context.Context, id types.Address) (*types.VersionedObject, error) {
	if t.Latest == nil {
		return nil, &types.NotFoundError{What: "object", ID: id.String()}
	}
	return t.Latest.FetchObject(ctx, id, nil)
}

// CheckpointFromLatest resolves checkpoint metadata through the latest-state
// tier, for archives that do not index checkpoints. Like CurrentObject it is
// not part of Client; callers opt in explicitly.
func (t *Tiered) CheckpointFromLatest(ctx context.Context, seq uint64) (*types.Checkpoint, error) {
	if t.Latest == nil {
		return nil, &types.NotFoundError{What: "checkpoint", ID: strconv.FormatUint(seq, 10)}
	}
	return t.Latest.FetchCheckpoint(ctx, seq)
}
