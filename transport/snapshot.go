package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/clydemeng/sui-replay/types"
)

// snapshotState is the portable on-disk shape of one ReplayState. Objects
// and packages ride as arrays so the document stays diffable and order-
// stable across tools.
type snapshotState struct {
	Transaction     *types.Transaction       `json:"transaction"`
	Objects         []*types.VersionedObject `json:"objects"`
	Packages        []*types.Package         `json:"packages"`
	ProtocolVersion uint64                   `json:"protocol_version"`
	Epoch           uint64                   `json:"epoch"`
	Checkpoint      *uint64                  `json:"checkpoint,omitempty"`
}

func toSnapshot(state *types.ReplayState) *snapshotState {
	snap := &snapshotState{
		Transaction:     state.Transaction,
		ProtocolVersion: state.ProtocolVersion,
		Epoch:           state.Epoch,
		Checkpoint:      state.Checkpoint,
	}
	for _, obj := range state.Objects {
		snap.Objects = append(snap.Objects, obj)
	}
	for _, pkg := range state.Packages {
		snap.Packages = append(snap.Packages, pkg)
	}
	return snap
}

func fromSnapshot(snap *snapshotState) (*types.ReplayState, error) {
	if snap.Transaction == nil {
		return nil, errors.New("snapshot: missing transaction")
	}
	state := types.NewReplayState(snap.Transaction)
	state.ProtocolVersion = snap.ProtocolVersion
	state.Epoch = snap.Epoch
	state.Checkpoint = snap.Checkpoint
	for _, obj := range snap.Objects {
		state.Objects[obj.ID] = obj
	}
	for _, pkg := range snap.Packages {
		state.Packages[pkg.Address] = pkg
	}
	return state, nil
}

// SaveSnapshot writes one ReplayState as a snapshot document.
func SaveSnapshot(path string, state *types.ReplayState) error {
	raw, err := json.MarshalIndent(toSnapshot(state), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// LoadSnapshots reads a snapshot file holding either a single state or an
// array of states.
func LoadSnapshots(path string) ([]*types.ReplayState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot: read")
	}
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	var snaps []*snapshotState
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &snaps); err != nil {
			return nil, &types.DecodeError{What: "snapshot file", Err: err}
		}
	} else {
		var one snapshotState
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, &types.DecodeError{What: "snapshot file", Err: err}
		}
		snaps = append(snaps, &one)
	}
	states := make([]*types.ReplayState, 0, len(snaps))
	for _, snap := range snaps {
		state, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// SelectState picks the state matching digest. Selection is required when a
// file holds more than one state; with exactly one state an empty digest
// selects it.
func SelectState(states []*types.ReplayState, digest string) (*types.ReplayState, error) {
	if len(states) == 0 {
		return nil, errors.New("snapshot: no states")
	}
	if digest == "" {
		if len(states) == 1 {
			return states[0], nil
		}
		return nil, fmt.Errorf("snapshot: %d states present, digest selection required", len(states))
	}
	for _, st := range states {
		if st.Transaction != nil && st.Transaction.Digest == digest {
			return st, nil
		}
	}
	return nil, &types.NotFoundError{What: "transaction", ID: digest}
}

// SnapshotClient serves the Client interface from loaded snapshot states,
// standing in for a live transport.
type SnapshotClient struct {
	states []*types.ReplayState
}

var _ Client = (*SnapshotClient)(nil)

// NewSnapshotClient builds a client over already-loaded states.
func NewSnapshotClient(states []*types.ReplayState) *SnapshotClient {
	return &SnapshotClient{states: states}
}

// OpenSnapshotClient loads path and builds a client over its states.
func OpenSnapshotClient(path string) (*SnapshotClient, error) {
	states, err := LoadSnapshots(path)
	if err != nil {
		return nil, err
	}
	return &SnapshotClient{states: states}, nil
}

func (c *SnapshotClient) Endpoint() string { return "snapshot" }

func (c *SnapshotClient) FetchObject(_ context.Context, id types.Address, version *uint64) (*types.VersionedObject, error) {
	var best *types.VersionedObject
	for _, st := range c.states {
		obj, ok := st.Objects[id]
		if !ok {
			continue
		}
		if version != nil {
			if obj.Version == *version {
				return obj.Clone(), nil
			}
			continue
		}
		if best == nil || obj.Version > best.Version {
			best = obj
		}
	}
	if best != nil {
		return best.Clone(), nil
	}
	return nil, &types.NotFoundError{What: "object", ID: id.String(), Version: version}
}

func (c *SnapshotClient) FetchPackage(_ context.Context, addr types.Address) (*types.Package, error) {
	for _, st := range c.states {
		if pkg, ok := st.Packages[addr]; ok {
			return pkg.Clone(), nil
		}
	}
	return nil, &types.NotFoundError{What: "package", ID: addr.String()}
}

func (c *SnapshotClient) FetchTransaction(_ context.Context, digest string) (*types.Transaction, error) {
	for _, st := range c.states {
		if st.Transaction != nil && st.Transaction.Digest == digest {
			return st.Transaction, nil
		}
	}
	return nil, &types.NotFoundError{What: "transaction", ID: digest}
}

func (c *SnapshotClient) FetchCheckpoint(_ context.Context, seq uint64) (*types.Checkpoint, error) {
	return nil, &types.NotFoundError{What: "checkpoint", ID: fmt.Sprintf("%d", seq)}
}

func (c *SnapshotClient) FetchCheckpoints(ctx context.Context, seqs []uint64) ([]*types.Checkpoint, error) {
	if len(seqs) == 0 {
		return nil, nil
	}
	return nil, &types.NotFoundError{What: "checkpoint", ID: fmt.Sprintf("%d", seqs[0])}
}

func (c *SnapshotClient) FetchPackageUpgrades(_ context.Context, runtimeID types.Address) ([]PackageUpgrade, error) {
	var ups []PackageUpgrade
	for _, st := range c.states {
		for _, pkg := range st.Packages {
			if pkg.RuntimeID() == runtimeID {
				ups = append(ups, PackageUpgrade{Address: pkg.Address, Version: pkg.Version})
			}
		}
	}
	if len(ups) == 0 {
		return nil, &types.NotFoundError{What: "package", ID: runtimeID.String()}
	}
	return ups, nil
}

func (c *SnapshotClient) ListDynamicFields(_ context.Context, parent types.Address) ([]types.Address, error) {
	return nil, nil
}
