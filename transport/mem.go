package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/clydemeng/sui-replay/types"
)

// MemClient is an in-memory Client used by tests and local harnesses. It
// supports fault injection (scripted errors per operation) and counts calls
// so tests can assert on fetch traffic.
type MemClient struct {
	mu sync.Mutex

	name          string
	objects       map[types.ObjectKey]*types.VersionedObject
	latest        map[types.Address]*types.VersionedObject
	packages      map[types.Address]*types.Package
	transactions  map[string]*types.Transaction
	checkpoints   map[uint64]*types.Checkpoint
	upgrades      map[types.Address][]PackageUpgrade
	dynamicFields map[types.Address][]types.Address

	faults map[string][]error // op -> queued errors, consumed FIFO
	calls  map[string]int
}

var _ Client = (*MemClient)(nil)

// NewMemClient builds an empty in-memory client named for error reporting.
func NewMemClient(name string) *MemClient {
	return &MemClient{
		name:          name,
		objects:       make(map[types.ObjectKey]*types.VersionedObject),
		latest:        make(map[types.Address]*types.VersionedObject),
		packages:      make(map[types.Address]*types.Package),
		transactions:  make(map[string]*types.Transaction),
		checkpoints:   make(map[uint64]*types.Checkpoint),
		upgrades:      make(map[types.Address][]PackageUpgrade),
		dynamicFields: make(map[types.Address][]types.Address),
		faults:        make(map[string][]error),
		calls:         make(map[string]int),
	}
}

func (m *MemClient) Endpoint() string { return m.name }

// PutObject registers an object version; the highest version becomes the
// latest state.
func (m *MemClient) PutObject(obj *types.VersionedObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.Key()] = obj.Clone()
	if cur, ok := m.latest[obj.ID]; !ok || obj.Version > cur.Version {
		m.latest[obj.ID] = obj.Clone()
	}
}

// RemoveObject drops every version of id, simulating pruned history.
func (m *MemClient) RemoveObject(id types.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.objects {
		if key.ID == id {
			delete(m.objects, key)
		}
	}
	delete(m.latest, id)
}

// PutPackage registers a package and extends its upgrade history.
func (m *MemClient) PutPackage(pkg *types.Package) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages[pkg.Address] = pkg.Clone()
	rt := pkg.RuntimeID()
	m.upgrades[rt] = append(m.upgrades[rt], PackageUpgrade{Address: pkg.Address, Version: pkg.Version})
}

// PutTransaction registers a transaction record.
func (m *MemClient) PutTransaction(tx *types.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.Digest] = tx
}

// PutCheckpoint registers a checkpoint.
func (m *MemClient) PutCheckpoint(cp *types.Checkpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.Sequence] = cp
}

// SetDynamicFields declares the child ids of a dynamic-field parent.
func (m *MemClient) SetDynamicFields(parent types.Address, children []types.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dynamicFields[parent] = append([]types.Address(nil), children...)
}

// FailNext queues an error for the named operation; queued errors are
// consumed before the real lookup runs.
func (m *MemClient) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], err)
}

// Calls reports how many times the named operation ran (faulted calls
// included).
func (m *MemClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter bumps the call counter and pops a scripted fault, if any.
func (m *MemClient) enter(op string) error {
	m.calls[op]++
	if q := m.faults[op]; len(q) > 0 {
		err := q[0]
		m.faults[op] = q[1:]
		return err
	}
	return nil
}

func (m *MemClient) FetchObject(ctx context.Context, id types.Address, version *uint64) (*types.VersionedObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FetchObject"); err != nil {
		return nil, err
	}
	if version == nil {
		if obj, ok := m.latest[id]; ok {
			return obj.Clone(), nil
		}
		return nil, &types.NotFoundError{What: "object", ID: id.String()}
	}
	if obj, ok := m.objects[types.ObjectKey{ID: id, Version: *version}]; ok {
		return obj.Clone(), nil
	}
	return nil, &types.NotFoundError{What: "object", ID: id.String(), Version: version}
}

func (m *MemClient) FetchPackage(ctx context.Context, addr types.Address) (*types.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FetchPackage"); err != nil {
		return nil, err
	}
	if pkg, ok := m.packages[addr]; ok {
		return pkg.Clone(), nil
	}
	return nil, &types.NotFoundError{What: "package", ID: addr.String()}
}

func (m *MemClient) FetchTransaction(ctx context.Context, digest string) (*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FetchTransaction"); err != nil {
		return nil, err
	}
	if tx, ok := m.transactions[digest]; ok {
		return tx, nil
	}
	return nil, &types.NotFoundError{What: "transaction", ID: digest}
}

func (m *MemClient) FetchCheckpoint(ctx context.Context, seq uint64) (*types.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FetchCheckpoint"); err != nil {
		return nil, err
	}
	if cp, ok := m.checkpoints[seq]; ok {
		return cp, nil
	}
	return nil, &types.NotFoundError{What: "checkpoint", ID: fmt.Sprintf("%d", seq)}
}

func (m *MemClient) FetchCheckpoints(ctx context.Context, seqs []uint64) ([]*types.Checkpoint, error) {
	out := make([]*types.Checkpoint, 0, len(seqs))
	for _, seq := range seqs {
		cp, err := m.FetchCheckpoint(ctx, seq)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *MemClient) FetchPackageUpgrades(ctx context.Context, runtimeID types.Address) ([]PackageUpgrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FetchPackageUpgrades"); err != nil {
		return nil, err
	}
	if ups, ok := m.upgrades[runtimeID]; ok {
		return append([]PackageUpgrade(nil), ups...), nil
	}
	return nil, &types.NotFoundError{What: "package", ID: runtimeID.String()}
}

func (m *MemClient) ListDynamicFields(ctx context.Context, parent types.Address) ([]types.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListDynamicFields"); err != nil {
		return nil, err
	}
	return append([]types.Address(nil), m.dynamicFields[parent]...), nil
}
