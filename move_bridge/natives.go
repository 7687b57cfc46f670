package movebridge

import (
	"fmt"

	"github.com/clydemeng/sui-replay/types"
)

// Capability classifies how the bridge handles one MoveCall target.
type Capability uint8

const (
	// SafeMock succeeds with no return values and no state change. The
	// default for targets the bridge does not know.
	SafeMock Capability = iota
	// RealImpl runs a native Go implementation with full state effects.
	RealImpl
	// VmExtension runs an implementation registered by the embedding
	// executor.
	VmExtension
	// Unsupported aborts with the distinguished code so upper layers
	// recognize the gap without string matching.
	Unsupported
)

func (c Capability) String() string {
	switch c {
	case SafeMock:
		return "safe_mock"
	case RealImpl:
		return "real_impl"
	case VmExtension:
		return "vm_extension"
	case Unsupported:
		return "unsupported"
	}
	return "unknown"
}

// NativeImpl is the Go body behind a RealImpl or VmExtension entry.
type NativeImpl func(h *Harness, typeArgs []string, args []Value) ([]Value, error)

type nativeKey struct {
	module string // canonical address :: module name
	fn     string // function name, "*" matches any
}

type nativeEntry struct {
	capability Capability
	impl       NativeImpl
}

// NativeTable maps MoveCall targets to capabilities. Built at startup,
// frozen before the first execution, read-only afterwards.
type NativeTable struct {
	entries map[nativeKey]nativeEntry
	frozen  bool
}

// NewNativeTable starts from an empty table whose default is SafeMock.
func NewNativeTable() *NativeTable {
	return &NativeTable{entries: make(map[nativeKey]nativeEntry)}
}

// Register binds one (module, fn) target. fn may be "*" to cover a module.
func (t *NativeTable) Register(module, fn string, c Capability, impl NativeImpl) error {
	if t.frozen {
		return fmt.Errorf("native table frozen, cannot register %s::%s", module, fn)
	}
	if (c == RealImpl || c == VmExtension) && impl == nil {
		return fmt.Errorf("native %s::%s: capability %s requires an implementation", module, fn, c)
	}
	t.entries[nativeKey{module: module, fn: fn}] = nativeEntry{capability: c, impl: impl}
	return nil
}

// Freeze makes the table immutable.
func (t *NativeTable) Freeze() { t.frozen = true }

// Lookup resolves a target: exact match first, then the module wildcard,
// then the SafeMock default.
func (t *NativeTable) Lookup(module, fn string) (Capability, NativeImpl) {
	if e, ok := t.entries[nativeKey{module: module, fn: fn}]; ok {
		return e.capability, e.impl
	}
	if e, ok := t.entries[nativeKey{module: module, fn: "*"}]; ok {
		return e.capability, e.impl
	}
	return SafeMock, nil
}

// DefaultNativeTable carries the built-in coverage: framework functions the
// bridge implements for real, and the natives that cannot be simulated
// off-chain (signature verification, on-chain randomness) marked
// Unsupported.
func DefaultNativeTable() *NativeTable {
	t := NewNativeTable()
	fw := types.SuiFrameworkAddress.String()

	must := func(module, fn string, c Capability, impl NativeImpl) {
		if err := t.Register(module, fn, c, impl); err != nil {
			panic(err)
		}
	}

	must(fw+"::transfer", "public_transfer", RealImpl, nativeTransfer)
	must(fw+"::transfer", "transfer", RealImpl, nativeTransfer)
	must(fw+"::transfer", "public_share_object", RealImpl, nativeShareObject)
	must(fw+"::transfer", "share_object", RealImpl, nativeShareObject)
	must(fw+"::coin", "value", RealImpl, nativeCoinValue)
	must(fw+"::coin", "destroy_zero", RealImpl, nativeCoinDestroyZero)
	must(fw+"::clock", "timestamp_ms", RealImpl, nativeClockTimestamp)

	for _, module := range []string{
		fw + "::ecdsa_k1",
		fw + "::ecdsa_r1",
		fw + "::ed25519",
		fw + "::bls12381",
		fw + "::groth16",
		fw + "::zklogin_verified_id",
		fw + "::zklogin_verified_issuer",
	} {
		must(module, "*", Unsupported, nil)
	}
	must(fw+"::random", "generate_bytes", Unsupported, nil)
	must(fw+"::random", "new_generator", Unsupported, nil)

	return t
}

func nativeTransfer(h *Harness, _ []string, args []Value) ([]Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("transfer: want 2 args, got %d", len(args))
	}
	id, ok := args[0].ObjectID()
	if !ok {
		return nil, fmt.Errorf("transfer: first argument is not an object")
	}
	recipient, err := args[1].Address()
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize argument: recipient: %v", err)
	}
	if err := h.TransferTo(id, recipient); err != nil {
		return nil, err
	}
	h.consumeObject(args[0])
	return nil, nil
}

func nativeShareObject(h *Harness, _ []string, args []Value) ([]Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("share_object: want 1 arg, got %d", len(args))
	}
	id, ok := args[0].ObjectID()
	if !ok {
		return nil, fmt.Errorf("share_object: argument is not an object")
	}
	if err := h.ShareObject(id); err != nil {
		return nil, err
	}
	h.consumeObject(args[0])
	return nil, nil
}

func nativeCoinValue(h *Harness, _ []string, args []Value) ([]Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("coin::value: want 1 arg, got %d", len(args))
	}
	id, ok := args[0].ObjectID()
	if !ok {
		return nil, fmt.Errorf("coin::value: argument is not an object")
	}
	obj, err := h.Object(id)
	if err != nil {
		return nil, err
	}
	balance, err := types.CoinBalance(obj.BCS)
	if err != nil {
		return nil, err
	}
	return []Value{PureU64(balance)}, nil
}

func nativeCoinDestroyZero(h *Harness, _ []string, args []Value) ([]Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("coin::destroy_zero: want 1 arg, got %d", len(args))
	}
	id, ok := args[0].ObjectID()
	if !ok {
		return nil, fmt.Errorf("coin::destroy_zero: argument is not an object")
	}
	obj, err := h.Object(id)
	if err != nil {
		return nil, err
	}
	balance, err := types.CoinBalance(obj.BCS)
	if err != nil {
		return nil, err
	}
	if balance != 0 {
		return nil, &types.MoveAbortError{Code: 1, Location: "coin::destroy_zero"}
	}
	if err := h.DeleteObject(id); err != nil {
		return nil, err
	}
	h.consumeObject(args[0])
	return nil, nil
}

func nativeClockTimestamp(h *Harness, _ []string, args []Value) ([]Value, error) {
	// Clock reads come from the replayed transaction's timestamp, not from
	// the preloaded object state.
	return []Value{PureU64(h.cfg.TxTimestampMS)}, nil
}
