package movebridge

import (
	"encoding/binary"
	"fmt"

	"github.com/clydemeng/sui-replay/types"
)

type valueKind uint8

const (
	valPure valueKind = iota
	valObject
	valVector
	valReceipt
)

// Value is one entry on the PTB value stack: a pure BCS blob, an object
// by reference, a vector, or an upgrade receipt. Object values carry
// consume-once semantics; a value still holding an object when execution
// ends fails the transaction.
type Value struct {
	kind  valueKind
	pure  []byte
	objID types.Address
	elems []Value

	// consumed marks an object value taken by value (transfer, merge,
	// vector packing). Pointer so copies share the flag.
	consumed *bool
}

// PureValue wraps raw BCS bytes.
func PureValue(b []byte) Value {
	return Value{kind: valPure, pure: b}
}

// PureU64 encodes a u64 the way Move serializes it.
func PureU64(v uint64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return Value{kind: valPure, pure: b}
}

// ObjectValue references an object in the harness store.
func ObjectValue(id types.Address) Value {
	consumed := false
	return Value{kind: valObject, objID: id, consumed: &consumed}
}

func vectorValue(elems []Value) Value {
	return Value{kind: valVector, elems: elems}
}

func receiptValue(pkg types.Address) Value {
	return Value{kind: valReceipt, objID: pkg}
}

// IsPure reports whether the value is a raw BCS blob.
func (v Value) IsPure() bool { return v.kind == valPure }

// Pure returns the raw bytes of a pure value.
func (v Value) Pure() []byte { return v.pure }

// ObjectID returns the referenced object id for object values.
func (v Value) ObjectID() (types.Address, bool) {
	if v.kind != valObject {
		return types.Address{}, false
	}
	return v.objID, true
}

// U64 decodes the value as a Move u64.
func (v Value) U64() (uint64, error) {
	if v.kind != valPure || len(v.pure) != 8 {
		return 0, fmt.Errorf("failed to deserialize argument: not a u64 (%d bytes)", len(v.pure))
	}
	return binary.LittleEndian.Uint64(v.pure), nil
}

// Address decodes the value as a 32-byte Move address.
func (v Value) Address() (types.Address, error) {
	var a types.Address
	if v.kind != valPure || len(v.pure) != types.AddressLength {
		return a, fmt.Errorf("failed to deserialize argument: not an address (%d bytes)", len(v.pure))
	}
	copy(a[:], v.pure)
	return a, nil
}

func (v Value) isConsumed() bool {
	return v.consumed != nil && *v.consumed
}

func (v Value) markConsumed() {
	if v.consumed != nil {
		*v.consumed = true
	}
}
