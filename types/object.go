package types

import "fmt"

// OwnerKind discriminates the ownership variants an object can carry.
type OwnerKind uint8

const (
	OwnerAddress OwnerKind = iota // owned by a single address
	OwnerObject                   // child of another object (dynamic field)
	OwnerShared                   // shared, versioned by consensus
	OwnerImmutable
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerAddress:
		return "address"
	case OwnerObject:
		return "object"
	case OwnerShared:
		return "shared"
	case OwnerImmutable:
		return "immutable"
	}
	return "unknown"
}

// Owner describes who controls an object. For OwnerAddress and OwnerObject
// the Address field holds the owner; for OwnerShared InitialSharedVersion
// holds the version at which the object became shared.
type Owner struct {
	Kind                 OwnerKind `json:"kind"`
	Address              Address   `json:"address,omitempty"`
	InitialSharedVersion uint64    `json:"initial_shared_version,omitempty"`
}

// AddressOwner builds an address-owned Owner.
func AddressOwner(a Address) Owner {
	return Owner{Kind: OwnerAddress, Address: a}
}

// ObjectOwner builds a parent-object Owner (dynamic field children).
func ObjectOwner(parent Address) Owner {
	return Owner{Kind: OwnerObject, Address: parent}
}

// SharedOwner builds a shared Owner with its initial shared version.
func SharedOwner(initial uint64) Owner {
	return Owner{Kind: OwnerShared, InitialSharedVersion: initial}
}

// ImmutableOwner builds an immutable Owner.
func ImmutableOwner() Owner {
	return Owner{Kind: OwnerImmutable}
}

// VersionedObject is a decoded on-chain object at an exact version. BCS is
// the authoritative encoding of the contents; TypeTag, when present, is the
// fully-qualified Move structural type. Packages never appear here.
type VersionedObject struct {
	ID          Address `json:"id"`
	Version     uint64  `json:"version"`
	Digest      string  `json:"digest,omitempty"`
	TypeTag     string  `json:"type_tag,omitempty"`
	BCS         []byte  `json:"bcs,omitempty"`
	IsShared    bool    `json:"is_shared"`
	IsImmutable bool    `json:"is_immutable"`
	Owner       *Owner  `json:"owner,omitempty"`
}

// Key returns the content-addressing key for the object.
func (o *VersionedObject) Key() ObjectKey {
	return ObjectKey{ID: o.ID, Version: o.Version}
}

// Clone deep-copies the object so that callers can mutate BCS freely.
func (o *VersionedObject) Clone() *VersionedObject {
	cp := *o
	cp.BCS = append([]byte(nil), o.BCS...)
	if o.Owner != nil {
		owner := *o.Owner
		cp.Owner = &owner
	}
	return &cp
}

// EffectiveOwner derives an Owner from the flags when no explicit owner was
// recorded, defaulting to address ownership by the zero address.
func (o *VersionedObject) EffectiveOwner() Owner {
	if o.Owner != nil {
		return *o.Owner
	}
	switch {
	case o.IsImmutable:
		return ImmutableOwner()
	case o.IsShared:
		return SharedOwner(o.Version)
	default:
		return Owner{Kind: OwnerAddress}
	}
}

func (o *VersionedObject) String() string {
	return fmt.Sprintf("object %s@%d type=%q shared=%v", o.ID, o.Version, o.TypeTag, o.IsShared)
}
