package types

import "fmt"

// InputKind discriminates PTB input variants.
type InputKind uint8

const (
	InputPure InputKind = iota
	InputOwnedObject
	InputSharedObject
	InputImmutableObject
	InputReceiving
)

func (k InputKind) String() string {
	switch k {
	case InputPure:
		return "pure"
	case InputOwnedObject:
		return "owned"
	case InputSharedObject:
		return "shared"
	case InputImmutableObject:
		return "immutable"
	case InputReceiving:
		return "receiving"
	}
	return "unknown"
}

// PtbInput is one entry of a transaction's shared input pool.
type PtbInput struct {
	Kind InputKind `json:"kind"`

	// Pure payload (InputPure only).
	Pure []byte `json:"pure,omitempty"`

	// Object reference fields. Version carries the explicit version for
	// owned/immutable/receiving inputs and the initial shared version for
	// shared inputs, which is a lower bound on the observed version.
	ID      Address `json:"id,omitempty"`
	Version uint64  `json:"version,omitempty"`
	Digest  string  `json:"digest,omitempty"`
	Mutable bool    `json:"mutable,omitempty"` // shared inputs only
}

// IsObject reports whether the input references an object (anything but Pure).
func (in *PtbInput) IsObject() bool {
	return in.Kind != InputPure
}

// PureInput builds a pure-bytes input.
func PureInput(b []byte) PtbInput {
	return PtbInput{Kind: InputPure, Pure: b}
}

// OwnedObjectInput builds an owned-object input at an exact version.
func OwnedObjectInput(id Address, version uint64, digest string) PtbInput {
	return PtbInput{Kind: InputOwnedObject, ID: id, Version: version, Digest: digest}
}

// SharedObjectInput builds a shared-object input. initialSharedVersion is the
// version at which the object became shared, not the version the transaction
// observed.
func SharedObjectInput(id Address, initialSharedVersion uint64, mutable bool) PtbInput {
	return PtbInput{Kind: InputSharedObject, ID: id, Version: initialSharedVersion, Mutable: mutable}
}

// ImmutableObjectInput builds an immutable-object input.
func ImmutableObjectInput(id Address, version uint64, digest string) PtbInput {
	return PtbInput{Kind: InputImmutableObject, ID: id, Version: version, Digest: digest}
}

// ReceivingInput builds a receiving-object input.
func ReceivingInput(id Address, version uint64, digest string) PtbInput {
	return PtbInput{Kind: InputReceiving, ID: id, Version: version, Digest: digest}
}

// ArgKind discriminates command argument variants.
type ArgKind uint8

const (
	ArgGasCoin ArgKind = iota
	ArgInput
	ArgResult
	ArgNestedResult
)

// Argument addresses a value available to a command: the gas coin, an entry
// of the input pool, or the result (or one element of the result tuple) of a
// preceding command.
type Argument struct {
	Kind   ArgKind `json:"kind"`
	Index  uint16  `json:"index,omitempty"`  // input or command index
	Nested uint16  `json:"nested,omitempty"` // tuple element for ArgNestedResult
}

func GasCoinArg() Argument              { return Argument{Kind: ArgGasCoin} }
func InputArg(i uint16) Argument        { return Argument{Kind: ArgInput, Index: i} }
func ResultArg(cmd uint16) Argument     { return Argument{Kind: ArgResult, Index: cmd} }
func NestedArg(cmd, n uint16) Argument  { return Argument{Kind: ArgNestedResult, Index: cmd, Nested: n} }

func (a Argument) String() string {
	switch a.Kind {
	case ArgGasCoin:
		return "GasCoin"
	case ArgInput:
		return fmt.Sprintf("Input(%d)", a.Index)
	case ArgResult:
		return fmt.Sprintf("Result(%d)", a.Index)
	case ArgNestedResult:
		return fmt.Sprintf("NestedResult(%d,%d)", a.Index, a.Nested)
	}
	return "Arg(?)"
}

// CommandKind discriminates PTB command variants.
type CommandKind uint8

const (
	CommandMoveCall CommandKind = iota
	CommandTransferObjects
	CommandSplitCoins
	CommandMergeCoins
	CommandMakeMoveVec
	CommandPublish
	CommandUpgrade
)

func (k CommandKind) String() string {
	switch k {
	case CommandMoveCall:
		return "MoveCall"
	case CommandTransferObjects:
		return "TransferObjects"
	case CommandSplitCoins:
		return "SplitCoins"
	case CommandMergeCoins:
		return "MergeCoins"
	case CommandMakeMoveVec:
		return "MakeMoveVec"
	case CommandPublish:
		return "Publish"
	case CommandUpgrade:
		return "Upgrade"
	}
	return "unknown"
}

// PtbCommand is one command of a programmable transaction block. Exactly the
// fields of the active variant are populated.
type PtbCommand struct {
	Kind CommandKind `json:"kind"`

	// MoveCall
	Package  Address    `json:"package,omitempty"`
	Module   string     `json:"module,omitempty"`
	Function string     `json:"function,omitempty"`
	TypeArgs []string   `json:"type_args,omitempty"`
	Args     []Argument `json:"args,omitempty"`

	// TransferObjects
	Objects   []Argument `json:"objects,omitempty"`
	Recipient Argument   `json:"recipient,omitempty"`

	// SplitCoins / MergeCoins
	Coin    Argument   `json:"coin,omitempty"`
	Amounts []Argument `json:"amounts,omitempty"`
	Sources []Argument `json:"sources,omitempty"`

	// MakeMoveVec
	ElemType string     `json:"elem_type,omitempty"`
	Elems    []Argument `json:"elems,omitempty"`

	// Publish / Upgrade
	ModuleBytes [][]byte  `json:"module_bytes,omitempty"`
	Deps        []Address `json:"deps,omitempty"`
	Ticket      Argument  `json:"ticket,omitempty"`
}

// Describe produces the short human description used in failure reporting.
func (c *PtbCommand) Describe() string {
	if c.Kind == CommandMoveCall {
		return fmt.Sprintf("MoveCall %s::%s::%s", c.Package.Short(), c.Module, c.Function)
	}
	return c.Kind.String()
}

// MoveCallCmd builds a MoveCall command.
func MoveCallCmd(pkg Address, module, fn string, typeArgs []string, args ...Argument) PtbCommand {
	return PtbCommand{Kind: CommandMoveCall, Package: pkg, Module: module, Function: fn, TypeArgs: typeArgs, Args: args}
}

// TransferObjectsCmd builds a TransferObjects command.
func TransferObjectsCmd(objects []Argument, recipient Argument) PtbCommand {
	return PtbCommand{Kind: CommandTransferObjects, Objects: objects, Recipient: recipient}
}

// SplitCoinsCmd builds a SplitCoins command.
func SplitCoinsCmd(coin Argument, amounts ...Argument) PtbCommand {
	return PtbCommand{Kind: CommandSplitCoins, Coin: coin, Amounts: amounts}
}

// MergeCoinsCmd builds a MergeCoins command.
func MergeCoinsCmd(dst Argument, sources ...Argument) PtbCommand {
	return PtbCommand{Kind: CommandMergeCoins, Coin: dst, Sources: sources}
}

// MakeMoveVecCmd builds a MakeMoveVec command. elemType may be empty.
func MakeMoveVecCmd(elemType string, elems ...Argument) PtbCommand {
	return PtbCommand{Kind: CommandMakeMoveVec, ElemType: elemType, Elems: elems}
}

// PublishCmd builds a Publish command.
func PublishCmd(modules [][]byte, deps []Address) PtbCommand {
	return PtbCommand{Kind: CommandPublish, ModuleBytes: modules, Deps: deps}
}

// UpgradeCmd builds an Upgrade command.
func UpgradeCmd(modules [][]byte, deps []Address, pkg Address, ticket Argument) PtbCommand {
	return PtbCommand{Kind: CommandUpgrade, ModuleBytes: modules, Deps: deps, Package: pkg, Ticket: ticket}
}
