package core

import (
	"testing"

	"github.com/clydemeng/sui-replay/types"
)

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func TestClassifyTrivialFramework(t *testing.T) {
	tx := &types.Transaction{
		Digest: "t",
		Commands: []types.PtbCommand{
			types.SplitCoinsCmd(types.GasCoinArg(), types.InputArg(0)),
			types.TransferObjectsCmd([]types.Argument{types.NestedArg(0, 0)}, types.InputArg(1)),
		},
	}
	tags := Classify(tx)
	for _, want := range []string{TagFrameworkOnly, TagSimpleCmdsOnly, TagTrivialFramework} {
		if !hasTag(tags, want) {
			t.Fatalf("tags = %v, want %s", tags, want)
		}
	}
	if hasTag(tags, TagAppCall) {
		t.Fatalf("tags = %v, app_call unexpected", tags)
	}
}

func TestClassifyAppCallSharedCrossPackage(t *testing.T) {
	tx := &types.Transaction{
		Digest: "t",
		Inputs: []types.PtbInput{
			types.SharedObjectInput(addr(0x20), 4, true),
			types.ReceivingInput(addr(0x21), 9, ""),
		},
		Commands: []types.PtbCommand{
			types.MoveCallCmd(addr(0x30), "amm", "swap", nil),
			types.MoveCallCmd(addr(0x31), "lending", "deposit", nil),
		},
	}
	tags := Classify(tx)
	for _, want := range []string{TagAppCall, TagShared, TagReceiving, TagCrossPackage, TagSimpleCmdsOnly} {
		if !hasTag(tags, want) {
			t.Fatalf("tags = %v, want %s", tags, want)
		}
	}
	if hasTag(tags, TagTrivialFramework) {
		t.Fatalf("tags = %v, trivial_framework unexpected", tags)
	}
}

func TestClassifyPublishAndUpgrade(t *testing.T) {
	pub := &types.Transaction{
		Digest:   "p",
		Commands: []types.PtbCommand{types.PublishCmd([][]byte{{0x01}}, nil)},
	}
	if tags := Classify(pub); !hasTag(tags, TagPublish) || hasTag(tags, TagSimpleCmdsOnly) {
		t.Fatalf("publish tags = %v", tags)
	}
	upg := &types.Transaction{
		Digest: "u",
		Commands: []types.PtbCommand{
			types.UpgradeCmd([][]byte{{0x01}}, nil, addr(0x40), types.InputArg(0)),
		},
	}
	if tags := Classify(upg); !hasTag(tags, TagUpgrade) || hasTag(tags, TagTrivialFramework) {
		t.Fatalf("upgrade tags = %v", tags)
	}
}

func TestCategorizeError(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"failed to deserialize argument: not a u64", CatDeserialize},
		{"lookup failed: result 3 out of range", CatLookupFailed},
		{"unused value without drop at command 1", CatVerifier},
		{"insufficient balance: split 100 from 50", CatInsufficientGas},
		{"linker: module 0x2c::pool not resolvable", CatLinker},
		{"unsupported native ecdsa_k1::secp256k1_verify", CatUnsupportedNative},
		{"missing object 0xaa@4", CatObjectNotFound},
		{"dynamic field child missing: 0xbb", CatDFChildMissing},
		{"move abort 7 in 0x2::coin::destroy_zero", "ABORTED(7)"},
		{"something else entirely", CatOther},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CategorizeError(tc.msg); got != tc.want {
			t.Fatalf("CategorizeError(%q) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}
