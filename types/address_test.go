package types

import (
	"encoding/json"
	"testing"
)

func TestParseAddressShortForms(t *testing.T) {
	a, err := ParseAddress("0x2")
	if err != nil {
		t.Fatalf("parse 0x2: %v", err)
	}
	if a != SuiFrameworkAddress {
		t.Fatalf("0x2 did not normalize to the framework address: %s", a)
	}
	if got := a.String(); got != "0x0000000000000000000000000000000000000000000000000000000000000002" {
		t.Fatalf("canonical form wrong: %s", got)
	}
	if a.Short() != "0x2" {
		t.Fatalf("short form wrong: %s", a.Short())
	}
}

func TestParseAddressOddLength(t *testing.T) {
	a, err := ParseAddress("abc")
	if err != nil {
		t.Fatalf("parse abc: %v", err)
	}
	if a.Short() != "0xabc" {
		t.Fatalf("odd-length parse wrong: %s", a.Short())
	}
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "0x", "0xzz", "0x" + string(make([]byte, 200))} {
		if _, err := ParseAddress(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestAddressJSONRoundTrip(t *testing.T) {
	a := MustParseAddress("0x6")
	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Address
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != a {
		t.Fatalf("round trip mismatch: %s != %s", back, a)
	}
}

func TestIsSystemPackage(t *testing.T) {
	for _, s := range []string{"0x1", "0x2", "0x3"} {
		if !MustParseAddress(s).IsSystemPackage() {
			t.Fatalf("%s should be a system package", s)
		}
	}
	if MustParseAddress("0xdead").IsSystemPackage() {
		t.Fatalf("0xdead must not be a system package")
	}
}

func TestObjectKeyString(t *testing.T) {
	k := ObjectKey{ID: MustParseAddress("0x6"), Version: 42}
	want := "0x0000000000000000000000000000000000000000000000000000000000000006@42"
	if k.String() != want {
		t.Fatalf("key string: got %s want %s", k.String(), want)
	}
}
