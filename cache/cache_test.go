package cache

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/clydemeng/sui-replay/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func samplePackage(addr string, version uint64) *types.Package {
	orig := types.MustParseAddress("0x2c")
	return &types.Package{
		Address:    types.MustParseAddress(addr),
		Version:    version,
		OriginalID: &orig,
		Modules: []types.Module{
			{Name: "m", Bytecode: []byte{0xa1, 0x1c, 0xeb, 0x0b, byte(version & 0xff)}},
		},
		Linkage: []types.LinkageEntry{
			{Original: orig, Upgraded: types.MustParseAddress(addr), UpgradedVersion: version},
		},
	}
}

func sampleObject(id string, version uint64) *types.VersionedObject {
	owner := types.AddressOwner(types.MustParseAddress("0xa"))
	return &types.VersionedObject{
		ID:      types.MustParseAddress(id),
		Version: version,
		Digest:  "9WzSXdp6oy3ZYb6bTuqzU5PXDy5sZ6efiXpZSUDKmGmc",
		TypeTag: "0x2::coin::Coin<0x2::sui::SUI>",
		BCS:     []byte{1, 2, 3, 4},
		Owner:   &owner,
	}
}

func TestObjectRoundTrip(t *testing.T) {
	s := newStore(t)
	obj := sampleObject("0xaaa", 7)
	if err := s.PutObject(obj); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := s.GetObject(obj.ID, 7)
	if !ok {
		t.Fatalf("object not found after put")
	}
	if !reflect.DeepEqual(got, obj) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, obj)
	}
	if !s.HasObject(obj.ID, 7) {
		t.Fatalf("HasObject should report true")
	}
	if s.HasObject(obj.ID, 8) {
		t.Fatalf("HasObject must not report absent versions")
	}
}

func TestObjectRoundTripColdRead(t *testing.T) {
	// A second store over the same root must read what the first wrote,
	// bypassing the first store's LRU.
	root := t.TempDir()
	s1, _ := Open(root)
	obj := sampleObject("0xbbb", 3)
	if err := s1.PutObject(obj); err != nil {
		t.Fatalf("put: %v", err)
	}
	s2, _ := Open(root)
	got, ok := s2.GetObject(obj.ID, 3)
	if !ok {
		t.Fatalf("cold read missed")
	}
	if !reflect.DeepEqual(got, obj) {
		t.Fatalf("cold read mismatch")
	}
}

func TestPutObjectIdempotent(t *testing.T) {
	s := newStore(t)
	obj := sampleObject("0xccc", 1)
	for i := 0; i < 3; i++ {
		if err := s.PutObject(obj); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	if got := s.ListObjectVersions(obj.ID); len(got) != 1 || got[0] != 1 {
		t.Fatalf("versions = %v, want [1]", got)
	}
}

func TestListObjectVersionsOrdered(t *testing.T) {
	s := newStore(t)
	id := "0xddd"
	for _, v := range []uint64{12, 3, 7} {
		if err := s.PutObject(sampleObject(id, v)); err != nil {
			t.Fatalf("put v%d: %v", v, err)
		}
	}
	got := s.ListObjectVersions(types.MustParseAddress(id))
	want := []uint64{3, 7, 12}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("versions = %v, want %v", got, want)
	}
	v, ok := s.LatestObjectVersionAtMost(types.MustParseAddress(id), 10)
	if !ok || v != 7 {
		t.Fatalf("LatestObjectVersionAtMost(10) = %d,%v want 7,true", v, ok)
	}
	if _, ok := s.LatestObjectVersionAtMost(types.MustParseAddress(id), 2); ok {
		t.Fatalf("no version <= 2 should exist")
	}
}

func TestPackageVersionMonotone(t *testing.T) {
	s := newStore(t)
	addr := "0x9a"

	v1 := samplePackage(addr, 1)
	if err := s.PutPackage(v1); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	if err := s.PutPackage(samplePackage(addr, 1)); err != nil {
		t.Fatalf("re-put v1: %v", err)
	}
	got, ok := s.GetPackage(v1.Address)
	if !ok || got.Version != 1 {
		t.Fatalf("expected v1 stored, got %+v ok=%v", got, ok)
	}

	if err := s.PutPackage(samplePackage(addr, 2)); err != nil {
		t.Fatalf("put v2: %v", err)
	}
	got, _ = s.GetPackage(v1.Address)
	if got.Version != 2 {
		t.Fatalf("v2 should replace v1, got %d", got.Version)
	}

	// Writing the older version again must be a no-op.
	if err := s.PutPackage(samplePackage(addr, 1)); err != nil {
		t.Fatalf("downgrade put: %v", err)
	}
	got, _ = s.GetPackage(v1.Address)
	if got.Version != 2 {
		t.Fatalf("downgrade must be dropped, got v%d", got.Version)
	}
}

func TestCorruptRecordIsMiss(t *testing.T) {
	root := t.TempDir()
	s, _ := Open(root)
	obj := sampleObject("0xeee", 5)
	if err := s.PutObject(obj); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Corrupt the record on disk, then read through a fresh store so the
	// LRU cannot mask it.
	path := s.objectPath(obj.ID, 5)
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	s2, _ := Open(root)
	if _, ok := s2.GetObject(obj.ID, 5); ok {
		t.Fatalf("corrupt record must read as miss")
	}
	// The rest of the store stays usable.
	other := sampleObject("0xfff", 1)
	if err := s2.PutObject(other); err != nil {
		t.Fatalf("store should remain writable: %v", err)
	}
}

func TestShardedLayout(t *testing.T) {
	s := newStore(t)
	obj := sampleObject("0xab00000000000000000000000000000000000000000000000000000000000001", 2)
	if err := s.PutObject(obj); err != nil {
		t.Fatalf("put: %v", err)
	}
	shard := filepath.Join(s.Root(), "objects", "ab")
	if _, err := os.Stat(shard); err != nil {
		t.Fatalf("expected shard dir %s: %v", shard, err)
	}
}

func TestProgressTracker(t *testing.T) {
	root := t.TempDir()
	s, _ := Open(root)
	p, err := s.Progress()
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := p.MarkCheckpoint("blob-a", 10); err != nil {
		t.Fatalf("mark checkpoint: %v", err)
	}
	if err := p.MarkCheckpoint("blob-a", 12); err != nil {
		t.Fatalf("mark checkpoint: %v", err)
	}
	if err := p.MarkComplete("blob-a"); err != nil {
		t.Fatalf("mark complete: %v", err)
	}

	// Reload from disk and verify persistence.
	s2, _ := Open(root)
	p2, err := s2.Progress()
	if err != nil {
		t.Fatalf("reload progress: %v", err)
	}
	st := p2.State()
	if st.LastCheckpointPerBlob["blob-a"] != 12 {
		t.Fatalf("last checkpoint = %d, want 12", st.LastCheckpointPerBlob["blob-a"])
	}
	if len(st.IngestedBlobs) != 1 || st.IngestedBlobs[0] != "blob-a" {
		t.Fatalf("ingested blobs = %v", st.IngestedBlobs)
	}
	if st.Counters["checkpoints"] != 2 {
		t.Fatalf("checkpoint counter = %d, want 2", st.Counters["checkpoints"])
	}
	if _, err := os.Stat(filepath.Join(root, "progress", "events.jsonl")); err != nil {
		t.Fatalf("events log missing: %v", err)
	}
}
