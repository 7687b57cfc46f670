// Package cache implements the on-disk content-addressed store for packages
// and versioned objects. The layout is sharded by the first byte of the hex
// id to bound per-directory entries, writes go through temp-file + rename so
// concurrent writers are safe across processes, and a corrupt record is
// isolated: it reads as a miss with a warning instead of poisoning the store.
package cache

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/clydemeng/sui-replay/types"
)

const (
	packagesDir = "packages"
	objectsDir  = "objects"
	progressDir = "progress"
	tmpDir      = "tmp"

	objectVersionPrefix = "v"
	objectVersionSuffix = ".bin"

	// Process-local read-through LRU sizes. Not observable through the
	// external cache semantics.
	packageLRUSize = 256
	objectLRUSize  = 4096
)

var logger = log.New("module", "cache")

// Store is the durable package/object cache rooted at one directory. It is
// safe for concurrent use by multiple goroutines and, thanks to atomic
// renames, by multiple processes sharing the same root.
type Store struct {
	root string

	// writeMu serializes the read-modify-write in PutPackage's
	// version-monotone check. Cross-process races degrade to last-writer-
	// wins within a version, which the semantics allow.
	writeMu sync.Mutex

	packageLRU *lru.Cache // types.Address -> *types.Package
	objectLRU  *lru.Cache // types.ObjectKey -> *types.VersionedObject
}

// Open creates the directory skeleton and returns a Store. The root is
// created on demand; failure to create it is surfaced.
func Open(root string) (*Store, error) {
	for _, dir := range []string{packagesDir, objectsDir, progressDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, errors.Wrapf(err, "cache: create %s", dir)
		}
	}
	pkgLRU, err := lru.New(packageLRUSize)
	if err != nil {
		return nil, err
	}
	objLRU, err := lru.New(objectLRUSize)
	if err != nil {
		return nil, err
	}
	return &Store{root: root, packageLRU: pkgLRU, objectLRU: objLRU}, nil
}

// Root returns the cache root path.
func (s *Store) Root() string { return s.root }

func (s *Store) packagePath(addr types.Address) string {
	h := hex.EncodeToString(addr[:])
	return filepath.Join(s.root, packagesDir, h[:2], h+".json")
}

func (s *Store) objectDir(id types.Address) string {
	h := hex.EncodeToString(id[:])
	return filepath.Join(s.root, objectsDir, h[:2], h)
}

func (s *Store) objectPath(id types.Address, version uint64) string {
	return filepath.Join(s.objectDir(id), objectVersionPrefix+strconv.FormatUint(version, 10)+objectVersionSuffix)
}

// GetPackage returns the stored package for addr, or (nil, false) on miss.
// A corrupt record is demoted to a miss.
func (s *Store) GetPackage(addr types.Address) (*types.Package, bool) {
	if v, ok := s.packageLRU.Get(addr); ok {
		hitCounter.WithLabelValues("package").Inc()
		return v.(*types.Package).Clone(), true
	}
	raw, err := os.ReadFile(s.packagePath(addr))
	if err != nil {
		missCounter.WithLabelValues("package").Inc()
		return nil, false
	}
	pkg, err := decodePackageRecord(addr, raw)
	if err != nil {
		corruptCounter.WithLabelValues("package").Inc()
		logger.Warn("corrupt package record treated as miss", "addr", addr, "err", err)
		return nil, false
	}
	hitCounter.WithLabelValues("package").Inc()
	s.packageLRU.Add(addr, pkg.Clone())
	return pkg, true
}

// PutPackage stores the package with version-monotone semantics: a version
// less than or equal to the stored one is a silent no-op.
func (s *Store) PutPackage(pkg *types.Package) error {
	if err := pkg.Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if existing, ok := s.GetPackage(pkg.Address); ok && existing.Version >= pkg.Version {
		return nil
	}
	raw, err := encodePackageRecord(pkg)
	if err != nil {
		return err
	}
	if err := s.atomicWrite(s.packagePath(pkg.Address), raw); err != nil {
		return err
	}
	s.packageLRU.Add(pkg.Address, pkg.Clone())
	return nil
}

// GetObject returns the object at the exact (id, version), or (nil, false).
func (s *Store) GetObject(id types.Address, version uint64) (*types.VersionedObject, bool) {
	key := types.ObjectKey{ID: id, Version: version}
	if v, ok := s.objectLRU.Get(key); ok {
		hitCounter.WithLabelValues("object").Inc()
		return v.(*types.VersionedObject).Clone(), true
	}
	raw, err := os.ReadFile(s.objectPath(id, version))
	if err != nil {
		missCounter.WithLabelValues("object").Inc()
		return nil, false
	}
	obj, err := decodeObjectRecord(id, version, raw)
	if err != nil {
		corruptCounter.WithLabelValues("object").Inc()
		logger.Warn("corrupt object record treated as miss", "id", id, "version", version, "err", err)
		return nil, false
	}
	hitCounter.WithLabelValues("object").Inc()
	s.objectLRU.Add(key, obj.Clone())
	return obj, true
}

// HasObject reports whether the exact (id, version) is present without
// decoding it.
func (s *Store) HasObject(id types.Address, version uint64) bool {
	_, err := os.Stat(s.objectPath(id, version))
	return err == nil
}

// PutObject stores the object; writes are idempotent at (id, version).
func (s *Store) PutObject(obj *types.VersionedObject) error {
	raw, err := encodeObjectRecord(obj)
	if err != nil {
		return err
	}
	if err := s.atomicWrite(s.objectPath(obj.ID, obj.Version), raw); err != nil {
		return err
	}
	s.objectLRU.Add(obj.Key(), obj.Clone())
	return nil
}

// ListObjectVersions returns the ascending set of versions stored for id.
func (s *Store) ListObjectVersions(id types.Address) []uint64 {
	entries, err := os.ReadDir(s.objectDir(id))
	if err != nil {
		return nil
	}
	var versions []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, objectVersionPrefix) || !strings.HasSuffix(name, objectVersionSuffix) {
			continue
		}
		v, err := strconv.ParseUint(name[len(objectVersionPrefix):len(name)-len(objectVersionSuffix)], 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}

// LatestObjectVersionAtMost returns the largest stored version <= max for
// id, or (0, false) when none qualifies.
func (s *Store) LatestObjectVersionAtMost(id types.Address, max uint64) (uint64, bool) {
	versions := s.ListObjectVersions(id)
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i] <= max {
			return versions[i], true
		}
	}
	return 0, false
}

// atomicWrite writes data to a temp file under <root>/tmp and renames it
// into place. The rename is the commit point.
func (s *Store) atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "cache: create shard dir")
	}
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "write-*")
	if err != nil {
		return errors.Wrap(err, "cache: create temp")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "cache: write temp")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "cache: close temp")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "cache: rename")
	}
	return nil
}
