package cache

import (
	"encoding/json"
	"fmt"

	"github.com/clydemeng/sui-replay/types"
)

// packageRecord is the persisted JSON shape of a package. Module bytecode
// rides as base64 via encoding/json's []byte handling.
type packageRecord struct {
	Version    uint64          `json:"version"`
	Modules    []moduleRecord  `json:"modules"`
	OriginalID *types.Address  `json:"original_id,omitempty"`
	Linkage    []linkageRecord `json:"linkage,omitempty"`
}

type moduleRecord struct {
	Name     string `json:"name"`
	Bytecode []byte `json:"bytecode"`
}

type linkageRecord struct {
	Original        types.Address `json:"original"`
	Upgraded        types.Address `json:"upgraded"`
	UpgradedVersion uint64        `json:"upgraded_version"`
}

// objectRecord is the persisted shape of an object version. The id and
// version are implied by the path and re-checked on read.
type objectRecord struct {
	Version     uint64       `json:"version"`
	TypeTag     string       `json:"type_tag,omitempty"`
	IsShared    bool         `json:"is_shared"`
	IsImmutable bool         `json:"is_immutable"`
	Digest      string       `json:"digest,omitempty"`
	BCS         []byte       `json:"bcs_base64,omitempty"`
	Owner       *types.Owner `json:"owner,omitempty"`
}

func encodePackageRecord(pkg *types.Package) ([]byte, error) {
	rec := packageRecord{Version: pkg.Version, OriginalID: pkg.OriginalID}
	for _, m := range pkg.Modules {
		rec.Modules = append(rec.Modules, moduleRecord{Name: m.Name, Bytecode: m.Bytecode})
	}
	for _, l := range pkg.Linkage {
		rec.Linkage = append(rec.Linkage, linkageRecord(l))
	}
	return json.Marshal(&rec)
}

func decodePackageRecord(addr types.Address, raw []byte) (*types.Package, error) {
	var rec packageRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &types.DecodeError{What: "package record", Err: err}
	}
	pkg := &types.Package{Address: addr, Version: rec.Version, OriginalID: rec.OriginalID}
	for _, m := range rec.Modules {
		pkg.Modules = append(pkg.Modules, types.Module{Name: m.Name, Bytecode: m.Bytecode})
	}
	for _, l := range rec.Linkage {
		pkg.Linkage = append(pkg.Linkage, types.LinkageEntry(l))
	}
	if err := pkg.Validate(); err != nil {
		return nil, &types.DecodeError{What: "package record", Err: err}
	}
	return pkg, nil
}

func encodeObjectRecord(obj *types.VersionedObject) ([]byte, error) {
	rec := objectRecord{
		Version:     obj.Version,
		TypeTag:     obj.TypeTag,
		IsShared:    obj.IsShared,
		IsImmutable: obj.IsImmutable,
		Digest:      obj.Digest,
		BCS:         obj.BCS,
		Owner:       obj.Owner,
	}
	return json.Marshal(&rec)
}

func decodeObjectRecord(id types.Address, version uint64, raw []byte) (*types.VersionedObject, error) {
	var rec objectRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &types.DecodeError{What: "object record", Err: err}
	}
	if rec.Version != version {
		return nil, &types.DecodeError{What: "object record", Err: errVersionMismatch(rec.Version, version)}
	}
	return &types.VersionedObject{
		ID:          id,
		Version:     rec.Version,
		TypeTag:     rec.TypeTag,
		IsShared:    rec.IsShared,
		IsImmutable: rec.IsImmutable,
		Digest:      rec.Digest,
		BCS:         rec.BCS,
		Owner:       rec.Owner,
	}, nil
}

func errVersionMismatch(got, want uint64) error {
	return fmt.Errorf("record version %d does not match path version %d", got, want)
}
