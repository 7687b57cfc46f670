package provider

import (
	"encoding/json"
	"sync"
)

// SparseReplayReport accounts for every data-source decision made while
// hydrating a replay. A clean replay has zero fallback, missing and
// incomplete records.
type SparseReplayReport struct {
	mu sync.Mutex

	ObjectsTotal           int `json:"objects_total"`
	ObjectsCached          int `json:"objects_cached"`
	ObjectsGRPC            int `json:"objects_grpc"`
	ObjectsGraphqlFallback int `json:"objects_graphql_fallback"`
	ObjectsPrefetched      int `json:"objects_prefetched"`
	ObjectsMissing         int `json:"objects_missing"`
	ObjectsIncomplete      int `json:"objects_incomplete"`

	PackagesTotal  int `json:"packages_total"`
	PackagesCached int `json:"packages_cached"`
	PackagesGRPC   int `json:"packages_grpc"`

	DynamicFieldsDiscovered int `json:"dynamic_fields_discovered"`
	DynamicFieldsFetched    int `json:"dynamic_fields_fetched"`
	DynamicFieldsFailed     int `json:"dynamic_fields_failed"`

	OnDemandAttempted int `json:"on_demand_attempted"`
	OnDemandCached    int `json:"on_demand_cached"`
	OnDemandFetched   int `json:"on_demand_fetched"`
	OnDemandResolved  int `json:"on_demand_resolved"`
	OnDemandFailed    int `json:"on_demand_failed"`

	// Notes carries one line per fallback, synthesis or failure, in the
	// order the decisions were made.
	Notes []string `json:"notes,omitempty"`
}

func (r *SparseReplayReport) add(f func(*SparseReplayReport)) {
	r.mu.Lock()
	f(r)
	r.mu.Unlock()
}

func (r *SparseReplayReport) note(line string) {
	r.add(func(r *SparseReplayReport) { r.Notes = append(r.Notes, line) })
}

// Clean reports whether the replay state was hydrated entirely from
// historical sources with nothing substituted or absent.
func (r *SparseReplayReport) Clean() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ObjectsGraphqlFallback == 0 && r.ObjectsMissing == 0 &&
		r.ObjectsIncomplete == 0 && r.DynamicFieldsFailed == 0 &&
		r.OnDemandFailed == 0
}

// JSON renders the report in its external shape.
func (r *SparseReplayReport) JSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.MarshalIndent(r, "", "  ")
}
