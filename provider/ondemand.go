package provider

import (
	"context"
	"fmt"

	"github.com/clydemeng/sui-replay/types"
)

// OnDemandResolver answers the VM's mid-execution requests for dynamic-field
// children that were not preloaded. It is invoked synchronously from the
// harness child-fetcher callback and must return within the call.
type OnDemandResolver struct {
	p            *Provider
	report       *SparseReplayReport
	maxVersion   uint64
	strict       bool
	allowGraphql bool
}

// OnDemandResolver builds the resolver the executor installs as the
// harness's child fetcher. maxVersion bounds admissible child versions.
func (p *Provider) OnDemandResolver(report *SparseReplayReport, maxVersion uint64, strict, allowGraphql bool) *OnDemandResolver {
	return &OnDemandResolver{
		p:            p,
		report:       report,
		maxVersion:   maxVersion,
		strict:       strict,
		allowGraphql: allowGraphql,
	}
}

// FetchChild resolves one child object or returns nil when it cannot be
// found under the resolver's constraints. The caller decides whether a nil
// child is fatal.
func (r *OnDemandResolver) FetchChild(ctx context.Context, id types.Address) (*types.VersionedObject, error) {
	r.report.add(func(rep *SparseReplayReport) { rep.OnDemandAttempted++ })

	if v, ok := r.p.store.LatestObjectVersionAtMost(id, r.maxVersion); ok {
		if obj, ok := r.p.store.GetObject(id, v); ok {
			r.report.add(func(rep *SparseReplayReport) {
				rep.OnDemandCached++
				rep.OnDemandResolved++
			})
			return obj, nil
		}
	}

	obj, ok := r.p.prefetchChild(ctx, id, r.maxVersion, r.strict, r.allowGraphql, false)
	if !ok {
		r.report.add(func(rep *SparseReplayReport) { rep.OnDemandFailed++ })
		r.report.note(fmt.Sprintf("on_demand_failed %s", id.Short()))
		return nil, nil
	}
	r.report.add(func(rep *SparseReplayReport) {
		rep.OnDemandFetched++
		rep.OnDemandResolved++
	})
	return obj, nil
}
