package provider

import (
	"context"
	"fmt"

	"github.com/clydemeng/sui-replay/config"
	"github.com/clydemeng/sui-replay/transport"
	"github.com/clydemeng/sui-replay/types"
)

// prefetchDynamicFields walks parent to child dynamic-field links breadth
// first, bounded by depth plies globally and limit children per parent.
// Failures are non-essential: they land in the report, never in an error.
func (p *Provider) prefetchDynamicFields(ctx context.Context, state *types.ReplayState, policy Policy, maxVersion uint64, report *SparseReplayReport) {
	pf := policy.Prefetch
	strict := pf.StrictCheckpoint || config.DFStrictCheckpoint()
	debug := config.DebugDFFetch()

	visited := make(map[types.Address]struct{}, len(state.Objects))
	frontier := make([]types.Address, 0, len(state.Objects))
	for id := range state.Objects {
		visited[id] = struct{}{}
		frontier = append(frontier, id)
	}

	for depth := 0; depth < pf.Depth && len(frontier) > 0; depth++ {
		var next []types.Address
		for _, parent := range frontier {
			children, err := p.client.ListDynamicFields(ctx, parent)
			if err != nil {
				if types.KindOf(err) != types.KindNotFound {
					report.note(fmt.Sprintf("df_list_failed %s: %v", parent.Short(), err))
					report.add(func(r *SparseReplayReport) { r.DynamicFieldsFailed++ })
				}
				continue
			}
			if len(children) > pf.Limit {
				if debug {
					p.logger.Debug("dynamic field fan-out truncated", "parent", parent.Short(), "children", len(children), "limit", pf.Limit)
				}
				children = children[:pf.Limit]
			}
			report.add(func(r *SparseReplayReport) { r.DynamicFieldsDiscovered += len(children) })

			for _, child := range children {
				if _, ok := visited[child]; ok {
					continue
				}
				visited[child] = struct{}{}
				obj, ok := p.prefetchChild(ctx, child, maxVersion, strict, pf.AllowGraphqlFallback, debug)
				if !ok {
					report.add(func(r *SparseReplayReport) { r.DynamicFieldsFailed++ })
					report.note(fmt.Sprintf("df_child_missing %s (parent %s)", child.Short(), parent.Short()))
					prefetchCounter.WithLabelValues("failed").Inc()
					continue
				}
				state.Objects[child] = obj
				next = append(next, child)
				report.add(func(r *SparseReplayReport) {
					r.DynamicFieldsFetched++
					r.ObjectsPrefetched++
				})
				prefetchCounter.WithLabelValues("fetched").Inc()
			}
		}
		frontier = next
	}
}

// prefetchChild resolves one dynamic-field child: cache at any admissible
// version, then the historical channel, then (non-strict only) the latest
// tier guarded by maxVersion.
func (p *Provider) prefetchChild(ctx context.Context, id types.Address, maxVersion uint64, strict, allowGraphql, debug bool) (*types.VersionedObject, bool) {
	if v, ok := p.store.LatestObjectVersionAtMost(id, maxVersion); ok {
		if obj, ok := p.store.GetObject(id, v); ok {
			if debug {
				p.logger.Debug("dynamic field child from cache", "id", id.Short(), "version", v)
			}
			return obj, true
		}
	}

	if obj, err := p.client.FetchObject(ctx, id, nil); err == nil {
		if obj.Version <= maxVersion {
			if perr := p.store.PutObject(obj); perr != nil {
				p.logger.Warn("cache write failed", "id", id.Short(), "err", perr)
			}
			return obj, true
		}
		if debug {
			p.logger.Debug("dynamic field child too new", "id", id.Short(), "version", obj.Version, "max", maxVersion)
		}
	}

	if strict || !allowGraphql {
		return nil, false
	}
	tiered, ok := p.client.(*transport.Tiered)
	if !ok {
		return nil, false
	}
	obj, err := tiered.CurrentObject(ctx, id)
	if err != nil || obj.Version > maxVersion {
		return nil, false
	}
	if debug {
		p.logger.Debug("dynamic field child from latest tier", "id", id.Short(), "version", obj.Version)
	}
	return obj, true
}
