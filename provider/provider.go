// Package provider hydrates a ReplayState for one transaction digest:
// cache first, transport on miss, policy-gated fallback when history is
// gone. Every decision lands in a SparseReplayReport so a replay can state
// exactly which inputs were historical, substituted or synthesized.
package provider

import (
	"context"
	"fmt"
	"math"
	"sync"

	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/clydemeng/sui-replay/cache"
	"github.com/clydemeng/sui-replay/config"
	"github.com/clydemeng/sui-replay/resolver"
	"github.com/clydemeng/sui-replay/transport"
	"github.com/clydemeng/sui-replay/types"
)

// Provider orchestrates cache, transport and upgrade-history reconciliation.
// Safe for concurrent use by one hydration at a time per Provider value.
type Provider struct {
	client transport.Client
	store  *cache.Store
	sf     singleflight.Group
	logger log.Logger

	// protocolVersion is stamped onto hydrated states; real backends derive
	// it from the epoch record, snapshot and test backends pin it.
	protocolVersion uint64
}

// Option mutates a Provider at construction.
type Option func(*Provider)

// WithProtocolVersion pins the protocol version stamped on hydrated states.
func WithProtocolVersion(v uint64) Option {
	return func(p *Provider) { p.protocolVersion = v }
}

// New builds a Provider over a transport client and an open cache store.
func New(client transport.Client, store *cache.Store, opts ...Option) *Provider {
	p := &Provider{
		client:          client,
		store:           store,
		logger:          log.New("module", "provider"),
		protocolVersion: 1,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Client exposes the underlying transport, for callers that batch their own
// checkpoint fetches.
func (p *Provider) Client() transport.Client { return p.client }

// Store exposes the cache store.
func (p *Provider) Store() *cache.Store { return p.store }

// requiredObject is one (id, version) the transaction needs, with the
// version semantics of its input kind.
type requiredObject struct {
	id         types.Address
	version    uint64
	shared     bool
	maxVersion uint64
}

// FetchReplayState hydrates the full execution context for a digest.
// The report is returned even when err is non-nil.
func (p *Provider) FetchReplayState(ctx context.Context, digest string, policy Policy) (*types.ReplayState, *SparseReplayReport, error) {
	report := &SparseReplayReport{}

	tx, err := p.client.FetchTransaction(ctx, digest)
	if err != nil {
		return nil, report, errors.Wrapf(err, "fetch transaction %s", digest)
	}
	state := types.NewReplayState(tx)
	state.ProtocolVersion = p.protocolVersion
	if tx.TimestampMS != nil {
		ctx = WithTxTimestamp(ctx, *tx.TimestampMS)
	}
	if tx.Checkpoint != nil {
		if cp, err := p.fetchCheckpoint(ctx, *tx.Checkpoint); err == nil {
			state.Epoch = cp.Epoch
		} else if types.KindOf(err) == types.KindTransport {
			return nil, report, errors.Wrapf(err, "fetch checkpoint %d", *tx.Checkpoint)
		}
	}

	maxVersion := replayMaxVersion(tx)
	required := requiredObjects(tx, maxVersion)
	report.add(func(r *SparseReplayReport) { r.ObjectsTotal = len(required) })

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(config.ObjectFetchConcurrency()))
	for _, req := range required {
		req := req
		g.Go(func() error {
			obj, err := p.fetchObject(gctx, req, policy, report)
			if err != nil {
				return err
			}
			if obj == nil {
				return nil // recorded as missing, policy permits continuing
			}
			mu.Lock()
			state.Objects[obj.ID] = obj
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, report, err
	}

	pkgAddrs := requiredPackages(tx)
	report.add(func(r *SparseReplayReport) { r.PackagesTotal = len(pkgAddrs) })

	pg, pctx := errgroup.WithContext(ctx)
	pg.SetLimit(workerLimit(config.PackageFetchConcurrency()))
	for _, addr := range pkgAddrs {
		addr := addr
		pg.Go(func() error {
			pkgs, err := p.fetchPackageClosure(pctx, addr, tx.Checkpoint != nil, report)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, pkg := range pkgs {
				state.Packages[pkg.Address] = pkg
			}
			mu.Unlock()
			return nil
		})
	}
	if err := pg.Wait(); err != nil {
		return nil, report, err
	}

	if policy.Prefetch != nil {
		p.prefetchDynamicFields(ctx, state, policy, maxVersion, report)
	}

	aliases := resolver.BuildAliases(state.Packages)
	if config.DebugLinkage() {
		p.logger.Debug("alias map built", "digest", digest, "edges", aliases.Len())
	}

	return state, report, nil
}

// replayMaxVersion is the highest object version admissible as replay input,
// one below the transaction's output lamport version when effects are known.
func replayMaxVersion(tx *types.Transaction) uint64 {
	eff := tx.OnChainEffects
	if eff == nil {
		return math.MaxUint64
	}
	var lamport uint64
	for _, set := range [][]types.ObjectKey{eff.Created, eff.Mutated, eff.Deleted} {
		for _, key := range set {
			if key.Version > lamport {
				lamport = key.Version
			}
		}
	}
	if lamport == 0 {
		return math.MaxUint64
	}
	return lamport - 1
}

func requiredObjects(tx *types.Transaction, maxVersion uint64) []requiredObject {
	seen := make(map[types.Address]struct{})
	var out []requiredObject
	add := func(id types.Address, version uint64, shared bool) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, requiredObject{id: id, version: version, shared: shared, maxVersion: maxVersion})
	}
	for _, in := range tx.Inputs {
		if !in.IsObject() {
			continue
		}
		add(in.ID, in.Version, in.Kind == types.InputSharedObject)
	}
	for _, key := range tx.GasPayment {
		add(key.ID, key.Version, false)
	}
	return out
}

func requiredPackages(tx *types.Transaction) []types.Address {
	seen := make(map[types.Address]struct{})
	var out []types.Address
	add := func(a types.Address) {
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, a := range tx.MoveCallPackages() {
		add(a)
	}
	for _, cmd := range tx.Commands {
		switch cmd.Kind {
		case types.CommandUpgrade:
			add(cmd.Package)
			for _, dep := range cmd.Deps {
				add(dep)
			}
		case types.CommandPublish:
			for _, dep := range cmd.Deps {
				add(dep)
			}
		}
	}
	return out
}

// fetchObject resolves one required object: cache, transport, then the
// policy fallback chain. A nil object with nil error means the object is
// missing but the policy chose to continue.
func (p *Provider) fetchObject(ctx context.Context, req requiredObject, policy Policy, report *SparseReplayReport) (*types.VersionedObject, error) {
	key := fmt.Sprintf("obj/%s@%d", req.id, req.version)
	v, err, _ := p.sf.Do(key, func() (interface{}, error) {
		return p.fetchObjectOnce(ctx, req, policy, report)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*types.VersionedObject), nil
}

func (p *Provider) fetchObjectOnce(ctx context.Context, req requiredObject, policy Policy, report *SparseReplayReport) (interface{}, error) {
	version := req.version
	if req.shared {
		// The declared version is the initial shared version, a lower
		// bound. Prefer the newest cached version within the replay's
		// admissible range.
		if cached, ok := p.store.LatestObjectVersionAtMost(req.id, req.maxVersion); ok && cached >= req.version {
			version = cached
		}
	}
	if obj, ok := p.store.GetObject(req.id, version); ok {
		report.add(func(r *SparseReplayReport) { r.ObjectsCached++ })
		fetchCounter.WithLabelValues("object", "cache").Inc()
		return obj, nil
	}

	obj, err := p.client.FetchObject(ctx, req.id, &version)
	if err == nil {
		report.add(func(r *SparseReplayReport) { r.ObjectsGRPC++ })
		fetchCounter.WithLabelValues("object", "grpc").Inc()
		if perr := p.store.PutObject(obj); perr != nil {
			p.logger.Warn("cache write failed", "id", req.id.Short(), "err", perr)
		}
		return obj, nil
	}
	if types.KindOf(err) == types.KindTransport {
		return nil, errors.Wrapf(err, "fetch object %s@%d", req.id.Short(), version)
	}
	if req.shared {
		// The initial shared version is only a lower bound; ask the
		// historical channel for its checkpoint-scoped state.
		if obj, lerr := p.client.FetchObject(ctx, req.id, nil); lerr == nil &&
			obj.Version >= req.version && obj.Version <= req.maxVersion {
			report.add(func(r *SparseReplayReport) { r.ObjectsGRPC++ })
			fetchCounter.WithLabelValues("object", "grpc").Inc()
			if perr := p.store.PutObject(obj); perr != nil {
				p.logger.Warn("cache write failed", "id", req.id.Short(), "err", perr)
			}
			return obj, nil
		}
	}
	return p.fallbackObject(ctx, req, policy, report, err)
}

func (p *Provider) fallbackObject(ctx context.Context, req requiredObject, policy Policy, report *SparseReplayReport, cause error) (interface{}, error) {
	switch policy.Fallback {
	case AllowGraphqlCurrent:
		if obj, ok := p.currentObject(ctx, req, report); ok {
			report.add(func(r *SparseReplayReport) { r.ObjectsGraphqlFallback++ })
			report.note(fmt.Sprintf("graphql_fallback_current %s observed_version=%d", req.id.Short(), obj.Version))
			fallbackCounter.WithLabelValues("graphql_current").Inc()
			return obj, nil
		}
	case SynthesizeMissing:
		if synth, ok := policy.synthesizer(req.id); ok {
			obj := synth(req.id, req.version, txTimestamp(ctx))
			report.add(func(r *SparseReplayReport) { r.ObjectsIncomplete++ })
			report.note(fmt.Sprintf("incomplete %s reason=synthesized", req.id.Short()))
			fallbackCounter.WithLabelValues("synthesize").Inc()
			return obj, nil
		}
	case RequireHistorical:
		report.add(func(r *SparseReplayReport) { r.ObjectsMissing++ })
		return nil, errors.Wrapf(&types.MissingObjectError{ID: req.id, Version: req.version}, "fallback disabled: %v", cause)
	}
	report.add(func(r *SparseReplayReport) { r.ObjectsMissing++ })
	report.note(fmt.Sprintf("missing %s@%d", req.id.Short(), req.version))
	return nil, nil
}

// currentObject reaches the latest-state tier when the transport exposes one
// and the observed version is admissible. Admissible means at least the
// requested version and at most the lamport ceiling: a current state older
// than what the transaction read would silently rewind the input.
func (p *Provider) currentObject(ctx context.Context, req requiredObject, report *SparseReplayReport) (*types.VersionedObject, bool) {
	tiered, ok := p.client.(*transport.Tiered)
	if !ok {
		return nil, false
	}
	obj, err := tiered.CurrentObject(ctx, req.id)
	if err != nil {
		return nil, false
	}
	if obj.Version > req.maxVersion || obj.Version < req.version {
		report.note(fmt.Sprintf("graphql_current rejected %s version=%d want=[%d,%d]",
			req.id.Short(), obj.Version, req.version, req.maxVersion))
		return nil, false
	}
	return obj, true
}

// fetchCheckpoint resolves checkpoint metadata from the historical channel.
// When that channel does not index checkpoints and CHECKPOINT_LOOKUP_GRAPHQL
// is set, the latest-state tier is consulted instead.
func (p *Provider) fetchCheckpoint(ctx context.Context, seq uint64) (*types.Checkpoint, error) {
	cp, err := p.client.FetchCheckpoint(ctx, seq)
	if err == nil || types.KindOf(err) == types.KindTransport {
		return cp, err
	}
	if config.CheckpointLookupGraphQL() {
		if tiered, ok := p.client.(*transport.Tiered); ok {
			if cp, lerr := tiered.CheckpointFromLatest(ctx, seq); lerr == nil {
				fetchCounter.WithLabelValues("checkpoint", "graphql").Inc()
				return cp, nil
			}
		}
	}
	return nil, err
}

// fetchPackageClosure resolves a package and its upgrade history so the
// state holds both storage and runtime identities with correct linkage.
// With a checkpoint pinned, upgrades newer than the fetched version are not
// folded in.
func (p *Provider) fetchPackageClosure(ctx context.Context, addr types.Address, pinned bool, report *SparseReplayReport) ([]*types.Package, error) {
	key := "pkg/" + addr.String()
	v, err, _ := p.sf.Do(key, func() (interface{}, error) {
		pkg, err := p.fetchPackage(ctx, addr, report)
		if err != nil {
			return nil, err
		}
		out := []*types.Package{pkg}

		upgrades, err := p.client.FetchPackageUpgrades(ctx, pkg.RuntimeID())
		if err != nil {
			if types.KindOf(err) == types.KindTransport {
				return nil, errors.Wrapf(err, "upgrade history for %s", addr.Short())
			}
			return out, nil // confirmed no history
		}
		for _, up := range upgrades {
			if up.Address == addr {
				continue
			}
			if pinned && up.Version > pkg.Version {
				continue
			}
			prev, err := p.fetchPackage(ctx, up.Address, report)
			if err != nil {
				if types.KindOf(err) == types.KindTransport {
					return nil, err
				}
				report.note(fmt.Sprintf("missing_package %s (upgrade step of %s)", up.Address.Short(), addr.Short()))
				continue
			}
			out = append(out, prev)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*types.Package), nil
}

func (p *Provider) fetchPackage(ctx context.Context, addr types.Address, report *SparseReplayReport) (*types.Package, error) {
	if pkg, ok := p.store.GetPackage(addr); ok {
		report.add(func(r *SparseReplayReport) { r.PackagesCached++ })
		fetchCounter.WithLabelValues("package", "cache").Inc()
		return pkg, nil
	}
	pkg, err := p.client.FetchPackage(ctx, addr)
	if err != nil {
		if types.KindOf(err) == types.KindNotFound {
			return nil, &types.MissingPackageError{Address: addr}
		}
		return nil, errors.Wrapf(err, "fetch package %s", addr.Short())
	}
	report.add(func(r *SparseReplayReport) { r.PackagesGRPC++ })
	fetchCounter.WithLabelValues("package", "grpc").Inc()
	if perr := p.store.PutPackage(pkg); perr != nil {
		p.logger.Warn("cache write failed", "package", addr.Short(), "err", perr)
	}
	return pkg, nil
}

func workerLimit(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

type timestampKey struct{}

// WithTxTimestamp plants the transaction timestamp used by synthesizers.
func WithTxTimestamp(ctx context.Context, ms uint64) context.Context {
	return context.WithValue(ctx, timestampKey{}, ms)
}

func txTimestamp(ctx context.Context) uint64 {
	if v, ok := ctx.Value(timestampKey{}).(uint64); ok {
		return v
	}
	return 0
}
