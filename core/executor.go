// Package core drives end-to-end replays: it hydrates state through the
// provider, constructs the Move bridge harness, executes the PTB and
// reconciles the local effects against the on-chain record. The batch engine
// in this package replays whole checkpoints with intra-checkpoint state
// progression.
package core

import (
	"context"
	"fmt"
	"strings"

	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	movebridge "github.com/clydemeng/sui-replay/move_bridge"
	"github.com/clydemeng/sui-replay/patch"
	"github.com/clydemeng/sui-replay/provider"
	"github.com/clydemeng/sui-replay/resolver"
	"github.com/clydemeng/sui-replay/types"
)

// TxExecutor is an abstraction over a PTB execution backend. It hides the
// concrete harness behind a common interface so the replay driver and the
// batch engine never branch on the engine in use.
type TxExecutor interface {
	// Engine returns a short human identifier ("move-bridge", ...).
	Engine() string

	// ExecuteTx runs one programmable transaction against a prepared
	// execution context and returns the local execution record.
	ExecuteTx(ctx context.Context, tx *types.Transaction) *types.ReplayExecution
}

// harnessExecutor adapts a prepared movebridge.Harness to TxExecutor.
type harnessExecutor struct {
	h *movebridge.Harness
}

func (e *harnessExecutor) Engine() string { return "move-bridge" }

func (e *harnessExecutor) ExecuteTx(ctx context.Context, tx *types.Transaction) *types.ReplayExecution {
	return e.h.ExecutePTB(ctx, tx.Inputs, tx.Commands)
}

// ReconcilePolicy selects how local effects are compared to the on-chain
// record.
type ReconcilePolicy int

const (
	// ReconcileStrict compares status and object counts field by field.
	ReconcileStrict ReconcilePolicy = iota
	// ReconcileDynamicFields tolerates count drift caused by dynamic-field
	// children that were discovered during prefetch but never touched.
	ReconcileDynamicFields
)

func (p ReconcilePolicy) String() string {
	if p == ReconcileDynamicFields {
		return "dynamic_fields"
	}
	return "strict"
}

// EffectsCounts is the compact effects view carried on ReplayOutput next to
// the full summary.
type EffectsCounts struct {
	Success bool `json:"success"`
	Created int  `json:"created"`
	Mutated int  `json:"mutated"`
	Deleted int  `json:"deleted"`
	Events  int  `json:"events"`
}

// ExecutionPath records how the replay state was assembled: which data
// sources served, whether a fallback fired and what it substituted. It is a
// first-class output for debugging divergent replays.
type ExecutionPath struct {
	Engine          string   `json:"engine"`
	Sources         []string `json:"sources"`
	FallbackMode    string   `json:"fallback_mode"`
	FallbackUsed    bool     `json:"fallback_used"`
	PrefetchDepth   int      `json:"prefetch_depth,omitempty"`
	PrefetchLimit   int      `json:"prefetch_limit,omitempty"`
	ObjectFetches   int      `json:"object_fetches"`
	PackageFetches  int      `json:"package_fetches"`
	SyntheticInputs []string `json:"synthetic_inputs,omitempty"`
}

// ReplayOutput is the complete, always-well-formed verdict of one replay.
type ReplayOutput struct {
	Digest           string                          `json:"digest"`
	LocalSuccess     bool                            `json:"local_success"`
	LocalError       string                          `json:"local_error,omitempty"`
	ErrorCategory    string                          `json:"error_category,omitempty"`
	Tags             []string                        `json:"tags,omitempty"`
	Diagnostics      []string                        `json:"diagnostics,omitempty"`
	ExecutionPath    ExecutionPath                   `json:"execution_path"`
	Comparison       *types.EffectsComparison        `json:"comparison,omitempty"`
	Effects          EffectsCounts                   `json:"effects"`
	EffectsFull      types.TransactionEffectsSummary `json:"effects_full"`
	CommandsExecuted int                             `json:"commands_executed"`
	Sparse           *provider.SparseReplayReport    `json:"sparse,omitempty"`
}

// Executor is the end-to-end replay driver. It owns no network state itself;
// the provider hydrates, the harness executes, the reconciler compares.
type Executor struct {
	provider *provider.Provider
	session  *resolver.Resolver
	patcher  *patch.Patcher
	natives  *movebridge.NativeTable
	logger   log.Logger

	costTableVersion  uint64
	referenceGasPrice uint64
}

// ExecutorOption mutates an executor at construction.
type ExecutorOption func(*Executor)

// WithSessionResolver installs a long-lived resolver whose packages are
// merged into every per-replay resolver clone.
func WithSessionResolver(r *resolver.Resolver) ExecutorOption {
	return func(e *Executor) { e.session = r }
}

// WithPatcher replaces the default built-in rule set.
func WithPatcher(p *patch.Patcher) ExecutorOption {
	return func(e *Executor) { e.patcher = p }
}

// WithNativeTable replaces the default capability table used by harnesses.
func WithNativeTable(t *movebridge.NativeTable) ExecutorOption {
	return func(e *Executor) { e.natives = t }
}

// WithCostTableVersion pins the gas cost table instead of deriving it from
// the protocol version.
func WithCostTableVersion(v uint64) ExecutorOption {
	return func(e *Executor) { e.costTableVersion = v }
}

// WithReferenceGasPrice sets the epoch reference price used as the floor for
// the transaction gas price.
func WithReferenceGasPrice(p uint64) ExecutorOption {
	return func(e *Executor) { e.referenceGasPrice = p }
}

// NewExecutor builds a replay driver on top of the given provider. The
// provider may be nil when every replay is fed through ReplayState from a
// snapshot; Replay by digest then fails fast.
func NewExecutor(p *provider.Provider, opts ...ExecutorOption) *Executor {
	e := &Executor{
		provider: p,
		patcher:  patch.New(patch.BuiltinRules()...),
		logger:   log.New("module", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Replay hydrates the transaction's state through the provider and executes
// it. Policy drives both hydration fallback and prefetch.
func (e *Executor) Replay(ctx context.Context, digest string, policy provider.Policy, rp ReconcilePolicy) (*ReplayOutput, error) {
	if e.provider == nil {
		return nil, errors.New("executor: no provider configured, load a state snapshot instead")
	}
	state, report, err := e.provider.FetchReplayState(ctx, digest, policy)
	if err != nil {
		return nil, errors.Wrapf(err, "hydrate %s", digest)
	}
	return e.ReplayState(ctx, state, report, policy, rp)
}

// ReplayState executes an already-hydrated state. report may be nil when the
// state came from a snapshot file rather than the provider.
func (e *Executor) ReplayState(ctx context.Context, state *types.ReplayState, report *provider.SparseReplayReport, policy provider.Policy, rp ReconcilePolicy) (*ReplayOutput, error) {
	tx := state.Transaction
	if tx == nil {
		return nil, errors.New("replay state carries no transaction")
	}
	if report == nil {
		report = &provider.SparseReplayReport{}
	}

	res := resolver.New(state.Packages, nil)
	if e.session != nil {
		res = e.mergeSession(state)
	}
	aliases := res.Aliases()

	objects, versions := ReplayObjectMaps(state)
	patched := e.patcher.ApplyAll(objects, patch.Context{TxTimestampMS: txTimestamp(tx)})
	if patched > 0 {
		e.logger.Debug("patched objects", "digest", tx.Digest, "count", patched)
	}

	cfg := simulationConfig(state, e)
	harness, err := movebridge.NewHarness(cfg, harnessOptions(e)...)
	if err != nil {
		return nil, errors.Wrap(err, "construct harness")
	}
	harness.SetResolver(res)
	harness.SetAddressAliasesWithVersions(aliases.StorageToRuntime, aliases.Versions)
	harness.SetTxDigest(tx.Digest)
	harness.SetGasPayment(tx.GasPayment)
	if e.provider != nil {
		od := e.provider.OnDemandResolver(report, maxInputVersion(tx), false, policy.Fallback != provider.RequireHistorical)
		harness.SetChildFetcher(od.FetchChild)
	}
	for _, obj := range objects {
		harness.AddInputObject(obj)
	}

	engine := TxExecutor(&harnessExecutor{h: harness})
	e.logger.Debug("executing transaction",
		"digest", tx.Digest, "engine", engine.Engine(),
		"commands", len(tx.Commands), "inputs", len(tx.Inputs), "objects", len(objects))
	exec := engine.ExecuteTx(ctx, tx)

	out := e.buildOutput(tx, exec, report, policy, rp)
	out.ExecutionPath.Engine = engine.Engine()
	if out.Comparison != nil && !out.Comparison.Match() {
		out.Diagnostics = append(out.Diagnostics, versionDiagnostics(versions, exec)...)
	}
	return out, nil
}

// mergeSession clones the session resolver and merges the replay's packages
// on top, so long-lived framework packages survive across replays.
// AddPackage rebuilds the clone's alias map, leaving the parent untouched.
func (e *Executor) mergeSession(state *types.ReplayState) *resolver.Resolver {
	res := e.session.Clone()
	for _, pkg := range state.Packages {
		res.AddPackage(pkg)
	}
	return res
}

func (e *Executor) buildOutput(tx *types.Transaction, exec *types.ReplayExecution, report *provider.SparseReplayReport, policy provider.Policy, rp ReconcilePolicy) *ReplayOutput {
	out := &ReplayOutput{
		Digest:           tx.Digest,
		LocalSuccess:     exec.Result.LocalSuccess,
		LocalError:       exec.Result.LocalError,
		Tags:             Classify(tx),
		Effects:          countsOf(&exec.Effects),
		EffectsFull:      exec.Effects,
		CommandsExecuted: exec.Result.CommandsExecuted,
		Sparse:           report,
		ExecutionPath:    executionPath(report, policy),
	}
	if !out.LocalSuccess {
		out.ErrorCategory = CategorizeError(out.LocalError)
	}
	if tx.OnChainEffects != nil {
		slack := 0
		if rp == ReconcileDynamicFields {
			slack = report.DynamicFieldsFetched + report.OnDemandResolved
		}
		out.Comparison = Reconcile(&exec.Effects, tx.OnChainEffects, slack)
		// The execution record carries the comparison too, so a serialized
		// ReplayExecution is self-contained.
		exec.Result.Comparison = out.Comparison
	}
	return out
}

func countsOf(eff *types.TransactionEffectsSummary) EffectsCounts {
	return EffectsCounts{
		Success: eff.Success,
		Created: len(eff.Created),
		Mutated: len(eff.Mutated),
		Deleted: len(eff.Deleted),
		Events:  eff.EventsCount,
	}
}

// executionPath condenses the sparse report and the policy into the
// debugging record attached to every output.
func executionPath(report *provider.SparseReplayReport, policy provider.Policy) ExecutionPath {
	p := ExecutionPath{
		FallbackMode:   policy.Fallback.String(),
		ObjectFetches:  report.ObjectsGRPC,
		PackageFetches: report.PackagesGRPC,
	}
	if report.ObjectsCached > 0 || report.PackagesCached > 0 {
		p.Sources = append(p.Sources, "cache")
	}
	if report.ObjectsGRPC > 0 || report.PackagesGRPC > 0 {
		p.Sources = append(p.Sources, "grpc")
	}
	if report.ObjectsGraphqlFallback > 0 {
		p.Sources = append(p.Sources, "graphql")
	}
	p.FallbackUsed = report.ObjectsGraphqlFallback > 0 || report.ObjectsIncomplete > 0
	if policy.Prefetch != nil {
		p.PrefetchDepth = policy.Prefetch.Depth
		p.PrefetchLimit = policy.Prefetch.Limit
	}
	for _, note := range report.Notes {
		if strings.HasPrefix(note, "incomplete ") && strings.HasSuffix(note, "reason=synthesized") {
			fields := strings.Fields(note)
			if len(fields) >= 2 {
				p.SyntheticInputs = append(p.SyntheticInputs, fields[1])
			}
		}
	}
	return p
}

// ReplayObjectMaps derives the two object views the executor works over: the
// canonical id to object map and the id-string to version map.
func ReplayObjectMaps(state *types.ReplayState) (map[types.Address]*types.VersionedObject, map[string]uint64) {
	objects := make(map[types.Address]*types.VersionedObject, len(state.Objects))
	versions := make(map[string]uint64, len(state.Objects))
	for id, obj := range state.Objects {
		objects[id] = obj
		versions[id.String()] = obj.Version
	}
	return objects, versions
}

func simulationConfig(state *types.ReplayState, e *Executor) movebridge.SimulationConfig {
	tx := state.Transaction
	cfg := movebridge.SimulationConfig{
		ProtocolVersion:   state.ProtocolVersion,
		Epoch:             state.Epoch,
		Sender:            tx.Sender,
		GasBudget:         tx.GasBudget,
		GasPrice:          tx.GasPrice,
		ReferenceGasPrice: e.referenceGasPrice,
		CostTableVersion:  e.costTableVersion,
		TxTimestampMS:     txTimestamp(tx),
		Checkpoint:        state.Checkpoint,
	}
	if cfg.GasPrice == 0 {
		cfg.GasPrice = 1
	}
	if cfg.ReferenceGasPrice == 0 {
		cfg.ReferenceGasPrice = cfg.GasPrice
	}
	if cfg.CostTableVersion == 0 {
		cfg.CostTableVersion = costTableForProtocol(state.ProtocolVersion)
	}
	return cfg
}

// costTableForProtocol picks the newest cost table the protocol version
// admits. Replays of old epochs stay on table 1.
func costTableForProtocol(protocol uint64) uint64 {
	if protocol >= 50 {
		return 2
	}
	return 1
}

func harnessOptions(e *Executor) []movebridge.HarnessOption {
	var opts []movebridge.HarnessOption
	if e.natives != nil {
		opts = append(opts, movebridge.WithNativeTable(e.natives))
	}
	return opts
}

func txTimestamp(tx *types.Transaction) uint64 {
	if tx.TimestampMS != nil {
		return *tx.TimestampMS
	}
	return 0
}

// maxInputVersion bounds on-demand child fetches to versions the transaction
// could have observed: one below its output lamport version.
func maxInputVersion(tx *types.Transaction) uint64 {
	eff := tx.OnChainEffects
	if eff == nil {
		return ^uint64(0)
	}
	var lamport uint64
	for _, set := range [][]types.ObjectKey{eff.Created, eff.Mutated, eff.Deleted} {
		for _, k := range set {
			if k.Version > lamport {
				lamport = k.Version
			}
		}
	}
	if lamport == 0 {
		return ^uint64(0)
	}
	return lamport - 1
}

func versionDiagnostics(versions map[string]uint64, exec *types.ReplayExecution) []string {
	var out []string
	for id, v := range exec.ObjectVersions {
		if before, ok := versions[id]; ok && before != v {
			out = append(out, fmt.Sprintf("object %s advanced %d -> %d", id, before, v))
		}
	}
	return out
}
