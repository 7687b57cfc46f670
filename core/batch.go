package core

import (
	"context"
	"fmt"
	"io"
	"sort"

	log "github.com/inconshreveable/log15"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"

	"github.com/clydemeng/sui-replay/cache"
	"github.com/clydemeng/sui-replay/provider"
	"github.com/clydemeng/sui-replay/transport"
	"github.com/clydemeng/sui-replay/types"
)

const maxSamples = 10

// BatchOptions configures one batch run.
type BatchOptions struct {
	From, To uint64

	// DigestFilter, when non-empty, restricts replay to the listed digests.
	// Filtered-out transactions still contribute state progression.
	DigestFilter map[string]bool

	Policy    provider.Policy
	Reconcile ReconcilePolicy

	// ProtocolVersion applied to every replay in the batch. Zero means the
	// executor default.
	ProtocolVersion uint64
}

// Sample is one recorded outcome kept for the summary.
type Sample struct {
	Digest   string   `json:"digest"`
	Tags     []string `json:"tags"`
	Packages []string `json:"packages,omitempty"`
	Error    string   `json:"error,omitempty"`
	Category string   `json:"category,omitempty"`
}

// BatchSummary aggregates a whole run.
type BatchSummary struct {
	Checkpoints int `json:"checkpoints"`
	Total       int `json:"total"`
	Skipped     int `json:"skipped"` // non-PTB or filtered out
	Replayed    int `json:"replayed"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Mismatched  int `json:"mismatched"` // succeeded locally, effects diverged

	PerTag      map[string]int `json:"per_tag"`
	PerPackage  map[string]int `json:"per_package"`
	PerCategory map[string]int `json:"per_category"`

	FailureSamples []Sample `json:"failure_samples,omitempty"`
	SuccessSamples []Sample `json:"success_samples,omitempty"`
}

// BatchEngine replays whole checkpoints. It owns the batch-scoped object and
// package caches and guarantees intra-checkpoint state progression: every
// transaction sees the post-execution objects of all preceding transactions
// in its checkpoint, filtered or not.
type BatchEngine struct {
	exec     *Executor
	client   transport.Client
	progress *cache.Progress
	logger   log.Logger
}

// BatchOption mutates a batch engine at construction.
type BatchOption func(*BatchEngine)

// WithProgress persists per-checkpoint progression through the cache
// progress tracker, so an interrupted run resumes where it stopped.
func WithProgress(p *cache.Progress) BatchOption {
	return func(b *BatchEngine) { b.progress = p }
}

// NewBatchEngine builds a batch runner over the given executor and
// checkpoint source.
func NewBatchEngine(exec *Executor, client transport.Client, opts ...BatchOption) *BatchEngine {
	b := &BatchEngine{
		exec:   exec,
		client: client,
		logger: log.New("module", "batch"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run fetches the checkpoint range in one batched call and replays it in
// order. It never fails fast on a per-transaction error; only transport or
// cancellation errors abort the run.
func (b *BatchEngine) Run(ctx context.Context, opts BatchOptions) (*BatchSummary, error) {
	if opts.To < opts.From {
		return nil, errors.Errorf("batch: empty range [%d, %d]", opts.From, opts.To)
	}
	seqs := make([]uint64, 0, opts.To-opts.From+1)
	for s := opts.From; s <= opts.To; s++ {
		seqs = append(seqs, s)
	}
	checkpoints, err := b.client.FetchCheckpoints(ctx, seqs)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch checkpoints [%d, %d]", opts.From, opts.To)
	}

	summary := &BatchSummary{
		Checkpoints: len(checkpoints),
		PerTag:      make(map[string]int),
		PerPackage:  make(map[string]int),
		PerCategory: make(map[string]int),
	}
	objCache := make(map[types.Address]*types.VersionedObject)
	pkgCache := make(map[types.Address]*types.Package)

	for _, cp := range checkpoints {
		if cp == nil {
			continue
		}
		if err := b.runCheckpoint(ctx, cp, opts, objCache, pkgCache, summary); err != nil {
			return summary, err
		}
		if b.progress != nil {
			if perr := b.progress.MarkCheckpoint("batch", cp.Sequence); perr != nil {
				b.logger.Warn("progress write failed", "checkpoint", cp.Sequence, "err", perr)
			}
		}
	}
	b.logger.Info("batch complete",
		"checkpoints", summary.Checkpoints, "total", summary.Total,
		"replayed", summary.Replayed, "succeeded", summary.Succeeded,
		"failed", summary.Failed, "mismatched", summary.Mismatched)
	return summary, nil
}

func (b *BatchEngine) runCheckpoint(ctx context.Context, cp *types.Checkpoint, opts BatchOptions,
	objCache map[types.Address]*types.VersionedObject, pkgCache map[types.Address]*types.Package,
	summary *BatchSummary) error {

	// Seed pre-execution state. Input objects carry the state each
	// transaction read; packages are immutable so both sides contribute.
	for _, ctxTx := range cp.Transactions {
		for _, obj := range ctxTx.InputObjects {
			seedObject(objCache, obj)
		}
		for _, pkg := range ctxTx.Packages {
			pkgCache[pkg.Address] = pkg
		}
	}

	applied := 0
	for i, ctxTx := range cp.Transactions {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "batch cancelled")
		}
		// Progression is unconditional: outputs of every preceding
		// transaction land in the cache before this one executes, filtered
		// or not.
		for ; applied < i; applied++ {
			applyOutputs(objCache, pkgCache, &cp.Transactions[applied])
		}

		tx := ctxTx.Transaction
		summary.Total++
		if tx == nil || !tx.IsPTB() {
			summary.Skipped++
			continue
		}
		tags := Classify(tx)
		for _, tag := range tags {
			summary.PerTag[tag]++
		}
		pkgs := NonSystemPackages(tx)
		for _, pkg := range pkgs {
			summary.PerPackage[pkg.Short()]++
		}
		if len(opts.DigestFilter) > 0 && !opts.DigestFilter[tx.Digest] {
			summary.Skipped++
			continue
		}

		out, err := b.replayOne(ctx, cp, &ctxTx, opts, objCache, pkgCache)
		summary.Replayed++
		b.record(summary, tx, tags, pkgs, out, err)
	}
	// Trailing outputs feed the next checkpoint's progression.
	for ; applied < len(cp.Transactions); applied++ {
		applyOutputs(objCache, pkgCache, &cp.Transactions[applied])
	}
	return nil
}

// replayOne assembles a ReplayState from the batch caches and hands it to
// the single-transaction executor.
func (b *BatchEngine) replayOne(ctx context.Context, cp *types.Checkpoint, ctxTx *types.CheckpointTransaction,
	opts BatchOptions, objCache map[types.Address]*types.VersionedObject, pkgCache map[types.Address]*types.Package) (*ReplayOutput, error) {

	tx := ctxTx.Transaction
	state := types.NewReplayState(tx)
	state.Epoch = cp.Epoch
	state.ProtocolVersion = opts.ProtocolVersion
	seq := cp.Sequence
	state.Checkpoint = &seq
	if tx.TimestampMS == nil {
		ts := cp.TimestampMS
		tx.TimestampMS = &ts
	}

	report := &provider.SparseReplayReport{}
	for _, key := range tx.InputObjectKeys() {
		// A miss here surfaces as MissingObject at input bind time.
		if obj, ok := objCache[key.ID]; ok {
			state.Objects[key.ID] = obj.Clone()
		}
	}
	for _, key := range tx.GasPayment {
		if obj, ok := objCache[key.ID]; ok {
			state.Objects[key.ID] = obj.Clone()
		}
	}
	for _, addr := range requiredPackageAddrs(tx) {
		if pkg, ok := pkgCache[addr]; ok {
			state.Packages[pkg.Address] = pkg
		}
		// Follow the upgrade chain: the cache is keyed by storage address
		// but MoveCall may reference the runtime id.
		for _, pkg := range pkgCache {
			if pkg.RuntimeID() == addr {
				state.Packages[pkg.Address] = pkg
			}
		}
	}

	return b.exec.ReplayState(ctx, state, report, opts.Policy, opts.Reconcile)
}

func (b *BatchEngine) record(summary *BatchSummary, tx *types.Transaction, tags []string, pkgs []types.Address, out *ReplayOutput, err error) {
	sample := Sample{Digest: tx.Digest, Tags: tags}
	for _, pkg := range pkgs {
		sample.Packages = append(sample.Packages, pkg.Short())
	}
	switch {
	case err != nil:
		summary.Failed++
		sample.Error = err.Error()
		sample.Category = CategorizeError(err.Error())
	case out.LocalSuccess:
		summary.Succeeded++
		if out.Comparison != nil && !out.Comparison.Match() {
			summary.Mismatched++
		}
	default:
		summary.Failed++
		sample.Error = out.LocalError
		sample.Category = out.ErrorCategory
	}
	if sample.Category != "" {
		summary.PerCategory[sample.Category]++
	}
	if sample.Error != "" {
		if len(summary.FailureSamples) < maxSamples {
			summary.FailureSamples = append(summary.FailureSamples, sample)
		}
		b.logger.Debug("replay failed", "digest", tx.Digest, "category", sample.Category, "err", sample.Error)
		return
	}
	if len(summary.SuccessSamples) < maxSamples {
		summary.SuccessSamples = append(summary.SuccessSamples, sample)
	}
}

// seedObject keeps the lowest version seen, so later checkpoints never leak
// their newer pre-state backwards into earlier transactions.
func seedObject(cache map[types.Address]*types.VersionedObject, obj *types.VersionedObject) {
	if obj == nil {
		return
	}
	if prev, ok := cache[obj.ID]; ok && prev.Version <= obj.Version {
		return
	}
	cache[obj.ID] = obj
}

// applyOutputs advances the batch caches to the post-execution state of one
// transaction. Outputs always win over whatever version is cached.
func applyOutputs(objCache map[types.Address]*types.VersionedObject, pkgCache map[types.Address]*types.Package, ctxTx *types.CheckpointTransaction) {
	for _, obj := range ctxTx.OutputObjects {
		if obj == nil {
			continue
		}
		objCache[obj.ID] = obj
	}
	for _, pkg := range ctxTx.Packages {
		pkgCache[pkg.Address] = pkg
	}
}

func requiredPackageAddrs(tx *types.Transaction) []types.Address {
	seen := make(map[types.Address]struct{})
	var out []types.Address
	add := func(a types.Address) {
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, pkg := range tx.MoveCallPackages() {
		add(pkg)
	}
	for _, cmd := range tx.Commands {
		if cmd.Kind == types.CommandUpgrade {
			add(cmd.Package)
		}
		if cmd.Kind == types.CommandPublish || cmd.Kind == types.CommandUpgrade {
			for _, dep := range cmd.Deps {
				add(dep)
			}
		}
	}
	return out
}

// RenderTable writes the human summary the CLI prints after a batch run.
func (s *BatchSummary) RenderTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Count"})
	table.Append([]string{"checkpoints", fmt.Sprintf("%d", s.Checkpoints)})
	table.Append([]string{"transactions", fmt.Sprintf("%d", s.Total)})
	table.Append([]string{"skipped", fmt.Sprintf("%d", s.Skipped)})
	table.Append([]string{"replayed", fmt.Sprintf("%d", s.Replayed)})
	table.Append([]string{"succeeded", fmt.Sprintf("%d", s.Succeeded)})
	table.Append([]string{"failed", fmt.Sprintf("%d", s.Failed)})
	table.Append([]string{"mismatched", fmt.Sprintf("%d", s.Mismatched)})
	table.Render()

	renderCounts(w, "Tag", s.PerTag)
	renderCounts(w, "Package", s.PerPackage)
	renderCounts(w, "Error category", s.PerCategory)

	if len(s.FailureSamples) > 0 {
		ft := tablewriter.NewWriter(w)
		ft.SetHeader([]string{"Failed digest", "Category", "Tags"})
		for _, smp := range s.FailureSamples {
			ft.Append([]string{smp.Digest, smp.Category, fmt.Sprintf("%v", smp.Tags)})
		}
		ft.Render()
	}
}

func renderCounts(w io.Writer, header string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{header, "Count"})
	for _, k := range keys {
		table.Append([]string{k, fmt.Sprintf("%d", counts[k])})
	}
	table.Render()
}
