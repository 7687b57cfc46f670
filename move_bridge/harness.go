package movebridge

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	log "github.com/inconshreveable/log15"

	"github.com/clydemeng/sui-replay/gas"
	"github.com/clydemeng/sui-replay/resolver"
	"github.com/clydemeng/sui-replay/types"
)

// ChildFetcher resolves a dynamic-field child the VM requests mid-execution.
// It is called synchronously and must return within the call. A nil object
// with nil error means the child does not exist under the replay's
// constraints.
type ChildFetcher func(ctx context.Context, id types.Address) (*types.VersionedObject, error)

// Harness drives one PTB execution over a private object store. Owned by a
// single executor; never shared across goroutines.
type Harness struct {
	cfg     SimulationConfig
	res     *resolver.Resolver
	aliases *resolver.AliasMap
	natives *NativeTable
	store   *objectStore
	fetcher ChildFetcher
	logger  log.Logger

	gasCoins []types.Address
	gasValue *Value

	txDigest     string
	ctx          context.Context
	meter        *gas.Meter
	events       int
	freshCounter uint64
}

// NewHarness builds a harness for one execution context. The native table
// defaults to DefaultNativeTable and is frozen at first execution.
func NewHarness(cfg SimulationConfig, opts ...HarnessOption) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Harness{
		cfg:     cfg,
		res:     resolver.New(nil, nil),
		natives: DefaultNativeTable(),
		store:   newObjectStore(),
		logger:  log.New("module", "movebridge"),
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// HarnessOption mutates a harness at construction.
type HarnessOption func(*Harness)

// WithNativeTable replaces the default capability table.
func WithNativeTable(t *NativeTable) HarnessOption {
	return func(h *Harness) { h.natives = t }
}

// SetResolver installs the session module resolver.
func (h *Harness) SetResolver(r *resolver.Resolver) { h.res = r }

// SetAddressAliasesWithVersions installs the storage-to-runtime rewrites
// applied to every type tag during resolution, plus the version each
// identity was observed at.
func (h *Harness) SetAddressAliasesWithVersions(aliases map[types.Address]types.Address, versions map[types.Address]uint64) {
	m := resolver.NewAliasMap()
	for addr, v := range versions {
		m.Versions[addr] = v
	}
	for storage, runtime := range aliases {
		m.StorageToRuntime[storage] = runtime
		// Keep the newest storage identity per runtime id so type tags
		// written against the original address resolve forward.
		if cur, ok := m.LinkageUpgrades[runtime]; !ok || m.Versions[cur] < m.Versions[storage] {
			m.LinkageUpgrades[runtime] = storage
		}
	}
	h.aliases = m
}

// AddInputObject preloads one object the VM will observe.
func (h *Harness) AddInputObject(obj *types.VersionedObject) {
	h.store.addInput(obj)
}

// SetChildFetcher installs the on-demand dynamic-field callback.
func (h *Harness) SetChildFetcher(f ChildFetcher) { h.fetcher = f }

// SetTxDigest seeds fresh-id derivation so created object ids are stable
// for a given replay.
func (h *Harness) SetTxDigest(digest string) { h.txDigest = digest }

// SetGasPayment declares the gas coins; the first one backs the GasCoin
// argument.
func (h *Harness) SetGasPayment(keys []types.ObjectKey) {
	h.gasCoins = h.gasCoins[:0]
	for _, k := range keys {
		h.gasCoins = append(h.gasCoins, k.ID)
	}
}

// Timestamp is the replayed transaction's clock reading.
func (h *Harness) Timestamp() uint64 { return h.cfg.TxTimestampMS }

// EmitEvent counts one event toward the effects summary.
func (h *Harness) EmitEvent() { h.events++ }

// FreshAddress derives a deterministic new object id from the transaction
// digest and a per-execution counter.
func (h *Harness) FreshAddress() types.Address {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h.freshCounter)
	h.freshCounter++
	sum := sha256.Sum256(append([]byte(h.txDigest), buf[:]...))
	return types.Address(sum)
}

// Object returns the tracked object, pulling dynamic-field children through
// the fetcher on first touch.
func (h *Harness) Object(id types.Address) (*types.VersionedObject, error) {
	if e, ok := h.store.get(id); ok {
		return e.obj, nil
	}
	if h.fetcher != nil {
		child, err := h.fetcher(h.execCtx(), id)
		if err != nil {
			return nil, err
		}
		if child != nil {
			h.store.addInput(child)
			return h.store.entries[id].obj, nil
		}
	}
	return nil, fmt.Errorf("dynamic field child missing: %s", id.Short())
}

// MutateObject rewrites an object's contents and journals the mutation.
func (h *Harness) MutateObject(id types.Address, bcs []byte) error {
	e, ok := h.store.get(id)
	if !ok {
		return &types.MissingObjectError{ID: id}
	}
	e.obj.BCS = bcs
	if !e.created {
		e.mutated = true
	}
	return nil
}

// CreateObject tracks a freshly constructed object and returns its value.
func (h *Harness) CreateObject(obj *types.VersionedObject) Value {
	h.store.create(obj)
	return ObjectValue(obj.ID)
}

// TransferTo reassigns ownership and journals the transfer. Shared and
// immutable objects have no transferable owner.
func (h *Harness) TransferTo(id types.Address, recipient types.Address) error {
	e, ok := h.store.get(id)
	if !ok {
		return &types.MissingObjectError{ID: id}
	}
	switch e.obj.EffectiveOwner().Kind {
	case types.OwnerShared:
		return fmt.Errorf("cannot transfer shared object %s", id.Short())
	case types.OwnerImmutable:
		return fmt.Errorf("cannot transfer immutable object %s", id.Short())
	}
	owner := types.AddressOwner(recipient)
	e.obj.Owner = &owner
	e.transferred = true
	if !e.created {
		e.mutated = true
	}
	return nil
}

// ShareObject converts an owned object into a shared one.
func (h *Harness) ShareObject(id types.Address) error {
	e, ok := h.store.get(id)
	if !ok {
		return &types.MissingObjectError{ID: id}
	}
	e.obj.IsShared = true
	owner := types.SharedOwner(e.obj.Version)
	e.obj.Owner = &owner
	if !e.created {
		e.mutated = true
	}
	return nil
}

// DeleteObject journals a deletion.
func (h *Harness) DeleteObject(id types.Address) error {
	e, ok := h.store.get(id)
	if !ok {
		return &types.MissingObjectError{ID: id}
	}
	e.deleted = true
	return nil
}

func (h *Harness) consumeObject(v Value) { v.markConsumed() }

func (h *Harness) execCtx() context.Context {
	if h.ctx != nil {
		return h.ctx
	}
	return context.Background()
}

func (h *Harness) rewriteTag(tag string) string {
	if h.aliases != nil {
		return h.aliases.RewriteTypeTag(tag)
	}
	return h.res.Aliases().RewriteTypeTag(tag)
}

// ExecutePTB runs the command sequence over the preloaded store and
// assembles the execution record. It never returns an error: failures are
// reported through the result, and every execution yields well-formed
// effects.
func (h *Harness) ExecutePTB(ctx context.Context, inputs []types.PtbInput, commands []types.PtbCommand) *types.ReplayExecution {
	h.ctx = ctx
	h.natives.Freeze()
	h.meter = gas.NewMeter(gas.TableForVersion(h.cfg.CostTableVersion), h.cfg.GasPrice, h.cfg.ReferenceGasPrice)

	if len(h.gasCoins) > 0 {
		v := ObjectValue(h.gasCoins[0])
		h.gasValue = &v
	}

	var (
		execErr    error
		failedIdx  *int
		failedDesc string
		results    [][]Value
		returnLens []int
		commandsOK int
	)

	inputVals, err := h.bindInputs(inputs)
	if err != nil {
		execErr = err
	} else {
		for i := range commands {
			cmd := &commands[i]
			h.meter.ChargeCommand(cmd)
			vals, err := h.execCommand(cmd, inputVals, results)
			if err != nil {
				execErr = err
				idx := i
				failedIdx = &idx
				failedDesc = cmd.Describe()
				break
			}
			results = append(results, vals)
			returnLens = append(returnLens, len(vals))
			commandsOK++
		}
	}
	if execErr == nil {
		execErr = h.checkUnusedValues(results)
	}

	effects := h.finalize(execErr, failedIdx, failedDesc, commandsOK, returnLens)
	result := types.ReplayResult{
		LocalSuccess:     execErr == nil,
		CommandsExecuted: commandsOK,
	}
	if execErr != nil {
		result.LocalError = execErr.Error()
	}
	return &types.ReplayExecution{
		Result:         result,
		Effects:        *effects,
		ObjectVersions: h.store.versions(),
	}
}

// bindInputs materializes the PTB input slots as values, requiring every
// object input to have been preloaded.
func (h *Harness) bindInputs(inputs []types.PtbInput) ([]Value, error) {
	vals := make([]Value, len(inputs))
	for i, in := range inputs {
		if !in.IsObject() {
			vals[i] = PureValue(in.Pure)
			continue
		}
		e, ok := h.store.get(in.ID)
		if !ok {
			return nil, &types.MissingObjectError{ID: in.ID, Version: in.Version}
		}
		if in.Kind == types.InputReceiving {
			e.received = true
		}
		vals[i] = ObjectValue(in.ID)
	}
	return vals, nil
}

func (h *Harness) resolveArg(a types.Argument, inputs []Value, results [][]Value) (Value, error) {
	switch a.Kind {
	case types.ArgGasCoin:
		if h.gasValue == nil {
			return Value{}, fmt.Errorf("lookup failed: no gas payment declared")
		}
		return *h.gasValue, nil
	case types.ArgInput:
		if int(a.Index) >= len(inputs) {
			return Value{}, fmt.Errorf("lookup failed: input %d out of range", a.Index)
		}
		return inputs[a.Index], nil
	case types.ArgResult:
		if int(a.Index) >= len(results) {
			return Value{}, fmt.Errorf("lookup failed: result %d not yet produced", a.Index)
		}
		if len(results[a.Index]) != 1 {
			return Value{}, fmt.Errorf("lookup failed: command %d produced %d values, want 1", a.Index, len(results[a.Index]))
		}
		return h.checkLive(results[a.Index][0])
	case types.ArgNestedResult:
		if int(a.Index) >= len(results) || int(a.Nested) >= len(results[a.Index]) {
			return Value{}, fmt.Errorf("lookup failed: nested result (%d,%d) out of range", a.Index, a.Nested)
		}
		return h.checkLive(results[a.Index][a.Nested])
	}
	return Value{}, fmt.Errorf("lookup failed: unknown argument kind %d", a.Kind)
}

func (h *Harness) checkLive(v Value) (Value, error) {
	if v.isConsumed() {
		return Value{}, fmt.Errorf("lookup failed: value already consumed")
	}
	return v, nil
}

func (h *Harness) resolveArgs(args []types.Argument, inputs []Value, results [][]Value) ([]Value, error) {
	out := make([]Value, len(args))
	for i, a := range args {
		v, err := h.resolveArg(a, inputs, results)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *Harness) execCommand(cmd *types.PtbCommand, inputs []Value, results [][]Value) ([]Value, error) {
	switch cmd.Kind {
	case types.CommandMoveCall:
		return h.execMoveCall(cmd, inputs, results)
	case types.CommandSplitCoins:
		return h.execSplitCoins(cmd, inputs, results)
	case types.CommandMergeCoins:
		return nil, h.execMergeCoins(cmd, inputs, results)
	case types.CommandTransferObjects:
		return nil, h.execTransferObjects(cmd, inputs, results)
	case types.CommandMakeMoveVec:
		return h.execMakeMoveVec(cmd, inputs, results)
	case types.CommandPublish:
		return h.execPublish(cmd)
	case types.CommandUpgrade:
		return h.execUpgrade(cmd, inputs, results)
	}
	return nil, fmt.Errorf("unknown command kind %d", cmd.Kind)
}

func (h *Harness) execMoveCall(cmd *types.PtbCommand, inputs []Value, results [][]Value) ([]Value, error) {
	_, resolved, err := h.res.Lookup(nil, cmd.Package, cmd.Module)
	if err != nil {
		return nil, err
	}
	modulePath := resolved.String() + "::" + cmd.Module

	typeArgs := make([]string, len(cmd.TypeArgs))
	for i, tag := range cmd.TypeArgs {
		typeArgs[i] = h.rewriteTag(tag)
	}
	args, err := h.resolveArgs(cmd.Args, inputs, results)
	if err != nil {
		return nil, err
	}

	capability, impl := h.natives.Lookup(modulePath, cmd.Function)
	switch capability {
	case Unsupported:
		// Simulated natives abort with the distinguished code; the bridge
		// catches it here so the gap surfaces as a typed error instead of a
		// bare abort.
		abort := &types.MoveAbortError{Code: types.UnsupportedNativeAbortCode, Location: modulePath + "::" + cmd.Function}
		return nil, h.mapAbort(abort, modulePath, cmd.Function)
	case RealImpl, VmExtension:
		vals, err := impl(h, typeArgs, args)
		if err != nil {
			if abort, ok := err.(*types.MoveAbortError); ok {
				return nil, h.mapAbort(abort, modulePath, cmd.Function)
			}
			return nil, err
		}
		return vals, nil
	default:
		h.logger.Debug("mocked move call", "target", modulePath+"::"+cmd.Function)
		return nil, nil
	}
}

// mapAbort rewrites the distinguished unsupported-native abort into its
// typed error; every other abort passes through unchanged.
func (h *Harness) mapAbort(abort *types.MoveAbortError, modulePath, fn string) error {
	if abort.Code == types.UnsupportedNativeAbortCode {
		h.logger.Debug("unsupported native", "target", abort.Location)
		return &types.UnsupportedNativeError{Module: modulePath, Function: fn}
	}
	return abort
}

func (h *Harness) execSplitCoins(cmd *types.PtbCommand, inputs []Value, results [][]Value) ([]Value, error) {
	coinVal, err := h.resolveArg(cmd.Coin, inputs, results)
	if err != nil {
		return nil, err
	}
	id, ok := coinVal.ObjectID()
	if !ok {
		return nil, fmt.Errorf("failed to deserialize argument: SplitCoins source is not an object")
	}
	e, found := h.store.get(id)
	if !found {
		return nil, &types.MissingObjectError{ID: id}
	}
	if !types.IsCoinType(e.obj.TypeTag) {
		return nil, fmt.Errorf("failed to deserialize argument: SplitCoins source %s is not a coin", id.Short())
	}
	balance, err := types.CoinBalance(e.obj.BCS)
	if err != nil {
		return nil, err
	}

	amounts, err := h.resolveArgs(cmd.Amounts, inputs, results)
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, len(amounts))
	for _, av := range amounts {
		amt, err := av.U64()
		if err != nil {
			return nil, err
		}
		if amt > balance {
			return nil, fmt.Errorf("insufficient balance: split %d from %d", amt, balance)
		}
		balance -= amt

		newID := h.FreshAddress()
		bcs, err := types.EncodeCoin(newID, amt)
		if err != nil {
			return nil, err
		}
		out = append(out, h.CreateObject(&types.VersionedObject{
			ID:      newID,
			TypeTag: e.obj.TypeTag,
			BCS:     bcs,
		}))
	}

	rewritten, err := types.SetCoinBalance(e.obj.BCS, balance)
	if err != nil {
		return nil, err
	}
	if err := h.MutateObject(id, rewritten); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Harness) execMergeCoins(cmd *types.PtbCommand, inputs []Value, results [][]Value) error {
	dstVal, err := h.resolveArg(cmd.Coin, inputs, results)
	if err != nil {
		return err
	}
	dstID, ok := dstVal.ObjectID()
	if !ok {
		return fmt.Errorf("failed to deserialize argument: MergeCoins destination is not an object")
	}
	dst, found := h.store.get(dstID)
	if !found {
		return &types.MissingObjectError{ID: dstID}
	}
	balance, err := types.CoinBalance(dst.obj.BCS)
	if err != nil {
		return err
	}

	sources, err := h.resolveArgs(cmd.Sources, inputs, results)
	if err != nil {
		return err
	}
	for _, sv := range sources {
		sid, ok := sv.ObjectID()
		if !ok {
			return fmt.Errorf("failed to deserialize argument: MergeCoins source is not an object")
		}
		src, found := h.store.get(sid)
		if !found {
			return &types.MissingObjectError{ID: sid}
		}
		b, err := types.CoinBalance(src.obj.BCS)
		if err != nil {
			return err
		}
		balance += b
		if err := h.DeleteObject(sid); err != nil {
			return err
		}
		sv.markConsumed()
	}

	rewritten, err := types.SetCoinBalance(dst.obj.BCS, balance)
	if err != nil {
		return err
	}
	return h.MutateObject(dstID, rewritten)
}

func (h *Harness) execTransferObjects(cmd *types.PtbCommand, inputs []Value, results [][]Value) error {
	recVal, err := h.resolveArg(cmd.Recipient, inputs, results)
	if err != nil {
		return err
	}
	recipient, err := recVal.Address()
	if err != nil {
		return err
	}
	objs, err := h.resolveArgs(cmd.Objects, inputs, results)
	if err != nil {
		return err
	}
	for _, ov := range objs {
		id, ok := ov.ObjectID()
		if !ok {
			return fmt.Errorf("failed to deserialize argument: TransferObjects argument is not an object")
		}
		if err := h.TransferTo(id, recipient); err != nil {
			return err
		}
		ov.markConsumed()
	}
	return nil
}

func (h *Harness) execMakeMoveVec(cmd *types.PtbCommand, inputs []Value, results [][]Value) ([]Value, error) {
	elems, err := h.resolveArgs(cmd.Elems, inputs, results)
	if err != nil {
		return nil, err
	}
	for _, ev := range elems {
		if _, ok := ev.ObjectID(); ok {
			ev.markConsumed()
		}
	}
	return []Value{vectorValue(elems)}, nil
}

func (h *Harness) execPublish(cmd *types.PtbCommand) ([]Value, error) {
	if len(cmd.ModuleBytes) == 0 {
		return nil, fmt.Errorf("publish: no modules")
	}
	pkgID := h.FreshAddress()
	h.store.create(&types.VersionedObject{
		ID:          pkgID,
		TypeTag:     "package",
		IsImmutable: true,
	})

	capID := h.FreshAddress()
	bcs := make([]byte, 0, 2*types.AddressLength+9)
	bcs = append(bcs, capID[:]...)
	bcs = append(bcs, pkgID[:]...)
	bcs = binary.LittleEndian.AppendUint64(bcs, 1)
	bcs = append(bcs, 0) // compatible upgrade policy
	owner := types.AddressOwner(h.cfg.Sender)
	capVal := h.CreateObject(&types.VersionedObject{
		ID:      capID,
		TypeTag: types.SuiFrameworkAddress.String() + "::package::UpgradeCap",
		BCS:     bcs,
		Owner:   &owner,
	})
	return []Value{capVal}, nil
}

func (h *Harness) execUpgrade(cmd *types.PtbCommand, inputs []Value, results [][]Value) ([]Value, error) {
	if len(cmd.ModuleBytes) == 0 {
		return nil, fmt.Errorf("upgrade: no modules")
	}
	ticket, err := h.resolveArg(cmd.Ticket, inputs, results)
	if err != nil {
		return nil, err
	}
	if _, ok := ticket.ObjectID(); ok {
		ticket.markConsumed()
	}
	newPkg := h.FreshAddress()
	h.store.create(&types.VersionedObject{
		ID:          newPkg,
		TypeTag:     "package",
		IsImmutable: true,
	})
	return []Value{receiptValue(newPkg)}, nil
}

// checkUnusedValues rejects executions that leave an undroppable object
// value dangling on the result stack.
func (h *Harness) checkUnusedValues(results [][]Value) error {
	for _, vals := range results {
		for _, v := range vals {
			id, ok := v.ObjectID()
			if !ok || v.isConsumed() {
				continue
			}
			e, found := h.store.get(id)
			if !found {
				continue
			}
			if !e.deleted && !e.transferred && !e.obj.IsShared {
				return fmt.Errorf("unused value without drop: %s", id.Short())
			}
		}
	}
	return nil
}

// finalize journals storage gas, assigns lamport versions and assembles the
// effects summary. On failure only the gas coin mutates.
func (h *Harness) finalize(execErr error, failedIdx *int, failedDesc string, commandsOK int, returnLens []int) *types.TransactionEffectsSummary {
	lamport := h.store.maxInputVersion() + 1
	effects := &types.TransactionEffectsSummary{
		Success:             execErr == nil,
		EventsCount:         h.events,
		CommandsSucceeded:   commandsOK,
		ReturnValuesLengths: returnLens,
		FailedCommandIndex:  failedIdx,
	}
	if execErr != nil {
		effects.Error = execErr.Error()
		effects.FailedCommandDescription = failedDesc
	}

	if execErr != nil {
		h.store.rollback()
	}

	var gasCoin *entry
	if len(h.gasCoins) > 0 {
		if e, ok := h.store.get(h.gasCoins[0]); ok {
			gasCoin = e
			// The gas coin always mutates: the charge is deducted even when
			// execution fails.
			if !gasCoin.created {
				gasCoin.mutated = true
			}
		}
	}

	if execErr == nil {
		h.store.iterate(func(id types.Address, e *entry) {
			switch {
			case e.created && e.deleted:
				// Ephemeral: created and destroyed inside one execution.
			case e.created:
				e.obj.Version = lamport
				effects.Created = append(effects.Created, types.ObjectKey{ID: id, Version: lamport})
				h.meter.ChargeStorage(len(e.obj.BCS))
			case e.deleted:
				effects.Deleted = append(effects.Deleted, types.ObjectKey{ID: id, Version: lamport})
				h.meter.ReleaseStorage(e.inputSize)
			case e.mutated:
				e.obj.Version = lamport
				effects.Mutated = append(effects.Mutated, types.ObjectKey{ID: id, Version: lamport})
				h.meter.ChargeStorage(len(e.obj.BCS))
				h.meter.ReleaseStorage(e.inputSize)
			}
			if e.wrapped {
				effects.Wrapped = append(effects.Wrapped, types.ObjectKey{ID: id, Version: lamport})
			}
			if e.unwrapped {
				effects.Unwrapped = append(effects.Unwrapped, types.ObjectKey{ID: id, Version: lamport})
			}
			if e.transferred {
				effects.Transferred = append(effects.Transferred, types.ObjectKey{ID: id, Version: e.obj.Version})
			}
			if e.received {
				effects.Received = append(effects.Received, types.ObjectKey{ID: id, Version: e.inputVersion})
			}
		})
		sortKeys(effects.Created)
		sortKeys(effects.Mutated)
		sortKeys(effects.Deleted)
	} else if gasCoin != nil {
		gasCoin.obj.Version = lamport
		effects.Mutated = append(effects.Mutated, types.ObjectKey{ID: gasCoin.obj.ID, Version: lamport})
		h.meter.ChargeStorage(len(gasCoin.obj.BCS))
		h.meter.ReleaseStorage(gasCoin.inputSize)
	}

	effects.GasUsed = h.meter.Summary()

	if gasCoin != nil && types.IsCoinType(gasCoin.obj.TypeTag) {
		if balance, err := types.CoinBalance(gasCoin.obj.BCS); err == nil {
			total := effects.GasUsed.Total()
			if total > balance {
				total = balance
			}
			if rewritten, err := types.SetCoinBalance(gasCoin.obj.BCS, balance-total); err == nil {
				gasCoin.obj.BCS = rewritten
			}
		}
	}
	return effects
}
