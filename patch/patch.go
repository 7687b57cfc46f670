// Package patch reconciles the "current bytecode vs historical objects" gap
// by rewriting a small set of protocol-internal u64 fields inside object BCS.
// Rules are declarative and the default ruleset is empty; callers opt in.
package patch

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/clydemeng/sui-replay/types"
)

var logger = log.New("module", "patch")

// Kind enumerates the supported field rewrites.
type Kind uint8

const (
	SetVersion Kind = iota // write Rule.Version
	SetToTxTimestamp       // write Context.TxTimestampMS
	SetToFarFuture         // write farFutureMS
	SetToZero
)

// farFutureMS is 9999-12-31T23:59:59Z in milliseconds, far past any
// deadline a protocol object can carry.
const farFutureMS uint64 = 253_402_300_799_000

func (k Kind) String() string {
	switch k {
	case SetVersion:
		return "set_version"
	case SetToTxTimestamp:
		return "set_to_tx_timestamp"
	case SetToFarFuture:
		return "set_to_far_future"
	case SetToZero:
		return "set_to_zero"
	}
	return "unknown"
}

// Rule rewrites the u64 at Offset bytes into the BCS of any object whose
// type tag contains TypePattern. An object too short to hold the field is an
// unknown pattern and passes through unchanged.
type Rule struct {
	Name        string `yaml:"name"`
	TypePattern string `yaml:"type_pattern"`
	Kind        Kind   `yaml:"-"`
	Offset      int    `yaml:"offset"`
	Version     uint64 `yaml:"version,omitempty"` // SetVersion payload
}

// Context carries the per-transaction values rules can reference.
type Context struct {
	TxTimestampMS uint64
}

// Patcher applies a rule list and records per-rule hit counts.
type Patcher struct {
	mu    sync.Mutex
	rules []Rule
	hits  map[string]int
}

// New builds a patcher over the given rules. New() with no rules is the
// default: a patcher that never touches anything.
func New(rules ...Rule) *Patcher {
	return &Patcher{rules: rules, hits: make(map[string]int)}
}

// BuiltinRules is the optional ruleset for canonical protocol objects: the
// Sui clock's timestamp field (UID is 32 bytes, the timestamp u64 follows).
func BuiltinRules() []Rule {
	return []Rule{
		{Name: "clock-timestamp", TypePattern: "::clock::Clock", Kind: SetToTxTimestamp, Offset: types.AddressLength},
	}
}

// Rules returns the configured rules.
func (p *Patcher) Rules() []Rule { return append([]Rule(nil), p.rules...) }

// Hits returns a copy of the per-rule hit counts.
func (p *Patcher) Hits() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.hits))
	for k, v := range p.hits {
		out[k] = v
	}
	return out
}

// Apply patches the object in place and reports whether any rule changed it.
// Objects without a type tag are never patched; matching is a substring test
// on the type tag. Applying twice is a no-op the second time.
func (p *Patcher) Apply(obj *types.VersionedObject, ctx Context) bool {
	if obj == nil || obj.TypeTag == "" || len(p.rules) == 0 {
		return false
	}
	changed := false
	for i := range p.rules {
		rule := &p.rules[i]
		if !containsPattern(obj.TypeTag, rule.TypePattern) {
			continue
		}
		if rule.Offset < 0 || rule.Offset+8 > len(obj.BCS) {
			// Layout does not match the known protocol pattern.
			logger.Debug("patch rule skipped, field out of range", "rule", rule.Name, "id", obj.ID, "len", len(obj.BCS))
			continue
		}
		want := p.targetValue(rule, ctx)
		got := binary.LittleEndian.Uint64(obj.BCS[rule.Offset:])
		if got == want {
			continue
		}
		binary.LittleEndian.PutUint64(obj.BCS[rule.Offset:], want)
		changed = true
		p.mu.Lock()
		p.hits[rule.Name]++
		p.mu.Unlock()
		logger.Debug("patched object field", "rule", rule.Name, "id", obj.ID, "old", got, "new", want)
	}
	return changed
}

// ApplyAll patches every object in the map, returning how many objects were
// modified.
func (p *Patcher) ApplyAll(objects map[types.Address]*types.VersionedObject, ctx Context) int {
	patched := 0
	for _, obj := range objects {
		if p.Apply(obj, ctx) {
			patched++
		}
	}
	return patched
}

func (p *Patcher) targetValue(rule *Rule, ctx Context) uint64 {
	switch rule.Kind {
	case SetVersion:
		return rule.Version
	case SetToTxTimestamp:
		return ctx.TxTimestampMS
	case SetToFarFuture:
		return farFutureMS
	case SetToZero:
		return 0
	}
	return 0
}

func containsPattern(tag, pattern string) bool {
	return pattern != "" && strings.Contains(tag, pattern)
}

// Validate rejects a rule with no name, no pattern or a negative offset.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("patch rule without a name")
	}
	if r.TypePattern == "" {
		return fmt.Errorf("patch rule %s: empty type pattern", r.Name)
	}
	if r.Offset < 0 {
		return fmt.Errorf("patch rule %s: negative offset", r.Name)
	}
	return nil
}
