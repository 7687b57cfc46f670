package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/clydemeng/sui-replay/types"
)

// Classifier tags. A transaction can carry several.
const (
	TagFrameworkOnly    = "framework_only"
	TagAppCall          = "app_call"
	TagPublish          = "publish"
	TagUpgrade          = "upgrade"
	TagShared           = "shared"
	TagReceiving        = "receiving"
	TagCrossPackage     = "cross_package"
	TagSimpleCmdsOnly   = "simple_cmds_only"
	TagTrivialFramework = "trivial_framework"
)

// Classify derives the tag set from the transaction shape alone. It is a
// pure function: no state, no network.
func Classify(tx *types.Transaction) []string {
	var tags []string

	frameworkOnly := true
	nonSystem := make(map[types.Address]struct{})
	for _, pkg := range tx.MoveCallPackages() {
		if pkg.IsSystemPackage() {
			continue
		}
		frameworkOnly = false
		nonSystem[pkg] = struct{}{}
	}
	if frameworkOnly {
		tags = append(tags, TagFrameworkOnly)
	} else {
		tags = append(tags, TagAppCall)
	}

	var publish, upgrade, simple bool
	simple = true
	for _, cmd := range tx.Commands {
		switch cmd.Kind {
		case types.CommandPublish:
			publish = true
			simple = false
		case types.CommandUpgrade:
			upgrade = true
			simple = false
		case types.CommandMoveCall, types.CommandSplitCoins, types.CommandMergeCoins,
			types.CommandTransferObjects, types.CommandMakeMoveVec:
		default:
			simple = false
		}
	}
	if publish {
		tags = append(tags, TagPublish)
	}
	if upgrade {
		tags = append(tags, TagUpgrade)
	}

	var shared, receiving bool
	for _, in := range tx.Inputs {
		switch in.Kind {
		case types.InputSharedObject:
			shared = true
		case types.InputReceiving:
			receiving = true
		}
	}
	if shared {
		tags = append(tags, TagShared)
	}
	if receiving {
		tags = append(tags, TagReceiving)
	}
	if len(nonSystem) > 1 {
		tags = append(tags, TagCrossPackage)
	}
	if simple {
		tags = append(tags, TagSimpleCmdsOnly)
	}
	if frameworkOnly && simple && !publish && !upgrade && !shared {
		tags = append(tags, TagTrivialFramework)
	}
	return tags
}

// NonSystemPackages lists the distinct application packages a transaction
// calls into, in first-appearance order. Used for per-package aggregation.
func NonSystemPackages(tx *types.Transaction) []types.Address {
	var out []types.Address
	for _, pkg := range tx.MoveCallPackages() {
		if !pkg.IsSystemPackage() {
			out = append(out, pkg)
		}
	}
	return out
}

// Error categories keyed on failure message shape. ABORTED carries the code.
const (
	CatDeserialize       = "FAILED_TO_DESERIALIZE_ARGUMENT"
	CatLookupFailed      = "LOOKUP_FAILED"
	CatVerifier          = "UNEXPECTED_VERIFIER_ERROR"
	CatInsufficientGas   = "INSUFFICIENT_BALANCE"
	CatLinker            = "LINKER_ERROR"
	CatFunctionNotFound  = "FUNCTION_NOT_FOUND"
	CatObjectNotFound    = "OBJECT_NOT_FOUND"
	CatDFChildMissing    = "DF_CHILD_MISSING"
	CatUnsupportedNative = "UNSUPPORTED_NATIVE"
	CatOther             = "OTHER"
)

var abortCodeRE = regexp.MustCompile(`move abort (\d+)`)

// CategorizeError buckets a failure message. Substring matching mirrors the
// message conventions the harness and resolver emit; the abort code, when
// present, is folded into the category so per-code aggregation works.
func CategorizeError(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case msg == "":
		return ""
	case strings.Contains(lower, "failed to deserialize argument"):
		return CatDeserialize
	case strings.Contains(lower, "lookup failed"):
		return CatLookupFailed
	case strings.Contains(lower, "verifier"):
		return CatVerifier
	case strings.Contains(lower, "unsupported native"):
		return CatUnsupportedNative
	case strings.Contains(lower, "insufficient balance"):
		return CatInsufficientGas
	case strings.Contains(lower, "unused value without drop"):
		return CatVerifier
	case strings.Contains(lower, "linker"):
		return CatLinker
	case strings.Contains(lower, "function") && strings.Contains(lower, "not found"):
		return CatFunctionNotFound
	case strings.Contains(lower, "dynamic field child missing"):
		return CatDFChildMissing
	case strings.Contains(lower, "missing object"), strings.Contains(lower, "object") && strings.Contains(lower, "not found"):
		return CatObjectNotFound
	case abortCodeRE.MatchString(lower):
		m := abortCodeRE.FindStringSubmatch(lower)
		return fmt.Sprintf("ABORTED(%s)", m[1])
	default:
		return CatOther
	}
}
