// Package config reads the process-wide environment knobs once at startup
// and caches them; per-call reads would show up on the hot fetch path.
package config

import (
	"sync"

	"github.com/spf13/viper"
)

// Env knob names. Each is an on/off toggle or a small integer.
const (
	EnvDebugLinkage            = "DEBUG_LINKAGE"
	EnvDebugDFFetch            = "DEBUG_DF_FETCH"
	EnvDFStrictCheckpoint      = "DF_STRICT_CHECKPOINT"
	EnvObjectFetchConcurrency  = "OBJECT_FETCH_CONCURRENCY"
	EnvPackageFetchConcurrency = "PACKAGE_FETCH_CONCURRENCY"
	EnvCheckpointLookupGraphQL = "CHECKPOINT_LOOKUP_GRAPHQL"
)

const (
	defaultObjectFetchConcurrency  = 8
	defaultPackageFetchConcurrency = 4
)

// Knobs is the decoded set of environment toggles.
type Knobs struct {
	DebugLinkage            bool
	DebugDFFetch            bool
	DFStrictCheckpoint      bool
	ObjectFetchConcurrency  int
	PackageFetchConcurrency int
	CheckpointLookupGraphQL bool
}

var (
	once  sync.Once
	knobs Knobs
)

func load() Knobs {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(EnvObjectFetchConcurrency, defaultObjectFetchConcurrency)
	v.SetDefault(EnvPackageFetchConcurrency, defaultPackageFetchConcurrency)

	k := Knobs{
		DebugLinkage:            v.GetBool(EnvDebugLinkage),
		DebugDFFetch:            v.GetBool(EnvDebugDFFetch),
		DFStrictCheckpoint:      v.GetBool(EnvDFStrictCheckpoint),
		ObjectFetchConcurrency:  v.GetInt(EnvObjectFetchConcurrency),
		PackageFetchConcurrency: v.GetInt(EnvPackageFetchConcurrency),
		CheckpointLookupGraphQL: v.GetBool(EnvCheckpointLookupGraphQL),
	}
	if k.ObjectFetchConcurrency < 1 {
		k.ObjectFetchConcurrency = defaultObjectFetchConcurrency
	}
	if k.PackageFetchConcurrency < 1 {
		k.PackageFetchConcurrency = defaultPackageFetchConcurrency
	}
	return k
}

// Get returns the cached knob set, reading the environment on first use.
func Get() Knobs {
	once.Do(func() { knobs = load() })
	return knobs
}

// Reload re-reads the environment. Intended for tests.
func Reload() Knobs {
	knobs = load()
	once.Do(func() {})
	return knobs
}

func DebugLinkage() bool            { return Get().DebugLinkage }
func DebugDFFetch() bool            { return Get().DebugDFFetch }
func DFStrictCheckpoint() bool      { return Get().DFStrictCheckpoint }
func ObjectFetchConcurrency() int   { return Get().ObjectFetchConcurrency }
func PackageFetchConcurrency() int  { return Get().PackageFetchConcurrency }
func CheckpointLookupGraphQL() bool { return Get().CheckpointLookupGraphQL }
