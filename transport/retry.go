package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/inconshreveable/log15"

	"github.com/clydemeng/sui-replay/types"
)

var retryLogger = log.New("module", "transport")

// RetryConfig bounds the retrying decorator.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig retries transient failures three times with a short
// exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

// Retrying wraps a Client and retries calls that fail with a
// *types.TransportError. NotFound and decode failures are permanent and
// returned immediately.
type Retrying struct {
	inner Client
	cfg   RetryConfig
}

var _ Client = (*Retrying)(nil)

// WithRetry decorates the client with bounded exponential retry.
func WithRetry(inner Client, cfg RetryConfig) *Retrying {
	return &Retrying{inner: inner, cfg: cfg}
}

func (r *Retrying) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval
	bo.MaxInterval = r.cfg.MaxInterval
	return backoff.WithContext(backoff.WithMaxRetries(bo, r.cfg.MaxRetries), ctx)
}

func retryFetch[T any](r *Retrying, ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var out T
	attempt := 0
	err := backoff.Retry(func() error {
		v, err := fn()
		if err != nil {
			if !types.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			attempt++
			retryLogger.Debug("retrying transport call", "op", op, "endpoint", r.inner.Endpoint(), "attempt", attempt, "err", err)
			return err
		}
		out = v
		return nil
	}, r.newBackOff(ctx))
	return out, err
}

func (r *Retrying) FetchObject(ctx context.Context, id types.Address, version *uint64) (*types.VersionedObject, error) {
	return retryFetch(r, ctx, "FetchObject", func() (*types.VersionedObject, error) {
		return r.inner.FetchObject(ctx, id, version)
	})
}

func (r *Retrying) FetchPackage(ctx context.Context, addr types.Address) (*types.Package, error) {
	return retryFetch(r, ctx, "FetchPackage", func() (*types.Package, error) {
		return r.inner.FetchPackage(ctx, addr)
	})
}

func (r *Retrying) FetchTransaction(ctx context.Context, digest string) (*types.Transaction, error) {
	return retryFetch(r, ctx, "FetchTransaction", func() (*types.Transaction, error) {
		return r.inner.FetchTransaction(ctx, digest)
	})
}

func (r *Retrying) FetchCheckpoint(ctx context.Context, seq uint64) (*types.Checkpoint, error) {
	return retryFetch(r, ctx, "FetchCheckpoint", func() (*types.Checkpoint, error) {
		return r.inner.FetchCheckpoint(ctx, seq)
	})
}

func (r *Retrying) FetchCheckpoints(ctx context.Context, seqs []uint64) ([]*types.Checkpoint, error) {
	return retryFetch(r, ctx, "FetchCheckpoints", func() ([]*types.Checkpoint, error) {
		return r.inner.FetchCheckpoints(ctx, seqs)
	})
}

func (r *Retrying) FetchPackageUpgrades(ctx context.Context, runtimeID types.Address) ([]PackageUpgrade, error) {
	return retryFetch(r, ctx, "FetchPackageUpgrades", func() ([]PackageUpgrade, error) {
		return r.inner.FetchPackageUpgrades(ctx, runtimeID)
	})
}

func (r *Retrying) ListDynamicFields(ctx context.Context, parent types.Address) ([]types.Address, error) {
	return retryFetch(r, ctx, "ListDynamicFields", func() ([]types.Address, error) {
		return r.inner.ListDynamicFields(ctx, parent)
	})
}

func (r *Retrying) Endpoint() string { return r.inner.Endpoint() }
