// Command sui-replay replays historical transactions against the local
// sandbox: one digest at a time, whole checkpoint ranges, or straight from a
// portable state snapshot file.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/clydemeng/sui-replay/cache"
	"github.com/clydemeng/sui-replay/core"
	"github.com/clydemeng/sui-replay/provider"
	"github.com/clydemeng/sui-replay/transport"
)

var logger = log.New("module", "cli")

func main() {
	app := &cli.App{
		Name:  "sui-replay",
		Usage: "local sandbox and historical replay for Sui transactions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "state",
				Aliases:  []string{"in"},
				Usage:    "replay state snapshot file (single state or array)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "cache",
				Usage: "persistent cache directory",
			},
			&cli.StringFlag{
				Name:  "fallback",
				Usage: "missing-object policy: require_historical | allow_graphql_current | synthesize_missing",
				Value: "require_historical",
			},
			&cli.StringFlag{
				Name:  "reconcile",
				Usage: "effects comparison: strict | dynamic_fields",
				Value: "strict",
			},
			&cli.IntFlag{Name: "prefetch-depth", Usage: "dynamic-field prefetch depth in plies"},
			&cli.IntFlag{Name: "prefetch-limit", Usage: "dynamic-field children per parent", Value: 64},
		},
		Commands: []*cli.Command{
			{
				Name:  "replay",
				Usage: "replay one transaction by digest",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "digest", Required: true},
				},
				Action: runReplay,
			},
			{
				Name:  "replay-checkpoints",
				Usage: "replay a checkpoint range with intra-checkpoint progression",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "from", Required: true},
					&cli.Uint64Flag{Name: "to", Required: true},
					&cli.StringFlag{Name: "digest-filter", Usage: "comma-separated digests to replay"},
					&cli.Uint64Flag{Name: "protocol-version", Value: 70},
				},
				Action: runBatch,
			},
			{
				Name:  "snapshot",
				Usage: "replay directly from the snapshot without provider hydration",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "digest", Usage: "state to select when the file holds several"},
				},
				Action: runSnapshot,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func buildPolicy(c *cli.Context) (provider.Policy, error) {
	policy := provider.DefaultPolicy()
	switch c.String("fallback") {
	case "require_historical":
		policy.Fallback = provider.RequireHistorical
	case "allow_graphql_current":
		policy.Fallback = provider.AllowGraphqlCurrent
	case "synthesize_missing":
		policy.Fallback = provider.SynthesizeMissing
	default:
		return policy, errors.Errorf("unknown fallback mode %q", c.String("fallback"))
	}
	if depth := c.Int("prefetch-depth"); depth > 0 {
		policy.Prefetch = &provider.PrefetchPolicy{
			Depth:                depth,
			Limit:                c.Int("prefetch-limit"),
			AllowGraphqlFallback: policy.Fallback != provider.RequireHistorical,
		}
	}
	return policy, nil
}

func buildReconcile(c *cli.Context) (core.ReconcilePolicy, error) {
	switch c.String("reconcile") {
	case "strict":
		return core.ReconcileStrict, nil
	case "dynamic_fields":
		return core.ReconcileDynamicFields, nil
	default:
		return core.ReconcileStrict, errors.Errorf("unknown reconcile mode %q", c.String("reconcile"))
	}
}

func buildProvider(c *cli.Context) (*provider.Provider, error) {
	client, err := transport.OpenSnapshotClient(c.String("state"))
	if err != nil {
		return nil, errors.Wrap(err, "open state snapshot")
	}
	dir := c.String("cache")
	if dir == "" {
		dir, err = os.MkdirTemp("", "sui-replay-cache-")
		if err != nil {
			return nil, errors.Wrap(err, "create scratch cache")
		}
	}
	store, err := cache.Open(dir)
	if err != nil {
		return nil, errors.Wrap(err, "open cache")
	}
	return provider.New(transport.WithRetry(client, transport.DefaultRetryConfig()), store), nil
}

func runReplay(c *cli.Context) error {
	policy, err := buildPolicy(c)
	if err != nil {
		return err
	}
	rp, err := buildReconcile(c)
	if err != nil {
		return err
	}
	p, err := buildProvider(c)
	if err != nil {
		return err
	}
	exec := core.NewExecutor(p)
	out, err := exec.Replay(c.Context, c.String("digest"), policy, rp)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runBatch(c *cli.Context) error {
	policy, err := buildPolicy(c)
	if err != nil {
		return err
	}
	rp, err := buildReconcile(c)
	if err != nil {
		return err
	}
	p, err := buildProvider(c)
	if err != nil {
		return err
	}

	var filter map[string]bool
	if raw := c.String("digest-filter"); raw != "" {
		filter = make(map[string]bool)
		for _, d := range strings.Split(raw, ",") {
			if d = strings.TrimSpace(d); d != "" {
				filter[d] = true
			}
		}
	}

	exec := core.NewExecutor(p)
	var opts []core.BatchOption
	if store := p.Store(); store != nil {
		if progress, perr := store.Progress(); perr == nil {
			opts = append(opts, core.WithProgress(progress))
		} else {
			logger.Warn("progress tracker unavailable", "err", perr)
		}
	}
	engine := core.NewBatchEngine(exec, p.Client(), opts...)
	summary, err := engine.Run(c.Context, core.BatchOptions{
		From:            c.Uint64("from"),
		To:              c.Uint64("to"),
		DigestFilter:    filter,
		Policy:          policy,
		Reconcile:       rp,
		ProtocolVersion: c.Uint64("protocol-version"),
	})
	if summary != nil {
		summary.RenderTable(os.Stdout)
	}
	return err
}

func runSnapshot(c *cli.Context) error {
	policy, err := buildPolicy(c)
	if err != nil {
		return err
	}
	rp, err := buildReconcile(c)
	if err != nil {
		return err
	}
	states, err := transport.LoadSnapshots(c.String("state"))
	if err != nil {
		return errors.Wrap(err, "load snapshot")
	}
	state, err := transport.SelectState(states, c.String("digest"))
	if err != nil {
		return err
	}
	exec := core.NewExecutor(nil)
	out, err := exec.ReplayState(c.Context, state, nil, policy, rp)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
