package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "suireplay_provider_fetches_total",
		Help: "Replay state fetches by kind and source.",
	}, []string{"kind", "source"})

	fallbackCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "suireplay_provider_fallbacks_total",
		Help: "Policy-gated fallback uses by mode.",
	}, []string{"mode"})

	prefetchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "suireplay_provider_prefetch_total",
		Help: "Dynamic-field prefetch outcomes.",
	}, []string{"outcome"})
)
