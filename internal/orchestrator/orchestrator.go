// Package orchestrator implements C8: the smart cache orchestrator. It
// dispatches each request to a freshness strategy, fans out across the hot
// (C3) and warm (C4) tiers, and coalesces concurrent origin calls for the
// same fingerprint behind a single-flight guard using
// golang.org/x/sync/singleflight.Group, whose Do/DoChan API gives
// cancellation-of-follower-without-canceling-leader semantics without manual
// sync.WaitGroup bookkeeping.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"marketdatagw/internal/errs"
	"marketdatagw/internal/hotcache"
	"marketdatagw/internal/logging"
	"marketdatagw/internal/metrics"
	"marketdatagw/internal/models"
	"marketdatagw/internal/serializer"
	"marketdatagw/internal/warmcache"
)

// Strategy selects the freshness/TTL budget for a lookup. The string values
// match the request-level freshness class.
type Strategy string

const (
	StrategyStrong Strategy = "STRONG_TIMELINESS"
	StrategyWeak   Strategy = "WEAK_TIMELINESS"
	StrategyNone   Strategy = "NONE"
)

// StrategyConfig bounds the TTL and origin-call budget for one strategy.
type StrategyConfig struct {
	TTL           time.Duration
	OriginTimeout time.Duration
}

// Source identifies which tier answered a GetOrCompute call.
type Source string

const (
	SourceHot    Source = "hot"
	SourceWarm   Source = "warm"
	SourceOrigin Source = "origin"
)

// Result is what GetOrCompute returns on success.
type Result struct {
	Value  interface{}
	Source Source
}

// OriginFetcher resolves a fingerprint against the source of truth — a
// provider call that may internally invoke the mapping engine (C7) and
// rule cache/store (C5/C6). Implementations are supplied by the caller
// (one per endpoint or provider), keeping this package free of any
// knowledge of providers, HTTP, or WebSockets.
type OriginFetcher interface {
	Fetch(ctx context.Context, fingerprint string) (interface{}, error)
}

// OriginFunc adapts a plain function to OriginFetcher.
type OriginFunc func(ctx context.Context, fingerprint string) (interface{}, error)

func (f OriginFunc) Fetch(ctx context.Context, fingerprint string) (interface{}, error) {
	return f(ctx, fingerprint)
}

// Orchestrator is C8. It owns no goroutines of its own — the hot-cache
// sweep timer runs independently of request workers.
type Orchestrator struct {
	hot   *hotcache.Cache
	warm  *warmcache.Cache
	codec serializer.Serializer
	log   *zap.Logger
	m     *metrics.Metrics

	strategies map[Strategy]StrategyConfig
	sf         singleflight.Group

	warmDegraded atomic.Bool
}

// New constructs an Orchestrator. strategies must contain entries for
// StrategyStrong and StrategyWeak; StrategyNone never consults either cache.
// m may be nil to disable instrumentation.
func New(hot *hotcache.Cache, warm *warmcache.Cache, codec serializer.Serializer, strategies map[Strategy]StrategyConfig, log *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	o := &Orchestrator{hot: hot, warm: warm, codec: codec, strategies: strategies, log: log, m: m}
	o.warmDegraded.Store(warm == nil || !warm.Available())
	return o
}

func (o *Orchestrator) emit(name string, tags map[string]string) {
	if o.m != nil {
		o.m.Emit(metrics.Event{Name: name, Tags: tags})
	}
}

// WarmDegraded reports whether the warm tier has been observed failing and
// the orchestrator is proceeding hot-cache-only (surfaced in /health by
// internal/health).
func (o *Orchestrator) WarmDegraded() bool { return o.warmDegraded.Load() }

const opGetOrCompute = "orchestrator.GetOrCompute"

// GetOrCompute implements the hot → warm → single-flight-guarded origin →
// write-back lookup sequence. StrategyNone bypasses both caches and never
// writes back.
func (o *Orchestrator) GetOrCompute(ctx context.Context, fingerprint string, strategy Strategy, origin OriginFetcher) (Result, error) {
	if strategy == StrategyNone {
		v, err := origin.Fetch(ctx, fingerprint)
		if err != nil {
			return Result{}, errs.E(errs.OriginError, opGetOrCompute, err)
		}
		return Result{Value: v, Source: SourceOrigin}, nil
	}

	cfg, ok := o.strategies[strategy]
	if !ok {
		return Result{}, errs.E(errs.InvariantViolation, opGetOrCompute, errUnknownStrategy(strategy))
	}

	if entry, ok := o.hot.Get(fingerprint); ok {
		var v interface{}
		if err := o.codec.Decode(entry.Payload, &v); err == nil {
			o.emit("cache_hit", map[string]string{"tier": "hot"})
			return Result{Value: v, Source: SourceHot}, nil
		}
		o.hot.Delete(fingerprint) // decode failure: drop entry, count a miss
	}
	o.emit("cache_miss", map[string]string{"tier": "hot"})

	if raw, found, err := o.warm.Get(ctx, fingerprint); err != nil {
		o.warmDegraded.Store(true)
		o.log.Warn("orchestrator: warm lookup degraded, falling through to origin",
			logging.Op(opGetOrCompute), zap.String("fingerprint", fingerprint), zap.Error(err))
	} else {
		o.warmDegraded.Store(false)
		if found {
			var v interface{}
			if err := o.codec.Decode(raw, &v); err == nil {
				o.hot.Set(fingerprint, models.CacheEntry{Payload: raw, CreatedAt: time.Now()}, cfg.TTL)
				o.emit("cache_hit", map[string]string{"tier": "warm"})
				o.emit("cache_set", map[string]string{"tier": "hot"})
				return Result{Value: v, Source: SourceWarm}, nil
			}
			// warm payload undecodable: treat as miss, fall through to origin.
		}
	}
	o.emit("cache_miss", map[string]string{"tier": "warm"})

	resultCh := o.sf.DoChan(fingerprint, func() (interface{}, error) {
		return o.resolveFromOrigin(fingerprint, strategy, cfg, origin)
	})

	select {
	case <-ctx.Done():
		return Result{}, errs.E(errs.Other, opGetOrCompute, ctx.Err())
	case res := <-resultCh:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return Result{Value: res.Val, Source: SourceOrigin}, nil
	}
}

// resolveFromOrigin is the single-flight leader's body. It runs against a
// context independent of any one caller's cancellation — the leader still
// completes and populates the cache even if every follower's request is
// abandoned — bounded only by the strategy's own origin timeout.
func (o *Orchestrator) resolveFromOrigin(fingerprint string, strategy Strategy, cfg StrategyConfig, origin OriginFetcher) (interface{}, error) {
	octx, cancel := context.WithTimeout(context.Background(), cfg.OriginTimeout)
	defer cancel()

	start := time.Now()
	v, err := origin.Fetch(octx, fingerprint)
	if o.m != nil {
		o.m.ObserveOriginLatency(string(strategy), time.Since(start).Seconds())
	}
	if err != nil {
		if octx.Err() != nil {
			o.emit("error", map[string]string{"kind": errs.OriginTimeout.String()})
			return nil, errs.E(errs.OriginTimeout, opGetOrCompute, err)
		}
		o.emit("error", map[string]string{"kind": errs.OriginError.String()})
		return nil, errs.E(errs.OriginError, opGetOrCompute, err)
	}

	payload, err := o.codec.Encode(v)
	if err != nil {
		o.emit("error", map[string]string{"kind": errs.SerializationError.String()})
		return nil, errs.E(errs.SerializationError, opGetOrCompute, err)
	}

	if err := o.warm.Set(context.Background(), fingerprint, payload, cfg.TTL); err != nil {
		o.warmDegraded.Store(true)
		o.log.Warn("orchestrator: warm write-back failed, continuing degraded",
			logging.Op(opGetOrCompute), zap.String("fingerprint", fingerprint), zap.Error(err))
	} else {
		o.warmDegraded.Store(false)
		o.emit("cache_set", map[string]string{"tier": "warm"})
	}

	o.hot.Set(fingerprint, models.CacheEntry{Payload: payload, CreatedAt: time.Now()}, cfg.TTL)
	o.emit("cache_set", map[string]string{"tier": "hot"})
	return v, nil
}

type errUnknownStrategy Strategy

func (e errUnknownStrategy) Error() string { return "orchestrator: no StrategyConfig for " + string(e) }
