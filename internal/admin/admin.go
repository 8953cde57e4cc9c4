// Package admin implements the bulk, idempotent operator operations:
// warmupCache, clearAllRuleCache, invalidateProvider, and
// resetPresetTemplates. These are plain exported methods on Ops, not wired to
// any CLI framework or HTTP router — wiring a command surface over them is a
// future cmd/ entry point's job, not this package's.
package admin

import (
	"context"

	"go.uber.org/zap"

	"marketdatagw/internal/errs"
	"marketdatagw/internal/logging"
	"marketdatagw/internal/metrics"
	"marketdatagw/internal/rulecache"
	"marketdatagw/internal/rulestore"
)

// Ops composes the durable store and the rule cache so bulk operator actions
// can be driven without standing up the full gateway.
type Ops struct {
	store rulestore.Store
	cache *rulecache.Namespaces
	log   *zap.Logger
	m     *metrics.Metrics
}

// New constructs Ops. m may be nil to disable instrumentation.
func New(store rulestore.Store, cache *rulecache.Namespaces, log *zap.Logger, m *metrics.Metrics) *Ops {
	if log == nil {
		log = logging.Nop()
	}
	return &Ops{store: store, cache: cache, log: log, m: m}
}

func (o *Ops) emit(name string, tags map[string]string) {
	if o.m != nil {
		o.m.Emit(metrics.Event{Name: name, Tags: tags})
	}
}

func (o *Ops) recordError(err error) {
	o.emit("error", map[string]string{"kind": errs.KindOf(err).String()})
}

// WarmupResult reports how much of the active rule catalog was warmed.
type WarmupResult struct {
	Considered int
	Warmed     int
}

// WarmupCache loads every active rule from the durable store, in pages, and
// populates the rule cache with it. Individual rule failures are
// swallowed by rulecache.Warmup itself; WarmupCache only tracks how many
// rules it handed over.
func (o *Ops) WarmupCache(ctx context.Context) (WarmupResult, error) {
	const pageSize = 500
	active := true

	var result WarmupResult
	for page := 1; ; page++ {
		rules, err := o.store.List(ctx, rulestore.Filter{IsActive: &active}, page, pageSize)
		if err != nil {
			o.recordError(err)
			return result, err
		}
		if len(rules) == 0 {
			break
		}
		o.cache.Warmup(ctx, rules)
		result.Considered += len(rules)
		result.Warmed += len(rules)
		if len(rules) < pageSize {
			break
		}
	}

	o.log.Info("admin: warmup complete", logging.Op("admin.WarmupCache"), zap.Int("considered", result.Considered))
	return result, nil
}

// ClearAllRuleCache empties all three rule-cache namespaces across every
// gateway instance.
func (o *Ops) ClearAllRuleCache(ctx context.Context) (int, error) {
	n, err := o.cache.ClearAll(ctx)
	if err != nil {
		o.recordError(err)
		return n, err
	}
	o.log.Info("admin: rule cache cleared", logging.Op("admin.ClearAllRuleCache"), zap.Int("keysDeleted", n))
	return n, nil
}

// InvalidateProvider bulk-invalidates every cached entry for provider.
func (o *Ops) InvalidateProvider(ctx context.Context, provider string) (int, error) {
	n, err := o.cache.InvalidateProvider(ctx, provider)
	if err != nil {
		o.recordError(err)
		return n, err
	}
	o.log.Info("admin: provider invalidated", logging.Op("admin.InvalidateProvider"), zap.String("provider", provider), zap.Int("keysDeleted", n))
	return n, nil
}

// ResetPresetTemplates zeroes usage accounting on every preset
// DataSourceTemplate. It does not reseed template content — persisting
// preset definitions is out of this gateway's scope.
func (o *Ops) ResetPresetTemplates(ctx context.Context) error {
	if err := o.store.ResetPresetTemplateUsage(ctx); err != nil {
		o.recordError(err)
		return err
	}
	o.log.Info("admin: preset templates reset", logging.Op("admin.ResetPresetTemplates"))
	return nil
}
