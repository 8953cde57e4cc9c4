// Package rulecache implements C5: the three-namespace rule cache
// (rule-by-id, best-rule, provider-rules) composed over the hot cache (C3)
// and warm cache (C4), with coordinated invalidation, cross-instance
// pub/sub fan-out over go-redis PUBLISH/Subscribe, and warmup.
package rulecache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"marketdatagw/internal/errs"
	"marketdatagw/internal/fingerprint"
	"marketdatagw/internal/hotcache"
	"marketdatagw/internal/logging"
	"marketdatagw/internal/metrics"
	"marketdatagw/internal/models"
	"marketdatagw/internal/serializer"
	"marketdatagw/internal/warmcache"
)

const invalidationChannel = "rulecache:invalidate"

// InvalidationEvent is the payload published on invalidationChannel so every
// gateway instance's in-process shadow (C3) stays coherent.
type InvalidationEvent struct {
	Kind       string `json:"kind"` // "rule", "provider", "clear_all"
	RuleID     string `json:"ruleId,omitempty"`
	Provider   string `json:"provider,omitempty"`
	ApiType    string `json:"apiType,omitempty"`
}

// Auditor records coordinated invalidations for operability. Optional: a
// nil Auditor disables audit logging without affecting correctness.
type Auditor interface {
	Record(ctx context.Context, event InvalidationEvent) error
}

// Namespaces is C5: the three logical caches plus coordinated invalidation.
type Namespaces struct {
	hot   *hotcache.Cache // optional in-process shadow; may be nil
	warm  *warmcache.Cache
	codec serializer.Serializer
	keys  fingerprint.RuleKey
	log   *zap.Logger
	audit Auditor
	m     *metrics.Metrics

	shadowTTL time.Duration
	warmTTL   time.Duration
}

// New constructs the rule cache namespaces. hot may be nil to disable the
// in-process shadow, which is optional. m may be nil to disable
// instrumentation.
func New(hot *hotcache.Cache, warm *warmcache.Cache, codec serializer.Serializer, audit Auditor, log *zap.Logger, shadowTTL, warmTTL time.Duration, m *metrics.Metrics) *Namespaces {
	if log == nil {
		log = logging.Nop()
	}
	return &Namespaces{hot: hot, warm: warm, codec: codec, keys: fingerprint.RuleKey{}, log: log, audit: audit, shadowTTL: shadowTTL, warmTTL: warmTTL, m: m}
}

func (n *Namespaces) emit(name string, tags map[string]string) {
	if n.m != nil {
		n.m.Emit(metrics.Event{Name: name, Tags: tags})
	}
}

// --- rule-by-id ---

func (n *Namespaces) GetByID(ctx context.Context, id string) (*models.Rule, error) {
	key := n.keys.ByID(id)
	return n.getRule(ctx, key)
}

func (n *Namespaces) SetByID(ctx context.Context, rule models.Rule) error {
	key := n.keys.ByID(ruleIDString(rule))
	return n.setRule(ctx, key, rule)
}

func (n *Namespaces) InvalidateByID(ctx context.Context, id string) error {
	return n.invalidate(ctx, n.keys.ByID(id))
}

// --- best-rule ---

func (n *Namespaces) GetBestRule(ctx context.Context, provider, apiType, ruleListType, marketType string) (*models.Rule, error) {
	return n.getRule(ctx, n.keys.BestRule(provider, apiType, ruleListType, marketType))
}

func (n *Namespaces) SetBestRule(ctx context.Context, provider, apiType, ruleListType, marketType string, rule models.Rule) error {
	return n.setRule(ctx, n.keys.BestRule(provider, apiType, ruleListType, marketType), rule)
}

// --- provider-rules ---

func (n *Namespaces) GetProviderRules(ctx context.Context, provider, apiType string) ([]models.Rule, error) {
	key := n.keys.ProviderRules(provider, apiType)

	if n.hot != nil {
		if entry, ok := n.hot.Get(key); ok {
			var rules []models.Rule
			if err := n.codec.Decode(entry.Payload, &rules); err == nil {
				return rules, nil
			}
			n.hot.Delete(key)
		}
	}

	raw, ok, err := n.warm.Get(ctx, key)
	if err != nil {
		return nil, nil // degraded mode: treat warm timeout as miss
	}
	if !ok {
		return nil, nil
	}
	var rules []models.Rule
	if err := n.codec.Decode(raw, &rules); err != nil {
		return nil, nil
	}
	if n.hot != nil {
		if payload, encErr := n.codec.Encode(rules); encErr == nil {
			n.hot.Set(key, models.CacheEntry{Payload: payload, CreatedAt: time.Now()}, n.shadowTTL)
		}
	}
	return rules, nil
}

func (n *Namespaces) SetProviderRules(ctx context.Context, provider, apiType string, rules []models.Rule) error {
	key := n.keys.ProviderRules(provider, apiType)
	payload, err := n.codec.Encode(rules)
	if err != nil {
		return errs.E(errs.SerializationError, "rulecache.SetProviderRules", err)
	}
	if n.hot != nil {
		n.hot.Set(key, models.CacheEntry{Payload: payload, CreatedAt: time.Now()}, n.shadowTTL)
	}
	if err := n.warm.Set(ctx, key, payload, n.warmTTL); err != nil {
		n.log.Warn("rulecache: warm write-back failed, continuing degraded", logging.Op("rulecache.SetProviderRules"), zap.Error(err))
	}
	return nil
}

// --- coordinated invalidation ---

// OnRuleChanged invalidates rule-by-id(id), every best-rule key that could
// have matched rule's tuple (including marketType '*'), and
// provider-rules(provider, apiType), then publishes an InvalidationEvent so
// other instances' shadows stay coherent.
func (n *Namespaces) OnRuleChanged(ctx context.Context, rule models.Rule) error {
	keys := []string{
		n.keys.ByID(ruleIDString(rule)),
		n.keys.BestRule(rule.Provider, string(rule.ApiType), string(rule.RuleListType), rule.MarketType),
		n.keys.BestRule(rule.Provider, string(rule.ApiType), string(rule.RuleListType), models.AnyMarket),
		n.keys.ProviderRules(rule.Provider, string(rule.ApiType)),
	}
	for _, k := range keys {
		if err := n.invalidate(ctx, k); err != nil {
			return err
		}
	}

	evt := InvalidationEvent{Kind: "rule", RuleID: ruleIDString(rule), Provider: rule.Provider, ApiType: string(rule.ApiType)}
	n.publish(ctx, evt)
	n.emit("invalidation", map[string]string{"scope": "rule"})
	if n.audit != nil {
		_ = n.audit.Record(ctx, evt)
	}
	return nil
}

// InvalidateProvider bulk-invalidates every key matching the provider prefix
// via C4's SCAN-based delByPattern — never KEYS.
func (n *Namespaces) InvalidateProvider(ctx context.Context, provider string) (int, error) {
	pattern := n.keys.ProviderPrefix(provider)
	count, err := n.deleteProviderPattern(ctx, pattern)
	if err != nil {
		return count, err
	}

	evt := InvalidationEvent{Kind: "provider", Provider: provider}
	n.publish(ctx, evt)
	n.emit("invalidation", map[string]string{"scope": "provider"})
	if n.audit != nil {
		_ = n.audit.Record(ctx, evt)
	}
	return count, nil
}

// ClearAll bulk-invalidates every key across all three namespaces via C4's
// SCAN-based delByPattern, then broadcasts the reset so every instance's
// shadow clears too. Backs the clearAllRuleCache admin operation.
func (n *Namespaces) ClearAll(ctx context.Context) (int, error) {
	count, err := n.deleteProviderPattern(ctx, n.keys.AllPrefix())
	if err != nil {
		return count, err
	}

	evt := InvalidationEvent{Kind: "clear_all"}
	n.publish(ctx, evt)
	n.emit("invalidation", map[string]string{"scope": "all"})
	if n.audit != nil {
		_ = n.audit.Record(ctx, evt)
	}
	return count, nil
}

func (n *Namespaces) deleteProviderPattern(ctx context.Context, pattern string) (int, error) {
	if n.hot != nil {
		n.hot.DeletePattern(pattern)
	}
	count, err := n.warm.DelByPattern(ctx, pattern)
	if err != nil {
		n.log.Warn("rulecache: provider invalidation degraded", logging.Op("rulecache.InvalidateProvider"), zap.Error(err))
		return count, nil // degraded: local shadow is already clear; warm will expire by TTL
	}
	return count, nil
}

// Warmup populates rule-by-id and, for default rules, best-rule. Never
// blocks startup; individual failures are logged and skipped.
func (n *Namespaces) Warmup(ctx context.Context, rules []models.Rule) {
	for _, r := range rules {
		if err := n.SetByID(ctx, r); err != nil {
			n.log.Warn("rulecache: warmup rule-by-id failed, skipping", logging.Op("rulecache.Warmup"), zap.String("ruleId", ruleIDString(r)), zap.Error(err))
			continue
		}
		if r.IsDefault {
			if err := n.SetBestRule(ctx, r.Provider, string(r.ApiType), string(r.RuleListType), r.MarketType, r); err != nil {
				n.log.Warn("rulecache: warmup best-rule failed, skipping", logging.Op("rulecache.Warmup"), zap.String("ruleId", ruleIDString(r)), zap.Error(err))
				continue
			}
		}
		n.emit("rule_warmed", nil)
	}
}

// --- shared helpers ---

func (n *Namespaces) getRule(ctx context.Context, key string) (*models.Rule, error) {
	if n.hot != nil {
		if entry, ok := n.hot.Get(key); ok {
			var rule models.Rule
			if err := n.codec.Decode(entry.Payload, &rule); err == nil {
				return &rule, nil
			}
			n.hot.Delete(key) // decode failure: drop entry, count a miss
		}
	}

	raw, ok, err := n.warm.Get(ctx, key)
	if err != nil {
		return nil, nil // warm timeout treated as miss; orchestrator tracks degraded state
	}
	if !ok {
		return nil, nil
	}
	var rule models.Rule
	if err := n.codec.Decode(raw, &rule); err != nil {
		return nil, nil
	}
	if n.hot != nil {
		if payload, encErr := n.codec.Encode(rule); encErr == nil {
			n.hot.Set(key, models.CacheEntry{Payload: payload, CreatedAt: time.Now()}, n.shadowTTL)
		}
	}
	return &rule, nil
}

func (n *Namespaces) setRule(ctx context.Context, key string, rule models.Rule) error {
	payload, err := n.codec.Encode(rule)
	if err != nil {
		return errs.E(errs.SerializationError, "rulecache.setRule", err)
	}
	if n.hot != nil {
		n.hot.Set(key, models.CacheEntry{Payload: payload, CreatedAt: time.Now()}, n.shadowTTL)
	}
	if err := n.warm.Set(ctx, key, payload, n.warmTTL); err != nil {
		n.log.Warn("rulecache: warm write-back failed, continuing degraded", logging.Op("rulecache.setRule"), zap.Error(err))
	}
	return nil
}

// invalidate clears a key from both the shadow and warm tiers. An error
// invalidating warm is not propagated: invalidation correctness on C3 is
// what protects subsequent local reads, and warm's copy expires via TTL
// regardless.
func (n *Namespaces) invalidate(ctx context.Context, key string) error {
	if n.hot != nil {
		n.hot.Delete(key)
	}
	if err := n.warm.Del(ctx, key); err != nil {
		n.log.Warn("rulecache: warm invalidate failed, local shadow already cleared", logging.Op("rulecache.invalidate"), zap.Error(err))
	}
	return nil
}

func (n *Namespaces) publish(ctx context.Context, evt InvalidationEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := n.warm.PublishInvalidation(ctx, invalidationChannel, payload); err != nil {
		n.log.Warn("rulecache: invalidation publish failed, other instances may see stale shadow briefly",
			logging.Op("rulecache.publish"), zap.Error(err))
	}
}

// SubscribeInvalidations starts a goroutine draining invalidationChannel and
// clearing matching keys from the local hot-cache shadow. Intended to be
// called once at startup; stops when ctx is cancelled. It is a no-op when
// either the hot-cache shadow or the warm cache is nil.
func (n *Namespaces) SubscribeInvalidations(ctx context.Context) {
	if n.hot == nil || n.warm == nil {
		return
	}
	pubsub := n.warm.Subscribe(ctx, invalidationChannel)
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt InvalidationEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				n.applyRemoteInvalidation(evt)
			}
		}
	}()
}

func (n *Namespaces) applyRemoteInvalidation(evt InvalidationEvent) {
	switch evt.Kind {
	case "rule":
		n.hot.Delete(n.keys.ByID(evt.RuleID))
		n.hot.DeletePattern(n.keys.BestRule(evt.Provider, evt.ApiType, "*", "*"))
		n.hot.DeletePattern(n.keys.ProviderRules(evt.Provider, evt.ApiType))
	case "provider":
		n.hot.DeletePattern(n.keys.ProviderPrefix(evt.Provider))
	case "clear_all":
		n.hot.DeletePattern(n.keys.AllPrefix())
	}
}

func ruleIDString(r models.Rule) string {
	return strconv.FormatUint(uint64(r.ID), 10)
}
