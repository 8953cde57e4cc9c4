// Package health implements the single canonical mapping from each
// subsystem's extended health reading to the basic status exposed
// externally, and the aggregation that rolls per-component checks into one
// report.
package health

import (
	"context"
	"sort"

	"marketdatagw/internal/errs"
	"marketdatagw/internal/orchestrator"
	"marketdatagw/internal/rulestore"
	"marketdatagw/internal/warmcache"
)

// ExtendedStatus is the internal, fine-grained health vocabulary.
type ExtendedStatus string

const (
	Healthy      ExtendedStatus = "healthy"
	Warning      ExtendedStatus = "warning"
	Unhealthy    ExtendedStatus = "unhealthy"
	Connected    ExtendedStatus = "connected"
	Degraded     ExtendedStatus = "degraded"
	Disconnected ExtendedStatus = "disconnected"
)

// BasicStatus is the external, three-value vocabulary surfaced over /health.
type BasicStatus string

const (
	BasicHealthy   BasicStatus = "healthy"
	BasicWarning   BasicStatus = "warning"
	BasicUnhealthy BasicStatus = "unhealthy"
)

// severity orders ExtendedStatus for worst-of aggregation across components.
func severity(s ExtendedStatus) int {
	switch s {
	case Healthy, Connected:
		return 0
	case Warning, Degraded:
		return 1
	default: // Unhealthy, Disconnected, and any unrecognized value
		return 2
	}
}

// ToBasic maps an extended status to the basic status:
// {healthy, connected} -> healthy; {warning, degraded} -> warning;
// {unhealthy, disconnected} -> unhealthy.
func ToBasic(ext ExtendedStatus) BasicStatus {
	switch severity(ext) {
	case 0:
		return BasicHealthy
	case 1:
		return BasicWarning
	default:
		return BasicUnhealthy
	}
}

// ComponentStatus is one subsystem's extended health reading.
type ComponentStatus struct {
	Name   string
	Status ExtendedStatus
	Detail string
}

// Checker probes one subsystem.
type Checker interface {
	Name() string
	Check(ctx context.Context) ComponentStatus
}

// Report is the aggregated result of running every registered Checker.
type Report struct {
	Components []ComponentStatus
	Overall    ExtendedStatus
	Basic      BasicStatus
}

// Aggregate runs every checker and rolls up to the worst observed status.
// Components are sorted by name so the report is deterministic for tests
// and for clients diffing successive polls.
func Aggregate(ctx context.Context, checkers []Checker) Report {
	components := make([]ComponentStatus, 0, len(checkers))
	worst := Healthy
	for _, c := range checkers {
		cs := c.Check(ctx)
		components = append(components, cs)
		if severity(cs.Status) > severity(worst) {
			worst = cs.Status
		}
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })
	return Report{Components: components, Overall: worst, Basic: ToBasic(worst)}
}

// cappedChecker wraps another Checker and clamps its contribution to the
// aggregate at Warning severity, for subsystems whose outage is a designed
// degraded-mode fallback (request traffic keeps being served from hot cache
// and origin) rather than a gateway-wide failure.
type cappedChecker struct{ inner Checker }

// CapAtWarning wraps inner so a Disconnected/Unhealthy reading never pushes
// the aggregate past Warning.
func CapAtWarning(inner Checker) Checker { return cappedChecker{inner: inner} }

func (c cappedChecker) Name() string { return c.inner.Name() }

func (c cappedChecker) Check(ctx context.Context) ComponentStatus {
	cs := c.inner.Check(ctx)
	if severity(cs.Status) > severity(Warning) {
		cs.Status = Warning
	}
	return cs
}

// warmCacheChecker reports C4's connection-level health via an active ping.
type warmCacheChecker struct{ cache *warmcache.Cache }

// WarmCacheChecker builds a Checker that actively pings the warm cache.
func WarmCacheChecker(cache *warmcache.Cache) Checker { return warmCacheChecker{cache: cache} }

func (w warmCacheChecker) Name() string { return "warm_cache" }

func (w warmCacheChecker) Check(ctx context.Context) ComponentStatus {
	if err := w.cache.HealthCheck(ctx); err != nil {
		return ComponentStatus{Name: w.Name(), Status: Disconnected, Detail: err.Error()}
	}
	return ComponentStatus{Name: w.Name(), Status: Connected}
}

// orchestratorChecker reports whether C8 has observed the warm tier failing
// and is currently running hot-cache-only (degraded mode).
type orchestratorChecker struct{ o *orchestrator.Orchestrator }

func OrchestratorChecker(o *orchestrator.Orchestrator) Checker { return orchestratorChecker{o: o} }

func (c orchestratorChecker) Name() string { return "orchestrator" }

func (c orchestratorChecker) Check(ctx context.Context) ComponentStatus {
	if c.o.WarmDegraded() {
		return ComponentStatus{Name: c.Name(), Status: Degraded, Detail: "serving hot-cache-only; warm writes are best-effort"}
	}
	return ComponentStatus{Name: c.Name(), Status: Healthy}
}

// ruleStoreChecker reports C6's durable-store connectivity via a ping.
type ruleStoreChecker struct{ store rulestore.Store }

func RuleStoreChecker(store rulestore.Store) Checker { return ruleStoreChecker{store: store} }

func (r ruleStoreChecker) Name() string { return "rule_store" }

// Check exercises the store with the cheapest possible real query: looking
// up a rule id that cannot exist distinguishes "store reachable, rule
// absent" (RuleNotFound, healthy) from "store unreachable" (any other error).
func (r ruleStoreChecker) Check(ctx context.Context) ComponentStatus {
	_, err := r.store.FindByID(ctx, 0)
	if err == nil || errs.Is(err, errs.RuleNotFound) {
		return ComponentStatus{Name: r.Name(), Status: Connected}
	}
	return ComponentStatus{Name: r.Name(), Status: Disconnected, Detail: err.Error()}
}
