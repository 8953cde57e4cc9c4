package health

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"marketdatagw/internal/hotcache"
	"marketdatagw/internal/logging"
	"marketdatagw/internal/orchestrator"
	"marketdatagw/internal/rulestore"
	"marketdatagw/internal/serializer"
	"marketdatagw/internal/warmcache"
)

func TestToBasicMapping(t *testing.T) {
	assert.Equal(t, BasicHealthy, ToBasic(Healthy))
	assert.Equal(t, BasicHealthy, ToBasic(Connected))
	assert.Equal(t, BasicWarning, ToBasic(Warning))
	assert.Equal(t, BasicWarning, ToBasic(Degraded))
	assert.Equal(t, BasicUnhealthy, ToBasic(Unhealthy))
	assert.Equal(t, BasicUnhealthy, ToBasic(Disconnected))
}

func TestWarmCacheCheckerHealthyThenDisconnected(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	warm := warmcache.NewFromClient(client, warmcache.Config{CommandTimeout: time.Second})

	checker := WarmCacheChecker(warm)
	cs := checker.Check(context.Background())
	assert.Equal(t, Connected, cs.Status)

	mr.Close()
	cs = checker.Check(context.Background())
	assert.Equal(t, Disconnected, cs.Status)
}

func TestRuleStoreCheckerConnectedOnCleanMiss(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store := rulestore.NewGormStore(db, nil)
	require.NoError(t, store.AutoMigrate())

	checker := RuleStoreChecker(store)
	cs := checker.Check(context.Background())
	assert.Equal(t, Connected, cs.Status)
}

func TestOrchestratorCheckerReflectsWarmDegraded(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	warm := warmcache.NewFromClient(client, warmcache.Config{CommandTimeout: time.Second})
	hot := hotcache.New(16)
	codec, err := serializer.New("json")
	require.NoError(t, err)
	strategies := map[orchestrator.Strategy]orchestrator.StrategyConfig{
		orchestrator.StrategyStrong: {TTL: time.Second, OriginTimeout: time.Second},
	}
	o := orchestrator.New(hot, warm, codec, strategies, logging.Nop(), nil)

	checker := OrchestratorChecker(o)
	assert.Equal(t, Healthy, checker.Check(context.Background()).Status)

	mr.Close()
	origin := orchestrator.OriginFunc(func(ctx context.Context, fp string) (interface{}, error) {
		return "v", nil
	})
	_, _ = o.GetOrCompute(context.Background(), "fp", orchestrator.StrategyStrong, origin)

	assert.Equal(t, Degraded, checker.Check(context.Background()).Status)
}

func TestCapAtWarningClampsDisconnectedToWarning(t *testing.T) {
	checker := CapAtWarning(fakeChecker{name: "warm_cache", status: Disconnected})
	cs := checker.Check(context.Background())
	assert.Equal(t, "warm_cache", cs.Name)
	assert.Equal(t, Warning, cs.Status)
}

func TestAggregateWithDegradedWarmCacheStaysWarningNotUnhealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	warm := warmcache.NewFromClient(client, warmcache.Config{CommandTimeout: time.Second})
	hot := hotcache.New(16)
	codec, err := serializer.New("json")
	require.NoError(t, err)
	strategies := map[orchestrator.Strategy]orchestrator.StrategyConfig{
		orchestrator.StrategyStrong: {TTL: time.Second, OriginTimeout: time.Second},
	}
	o := orchestrator.New(hot, warm, codec, strategies, logging.Nop(), nil)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store := rulestore.NewGormStore(db, nil)
	require.NoError(t, store.AutoMigrate())

	mr.Close() // Redis down: warm cache reports Disconnected, orchestrator falls through to origin.
	origin := orchestrator.OriginFunc(func(ctx context.Context, fp string) (interface{}, error) {
		return "v", nil
	})
	_, _ = o.GetOrCompute(context.Background(), "fp", orchestrator.StrategyStrong, origin)

	checkers := []Checker{
		CapAtWarning(WarmCacheChecker(warm)),
		OrchestratorChecker(o),
		RuleStoreChecker(store),
	}
	report := Aggregate(context.Background(), checkers)

	assert.Equal(t, Warning, report.Overall)
	assert.Equal(t, BasicWarning, report.Basic)
}

func TestAggregateReportsWorstStatusAndIsSortedByName(t *testing.T) {
	checkers := []Checker{
		fakeChecker{name: "zzz", status: Healthy},
		fakeChecker{name: "aaa", status: Warning},
		fakeChecker{name: "mmm", status: Healthy},
	}
	report := Aggregate(context.Background(), checkers)

	assert.Equal(t, Warning, report.Overall)
	assert.Equal(t, BasicWarning, report.Basic)
	require.Len(t, report.Components, 3)
	assert.Equal(t, "aaa", report.Components[0].Name)
	assert.Equal(t, "mmm", report.Components[1].Name)
	assert.Equal(t, "zzz", report.Components[2].Name)
}

type fakeChecker struct {
	name   string
	status ExtendedStatus
}

func (f fakeChecker) Name() string { return f.name }
func (f fakeChecker) Check(ctx context.Context) ComponentStatus {
	return ComponentStatus{Name: f.name, Status: f.status}
}
