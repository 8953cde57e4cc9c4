package admin

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdatagw/internal/hotcache"
	"marketdatagw/internal/logging"
	"marketdatagw/internal/models"
	"marketdatagw/internal/rulecache"
	"marketdatagw/internal/rulestore"
	"marketdatagw/internal/serializer"
	"marketdatagw/internal/warmcache"
)

// fakeStore is a minimal in-memory rulestore.Store so admin tests never need
// a real database, mirroring the pattern used for orchestrator's OriginFetcher
// test doubles.
type fakeStore struct {
	rules               []models.Rule
	resetPresetCalls    int
	resetPresetErr      error
}

func (f *fakeStore) FindByID(ctx context.Context, id uint) (*models.Rule, error) { return nil, nil }
func (f *fakeStore) FindBestMatching(ctx context.Context, provider string, apiType models.ApiType, ruleListType models.RuleListType, marketType string) (*models.Rule, error) {
	return nil, nil
}

func (f *fakeStore) List(ctx context.Context, filter rulestore.Filter, page, limit int) ([]models.Rule, error) {
	if page != 1 {
		return nil, nil
	}
	return f.rules, nil
}

func (f *fakeStore) Create(ctx context.Context, rule *models.Rule) error { return nil }
func (f *fakeStore) Update(ctx context.Context, rule *models.Rule) error { return nil }
func (f *fakeStore) SetActive(ctx context.Context, id uint, active bool) error { return nil }
func (f *fakeStore) SetDefault(ctx context.Context, id uint) error { return nil }
func (f *fakeStore) Delete(ctx context.Context, id uint) error { return nil }
func (f *fakeStore) RecordApplication(ctx context.Context, id uint, success bool) error { return nil }

func (f *fakeStore) ResetPresetTemplateUsage(ctx context.Context) error {
	f.resetPresetCalls++
	return f.resetPresetErr
}

func newTestOps(t *testing.T, store rulestore.Store) (*Ops, *rulecache.Namespaces, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	warm := warmcache.NewFromClient(client, warmcache.Config{CommandTimeout: time.Second, ScanCount: 10, ScanIterationCap: 100})
	hot := hotcache.New(64)
	codec, err := serializer.New("json")
	require.NoError(t, err)
	cache := rulecache.New(hot, warm, codec, nil, logging.Nop(), time.Minute, time.Minute, nil)
	return New(store, cache, logging.Nop(), nil), cache, mr
}

func TestWarmupCachePopulatesRuleByIDAndBestRule(t *testing.T) {
	store := &fakeStore{rules: []models.Rule{
		{ID: 1, Provider: "longport", ApiType: models.ApiTypeRest, RuleListType: models.RuleListQuoteFields, MarketType: "HK", IsActive: true, IsDefault: true},
		{ID: 2, Provider: "longport", ApiType: models.ApiTypeRest, RuleListType: models.RuleListQuoteFields, MarketType: "HK", IsActive: true, IsDefault: false},
	}}
	ops, cache, _ := newTestOps(t, store)
	ctx := context.Background()

	result, err := ops.WarmupCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Considered)
	assert.Equal(t, 2, result.Warmed)

	rule, err := cache.GetByID(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, uint(1), rule.ID)

	best, err := cache.GetBestRule(ctx, "longport", string(models.ApiTypeRest), string(models.RuleListQuoteFields), "HK")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, uint(1), best.ID, "only the default rule should populate best-rule")
}

func TestClearAllRuleCacheDelegatesToNamespaces(t *testing.T) {
	store := &fakeStore{}
	ops, cache, _ := newTestOps(t, store)
	ctx := context.Background()

	rule := models.Rule{ID: 9, Provider: "futu", ApiType: models.ApiTypeRest}
	require.NoError(t, cache.SetByID(ctx, rule))

	n, err := ops.ClearAllRuleCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := cache.GetByID(ctx, "9")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInvalidateProviderDelegatesToNamespaces(t *testing.T) {
	store := &fakeStore{}
	ops, cache, _ := newTestOps(t, store)
	ctx := context.Background()

	require.NoError(t, cache.SetProviderRules(ctx, "longport", string(models.ApiTypeRest), []models.Rule{{ID: 1, Provider: "longport"}}))

	n, err := ops.InvalidateProvider(ctx, "longport")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rules, err := cache.GetProviderRules(ctx, "longport", string(models.ApiTypeRest))
	require.NoError(t, err)
	assert.Nil(t, rules)
}

func TestResetPresetTemplatesDelegatesToStore(t *testing.T) {
	store := &fakeStore{}
	ops, _, _ := newTestOps(t, store)

	require.NoError(t, ops.ResetPresetTemplates(context.Background()))
	assert.Equal(t, 1, store.resetPresetCalls)
}
