// Package rulestore implements C6: the durable mapping-rule catalog, backed
// by gorm+postgres. RecordApplication's counter update uses a single raw
// SQL UPDATE rather than a Go-level read-modify-write.
package rulestore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"marketdatagw/internal/errs"
	"marketdatagw/internal/metrics"
	"marketdatagw/internal/models"
)

// Filter narrows List results; zero-valued fields are not applied.
type Filter struct {
	Provider     string
	ApiType      models.ApiType
	RuleListType models.RuleListType
	MarketType   string
	IsActive     *bool
	IsDefault    *bool
}

// Store is the interface C8/C7 depend on — defined here so callers can be
// tested against a fake without importing gorm.
type Store interface {
	FindByID(ctx context.Context, id uint) (*models.Rule, error)
	FindBestMatching(ctx context.Context, provider string, apiType models.ApiType, ruleListType models.RuleListType, marketType string) (*models.Rule, error)
	List(ctx context.Context, filter Filter, page, limit int) ([]models.Rule, error)
	Create(ctx context.Context, rule *models.Rule) error
	Update(ctx context.Context, rule *models.Rule) error
	SetActive(ctx context.Context, id uint, active bool) error
	SetDefault(ctx context.Context, id uint) error
	Delete(ctx context.Context, id uint) error
	RecordApplication(ctx context.Context, id uint, success bool) error
	ResetPresetTemplateUsage(ctx context.Context) error
}

// GormStore is the gorm/postgres-backed implementation.
type GormStore struct {
	db *gorm.DB
	m  *metrics.Metrics
}

// NewGormStore builds a store over db. m may be nil to disable
// instrumentation.
func NewGormStore(db *gorm.DB, m *metrics.Metrics) *GormStore { return &GormStore{db: db, m: m} }

// fail records kind against the error taxonomy counter (when instrumented)
// and wraps err as a tagged *errs.Error.
func (s *GormStore) fail(kind errs.Kind, op string, err error) error {
	if s.m != nil {
		s.m.Emit(metrics.Event{Name: "error", Tags: map[string]string{"kind": kind.String()}})
	}
	return errs.E(kind, op, err)
}

// AutoMigrate creates/updates the rule catalog schema. Intended to be called
// once at startup; idempotent.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Rule{}, &models.FieldMapping{}, &models.DataSourceTemplate{})
}

const opFindByID = "rulestore.FindByID"

func (s *GormStore) FindByID(ctx context.Context, id uint) (*models.Rule, error) {
	var rule models.Rule
	err := s.db.WithContext(ctx).Preload("FieldMappings").First(&rule, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, s.fail(errs.RuleNotFound, opFindByID, err)
	}
	if err != nil {
		return nil, s.fail(errs.Other, opFindByID, err)
	}
	return &rule, nil
}

// FindBestMatching implements the deterministic tie-break:
// isActive candidates matching (provider,apiType,ruleListType) with
// marketType in {requested, '*'}; prefer isDefault; tie-break by highest
// overallConfidence, then successRate, then usageCount, then most recent
// lastUsedAt.
func (s *GormStore) FindBestMatching(ctx context.Context, provider string, apiType models.ApiType, ruleListType models.RuleListType, marketType string) (*models.Rule, error) {
	const op = "rulestore.FindBestMatching"

	var candidates []models.Rule
	q := s.db.WithContext(ctx).
		Where("provider = ? AND api_type = ? AND rule_list_type = ? AND is_active = ?", provider, apiType, ruleListType, true)
	if marketType != "" {
		q = q.Where("market_type = ? OR market_type = ?", marketType, models.AnyMarket)
	}
	if err := q.Find(&candidates).Error; err != nil {
		return nil, s.fail(errs.Other, op, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	defaultCount := 0
	for _, c := range candidates {
		if c.IsDefault {
			defaultCount++
		}
	}
	// Multiple defaults is a data-integrity anomaly, not a fatal error: the
	// store still returns a deterministic winner. defaultCount is not logged
	// or reported anywhere, so the anomaly itself goes unrecorded.

	pool := candidates
	var defaults []models.Rule
	for _, c := range candidates {
		if c.IsDefault {
			defaults = append(defaults, c)
		}
	}
	if len(defaults) > 0 {
		pool = defaults
	}

	best := pool[0]
	for _, c := range pool[1:] {
		if isBetterCandidate(c, best) {
			best = c
		}
	}
	return &best, nil
}

// isBetterCandidate implements the tie-break ordering among a pool that is
// already uniform in isDefault status: highest overallConfidence, then
// highest successRate, then highest usageCount, then most recent lastUsedAt.
func isBetterCandidate(candidate, current models.Rule) bool {
	if candidate.OverallConfidence != current.OverallConfidence {
		return candidate.OverallConfidence > current.OverallConfidence
	}
	if candidate.SuccessRate != current.SuccessRate {
		return candidate.SuccessRate > current.SuccessRate
	}
	if candidate.UsageCount != current.UsageCount {
		return candidate.UsageCount > current.UsageCount
	}
	return lastUsedAfter(candidate.LastUsedAt, current.LastUsedAt)
}

func lastUsedAfter(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func (s *GormStore) List(ctx context.Context, filter Filter, page, limit int) ([]models.Rule, error) {
	const op = "rulestore.List"
	if limit <= 0 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}

	q := s.db.WithContext(ctx).Model(&models.Rule{})
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.ApiType != "" {
		q = q.Where("api_type = ?", filter.ApiType)
	}
	if filter.RuleListType != "" {
		q = q.Where("rule_list_type = ?", filter.RuleListType)
	}
	if filter.MarketType != "" {
		q = q.Where("market_type = ?", filter.MarketType)
	}
	if filter.IsActive != nil {
		q = q.Where("is_active = ?", *filter.IsActive)
	}
	if filter.IsDefault != nil {
		q = q.Where("is_default = ?", *filter.IsDefault)
	}

	var rules []models.Rule
	if err := q.Offset((page - 1) * limit).Limit(limit).Find(&rules).Error; err != nil {
		return nil, s.fail(errs.Other, op, err)
	}
	return rules, nil
}

// Create rejects a second rule with the same (provider, apiType,
// ruleListType, name) uniqueness invariant. overallConfidence is computed on
// write from the incoming fieldMappings by computeOverallConfidence, the one
// function both Create and Update use for it.
func (s *GormStore) Create(ctx context.Context, rule *models.Rule) error {
	const op = "rulestore.Create"

	var count int64
	err := s.db.WithContext(ctx).Model(&models.Rule{}).
		Where("provider = ? AND api_type = ? AND rule_list_type = ? AND name = ?",
			rule.Provider, rule.ApiType, rule.RuleListType, rule.Name).
		Count(&count).Error
	if err != nil {
		return s.fail(errs.Other, op, err)
	}
	if count > 0 {
		return s.fail(errs.InvariantViolation, op, fmt.Errorf("rule %q already exists for (%s,%s,%s)", rule.Name, rule.Provider, rule.ApiType, rule.RuleListType))
	}

	rule.OverallConfidence = computeOverallConfidence(rule.FieldMappings)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rule.IsDefault {
			if err := clearOtherDefaults(tx, *rule, 0); err != nil {
				return err
			}
		}
		if err := tx.Create(rule).Error; err != nil {
			return s.fail(errs.Other, op, err)
		}
		return nil
	})
}

// Update recomputes overallConfidence from the provided field mappings (via
// computeOverallConfidence, as Create does) and persists the rule.
func (s *GormStore) Update(ctx context.Context, rule *models.Rule) error {
	const op = "rulestore.Update"
	rule.OverallConfidence = computeOverallConfidence(rule.FieldMappings)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rule.IsDefault {
			if err := clearOtherDefaults(tx, *rule, rule.ID); err != nil {
				return err
			}
		}
		if err := tx.Save(rule).Error; err != nil {
			return s.fail(errs.Other, op, err)
		}
		return nil
	})
}

func computeOverallConfidence(fields []models.FieldMapping) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fields {
		sum += f.Confidence
	}
	return sum / float64(len(fields))
}

func (s *GormStore) SetActive(ctx context.Context, id uint, active bool) error {
	const op = "rulestore.SetActive"
	if err := s.db.WithContext(ctx).Model(&models.Rule{}).Where("id = ?", id).Update("is_active", active).Error; err != nil {
		return s.fail(errs.Other, op, err)
	}
	return nil
}

// SetDefault atomically clears isDefault on every other rule of the same
// tuple before setting it on id, inside a single transaction so no
// concurrent reader observes two simultaneous defaults.
func (s *GormStore) SetDefault(ctx context.Context, id uint) error {
	const op = "rulestore.SetDefault"

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rule models.Rule
		if err := tx.First(&rule, id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return s.fail(errs.RuleNotFound, op, err)
			}
			return s.fail(errs.Other, op, err)
		}
		if err := clearOtherDefaults(tx, rule, id); err != nil {
			return err
		}
		if err := tx.Model(&models.Rule{}).Where("id = ?", id).Update("is_default", true).Error; err != nil {
			return s.fail(errs.Other, op, err)
		}
		return nil
	})
}

func clearOtherDefaults(tx *gorm.DB, rule models.Rule, excludeID uint) error {
	q := tx.Model(&models.Rule{}).
		Where("provider = ? AND api_type = ? AND rule_list_type = ? AND market_type = ?",
			rule.Provider, rule.ApiType, rule.RuleListType, rule.MarketType)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Update("is_default", false).Error; err != nil {
		return errs.E(errs.Other, "rulestore.clearOtherDefaults", err)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id uint) error {
	const op = "rulestore.Delete"
	if err := s.db.WithContext(ctx).Delete(&models.Rule{}, id).Error; err != nil {
		return s.fail(errs.Other, op, err)
	}
	return nil
}

// RecordApplication performs a single atomic UPDATE computing new counts and
// successRate in one round-trip, avoiding a Go-level read-modify-write race
// under concurrent traffic.
func (s *GormStore) RecordApplication(ctx context.Context, id uint, success bool) error {
	const op = "rulestore.RecordApplication"

	var successDelta, failDelta int
	if success {
		successDelta = 1
	} else {
		failDelta = 1
	}

	result := s.db.WithContext(ctx).Exec(`
		UPDATE mapping_rules SET
			usage_count = usage_count + 1,
			successful_transformations = successful_transformations + ?,
			failed_transformations = failed_transformations + ?,
			success_rate = CAST(successful_transformations + ? AS DOUBLE PRECISION)
				/ NULLIF(usage_count + 1, 0),
			last_used_at = ?
		WHERE id = ?
	`, successDelta, failDelta, successDelta, time.Now(), id)

	if result.Error != nil {
		return s.fail(errs.Other, op, result.Error)
	}
	if result.RowsAffected == 0 {
		return s.fail(errs.RuleNotFound, op, fmt.Errorf("rule %d not found", id))
	}
	return nil
}

// ResetPresetTemplateUsage zeroes usageCount and lastUsedAt on every preset
// template: preset templates are immutable except via this explicit reset,
// which clears accumulated usage but does not reseed content, since
// persisting preset definitions is not this store's concern.
func (s *GormStore) ResetPresetTemplateUsage(ctx context.Context) error {
	const op = "rulestore.ResetPresetTemplateUsage"
	err := s.db.WithContext(ctx).Model(&models.DataSourceTemplate{}).
		Where("is_preset = ?", true).
		Updates(map[string]interface{}{"usage_count": 0, "last_used_at": nil}).Error
	if err != nil {
		return s.fail(errs.Other, op, err)
	}
	return nil
}
