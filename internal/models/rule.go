package models

import "time"

// ApiType distinguishes REST from streaming rule applications.
type ApiType string

const (
	ApiTypeRest   ApiType = "rest"
	ApiTypeStream ApiType = "stream"
)

// RuleListType determines the target schema the mapping engine emits.
type RuleListType string

const (
	RuleListQuoteFields     RuleListType = "quote_fields"
	RuleListBasicInfoFields RuleListType = "basic_info_fields"
	RuleListIndexFields     RuleListType = "index_fields"
)

// AnyMarket is the wildcard market-type value ('*').
const AnyMarket = "*"

// Transform identifies a numeric/string operator applied to a resolved field.
type Transform string

const (
	TransformMultiply Transform = "multiply"
	TransformDivide   Transform = "divide"
	TransformAdd      Transform = "add"
	TransformSubtract Transform = "subtract"
	TransformFormat   Transform = "format"
)

// FieldMapping describes how to resolve and transform one output field.
type FieldMapping struct {
	ID              uint   `gorm:"primaryKey"`
	RuleID          uint   `gorm:"index"`
	SourceFieldPath string `gorm:"column:source_field_path"`
	FallbackPaths   StringSlice `gorm:"column:fallback_paths;type:text"`
	TargetField     string  `gorm:"column:target_field"`
	Transform       Transform `gorm:"column:transform"`
	Operand         string    `gorm:"column:operand"` // scalar or template operand, stringly-typed
	Confidence      float64   `gorm:"column:confidence"`
	IsActive        bool      `gorm:"column:is_active"`
	IsRequired      bool      `gorm:"column:is_required"`
	Description     string    `gorm:"column:description"`
}

// Rule is the durable mapping-rule record (C6) and the payload cached by C5.
//
// Invariants: at most one IsDefault=true per (Provider,ApiType,RuleListType,MarketType);
// SuccessRate = Successful/(Successful+Failed) when the denominator is > 0, else 0;
// OverallConfidence = mean(FieldMappings[].Confidence), computed on write
// (internal/rulestore's computeOverallConfidence, called from Create and Update)
// and never recomputed on read.
type Rule struct {
	ID                        uint         `gorm:"primaryKey"`
	Name                      string       `gorm:"column:name;index"`
	Provider                  string       `gorm:"column:provider;index"`
	ApiType                   ApiType      `gorm:"column:api_type"`
	RuleListType              RuleListType `gorm:"column:rule_list_type"`
	MarketType                string       `gorm:"column:market_type"`
	IsActive                  bool         `gorm:"column:is_active"`
	IsDefault                 bool         `gorm:"column:is_default"`
	OverallConfidence         float64      `gorm:"column:overall_confidence"`
	UsageCount                int64        `gorm:"column:usage_count"`
	SuccessfulTransformations int64        `gorm:"column:successful_transformations"`
	FailedTransformations     int64        `gorm:"column:failed_transformations"`
	SuccessRate               float64      `gorm:"column:success_rate"`
	LastUsedAt                *time.Time   `gorm:"column:last_used_at"`
	SourceTemplateID          *uint        `gorm:"column:source_template_id"`
	FieldMappings             []FieldMapping `gorm:"foreignKey:RuleID"`
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// TableName pins the gorm table name to an explicit plural snake_case name.
func (Rule) TableName() string { return "mapping_rules" }

func (FieldMapping) TableName() string { return "mapping_rule_fields" }

// Tuple identifies the (provider, apiType, ruleListType, marketType) group
// the uniqueness and best-matching invariants are scoped to.
type Tuple struct {
	Provider     string
	ApiType      ApiType
	RuleListType RuleListType
	MarketType   string
}

func (r Rule) Tuple() Tuple {
	return Tuple{Provider: r.Provider, ApiType: r.ApiType, RuleListType: r.RuleListType, MarketType: r.MarketType}
}

// DataSourceTemplate seeds rule generation; never consulted at hot-path time.
type DataSourceTemplate struct {
	ID              uint    `gorm:"primaryKey"`
	Name            string  `gorm:"column:name"`
	Provider        string  `gorm:"column:provider"`
	ApiType         ApiType `gorm:"column:api_type"`
	SampleData      string  `gorm:"column:sample_data;type:text"`
	ExtractedFields StringSlice `gorm:"column:extracted_fields;type:text"`
	Confidence      float64 `gorm:"column:confidence"`
	IsDefault       bool    `gorm:"column:is_default"`
	IsPreset        bool    `gorm:"column:is_preset"`
	UsageCount      int64   `gorm:"column:usage_count"`
	LastUsedAt      *time.Time `gorm:"column:last_used_at"`
}

func (DataSourceTemplate) TableName() string { return "data_source_templates" }
