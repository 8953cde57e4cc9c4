// Package fingerprint derives deterministic cache keys from request tuples
// (C1) and builds the structured key grammar used by the rule cache
// namespaces (C5) and rule store (C6).
package fingerprint

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"marketdatagw/internal/errs"
)

// CompressedPrefix is the reserved framing token that may never appear inside
// a fingerprint.
const CompressedPrefix = "COMPRESSED::"

// Request is the tuple a fingerprint is derived from.
type Request struct {
	Operation string
	Symbol    string
	Provider  string
	Market    string
	ApiType   string
	Options   map[string]interface{}
}

// Limits bounds option canonicalization (mirrors config.Limits so this
// package has no import-cycle dependency on internal/config).
type Limits struct {
	MaxObjectDepth  int
	MaxObjectFields int
}

const op = "fingerprint.Derive"

// Derive produces a deterministic string key for req. Two requests produce
// the same fingerprint iff they must be served by the same cache entry:
// Options are canonicalized by dropping undefined values, sorting by key,
// and serializing scalars, so insertion order of option fields never
// changes the result.
func Derive(req Request, limits Limits) (string, error) {
	if req.Operation == "" {
		return "", errs.E(errs.InvalidFingerprint, op, fmt.Errorf("operation is required"))
	}

	optStr, err := canonicalizeOptions(req.Options, limits, 0)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(req.Operation)
	b.WriteByte(':')
	b.WriteString(req.Symbol)
	if req.Provider != "" {
		b.WriteString(":provider:")
		b.WriteString(req.Provider)
	}
	if req.Market != "" {
		b.WriteString(":market:")
		b.WriteString(req.Market)
	}
	if req.ApiType != "" {
		b.WriteString(":apiType:")
		b.WriteString(req.ApiType)
	}
	if optStr != "" {
		b.WriteString(":opts:")
		b.WriteString(optStr)
	}

	key := b.String()
	if strings.Contains(key, CompressedPrefix) {
		return "", errs.E(errs.InvalidFingerprint, op, fmt.Errorf("derived key contains reserved framing prefix"))
	}
	return key, nil
}

// canonicalizeOptions serializes a shallow-to-bounded-depth options map into
// a stable, sorted string. Depth and field-count bounds reject pathological
// inputs rather than silently truncating them.
func canonicalizeOptions(opts map[string]interface{}, limits Limits, depth int) (string, error) {
	if opts == nil {
		return "", nil
	}
	if limits.MaxObjectDepth > 0 && depth > limits.MaxObjectDepth {
		return "", errs.E(errs.InvalidFingerprint, op, fmt.Errorf("option depth %d exceeds bound %d", depth, limits.MaxObjectDepth))
	}
	if limits.MaxObjectFields > 0 && len(opts) > limits.MaxObjectFields {
		return "", errs.E(errs.InvalidFingerprint, op, fmt.Errorf("option field count %d exceeds bound %d", len(opts), limits.MaxObjectFields))
	}

	keys := make([]string, 0, len(opts))
	for k, v := range opts {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := opts[k]
		serialized, err := serializeScalar(v, limits, depth)
		if err != nil {
			return "", err
		}
		parts = append(parts, k+"="+serialized)
	}
	return strings.Join(parts, "&"), nil
}

func serializeScalar(v interface{}, limits Limits, depth int) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case map[string]interface{}:
		return canonicalizeOptions(t, limits, depth+1)
	default:
		return "", errs.E(errs.InvalidFingerprint, op, fmt.Errorf("unsupported option value type %T", v))
	}
}

// RuleKey builds the rule-cache key grammar in one place so C5
// and C6 never hand-roll key strings independently.
type RuleKey struct{}

func (RuleKey) ByID(id string) string {
	return fmt.Sprintf("data-mapper:rule:%s", id)
}

func (RuleKey) BestRule(provider, apiType, ruleListType, marketType string) string {
	if marketType == "" {
		marketType = "*"
	}
	return fmt.Sprintf("data-mapper:best-rule:%s:%s:%s:%s", provider, apiType, ruleListType, marketType)
}

func (RuleKey) ProviderRules(provider, apiType string) string {
	return fmt.Sprintf("data-mapper:provider-rules:%s:%s", provider, apiType)
}

// ProviderPrefix is the pattern used by C5's provider-reset bulk invalidation
// (matched via C4's SCAN-based delByPattern — never KEYS).
func (RuleKey) ProviderPrefix(provider string) string {
	return fmt.Sprintf("data-mapper:*:%s:*", provider)
}

// AllPrefix is the pattern matching every key across all three rule-cache
// namespaces, used by the bulk clearAllRuleCache admin operation.
func (RuleKey) AllPrefix() string {
	return "data-mapper:*"
}

// Stream builds the stream-snapshot key for a symbol.
func Stream(symbol string) string {
	return fmt.Sprintf("stream:quote:%s", strings.ToUpper(symbol))
}
