package mapping

import (
	"fmt"
	"strconv"
	"strings"

	"marketdatagw/internal/errs"
	"marketdatagw/internal/models"
)

// applyTransform applies the field mapping's transform operator to a
// resolved scalar value. multiply/divide/add/subtract coerce to number;
// divide-by-zero fails only this field, not the whole record.
// format substitutes "{value}" into the operand template string.
func applyTransform(transform models.Transform, operand string, value interface{}) (interface{}, error) {
	switch transform {
	case "":
		return value, nil
	case models.TransformFormat:
		return strings.ReplaceAll(operand, "{value}", fmt.Sprint(value)), nil
	case models.TransformMultiply, models.TransformDivide, models.TransformAdd, models.TransformSubtract:
		num, ok := toFloat(value)
		if !ok {
			return nil, errs.E(errs.RuleValidationError, "mapping.applyTransform",
				fmt.Errorf("value %v is not numeric for transform %s", value, transform))
		}
		opNum, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			return nil, errs.E(errs.RuleValidationError, "mapping.applyTransform",
				fmt.Errorf("operand %q is not numeric for transform %s", operand, transform))
		}
		switch transform {
		case models.TransformMultiply:
			return num * opNum, nil
		case models.TransformDivide:
			if opNum == 0 {
				return nil, errs.E(errs.RuleValidationError, "mapping.applyTransform", fmt.Errorf("divide by zero"))
			}
			return num / opNum, nil
		case models.TransformAdd:
			return num + opNum, nil
		case models.TransformSubtract:
			return num - opNum, nil
		}
	}
	return nil, errs.E(errs.RuleValidationError, "mapping.applyTransform", fmt.Errorf("unknown transform %q", transform))
}

// applyPercentHeuristic returns a numeric value (including a numeric string
// such as "561.000") as float64, multiplied by 100 when it is in (-1, 1) and
// targetField's name contains "percent" (case-insensitive), a rescale
// heuristic for ratio-shaped fields. The rescaled value is rounded to 15
// significant digits, so 0.0175 becomes exactly 1.75. Non-numeric values are
// returned unchanged.
func applyPercentHeuristic(targetField string, value interface{}) interface{} {
	num, ok := toFloat(value)
	if !ok {
		return value
	}
	if num > -1 && num < 1 && strings.Contains(strings.ToLower(targetField), "percent") {
		scaled, _ := strconv.ParseFloat(strconv.FormatFloat(num*100, 'g', 15, 64), 64)
		return scaled
	}
	return num
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
