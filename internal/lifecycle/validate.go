package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Lifecycle columns a payload may never set directly.
var reservedFields = map[string]struct{}{
	"id":               {},
	"entity":           {},
	"status":           {},
	"is_active":        {},
	"owner_user_id":    {},
	"owner_admin_id":   {},
	"approved_at":      {},
	"approved_by":      {},
	"rejected_at":      {},
	"rejected_by":      {},
	"rejection_reason": {},
	"admin_comments":   {},
	"status_history":   {},
	"created_at":       {},
	"updated_at":       {},
}

type fieldValidator struct {
	validate *validator.Validate
}

func newFieldValidator() *fieldValidator {
	return &fieldValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// normalize converts payload values to their declared types and checks them.
// With partial set only the present fields are checked; otherwise every
// required field must be present. All failures are collected.
func (fv *fieldValidator) normalize(cfg EntityConfig, payload Payload, partial bool) (map[string]any, error) {
	verr := &ValidationError{}
	out := make(map[string]any, len(payload))

	for key, raw := range payload {
		if _, reserved := reservedFields[key]; reserved {
			verr.add(key, "reserved", "is managed by the review workflow")
			continue
		}
		rule, known := cfg.Fields[key]
		if !known {
			verr.add(key, "unknown", "is not a field of "+string(cfg.Type))
			continue
		}
		if raw == nil {
			if rule.Required {
				verr.add(key, "required", "is required")
				continue
			}
			out[key] = nil
			continue
		}

		value, err := coerce(rule.Type, raw)
		if err != nil {
			verr.add(key, string(rule.Type), err.Error())
			continue
		}
		if s, ok := value.(string); ok && s == "" && !rule.Required {
			out[key] = nil
			continue
		}
		if err := fv.check(value, rule); err != nil {
			var fieldErrs validator.ValidationErrors
			if errors.As(err, &fieldErrs) {
				for _, fe := range fieldErrs {
					verr.add(key, fe.Tag(), describe(fe.Tag(), fe.Param()))
				}
				continue
			}
			verr.add(key, "invalid", err.Error())
			continue
		}
		out[key] = value
	}

	if !partial {
		for key, rule := range cfg.Fields {
			if !rule.Required {
				continue
			}
			if _, present := payload[key]; !present {
				verr.add(key, "required", "is required")
			}
		}
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func (fv *fieldValidator) check(value any, rule FieldRule) error {
	tag := rule.Rules
	if rule.Required {
		tag = joinTags("required", tag)
	}
	if tag == "" {
		return nil
	}
	return fv.validate.Var(value, tag)
}

func joinTags(tags ...string) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		if strings.TrimSpace(t) != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, ",")
}

func coerce(fieldType FieldType, raw any) (any, error) {
	switch fieldType {
	case FieldString:
		switch v := raw.(type) {
		case string:
			return strings.TrimSpace(v), nil
		case json.Number:
			return v.String(), nil
		}
		return nil, fmt.Errorf("must be a string")
	case FieldInt:
		n, err := toInt(raw)
		if err != nil {
			return nil, fmt.Errorf("must be a whole number")
		}
		return n, nil
	case FieldFloat:
		f, err := toFloat(raw)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("must be a number")
		}
		return f, nil
	case FieldBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err == nil {
				return b, nil
			}
		}
		return nil, fmt.Errorf("must be true or false")
	case FieldStrings:
		switch v := raw.(type) {
		case []string:
			return trimAll(v), nil
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("must be a list of strings")
				}
				items = append(items, s)
			}
			return trimAll(items), nil
		}
		return nil, fmt.Errorf("must be a list of strings")
	default:
		return nil, fmt.Errorf("has unsupported type %s", fieldType)
	}
}

// maxSafeInt bounds whole numbers so they survive a round trip through
// JSON readers that decode into float64.
const maxSafeInt = 1 << 53

func toInt(raw any) (int64, error) {
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return floatToInt(v.Float64())
		}
		n = i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return floatToInt(strconv.ParseFloat(strings.TrimSpace(v), 64))
		}
		n = i
	default:
		return floatToInt(toFloat(raw))
	}
	if n > maxSafeInt || n < -maxSafeInt {
		return 0, fmt.Errorf("out of range")
	}
	return n, nil
}

func floatToInt(f float64, err error) (int64, error) {
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("not a whole number")
	}
	if f > maxSafeInt || f < -maxSafeInt {
		return 0, fmt.Errorf("out of range")
	}
	return int64(f), nil
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("not numeric")
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func describe(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + param
	default:
		return "failed " + tag + " check"
	}
}
