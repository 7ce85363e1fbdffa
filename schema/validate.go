package schema

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var fieldValidator = validator.New()

// FieldError 单个字段的校验失败信息
type FieldError struct {
	Field    string
	Messages []string
}

// ValidatePayload 按模式校验并归一化载荷。
// 返回归一化后的载荷，或逐字段的失败信息；skip 中的字段不参与校验。
// 引擎只消费失败信息中的 Messages。
func ValidatePayload(fields map[string]any, s *Schema, skip ...string) (map[string]any, []*FieldError) {
	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
	}

	normalized := make(map[string]any, len(fields))
	var failures []*FieldError

	for name, value := range fields {
		def, declared := s.Field(name)
		if !declared || skipped[name] {
			normalized[name] = value
			continue
		}

		norm, messages := checkField(def, value)
		if len(messages) > 0 {
			failures = append(failures, &FieldError{Field: name, Messages: messages})
			continue
		}
		normalized[name] = norm
	}

	if len(failures) > 0 {
		return nil, failures
	}
	return normalized, nil
}

// checkField 类型检查加约束规则检查，返回归一化值
func checkField(def *Field, value any) (any, []string) {
	var messages []string

	norm := value
	if value != nil {
		var ok bool
		norm, ok = normalizeType(def.Type, value)
		if !ok {
			return nil, []string{"value of type " + typeName(value) + " is not assignable to " + string(def.Type)}
		}
	}

	if def.Validate != "" && norm != nil {
		if err := fieldValidator.Var(norm, def.Validate); err != nil {
			if verrs, ok := err.(validator.ValidationErrors); ok {
				for _, verr := range verrs {
					messages = append(messages, "failed on rule "+verr.Tag())
				}
			} else {
				messages = append(messages, err.Error())
			}
		}
	}

	if len(messages) > 0 {
		return nil, messages
	}
	return norm, nil
}

// normalizeType 归一化字段值：整数归一为 int64，浮点归一为 float64
func normalizeType(fieldType FieldType, value any) (any, bool) {
	switch fieldType {
	case FieldTypeString:
		s, ok := value.(string)
		return s, ok
	case FieldTypeInt:
		switch n := value.(type) {
		case int:
			return int64(n), true
		case int8:
			return int64(n), true
		case int16:
			return int64(n), true
		case int32:
			return int64(n), true
		case int64:
			return n, true
		case uint:
			return int64(n), true
		case uint8:
			return int64(n), true
		case uint16:
			return int64(n), true
		case uint32:
			return int64(n), true
		case uint64:
			return int64(n), true
		}
		return nil, false
	case FieldTypeFloat:
		switch n := value.(type) {
		case float32:
			return float64(n), true
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
		return nil, false
	case FieldTypeBool:
		b, ok := value.(bool)
		return b, ok
	case FieldTypeDate:
		switch t := value.(type) {
		case time.Time:
			return t, true
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return nil, false
			}
			return parsed, true
		}
		return nil, false
	case FieldTypeBytes:
		b, ok := value.([]byte)
		return b, ok
	case FieldTypeJSON:
		return value, true
	}
	return value, true
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case time.Time:
		return "date"
	case []byte:
		return "bytes"
	}
	return "json"
}
