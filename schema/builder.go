package schema

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Builder 从结构体构建集合模式
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// FromStruct 从结构体构建 Schema。
// 支持的 tag 格式：
// - `reorm:"field_name,primary,index,required,type=string,validate=min=1"`
// - 实现 `CollectionName() string` 方法时用作集合名，否则使用结构体名的小写形式
func (b *Builder) FromStruct(v any) (*Schema, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected struct, got %T", v)
	}

	rt := rv.Type()

	collection := strings.ToLower(rt.Name())
	if named, ok := v.(interface{ CollectionName() string }); ok {
		collection = named.CollectionName()
	}

	s := &Schema{
		Collection: collection,
	}

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("reorm")
		if tag == "-" {
			continue
		}

		fieldDef, isPrimary, err := b.parseFieldTag(field, tag)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to parse field %s", field.Name)
		}

		s.Fields = append(s.Fields, fieldDef)
		if isPrimary {
			if s.PrimaryKey != "" {
				return nil, errors.WithMessagef(ErrBadSchema, "multiple primary keys: %s and %s", s.PrimaryKey, fieldDef.Name)
			}
			s.PrimaryKey = fieldDef.Name
		}
	}

	if s.PrimaryKey == "" {
		return nil, errors.WithMessagef(ErrBadSchema, "struct %s declares no primary key", rt.Name())
	}

	return s, nil
}

// parseFieldTag 解析字段的 reorm tag
func (b *Builder) parseFieldTag(field reflect.StructField, tag string) (Field, bool, error) {
	fieldDef := Field{
		Name: strings.ToLower(field.Name),
		Type: b.inferFieldType(field.Type),
	}

	var isPrimary bool

	if tag == "" {
		return fieldDef, isPrimary, nil
	}

	parts := strings.Split(tag, ",")

	// 第一部分是字段名（如果指定）
	if parts[0] != "" && !strings.Contains(parts[0], "=") {
		fieldDef.Name = parts[0]
		parts = parts[1:]
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if idx := strings.Index(part, "="); idx != -1 {
			key := strings.TrimSpace(part[:idx])
			value := strings.TrimSpace(part[idx+1:])

			switch key {
			case "type":
				fieldDef.Type = FieldType(value)
			case "validate":
				fieldDef.Validate = value
			case "default":
				fieldDef.Default = b.parseDefaultValue(value, fieldDef.Type)
			}
		} else {
			switch part {
			case "primary", "pk":
				isPrimary = true
			case "index":
				fieldDef.Indexed = true
			case "required", "not_null":
				fieldDef.Required = true
			}
		}
	}

	return fieldDef, isPrimary, nil
}

// inferFieldType 从 Go 类型推断字段类型
func (b *Builder) inferFieldType(t reflect.Type) FieldType {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return FieldTypeString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return FieldTypeInt
	case reflect.Float32, reflect.Float64:
		return FieldTypeFloat
	case reflect.Bool:
		return FieldTypeBool
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return FieldTypeBytes
		}
		return FieldTypeJSON
	default:
		if t == reflect.TypeOf(time.Time{}) {
			return FieldTypeDate
		}
		return FieldTypeJSON
	}
}

// parseDefaultValue 解析默认值
func (b *Builder) parseDefaultValue(value string, fieldType FieldType) any {
	switch fieldType {
	case FieldTypeString:
		if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
			return value[1 : len(value)-1]
		}
		return value
	case FieldTypeInt:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
		return int64(0)
	case FieldTypeFloat:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		return 0.0
	case FieldTypeBool:
		return value == "true" || value == "1"
	default:
		return value
	}
}
