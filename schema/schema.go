package schema

import (
	"github.com/pkg/errors"
)

var (
	ErrBadSchema             = errors.New("bad schema")
	ErrRelationNameCollision = errors.New("relation name collides with field name")
	ErrUnknownRelationKind   = errors.New("unknown relation kind")
)

// FieldType 字段类型
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeInt    FieldType = "int"
	FieldTypeFloat  FieldType = "float"
	FieldTypeBool   FieldType = "bool"
	FieldTypeDate   FieldType = "date"
	FieldTypeBytes  FieldType = "bytes"
	FieldTypeJSON   FieldType = "json"
)

// Field 字段定义
type Field struct {
	Name     string    `cfg:"name" yaml:"name"`
	Type     FieldType `cfg:"type" yaml:"type"`
	Required bool      `cfg:"required" yaml:"required"`
	Indexed  bool      `cfg:"indexed" yaml:"indexed"`
	Default  any       `cfg:"default" yaml:"default"`

	// Validate 字段级约束规则，go-playground/validator 语法
	Validate string `cfg:"validate" yaml:"validate"`
}

// Schema 集合模式：字段集合加唯一的主键字段
type Schema struct {
	Collection string     `cfg:"collection" yaml:"collection"`
	PrimaryKey string     `cfg:"primaryKey" yaml:"primaryKey"`
	Fields     []Field    `cfg:"fields" yaml:"fields"`
	Relations  []Relation `cfg:"relations" yaml:"relations"`
}

// Field 按名称查找字段定义
func (s *Schema) Field(name string) (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

func (s *Schema) HasField(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// Relation 按名称查找关系定义
func (s *Schema) Relation(name string) (*Relation, bool) {
	for i := range s.Relations {
		if s.Relations[i].Name == name {
			return &s.Relations[i], true
		}
	}
	return nil, false
}

// IndexedFields 返回建索引的字段名（含主键）
func (s *Schema) IndexedFields() []string {
	fields := make([]string, 0, len(s.Fields))
	for i := range s.Fields {
		if s.Fields[i].Indexed || s.Fields[i].Name == s.PrimaryKey {
			fields = append(fields, s.Fields[i].Name)
		}
	}
	return fields
}

// Indexed 判断字段是否建有索引，主键视为已索引
func (s *Schema) Indexed(field string) bool {
	if field == s.PrimaryKey {
		return true
	}
	f, ok := s.Field(field)
	return ok && f.Indexed
}

// Check 校验模式自身的合法性，数据库启动时调用
func (s *Schema) Check() error {
	if s.Collection == "" {
		return errors.WithMessage(ErrBadSchema, "collection is empty")
	}
	if s.PrimaryKey == "" {
		return errors.WithMessagef(ErrBadSchema, "collection %s has no primary key", s.Collection)
	}
	if !s.HasField(s.PrimaryKey) {
		return errors.WithMessagef(ErrBadSchema, "collection %s primary key %s is not a declared field", s.Collection, s.PrimaryKey)
	}

	seen := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		name := s.Fields[i].Name
		if name == "" {
			return errors.WithMessagef(ErrBadSchema, "collection %s has a field without name", s.Collection)
		}
		if seen[name] {
			return errors.WithMessagef(ErrBadSchema, "collection %s duplicates field %s", s.Collection, name)
		}
		seen[name] = true
	}

	names := make(map[string]bool, len(s.Relations))
	for i := range s.Relations {
		r := &s.Relations[i]
		if err := r.Check(); err != nil {
			return errors.WithMessagef(err, "collection %s relation %s", s.Collection, r.Name)
		}
		if s.HasField(r.Name) {
			return errors.WithMessagef(ErrRelationNameCollision, "collection %s relation %s", s.Collection, r.Name)
		}
		if names[r.Name] {
			return errors.WithMessagef(ErrBadSchema, "collection %s duplicates relation %s", s.Collection, r.Name)
		}
		names[r.Name] = true
	}

	return nil
}
