package schema

import (
	"github.com/pkg/errors"
)

// RelationKind 关系类型
type RelationKind string

const (
	KindHasOne         RelationKind = "hasOne"
	KindHasMany        RelationKind = "hasMany"
	KindBelongsTo      RelationKind = "belongsTo"
	KindManyToMany     RelationKind = "manyToMany"
	KindMorphTo        RelationKind = "morphTo"
	KindMorphMany      RelationKind = "morphMany"
	KindHasManyThrough RelationKind = "hasManyThrough"
)

// Step hasManyThrough 链路中的一跳
type Step struct {
	// Collection 本跳查询的集合
	Collection string `cfg:"collection" yaml:"collection"`
	// ForeignKey 本跳集合中指向上一跳键集的字段
	ForeignKey string `cfg:"foreignKey" yaml:"foreignKey"`
	// LocalKey 本跳产出的键字段，空时使用主键
	LocalKey string `cfg:"localKey" yaml:"localKey"`
}

// Relation 关系定义，静态配置元组
type Relation struct {
	Name string       `cfg:"name" yaml:"name"`
	Kind RelationKind `cfg:"kind" yaml:"kind"`

	// Target 目标集合名，morphTo 时由判别字段动态决定
	Target string `cfg:"target" yaml:"target"`

	// LocalKey 宿主侧键字段，空时使用宿主主键
	LocalKey string `cfg:"localKey" yaml:"localKey"`

	// ForeignKey 目标侧（或 belongsTo 时宿主侧）的外键字段
	ForeignKey string `cfg:"foreignKey" yaml:"foreignKey"`

	// 多对多经由的连接集合及其两个外键
	Join           string `cfg:"join" yaml:"join"`
	JoinLocalKey   string `cfg:"joinLocalKey" yaml:"joinLocalKey"`
	JoinForeignKey string `cfg:"joinForeignKey" yaml:"joinForeignKey"`

	// 多态关系的判别字段与 id 字段
	TypeField string `cfg:"typeField" yaml:"typeField"`
	IDField   string `cfg:"idField" yaml:"idField"`

	// Through hasManyThrough 的有序链路，至少两跳
	Through []Step `cfg:"through" yaml:"through"`
}

// Check 按关系类型校验配置元组的完整性
func (r *Relation) Check() error {
	if r.Name == "" {
		return errors.WithMessage(ErrBadSchema, "relation name is empty")
	}

	switch r.Kind {
	case KindHasOne, KindHasMany:
		if r.Target == "" || r.ForeignKey == "" {
			return errors.WithMessage(ErrBadSchema, "requires target and foreignKey")
		}
	case KindBelongsTo:
		if r.Target == "" || r.ForeignKey == "" {
			return errors.WithMessage(ErrBadSchema, "requires target and foreignKey")
		}
	case KindManyToMany:
		if r.Target == "" || r.Join == "" || r.JoinLocalKey == "" || r.JoinForeignKey == "" {
			return errors.WithMessage(ErrBadSchema, "requires target, join and both join keys")
		}
	case KindMorphTo:
		if r.TypeField == "" || r.IDField == "" {
			return errors.WithMessage(ErrBadSchema, "requires typeField and idField")
		}
	case KindMorphMany:
		if r.Target == "" || r.TypeField == "" || r.ForeignKey == "" {
			return errors.WithMessage(ErrBadSchema, "requires target, typeField and foreignKey")
		}
	case KindHasManyThrough:
		if len(r.Through) < 2 {
			return errors.WithMessage(ErrBadSchema, "requires at least two through steps")
		}
		for _, step := range r.Through {
			if step.Collection == "" || step.ForeignKey == "" {
				return errors.WithMessage(ErrBadSchema, "through step requires collection and foreignKey")
			}
		}
	default:
		return errors.WithMessagef(ErrUnknownRelationKind, "kind %s", r.Kind)
	}

	return nil
}
