package relation

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/hatlonely/reorm/bus"
	"github.com/hatlonely/reorm/model"
	"github.com/hatlonely/reorm/schema"
)

// Source 解析器对数据库的最小依赖
type Source interface {
	// RowsBy 按字段等值查找并装配记录
	RowsBy(ctx context.Context, collection, field string, value any) ([]*model.Record, error)
	// RowsByIn 按字段集合成员查找并装配记录
	RowsByIn(ctx context.Context, collection, field string, values []any) ([]*model.Record, error)
	// FindByKey 按主键查找，未命中时返回 nil
	FindByKey(ctx context.Context, collection string, key any) (*model.Record, error)
	// Schema 集合模式
	Schema(collection string) (*schema.Schema, error)
	// Bus 事件总线
	Bus() bus.Bus
	// RouteError 异步回调内部错误的上报通道
	RouteError(err error)
}

// New 按关系定义创建解析器
func New(def schema.Relation, src Source) (model.Resolver, error) {
	switch def.Kind {
	case schema.KindHasOne:
		return &HasOne{base: base{def: def, src: src}}, nil
	case schema.KindHasMany:
		return &HasMany{base: base{def: def, src: src}}, nil
	case schema.KindBelongsTo:
		return &BelongsTo{base: base{def: def, src: src}}, nil
	case schema.KindManyToMany:
		return &ManyToMany{base: base{def: def, src: src}}, nil
	case schema.KindMorphTo:
		return &MorphTo{base: base{def: def, src: src}}, nil
	case schema.KindMorphMany:
		return &MorphMany{base: base{def: def, src: src}}, nil
	case schema.KindHasManyThrough:
		return &HasManyThrough{base: base{def: def, src: src}}, nil
	}
	return nil, errors.WithMessagef(schema.ErrUnknownRelationKind, "kind %s", def.Kind)
}

// base 解析器公共部分：持有值、订阅登记与释放
type base struct {
	mu       sync.Mutex
	def      schema.Relation
	src      Source
	prepared bool
	value    any
	offs     []func()
}

func (b *base) Prepared() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prepared
}

func (b *base) Value() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *base) Unref() {
	b.mu.Lock()
	offs := b.offs
	b.offs = nil
	b.prepared = false
	b.value = nil
	b.mu.Unlock()

	for _, off := range offs {
		off()
	}
}

func (b *base) setValue(value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = value
	b.prepared = true
}

// subscribe 订阅集合的全部变更事件，刷新失败的错误走错误通道
func (b *base) subscribe(collections []string, refresh func(ctx context.Context) error) {
	handler := func(event string, payload any) {
		if err := refresh(context.Background()); err != nil {
			b.src.RouteError(err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, collection := range collections {
		b.offs = append(b.offs,
			b.src.Bus().On(bus.SaveEvent(collection), handler),
			b.src.Bus().On(bus.DeleteEvent(collection), handler),
			b.src.Bus().On(bus.TruncateEvent(collection), handler),
		)
	}
}

// localKeyValue 宿主侧键值：LocalKey 为空时取宿主主键
func localKeyValue(owner *model.Record, def *schema.Relation) (any, error) {
	field := def.LocalKey
	if field == "" {
		field = owner.Schema().PrimaryKey
	}
	value, ok := owner.Get(field)
	if !ok {
		return nil, errors.WithMessagef(model.ErrPropertyNotFound, "collection %s field %s", owner.Collection(), field)
	}
	return value, nil
}

// recordKeys 提取记录集合的某字段值，field 为空时取各自主键
func recordKeys(records []*model.Record, field string) []any {
	keys := make([]any, 0, len(records))
	for _, r := range records {
		name := field
		if name == "" {
			name = r.Schema().PrimaryKey
		}
		if v, ok := r.Get(name); ok && v != nil {
			keys = append(keys, v)
		}
	}
	return keys
}
