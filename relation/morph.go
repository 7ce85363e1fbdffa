package relation

import (
	"context"

	"github.com/hatlonely/reorm/bus"
	"github.com/hatlonely/reorm/model"
)

// MorphTo 多态反向一对一：判别字段动态命名目标集合，id 字段给出主键。
// 宿主保存事件会更新判别快照并在目标集合变化时重新接线。
type MorphTo struct {
	base
	ownerCollection string
	ownerKey        string
	targetName      string
	targetKey       any
	targetOffs      []func()
}

func (r *MorphTo) Prepare(ctx context.Context, owner *model.Record) error {
	r.ownerCollection = owner.Collection()
	r.ownerKey = owner.Key()

	typeValue, _ := owner.Get(r.def.TypeField)
	idValue, _ := owner.Get(r.def.IDField)
	if name, ok := typeValue.(string); ok {
		r.targetName = name
	}
	r.targetKey = idValue

	if err := r.refresh(ctx); err != nil {
		return err
	}
	r.wireTarget()

	// 宿主自身保存时刷新判别快照
	off := r.src.Bus().On(bus.SaveEvent(r.ownerCollection), func(event string, payload any) {
		change, ok := payload.(bus.ChangeEvent)
		if !ok || change.Key != r.ownerKey || change.Fields == nil {
			return
		}
		r.mu.Lock()
		previous := r.targetName
		if name, ok := change.Fields[r.def.TypeField].(string); ok {
			r.targetName = name
		}
		r.targetKey = change.Fields[r.def.IDField]
		rewire := r.targetName != previous
		r.mu.Unlock()

		if rewire {
			r.wireTarget()
		}
		if err := r.refresh(context.Background()); err != nil {
			r.src.RouteError(err)
		}
	})
	r.mu.Lock()
	r.offs = append(r.offs, off)
	r.mu.Unlock()

	return nil
}

// wireTarget 重建对当前判别目标集合的订阅
func (r *MorphTo) wireTarget() {
	r.mu.Lock()
	offs := r.targetOffs
	r.targetOffs = nil
	target := r.targetName
	r.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if target == "" {
		return
	}

	handler := func(event string, payload any) {
		if err := r.refresh(context.Background()); err != nil {
			r.src.RouteError(err)
		}
	}
	r.mu.Lock()
	r.targetOffs = append(r.targetOffs,
		r.src.Bus().On(bus.SaveEvent(target), handler),
		r.src.Bus().On(bus.DeleteEvent(target), handler),
		r.src.Bus().On(bus.TruncateEvent(target), handler),
	)
	r.mu.Unlock()
}

func (r *MorphTo) refresh(ctx context.Context) error {
	r.mu.Lock()
	target := r.targetName
	key := r.targetKey
	r.mu.Unlock()

	if target == "" || key == nil {
		r.setValue(nil)
		return nil
	}
	record, err := r.src.FindByKey(ctx, target, key)
	if err != nil {
		return err
	}
	if record == nil {
		r.setValue(nil)
		return nil
	}
	r.setValue(record)
	return nil
}

func (r *MorphTo) Unref() {
	r.mu.Lock()
	offs := r.targetOffs
	r.targetOffs = nil
	r.mu.Unlock()

	for _, off := range offs {
		off()
	}
	r.base.Unref()
}

// MorphMany 多态一对多：目标集合中判别字段等于宿主类型标记、
// 外键字段等于宿主键的全部记录。
type MorphMany struct {
	base
	ownerType string
	ownerKey  any
}

func (r *MorphMany) Prepare(ctx context.Context, owner *model.Record) error {
	r.ownerType = owner.Collection()

	key, err := localKeyValue(owner, &r.def)
	if err != nil {
		return err
	}
	r.ownerKey = key

	if err := r.refresh(ctx); err != nil {
		return err
	}
	r.subscribe([]string{r.def.Target}, r.refresh)
	return nil
}

func (r *MorphMany) refresh(ctx context.Context) error {
	candidates, err := r.src.RowsBy(ctx, r.def.Target, r.def.ForeignKey, r.ownerKey)
	if err != nil {
		return err
	}

	records := make([]*model.Record, 0, len(candidates))
	for _, candidate := range candidates {
		if tag, ok := candidate.Get(r.def.TypeField); ok {
			if name, ok := tag.(string); ok && name == r.ownerType {
				records = append(records, candidate)
			}
		}
	}

	r.setValue(records)
	return nil
}
