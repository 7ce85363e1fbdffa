package relation

import (
	"context"

	"github.com/hatlonely/reorm/model"
)

// HasOne 一对一：目标集合中外键等于宿主本地键的首条记录
type HasOne struct {
	base
	ownerKey any
}

func (r *HasOne) Prepare(ctx context.Context, owner *model.Record) error {
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

func (r *HasOne) refresh(ctx context.Context) error {
	records, err := r.src.RowsBy(ctx, r.def.Target, r.def.ForeignKey, r.ownerKey)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		r.setValue(nil)
		return nil
	}
	r.setValue(records[0])
	return nil
}

// HasMany 一对多：目标集合中外键等于宿主本地键的全部记录
type HasMany struct {
	base
	ownerKey any
}

func (r *HasMany) Prepare(ctx context.Context, owner *model.Record) error {
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

func (r *HasMany) refresh(ctx context.Context) error {
	records, err := r.src.RowsBy(ctx, r.def.Target, r.def.ForeignKey, r.ownerKey)
	if err != nil {
		return err
	}
	r.setValue(records)
	return nil
}

// BelongsTo 反向一对一：主键等于宿主外键字段值的目标记录
type BelongsTo struct {
	base
	foreignKey any
}

func (r *BelongsTo) Prepare(ctx context.Context, owner *model.Record) error {
	value, ok := owner.Get(r.def.ForeignKey)
	if !ok {
		r.setValue(nil)
		r.subscribe([]string{r.def.Target}, r.refresh)
		return nil
	}
	r.foreignKey = value

	if err := r.refresh(ctx); err != nil {
		return err
	}
	r.subscribe([]string{r.def.Target}, r.refresh)
	return nil
}

func (r *BelongsTo) refresh(ctx context.Context) error {
	if r.foreignKey == nil {
		r.setValue(nil)
		return nil
	}
	record, err := r.src.FindByKey(ctx, r.def.Target, r.foreignKey)
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
