package relation

import (
	"context"

	"github.com/hatlonely/reorm/model"
)

// HasManyThrough 链式一对多：沿 Through 链逐级以上一级键集查找下一级，
// 末级即目标集合的结果记录。链上任一集合变更都会触发重算。
type HasManyThrough struct {
	base
	seed any
}

func (r *HasManyThrough) Prepare(ctx context.Context, owner *model.Record) error {
	key, err := localKeyValue(owner, &r.def)
	if err != nil {
		return err
	}
	r.seed = key

	if err := r.refresh(ctx); err != nil {
		return err
	}

	collections := make([]string, 0, len(r.def.Through))
	for _, step := range r.def.Through {
		collections = append(collections, step.Collection)
	}
	r.subscribe(collections, r.refresh)
	return nil
}

func (r *HasManyThrough) refresh(ctx context.Context) error {
	keys := []any{r.seed}
	var records []*model.Record

	for _, step := range r.def.Through {
		if len(keys) == 0 {
			records = nil
			break
		}
		rows, err := r.src.RowsByIn(ctx, step.Collection, step.ForeignKey, keys)
		if err != nil {
			return err
		}
		records = rows
		keys = recordKeys(rows, step.LocalKey)
	}

	if records == nil {
		records = []*model.Record{}
	}
	r.setValue(records)
	return nil
}
