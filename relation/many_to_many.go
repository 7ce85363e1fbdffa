package relation

import (
	"context"

	"github.com/hatlonely/reorm/model"
)

// ManyToMany 多对多：经由连接集合解析，
// 连接集合的变更与目标集合的变更都会触发刷新。
type ManyToMany struct {
	base
	ownerKey any
}

func (r *ManyToMany) Prepare(ctx context.Context, owner *model.Record) error {
	key, err := localKeyValue(owner, &r.def)
	if err != nil {
		return err
	}
	r.ownerKey = key

	if err := r.refresh(ctx); err != nil {
		return err
	}
	r.subscribe([]string{r.def.Join, r.def.Target}, r.refresh)
	return nil
}

func (r *ManyToMany) refresh(ctx context.Context) error {
	joins, err := r.src.RowsBy(ctx, r.def.Join, r.def.JoinLocalKey, r.ownerKey)
	if err != nil {
		return err
	}

	// 按连接行顺序逐个解析目标，缺失的引用跳过
	records := make([]*model.Record, 0, len(joins))
	for _, join := range joins {
		ref, ok := join.Get(r.def.JoinForeignKey)
		if !ok || ref == nil {
			continue
		}
		target, err := r.src.FindByKey(ctx, r.def.Target, ref)
		if err != nil {
			return err
		}
		if target != nil {
			records = append(records, target)
		}
	}

	r.setValue(records)
	return nil
}
