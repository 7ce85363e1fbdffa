package reorm

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hatlonely/reorm/model"
	"github.com/hatlonely/reorm/query"
	"github.com/hatlonely/reorm/schema"
	"github.com/hatlonely/reorm/store"
)

// matchNodes 按声明顺序折叠谓词链，首个谓词的连接方式无意义
func matchNodes(nodes []query.Node, fields map[string]any) bool {
	if len(nodes) == 0 {
		return true
	}
	matched := nodes[0].Match(fields)
	for _, node := range nodes[1:] {
		if node.Combinator() == query.CombinatorOr {
			matched = matched || node.Match(fields)
		} else {
			matched = matched && node.Match(fields)
		}
	}
	return matched
}

// conjunctive 谓词链是否为纯合取链
func conjunctive(nodes []query.Node) bool {
	for _, node := range nodes[1:] {
		if node.Combinator() == query.CombinatorOr {
			return false
		}
	}
	return true
}

// pickNative 从合取链中选出首个可走原生索引的比较谓词，其余谓词留作内存过滤
func pickNative(nodes []query.Node, s *schema.Schema) (*query.Compare, []query.Node) {
	for i, node := range nodes {
		compare, ok := node.(*query.Compare)
		if !ok {
			continue
		}
		if compare.Index() == nil || !s.Indexed(compare.Field) {
			continue
		}
		rest := make([]query.Node, 0, len(nodes)-1)
		rest = append(rest, nodes[:i]...)
		rest = append(rest, nodes[i+1:]...)
		return compare, rest
	}
	return nil, nodes
}

// onlyIndex 谓词链是否完全由可走原生索引的合取比较构成，
// 满足时终端结果可以直接命中计划实例缓存。
func (b *Builder) onlyIndex() bool {
	if len(b.nodes) == 0 || !conjunctive(b.nodes) {
		return false
	}
	for _, node := range b.nodes {
		compare, ok := node.(*query.Compare)
		if !ok {
			return false
		}
		if compare.Index() == nil || !b.schema.Indexed(compare.Field) {
			return false
		}
	}
	return true
}

func (b *Builder) cached(kind string) (any, bool) {
	if b.cache == nil || !b.onlyIndex() {
		return nil, false
	}
	v, ok := b.cache[kind]
	return v, ok
}

func (b *Builder) storeCache(kind string, v any) {
	if b.cache == nil {
		b.cache = make(map[string]any)
	}
	b.cache[kind] = v
}

// baseRows 过滤后的行集：合取链中首个可索引谓词走原生索引扫描，
// 其余谓词在结果游标上做内存过滤；否则全集合扫描逐条求值。
func (b *Builder) baseRows(ctx context.Context) ([]store.Row, error) {
	if len(b.nodes) == 0 {
		rows, err := b.collection.Scan(ctx)
		if err != nil {
			return nil, errors.WithMessagef(ErrQueryExecution, "scan %s: %v", b.schema.Collection, err)
		}
		return rows, nil
	}

	if conjunctive(b.nodes) {
		if compare, rest := pickNative(b.nodes, b.schema); compare != nil {
			descriptor := compare.Index()
			rows, err := b.collection.ScanIndex(ctx, descriptor.Field, descriptor.Kind, descriptor.Arg,
				store.WithFilter(func(row store.Row) bool {
					return matchNodes(rest, row.Fields)
				}))
			if err != nil {
				return nil, errors.WithMessagef(ErrQueryExecution, "index scan %s.%s: %v", b.schema.Collection, descriptor.Field, err)
			}
			return rows, nil
		}
	}

	rows, err := b.collection.Scan(ctx, store.WithFilter(func(row store.Row) bool {
		return matchNodes(b.nodes, row.Fields)
	}))
	if err != nil {
		return nil, errors.WithMessagef(ErrQueryExecution, "scan %s: %v", b.schema.Collection, err)
	}
	return rows, nil
}

// fetchRows 过滤、排序并截取窗口后的行集。
// 首个排序子句的字段建有索引时改走值序扫描，剩余子句只在首键并列的
// 行之间做内存决胜；其余情况在过滤结果上做稳定排序。
func (b *Builder) fetchRows(ctx context.Context) ([]store.Row, error) {
	if len(b.sorts) > 0 && b.schema.Indexed(b.sorts[0].Field) {
		rows, err := b.collection.OrderedScan(ctx, b.sorts[0].Field, b.sorts[0].Desc,
			store.WithFilter(func(row store.Row) bool {
				return matchNodes(b.nodes, row.Fields)
			}))
		if err != nil {
			return nil, errors.WithMessagef(ErrQueryExecution, "ordered scan %s.%s: %v", b.schema.Collection, b.sorts[0].Field, err)
		}
		if len(b.sorts) > 1 {
			tieBreakRows(rows, b.sorts)
		}
		return b.window(rows), nil
	}

	rows, err := b.baseRows(ctx)
	if err != nil {
		return nil, err
	}
	if len(b.sorts) > 0 {
		sortRows(rows, b.sorts)
	}
	return b.window(rows), nil
}

// tieBreakRows 值序扫描产出的行已按首个子句有序，
// 对首键并列的连续区间按剩余子句做稳定排序
func tieBreakRows(rows []store.Row, sorts []sortClause) {
	primary := sorts[0].Field
	i := 0
	for i < len(rows) {
		j := i + 1
		for j < len(rows) && query.OrderValues(rows[i].Fields[primary], rows[j].Fields[primary]) == 0 {
			j++
		}
		if j-i > 1 {
			sortRows(rows[i:j], sorts[1:])
		}
		i = j
	}
}

func sortRows(rows []store.Row, sorts []sortClause) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, clause := range sorts {
			cmp := query.OrderValues(rows[i].Fields[clause.Field], rows[j].Fields[clause.Field])
			if cmp == 0 {
				continue
			}
			if clause.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// window 排序之后套用 offset/limit
func (b *Builder) window(rows []store.Row) []store.Row {
	if b.hasOffset {
		if b.offset >= len(rows) {
			return nil
		}
		rows = rows[b.offset:]
	}
	if b.hasLimit && b.limit < len(rows) {
		rows = rows[:b.limit]
	}
	return rows
}

func (b *Builder) hydrateAll(rows []store.Row) []*model.Record {
	records := make([]*model.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, b.db.hydrate(b.schema, row))
	}
	return records
}

// eagerLoad 并行解析 With/WithAll 请求的关系
func (b *Builder) eagerLoad(ctx context.Context, records []*model.Record) error {
	names := b.withs
	if b.withAll {
		names = names[:0:0]
		for i := range b.schema.Relations {
			names = append(names, b.schema.Relations[i].Name)
		}
	}
	if len(names) == 0 || len(records) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, record := range records {
		for _, name := range names {
			g.Go(func() error {
				return record.Load(ctx, name)
			})
		}
	}
	return g.Wait()
}

// Fetch 执行查询并装配全部命中记录
func (b *Builder) Fetch(ctx context.Context) ([]*model.Record, error) {
	if !b.check() {
		return nil, b.err
	}
	if v, ok := b.cached("fetch"); ok {
		return v.([]*model.Record), nil
	}

	rows, err := b.fetchRows(ctx)
	if err != nil {
		return nil, err
	}
	records := b.hydrateAll(rows)
	if err := b.eagerLoad(ctx, records); err != nil {
		return nil, err
	}
	records = b.db.applyWrapCollection(records)
	b.storeCache("fetch", records)
	return records, nil
}

// Count 返回命中基数，不做装配也不排序
func (b *Builder) Count(ctx context.Context) (int64, error) {
	if !b.check() {
		return 0, b.err
	}
	if v, ok := b.cached("count"); ok {
		return v.(int64), nil
	}

	var n int64
	if len(b.nodes) == 0 {
		count, err := b.collection.Count(ctx)
		if err != nil {
			return 0, errors.WithMessagef(ErrQueryExecution, "count %s: %v", b.schema.Collection, err)
		}
		n = count
	} else {
		rows, err := b.baseRows(ctx)
		if err != nil {
			return 0, err
		}
		n = int64(len(rows))
	}
	b.storeCache("count", n)
	return n, nil
}

// first 头部记录：有排序子句时物化过滤集做全链排序后取头，
// 无排序子句时直接取过滤游标的自然首行。
func (b *Builder) first(ctx context.Context) (*model.Record, error) {
	if v, ok := b.cached("first"); ok {
		return v.(*model.Record), nil
	}
	record, err := b.edgeRecord(ctx, false)
	if err != nil {
		return nil, err
	}
	b.storeCache("first", record)
	return record, nil
}

func (b *Builder) last(ctx context.Context) (*model.Record, error) {
	if v, ok := b.cached("last"); ok {
		return v.(*model.Record), nil
	}
	record, err := b.edgeRecord(ctx, true)
	if err != nil {
		return nil, err
	}
	b.storeCache("last", record)
	return record, nil
}

func (b *Builder) edgeRecord(ctx context.Context, tail bool) (*model.Record, error) {
	var row store.Row
	var found bool

	switch {
	case len(b.sorts) > 0:
		rows, err := b.baseRows(ctx)
		if err != nil {
			return nil, err
		}
		sortRows(rows, b.sorts)
		if len(rows) > 0 {
			found = true
			if tail {
				row = rows[len(rows)-1]
			} else {
				row = rows[0]
			}
		}

	case len(b.nodes) == 0:
		var err error
		if tail {
			row, found, err = b.collection.Last(ctx)
		} else {
			row, found, err = b.collection.First(ctx)
		}
		if err != nil {
			return nil, errors.WithMessagef(ErrQueryExecution, "edge read %s: %v", b.schema.Collection, err)
		}

	default:
		filter := func(r store.Row) bool {
			return matchNodes(b.nodes, r.Fields)
		}
		var rows []store.Row
		var err error
		if tail {
			rows, err = b.collection.Scan(ctx, store.WithReverse(), store.WithFilter(filter), store.WithLimit(1))
		} else {
			rows, err = b.collection.Scan(ctx, store.WithFilter(filter), store.WithLimit(1))
		}
		if err != nil {
			return nil, errors.WithMessagef(ErrQueryExecution, "scan %s: %v", b.schema.Collection, err)
		}
		if len(rows) > 0 {
			row, found = rows[0], true
		}
	}

	if !found {
		return nil, nil
	}
	record := b.db.hydrate(b.schema, row)
	if err := b.eagerLoad(ctx, []*model.Record{record}); err != nil {
		return nil, err
	}
	return b.db.applyWrapSingle(record), nil
}

// First 头部记录的软版本：底层出错时上报错误通道并返回 nil
func (b *Builder) First(ctx context.Context) (*model.Record, error) {
	if !b.check() {
		return nil, b.err
	}
	record, err := b.first(ctx)
	if err != nil {
		b.db.RouteError(err)
		return nil, nil
	}
	return record, nil
}

// FirstOrFail 头部记录，未命中时返回 ErrRecordNotFound
func (b *Builder) FirstOrFail(ctx context.Context) (*model.Record, error) {
	if !b.check() {
		return nil, b.err
	}
	record, err := b.first(ctx)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.WithMessagef(ErrRecordNotFound, "collection %s", b.schema.Collection)
	}
	return record, nil
}

// Last 尾部记录
func (b *Builder) Last(ctx context.Context) (*model.Record, error) {
	if !b.check() {
		return nil, b.err
	}
	return b.last(ctx)
}

// Find 按主键查找的软版本：未命中或底层出错时返回 nil
func (b *Builder) Find(ctx context.Context, key any) (*model.Record, error) {
	if !b.check() {
		return nil, b.err
	}
	record, err := b.db.FindByKey(ctx, b.schema.Collection, key)
	if err != nil {
		b.db.RouteError(err)
		return nil, nil
	}
	if record != nil {
		if err := b.eagerLoad(ctx, []*model.Record{record}); err != nil {
			b.db.RouteError(err)
			return nil, nil
		}
	}
	return b.db.applyWrapSingle(record), nil
}

// FindOrFail 按主键查找，未命中时返回 ErrRecordNotFound
func (b *Builder) FindOrFail(ctx context.Context, key any) (*model.Record, error) {
	if !b.check() {
		return nil, b.err
	}
	record, err := b.db.FindByKey(ctx, b.schema.Collection, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.WithMessagef(ErrRecordNotFound, "collection %s key %v", b.schema.Collection, key)
	}
	if err := b.eagerLoad(ctx, []*model.Record{record}); err != nil {
		return nil, err
	}
	return b.db.applyWrapSingle(record), nil
}

// FindBy 按字段等值查找首条记录的软版本
func (b *Builder) FindBy(ctx context.Context, field string, value any) (*model.Record, error) {
	if !b.check() {
		return nil, b.err
	}
	return b.Clone().Where(field, query.OpEq, value).First(ctx)
}

// FindByOrFail 按字段等值查找首条记录，未命中时返回 ErrRecordNotFound
func (b *Builder) FindByOrFail(ctx context.Context, field string, value any) (*model.Record, error) {
	if !b.check() {
		return nil, b.err
	}
	return b.Clone().Where(field, query.OpEq, value).FirstOrFail(ctx)
}

// mutationTargets 变更类终端复用取数路径，不做关系预加载
func (b *Builder) mutationTargets(ctx context.Context) ([]*model.Record, error) {
	rows, err := b.fetchRows(ctx)
	if err != nil {
		return nil, err
	}
	return b.hydrateAll(rows), nil
}

// Update 对全部命中记录并行写入字段并保存，返回命中数
func (b *Builder) Update(ctx context.Context, fields map[string]any) (int, error) {
	if !b.check() {
		return 0, b.err
	}
	records, err := b.mutationTargets(ctx)
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, record := range records {
		g.Go(func() error {
			for field, value := range fields {
				if err := record.Set(field, value); err != nil {
					return err
				}
			}
			return record.Save(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Delete 并行删除全部命中记录，返回命中数
func (b *Builder) Delete(ctx context.Context) (int, error) {
	if !b.check() {
		return 0, b.err
	}
	records, err := b.mutationTargets(ctx)
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, record := range records {
		g.Go(func() error {
			return record.Delete(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Increment 对全部命中记录的数值字段做增量保存
func (b *Builder) Increment(ctx context.Context, field string, amount float64) (int, error) {
	return b.adjust(ctx, field, amount)
}

// Decrement 对全部命中记录的数值字段做减量保存
func (b *Builder) Decrement(ctx context.Context, field string, amount float64) (int, error) {
	return b.adjust(ctx, field, -amount)
}

func (b *Builder) adjust(ctx context.Context, field string, amount float64) (int, error) {
	if !b.check() {
		return 0, b.err
	}
	records, err := b.mutationTargets(ctx)
	if err != nil {
		return 0, err
	}

	integer := false
	if f, ok := b.schema.Field(field); ok && f.Type == schema.FieldTypeInt {
		integer = true
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, record := range records {
		g.Go(func() error {
			current, _ := record.Get(field)
			next := numeric(current) + amount

			var value any = next
			if integer {
				value = int64(next)
			}
			if err := record.Set(field, value); err != nil {
				return err
			}
			return record.Save(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(records), nil
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
