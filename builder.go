package reorm

import (
	"github.com/pkg/errors"

	"github.com/hatlonely/reorm/model"
	"github.com/hatlonely/reorm/query"
	"github.com/hatlonely/reorm/schema"
	"github.com/hatlonely/reorm/store"
)

// sortClause 单个排序子句，多个子句按声明顺序依次作为并列键的决胜
type sortClause struct {
	Field string
	Desc  bool
}

// Builder 查询构造器：谓词链加排序、分页与关系装载子句。
// 构造方法出错时记入粘滞错误，由终端方法统一返回。
type Builder struct {
	db         *Database
	schema     *schema.Schema
	collection store.Collection

	nodes     []query.Node
	sorts     []sortClause
	limit     int
	hasLimit  bool
	offset    int
	hasOffset bool
	withs     []string
	withAll   bool

	err   error
	cache map[string]any
}

// check 终端与构造方法共用的前置校验，数据库关闭后粘滞为未引用错误
func (b *Builder) check() bool {
	if b.err != nil {
		return false
	}

	b.db.mu.Lock()
	closed := b.db.closed
	b.db.mu.Unlock()
	if closed {
		b.err = errors.WithMessagef(ErrQueryBuilderUnreferenced, "collection %s", b.schema.Collection)
		return false
	}
	return true
}

func (b *Builder) addCompare(field string, op query.Operator, value any, combinator query.Combinator, negate bool) *Builder {
	if !b.check() {
		return b
	}

	compare, err := query.NewCompare(field, op, value, combinator)
	if err != nil {
		b.err = err
		return b
	}
	if negate {
		compare = compare.Negate()
	}
	b.appendNode(compare)
	return b
}

// appendNode 追加顶层谓词节点。与分组一致，同一层级内 and/or 不可混用：
// 首个节点的连接方式无意义，其余节点必须与链上已确立的连接方式相同，
// 混用记入粘滞错误，需要显式子分组表达。
func (b *Builder) appendNode(node query.Node) {
	if len(b.nodes) >= 2 && node.Combinator() != b.nodes[1].Combinator() {
		b.err = errors.WithMessagef(query.ErrMixedCombinator,
			"collection %s mixes %s and %s at one level", b.schema.Collection, b.nodes[1].Combinator(), node.Combinator())
		return
	}
	b.nodes = append(b.nodes, node)
	b.cache = nil
}

// Where 追加与前序谓词 and 连接的比较
func (b *Builder) Where(field string, op query.Operator, value any) *Builder {
	return b.addCompare(field, op, value, query.CombinatorAnd, false)
}

// AndWhere Where 的别名
func (b *Builder) AndWhere(field string, op query.Operator, value any) *Builder {
	return b.addCompare(field, op, value, query.CombinatorAnd, false)
}

// OrWhere 追加与前序谓词 or 连接的比较
func (b *Builder) OrWhere(field string, op query.Operator, value any) *Builder {
	return b.addCompare(field, op, value, query.CombinatorOr, false)
}

// WhereNot 追加取反的比较
func (b *Builder) WhereNot(field string, op query.Operator, value any) *Builder {
	return b.addCompare(field, op, value, query.CombinatorAnd, true)
}

func (b *Builder) OrWhereNot(field string, op query.Operator, value any) *Builder {
	return b.addCompare(field, op, value, query.CombinatorOr, true)
}

// WhereIn 集合成员谓词，values 须为数组或切片
func (b *Builder) WhereIn(field string, values any) *Builder {
	return b.addCompare(field, query.OpIn, values, query.CombinatorAnd, false)
}

func (b *Builder) WhereNotIn(field string, values any) *Builder {
	return b.addCompare(field, query.OpNotIn, values, query.CombinatorAnd, false)
}

func (b *Builder) OrWhereIn(field string, values any) *Builder {
	return b.addCompare(field, query.OpIn, values, query.CombinatorOr, false)
}

func (b *Builder) OrWhereNotIn(field string, values any) *Builder {
	return b.addCompare(field, query.OpNotIn, values, query.CombinatorOr, false)
}

// WhereNull 字段为空或未定义
func (b *Builder) WhereNull(field string) *Builder {
	return b.addCompare(field, query.OpNotExists, nil, query.CombinatorAnd, false)
}

// WhereNotNull 字段已定义且非空
func (b *Builder) WhereNotNull(field string) *Builder {
	return b.addCompare(field, query.OpExists, nil, query.CombinatorAnd, false)
}

func (b *Builder) OrWhereNull(field string) *Builder {
	return b.addCompare(field, query.OpNotExists, nil, query.CombinatorOr, false)
}

func (b *Builder) OrWhereNotNull(field string) *Builder {
	return b.addCompare(field, query.OpExists, nil, query.CombinatorOr, false)
}

// WhereBetween 闭区间谓词，bounds 为 [low, high]
func (b *Builder) WhereBetween(field string, bounds any) *Builder {
	return b.addCompare(field, query.OpBetween, bounds, query.CombinatorAnd, false)
}

func (b *Builder) WhereNotBetween(field string, bounds any) *Builder {
	return b.addCompare(field, query.OpNotBetween, bounds, query.CombinatorAnd, false)
}

func (b *Builder) OrWhereBetween(field string, bounds any) *Builder {
	return b.addCompare(field, query.OpBetween, bounds, query.CombinatorOr, false)
}

func (b *Builder) OrWhereNotBetween(field string, bounds any) *Builder {
	return b.addCompare(field, query.OpNotBetween, bounds, query.CombinatorOr, false)
}

// WhereLike 大小写敏感的通配符模式匹配，% 任意串，_ 单字符
func (b *Builder) WhereLike(field string, pattern string) *Builder {
	return b.addCompare(field, query.OpLike, pattern, query.CombinatorAnd, false)
}

// WhereILike 大小写不敏感的通配符模式匹配
func (b *Builder) WhereILike(field string, pattern string) *Builder {
	return b.addCompare(field, query.OpILike, pattern, query.CombinatorAnd, false)
}

func (b *Builder) WhereNotLike(field string, pattern string) *Builder {
	return b.addCompare(field, query.OpLike, pattern, query.CombinatorAnd, true)
}

func (b *Builder) OrWhereLike(field string, pattern string) *Builder {
	return b.addCompare(field, query.OpLike, pattern, query.CombinatorOr, false)
}

func (b *Builder) OrWhereILike(field string, pattern string) *Builder {
	return b.addCompare(field, query.OpILike, pattern, query.CombinatorOr, false)
}

func (b *Builder) WhereExists(field string) *Builder {
	return b.addCompare(field, query.OpExists, nil, query.CombinatorAnd, false)
}

func (b *Builder) WhereNotExists(field string) *Builder {
	return b.addCompare(field, query.OpNotExists, nil, query.CombinatorAnd, false)
}

// WhereGroup 以回调构造的显式子分组，同层混用 and/or 时使用
func (b *Builder) WhereGroup(fn func(*Builder)) *Builder {
	return b.addGroup(fn, query.CombinatorAnd)
}

func (b *Builder) OrWhereGroup(fn func(*Builder)) *Builder {
	return b.addGroup(fn, query.CombinatorOr)
}

func (b *Builder) addGroup(fn func(*Builder), combinator query.Combinator) *Builder {
	if !b.check() {
		return b
	}

	sub := &Builder{db: b.db, schema: b.schema, collection: b.collection}
	fn(sub)
	if sub.err != nil {
		b.err = sub.err
		return b
	}
	if len(sub.nodes) == 0 {
		return b
	}

	group, err := query.NewGroup(combinator, sub.nodes...)
	if err != nil {
		b.err = err
		return b
	}
	b.appendNode(group)
	return b
}

// OrderBy 追加升序排序子句，后续子句作为并列键的决胜
func (b *Builder) OrderBy(field string) *Builder {
	if !b.check() {
		return b
	}
	b.sorts = append(b.sorts, sortClause{Field: field})
	b.cache = nil
	return b
}

// OrderByDesc 追加降序排序子句
func (b *Builder) OrderByDesc(field string) *Builder {
	if !b.check() {
		return b
	}
	b.sorts = append(b.sorts, sortClause{Field: field, Desc: true})
	b.cache = nil
	return b
}

func (b *Builder) Limit(n int) *Builder {
	if !b.check() {
		return b
	}
	b.limit = n
	b.hasLimit = true
	b.cache = nil
	return b
}

func (b *Builder) Offset(n int) *Builder {
	if !b.check() {
		return b
	}
	b.offset = n
	b.hasOffset = true
	b.cache = nil
	return b
}

// ForPage 按页取数，page 从 1 起
func (b *Builder) ForPage(page, perPage int) *Builder {
	if page < 1 {
		page = 1
	}
	return b.Offset((page - 1) * perPage).Limit(perPage)
}

// With 预加载指定关系，在装配记录时并行解析
func (b *Builder) With(names ...string) *Builder {
	if !b.check() {
		return b
	}
	for _, name := range names {
		if _, ok := b.schema.Relation(name); !ok {
			b.err = errors.WithMessagef(model.ErrPropertyNotFound, "collection %s relation %s", b.schema.Collection, name)
			return b
		}
	}
	b.withs = append(b.withs, names...)
	return b
}

// WithAll 预加载模式声明的全部关系
func (b *Builder) WithAll() *Builder {
	if !b.check() {
		return b
	}
	b.withAll = true
	return b
}

// Clone 复制构造器，结果缓存不随克隆传递
func (b *Builder) Clone() *Builder {
	cloned := &Builder{
		db:         b.db,
		schema:     b.schema,
		collection: b.collection,
		limit:      b.limit,
		hasLimit:   b.hasLimit,
		offset:     b.offset,
		hasOffset:  b.hasOffset,
		withAll:    b.withAll,
		err:        b.err,
	}
	cloned.nodes = append([]query.Node(nil), b.nodes...)
	cloned.sorts = append([]sortClause(nil), b.sorts...)
	cloned.withs = append([]string(nil), b.withs...)
	return cloned
}

// Clear 清空全部谓词与子句，保留集合绑定
func (b *Builder) Clear() *Builder {
	b.nodes = nil
	b.sorts = nil
	b.limit = 0
	b.hasLimit = false
	b.offset = 0
	b.hasOffset = false
	b.withs = nil
	b.withAll = false
	b.err = nil
	b.cache = nil
	return b
}
