package query

import (
	"bytes"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/reorm/store"
)

// Compare 单个字段比较谓词
type Compare struct {
	Field string
	Op    Operator
	Value any

	combinator Combinator
	// negated 仅用于无精确逆操作的模式匹配操作符
	negated bool
	pattern *regexp.Regexp
	members []any
}

// NewCompare 构造比较谓词，操作数类型在构造时立即校验
func NewCompare(field string, op Operator, value any, combinator Combinator) (*Compare, error) {
	c := &Compare{
		Field:      field,
		Op:         op,
		Value:      value,
		combinator: combinator,
	}

	switch op {
	case OpEq, OpNe, OpExists, OpNotExists:
		// 任意操作数

	case OpLt, OpLte, OpGt, OpGte:
		if !orderable(value) {
			return nil, errors.WithMessagef(ErrNonComparableValue, "field %s operator %s got %T", field, op, value)
		}

	case OpLike, OpILike:
		s, ok := value.(string)
		if !ok {
			return nil, errors.WithMessagef(ErrNonStringPattern, "field %s operator %s got %T", field, op, value)
		}
		pattern, err := patternRegexp(s, op == OpILike)
		if err != nil {
			return nil, errors.WithMessage(err, "patternRegexp failed")
		}
		c.pattern = pattern

	case OpIn, OpNotIn:
		members, ok := toMembers(value)
		if !ok {
			return nil, errors.WithMessagef(ErrNonArrayValue, "field %s operator %s got %T", field, op, value)
		}
		c.members = members

	case OpBetween, OpNotBetween:
		members, ok := toMembers(value)
		if !ok || len(members) != 2 {
			return nil, errors.WithMessagef(ErrNonArrayValue, "field %s operator %s requires [low, high]", field, op)
		}
		if !orderable(members[0]) || !orderable(members[1]) {
			return nil, errors.WithMessagef(ErrNonComparableValue, "field %s operator %s bounds must be comparable", field, op)
		}
		c.members = members

	default:
		return nil, errors.WithMessagef(ErrInvalidOperator, "operator %s", op)
	}

	return c, nil
}

func (c *Compare) Combinator() Combinator {
	return c.combinator
}

// Negate 返回谓词的否定。存在精确逆操作的操作符做操作符取反，
// 模式匹配操作符对求值结果做字面取反。
func (c *Compare) Negate() *Compare {
	negated := *c
	if inverse, ok := inverseOperators[c.Op]; ok {
		negated.Op = inverse
		return &negated
	}
	negated.negated = !c.negated
	return &negated
}

func (c *Compare) Match(fields map[string]any) bool {
	value, present := fields[c.Field]

	var matched bool
	switch c.Op {
	case OpEq:
		matched = valueEqual(value, c.Value)
	case OpNe:
		matched = !valueEqual(value, c.Value)
	case OpLt:
		cmp, ok := compareValues(value, c.Value)
		matched = ok && cmp < 0
	case OpLte:
		cmp, ok := compareValues(value, c.Value)
		matched = ok && cmp <= 0
	case OpGt:
		cmp, ok := compareValues(value, c.Value)
		matched = ok && cmp > 0
	case OpGte:
		cmp, ok := compareValues(value, c.Value)
		matched = ok && cmp >= 0
	case OpLike, OpILike:
		s, ok := value.(string)
		matched = ok && c.pattern.MatchString(s)
	case OpIn:
		matched = memberOf(value, c.members)
	case OpNotIn:
		matched = !memberOf(value, c.members)
	case OpBetween:
		matched = withinRange(value, c.members)
	case OpNotBetween:
		matched = !withinRange(value, c.members)
	case OpExists:
		matched = present && value != nil
	case OpNotExists:
		matched = !present || value == nil
	}

	if c.negated {
		return !matched
	}
	return matched
}

// Index 返回谓词的原生索引描述，操作数不满足索引安全类型时返回 nil
func (c *Compare) Index() *IndexDescriptor {
	if c.negated {
		return nil
	}

	var kind store.IndexKind
	switch c.Op {
	case OpEq:
		kind = store.IndexEquals
	case OpNe:
		kind = store.IndexNotEqual
	case OpLt:
		kind = store.IndexBelow
	case OpLte:
		kind = store.IndexBelowOrEqual
	case OpGt:
		kind = store.IndexAbove
	case OpGte:
		kind = store.IndexAboveOrEqual
	case OpIn:
		kind = store.IndexAnyOf
	case OpNotIn:
		kind = store.IndexNoneOf
	case OpBetween:
		kind = store.IndexBetween
	default:
		return nil
	}

	if !store.IndexSafe(c.Value) {
		return nil
	}
	return &IndexDescriptor{Field: c.Field, Kind: kind, Arg: c.Value}
}

// patternRegexp 将 %/_ 通配符模式翻译为锚定正则
func patternRegexp(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	var sb strings.Builder
	if caseInsensitive {
		sb.WriteString("(?i)")
	}
	sb.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// orderable 判断值是否可参与排序比较
func orderable(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, string, time.Time, []byte:
		return true
	}
	return false
}

func toMembers(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	members := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		members[i] = rv.Index(i).Interface()
	}
	return members, true
}

func memberOf(value any, members []any) bool {
	for _, member := range members {
		if valueEqual(value, member) {
			return true
		}
	}
	return false
}

func withinRange(value any, bounds []any) bool {
	low, okLow := compareValues(value, bounds[0])
	high, okHigh := compareValues(value, bounds[1])
	return okLow && okHigh && low >= 0 && high <= 0
}

// valueEqual 值相等判断，数值跨类型按数值比较
func valueEqual(a, b any) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues 排序比较，仅同类值可比：数值之间、字符串之间（区域敏感）、
// 时间之间、字节序列之间。其余组合返回 ok=false。
func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}

	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return compareStrings(va, vb), true
	case time.Time:
		vb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return va.Compare(vb), true
	case []byte:
		vb, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(va, vb), true
	}

	return 0, false
}

// OrderValues 排序比较的全序扩展：nil 排在最前，
// 类型不可比时返回 0，交由稳定排序保持原有相对顺序。
func OrderValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
