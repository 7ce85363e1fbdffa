package query

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/hatlonely/reorm/store"
)

var (
	ErrInvalidOperator    = errors.New("invalid where operator")
	ErrNonComparableValue = errors.New("non-comparable value for ordering operator")
	ErrNonStringPattern   = errors.New("non-string value for pattern operator")
	ErrNonArrayValue      = errors.New("non-array value for membership or range operator")
	ErrMixedCombinator    = errors.New("mixed and/or combinators in one group")
)

// Operator 比较操作符
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLike       Operator = "like"
	OpILike      Operator = "ilike"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notIn"
	OpBetween    Operator = "between"
	OpNotBetween Operator = "notBetween"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "notExists"
)

// Combinator 谓词与前一个谓词的逻辑连接方式
type Combinator string

const (
	CombinatorAnd Combinator = "and"
	CombinatorOr  Combinator = "or"
)

// Node 谓词节点接口
type Node interface {
	Combinator() Combinator
	// Match 在内存中判断字段表是否满足谓词
	Match(fields map[string]any) bool
}

// IndexDescriptor 原生索引执行描述：字段、索引比较类型、比较参数。
// 仅当字段建有索引且操作数为索引安全类型时可用。
type IndexDescriptor struct {
	Field string
	Kind  store.IndexKind
	Arg   any
}

// inverseOperators 存在精确逆操作的操作符对
var inverseOperators = map[Operator]Operator{
	OpEq:         OpNe,
	OpNe:         OpEq,
	OpLt:         OpGte,
	OpGte:        OpLt,
	OpLte:        OpGt,
	OpGt:         OpLte,
	OpIn:         OpNotIn,
	OpNotIn:      OpIn,
	OpBetween:    OpNotBetween,
	OpNotBetween: OpBetween,
	OpExists:     OpNotExists,
	OpNotExists:  OpExists,
}

var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und)
)

// compareStrings 区域敏感的字符串比较
func compareStrings(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}
