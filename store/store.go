package store

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrKeyExists          = errors.New("key already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrFieldNotIndexed    = errors.New("field not indexed")
	ErrUnsupportedValue   = errors.New("unsupported index value")
)

// IndexKind 原生索引比较类型
type IndexKind string

const (
	IndexEquals       IndexKind = "equals"
	IndexNotEqual     IndexKind = "notEqual"
	IndexBelow        IndexKind = "below"
	IndexBelowOrEqual IndexKind = "belowOrEqual"
	IndexAbove        IndexKind = "above"
	IndexAboveOrEqual IndexKind = "aboveOrEqual"
	IndexAnyOf        IndexKind = "anyOf"
	IndexNoneOf       IndexKind = "noneOf"
	IndexBetween      IndexKind = "between"
)

// Row 存储行，Key 为主键，Fields 为字段表
type Row struct {
	Key    string
	Fields map[string]any
}

// CollectionSpec 集合定义，打开存储时声明主键与索引字段
type CollectionSpec struct {
	Name       string   `cfg:"name" yaml:"name" validate:"required"`
	PrimaryKey string   `cfg:"primaryKey" yaml:"primaryKey" validate:"required"`
	Indexes    []string `cfg:"indexes" yaml:"indexes"`
}

// scanOptions 扫描选项
type scanOptions struct {
	Filter  func(Row) bool
	Offset  int
	Limit   int
	Reverse bool
}

// ScanOption 扫描的函数式选项
type ScanOption func(*scanOptions)

func WithFilter(filter func(Row) bool) ScanOption {
	return func(options *scanOptions) {
		options.Filter = filter
	}
}

func WithOffset(offset int) ScanOption {
	return func(options *scanOptions) {
		options.Offset = offset
	}
}

func WithLimit(limit int) ScanOption {
	return func(options *scanOptions) {
		options.Limit = limit
	}
}

func WithReverse() ScanOption {
	return func(options *scanOptions) {
		options.Reverse = true
	}
}

func newScanOptions(opts ...ScanOption) *scanOptions {
	options := &scanOptions{Limit: -1}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Collection 单个集合的存储接口
type Collection interface {
	Name() string
	// Add 新增行，主键已存在时返回 ErrKeyExists
	Add(ctx context.Context, row Row) error
	// Put 写入行，已存在则覆盖
	Put(ctx context.Context, row Row) error
	// Get 按主键读取行，不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key string) (Row, error)
	// Delete 按主键删除行，不存在时也返回成功
	Delete(ctx context.Context, key string) error
	// Clear 清空集合
	Clear(ctx context.Context) error
	// Count 返回行数
	Count(ctx context.Context) (int64, error)
	// Scan 按自然序扫描
	Scan(ctx context.Context, opts ...ScanOption) ([]Row, error)
	// ScanIndex 通过字段索引扫描，字段未建索引时返回 ErrFieldNotIndexed
	ScanIndex(ctx context.Context, field string, kind IndexKind, arg any, opts ...ScanOption) ([]Row, error)
	// OrderedScan 按索引字段的值序扫描
	OrderedScan(ctx context.Context, field string, desc bool, opts ...ScanOption) ([]Row, error)
	// First 自然序下的第一行
	First(ctx context.Context) (Row, bool, error)
	// Last 自然序下的最后一行
	Last(ctx context.Context) (Row, bool, error)
}

// Store 按集合组织的带索引 KV 存储
type Store interface {
	Collection(name string) (Collection, error)
	Collections() []string
	Close() error
}

// indexMatch 判断已编码的索引值是否满足比较条件，两端均为 sortable 编码。
// 空值不参与排序比较：带空值标签的索引条目对排序类比较一律不命中，
// 与内存求值对 nil 的处理保持一致。
func indexMatch(encoded []byte, kind IndexKind, encodedArgs [][]byte) bool {
	if len(encoded) > 0 && encoded[0] == tagNull {
		switch kind {
		case IndexBelow, IndexBelowOrEqual, IndexAbove, IndexAboveOrEqual, IndexBetween:
			return false
		}
	}

	cmp := func(other []byte) int {
		return compareEncoded(encoded, other)
	}

	switch kind {
	case IndexEquals:
		return len(encodedArgs) == 1 && cmp(encodedArgs[0]) == 0
	case IndexNotEqual:
		return len(encodedArgs) == 1 && cmp(encodedArgs[0]) != 0
	case IndexBelow:
		return len(encodedArgs) == 1 && cmp(encodedArgs[0]) < 0
	case IndexBelowOrEqual:
		return len(encodedArgs) == 1 && cmp(encodedArgs[0]) <= 0
	case IndexAbove:
		return len(encodedArgs) == 1 && cmp(encodedArgs[0]) > 0
	case IndexAboveOrEqual:
		return len(encodedArgs) == 1 && cmp(encodedArgs[0]) >= 0
	case IndexAnyOf:
		for _, arg := range encodedArgs {
			if cmp(arg) == 0 {
				return true
			}
		}
		return false
	case IndexNoneOf:
		for _, arg := range encodedArgs {
			if cmp(arg) == 0 {
				return false
			}
		}
		return true
	case IndexBetween:
		return len(encodedArgs) == 2 && cmp(encodedArgs[0]) >= 0 && cmp(encodedArgs[1]) <= 0
	}
	return false
}

// encodeIndexArgs 将比较参数编码为 sortable 字节序列
func encodeIndexArgs(kind IndexKind, arg any) ([][]byte, error) {
	switch kind {
	case IndexAnyOf, IndexNoneOf, IndexBetween:
		values, ok := toAnySlice(arg)
		if !ok {
			return nil, errors.WithMessagef(ErrUnsupportedValue, "kind %s requires a slice argument", kind)
		}
		encoded := make([][]byte, 0, len(values))
		for _, v := range values {
			e, err := EncodeSortable(v)
			if err != nil {
				return nil, err
			}
			encoded = append(encoded, e)
		}
		if kind == IndexBetween && len(encoded) != 2 {
			return nil, errors.WithMessage(ErrUnsupportedValue, "between requires exactly two bounds")
		}
		return encoded, nil
	default:
		e, err := EncodeSortable(arg)
		if err != nil {
			return nil, err
		}
		return [][]byte{e}, nil
	}
}
