package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemStoreOptions 内存存储选项
type MemStoreOptions struct {
	// Collections 集合定义列表
	Collections []CollectionSpec `cfg:"collections" validate:"required,dive"`
}

// MemStore 内存存储实现，自然序为主键字节序，与 BoltStore 保持一致
type MemStore struct {
	collections map[string]*MemCollection
	names       []string
}

func NewMemStoreWithOptions(options *MemStoreOptions) (*MemStore, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if len(options.Collections) == 0 {
		return nil, errors.New("collections is empty")
	}

	s := &MemStore{
		collections: make(map[string]*MemCollection),
	}
	for _, spec := range options.Collections {
		if spec.Name == "" {
			return nil, errors.New("collection name is empty")
		}
		if _, exists := s.collections[spec.Name]; exists {
			return nil, errors.Errorf("duplicate collection: %s", spec.Name)
		}
		indexes := make(map[string]bool, len(spec.Indexes))
		for _, field := range spec.Indexes {
			indexes[field] = true
		}
		s.collections[spec.Name] = &MemCollection{
			name:    spec.Name,
			indexes: indexes,
			rows:    make(map[string]map[string]any),
		}
		s.names = append(s.names, spec.Name)
	}
	sort.Strings(s.names)

	return s, nil
}

func (s *MemStore) Collection(name string) (Collection, error) {
	c, exists := s.collections[name]
	if !exists {
		return nil, errors.WithMessagef(ErrCollectionNotFound, "collection %s", name)
	}
	return c, nil
}

func (s *MemStore) Collections() []string {
	return append([]string(nil), s.names...)
}

func (s *MemStore) Close() error {
	return nil
}

// MemCollection 内存集合
type MemCollection struct {
	mu      sync.RWMutex
	name    string
	indexes map[string]bool
	rows    map[string]map[string]any
	order   []string
}

func (c *MemCollection) Name() string {
	return c.name
}

func (c *MemCollection) Add(ctx context.Context, row Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.rows[row.Key]; exists {
		return errors.WithMessagef(ErrKeyExists, "key %s", row.Key)
	}
	c.rows[row.Key] = cloneFields(row.Fields)
	idx := sort.SearchStrings(c.order, row.Key)
	c.order = append(c.order, "")
	copy(c.order[idx+1:], c.order[idx:])
	c.order[idx] = row.Key
	return nil
}

func (c *MemCollection) Put(ctx context.Context, row Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.rows[row.Key]; !exists {
		idx := sort.SearchStrings(c.order, row.Key)
		c.order = append(c.order, "")
		copy(c.order[idx+1:], c.order[idx:])
		c.order[idx] = row.Key
	}
	c.rows[row.Key] = cloneFields(row.Fields)
	return nil
}

func (c *MemCollection) Get(ctx context.Context, key string) (Row, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fields, exists := c.rows[key]
	if !exists {
		return Row{}, errors.WithMessagef(ErrKeyNotFound, "key %s", key)
	}
	return Row{Key: key, Fields: cloneFields(fields)}, nil
}

func (c *MemCollection) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.rows[key]; !exists {
		return nil
	}
	delete(c.rows, key)
	idx := sort.SearchStrings(c.order, key)
	if idx < len(c.order) && c.order[idx] == key {
		c.order = append(c.order[:idx], c.order[idx+1:]...)
	}
	return nil
}

func (c *MemCollection) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rows = make(map[string]map[string]any)
	c.order = nil
	return nil
}

func (c *MemCollection) Count(ctx context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return int64(len(c.rows)), nil
}

func (c *MemCollection) Scan(ctx context.Context, opts ...ScanOption) ([]Row, error) {
	options := newScanOptions(opts...)

	c.mu.RLock()
	rows := make([]Row, 0, len(c.order))
	for _, key := range c.order {
		rows = append(rows, Row{Key: key, Fields: cloneFields(c.rows[key])})
	}
	c.mu.RUnlock()

	return applyWindow(rows, options), nil
}

func (c *MemCollection) ScanIndex(ctx context.Context, field string, kind IndexKind, arg any, opts ...ScanOption) ([]Row, error) {
	if !c.indexes[field] {
		return nil, errors.WithMessagef(ErrFieldNotIndexed, "field %s", field)
	}
	options := newScanOptions(opts...)

	encodedArgs, err := encodeIndexArgs(kind, arg)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	matched := make([]encodedRow, 0)
	for _, key := range c.order {
		fields := c.rows[key]
		encoded, err := EncodeSortable(fields[field])
		if err != nil {
			// 缺失或不可编码的值以空值参与索引
			encoded = []byte{tagNull}
		}
		if indexMatch(encoded, kind, encodedArgs) {
			matched = append(matched, encodedRow{
				encoded: encoded,
				row:     Row{Key: key, Fields: cloneFields(fields)},
			})
		}
	}
	c.mu.RUnlock()

	// 与索引遍历保持一致：按索引值序输出，主键序打破平局
	sortEncodedRows(matched)
	rows := make([]Row, 0, len(matched))
	for _, m := range matched {
		rows = append(rows, m.row)
	}
	return applyWindow(rows, options), nil
}

func (c *MemCollection) OrderedScan(ctx context.Context, field string, desc bool, opts ...ScanOption) ([]Row, error) {
	if !c.indexes[field] {
		return nil, errors.WithMessagef(ErrFieldNotIndexed, "field %s", field)
	}
	options := newScanOptions(opts...)

	c.mu.RLock()
	all := make([]encodedRow, 0, len(c.order))
	for _, key := range c.order {
		fields := c.rows[key]
		encoded, err := EncodeSortable(fields[field])
		if err != nil {
			// 缺失或不可编码的值按空值参与排序，保持结果集完整
			encoded = []byte{tagNull}
		}
		all = append(all, encodedRow{
			encoded: encoded,
			row:     Row{Key: key, Fields: cloneFields(fields)},
		})
	}
	c.mu.RUnlock()

	sortEncodedRows(all)
	rows := make([]Row, 0, len(all))
	for _, m := range all {
		rows = append(rows, m.row)
	}
	if desc {
		reverseRows(rows)
	}
	return applyWindow(rows, options), nil
}

func (c *MemCollection) First(ctx context.Context) (Row, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.order) == 0 {
		return Row{}, false, nil
	}
	key := c.order[0]
	return Row{Key: key, Fields: cloneFields(c.rows[key])}, true, nil
}

func (c *MemCollection) Last(ctx context.Context) (Row, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.order) == 0 {
		return Row{}, false, nil
	}
	key := c.order[len(c.order)-1]
	return Row{Key: key, Fields: cloneFields(c.rows[key])}, true, nil
}

type encodedRow struct {
	encoded []byte
	row     Row
}

func sortEncodedRows(rows []encodedRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if cmp := compareEncoded(rows[i].encoded, rows[j].encoded); cmp != 0 {
			return cmp < 0
		}
		return rows[i].row.Key < rows[j].row.Key
	})
}

func applyWindow(rows []Row, options *scanOptions) []Row {
	if options.Reverse {
		reverseRows(rows)
	}
	if options.Filter != nil {
		filtered := rows[:0]
		for _, row := range rows {
			if options.Filter(row) {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	if options.Offset > 0 {
		if options.Offset >= len(rows) {
			return nil
		}
		rows = rows[options.Offset:]
	}
	if options.Limit >= 0 && options.Limit < len(rows) {
		rows = rows[:options.Limit]
	}
	return rows
}

func reverseRows(rows []Row) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

func cloneFields(fields map[string]any) map[string]any {
	cloned := make(map[string]any, len(fields))
	for k, v := range fields {
		cloned[k] = v
	}
	return cloned
}
