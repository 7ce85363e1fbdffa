package store

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// BoltStoreOptions BoltDB 存储选项
type BoltStoreOptions struct {
	// DBPath 数据库文件路径，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	// Collections 集合定义列表
	Collections []CollectionSpec `cfg:"collections" validate:"required,dive"`

	// Timeout 获取文件锁的等待时间，为零时无限期等待
	Timeout time.Duration `cfg:"timeout"`

	// NoSync 设置 DB.NoSync 的初始值
	NoSync bool `cfg:"noSync"`

	// ReadOnly 以只读模式打开数据库
	ReadOnly bool `cfg:"readOnly"`
}

// BoltStore 基于 bbolt 的带索引存储。
// 每个集合使用一个行桶（r:<name>，msgpack 编码的字段表）和
// 每个索引字段一个索引桶（i:<name>:<field>），
// 索引键为 sortable 编码的字段值拼接主键，遍历索引桶即为值序扫描。
type BoltStore struct {
	db    *bolt.DB
	specs map[string]CollectionSpec
	names []string
}

func NewBoltStoreWithOptions(options *BoltStoreOptions) (*BoltStore, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if len(options.Collections) == 0 {
		return nil, errors.New("collections is empty")
	}

	db, err := bolt.Open(options.DBPath, 0600, &bolt.Options{
		Timeout:  options.Timeout,
		NoSync:   options.NoSync,
		ReadOnly: options.ReadOnly,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "bolt.Open failed")
	}

	s := &BoltStore{
		db:    db,
		specs: make(map[string]CollectionSpec),
	}
	for _, spec := range options.Collections {
		if _, exists := s.specs[spec.Name]; exists {
			_ = db.Close()
			return nil, errors.Errorf("duplicate collection: %s", spec.Name)
		}
		s.specs[spec.Name] = spec
		s.names = append(s.names, spec.Name)
	}
	sort.Strings(s.names)

	if !options.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, spec := range options.Collections {
				if _, err := tx.CreateBucketIfNotExists(rowBucket(spec.Name)); err != nil {
					return err
				}
				for _, field := range spec.Indexes {
					if _, err := tx.CreateBucketIfNotExists(indexBucket(spec.Name, field)); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			_ = db.Close()
			return nil, errors.WithMessage(err, "create buckets failed")
		}
	}

	return s, nil
}

func (s *BoltStore) Collection(name string) (Collection, error) {
	spec, exists := s.specs[name]
	if !exists {
		return nil, errors.WithMessagef(ErrCollectionNotFound, "collection %s", name)
	}
	indexes := make(map[string]bool, len(spec.Indexes))
	for _, field := range spec.Indexes {
		indexes[field] = true
	}
	return &BoltCollection{db: s.db, spec: spec, indexes: indexes}, nil
}

func (s *BoltStore) Collections() []string {
	return append([]string(nil), s.names...)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// BoltCollection 单个集合的 bbolt 实现
type BoltCollection struct {
	db      *bolt.DB
	spec    CollectionSpec
	indexes map[string]bool
}

func rowBucket(name string) []byte {
	return []byte("r:" + name)
}

func indexBucket(name, field string) []byte {
	return []byte("i:" + name + ":" + field)
}

// decodeFields 解码行数据并统一值形态：整数一律还原为 int64，
// 浮点数还原为 float64，保证两种驱动对外呈现一致的字段值。
func decodeFields(data []byte) (map[string]any, error) {
	var fields map[string]any
	if err := msgpack.Unmarshal(data, &fields); err != nil {
		return nil, errors.WithMessage(err, "msgpack.Unmarshal failed")
	}
	for k, v := range fields {
		fields[k] = normalizeValue(v)
	}
	return fields, nil
}

func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	case []any:
		for i, item := range n {
			n[i] = normalizeValue(item)
		}
		return n
	case map[string]any:
		for k, item := range n {
			n[k] = normalizeValue(item)
		}
		return n
	case map[any]any:
		converted := make(map[string]any, len(n))
		for k, item := range n {
			if name, ok := k.(string); ok {
				converted[name] = normalizeValue(item)
			}
		}
		return converted
	}
	return v
}

// indexValue 计算字段值的索引编码，缺失或不可编码的值以空值参与索引
func indexValue(fields map[string]any, field string) []byte {
	encoded, err := EncodeSortable(fields[field])
	if err != nil {
		return []byte{tagNull}
	}
	return encoded
}

func indexKey(encoded []byte, pk string) []byte {
	key := make([]byte, 0, len(encoded)+len(pk))
	key = append(key, encoded...)
	key = append(key, pk...)
	return key
}

func (c *BoltCollection) Name() string {
	return c.spec.Name
}

func (c *BoltCollection) putIndexes(tx *bolt.Tx, key string, oldFields, newFields map[string]any) error {
	for _, field := range c.spec.Indexes {
		bucket := tx.Bucket(indexBucket(c.spec.Name, field))
		if bucket == nil {
			return errors.Errorf("index bucket missing: %s.%s", c.spec.Name, field)
		}
		if oldFields != nil {
			if err := bucket.Delete(indexKey(indexValue(oldFields, field), key)); err != nil {
				return err
			}
		}
		if newFields != nil {
			if err := bucket.Put(indexKey(indexValue(newFields, field), key), []byte(key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *BoltCollection) Add(ctx context.Context, row Row) error {
	data, err := msgpack.Marshal(row.Fields)
	if err != nil {
		return errors.WithMessage(err, "msgpack.Marshal failed")
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rowBucket(c.spec.Name))
		if bucket.Get([]byte(row.Key)) != nil {
			return errors.WithMessagef(ErrKeyExists, "key %s", row.Key)
		}
		if err := bucket.Put([]byte(row.Key), data); err != nil {
			return err
		}
		return c.putIndexes(tx, row.Key, nil, row.Fields)
	})
}

func (c *BoltCollection) Put(ctx context.Context, row Row) error {
	data, err := msgpack.Marshal(row.Fields)
	if err != nil {
		return errors.WithMessage(err, "msgpack.Marshal failed")
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rowBucket(c.spec.Name))
		var oldFields map[string]any
		if old := bucket.Get([]byte(row.Key)); old != nil {
			decoded, err := decodeFields(old)
			if err != nil {
				return err
			}
			oldFields = decoded
		}
		if err := bucket.Put([]byte(row.Key), data); err != nil {
			return err
		}
		return c.putIndexes(tx, row.Key, oldFields, row.Fields)
	})
}

func (c *BoltCollection) Get(ctx context.Context, key string) (Row, error) {
	var row Row
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(rowBucket(c.spec.Name)).Get([]byte(key))
		if data == nil {
			return errors.WithMessagef(ErrKeyNotFound, "key %s", key)
		}
		fields, err := decodeFields(data)
		if err != nil {
			return err
		}
		row = Row{Key: key, Fields: fields}
		return nil
	})
	return row, err
}

func (c *BoltCollection) Delete(ctx context.Context, key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rowBucket(c.spec.Name))
		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		oldFields, err := decodeFields(data)
		if err != nil {
			return err
		}
		if err := bucket.Delete([]byte(key)); err != nil {
			return err
		}
		return c.putIndexes(tx, key, oldFields, nil)
	})
}

func (c *BoltCollection) Clear(ctx context.Context) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(rowBucket(c.spec.Name)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(rowBucket(c.spec.Name)); err != nil {
			return err
		}
		for _, field := range c.spec.Indexes {
			if err := tx.DeleteBucket(indexBucket(c.spec.Name, field)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(indexBucket(c.spec.Name, field)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BoltCollection) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.View(func(tx *bolt.Tx) error {
		count = int64(tx.Bucket(rowBucket(c.spec.Name)).Stats().KeyN)
		return nil
	})
	return count, err
}

func (c *BoltCollection) Scan(ctx context.Context, opts ...ScanOption) ([]Row, error) {
	options := newScanOptions(opts...)

	var rows []Row
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rowBucket(c.spec.Name)).ForEach(func(k, v []byte) error {
			fields, err := decodeFields(v)
			if err != nil {
				return err
			}
			rows = append(rows, Row{Key: string(k), Fields: fields})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return applyWindow(rows, options), nil
}

func (c *BoltCollection) ScanIndex(ctx context.Context, field string, kind IndexKind, arg any, opts ...ScanOption) ([]Row, error) {
	if !c.indexes[field] {
		return nil, errors.WithMessagef(ErrFieldNotIndexed, "field %s", field)
	}
	options := newScanOptions(opts...)

	encodedArgs, err := encodeIndexArgs(kind, arg)
	if err != nil {
		return nil, err
	}

	var rows []Row
	err = c.db.View(func(tx *bolt.Tx) error {
		rowsBucket := tx.Bucket(rowBucket(c.spec.Name))
		cursor := tx.Bucket(indexBucket(c.spec.Name, field)).Cursor()
		for k, pk := cursor.First(); k != nil; k, pk = cursor.Next() {
			encoded, ok := splitIndexKey(k, string(pk))
			if !ok {
				continue
			}
			if !indexMatch(encoded, kind, encodedArgs) {
				continue
			}
			data := rowsBucket.Get(pk)
			if data == nil {
				continue
			}
			fields, err := decodeFields(data)
			if err != nil {
				return err
			}
			rows = append(rows, Row{Key: string(pk), Fields: fields})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applyWindow(rows, options), nil
}

func (c *BoltCollection) OrderedScan(ctx context.Context, field string, desc bool, opts ...ScanOption) ([]Row, error) {
	if !c.indexes[field] {
		return nil, errors.WithMessagef(ErrFieldNotIndexed, "field %s", field)
	}
	options := newScanOptions(opts...)

	var rows []Row
	err := c.db.View(func(tx *bolt.Tx) error {
		rowsBucket := tx.Bucket(rowBucket(c.spec.Name))
		cursor := tx.Bucket(indexBucket(c.spec.Name, field)).Cursor()

		next := cursor.Next
		k, pk := cursor.First()
		if desc {
			next = cursor.Prev
			k, pk = cursor.Last()
		}
		for ; k != nil; k, pk = next() {
			data := rowsBucket.Get(pk)
			if data == nil {
				continue
			}
			fields, err := decodeFields(data)
			if err != nil {
				return err
			}
			rows = append(rows, Row{Key: string(pk), Fields: fields})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applyWindow(rows, options), nil
}

func (c *BoltCollection) First(ctx context.Context) (Row, bool, error) {
	return c.edge(func(cursor *bolt.Cursor) ([]byte, []byte) { return cursor.First() })
}

func (c *BoltCollection) Last(ctx context.Context) (Row, bool, error) {
	return c.edge(func(cursor *bolt.Cursor) ([]byte, []byte) { return cursor.Last() })
}

func (c *BoltCollection) edge(pick func(*bolt.Cursor) ([]byte, []byte)) (Row, bool, error) {
	var row Row
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		k, v := pick(tx.Bucket(rowBucket(c.spec.Name)).Cursor())
		if k == nil {
			return nil
		}
		fields, err := decodeFields(v)
		if err != nil {
			return err
		}
		row = Row{Key: string(k), Fields: fields}
		found = true
		return nil
	})
	return row, found, err
}

// splitIndexKey 从索引键中剥离末尾主键，返回字段值的编码部分
func splitIndexKey(key []byte, pk string) ([]byte, bool) {
	if len(key) < len(pk) {
		return nil, false
	}
	if string(key[len(key)-len(pk):]) != pk {
		return nil, false
	}
	return key[:len(key)-len(pk)], true
}
