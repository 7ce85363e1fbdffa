package reorm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hatlonely/reorm/bus"
	"github.com/hatlonely/reorm/logger"
	"github.com/hatlonely/reorm/model"
	"github.com/hatlonely/reorm/query"
	"github.com/hatlonely/reorm/relation"
	"github.com/hatlonely/reorm/schema"
	"github.com/hatlonely/reorm/store"
)

// WrapRecord 宿主框架的实例替换钩子，返回原实例或透明替身
type WrapRecord func(*model.Record) *model.Record

// WrapRecords 集合结果的实例替换钩子
type WrapRecords func([]*model.Record) []*model.Record

type DatabaseOptions struct {
	// Store 带索引的 KV 存储，必填
	Store store.Store `validate:"required"`

	// Bus 事件总线，缺省为进程内总线
	Bus bus.Bus

	// Logger 缺省为空日志
	Logger logger.Logger

	// Schemas 全部集合模式，必填
	Schemas []*schema.Schema `validate:"required"`

	// EnableMetrics 为集合操作挂接 prometheus 指标
	EnableMetrics bool `cfg:"enableMetrics"`
	// MetricsRegisterer 指标注册器，空时使用默认注册器
	MetricsRegisterer prometheus.Registerer

	// 构造钩子，各自在实例构造时恰好执行一次，空时为恒等
	WrapModel            WrapRecord
	WrapCollectionResult WrapRecords
	WrapSingleResult     WrapRecord
}

// Database 反应式查询与关系引擎的装配根。
// 持有集合句柄、实例注册表与监听注销台账，关闭后拒绝一切查询。
type Database struct {
	mu sync.Mutex

	store    store.Store
	eventBus bus.Bus
	log      logger.Logger

	schemas     map[string]*schema.Schema
	collections map[string]store.Collection
	registry    *model.Registry

	wrapModel            WrapRecord
	wrapCollectionResult WrapRecords
	wrapSingleResult     WrapRecord

	nextHandler   int64
	errorHandlers map[int64]func(error)

	subs   map[*Subscription]struct{}
	closed bool
}

func NewDatabaseWithOptions(options *DatabaseOptions) (*Database, error) {
	if options.Store == nil {
		return nil, errors.New("DatabaseOptions.Store is required")
	}
	if len(options.Schemas) == 0 {
		return nil, errors.New("DatabaseOptions.Schemas is required")
	}

	eventBus := options.Bus
	if eventBus == nil {
		eventBus = bus.NewLocalBus()
	}
	log := options.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	db := &Database{
		store:                options.Store,
		eventBus:             eventBus,
		log:                  log,
		schemas:              make(map[string]*schema.Schema, len(options.Schemas)),
		collections:          make(map[string]store.Collection, len(options.Schemas)),
		registry:             model.NewRegistry(),
		wrapModel:            options.WrapModel,
		wrapCollectionResult: options.WrapCollectionResult,
		wrapSingleResult:     options.WrapSingleResult,
		errorHandlers:        make(map[int64]func(error)),
		subs:                 make(map[*Subscription]struct{}),
	}

	var metrics *store.ObservableMetrics
	if options.EnableMetrics {
		metrics = store.NewObservableMetrics("reorm", options.MetricsRegisterer)
	}

	for _, s := range options.Schemas {
		if err := s.Check(); err != nil {
			return nil, errors.WithMessagef(err, "schema check failed for collection %s", s.Collection)
		}
		if _, ok := db.schemas[s.Collection]; ok {
			return nil, errors.Errorf("duplicate schema for collection %s", s.Collection)
		}
		db.schemas[s.Collection] = s
	}

	// 静态目标集合必须已声明；morphTo 的目标由判别字段动态决定
	for _, s := range options.Schemas {
		for i := range s.Relations {
			def := &s.Relations[i]
			if def.Target != "" && db.schemas[def.Target] == nil {
				return nil, errors.WithMessagef(ErrModelNotFound,
					"collection %s relation %s targets %s", s.Collection, def.Name, def.Target)
			}
		}
	}

	for name := range db.schemas {
		collection, err := options.Store.Collection(name)
		if err != nil {
			return nil, errors.WithMessagef(err, "store has no collection %s", name)
		}
		if metrics != nil {
			collection = store.NewObservableCollection(collection, log, metrics)
		}
		db.collections[name] = collection
	}

	return db, nil
}

var _ relation.Source = (*Database)(nil)

// CollectionSpecs 从集合模式推导存储集合定义，打开存储时使用
func CollectionSpecs(schemas []*schema.Schema) []store.CollectionSpec {
	specs := make([]store.CollectionSpec, 0, len(schemas))
	for _, s := range schemas {
		specs = append(specs, store.CollectionSpec{
			Name:       s.Collection,
			PrimaryKey: s.PrimaryKey,
			Indexes:    s.IndexedFields(),
		})
	}
	return specs
}

// C 返回集合的查询构造器，未声明的集合名得到带错误的构造器
func (db *Database) C(name string) *Builder {
	b := &Builder{db: db}

	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		b.err = errors.WithMessagef(ErrQueryBuilderUnreferenced, "collection %s", name)
		return b
	}

	s, ok := db.schemas[name]
	if !ok {
		b.err = errors.WithMessagef(ErrModelNotFound, "collection %s", name)
		return b
	}
	b.schema = s
	b.collection = db.collections[name]
	return b
}

// New 创建集合的未保存记录，模式声明的缺省值预先写入待提交状态
func (db *Database) New(name string) (*model.Record, error) {
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return nil, errors.WithMessagef(ErrQueryBuilderUnreferenced, "collection %s", name)
	}

	s, ok := db.schemas[name]
	if !ok {
		return nil, errors.WithMessagef(ErrModelNotFound, "collection %s", name)
	}

	record := model.New(s, db.collections[name], db.eventBus, db.registry)
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Default == nil {
			continue
		}
		if err := record.Set(f.Name, f.Default); err != nil {
			return nil, errors.WithMessagef(err, "apply default for field %s", f.Name)
		}
	}
	db.mountResolvers(record, s)
	return db.applyWrapModel(record), nil
}

// Truncate 清空集合、广播清空事件并把在内存中可达的实例标记删除
func (db *Database) Truncate(ctx context.Context, name string) error {
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return errors.WithMessagef(ErrQueryBuilderUnreferenced, "collection %s", name)
	}

	collection, ok := db.collections[name]
	if !ok {
		return errors.WithMessagef(ErrModelNotFound, "collection %s", name)
	}
	if err := collection.Clear(ctx); err != nil {
		return errors.WithMessagef(err, "clear failed in collection %s", name)
	}

	db.registry.MarkTruncated(name)

	event := bus.ChangeEvent{Action: bus.ActionTruncate, Collection: name}
	db.eventBus.Emit(event.EventName(), event)
	db.eventBus.Emit(bus.EventStorageMutation, event)
	return nil
}

// OnError 注册异步内部错误的处理器，返回注销函数。
// 存在至少一个处理器时错误只交给处理器，否则落到错误日志。
func (db *Database) OnError(fn func(error)) (off func()) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextHandler++
	id := db.nextHandler
	db.errorHandlers[id] = fn

	return func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		delete(db.errorHandlers, id)
	}
}

// Shutdown 注销全部活跃订阅、关闭总线与存储。
// 已分发的构造器此后一律返回 ErrQueryBuilderUnreferenced。
func (db *Database) Shutdown() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	subs := make([]*Subscription, 0, len(db.subs))
	for sub := range db.subs {
		subs = append(subs, sub)
	}
	db.subs = make(map[*Subscription]struct{})
	db.mu.Unlock()

	for _, sub := range subs {
		sub.Unmount()
	}

	if err := db.eventBus.Close(); err != nil {
		db.log.Warn("event bus close failed", "error", err)
	}
	if err := db.store.Close(); err != nil {
		return errors.WithMessage(err, "store close failed")
	}
	return nil
}

// Registry 集合实例注册表，诊断用
func (db *Database) Registry() *model.Registry {
	return db.registry
}

func (db *Database) trackSubscription(sub *Subscription) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.subs[sub] = struct{}{}
}

func (db *Database) releaseSubscription(sub *Subscription) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.subs, sub)
}

func (db *Database) applyWrapModel(record *model.Record) *model.Record {
	if db.wrapModel == nil {
		return record
	}
	return db.wrapModel(record)
}

func (db *Database) applyWrapCollection(records []*model.Record) []*model.Record {
	if db.wrapCollectionResult == nil {
		return records
	}
	return db.wrapCollectionResult(records)
}

func (db *Database) applyWrapSingle(record *model.Record) *model.Record {
	if record == nil || db.wrapSingleResult == nil {
		return record
	}
	return db.wrapSingleResult(record)
}

func (db *Database) mountResolvers(record *model.Record, s *schema.Schema) {
	for i := range s.Relations {
		def := s.Relations[i]
		resolver, err := relation.New(def, db)
		if err != nil {
			// 关系定义在 Check 阶段已校验，这里只可能是未知类型
			db.RouteError(errors.WithMessagef(err, "mount resolver %s on collection %s", def.Name, s.Collection))
			continue
		}
		record.SetResolver(def.Name, resolver)
	}
}

// hydrate 把存储行装配为带关系解析器的记录
func (db *Database) hydrate(s *schema.Schema, row store.Row) *model.Record {
	record := model.Hydrate(s, db.collections[s.Collection], db.eventBus, db.registry, row)
	db.mountResolvers(record, s)
	return db.applyWrapModel(record)
}

// RowsBy 按字段等值查找并装配记录，字段有索引时走原生索引
func (db *Database) RowsBy(ctx context.Context, collection, field string, value any) ([]*model.Record, error) {
	return db.rowsMatching(ctx, collection, field, query.OpEq, value)
}

// RowsByIn 按字段集合成员查找并装配记录
func (db *Database) RowsByIn(ctx context.Context, collection, field string, values []any) ([]*model.Record, error) {
	return db.rowsMatching(ctx, collection, field, query.OpIn, values)
}

func (db *Database) rowsMatching(ctx context.Context, collection, field string, op query.Operator, value any) ([]*model.Record, error) {
	s, ok := db.schemas[collection]
	if !ok {
		return nil, errors.WithMessagef(ErrModelNotFound, "collection %s", collection)
	}
	compare, err := query.NewCompare(field, op, value, query.CombinatorAnd)
	if err != nil {
		return nil, err
	}

	handle := db.collections[collection]
	var rows []store.Row
	if descriptor := compare.Index(); descriptor != nil && s.Indexed(field) {
		rows, err = handle.ScanIndex(ctx, descriptor.Field, descriptor.Kind, descriptor.Arg)
	} else {
		rows, err = handle.Scan(ctx, store.WithFilter(func(row store.Row) bool {
			return compare.Match(row.Fields)
		}))
	}
	if err != nil {
		return nil, errors.WithMessagef(ErrQueryExecution, "scan %s by %s: %v", collection, field, err)
	}

	records := make([]*model.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, db.hydrate(s, row))
	}
	return records, nil
}

// FindByKey 按主键查找并装配记录，未命中时返回 nil
func (db *Database) FindByKey(ctx context.Context, collection string, key any) (*model.Record, error) {
	s, ok := db.schemas[collection]
	if !ok {
		return nil, errors.WithMessagef(ErrModelNotFound, "collection %s", collection)
	}

	row, err := db.collections[collection].Get(ctx, model.KeyString(key))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, errors.WithMessagef(ErrQueryExecution, "get %s key %v: %v", collection, key, err)
	}
	return db.hydrate(s, row), nil
}

// Schema 集合模式
func (db *Database) Schema(collection string) (*schema.Schema, error) {
	s, ok := db.schemas[collection]
	if !ok {
		return nil, errors.WithMessagef(ErrModelNotFound, "collection %s", collection)
	}
	return s, nil
}

// Bus 事件总线
func (db *Database) Bus() bus.Bus {
	return db.eventBus
}

// RouteError 异步回调内部的错误出口：有处理器则交给处理器，否则记错误日志
func (db *Database) RouteError(err error) {
	if err == nil {
		return
	}

	db.mu.Lock()
	handlers := make([]func(error), 0, len(db.errorHandlers))
	for _, fn := range db.errorHandlers {
		handlers = append(handlers, fn)
	}
	db.mu.Unlock()

	if len(handlers) == 0 {
		db.log.Error("async error with no handler registered", "error", err)
		return
	}
	for _, fn := range handlers {
		fn(err)
	}
}
