package model

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hatlonely/reorm/bus"
	"github.com/hatlonely/reorm/schema"
	"github.com/hatlonely/reorm/store"
)

var (
	ErrDeletedInstance       = errors.New("instance is deleted")
	ErrUnacceptableValue     = errors.New("unacceptable field value")
	ErrPrimaryKeyOverride    = errors.New("primary key cannot be overridden")
	ErrPropertyNotFound      = errors.New("no such property")
	ErrMissingRequiredFields = errors.New("missing required fields on create")
	ErrConstraintViolation   = errors.New("constraint violation")
	ErrUnsubscribable        = errors.New("cannot subscribe on a deleted instance")
)

// Resolver 关系解析器的最小契约，具体实现在 relation 包
type Resolver interface {
	// Prepare 首次解析并订阅事件总线，保持持有值的实时性
	Prepare(ctx context.Context, owner *Record) error
	// Prepared 是否已完成首次解析
	Prepared() bool
	// Value 返回最近一次解析的值，不阻塞
	Value() any
	// Unref 释放事件订阅
	Unref()
}

// Record 类型化记录：已提交状态与待提交状态两张字段表，
// 字段写入只进入待提交状态，保存成功后整体晋升。
type Record struct {
	mu sync.Mutex

	schema     *schema.Schema
	collection store.Collection
	eventBus   bus.Bus
	registry   *Registry

	committed map[string]any
	pending   map[string]any
	saved     bool
	deleted   bool

	resolvers map[string]Resolver

	nextListener int64
	listeners    map[int64]func(bus.ChangeEvent)

	registryID uint64
}

// New 创建未保存的内存记录
func New(s *schema.Schema, collection store.Collection, eventBus bus.Bus, registry *Registry) *Record {
	r := &Record{
		schema:     s,
		collection: collection,
		eventBus:   eventBus,
		registry:   registry,
		committed:  make(map[string]any),
		pending:    make(map[string]any),
		resolvers:  make(map[string]Resolver),
		listeners:  make(map[int64]func(bus.ChangeEvent)),
	}
	if registry != nil {
		registry.track(r)
	}
	return r
}

// Hydrate 从存储行还原记录
func Hydrate(s *schema.Schema, collection store.Collection, eventBus bus.Bus, registry *Registry, row store.Row) *Record {
	r := New(s, collection, eventBus, registry)
	for k, v := range row.Fields {
		r.committed[k] = v
	}
	r.saved = true
	return r
}

func (r *Record) Schema() *schema.Schema {
	return r.schema
}

func (r *Record) Collection() string {
	return r.schema.Collection
}

// Key 主键的字符串形式，未设置时为空串
func (r *Record) Key() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keyLocked()
}

func (r *Record) keyLocked() string {
	if v, ok := r.committed[r.schema.PrimaryKey]; ok && v != nil {
		return KeyString(v)
	}
	if v, ok := r.pending[r.schema.PrimaryKey]; ok && v != nil {
		return KeyString(v)
	}
	return ""
}

// Saved 是否已有持久化行
func (r *Record) Saved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved
}

// Deleted 是否已标记删除
func (r *Record) Deleted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleted
}

// Get 读取字段值，待提交状态优先
func (r *Record) Get(field string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.pending[field]; ok {
		return v, true
	}
	v, ok := r.committed[field]
	return v, ok
}

// Set 写入字段值，只进入待提交状态
func (r *Record) Set(field string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return errors.WithMessagef(ErrDeletedInstance, "collection %s key %s", r.schema.Collection, r.keyLocked())
	}
	if !r.schema.HasField(field) {
		return errors.WithMessagef(ErrPropertyNotFound, "collection %s field %s", r.schema.Collection, field)
	}
	if _, err := msgpack.Marshal(value); err != nil {
		return errors.WithMessagef(ErrUnacceptableValue, "field %s: %v", field, err)
	}
	if field == r.schema.PrimaryKey && r.saved {
		if old, ok := r.committed[field]; ok && KeyString(old) != KeyString(value) {
			return errors.WithMessagef(ErrPrimaryKeyOverride, "collection %s key %s", r.schema.Collection, KeyString(old))
		}
	}

	r.pending[field] = value
	return nil
}

// ToMap 纯数据投影：已提交状态叠加待提交状态
func (r *Record) ToMap() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergedLocked()
}

func (r *Record) mergedLocked() map[string]any {
	merged := make(map[string]any, len(r.committed)+len(r.pending))
	for k, v := range r.committed {
		merged[k] = v
	}
	for k, v := range r.pending {
		merged[k] = v
	}
	return merged
}

// Save 校验并写入存储，待提交状态整体晋升为已提交状态，
// 多次字段写入合并为一次保存变更事件。
func (r *Record) Save(ctx context.Context) error {
	r.mu.Lock()

	if r.deleted {
		r.mu.Unlock()
		return errors.WithMessagef(ErrDeletedInstance, "collection %s key %s", r.schema.Collection, r.keyLocked())
	}

	merged := r.mergedLocked()
	firstSave := !r.saved

	if firstSave {
		var missing []string
		for i := range r.schema.Fields {
			f := &r.schema.Fields[i]
			if !f.Required || f.Name == r.schema.PrimaryKey {
				continue
			}
			if v, ok := merged[f.Name]; !ok || v == nil {
				missing = append(missing, f.Name)
			}
		}
		if len(missing) > 0 {
			r.mu.Unlock()
			return errors.WithMessagef(ErrMissingRequiredFields, "collection %s fields %s", r.schema.Collection, strings.Join(missing, ", "))
		}
	}

	// 首次保存不校验主键字段
	var skip []string
	if firstSave {
		skip = append(skip, r.schema.PrimaryKey)
	}
	normalized, failures := schema.ValidatePayload(merged, r.schema, skip...)
	if len(failures) > 0 {
		var messages []string
		for _, failure := range failures {
			for _, msg := range failure.Messages {
				messages = append(messages, failure.Field+": "+msg)
			}
		}
		r.mu.Unlock()
		return errors.WithMessagef(ErrConstraintViolation, "collection %s: %s", r.schema.Collection, strings.Join(messages, "; "))
	}

	if pk, ok := normalized[r.schema.PrimaryKey]; !ok || pk == nil || KeyString(pk) == "" {
		if !firstSave {
			r.mu.Unlock()
			return errors.Errorf("saved record without primary key in collection %s", r.schema.Collection)
		}
		normalized[r.schema.PrimaryKey] = newKey()
	}
	key := KeyString(normalized[r.schema.PrimaryKey])

	row := store.Row{Key: key, Fields: normalized}
	var err error
	if firstSave {
		err = r.collection.Add(ctx, row)
	} else {
		err = r.collection.Put(ctx, row)
	}
	if err != nil {
		r.mu.Unlock()
		return errors.WithMessagef(err, "save failed in collection %s", r.schema.Collection)
	}

	r.committed = normalized
	r.pending = make(map[string]any)
	r.saved = true

	event := bus.ChangeEvent{
		Action:     bus.ActionSave,
		Collection: r.schema.Collection,
		Key:        key,
		Fields:     cloneFields(normalized),
	}
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	r.emit(event, listeners)
	return nil
}

// Delete 删除持久化行并标记实例只读。
// 对已删除或从未保存的实例幂等，至多触发一次存储删除。
func (r *Record) Delete(ctx context.Context) error {
	r.mu.Lock()

	if r.deleted || !r.saved {
		r.mu.Unlock()
		return nil
	}

	key := r.keyLocked()
	if err := r.collection.Delete(ctx, key); err != nil {
		r.mu.Unlock()
		return errors.WithMessagef(err, "delete failed in collection %s", r.schema.Collection)
	}
	r.deleted = true

	event := bus.ChangeEvent{
		Action:     bus.ActionDelete,
		Collection: r.schema.Collection,
		Key:        key,
	}
	listeners := r.snapshotListenersLocked()
	r.listeners = make(map[int64]func(bus.ChangeEvent))
	r.mu.Unlock()

	r.emit(event, listeners)
	return nil
}

// OnChange 注册本地变更监听器，返回注销函数
func (r *Record) OnChange(fn func(bus.ChangeEvent)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return nil, errors.WithMessagef(ErrUnsubscribable, "collection %s key %s", r.schema.Collection, r.keyLocked())
	}

	r.nextListener++
	id := r.nextListener
	r.listeners[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}, nil
}

// SetResolver 挂载关系解析器，数据库装配记录时调用
func (r *Record) SetResolver(name string, resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[name] = resolver
}

// Relation 返回关系的当前持有值，未准备的关系返回 nil
func (r *Record) Relation(name string) any {
	value, _ := r.RelationOK(name)
	return value
}

// RelationOK 返回关系的当前持有值及该名字是否为已声明的关系，
// 区分未声明的名字与已声明但尚未准备的关系：前者返回 (nil, false)，
// 后者返回 (nil, true)。
func (r *Record) RelationOK(name string) (any, bool) {
	if _, declared := r.schema.Relation(name); !declared {
		return nil, false
	}

	r.mu.Lock()
	resolver, ok := r.resolvers[name]
	r.mu.Unlock()

	if !ok || !resolver.Prepared() {
		return nil, true
	}
	return resolver.Value(), true
}

// Related 按需准备关系并返回其值，未声明的关系名返回 ErrPropertyNotFound
func (r *Record) Related(ctx context.Context, name string) (any, error) {
	r.mu.Lock()
	resolver, ok := r.resolvers[name]
	r.mu.Unlock()

	if !ok {
		return nil, errors.WithMessagef(ErrPropertyNotFound, "collection %s relation %s", r.schema.Collection, name)
	}
	if !resolver.Prepared() {
		if err := resolver.Prepare(ctx, r); err != nil {
			return nil, err
		}
	}
	return resolver.Value(), nil
}

// Load 按需准备关系，Related 的别名语义
func (r *Record) Load(ctx context.Context, name string) error {
	_, err := r.Related(ctx, name)
	return err
}

// Unref 释放所有关系订阅与本地监听器
func (r *Record) Unref() {
	r.mu.Lock()
	resolvers := r.resolvers
	r.resolvers = make(map[string]Resolver)
	r.listeners = make(map[int64]func(bus.ChangeEvent))
	r.mu.Unlock()

	for _, resolver := range resolvers {
		resolver.Unref()
	}
	if r.registry != nil {
		r.registry.release(r)
	}
}

// markTruncated 集合清空时由注册表调用：标记删除并切断监听器
func (r *Record) markTruncated() {
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return
	}
	r.deleted = true
	event := bus.ChangeEvent{
		Action:     bus.ActionTruncate,
		Collection: r.schema.Collection,
		Key:        r.keyLocked(),
	}
	listeners := r.snapshotListenersLocked()
	r.listeners = make(map[int64]func(bus.ChangeEvent))
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}

func (r *Record) snapshotListenersLocked() []func(bus.ChangeEvent) {
	listeners := make([]func(bus.ChangeEvent), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

func (r *Record) emit(event bus.ChangeEvent, listeners []func(bus.ChangeEvent)) {
	for _, fn := range listeners {
		fn(event)
	}
	if r.eventBus != nil {
		r.eventBus.Emit(event.EventName(), event)
		r.eventBus.Emit(bus.EventStorageMutation, event)
	}
}

// KeyString 主键值的字符串形式
func KeyString(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case int:
		return strconv.FormatInt(int64(k), 10)
	case int32:
		return strconv.FormatInt(int64(k), 10)
	case int64:
		return strconv.FormatInt(k, 10)
	case uint64:
		return strconv.FormatUint(k, 10)
	case float64:
		return strconv.FormatFloat(k, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", k)
	}
}

func cloneFields(fields map[string]any) map[string]any {
	cloned := make(map[string]any, len(fields))
	for k, v := range fields {
		cloned[k] = v
	}
	return cloned
}
