package model

import (
	"sync"
	"weak"

	"github.com/google/uuid"
)

// newKey 为未指定主键的首次保存生成主键
func newKey() string {
	return uuid.NewString()
}

// Registry 按集合维护在内存中存活实例的弱引用，
// 用于集合清空时标记实例删除；弱引用不延长实例生命周期。
type Registry struct {
	mu          sync.Mutex
	nextID      uint64
	collections map[string]map[uint64]weak.Pointer[Record]
}

func NewRegistry() *Registry {
	return &Registry{
		collections: make(map[string]map[uint64]weak.Pointer[Record]),
	}
}

func (g *Registry) track(r *Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	r.registryID = g.nextID

	collection := r.schema.Collection
	if g.collections[collection] == nil {
		g.collections[collection] = make(map[uint64]weak.Pointer[Record])
	}
	g.collections[collection][r.registryID] = weak.Make(r)
}

func (g *Registry) release(r *Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entries, ok := g.collections[r.schema.Collection]; ok {
		delete(entries, r.registryID)
	}
}

// MarkTruncated 标记集合中所有仍然存活的实例为已删除，
// 顺带清理已被回收的条目。
func (g *Registry) MarkTruncated(collection string) {
	g.mu.Lock()
	entries := g.collections[collection]
	live := make([]*Record, 0, len(entries))
	for id, pointer := range entries {
		r := pointer.Value()
		if r == nil {
			delete(entries, id)
			continue
		}
		live = append(live, r)
	}
	g.mu.Unlock()

	for _, r := range live {
		r.markTruncated()
	}
}

// Live 返回集合中仍然存活的实例数量，诊断用
func (g *Registry) Live(collection string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := 0
	for id, pointer := range g.collections[collection] {
		if pointer.Value() == nil {
			delete(g.collections[collection], id)
			continue
		}
		count++
	}
	return count
}
