package bus

import (
	"sync"
)

// LocalBus 进程内事件总线。
// 监听器表由互斥锁保护，分发在触发方的调用栈上按注册顺序进行。
type LocalBus struct {
	mu        sync.Mutex
	nextID    int64
	listeners map[string][]*listenerEntry
	closed    bool
}

type listenerEntry struct {
	id      int64
	handler Handler
	once    bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		listeners: make(map[string][]*listenerEntry),
	}
}

func (b *LocalBus) On(event string, handler Handler) (off func()) {
	return b.register(event, handler, false)
}

func (b *LocalBus) Once(event string, handler Handler) (off func()) {
	return b.register(event, handler, true)
}

func (b *LocalBus) register(event string, handler Handler, once bool) (off func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.listeners[event] = append(b.listeners[event], &listenerEntry{
		id:      id,
		handler: handler,
		once:    once,
	})

	return func() {
		b.remove(event, id)
	}
}

func (b *LocalBus) remove(event string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.listeners[event]
	for i, entry := range entries {
		if entry.id == id {
			b.listeners[event] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

func (b *LocalBus) Off(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.listeners, event)
}

func (b *LocalBus) Emit(event string, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	entries := b.listeners[event]
	snapshot := make([]*listenerEntry, len(entries))
	copy(snapshot, entries)

	// once 监听器在分发前移除
	remaining := entries[:0]
	for _, entry := range entries {
		if !entry.once {
			remaining = append(remaining, entry)
		}
	}
	b.listeners[event] = remaining
	b.mu.Unlock()

	for _, entry := range snapshot {
		entry.handler(event, payload)
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.listeners = make(map[string][]*listenerEntry)
	return nil
}
