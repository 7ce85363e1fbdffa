package reorm

import (
	"context"
	"reflect"
	"sync"

	"github.com/hatlonely/reorm/bus"
	"github.com/hatlonely/reorm/model"
)

// SubscriptionState 订阅状态机：pending → ready → unmounted
type SubscriptionState string

const (
	StatePending   SubscriptionState = "pending"
	StateReady     SubscriptionState = "ready"
	StateUnmounted SubscriptionState = "unmounted"
)

// EventType 订阅事件类型
type EventType string

const (
	EventValue EventType = "value"
	EventError EventType = "error"
)

// Event 订阅产出的单个事件，完成信号以事件通道关闭表达
type Event struct {
	Type  EventType
	Value any
	Err   error
}

type terminalKind string

const (
	terminalFetch terminalKind = "fetch"
	terminalFirst terminalKind = "first"
	terminalLast  terminalKind = "last"
	terminalCount terminalKind = "count"
)

// Reactive 活结果门面，把构造器的终端操作升格为活订阅
type Reactive struct {
	b *Builder
}

// Reactive 返回构造器的活结果门面
func (b *Builder) Reactive() *Reactive {
	return &Reactive{b: b}
}

// Fetch 全量命中集的活订阅
func (r *Reactive) Fetch() (*Subscription, error) {
	return newSubscription(r.b, terminalFetch)
}

// First 头部记录的活订阅
func (r *Reactive) First() (*Subscription, error) {
	return newSubscription(r.b, terminalFirst)
}

// Last 尾部记录的活订阅
func (r *Reactive) Last() (*Subscription, error) {
	return newSubscription(r.b, terminalLast)
}

// Count 命中基数的活订阅
func (r *Reactive) Count() (*Subscription, error) {
	return newSubscription(r.b, terminalCount)
}

// ForPage 指定页的活订阅
func (r *Reactive) ForPage(page, perPage int) (*Subscription, error) {
	return newSubscription(r.b.Clone().ForPage(page, perPage), terminalFetch)
}

// Subscription 把克隆的查询计划绑成活的、可注销的去重结果流。
// 同一集合的保存、删除与清空事件触发重算，触发序号即取消令牌：
// 旧的慢执行完成时发现序号已过期则整体丢弃，保证产出随触发顺序单调。
type Subscription struct {
	db      *Database
	builder *Builder
	kind    terminalKind

	mu        sync.Mutex
	cond      *sync.Cond
	state     SubscriptionState
	epoch     uint64
	value     any
	projected any
	queue     []Event
	events    chan Event
	done      chan struct{}
	offs      []func()
}

func newSubscription(b *Builder, kind terminalKind) (*Subscription, error) {
	if !b.check() {
		return nil, b.err
	}

	s := &Subscription{
		db:      b.db,
		builder: b.Clone(),
		kind:    kind,
		state:   StatePending,
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	// 宽泛的关联判定：同集合的任何变更都触发重算，不做谓词级失效分析
	name := b.schema.Collection
	handler := func(event string, payload any) {
		s.trigger()
	}
	s.offs = append(s.offs,
		b.db.eventBus.On(bus.SaveEvent(name), handler),
		b.db.eventBus.On(bus.DeleteEvent(name), handler),
		b.db.eventBus.On(bus.TruncateEvent(name), handler),
	)

	b.db.trackSubscription(s)
	go s.dispatch()

	// 构造即启动首次执行
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()
	go s.refresh(epoch)

	return s, nil
}

// Events 订阅的事件流，Unmount 后关闭，关闭即完成信号
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// State 当前状态
func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Value 最近一次成功执行的持有值，首次解析完成前返回 ErrPendingValue
func (s *Subscription) Value() (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePending {
		return nil, ErrPendingValue
	}
	return s.value, nil
}

// Unmount 取消在途执行、停止接收事件并在送达完剩余事件前关闭事件流。
// 幂等，完成信号恰好发出一次，持有值中记录的关系订阅随之释放。
func (s *Subscription) Unmount() {
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return
	}
	s.state = StateUnmounted
	s.epoch++
	s.queue = nil
	held := s.value
	s.value = nil
	offs := s.offs
	s.offs = nil
	close(s.done)
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}
	unrefValue(held)
	s.db.releaseSubscription(s)
}

// trigger 变更事件到达：推进触发序号并另起执行，跑赢旧执行
func (s *Subscription) trigger() {
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return
	}
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	go s.refresh(epoch)
}

func (s *Subscription) refresh(epoch uint64) {
	value, err := s.execute(context.Background())

	s.mu.Lock()

	// 被更新的触发取代或已注销的执行，成败一概丢弃，
	// 连同结果集装配时挂上的关系订阅
	if s.state == StateUnmounted || epoch != s.epoch {
		s.mu.Unlock()
		unrefValue(value)
		return
	}

	if err != nil {
		s.enqueueLocked(Event{Type: EventError, Err: err})
		s.mu.Unlock()
		return
	}

	first := s.state == StatePending
	projected := project(value)
	if !first && reflect.DeepEqual(projected, s.projected) {
		s.mu.Unlock()
		unrefValue(value)
		return
	}

	previous := s.value
	s.state = StateReady
	s.value = value
	s.projected = projected
	// 被替换的旧持有值在新事件产出前停止接收关系变更
	unrefValue(previous)
	s.enqueueLocked(Event{Type: EventValue, Value: value})
	s.mu.Unlock()
}

// execute 在克隆计划上执行终端操作，错误不走软路径
func (s *Subscription) execute(ctx context.Context) (any, error) {
	run := s.builder.Clone()
	switch s.kind {
	case terminalFirst:
		record, err := run.first(ctx)
		return record, err
	case terminalLast:
		record, err := run.last(ctx)
		return record, err
	case terminalCount:
		n, err := run.Count(ctx)
		return n, err
	default:
		records, err := run.Fetch(ctx)
		return records, err
	}
}

func (s *Subscription) enqueueLocked(event Event) {
	s.queue = append(s.queue, event)
	s.cond.Signal()
}

// dispatch 单发货协程保证事件按入队顺序送达
func (s *Subscription) dispatch() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && s.state != StateUnmounted {
			s.cond.Wait()
		}
		if s.state == StateUnmounted {
			s.mu.Unlock()
			close(s.events)
			return
		}
		event := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		// 消费方停止取走事件时注销仍可解除阻塞并送达完成信号
		select {
		case s.events <- event:
		case <-s.done:
		}
	}
}

// unrefValue 释放结果中记录实例的关系订阅与本地监听器
func unrefValue(value any) {
	switch v := value.(type) {
	case *model.Record:
		if v != nil {
			v.Unref()
		}
	case []*model.Record:
		for _, record := range v {
			record.Unref()
		}
	}
}

// project 深比较用的纯数据投影：记录按字段表比较而非实例同一性
func project(value any) any {
	switch v := value.(type) {
	case *model.Record:
		if v == nil {
			return nil
		}
		return v.ToMap()
	case []*model.Record:
		projected := make([]map[string]any, 0, len(v))
		for _, record := range v {
			projected = append(projected, record.ToMap())
		}
		return projected
	}
	return value
}
