package bus

// 模型级事件名，按集合区分；storage:mutation 仅用于诊断日志
const (
	EventStorageMutation = "storage:mutation"
)

func SaveEvent(collection string) string {
	return "save:" + collection
}

func DeleteEvent(collection string) string {
	return "delete:" + collection
}

func TruncateEvent(collection string) string {
	return "truncate:" + collection
}

// Action 变更动作
type Action string

const (
	ActionSave     Action = "save"
	ActionDelete   Action = "delete"
	ActionTruncate Action = "truncate"
)

// ChangeEvent 变更提交后广播的事件，Fields 仅在 save 时携带
type ChangeEvent struct {
	Action     Action
	Collection string
	Key        string
	Fields     map[string]any
}

// EventName 事件在总线上的名称
func (e ChangeEvent) EventName() string {
	switch e.Action {
	case ActionSave:
		return SaveEvent(e.Collection)
	case ActionDelete:
		return DeleteEvent(e.Collection)
	default:
		return TruncateEvent(e.Collection)
	}
}

// Handler 事件监听器
type Handler func(event string, payload any)

// Bus 事件总线接口。On/Once 返回注销函数，
// 每个注册都必须有对应的注销调用（关闭、unref 或 unmount 时执行）。
type Bus interface {
	On(event string, handler Handler) (off func())
	Once(event string, handler Handler) (off func())
	Off(event string)
	Emit(event string, payload any)
	Close() error
}
