package bus

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hatlonely/reorm/crypto"
	"github.com/hatlonely/reorm/logger"
)

// RedisBusOptions 跨上下文事件总线选项
type RedisBusOptions struct {
	// Addr redis 地址
	Addr string `cfg:"addr" validate:"required"`

	// Password redis 密码
	Password string `cfg:"password"`

	// DB redis 数据库编号
	DB int `cfg:"db"`

	// Channel 广播使用的频道名
	Channel string `cfg:"channel" def:"reorm:changes"`

	// Cipher 变更事件字段表的传输加密器，为空时使用 NopCipher
	Cipher crypto.Cipher

	// Logger 日志记录器
	Logger logger.Logger
}

// RedisBus 跨上下文事件总线。本地分发复用 LocalBus，
// 变更事件经最小授权的重加密后发布到 redis 频道，
// 订阅协程将远端事件还原后在本地总线上重新分发。
type RedisBus struct {
	*LocalBus

	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	origin  string
	cipher  crypto.Cipher
	logger  logger.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

type envelope struct {
	Origin     string `msgpack:"origin"`
	Event      string `msgpack:"event"`
	Action     string `msgpack:"action"`
	Collection string `msgpack:"collection"`
	Key        string `msgpack:"key"`
	Fields     string `msgpack:"fields,omitempty"`
}

func NewRedisBusWithOptions(options *RedisBusOptions) (*RedisBus, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if options.Addr == "" {
		return nil, errors.New("addr is empty")
	}

	channel := options.Channel
	if channel == "" {
		channel = "reorm:changes"
	}
	cipher := options.Cipher
	if cipher == nil {
		cipher = crypto.NewNopCipher()
	}
	log := options.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     options.Addr,
		Password: options.Password,
		DB:       options.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.WithMessage(err, "redis ping failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := client.Subscribe(ctx, channel)
	// 等待订阅确认，构造返回后发布的事件才不会在订阅生效前丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		_ = client.Close()
		return nil, errors.WithMessage(err, "redis subscribe failed")
	}
	b := &RedisBus{
		LocalBus: NewLocalBus(),
		client:   client,
		pubsub:   pubsub,
		channel:  channel,
		origin:   uuid.NewString(),
		cipher:   cipher,
		logger:   log.WithGroup("redisBus"),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go b.receive(ctx)

	return b, nil
}

// Emit 本地分发事件；变更事件同时发布到 redis 频道
func (b *RedisBus) Emit(event string, payload any) {
	b.LocalBus.Emit(event, payload)

	change, ok := payload.(ChangeEvent)
	if !ok {
		return
	}

	env := envelope{
		Origin:     b.origin,
		Event:      event,
		Action:     string(change.Action),
		Collection: change.Collection,
		Key:        change.Key,
	}
	if change.Fields != nil {
		encrypted, err := b.cipher.Encrypt(change.Fields)
		if err != nil {
			b.logger.Error("encrypt change fields failed", "collection", change.Collection, "error", err.Error())
			return
		}
		env.Fields = encrypted
	}

	data, err := msgpack.Marshal(&env)
	if err != nil {
		b.logger.Error("marshal envelope failed", "error", err.Error())
		return
	}
	if err := b.client.Publish(context.Background(), b.channel, data).Err(); err != nil {
		b.logger.Error("publish change failed", "collection", change.Collection, "error", err.Error())
	}
}

func (b *RedisBus) receive(ctx context.Context) {
	defer close(b.done)

	for msg := range b.pubsub.Channel() {
		var env envelope
		if err := msgpack.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Error("unmarshal envelope failed", "error", err.Error())
			continue
		}
		if env.Origin == b.origin {
			continue
		}

		change := ChangeEvent{
			Action:     Action(env.Action),
			Collection: env.Collection,
			Key:        env.Key,
		}
		if env.Fields != "" {
			value, err := b.cipher.Decrypt(env.Fields)
			if err != nil {
				b.logger.Error("decrypt change fields failed", "collection", env.Collection, "error", err.Error())
				continue
			}
			fields, ok := normalizeFields(value)
			if !ok {
				b.logger.Error("unexpected change fields payload", "collection", env.Collection)
				continue
			}
			change.Fields = fields
		}

		b.logger.DebugContext(ctx, "remote change received",
			"collection", env.Collection,
			"action", env.Action,
			"key", env.Key,
		)
		b.LocalBus.Emit(env.Event, change)
	}
}

// normalizeFields 将解密结果还原为字段表，
// 值形态与存储层一致：整型统一为 int64，浮点统一为 float64
func normalizeFields(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		fields := make(map[string]any, len(v))
		for key, val := range v {
			fields[key] = normalizeFieldValue(val)
		}
		return fields, true
	case map[any]any:
		fields := make(map[string]any, len(v))
		for key, val := range v {
			name, ok := key.(string)
			if !ok {
				return nil, false
			}
			fields[name] = normalizeFieldValue(val)
		}
		return fields, true
	}
	return nil, false
}

func normalizeFieldValue(v any) any {
	switch k := v.(type) {
	case int:
		return int64(k)
	case int8:
		return int64(k)
	case int16:
		return int64(k)
	case int32:
		return int64(k)
	case uint:
		return int64(k)
	case uint8:
		return int64(k)
	case uint16:
		return int64(k)
	case uint32:
		return int64(k)
	case uint64:
		return int64(k)
	case float32:
		return float64(k)
	case []any:
		out := make([]any, len(k))
		for i, item := range k {
			out[i] = normalizeFieldValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(k))
		for key, item := range k {
			out[key] = normalizeFieldValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(k))
		for key, item := range k {
			name, ok := key.(string)
			if !ok {
				return v
			}
			out[name] = normalizeFieldValue(item)
		}
		return out
	}
	return v
}

func (b *RedisBus) Close() error {
	b.cancel()
	_ = b.pubsub.Close()
	<-b.done
	err := b.client.Close()
	_ = b.LocalBus.Close()
	return err
}
