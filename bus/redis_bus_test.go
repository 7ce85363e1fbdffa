package bus

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/reorm/crypto"
)

func waitFor(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

func TestRedisBus(t *testing.T) {
	Convey("RedisBus", t, func() {
		server := miniredis.RunT(t)

		cipher, err := crypto.NewAESCipherWithOptions(&crypto.AESCipherOptions{Key: "cross-context"})
		So(err, ShouldBeNil)

		newBus := func() *RedisBus {
			b, err := NewRedisBusWithOptions(&RedisBusOptions{
				Addr:   server.Addr(),
				Cipher: cipher,
			})
			So(err, ShouldBeNil)
			return b
		}

		Convey("变更事件跨实例送达并还原字段表", func() {
			sender := newBus()
			defer sender.Close()
			receiver := newBus()
			defer receiver.Close()

			received := make(chan ChangeEvent, 1)
			receiver.On("save:players", func(event string, payload any) {
				if change, ok := payload.(ChangeEvent); ok {
					received <- change
				}
			})

			event := ChangeEvent{
				Action:     ActionSave,
				Collection: "players",
				Key:        "p1",
				Fields:     map[string]any{"name": "Rec1", "score": int64(1)},
			}
			sender.Emit(event.EventName(), event)

			select {
			case change := <-received:
				So(change.Collection, ShouldEqual, "players")
				So(change.Key, ShouldEqual, "p1")
				So(change.Fields["name"], ShouldEqual, "Rec1")
				So(change.Fields["score"], ShouldEqual, 1)
			case <-time.After(3 * time.Second):
				So("timeout waiting for remote change", ShouldBeEmpty)
			}
		})

		Convey("跳过自身发布的事件", func() {
			b := newBus()
			defer b.Close()

			var count atomic.Int32
			b.On("save:players", func(event string, payload any) {
				count.Add(1)
			})

			event := ChangeEvent{Action: ActionSave, Collection: "players", Key: "p1"}
			b.Emit(event.EventName(), event)

			// 本地分发一次，远端回环被 origin 标识过滤
			So(waitFor(200*time.Millisecond, func() bool { return count.Load() > 1 }), ShouldBeFalse)
			So(count.Load(), ShouldEqual, 1)
		})

		Convey("非变更事件只做本地分发", func() {
			sender := newBus()
			defer sender.Close()
			receiver := newBus()
			defer receiver.Close()

			var remote atomic.Int32
			receiver.On("custom", func(event string, payload any) { remote.Add(1) })
			local := 0
			sender.On("custom", func(event string, payload any) { local++ })

			sender.Emit("custom", "payload")
			So(local, ShouldEqual, 1)
			So(waitFor(200*time.Millisecond, func() bool { return remote.Load() > 0 }), ShouldBeFalse)
		})
	})
}
