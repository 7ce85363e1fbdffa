package reorm

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/reorm/bus"
	"github.com/hatlonely/reorm/crypto"
	"github.com/hatlonely/reorm/store"
)

func newRedisBackedDB(t *testing.T, addr string, key string) *Database {
	schemas := testSchemas()
	memStore, err := store.NewMemStoreWithOptions(&store.MemStoreOptions{
		Collections: CollectionSpecs(schemas),
	})
	if err != nil {
		t.Fatal(err)
	}
	cipher, err := crypto.NewAESCipherWithOptions(&crypto.AESCipherOptions{Key: key})
	if err != nil {
		t.Fatal(err)
	}
	eventBus, err := bus.NewRedisBusWithOptions(&bus.RedisBusOptions{
		Addr:   addr,
		Cipher: cipher,
	})
	if err != nil {
		t.Fatal(err)
	}
	db, err := NewDatabaseWithOptions(&DatabaseOptions{
		Store:   memStore,
		Bus:     eventBus,
		Schemas: schemas,
	})
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func TestCrossContextPropagation(t *testing.T) {
	Convey("跨上下文变更传播", t, func() {
		redis := miniredis.RunT(t)

		db1 := newRedisBackedDB(t, redis.Addr(), "shared-secret")
		defer db1.Shutdown()
		db2 := newRedisBackedDB(t, redis.Addr(), "shared-secret")
		defer db2.Shutdown()

		Convey("一个上下文的保存事件在另一上下文携带还原后的字段表到达", func() {
			var mu sync.Mutex
			var received []bus.ChangeEvent
			db2.Bus().On(bus.SaveEvent("players"), func(event string, payload any) {
				change, ok := payload.(bus.ChangeEvent)
				if !ok {
					return
				}
				mu.Lock()
				received = append(received, change)
				mu.Unlock()
			})

			_, err := saveRecord(db1, "players", map[string]any{"id": "p1", "name": "Rec1", "score": 1, "team_id": "t1"})
			So(err, ShouldBeNil)

			deadline := time.Now().Add(2 * time.Second)
			for {
				mu.Lock()
				n := len(received)
				mu.Unlock()
				if n > 0 || time.Now().After(deadline) {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}

			mu.Lock()
			defer mu.Unlock()
			So(len(received), ShouldEqual, 1)
			So(received[0].Collection, ShouldEqual, "players")
			So(received[0].Key, ShouldEqual, "p1")
			So(received[0].Fields["name"], ShouldEqual, "Rec1")
			So(received[0].Fields["score"], ShouldEqual, int64(1))
		})

		Convey("发起上下文不会收到自己广播的回声", func() {
			var echoes int32
			var mu sync.Mutex
			db1.Bus().On(bus.SaveEvent("teams"), func(event string, payload any) {
				mu.Lock()
				echoes++
				mu.Unlock()
			})

			_, err := saveRecord(db1, "teams", map[string]any{"id": "t1", "name": "Tigers"})
			So(err, ShouldBeNil)

			// 留出往返窗口：若回声存在应当已经到达
			time.Sleep(200 * time.Millisecond)
			mu.Lock()
			defer mu.Unlock()
			So(echoes, ShouldEqual, 1)
		})
	})
}
