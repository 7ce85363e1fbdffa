package bus

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hatlonely/reorm/crypto"
)

func TestDebugRedisBus(t *testing.T) {
	server := miniredis.RunT(t)

	cipher, err := crypto.NewAESCipherWithOptions(&crypto.AESCipherOptions{Key: "cross-context"})
	if err != nil {
		t.Fatal(err)
	}

	sender, err := NewRedisBusWithOptions(&RedisBusOptions{Addr: server.Addr(), Cipher: cipher})
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()
	receiver, err := NewRedisBusWithOptions(&RedisBusOptions{Addr: server.Addr(), Cipher: cipher})
	if err != nil {
		t.Fatal(err)
	}
	defer receiver.Close()

	got := make(chan ChangeEvent, 1)
	receiver.On("save:players", func(event string, payload any) {
		if change, ok := payload.(ChangeEvent); ok {
			got <- change
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
	case p := <-got:
		t.Logf("receiver got payload: %#v", p)
	case <-time.After(3 * time.Second):
		t.Log("receiver got NOTHING")
		t.Fail()
	}
}
