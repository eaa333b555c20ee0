package p2p

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestGossipRelaysTxs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	reject := func(raw []byte) error {
		if bytes.HasPrefix(raw, []byte("bad")) {
			return errors.New("malformed")
		}
		return nil
	}

	a, err := NewGossip(ctx, Config{ListenAddr: "/ip4/127.0.0.1/tcp/0", Validate: reject}, func([]byte) error { return nil })
	if err != nil {
		t.Fatalf("node a: %v", err)
	}
	defer a.Close()

	got := make(chan []byte, 16)
	b, err := NewGossip(ctx, Config{
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Bootstrap:  a.Addrs(),
		Validate:   reject,
	}, func(raw []byte) error {
		got <- raw
		return nil
	})
	if err != nil {
		t.Fatalf("node b: %v", err)
	}
	defer b.Close()

	// The mesh forms on the gossipsub heartbeat, so keep publishing until
	// the first delivery.
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := a.Broadcast(ctx, []byte("bad tx")); err == nil {
			t.Fatal("local validator accepted a malformed tx")
		}
		if err := a.Broadcast(ctx, []byte(`{"type":"open"}`)); err != nil {
			t.Fatalf("broadcast: %v", err)
		}
		select {
		case raw := <-got:
			if string(raw) != `{"type":"open"}` {
				t.Fatalf("received %q", raw)
			}
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("tx not relayed before timeout")
		}
	}
}
