package keeper

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/uhyunpark/tpsl/pkg/app/core/escrow"
	"github.com/uhyunpark/tpsl/pkg/app/core/transaction"
	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/oracle"
	"github.com/uhyunpark/tpsl/pkg/util"
)

type staticSource []escrow.Escrow

func (s staticSource) OpenEscrows() ([]escrow.Escrow, error) { return s, nil }

type recorder struct {
	txs [][]byte
	err error
}

func (r *recorder) PushTx(raw []byte) error {
	if r.err != nil {
		return r.err
	}
	r.txs = append(r.txs, raw)
	return nil
}

func testEscrow(id uint64, typ escrow.OrderType, trigger int64) escrow.Escrow {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	return escrow.Escrow{
		Address:      escrow.Address(owner, id),
		Owner:        owner,
		OrderID:      id,
		Amount:       1_000,
		TriggerPrice: trigger,
		OrderType:    typ,
	}
}

func TestParseTrade(t *testing.T) {
	tests := []struct {
		msg     string
		expo    int32
		want    int64
		wantErr bool
	}{
		{`{"e":"trade","p":"151.23"}`, -2, 15123, false},
		{`{"p":"151.239"}`, -2, 15123, false},
		{`{"p":"151"}`, -8, 15_100_000_000, false},
		{`{"p":""}`, -2, 0, true},
		{`{"p":"abc"}`, -2, 0, true},
		{`not json`, -2, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTrade([]byte(tt.msg), tt.expo)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseTrade(%s, %d) = %d, %v", tt.msg, tt.expo, got, err)
		}
		if err != nil && !errors.Is(err, ErrBadTrade) {
			t.Errorf("error %v is not ErrBadTrade", err)
		}
	}
}

func newTestKeeper(t *testing.T, src Source, sub Submitter, clock util.Clock, perSec float64) (*Keeper, *crypto.Signer) {
	t.Helper()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	k := New(Config{
		Signer:        signer,
		Domain:        crypto.DefaultDomain(),
		SubmitsPerSec: perSec,
		RetryAfter:    10 * time.Second,
		Clock:         clock,
	}, src, sub)
	return k, signer
}

func TestKeeperSubmitsTriggeredOrders(t *testing.T) {
	clock := util.NewManualClock(time.Unix(1_000, 0))
	src := staticSource{
		testEscrow(1, escrow.TakeProfit, 150_00),
		testEscrow(2, escrow.StopLoss, 140_00),
	}
	sub := &recorder{}
	k, signer := newTestKeeper(t, src, sub, clock, 0)

	if n := k.OnPrice(145_00); n != 0 {
		t.Fatalf("submitted %d with no trigger crossed", n)
	}
	if n := k.OnPrice(151_00); n != 1 {
		t.Fatalf("submitted %d, want 1", n)
	}

	tx, err := transaction.ParseTransaction(sub.txs[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req, verified, err := transaction.NewVerifier(crypto.DefaultDomain()).VerifySettleTransaction(tx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Signer != signer.Address() || req.OrderID != 1 || req.Owner != src[0].Owner {
		t.Errorf("settle request = %+v signed by %s", req, verified.Signer.Hex())
	}

	// cooldown
	if n := k.OnPrice(152_00); n != 0 {
		t.Errorf("resubmitted within cooldown: %d", n)
	}
	clock.Advance(10 * time.Second)
	if n := k.OnPrice(152_00); n != 1 {
		t.Errorf("after cooldown submitted %d, want 1", n)
	}

	if n := k.OnPrice(139_00); n != 1 {
		t.Errorf("stop loss submitted %d, want 1", n)
	}
}

func TestKeeperRateLimit(t *testing.T) {
	clock := util.NewManualClock(time.Unix(1_000, 0))
	src := staticSource{
		testEscrow(1, escrow.TakeProfit, 150_00),
		testEscrow(2, escrow.TakeProfit, 150_00),
	}
	sub := &recorder{}
	k, _ := newTestKeeper(t, src, sub, clock, 1)

	if n := k.OnPrice(151_00); n != 1 {
		t.Fatalf("first tick submitted %d, want 1", n)
	}
	clock.Advance(time.Second)
	if n := k.OnPrice(151_00); n != 1 {
		t.Fatalf("second tick submitted %d, want 1", n)
	}
	if len(sub.txs) != 2 || bytes.Equal(sub.txs[0], sub.txs[1]) {
		t.Error("expected one settle per escrow")
	}
}

func TestKeeperSubmitFailureStillCoolsDown(t *testing.T) {
	clock := util.NewManualClock(time.Unix(1_000, 0))
	sub := &recorder{err: errors.New("mempool full")}
	k, _ := newTestKeeper(t, staticSource{testEscrow(1, escrow.TakeProfit, 150_00)}, sub, clock, 0)

	if n := k.OnPrice(151_00); n != 0 {
		t.Fatalf("submitted %d", n)
	}
	sub.err = nil
	if n := k.OnPrice(151_00); n != 0 {
		t.Errorf("retried inside cooldown: %d", n)
	}
}

func TestPricePublisher(t *testing.T) {
	clock := util.NewManualClock(time.Unix(2_000, 0))
	guardian, err := crypto.NewBLSSignerFromSeed(bytes.Repeat([]byte{5}, 32))
	if err != nil {
		t.Fatal(err)
	}
	set, err := oracle.NewGuardianSet([]*crypto.BLSPubKey{guardian.Pubkey()}, 1)
	if err != nil {
		t.Fatal(err)
	}
	feed := common.HexToHash("0x01")
	sub := &recorder{}
	p := NewPricePublisher(oracle.NewPublisher(guardian, 0), feed, -2, sub, clock, nil)

	p.OnPrice(150_00)
	p.OnPrice(150_50) // same second
	clock.Advance(time.Second)
	p.OnPrice(151_00)

	if len(sub.txs) != 2 {
		t.Fatalf("published %d updates, want 2", len(sub.txs))
	}
	tx, err := transaction.ParseTransaction(sub.txs[1])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	u := tx.PriceUpdate.Update
	if u.Price != 151_00 || u.PublishTime != 2_001 || u.FeedID != feed {
		t.Errorf("update = %+v", u)
	}
	if err := set.Verify(u.SigningMessage(), tx.PriceUpdate.Signatures); err != nil {
		t.Errorf("guardian signature: %v", err)
	}
}

func TestTradeStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range []string{`{"p":"151.23"}`, `garbage`, `{"p":"149.9"}`} {
			conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		// hold the connection until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prices := make(chan int64)
	s := NewTradeStream("ws"+strings.TrimPrefix(srv.URL, "http"), -2, nil)
	go s.Run(ctx, prices)

	var got []int64
	for len(got) < 2 {
		select {
		case p := <-prices:
			got = append(got, p)
		case <-ctx.Done():
			t.Fatalf("got %v before timeout", got)
		}
	}
	if got[0] != 15123 || got[1] != 14990 {
		t.Errorf("prices = %v", got)
	}
}
