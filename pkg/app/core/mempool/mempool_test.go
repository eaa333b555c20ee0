package mempool

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected TxType
	}{
		{"price update", `{"type":"price_update","price_update":{}}`, TxPriceUpdate},
		{"settle", `{"type":"settle","settle":{"order_id":"1"},"signature":"0xabcd"}`, TxSettle},
		{"open", `{"type":"open","open":{"order_id":"1"},"signature":"0x1234"}`, TxOpen},
		{"invalid JSON", `{"invalid": "json"`, TxOpen},
		{"non-JSON", "UNKNOWN:foo", TxOpen},
		{"empty transaction", "", TxOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRaw([]byte(tt.tx)); got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool(0)

	open1 := `{"type":"open","open":{"order_id":"1"}}`
	settle1 := `{"type":"settle","settle":{"order_id":"1"}}`
	open2 := `{"type":"open","open":{"order_id":"2"}}`
	price1 := `{"type":"price_update","price_update":{"n":1}}`
	settle2 := `{"type":"settle","settle":{"order_id":"2"}}`
	price2 := `{"type":"price_update","price_update":{"n":2}}`

	for _, tx := range []string{open1, settle1, open2, price1, settle2, price2} {
		if err := m.PushRaw([]byte(tx)); err != nil {
			t.Fatalf("PushRaw(%s): %v", tx, err)
		}
	}
	if m.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", m.Len())
	}

	got := m.SelectForProposal(0)
	want := []string{price1, price2, settle1, settle2, open1, open2}
	if len(got) != len(want) {
		t.Fatalf("selected %d txs, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("tx[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if m.Len() != 0 {
		t.Errorf("Len() after select = %d, want 0", m.Len())
	}
}

func TestMempool_MaxBytes(t *testing.T) {
	m := NewMempool(0)
	price := `{"type":"price_update"}`
	settle := `{"type":"settle"}`
	_ = m.PushRaw([]byte(price))
	_ = m.PushRaw([]byte(settle))

	got := m.SelectForProposal(int64(len(price)))
	if len(got) != 1 || string(got[0]) != price {
		t.Fatalf("first selection = %q", got)
	}
	got = m.SelectForProposal(0)
	if len(got) != 1 || string(got[0]) != settle {
		t.Fatalf("second selection = %q", got)
	}
}

func TestPushRawCopiesInput(t *testing.T) {
	m := NewMempool(0)
	buf := []byte(`{"type":"open"}`)
	_ = m.PushRaw(buf)
	buf[2] = 'X'
	if got := m.SelectForProposal(0); string(got[0]) != `{"type":"open"}` {
		t.Errorf("mempool aliased caller buffer: %s", got[0])
	}
}

func TestPushRawRejectsDuplicates(t *testing.T) {
	m := NewMempool(0)
	settle := []byte(`{"type":"settle","settle":{"order_id":"7"}}`)
	if err := m.PushRaw(settle); err != nil {
		t.Fatal(err)
	}
	if err := m.PushRaw(settle); !errors.Is(err, ErrDuplicateTx) {
		t.Fatalf("second push err = %v, want ErrDuplicateTx", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}

	// once proposed, the same bytes may be queued again
	m.SelectForProposal(0)
	if err := m.PushRaw(settle); err != nil {
		t.Errorf("push after select: %v", err)
	}
}

func TestPushRawBounded(t *testing.T) {
	m := NewMempool(3)
	for i := 0; i < 3; i++ {
		if err := m.PushRaw([]byte(fmt.Sprintf(`{"type":"open","open":{"order_id":"%d"}}`, i))); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	err := m.PushRaw([]byte(`{"type":"price_update","price_update":{"n":1}}`))
	if !errors.Is(err, ErrMempoolFull) {
		t.Fatalf("err = %v, want ErrMempoolFull", err)
	}
	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}

	if got := m.SelectForProposal(0); len(got) != 3 {
		t.Fatalf("selected %d, want 3", len(got))
	}
	if err := m.PushRaw([]byte(`{"type":"settle"}`)); err != nil {
		t.Errorf("push after drain: %v", err)
	}
}
