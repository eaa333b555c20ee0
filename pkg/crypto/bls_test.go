package crypto

import (
	"bytes"
	"testing"
)

func TestBLSSignerFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	s, err := NewBLSSignerFromSeed(seed)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	msg := []byte("price update")
	sig := s.Sign(msg)
	if !Verify(s.Pubkey(), sig, msg) {
		t.Fatal("signature does not verify")
	}
	if Verify(s.Pubkey(), sig, []byte("other")) {
		t.Error("signature verifies for a different message")
	}

	pk, err := ParseBLSPubKey("0x" + s.PubkeyHex())
	if err != nil {
		t.Fatalf("parse pubkey: %v", err)
	}
	if !Verify(pk, sig, msg) {
		t.Error("parsed pubkey does not verify")
	}

	if _, err := NewBLSSignerFromSeed([]byte("short")); err == nil {
		t.Error("short seed accepted")
	}
}
