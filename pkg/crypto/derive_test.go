package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCreateProgramAddress(t *testing.T) {
	prog := common.HexToAddress("0x7e")
	other := common.HexToAddress("0x7f")

	a := CreateProgramAddress(prog, []byte("tpsl-escrow"), []byte{1})
	if a != CreateProgramAddress(prog, []byte("tpsl-escrow"), []byte{1}) {
		t.Fatal("derivation is not deterministic")
	}
	cases := map[string]common.Address{
		"other program": CreateProgramAddress(other, []byte("tpsl-escrow"), []byte{1}),
		"other seed":    CreateProgramAddress(prog, []byte("tpsl-escrow"), []byte{2}),
		"shifted seeds": CreateProgramAddress(prog, []byte("tpsl-escro"), []byte("w\x01")),
		"misspelled":    CreateProgramAddress(prog, []byte("tspl-escrow"), []byte{1}),
	}
	for name, got := range cases {
		if got == a {
			t.Errorf("%s: collides with base address", name)
		}
	}
}

func TestDiscriminator(t *testing.T) {
	if Discriminator("Escrow") == Discriminator("PriceUpdate") {
		t.Error("distinct names share a discriminator")
	}
	if Discriminator("Escrow") == ([8]byte{}) {
		t.Error("zero discriminator")
	}
}
