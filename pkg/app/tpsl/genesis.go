package tpsl

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/tpsl/pkg/crypto"
	"github.com/uhyunpark/tpsl/pkg/ledger"
	"github.com/uhyunpark/tpsl/pkg/oracle"
	"github.com/uhyunpark/tpsl/pkg/swap"
)

// GenesisAuthority is the mint authority of every genesis mint. It signs
// only during InitChain.
var GenesisAuthority = common.HexToAddress("0x00000000000000000000000000000000000000ff")

// Genesis is the initial ledger state.
//
//	mints:
//	  - {symbol: SOL, decimals: 9}
//	  - {symbol: USDC, decimals: 6}
//	balances:
//	  - {owner: "0x...", mint: SOL, amount: "12.5"}
//	pools:
//	  - {input: SOL, output: USDC, rate: "150.25", liquidity: "1000000"}
//	guardians:
//	  - "0x<bls public key>"
type Genesis struct {
	Mints     []GenesisMint    `yaml:"mints"`
	Balances  []GenesisBalance `yaml:"balances"`
	Pools     []GenesisPool    `yaml:"pools"`
	Guardians []string         `yaml:"guardians"`
}

type GenesisMint struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// GenesisBalance amounts are in whole tokens.
type GenesisBalance struct {
	Owner  string `yaml:"owner"`
	Mint   string `yaml:"mint"`
	Amount string `yaml:"amount"`
}

// GenesisPool liquidity is in whole output tokens.
type GenesisPool struct {
	Input     string `yaml:"input"`
	Output    string `yaml:"output"`
	Rate      string `yaml:"rate"`
	Liquidity string `yaml:"liquidity"`
}

func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(data)
}

func ParseGenesis(data []byte) (*Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	if len(g.Mints) == 0 {
		return nil, errors.New("genesis has no mints")
	}
	return &g, nil
}

// GuardianSet builds the oracle guardian set from the genesis public keys.
func (g *Genesis) GuardianSet(threshold int) (*oracle.GuardianSet, error) {
	keys := make([]*crypto.BLSPubKey, 0, len(g.Guardians))
	for i, s := range g.Guardians {
		pk, err := crypto.ParseBLSPubKey(s)
		if err != nil {
			return nil, fmt.Errorf("guardian %d: %w", i, err)
		}
		keys = append(keys, pk)
	}
	return oracle.NewGuardianSet(keys, threshold)
}

// InitChain writes the genesis state. It is a no-op if the chain already
// has state.
func (a *App) InitChain(g *Genesis) error {
	if a.Status().Height > 0 {
		return nil
	}
	var initialized bool
	err := a.ledger.View(func(tx *ledger.Tx) error {
		_, err := tx.Mint(ledger.MintAddress(g.Mints[0].Symbol))
		if errors.Is(err, ledger.ErrMintNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		initialized = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("read genesis state: %w", err)
	}
	if initialized {
		return nil
	}

	_, err = a.ledger.Apply(ledger.Env{Signers: []common.Address{GenesisAuthority}}, func(tx *ledger.Tx) error {
		auth, err := tx.Signer(GenesisAuthority)
		if err != nil {
			return err
		}
		decimals := map[string]uint8{}
		for _, m := range g.Mints {
			if _, err := tx.CreateMint(m.Symbol, m.Decimals, GenesisAuthority); err != nil {
				return err
			}
			decimals[m.Symbol] = m.Decimals
		}

		mintOf := func(symbol string) (common.Address, uint8, error) {
			d, ok := decimals[symbol]
			if !ok {
				return common.Address{}, 0, fmt.Errorf("%w: %s", ledger.ErrMintNotFound, symbol)
			}
			return ledger.MintAddress(symbol), d, nil
		}

		for _, b := range g.Balances {
			if !common.IsHexAddress(b.Owner) {
				return fmt.Errorf("invalid balance owner %q", b.Owner)
			}
			mint, d, err := mintOf(b.Mint)
			if err != nil {
				return err
			}
			amount, err := baseUnits(b.Amount, d)
			if err != nil {
				return fmt.Errorf("balance %s/%s: %w", b.Owner, b.Mint, err)
			}
			ta, err := tx.CreateTokenAccountIdempotent(common.HexToAddress(b.Owner), mint)
			if err != nil {
				return err
			}
			if err := tx.MintTo(auth, mint, ta.Address, amount); err != nil {
				return err
			}
		}

		for _, p := range g.Pools {
			in, _, err := mintOf(p.Input)
			if err != nil {
				return err
			}
			out, outDecimals, err := mintOf(p.Output)
			if err != nil {
				return err
			}
			rate, err := decimal.NewFromString(p.Rate)
			if err != nil {
				return fmt.Errorf("pool %s/%s rate: %w", p.Input, p.Output, err)
			}
			if err := a.router.CreatePool(tx, swap.Pool{InputMint: in, OutputMint: out, Rate: rate}); err != nil {
				return err
			}
			liquidity, err := baseUnits(p.Liquidity, outDecimals)
			if err != nil {
				return fmt.Errorf("pool %s/%s liquidity: %w", p.Input, p.Output, err)
			}
			if liquidity > 0 {
				vault := ledger.AssociatedTokenAddress(a.router.VaultOwner(tx), out)
				if err := tx.MintTo(auth, out, vault, liquidity); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("init chain: %w", err)
	}
	a.logger.Infow("genesis_applied", "mints", len(g.Mints), "balances", len(g.Balances), "pools", len(g.Pools))
	return nil
}

// baseUnits converts a whole-token decimal string to integer base units.
func baseUnits(s string, decimals uint8) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	units := d.Shift(int32(decimals))
	if !units.IsInteger() || units.IsNegative() {
		return 0, fmt.Errorf("amount %s is not a whole number of base units", s)
	}
	bi := units.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows", s)
	}
	return bi.Uint64(), nil
}
