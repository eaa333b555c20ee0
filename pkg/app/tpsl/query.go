package tpsl

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tpsl/pkg/app/core/escrow"
	"github.com/uhyunpark/tpsl/pkg/ledger"
	"github.com/uhyunpark/tpsl/pkg/oracle"
)

// Balance is a token account enriched with its mint's metadata.
type Balance struct {
	ledger.TokenAccount
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *App) EscrowConfig() escrow.Config { return a.escrow.Config() }

func (a *App) Escrow(owner common.Address, orderID uint64) (escrow.Escrow, error) {
	var e escrow.Escrow
	err := a.ledger.View(func(tx *ledger.Tx) error {
		var err error
		e, err = a.escrow.Get(tx, owner, orderID)
		return err
	})
	return e, err
}

// Escrows lists open escrows, optionally only those of owner.
func (a *App) Escrows(owner *common.Address) ([]escrow.Escrow, error) {
	out := []escrow.Escrow{}
	err := a.ledger.View(func(tx *ledger.Tx) error {
		return a.escrow.OpenEscrows(tx, func(e escrow.Escrow) error {
			if owner == nil || e.Owner == *owner {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

// OpenEscrows lists every open escrow.
func (a *App) OpenEscrows() ([]escrow.Escrow, error) { return a.Escrows(nil) }

func (a *App) Balances(owner common.Address) ([]Balance, error) {
	out := []Balance{}
	err := a.ledger.View(func(tx *ledger.Tx) error {
		accounts, err := tx.Balances(owner)
		if err != nil {
			return err
		}
		for _, ta := range accounts {
			m, err := tx.Mint(ta.Mint)
			if err != nil {
				return err
			}
			out = append(out, Balance{TokenAccount: ta, Symbol: m.Symbol, Decimals: m.Decimals})
		}
		return nil
	})
	return out, err
}

func (a *App) Mints() ([]ledger.Mint, error) {
	out := []ledger.Mint{}
	err := a.ledger.View(func(tx *ledger.Tx) error {
		return tx.Mints(func(m ledger.Mint) error {
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

// Price returns the latest stored update for feedID, regardless of age.
func (a *App) Price(feedID common.Hash) (oracle.PriceUpdate, error) {
	var u oracle.PriceUpdate
	err := a.ledger.View(func(tx *ledger.Tx) error {
		var err error
		u, err = a.receiver.Latest(tx, feedID)
		return err
	})
	return u, err
}
