// Package accounts tracks user collateral balances. Collateral transfer is a
// synchronous leaf effect: every debit and credit happens inside the calling
// operation's transaction and fails explicitly, never partially.
package accounts

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

// Get returns the account for an address, creating a zero-balance row on
// first use.
func Get(tx *gorm.DB, address string) (*types.Account, error) {
	var account types.Account
	err := tx.Where("address = ?", address).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = types.Account{Address: address, Balance: fixedpoint.Zero()}
		if err := tx.Create(&account).Error; err != nil {
			return nil, fmt.Errorf("create account %s: %w", address, err)
		}
		return &account, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Debit removes amount from the address's balance, failing with
// ErrInsufficientBalance if it cannot be covered.
func Debit(tx *gorm.DB, address string, amount fixedpoint.Amount) error {
	account, err := Get(tx, address)
	if err != nil {
		return err
	}
	if account.Balance.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s",
			types.ErrInsufficientBalance, address, account.Balance, amount)
	}
	balance, err := account.Balance.Sub(amount)
	if err != nil {
		return err
	}
	account.Balance = balance
	return tx.Save(account).Error
}

// Credit adds amount to the address's balance.
func Credit(tx *gorm.DB, address string, amount fixedpoint.Amount) error {
	account, err := Get(tx, address)
	if err != nil {
		return err
	}
	balance, err := account.Balance.Add(amount)
	if err != nil {
		return err
	}
	account.Balance = balance
	return tx.Save(account).Error
}
