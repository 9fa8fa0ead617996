package position

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

// Get returns the holder's position, creating an empty row on first use.
func Get(tx *gorm.DB, marketID uint, holder string) (*types.Position, error) {
	var pos types.Position
	err := tx.Where("market_id = ? AND holder = ?", marketID, holder).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		pos = types.Position{
			MarketID:  marketID,
			Holder:    holder,
			YesAmount: fixedpoint.Zero(),
			NoAmount:  fixedpoint.Zero(),
		}
		if err := tx.Create(&pos).Error; err != nil {
			return nil, fmt.Errorf("create position: %w", err)
		}
		return &pos, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// Credit adds outcome tokens of one side to the holder's position.
func Credit(tx *gorm.DB, marketID uint, holder, side string, amount fixedpoint.Amount) error {
	pos, err := Get(tx, marketID, holder)
	if err != nil {
		return err
	}
	if side == types.SideYes {
		if pos.YesAmount, err = pos.YesAmount.Add(amount); err != nil {
			return err
		}
	} else {
		if pos.NoAmount, err = pos.NoAmount.Add(amount); err != nil {
			return err
		}
	}
	return tx.Save(pos).Error
}

// Debit removes outcome tokens of one side, failing with
// ErrInsufficientPosition if the holder does not have them.
func Debit(tx *gorm.DB, marketID uint, holder, side string, amount fixedpoint.Amount) error {
	pos, err := Get(tx, marketID, holder)
	if err != nil {
		return err
	}
	held := pos.YesAmount
	if side == types.SideNo {
		held = pos.NoAmount
	}
	if held.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s",
			types.ErrInsufficientPosition, holder, held, side, amount)
	}
	if side == types.SideYes {
		if pos.YesAmount, err = pos.YesAmount.Sub(amount); err != nil {
			return err
		}
	} else {
		if pos.NoAmount, err = pos.NoAmount.Sub(amount); err != nil {
			return err
		}
	}
	return tx.Save(pos).Error
}
