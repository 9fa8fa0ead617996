package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/database"
	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)
	return db
}

func TestDepositAccumulates(t *testing.T) {
	svc := NewService(newDB(t))

	account, err := svc.Deposit("alice", fixedpoint.FromUnits(100))
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(fixedpoint.FromUnits(100)))

	account, err = svc.Deposit("alice", fixedpoint.MustParse("0.5"))
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(fixedpoint.MustParse("100.5")))
}

func TestGetBalanceUnknownAddress(t *testing.T) {
	svc := NewService(newDB(t))

	account, err := svc.GetBalance("nobody")
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())
}

func TestDebitInsufficientBalance(t *testing.T) {
	db := newDB(t)
	require.NoError(t, Credit(db, "bob", fixedpoint.FromUnits(5)))

	err := Debit(db, "bob", fixedpoint.FromUnits(6))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	// A failed debit leaves the balance alone.
	account, err := Get(db, "bob")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(fixedpoint.FromUnits(5)))

	err = Debit(db, "stranger", fixedpoint.FromUnits(1))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
}

func TestDebitExactBalance(t *testing.T) {
	db := newDB(t)
	require.NoError(t, Credit(db, "carol", fixedpoint.FromUnits(7)))
	require.NoError(t, Debit(db, "carol", fixedpoint.FromUnits(7)))

	account, err := Get(db, "carol")
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())
}
