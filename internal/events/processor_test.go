package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/database"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

type recordingConsumer struct {
	name string
	seen []types.Event
	fail int
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) Handle(event types.Event) error {
	if c.fail > 0 {
		c.fail--
		return errors.New("transient failure")
	}
	c.seen = append(c.seen, event)
	return nil
}

func newLog(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)
	return db
}

func appendEvent(t *testing.T, db *gorm.DB, marketID uint, eventType string) {
	t.Helper()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return Append(tx, marketID, eventType, map[string]string{"k": "v"})
	}))
}

func TestAppendSequencesPerMarket(t *testing.T) {
	db := newLog(t)

	appendEvent(t, db, 1, types.EventLiquidityAdded)
	appendEvent(t, db, 1, types.EventTradeExecuted)
	appendEvent(t, db, 2, types.EventLiquidityAdded)

	one, err := NewDatabase(db).ForMarket(1)
	require.NoError(t, err)
	require.Len(t, one, 2)
	assert.Equal(t, uint64(1), one[0].Seq)
	assert.Equal(t, uint64(2), one[1].Seq)

	two, err := NewDatabase(db).ForMarket(2)
	require.NoError(t, err)
	require.Len(t, two, 1)
	assert.Equal(t, uint64(1), two[0].Seq)
}

func TestDrainDeliversInAppendOrder(t *testing.T) {
	db := newLog(t)
	appendEvent(t, db, 1, types.EventLiquidityAdded)
	appendEvent(t, db, 2, types.EventLiquidityAdded)
	appendEvent(t, db, 1, types.EventMarketResolved)

	consumer := &recordingConsumer{name: "recorder"}
	processor := NewProcessor(NewDatabase(db), time.Second, consumer)

	require.NoError(t, processor.Drain())
	require.Len(t, consumer.seen, 3)
	assert.Equal(t, types.EventLiquidityAdded, consumer.seen[0].Type)
	assert.Equal(t, uint(2), consumer.seen[1].MarketID)
	assert.Equal(t, types.EventMarketResolved, consumer.seen[2].Type)

	// Nothing new, nothing redelivered.
	require.NoError(t, processor.Drain())
	assert.Len(t, consumer.seen, 3)
}

func TestDrainRetriesAfterConsumerFailure(t *testing.T) {
	db := newLog(t)
	appendEvent(t, db, 1, types.EventLiquidityAdded)
	appendEvent(t, db, 1, types.EventTradeExecuted)

	flaky := &recordingConsumer{name: "flaky", fail: 1}
	steady := &recordingConsumer{name: "steady"}
	processor := NewProcessor(NewDatabase(db), time.Second, steady, flaky)

	// First pass stops at the event the flaky consumer rejected; the cursor
	// stays behind it.
	require.Error(t, processor.Drain())
	assert.Len(t, steady.seen, 1)
	assert.Empty(t, flaky.seen)

	// Next tick redelivers the rejected event. The steady consumer sees it
	// twice, which is the at-least-once contract.
	require.NoError(t, processor.Drain())
	assert.Len(t, flaky.seen, 2)
	assert.Len(t, steady.seen, 3)
}

func TestDrainPicksUpNewEvents(t *testing.T) {
	db := newLog(t)
	appendEvent(t, db, 1, types.EventLiquidityAdded)

	consumer := &recordingConsumer{name: "recorder"}
	processor := NewProcessor(NewDatabase(db), time.Second, consumer)
	require.NoError(t, processor.Drain())

	appendEvent(t, db, 1, types.EventMarketCancelled)
	require.NoError(t, processor.Drain())

	require.Len(t, consumer.seen, 2)
	assert.Equal(t, types.EventMarketCancelled, consumer.seen[1].Type)
}
