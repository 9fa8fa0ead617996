package orderbook

import (
	"sync"

	"github.com/google/btree"
	"gorm.io/gorm"

	"github.com/saiboyizhan/flip-predict-sub005/internal/fixedpoint"
	"github.com/saiboyizhan/flip-predict-sub005/internal/types"
)

// Level is one aggregated price level of the in-memory depth index.
type Level struct {
	Price fixedpoint.Amount `json:"price"`
	Size  fixedpoint.Amount `json:"size"`
}

func lessAsc(a, b Level) bool {
	return a.Price.LessThan(b.Price)
}

func lessDesc(a, b Level) bool {
	return b.Price.LessThan(a.Price)
}

// sideBook holds one outcome token's bids (descending) and asks (ascending).
type sideBook struct {
	bids *btree.BTreeG[Level]
	asks *btree.BTreeG[Level]
}

func newSideBook() *sideBook {
	return &sideBook{
		bids: btree.NewG(32, lessDesc),
		asks: btree.NewG(32, lessAsc),
	}
}

func (b *sideBook) tree(direction string) *btree.BTreeG[Level] {
	if direction == types.DirectionBuy {
		return b.bids
	}
	return b.asks
}

type depthKey struct {
	marketID uint
	side     string
}

// Depth is the derived, read-only view of resting orders. The database rows
// are the source of truth; the index is rebuilt from them on startup and
// adjusted after each committed write.
type Depth struct {
	mu    sync.RWMutex
	books map[depthKey]*sideBook
}

func NewDepth() *Depth {
	return &Depth{books: make(map[depthKey]*sideBook)}
}

// Rebuild replaces the index with the current set of open orders.
func (d *Depth) Rebuild(db *gorm.DB) error {
	var orders []types.Order
	err := db.Where("status IN ?",
		[]string{types.OrderOpen, types.OrderPartiallyFilled}).
		Find(&orders).Error
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.books = make(map[depthKey]*sideBook)
	for _, o := range orders {
		remaining, err := o.Size.Sub(o.Filled)
		if err != nil {
			return err
		}
		if err := d.applyLocked(o.MarketID, o.Side, o.Direction, o.Price, remaining, false); err != nil {
			return err
		}
	}
	return nil
}

// Add increases the resting size at a price level.
func (d *Depth) Add(marketID uint, side, direction string, price, size fixedpoint.Amount) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyLocked(marketID, side, direction, price, size, false)
}

// Reduce decreases the resting size at a price level, deleting the level
// when it reaches zero.
func (d *Depth) Reduce(marketID uint, side, direction string, price, size fixedpoint.Amount) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyLocked(marketID, side, direction, price, size, true)
}

func (d *Depth) applyLocked(marketID uint, side, direction string, price, size fixedpoint.Amount, negate bool) error {
	if size.IsZero() {
		return nil
	}
	key := depthKey{marketID: marketID, side: side}
	book, ok := d.books[key]
	if !ok {
		book = newSideBook()
		d.books[key] = book
	}
	tree := book.tree(direction)

	existing, found := tree.Get(Level{Price: price})
	current := fixedpoint.Zero()
	if found {
		current = existing.Size
	}

	var next fixedpoint.Amount
	var err error
	if negate {
		if current.LessThan(size) {
			next = fixedpoint.Zero()
		} else if next, err = current.Sub(size); err != nil {
			return err
		}
	} else if next, err = current.Add(size); err != nil {
		return err
	}

	if next.IsZero() {
		tree.Delete(Level{Price: price})
		return nil
	}
	tree.ReplaceOrInsert(Level{Price: price, Size: next})
	return nil
}

// Snapshot returns up to n bid and ask levels for one outcome token, best
// price first on both sides.
func (d *Depth) Snapshot(marketID uint, side string, n int) (bids, asks []Level) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	book, ok := d.books[depthKey{marketID: marketID, side: side}]
	if !ok {
		return nil, nil
	}
	collect := func(tree *btree.BTreeG[Level]) []Level {
		levels := make([]Level, 0, n)
		tree.Ascend(func(lvl Level) bool {
			levels = append(levels, lvl)
			return len(levels) < n
		})
		return levels
	}
	return collect(book.bids), collect(book.asks)
}

// Clear drops both outcome token books of a market. Used when a market
// leaves the ACTIVE state and its resting orders are force-cancelled.
func (d *Depth) Clear(marketID uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.books, depthKey{marketID: marketID, side: types.SideYes})
	delete(d.books, depthKey{marketID: marketID, side: types.SideNo})
}

// depthReset drops a market's in-memory books once its settlement event is
// observed on the log. The rows were already cancelled in the settlement
// transaction.
type depthReset struct {
	depth *Depth
}

// NewDepthReset returns the event consumer that keeps the index in sync with
// market settlement.
func NewDepthReset(depth *Depth) *depthReset {
	return &depthReset{depth: depth}
}

func (r *depthReset) Name() string {
	return "orderbook-depth"
}

func (r *depthReset) Handle(event types.Event) error {
	switch event.Type {
	case types.EventMarketResolved, types.EventMarketCancelled:
		r.depth.Clear(event.MarketID)
	}
	return nil
}
