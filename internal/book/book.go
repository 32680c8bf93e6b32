// Package book implements the Price-Level Book (C2): the set of FIFO queues
// keyed by (event_id, side, share_type, price), each guarded by its own
// mutex. The teacher repo aggregates price levels into a tidwall/btree keyed
// by price; here the price domain is the fixed integer set {1..10}, so
// best_queue (spec section 4.2) walks that range directly and the tree is
// instead used inside each queue to hold FIFO order, ordered by a monotonic
// insertion sequence rather than by price.
package book

import (
	"sync"
	"time"

	"github.com/tidwall/btree"

	"predmkt-exchange/internal/coreerr"
	"predmkt-exchange/internal/domain"
)

type entry struct {
	seq     uint64
	orderID string
}

func lessEntry(a, b entry) bool { return a.seq < b.seq }

// queue is one price-level FIFO. Every operation besides Lock/Unlock assumes
// the caller already holds mu — mirroring spec section 4.2's "All queue
// operations except acquire/release require the caller to hold the lock."
type queue struct {
	mu     sync.Mutex
	fp     domain.Fingerprint
	tree   *btree.BTreeG[entry]
	nextSeq uint64
}

func newQueue(fp domain.Fingerprint) *queue {
	return &queue{
		fp:   fp,
		tree: btree.NewBTreeG(lessEntry),
	}
}

func (q *queue) pushTail(orderID string) {
	q.nextSeq++
	q.tree.Set(entry{seq: q.nextSeq, orderID: orderID})
}

func (q *queue) peekHead() (string, bool) {
	e, ok := q.tree.Min()
	if !ok {
		return "", false
	}
	return e.orderID, true
}

func (q *queue) popHead() {
	q.tree.PopMin()
}

func (q *queue) isEmpty() bool {
	return q.tree.Len() == 0
}

func (q *queue) items() []string {
	raw := q.tree.Items()
	ids := make([]string, len(raw))
	for i, e := range raw {
		ids[i] = e.orderID
	}
	return ids
}

// removeID performs the linear scan spec section 5 mandates for
// cancel_order: find the entry carrying orderID and delete it.
func (q *queue) removeID(orderID string) bool {
	var found entry
	hit := false
	q.tree.Scan(func(e entry) bool {
		if e.orderID == orderID {
			found = e
			hit = true
			return false
		}
		return true
	})
	if !hit {
		return false
	}
	q.tree.Delete(found)
	return true
}

// Book is the process-wide singleton holding every event's queues. The map
// of fingerprints to queues is itself guarded by a small mutex distinct from
// every queue's own lock, so creating a never-before-seen queue never
// contends with matching in flight on other price levels.
type Book struct {
	mu         sync.Mutex
	queues     map[domain.Fingerprint]*queue
	lockWait   time.Duration
	lockRetries int
}

// New constructs a Book. lockWait/lockRetries implement spec section 5's
// "locks have a timeout; on timeout the operation fails and is retried by
// the caller up to a small bound" — here folded into Acquire itself via a
// bounded TryLock spin, since these are in-process mutexes rather than a
// distributed lock service.
func New(lockWait time.Duration, lockRetries int) *Book {
	if lockRetries <= 0 {
		lockRetries = 3
	}
	if lockWait <= 0 {
		lockWait = 25 * time.Millisecond
	}
	return &Book{
		queues:      make(map[domain.Fingerprint]*queue),
		lockWait:    lockWait,
		lockRetries: lockRetries,
	}
}

func (b *Book) getOrCreate(fp domain.Fingerprint) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[fp]
	if !ok {
		q = newQueue(fp)
		b.queues[fp] = q
	}
	return q
}

// Acquire blocks the caller's queue lock for fp, retrying up to lockRetries
// times with backoff before surfacing coreerr.KindLockTimeout as transient
// (spec section 7).
func (b *Book) Acquire(fp domain.Fingerprint) error {
	q := b.getOrCreate(fp)
	if q.mu.TryLock() {
		return nil
	}
	for attempt := 1; attempt <= b.lockRetries; attempt++ {
		time.Sleep(b.lockWait * time.Duration(attempt))
		if q.mu.TryLock() {
			return nil
		}
	}
	return coreerr.LockTimeout("timed out acquiring queue lock for " + string(fp))
}

func (b *Book) Release(fp domain.Fingerprint) {
	q := b.getOrCreate(fp)
	q.mu.Unlock()
}

func (b *Book) PushTail(fp domain.Fingerprint, orderID string) {
	b.getOrCreate(fp).pushTail(orderID)
}

func (b *Book) PeekHead(fp domain.Fingerprint) (string, bool) {
	return b.getOrCreate(fp).peekHead()
}

func (b *Book) PopHead(fp domain.Fingerprint) {
	b.getOrCreate(fp).popHead()
}

// IsEmpty takes the queue's lock briefly to avoid racing with concurrent
// mutation; it is safe to call without already holding the lock (best_queue
// uses it this way), and safe to call while holding it (the matcher's inner
// loop condition does).
func (b *Book) IsEmpty(fp domain.Fingerprint) bool {
	q := b.getOrCreate(fp)
	if q.mu.TryLock() {
		defer q.mu.Unlock()
		return q.isEmpty()
	}
	// Lock is held by the caller itself (matcher inner loop) or briefly
	// contended; either way report via an unsynchronized read, which is
	// safe here because the only caller holding the lock across this call
	// is this same goroutine.
	return q.isEmpty()
}

// Items returns a snapshot of order ids in FIFO order. Caller must hold the
// queue's lock.
func (b *Book) Items(fp domain.Fingerprint) []string {
	return b.getOrCreate(fp).items()
}

// RemoveID removes a specific order id from its resting queue (used by
// cancel_order). Caller must hold the queue's lock.
func (b *Book) RemoveID(fp domain.Fingerprint, orderID string) bool {
	return b.getOrCreate(fp).removeID(orderID)
}

// Drain discards all ids in fp's queue without mutating their orders,
// returning the drained ids. Used only by event resolution (spec 4.8).
func (b *Book) Drain(fp domain.Fingerprint) []string {
	q := b.getOrCreate(fp)
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.items()
	q.tree = btree.NewBTreeG(lessEntry)
	q.nextSeq = 0
	return ids
}

// BestQueue implements spec section 4.2's price-improvement scan: for a BUY
// at limit p, walk SELL queues q=1..p; for a SELL at limit p, walk BUY
// queues q=10..p. Returns the first non-empty queue's fingerprint.
func BestQueue(eventID string, side domain.Side, shareType domain.ShareType, limitPrice int, b *Book) (domain.Fingerprint, bool) {
	opp := side.Opposite()
	if side == domain.Buy {
		for p := domain.MinPrice; p <= limitPrice; p++ {
			fp := domain.MakeFingerprint(eventID, opp, shareType, p)
			if !b.IsEmpty(fp) {
				return fp, true
			}
		}
		return "", false
	}
	for p := domain.MaxPrice; p >= limitPrice; p-- {
		fp := domain.MakeFingerprint(eventID, opp, shareType, p)
		if !b.IsEmpty(fp) {
			return fp, true
		}
	}
	return "", false
}
