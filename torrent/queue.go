package torrent

import (
	"sync"

	"github.com/lbrn/leechtorrent/tracker"
)

// PeerQueue is a simple multi-producer/multi-consumer FIFO of peer
// endpoints. Workers pull from it to find someone to dial next; a
// dropped peer is never requeued.
type PeerQueue struct {
	mu    sync.Mutex
	items []tracker.Peer
}

func newPeerQueue(initial []tracker.Peer) *PeerQueue {
	q := &PeerQueue{items: append([]tracker.Peer(nil), initial...)}
	return q
}

// Push appends more peers to the back of the queue.
func (q *PeerQueue) Push(peers ...tracker.Peer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, peers...)
}

// Pop removes and returns the peer at the front of the queue, or
// false if it is currently empty.
func (q *PeerQueue) Pop() (tracker.Peer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return tracker.Peer{}, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// Len reports the number of peers currently queued.
func (q *PeerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WorkQueue is the pieces queue: a FIFO of PieceWork items with
// "task done" join-barrier bookkeeping: Outstanding counts the pieces
// not yet marked done, and Wait blocks until that count reaches zero.
type WorkQueue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	items       []PieceWork
	outstanding int
}

// NewWorkQueue seeds a WorkQueue with every piece of the torrent.
func NewWorkQueue(items []PieceWork) *WorkQueue {
	q := &WorkQueue{items: append([]PieceWork(nil), items...), outstanding: len(items)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put re-enqueues a piece (at-least-once delivery after a failed
// attempt). It does not change the outstanding count, since the piece
// was already counted when it was first seeded.
func (q *WorkQueue) Put(item PieceWork) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.cond.Signal()
	q.mu.Unlock()
}

// Get removes and returns the item at the front of the queue, or
// false if it is currently empty. It does not block: an empty queue
// with nonzero outstanding count means every remaining piece is
// presently checked out by some other worker.
func (q *WorkQueue) Get() (PieceWork, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PieceWork{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// TaskDone marks one outstanding piece as permanently resolved
// (written to the finished queue). Once every seeded piece has been
// marked done, Wait returns.
func (q *WorkQueue) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outstanding--
	if q.outstanding <= 0 {
		q.cond.Broadcast()
	}
}

// Wait blocks until every piece seeded into the queue has had
// TaskDone called for it.
func (q *WorkQueue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.outstanding > 0 {
		q.cond.Wait()
	}
}

// Outstanding reports how many pieces have not yet been marked done.
func (q *WorkQueue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// Len reports how many pieces are currently sitting in the queue
// (neither checked out nor completed).
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// FinishedQueue collects verified pieces for the assembler. Any
// worker may push; only the assembler drains it, concurrently with the
// workers, until Close is called.
type FinishedQueue struct {
	ch chan FinishedPiece
}

// NewFinishedQueue allocates a FinishedQueue sized for capacity
// pieces so producers never block on a slow assembler.
func NewFinishedQueue(capacity int) *FinishedQueue {
	return &FinishedQueue{ch: make(chan FinishedPiece, capacity)}
}

// Push delivers a verified piece to the assembler.
func (f *FinishedQueue) Push(p FinishedPiece) { f.ch <- p }

// Close signals that no more pieces will be pushed.
func (f *FinishedQueue) Close() { close(f.ch) }

// Drain returns the channel to range over until Close is called.
func (f *FinishedQueue) Drain() <-chan FinishedPiece { return f.ch }
