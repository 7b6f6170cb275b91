package torrent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lbrn/leechtorrent/internal/logx"
	"github.com/lbrn/leechtorrent/tracker"
)

const liveReadTimeout = 60 * time.Second

// idleBackoff is how long a worker waits before retrying Get() when
// the pieces queue is momentarily empty but not yet fully resolved
// (every remaining piece is checked out by some other worker).
const idleBackoff = 50 * time.Millisecond

// drainTimeout bounds the read a session performs after pulling a
// piece its peer does not advertise, giving a late HAVE or BITFIELD a
// chance to arrive before the piece is retried.
const drainTimeout = time.Second

// maxConsecutiveMisses is how many pieces in a row a session may pull
// without the peer advertising any of them before the session is
// closed; the peer has nothing we need.
const maxConsecutiveMisses = 8

// maxHashMismatchAttempts bounds how many times a piece is logged as
// suspicious before we give up trying to be quiet about it; the piece
// itself is still requeued past this point since abandoning it would
// leave the download incomplete.
const maxHashMismatchAttempts = 5

// Pool is the fixed-size worker pool: W workers pull peers, negotiate
// sessions, and drain the pieces queue into the finished queue.
type Pool struct {
	Workers  int
	InfoHash [20]byte
	PeerID   [20]byte
	Pieces   *WorkQueue
	Peers    *PeerQueue
	Finished *FinishedQueue

	numPieces int
}

// NewPool constructs a Pool over an already-seeded pieces WorkQueue
// and an initial peer list from the tracker.
func NewPool(workers int, infoHash, peerID [20]byte, numPieces int, pieces *WorkQueue, initialPeers []tracker.Peer) *Pool {
	return &Pool{
		Workers:   workers,
		InfoHash:  infoHash,
		PeerID:    peerID,
		Pieces:    pieces,
		Peers:     newPeerQueue(initialPeers),
		Finished:  NewFinishedQueue(pieces.Outstanding()),
		numPieces: numPieces,
	}
}

// Run launches Workers goroutines and blocks until every worker has
// exited: every piece resolved, no peer left to try, or ctx cancelled.
// Pieces left unresolved because the peers ran out are not reported as
// an error; callers check Pieces.Outstanding.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Workers; i++ {
		g.Go(func() error {
			p.workerLoop(gctx)
			return nil
		})
	}
	err := g.Wait()
	p.Finished.Close()
	if err == nil && ctx.Err() != nil && p.Pieces.Outstanding() > 0 {
		err = ctx.Err()
	}
	return err
}

func (p *Pool) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || p.Pieces.Outstanding() == 0 {
			return
		}
		peer, ok := p.Peers.Pop()
		if !ok {
			// No peer left worth trying; the worker stops
			// pulling peers and exits rather than spinning.
			return
		}

		sess := NewSession(peer, p.InfoHash, p.PeerID, p.numPieces)
		if err := sess.Dial(); err != nil {
			logx.Failf("%v", err)
			continue
		}
		if err := sess.Handshake(); err != nil {
			logx.Failf("handshake with %s failed: %v", peer, err)
			sess.Close()
			continue
		}
		if err := sess.EnterLive(); err != nil {
			logx.Failf("entering live state with %s failed: %v", peer, err)
			sess.Close()
			continue
		}

		p.liveLoop(ctx, sess)
	}
}

func (p *Pool) liveLoop(ctx context.Context, sess *Session) {
	defer sess.Close()

	misses := 0
	for {
		if ctx.Err() != nil || p.Pieces.Outstanding() == 0 {
			return
		}

		if sess.PeerChoking() {
			if _, err := sess.ReadDispatch(liveReadTimeout); err != nil {
				return
			}
			continue
		}

		work, ok := p.Pieces.Get()
		if !ok {
			time.Sleep(idleBackoff)
			continue
		}

		if !sess.HasPiece(work.Index) {
			p.Pieces.Put(work)
			misses++
			if misses >= maxConsecutiveMisses {
				logx.Infof("peer %s advertises none of the remaining pieces, dropping session", sess.Peer())
				return
			}
			// A late HAVE may still be sitting in the socket; drain
			// one message before retrying.
			if _, err := sess.ReadDispatch(drainTimeout); err != nil && !isTimeoutErr(err) {
				return
			}
			continue
		}
		misses = 0

		data, err := DownloadPiece(sess, work)
		if err != nil {
			if perr, ok := err.(*PieceError); ok && perr.Kind == PieceHashMismatch {
				work.Attempts++
				p.Pieces.Put(work)
				if work.Attempts >= maxHashMismatchAttempts {
					logx.Warnf("piece %d has failed hash verification %d times; still requeued", work.Index, work.Attempts)
				} else {
					logx.Warnf("piece %d from %s failed hash verification, requeued", work.Index, sess.Peer())
				}
				continue
			}
			p.Pieces.Put(work)
			logx.Failf("piece %d from %s failed: %v", work.Index, sess.Peer(), err)
			return
		}

		logx.Infof("piece %d verified (%d bytes) from %s", work.Index, len(data), sess.Peer())
		p.Finished.Push(FinishedPiece{Index: work.Index, Bytes: data})
		p.Pieces.TaskDone()
	}
}
