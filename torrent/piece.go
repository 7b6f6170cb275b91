package torrent

import (
	"crypto/sha1"
	"time"

	"github.com/lbrn/leechtorrent/peerwire"
)

const (
	// BlockSize is the unit of a REQUEST/PIECE transfer.
	BlockSize = 16384
	// NumRequests bounds outstanding REQUESTs per session at any time.
	NumRequests = 10

	// messageTimeout bounds how long we wait for the next substantive
	// message while a piece is in flight; keep-alives do not reset it.
	messageTimeout = 45 * time.Second
	// subReadTimeout is the per-attempt socket deadline; partial reads
	// accumulate until messageTimeout or readCeiling, whichever is hit
	// first.
	subReadTimeout = 5 * time.Second
	// readCeiling is the absolute safety net on a single piece's total
	// read time, covering pathological keep-alive spam.
	readCeiling = 130 * time.Second
)

// pieceContext is the mutable per-piece download state owned
// exclusively by the worker driving it.
type pieceContext struct {
	index           int
	hash            [20]byte
	length          int64
	buffer          []byte
	blocksRequested int
	blocksReceived  int
	inFlight        int
	totalBlocks     int
}

func newPieceContext(work PieceWork) *pieceContext {
	totalBlocks := int((work.Length + BlockSize - 1) / BlockSize)
	return &pieceContext{
		index:       work.Index,
		hash:        work.Hash,
		length:      work.Length,
		buffer:      make([]byte, work.Length),
		totalBlocks: totalBlocks,
	}
}

// DownloadPiece runs the pipelined block-request loop
// for a single piece over sess. On success it returns the verified
// piece bytes; on failure it returns a *PieceError describing why —
// callers are responsible for requeuing the PieceWork.
func DownloadPiece(sess *Session, work PieceWork) ([]byte, error) {
	ctx := newPieceContext(work)
	deadline := time.Now().Add(readCeiling)
	lastProgress := time.Now()

	for ctx.blocksReceived < ctx.totalBlocks {
		if sess.PeerChoking() {
			return nil, &PieceError{Kind: PieceIO, Index: work.Index, err: errChokedMidPiece}
		}

		for ctx.inFlight < NumRequests && ctx.blocksRequested < ctx.totalBlocks {
			offset := int64(ctx.blocksRequested) * BlockSize
			length := int64(BlockSize)
			if remaining := ctx.length - offset; remaining < length {
				length = remaining
			}
			req := peerwire.RequestPayload{Index: uint32(work.Index), Begin: uint32(offset), Length: uint32(length)}
			if err := sess.SendRequest(req); err != nil {
				return nil, &PieceError{Kind: PieceIO, Index: work.Index, err: err}
			}
			ctx.blocksRequested++
			ctx.inFlight++
		}

		if time.Now().After(deadline) {
			return nil, &PieceError{Kind: PieceTimeout, Index: work.Index, err: errReadCeilingExceeded}
		}
		if time.Since(lastProgress) > messageTimeout {
			return nil, &PieceError{Kind: PieceTimeout, Index: work.Index, err: errNoMessageWithinTimeout}
		}

		msg, err := sess.ReadDispatch(subReadTimeout)
		if err != nil {
			if isTimeoutErr(err) {
				continue // sub-read timed out; overall bounds are checked above.
			}
			return nil, &PieceError{Kind: PieceIO, Index: work.Index, err: err}
		}
		if msg.KeepAlive {
			continue // no-op; does not reset messageTimeout.
		}

		switch msg.ID {
		case peerwire.Choke:
			return nil, &PieceError{Kind: PieceIO, Index: work.Index, err: errChokedMidPiece}
		case peerwire.Piece:
			p, err := peerwire.DecodePiece(msg)
			if err != nil {
				return nil, &PieceError{Kind: PieceIO, Index: work.Index, err: err}
			}
			if int(p.Index) != work.Index {
				return nil, &PieceError{Kind: PieceWrongIndex, Index: work.Index, err: errWrongPieceIndex}
			}
			if int64(p.Begin)+int64(len(p.Block)) > ctx.length {
				return nil, &PieceError{Kind: PieceIO, Index: work.Index, err: errBlockOutOfRange}
			}
			copy(ctx.buffer[p.Begin:], p.Block)
			ctx.inFlight--
			ctx.blocksReceived++
			lastProgress = time.Now()
		default:
			// HAVE/BITFIELD/INTERESTED/etc. already applied by ReadDispatch.
		}
	}

	sum := sha1.Sum(ctx.buffer)
	if sum != work.Hash {
		return nil, &PieceError{Kind: PieceHashMismatch, Index: work.Index, err: errHashMismatch}
	}
	return ctx.buffer, nil
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
