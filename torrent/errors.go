package torrent

import "errors"

var (
	errChokedMidPiece         = errors.New("peer choked while a piece was in flight")
	errReadCeilingExceeded    = errors.New("read ceiling exceeded while downloading piece")
	errNoMessageWithinTimeout = errors.New("no message received within the per-piece timeout")
	errWrongPieceIndex        = errors.New("received PIECE for an index other than the one requested")
	errBlockOutOfRange        = errors.New("PIECE block extends past the piece's declared length")
	errHashMismatch           = errors.New("piece failed SHA-1 verification")
)
