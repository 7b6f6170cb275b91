package torrent

import "strconv"

// PieceWork describes one piece still to be fetched: its index, the
// expected SHA-1 digest, and its byte length.
type PieceWork struct {
	Index    int
	Hash     [20]byte
	Length   int64
	Attempts int // number of hash-mismatch requeues this piece has already absorbed
}

// FinishedPiece is a verified piece ready for the assembler.
type FinishedPiece struct {
	Index int
	Bytes []byte
}

// ConnectErrorKind enumerates why dialing a peer failed.
type ConnectErrorKind int

const (
	ConnectTimeout ConnectErrorKind = iota
	ConnectRefused
	ConnectOther
)

// ConnectError reports a per-session dial failure. The session and
// its peer are discarded; this never aborts the download.
type ConnectError struct {
	Kind ConnectErrorKind
	Peer string
	err  error
}

func (e *ConnectError) Error() string {
	return "torrent: connecting to " + e.Peer + ": " + e.err.Error()
}
func (e *ConnectError) Unwrap() error { return e.err }

// PieceErrorKind enumerates why a single piece download failed.
type PieceErrorKind int

const (
	PieceWrongIndex PieceErrorKind = iota
	PieceTimeout
	PieceIO
	PieceHashMismatch
)

// PieceError reports a per-piece failure. HashMismatch keeps the
// session alive; every other kind also closes it.
type PieceError struct {
	Kind  PieceErrorKind
	Index int
	err   error
}

func (e *PieceError) Error() string {
	msg := "piece " + strconv.Itoa(e.Index)
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return "torrent: " + msg
}
func (e *PieceError) Unwrap() error { return e.err }
