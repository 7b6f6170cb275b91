package torrent

import (
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/lbrn/leechtorrent/peerwire"
)

// mockServeBlocks drains every pipelined request before answering any
// of them: net.Pipe has no buffering, so interleaving a write between
// reads would deadlock against the downloader's request burst.
func mockServeBlocks(t *testing.T, remote net.Conn, data []byte, totalBlocks int) {
	t.Helper()
	reqs, ok := mockDrainRequests(t, remote, totalBlocks)
	if !ok {
		return
	}
	for _, req := range reqs {
		block := data[req.Begin : req.Begin+req.Length]
		if _, err := remote.Write(peerwire.EncodePiece(peerwire.PiecePayload{Index: req.Index, Begin: req.Begin, Block: block})); err != nil {
			t.Errorf("mock peer: writing piece: %v", err)
			return
		}
	}
}

func mockDrainRequests(t *testing.T, remote net.Conn, n int) ([]peerwire.RequestPayload, bool) {
	t.Helper()
	reqs := make([]peerwire.RequestPayload, 0, n)
	for i := 0; i < n; i++ {
		msg, err := peerwire.Read(remote)
		if err != nil {
			t.Errorf("mock peer: reading request %d: %v", i, err)
			return nil, false
		}
		if msg.ID != peerwire.Request {
			t.Errorf("mock peer: got id %v, want Request", msg.ID)
			return nil, false
		}
		req, err := peerwire.DecodeRequest(msg)
		if err != nil {
			t.Errorf("mock peer: decoding request: %v", err)
			return nil, false
		}
		reqs = append(reqs, req)
	}
	return reqs, true
}

func TestDownloadPieceSuccess(t *testing.T) {
	const length = 2*BlockSize + 100
	data := make([]byte, length)
	for i := range data {
		data[i] = byte(i % 251)
	}
	hash := sha1.Sum(data)

	sess, remote := pipedSession(4)
	defer remote.Close()
	defer sess.conn.Close()
	sess.peerChoking = false

	work := PieceWork{Index: 2, Hash: hash, Length: length}
	totalBlocks := 3

	resultCh := make(chan struct {
		data []byte
		err  error
	}, 1)
	go func() {
		d, err := DownloadPiece(sess, work)
		resultCh <- struct {
			data []byte
			err  error
		}{d, err}
	}()

	mockServeBlocks(t, remote, data, totalBlocks)

	res := <-resultCh
	if res.err != nil {
		t.Fatalf("DownloadPiece() error = %v", res.err)
	}
	if len(res.data) != length {
		t.Fatalf("len(data) = %d, want %d", len(res.data), length)
	}
	for i := range data {
		if res.data[i] != data[i] {
			t.Fatalf("byte %d = %d, want %d", i, res.data[i], data[i])
		}
	}
}

func TestDownloadPiecePipelineBound(t *testing.T) {
	const totalBlocks = 13 // more blocks than the pipeline depth
	const length = totalBlocks * BlockSize
	data := make([]byte, length)
	for i := range data {
		data[i] = byte(i % 247)
	}
	hash := sha1.Sum(data)

	sess, remote := pipedSession(1)
	defer remote.Close()
	defer sess.conn.Close()
	sess.peerChoking = false

	work := PieceWork{Index: 0, Hash: hash, Length: length}

	resultCh := make(chan error, 1)
	go func() {
		_, err := DownloadPiece(sess, work)
		resultCh <- err
	}()

	// The downloader fills the pipeline to NumRequests, no further.
	pending, ok := mockDrainRequests(t, remote, NumRequests)
	if !ok {
		return
	}
	remote.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, err := peerwire.Read(remote); err == nil {
		t.Fatalf("an 11th request arrived with %d already in flight", NumRequests)
	} else if !isTimeoutErr(err) {
		t.Fatalf("probing for excess requests: %v", err)
	}
	remote.SetReadDeadline(time.Time{})

	// Serving one block frees one pipeline slot, so the downloader
	// answers with exactly one replacement request while any blocks
	// remain unrequested. Strict alternation keeps net.Pipe happy.
	requested := NumRequests
	for served := 0; served < totalBlocks; served++ {
		req := pending[0]
		pending = pending[1:]
		block := data[req.Begin : req.Begin+req.Length]
		if _, err := remote.Write(peerwire.EncodePiece(peerwire.PiecePayload{Index: req.Index, Begin: req.Begin, Block: block})); err != nil {
			t.Fatalf("writing piece: %v", err)
		}
		if requested < totalBlocks {
			next, ok := mockDrainRequests(t, remote, 1)
			if !ok {
				return
			}
			pending = append(pending, next[0])
			requested++
		}
	}

	if err := <-resultCh; err != nil {
		t.Fatalf("DownloadPiece() error = %v", err)
	}
}

func TestDownloadPieceHashMismatch(t *testing.T) {
	const length = BlockSize
	data := make([]byte, length)
	wrongHash := sha1.Sum([]byte("not the right data"))

	sess, remote := pipedSession(1)
	defer remote.Close()
	defer sess.conn.Close()
	sess.peerChoking = false

	work := PieceWork{Index: 0, Hash: wrongHash, Length: length}

	resultCh := make(chan error, 1)
	go func() {
		_, err := DownloadPiece(sess, work)
		resultCh <- err
	}()

	mockServeBlocks(t, remote, data, 1)

	err := <-resultCh
	perr, ok := err.(*PieceError)
	if !ok {
		t.Fatalf("error type = %T, want *PieceError", err)
	}
	if perr.Kind != PieceHashMismatch {
		t.Fatalf("Kind = %v, want PieceHashMismatch", perr.Kind)
	}
}

func TestDownloadPieceWrongIndexRejected(t *testing.T) {
	const length = BlockSize
	sess, remote := pipedSession(2)
	defer remote.Close()
	defer sess.conn.Close()
	sess.peerChoking = false

	work := PieceWork{Index: 0, Hash: [20]byte{}, Length: length}

	resultCh := make(chan error, 1)
	go func() {
		_, err := DownloadPiece(sess, work)
		resultCh <- err
	}()

	msg, err := peerwire.Read(remote)
	if err != nil {
		t.Fatalf("reading request: %v", err)
	}
	req, err := peerwire.DecodeRequest(msg)
	if err != nil {
		t.Fatalf("decoding request: %v", err)
	}
	block := make([]byte, req.Length)
	remote.Write(peerwire.EncodePiece(peerwire.PiecePayload{Index: 99, Begin: req.Begin, Block: block}))

	err = <-resultCh
	perr, ok := err.(*PieceError)
	if !ok {
		t.Fatalf("error type = %T, want *PieceError", err)
	}
	if perr.Kind != PieceWrongIndex {
		t.Fatalf("Kind = %v, want PieceWrongIndex", perr.Kind)
	}
}

func TestDownloadPieceChokedMidPieceFails(t *testing.T) {
	const length = 2 * BlockSize
	sess, remote := pipedSession(2)
	defer remote.Close()
	defer sess.conn.Close()
	sess.peerChoking = false

	work := PieceWork{Index: 0, Hash: [20]byte{}, Length: length}

	resultCh := make(chan error, 1)
	go func() {
		_, err := DownloadPiece(sess, work)
		resultCh <- err
	}()

	// Drain both pipelined requests then choke instead of answering.
	if _, ok := mockDrainRequests(t, remote, 2); !ok {
		return
	}
	remote.Write(peerwire.Encode(peerwire.Choke))

	err := <-resultCh
	perr, ok := err.(*PieceError)
	if !ok {
		t.Fatalf("error type = %T, want *PieceError", err)
	}
	if perr.Kind != PieceIO {
		t.Fatalf("Kind = %v, want PieceIO", perr.Kind)
	}
}
