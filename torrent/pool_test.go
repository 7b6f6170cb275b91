package torrent

import (
	"context"
	"crypto/sha1"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/lbrn/leechtorrent/peerwire"
	"github.com/lbrn/leechtorrent/tracker"
)

// fakePeer accepts a single connection, completes the handshake,
// unchokes immediately, and serves whatever blocks are requested from
// data before going quiet.
func fakePeer(t *testing.T, ln net.Listener, infoHash [20]byte, data []byte) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	if _, err := peerwire.ReadHandshake(conn, infoHash); err != nil {
		t.Errorf("fake peer: reading handshake: %v", err)
		return
	}
	reply := peerwire.Handshake{InfoHash: infoHash, PeerID: [20]byte{7}}
	if err := reply.WriteTo(conn); err != nil {
		t.Errorf("fake peer: writing handshake: %v", err)
		return
	}

	conn.Write(peerwire.Encode(peerwire.Unchoke))
	conn.Write(peerwire.EncodeHave(0))

	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msg, err := peerwire.Read(conn)
		if err != nil {
			return
		}
		if msg.KeepAlive || msg.ID != peerwire.Request {
			continue
		}
		req, err := peerwire.DecodeRequest(msg)
		if err != nil {
			return
		}
		block := data[req.Begin : req.Begin+req.Length]
		conn.Write(peerwire.EncodePiece(peerwire.PiecePayload{Index: req.Index, Begin: req.Begin, Block: block}))
	}
}

func TestPoolDownloadsSinglePieceFromOnePeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	infoHash := [20]byte{1, 2, 3}
	peerID := [20]byte{4, 5, 6}

	const length = 2*BlockSize + 37
	data := make([]byte, length)
	for i := range data {
		data[i] = byte(i)
	}
	hash := sha1.Sum(data)

	go fakePeer(t, ln, infoHash, data)

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("splitting listener address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing port: %v", err)
	}

	pieces := NewWorkQueue([]PieceWork{{Index: 0, Hash: hash, Length: length}})
	peers := []tracker.Peer{{IP: net.IPv4(127, 0, 0, 1), Port: uint16(port)}}
	pool := NewPool(2, infoHash, peerID, 1, pieces, peers)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	var got FinishedPiece
	select {
	case got = <-pool.Finished.Drain():
	default:
		t.Fatalf("no finished piece was produced")
	}
	if got.Index != 0 {
		t.Fatalf("Index = %d, want 0", got.Index)
	}
	if len(got.Bytes) != length {
		t.Fatalf("len(Bytes) = %d, want %d", len(got.Bytes), length)
	}
	if pieces.Outstanding() != 0 {
		t.Fatalf("Outstanding() = %d, want 0", pieces.Outstanding())
	}
}
