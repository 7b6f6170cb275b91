package torrent

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/lbrn/leechtorrent/bitfield"
	"github.com/lbrn/leechtorrent/peerwire"
	"github.com/lbrn/leechtorrent/tracker"
)

// State is the peer-session state machine's current stage:
// Dialing -> Handshaking -> Live -> Closed.
type State int

const (
	StateDialing State = iota
	StateHandshaking
	StateLive
	StateClosed
)

const (
	dialTimeout      = 3 * time.Second
	handshakeTimeout = 30 * time.Second
)

// Session is a single connection to a peer: its choke/interest flags
// and its advertised bitfield. The download context of a piece in
// flight is held by DownloadPiece, not by the Session. A Session is
// owned exclusively by one worker at a time.
type Session struct {
	peer  tracker.Peer
	conn  net.Conn
	state State

	peerChoking      bool
	peerInterested   bool
	clientChoking    bool
	clientInterested bool

	bitfield     bitfield.Bitfield
	bitfieldSeen bool // a BITFIELD message has already arrived; a second is a protocol error
	nonHaveSeen  bool // a non-HAVE message has arrived, so a BITFIELD now would be out of order
	numPieces    int

	infoHash [20]byte
	peerID   [20]byte
}

// NewSession constructs a Session for peer, pre-sizing its bitfield to
// numPieces bits so a HAVE arriving before any BITFIELD is tolerated.
func NewSession(peer tracker.Peer, infoHash, ourPeerID [20]byte, numPieces int) *Session {
	return &Session{
		peer:          peer,
		state:         StateDialing,
		peerChoking:   true,
		clientChoking: true,
		bitfield:      bitfield.New(numPieces),
		numPieces:     numPieces,
		infoHash:      infoHash,
		peerID:        ourPeerID,
	}
}

// Dial opens the TCP connection with a 3-second timeout.
func (s *Session) Dial() error {
	conn, err := net.DialTimeout("tcp", s.peer.String(), dialTimeout)
	if err != nil {
		kind := ConnectOther
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			kind = ConnectTimeout
		} else if isRefused(err) {
			kind = ConnectRefused
		}
		s.state = StateClosed
		return &ConnectError{Kind: kind, Peer: s.peer.String(), err: err}
	}
	s.conn = conn
	s.state = StateHandshaking
	return nil
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Handshake sends our handshake and validates the peer's.
func (s *Session) Handshake() error {
	s.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer s.conn.SetDeadline(time.Time{})

	ours := peerwire.Handshake{InfoHash: s.infoHash, PeerID: s.peerID}
	if err := ours.WriteTo(s.conn); err != nil {
		s.state = StateClosed
		s.conn.Close()
		return &peerwire.HandshakeError{Kind: peerwire.ErrHandshakeIO, Msg: fmt.Sprintf("sending handshake: %v", err)}
	}

	if _, err := peerwire.ReadHandshake(s.conn, s.infoHash); err != nil {
		s.state = StateClosed
		s.conn.Close()
		return err
	}

	s.state = StateLive
	return nil
}

// EnterLive sends UNCHOKE followed by INTERESTED and flips the local
// flags to match. Incoming requests are still ignored; the UNCHOKE
// only announces the session as active.
func (s *Session) EnterLive() error {
	if !s.clientChoking {
		return nil
	}
	if _, err := s.conn.Write(peerwire.Encode(peerwire.Unchoke)); err != nil {
		return err
	}
	if _, err := s.conn.Write(peerwire.Encode(peerwire.Interested)); err != nil {
		return err
	}
	s.clientChoking = false
	s.clientInterested = true
	return nil
}

// ReadDispatch reads one message and applies it to session state. It
// returns the decoded message so callers (the piece downloader) can
// react to PIECE payloads.
func (s *Session) ReadDispatch(timeout time.Duration) (peerwire.Message, error) {
	s.conn.SetReadDeadline(time.Now().Add(timeout))
	msg, err := peerwire.Read(s.conn)
	if err != nil {
		return peerwire.Message{}, err
	}
	if msg.KeepAlive {
		return msg, nil
	}

	switch msg.ID {
	case peerwire.Choke:
		s.peerChoking = true
	case peerwire.Unchoke:
		s.peerChoking = false
	case peerwire.Interested:
		s.peerInterested = true
	case peerwire.Uninterested:
		s.peerInterested = false
	case peerwire.Have:
		idx, err := peerwire.DecodeHave(msg)
		if err != nil {
			return peerwire.Message{}, err
		}
		s.bitfield.Set(int(idx))
	case peerwire.Bitfield:
		if s.bitfieldSeen {
			return peerwire.Message{}, &peerwire.ParseError{Kind: peerwire.ErrMalformedLength, Msg: "duplicate BITFIELD message"}
		}
		if s.nonHaveSeen {
			return peerwire.Message{}, &peerwire.ParseError{Kind: peerwire.ErrMalformedLength, Msg: "BITFIELD after other messages"}
		}
		bf, err := bitfield.FromBytes(msg.Payload, s.numPieces)
		if err != nil {
			return peerwire.Message{}, &peerwire.ParseError{Kind: peerwire.ErrTruncated, Msg: err.Error()}
		}
		s.bitfield = bf
		s.bitfieldSeen = true
	case peerwire.Request, peerwire.Cancel:
		// We never seed; accepted and ignored.
	case peerwire.Piece:
		// Delivered to the active piece downloader by the caller.
	}
	if msg.ID != peerwire.Have && msg.ID != peerwire.Bitfield {
		s.nonHaveSeen = true
	}
	return msg, nil
}

// SendRequest emits a REQUEST message; callers are responsible for
// keeping begin offsets strictly increasing within one piece.
func (s *Session) SendRequest(p peerwire.RequestPayload) error {
	_, err := s.conn.Write(peerwire.EncodeRequest(p))
	return err
}

// HasPiece reports whether the peer's advertised bitfield covers
// piece index i.
func (s *Session) HasPiece(i int) bool { return s.bitfield.Has(i) }

// PeerChoking reports the peer's current choke state toward us.
func (s *Session) PeerChoking() bool { return s.peerChoking }

// Peer returns the endpoint this session is connected to.
func (s *Session) Peer() tracker.Peer { return s.peer }

// Close tears down the TCP connection.
func (s *Session) Close() {
	s.state = StateClosed
	if s.conn != nil {
		s.conn.Close()
	}
}
