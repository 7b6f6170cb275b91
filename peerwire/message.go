// Package peerwire implements the BitTorrent peer-wire framing: the
// length-prefixed message codec and the fixed 68-byte handshake.
package peerwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ID identifies a peer-wire message type.
type ID byte

const (
	Choke        ID = 0
	Unchoke      ID = 1
	Interested   ID = 2
	Uninterested ID = 3
	Have         ID = 4
	Bitfield     ID = 5
	Request      ID = 6
	Piece        ID = 7
	Cancel       ID = 8
)

// Message is a single parsed peer-wire message. A keep-alive is
// represented as the zero Message with KeepAlive set.
type Message struct {
	KeepAlive bool
	ID        ID
	Payload   []byte
}

// ParseErrorKind enumerates message decode failures.
type ParseErrorKind int

const (
	ErrUnknownID ParseErrorKind = iota
	ErrMalformedLength
	ErrTruncated
)

// ParseError reports a peer-wire message decode failure.
type ParseError struct {
	Kind ParseErrorKind
	Msg  string
}

func (e *ParseError) Error() string { return "peerwire: " + e.Msg }

func parseErr(kind ParseErrorKind, msg string) error {
	return &ParseError{Kind: kind, Msg: msg}
}

// Request fields for REQUEST/CANCEL payloads.
type RequestPayload struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

// PiecePayload fields for the PIECE message.
type PiecePayload struct {
	Index uint32
	Begin uint32
	Block []byte
}

// EncodeKeepAlive returns the wire bytes for a zero-length keep-alive.
func EncodeKeepAlive() []byte {
	return []byte{0, 0, 0, 0}
}

// Encode serializes a simple no-payload message (CHOKE, UNCHOKE,
// INTERESTED, UNINTERESTED).
func Encode(id ID) []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint32(buf[0:4], 1)
	buf[4] = byte(id)
	return buf
}

// EncodeHave serializes a HAVE message.
func EncodeHave(pieceIndex uint32) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint32(buf[0:4], 5)
	buf[4] = byte(Have)
	binary.BigEndian.PutUint32(buf[5:9], pieceIndex)
	return buf
}

// EncodeBitfield serializes a BITFIELD message.
func EncodeBitfield(raw []byte) []byte {
	buf := make([]byte, 4+1+len(raw))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(raw)))
	buf[4] = byte(Bitfield)
	copy(buf[5:], raw)
	return buf
}

// EncodeRequest serializes a REQUEST message.
func EncodeRequest(p RequestPayload) []byte {
	return encodeThreeUint32(Request, p.Index, p.Begin, p.Length)
}

// EncodeCancel serializes a CANCEL message.
func EncodeCancel(p RequestPayload) []byte {
	return encodeThreeUint32(Cancel, p.Index, p.Begin, p.Length)
}

func encodeThreeUint32(id ID, a, b, c uint32) []byte {
	buf := make([]byte, 4+1+12)
	binary.BigEndian.PutUint32(buf[0:4], 13)
	buf[4] = byte(id)
	binary.BigEndian.PutUint32(buf[5:9], a)
	binary.BigEndian.PutUint32(buf[9:13], b)
	binary.BigEndian.PutUint32(buf[13:17], c)
	return buf
}

// EncodePiece serializes a PIECE message.
func EncodePiece(p PiecePayload) []byte {
	buf := make([]byte, 4+1+8+len(p.Block))
	binary.BigEndian.PutUint32(buf[0:4], uint32(9+len(p.Block)))
	buf[4] = byte(Piece)
	binary.BigEndian.PutUint32(buf[5:9], p.Index)
	binary.BigEndian.PutUint32(buf[9:13], p.Begin)
	copy(buf[13:], p.Block)
	return buf
}

// maxMessageLength bounds a single message's payload to defend
// against a malicious or corrupt peer claiming an enormous length
// prefix.
const maxMessageLength = 1 << 20

// Read reads exactly one framed message from r: a 4-byte big-endian
// length prefix, then that many payload bytes. Length 0 yields a
// keep-alive. Unknown ids are reported as ParseError{ErrUnknownID}.
func Read(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Message{}, parseErr(ErrTruncated, "truncated length prefix")
		}
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Message{KeepAlive: true}, nil
	}
	if length > maxMessageLength {
		return Message{}, parseErr(ErrMalformedLength, fmt.Sprintf("message length %d exceeds ceiling", length))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, parseErr(ErrTruncated, "truncated message payload")
	}

	id := ID(payload[0])
	switch id {
	case Choke, Unchoke, Interested, Uninterested, Have, Bitfield, Request, Piece, Cancel:
	default:
		return Message{}, parseErr(ErrUnknownID, fmt.Sprintf("unknown message id %d", id))
	}

	return Message{ID: id, Payload: payload[1:]}, nil
}

// DecodeHave extracts the piece index from a HAVE message's payload.
func DecodeHave(m Message) (uint32, error) {
	if len(m.Payload) != 4 {
		return 0, parseErr(ErrMalformedLength, "HAVE payload must be 4 bytes")
	}
	return binary.BigEndian.Uint32(m.Payload), nil
}

// DecodeRequest extracts index/begin/length from a REQUEST or CANCEL
// message's payload.
func DecodeRequest(m Message) (RequestPayload, error) {
	if len(m.Payload) != 12 {
		return RequestPayload{}, parseErr(ErrMalformedLength, "REQUEST/CANCEL payload must be 12 bytes")
	}
	return RequestPayload{
		Index:  binary.BigEndian.Uint32(m.Payload[0:4]),
		Begin:  binary.BigEndian.Uint32(m.Payload[4:8]),
		Length: binary.BigEndian.Uint32(m.Payload[8:12]),
	}, nil
}

// DecodePiece extracts index/begin/block from a PIECE message's
// payload.
func DecodePiece(m Message) (PiecePayload, error) {
	if len(m.Payload) < 8 {
		return PiecePayload{}, parseErr(ErrMalformedLength, "PIECE payload must be at least 8 bytes")
	}
	return PiecePayload{
		Index: binary.BigEndian.Uint32(m.Payload[0:4]),
		Begin: binary.BigEndian.Uint32(m.Payload[4:8]),
		Block: m.Payload[8:],
	}, nil
}
