package peerwire

import (
	"bytes"
	"fmt"
	"io"
)

const (
	protocolName   = "BitTorrent protocol"
	handshakeLen   = 49 + len(protocolName) // 68
	infoHashOffset = 1 + len(protocolName) + 8
	peerIDOffset   = infoHashOffset + 20
)

// Handshake is the fixed 68-byte greeting exchanged at the start of
// every peer session: pstrlen, the protocol name, 8 reserved bytes,
// a 20-byte info-hash, and a 20-byte peer id.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Encode serializes h into the 68-byte wire form.
func (h Handshake) Encode() []byte {
	buf := make([]byte, handshakeLen)
	buf[0] = byte(len(protocolName))
	copy(buf[1:], protocolName)
	// bytes [1+len(protocolName) : infoHashOffset] are the 8 reserved
	// zero bytes, left at their zero value.
	copy(buf[infoHashOffset:], h.InfoHash[:])
	copy(buf[peerIDOffset:], h.PeerID[:])
	return buf
}

// WriteTo writes the handshake to w.
func (h Handshake) WriteTo(w io.Writer) error {
	_, err := w.Write(h.Encode())
	return err
}

// HandshakeErrorKind enumerates why a handshake was rejected.
type HandshakeErrorKind int

const (
	ErrInvalidProtocol HandshakeErrorKind = iota
	ErrWrongInfoHash
	ErrHandshakeTimeout
	ErrHandshakeIO
)

type HandshakeError struct {
	Kind HandshakeErrorKind
	Msg  string
	err  error
}

func (e *HandshakeError) Error() string { return "peerwire: " + e.Msg }
func (e *HandshakeError) Unwrap() error { return e.err }

// ReadHandshake reads exactly 68 bytes from r and validates them
// against expectedInfoHash: the fixed protocol prefix must match and
// the info-hash substring must equal expectedInfoHash.
func ReadHandshake(r io.Reader, expectedInfoHash [20]byte) (Handshake, error) {
	buf := make([]byte, handshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		kind := ErrHandshakeIO
		if te, ok := err.(interface{ Timeout() bool }); ok && te.Timeout() {
			kind = ErrHandshakeTimeout
		}
		return Handshake{}, &HandshakeError{Kind: kind, Msg: fmt.Sprintf("reading handshake: %v", err), err: err}
	}
	return decodeHandshake(buf, expectedInfoHash)
}

func decodeHandshake(buf []byte, expectedInfoHash [20]byte) (Handshake, error) {
	if len(buf) != handshakeLen {
		return Handshake{}, &HandshakeError{Kind: ErrInvalidProtocol, Msg: "wrong handshake length"}
	}
	if buf[0] != byte(len(protocolName)) || !bytes.Equal(buf[1:1+len(protocolName)], []byte(protocolName)) {
		return Handshake{}, &HandshakeError{Kind: ErrInvalidProtocol, Msg: "invalid protocol prefix"}
	}

	var h Handshake
	copy(h.InfoHash[:], buf[infoHashOffset:peerIDOffset])
	copy(h.PeerID[:], buf[peerIDOffset:handshakeLen])

	if !bytes.Equal(h.InfoHash[:], expectedInfoHash[:]) {
		return Handshake{}, &HandshakeError{Kind: ErrWrongInfoHash, Msg: "info-hash mismatch"}
	}
	return h, nil
}
