// Package tracker implements the HTTP announce exchange: building the
// GET request, performing it with a bounded timeout, and turning the
// bencoded response into a list of peer endpoints.
package tracker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bencodego "github.com/jackpal/bencode-go"

	"github.com/lbrn/leechtorrent/internal/logx"
)

const requestTimeout = 15 * time.Second

// Peer is a single IPv4:port endpoint parsed from the tracker's
// compact peer list.
type Peer struct {
	IP   net.IP
	Port uint16
}

func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// ErrorKind enumerates tracker request failures.
type ErrorKind int

const (
	ErrNetwork ErrorKind = iota
	ErrMalformedResponse
	ErrInvalidPeersBlob
)

// Error reports a tracker request failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	err  error
}

func (e *Error) Error() string { return "tracker: " + e.Msg }
func (e *Error) Unwrap() error { return e.err }

func wrap(kind ErrorKind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, err: cause}
}

// Request describes the parameters of a single announce.
type Request struct {
	AnnounceURL string
	InfoHash    [20]byte
	PeerID      [20]byte
	Port        int
	Uploaded    int64
	Downloaded  int64
	Left        int64
	Compact     bool
}

// response mirrors the bencoded tracker reply; jackpal/bencode-go's
// struct-tag Unmarshal decodes directly into it.
type response struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

// Client performs announce requests; each Request names the tracker
// it is sent to.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client with a bounded-timeout http.Client.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: requestTimeout}}
}

// Announce builds the GET request described by req, performs it, and
// returns the peer list from the bencoded response.
func (c *Client) Announce(ctx context.Context, req Request) ([]Peer, error) {
	u, err := buildAnnounceURL(req)
	if err != nil {
		return nil, wrap(ErrNetwork, "building announce URL", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, wrap(ErrNetwork, "constructing HTTP request", err)
	}

	logx.Infof("tracker: announcing to %s", req.AnnounceURL)
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, wrap(ErrNetwork, "performing announce request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, wrap(ErrNetwork, fmt.Sprintf("tracker returned status %d", resp.StatusCode), nil)
	}

	var tr response
	if err := bencodego.Unmarshal(resp.Body, &tr); err != nil {
		return nil, wrap(ErrMalformedResponse, "decoding tracker response", err)
	}
	if tr.FailureReason != "" {
		return nil, wrap(ErrMalformedResponse, "tracker failure: "+tr.FailureReason, nil)
	}

	peers, err := ParseCompactPeers([]byte(tr.Peers))
	if err != nil {
		return nil, wrap(ErrInvalidPeersBlob, "parsing compact peers blob", err)
	}

	logx.Infof("tracker: %s returned %d peers, interval %ds", req.AnnounceURL, len(peers), tr.Interval)
	return peers, nil
}

func buildAnnounceURL(req Request) (string, error) {
	u, err := url.Parse(req.AnnounceURL)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.Itoa(req.Port))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	if req.Compact {
		q.Set("compact", "1")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseCompactPeers splits a compact peer-list blob (a multiple-of-6
// byte string: 4 big-endian IPv4 bytes + 2 big-endian port bytes per
// peer) into individual Peer entries.
func ParseCompactPeers(blob []byte) ([]Peer, error) {
	if len(blob)%6 != 0 {
		return nil, fmt.Errorf("compact peers blob length %d is not a multiple of 6", len(blob))
	}
	peers := make([]Peer, 0, len(blob)/6)
	for i := 0; i+6 <= len(blob); i += 6 {
		ip := net.IPv4(blob[i], blob[i+1], blob[i+2], blob[i+3])
		port := uint16(blob[i+4])<<8 | uint16(blob[i+5])
		peers = append(peers, Peer{IP: ip, Port: port})
	}
	return peers, nil
}
