// Package metainfo provides a typed view over a decoded single-file
// torrent metainfo dictionary and derives its info-hash.
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"os"

	"github.com/lbrn/leechtorrent/bencode"
)

const hashLen = 20

// Metainfo is the parsed, typed content of a single-file .torrent
// file, plus its derived info-hash and per-piece SHA-1 digests.
type Metainfo struct {
	Announce     string
	AnnounceList [][]string
	Filename     string
	PieceLength  int64
	TotalLength  int64
	PieceHashes  [][hashLen]byte
	InfoHash     [hashLen]byte
}

// ErrorKind enumerates why a metainfo file failed to load.
type ErrorKind int

const (
	ErrOpen ErrorKind = iota
	ErrMalformedBencode
	ErrMissingField
)

// Error reports a metainfo parse failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	err  error
}

func (e *Error) Error() string { return "metainfo: " + e.Msg }
func (e *Error) Unwrap() error { return e.err }

func wrap(kind ErrorKind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, err: cause}
}

// NumPieces returns K, the number of pieces in the torrent.
func (m *Metainfo) NumPieces() int { return len(m.PieceHashes) }

// PieceLengthOf returns the byte length of piece i: PieceLength for
// every piece but the last, and the remainder for the last piece.
func (m *Metainfo) PieceLengthOf(i int) int64 {
	k := m.NumPieces()
	if i < 0 || i >= k {
		panic(fmt.Sprintf("metainfo: piece index %d out of range [0,%d)", i, k))
	}
	if i < k-1 {
		return m.PieceLength
	}
	return m.TotalLength - int64(k-1)*m.PieceLength
}

// Load reads and parses a .torrent file at path.
func Load(path string) (*Metainfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrap(ErrOpen, fmt.Sprintf("opening %q", path), err)
	}
	return Parse(data)
}

// Parse decodes raw bencoded metainfo bytes into a Metainfo.
func Parse(data []byte) (*Metainfo, error) {
	root, err := bencode.Decode(data)
	if err != nil {
		return nil, wrap(ErrMalformedBencode, "decoding metainfo", err)
	}
	if root.Kind != bencode.KindDict {
		return nil, wrap(ErrMalformedBencode, "top-level metainfo value is not a dictionary", nil)
	}

	announce, err := requireString(root, "announce")
	if err != nil {
		return nil, err
	}

	infoVal, err := bencode.DictGet(root, "info")
	if err != nil || infoVal.Kind != bencode.KindDict {
		return nil, wrap(ErrMissingField, "missing or malformed \"info\" dictionary", nil)
	}

	name, err := requireString(infoVal, "name")
	if err != nil {
		return nil, err
	}
	pieceLength, err := requireInt(infoVal, "piece length")
	if err != nil {
		return nil, err
	}
	if pieceLength <= 0 {
		return nil, wrap(ErrMissingField, "\"piece length\" must be positive", nil)
	}
	length, err := requireInt(infoVal, "length")
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, wrap(ErrMissingField, "\"length\" must be non-negative", nil)
	}
	piecesVal, err := bencode.DictGet(infoVal, "pieces")
	if err != nil || piecesVal.Kind != bencode.KindBytes {
		return nil, wrap(ErrMissingField, "missing or malformed \"pieces\"", nil)
	}
	if len(piecesVal.Str)%hashLen != 0 {
		return nil, wrap(ErrMissingField, fmt.Sprintf("\"pieces\" length %d is not a multiple of %d", len(piecesVal.Str), hashLen), nil)
	}

	k := len(piecesVal.Str) / hashLen
	hashes := make([][hashLen]byte, k)
	for i := 0; i < k; i++ {
		copy(hashes[i][:], piecesVal.Str[i*hashLen:(i+1)*hashLen])
	}

	expectedK := int((length + pieceLength - 1) / pieceLength)
	if length == 0 {
		expectedK = 0
	}
	if expectedK != k {
		return nil, wrap(ErrMissingField, fmt.Sprintf("pieces count %d does not match length/piece_length (%d)", k, expectedK), nil)
	}

	encodedInfo := bencode.Encode(infoVal)
	infoHash := sha1.Sum(encodedInfo)

	m := &Metainfo{
		Announce:    announce,
		Filename:    name,
		PieceLength: pieceLength,
		TotalLength: length,
		PieceHashes: hashes,
		InfoHash:    infoHash,
	}
	m.AnnounceList = parseAnnounceList(root)
	return m, nil
}

// parseAnnounceList reads the optional BEP-12 "announce-list" field:
// a list of tiers, each a list of tracker URLs. It is best-effort and
// never fails the overall parse; a malformed or absent field yields
// an empty list and the primary Announce is used instead.
func parseAnnounceList(root bencode.Value) [][]string {
	listVal, err := bencode.DictGet(root, "announce-list")
	if err != nil || listVal.Kind != bencode.KindList {
		return nil
	}
	tiers := make([][]string, 0, len(listVal.List))
	for _, tierVal := range listVal.List {
		if tierVal.Kind != bencode.KindList {
			continue
		}
		tier := make([]string, 0, len(tierVal.List))
		for _, urlVal := range tierVal.List {
			if urlVal.Kind == bencode.KindBytes {
				tier = append(tier, string(urlVal.Str))
			}
		}
		if len(tier) > 0 {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}

func requireString(dict bencode.Value, key string) (string, error) {
	v, err := bencode.DictGet(dict, key)
	if err != nil || v.Kind != bencode.KindBytes {
		return "", wrap(ErrMissingField, fmt.Sprintf("missing or malformed %q", key), nil)
	}
	return string(v.Str), nil
}

func requireInt(dict bencode.Value, key string) (int64, error) {
	v, err := bencode.DictGet(dict, key)
	if err != nil || v.Kind != bencode.KindInt {
		return 0, wrap(ErrMissingField, fmt.Sprintf("missing or malformed %q", key), nil)
	}
	return v.Int, nil
}

// AnnounceURLs returns every tracker URL worth trying, in order: the
// primary Announce field first, then each announce-list tier,
// deduplicated.
func (m *Metainfo) AnnounceURLs() []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	add(m.Announce)
	for _, tier := range m.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return urls
}
