package torrent

import (
	"fmt"
	"os"
)

// Assembler writes verified pieces into the output file at their
// correct byte offset as they arrive, so no additional buffering of
// the whole torrent is needed.
type Assembler struct {
	f           *os.File
	pieceLength int64
	total       int64
}

// NewAssembler creates (or truncates) path and pre-allocates it to
// total bytes.
func NewAssembler(path string, pieceLength, total int64) (*Assembler, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("torrent: opening output file: %w", err)
	}
	if err := f.Truncate(total); err != nil {
		f.Close()
		return nil, fmt.Errorf("torrent: preallocating output file: %w", err)
	}
	return &Assembler{f: f, pieceLength: pieceLength, total: total}, nil
}

// WriteAt writes a verified piece at its torrent-relative byte
// offset.
func (a *Assembler) WriteAt(p FinishedPiece) error {
	offset := int64(p.Index) * a.pieceLength
	if _, err := a.f.WriteAt(p.Bytes, offset); err != nil {
		return fmt.Errorf("torrent: writing piece %d: %w", p.Index, err)
	}
	return nil
}

// Close flushes and closes the output file.
func (a *Assembler) Close() error {
	if err := a.f.Sync(); err != nil {
		a.f.Close()
		return err
	}
	return a.f.Close()
}
