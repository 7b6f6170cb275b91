package torrent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lbrn/leechtorrent/internal/identity"
	"github.com/lbrn/leechtorrent/internal/logx"
	"github.com/lbrn/leechtorrent/internal/progress"
	"github.com/lbrn/leechtorrent/metainfo"
	"github.com/lbrn/leechtorrent/tracker"
)

// defaultWorkers is the pool size used when Config.Workers is zero.
const defaultWorkers = 40

// clientPort is the TCP port advertised to the tracker. This
// implementation never accepts incoming connections, but trackers
// expect a plausible value in the announce.
const clientPort = 6881

// Config controls a single Download run.
type Config struct {
	TorrentPath string
	OutputDir   string
	Workers     int
}

// Download fetches every piece of the torrent described by cfg and
// writes it to cfg.OutputDir, end to end: load metainfo, announce,
// run the worker pool, and assemble the output file.
func Download(ctx context.Context, cfg Config) error {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	mi, err := metainfo.Load(cfg.TorrentPath)
	if err != nil {
		return err
	}
	logx.Infof("loaded %q: %d pieces, %d bytes", mi.Filename, mi.NumPieces(), mi.TotalLength)

	peerID := identity.PeerID()

	var peers []tracker.Peer
	client := tracker.NewClient()
	for _, announceURL := range mi.AnnounceURLs() {
		req := tracker.Request{
			AnnounceURL: announceURL,
			InfoHash:    mi.InfoHash,
			PeerID:      peerID,
			Port:        clientPort,
			Left:        mi.TotalLength,
			Compact:     true,
		}
		result, announceErr := client.Announce(ctx, req)
		if announceErr != nil {
			logx.Warnf("announce to %s failed: %v", announceURL, announceErr)
			continue
		}
		peers = result
		break
	}
	if len(peers) == 0 {
		return fmt.Errorf("torrent: no tracker returned any peers")
	}

	pieces := make([]PieceWork, mi.NumPieces())
	for i := range pieces {
		pieces[i] = PieceWork{
			Index:  i,
			Hash:   mi.PieceHashes[i],
			Length: mi.PieceLengthOf(i),
		}
	}
	workQueue := NewWorkQueue(pieces)

	pool := NewPool(cfg.Workers, mi.InfoHash, peerID, mi.NumPieces(), workQueue, peers)

	outPath := filepath.Join(cfg.OutputDir, mi.Filename)
	assembler, err := NewAssembler(outPath, mi.PieceLength, mi.TotalLength)
	if err != nil {
		return err
	}

	bar := progress.New(mi.NumPieces(), mi.Filename)

	drainErrCh := make(chan error, 1)
	go func() {
		drainErrCh <- drainWithProgress(assembler, pool.Finished, bar)
	}()

	runErr := pool.Run(ctx)
	drainErr := <-drainErrCh
	bar.Close()

	if closeErr := assembler.Close(); closeErr != nil && drainErr == nil {
		drainErr = closeErr
	}

	if runErr != nil {
		return runErr
	}
	if drainErr != nil {
		return drainErr
	}
	if workQueue.Outstanding() > 0 {
		return fmt.Errorf("torrent: download ended with %d piece(s) unresolved (no peer could serve them)", workQueue.Outstanding())
	}
	logx.Infof("download complete: %s", outPath)
	return nil
}

func drainWithProgress(a *Assembler, finished *FinishedQueue, bar *progress.Bar) error {
	for p := range finished.Drain() {
		if err := a.WriteAt(p); err != nil {
			return err
		}
		bar.Add(1)
	}
	return nil
}
