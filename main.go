package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lbrn/leechtorrent/torrent"
)

func main() {
	var (
		file    = flag.String("f", "", "path to the .torrent file (required)")
		output  = flag.String("o", ".", "directory to write the downloaded file into")
		workers = flag.Int("workers", 0, "number of concurrent peer sessions (0 = default)")
		timeout = flag.Duration("timeout", 0, "overall download timeout, 0 for none")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -f is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	cfg := torrent.Config{
		TorrentPath: *file,
		OutputDir:   *output,
		Workers:     *workers,
	}

	start := time.Now()
	if err := torrent.Download(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("done in %s\n", time.Since(start).Round(time.Second))
}
