package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/tidepool/internal/client"
	"github.com/ssd-technologies/tidepool/internal/protocol"
	"github.com/ssd-technologies/tidepool/internal/torrent"
)

const defaultTracker = "127.0.0.1:7001"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "info":
		cmdInfo(os.Args[2:])
	case "announce":
		cmdAnnounce(os.Args[2:])
	case "download":
		cmdDownload(os.Args[2:])
	case "get":
		cmdGet(os.Args[2:])
	case "query":
		cmdQuery(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: tidepool <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  info <torrent>                        print torrent metadata")
	fmt.Println("  announce <torrent> [tracker]          announce to the tracker and list peers")
	fmt.Println("  download <torrent> <output> [tracker] announce and download the torrent's file")
	fmt.Println("  get <file> <output> [tracker]         download a file by name")
	fmt.Println("  query <question...>                   ask the tracker's AI endpoint")
	fmt.Println()
	fmt.Println("The tracker address defaults to " + defaultTracker + "; set TIDEPOOL_TRACKER to override.")
}

func trackerAddr(args []string, fromIndex int) string {
	if len(args) > fromIndex {
		return args[fromIndex]
	}
	if addr := os.Getenv("TIDEPOOL_TRACKER"); addr != "" {
		return addr
	}
	return defaultTracker
}

func newClient() *client.Client {
	return client.NewClient(zap.NewNop())
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func parseTorrent(path string) *torrent.Descriptor {
	raw, err := os.ReadFile(path)
	if err != nil {
		fatal("reading torrent file: %v", err)
	}
	desc, err := torrent.Parse(raw)
	if err != nil {
		fatal("parsing torrent file: %v", err)
	}
	return desc
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fatal("usage: tidepool info <torrent>")
	}
	desc := parseTorrent(args[0])

	fmt.Printf("Name:         %s\n", desc.Name)
	fmt.Printf("Announce:     %s\n", desc.Announce)
	fmt.Printf("Info hash:    %s\n", desc.InfoHash)
	fmt.Printf("Length:       %d bytes\n", desc.Length)
	fmt.Printf("Piece length: %d bytes\n", desc.PieceLength)
	fmt.Printf("Pieces:       %d\n", len(desc.PieceHashes))
}

func cmdAnnounce(args []string) {
	if len(args) < 1 {
		fatal("usage: tidepool announce <torrent> [tracker]")
	}
	desc := parseTorrent(args[0])
	addr := trackerAddr(args, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := newClient().Announce(ctx, addr, &protocol.AnnounceRequest{
		InfoHash: desc.InfoHash,
		PeerID:   client.NewPeerID(),
		Port:     6881,
		Left:     uint64(desc.Length),
		Event:    "started",
	})
	if err != nil {
		fatal("%v", err)
	}

	fmt.Printf("Interval: %ds, complete: %d, incomplete: %d\n",
		resp.Interval, resp.Complete, resp.Incomplete)
	if len(resp.Peers) == 0 {
		fmt.Println("No other peers in the swarm.")
		return
	}
	for _, p := range resp.Peers {
		fmt.Printf("  %s:%d\n", p.IP, p.Port)
	}
}

func cmdDownload(args []string) {
	if len(args) < 2 {
		fatal("usage: tidepool download <torrent> <output> [tracker]")
	}
	addr := trackerAddr(args, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	desc, err := newClient().DownloadTorrent(ctx, addr, args[0], args[1])
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Downloaded %s (%d bytes) to %s\n", desc.Name, desc.Length, args[1])
}

func cmdGet(args []string) {
	if len(args) < 2 {
		fatal("usage: tidepool get <file> <output> [tracker]")
	}
	addr := trackerAddr(args, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := newClient().DownloadFile(ctx, addr, args[0], args[1]); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Downloaded %s to %s\n", args[0], args[1])
}

func cmdQuery(args []string) {
	if len(args) < 1 {
		fatal("usage: tidepool query <question...>")
	}
	addr := trackerAddr(nil, 0)
	question := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := newClient().Query(ctx, addr, question, nil, nil)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(resp.Answer)
	if resp.Metadata != nil {
		fmt.Printf("(%d tokens, %dms)\n", resp.Metadata.TotalTokens, resp.Metadata.ProcessingTimeMs)
	}
}
