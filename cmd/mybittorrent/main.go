package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/proxy"

	"github.com/torrant-go/torrant/cmd/mybittorrent/bencode"
	"github.com/torrant-go/torrant/cmd/mybittorrent/config"
	"github.com/torrant-go/torrant/cmd/mybittorrent/magnet"
	"github.com/torrant-go/torrant/cmd/mybittorrent/metainfo"
	"github.com/torrant-go/torrant/cmd/mybittorrent/peering"
	"github.com/torrant-go/torrant/cmd/mybittorrent/tracker"
)

var logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = logLevel
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

type command struct {
	usage   string
	args    int
	failure string
	run     func(a *app, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"decode":       {"decode <bencoded-value>", 1, "Failed to decode", (*app).handleDecode},
	"info":         {"info <torrent-file>", 1, "Failed to get info", (*app).handleInfo},
	"peers":        {"peers <torrent-file>", 1, "Failed to get peers", (*app).handlePeers},
	"handshake":    {"handshake <torrent-file> <peer-address>", 2, "Failed to handshake", (*app).handleHandshake},
	"magnet_parse": {"magnet_parse <magnet-link>", 1, "Failed to parse magnet link", (*app).handleMagnetParse},
}

func main() {
	os.Exit(run(os.Args, os.Stdout))
}

// run executes one command and returns the process exit code. The logger is
// flushed before it returns.
func run(args []string, out io.Writer) int {
	logger := zap.L()
	defer logger.Sync()

	if len(args) < 2 {
		logger.Error("Missing command")
		return 2
	}
	name := args[1]
	cmd, ok := commands[name]
	if !ok {
		logger.Error("Unknown command", zap.String("command", name))
		return 2
	}
	if len(args)-2 < cmd.args {
		logger.Error("Not enough arguments", zap.String("usage", cmd.usage))
		return 2
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("Failed to load config", zap.Error(err))
		return 1
	}
	logLevel.SetLevel(cfg.Level())

	a, err := newApp(cfg, out)
	if err != nil {
		logger.Error("Failed to set up", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.run(a, ctx, args[2:]); err != nil {
		logger.Error(cmd.failure, zap.Error(err))
		return 1
	}
	return 0
}

type app struct {
	cfg      *config.Config
	out      io.Writer
	trackers *tracker.Client
	dialer   proxy.Dialer
	src      peering.Source
}

func newApp(cfg *config.Config, out io.Writer) (*app, error) {
	var dialer proxy.Dialer = &net.Dialer{Timeout: cfg.DialTimeout}
	if cfg.Proxy != "" {
		socks, err := proxy.SOCKS5("tcp", cfg.Proxy, nil, &net.Dialer{Timeout: cfg.DialTimeout})
		if err != nil {
			return nil, errors.Wrap(err, "failed to configure SOCKS5 proxy")
		}
		dialer = socks
	}
	src := peering.CryptoSource{}
	return &app{
		cfg: cfg,
		out: out,
		trackers: tracker.NewClient(
			tracker.NewHTTPTracker(&http.Client{Timeout: cfg.HTTP.Timeout}),
			tracker.NewUDPTracker(src, cfg.UDP.Timeout, cfg.UDP.Retries),
		),
		dialer: dialer,
		src:    src,
	}, nil
}

func readTorrent(path string) (*metainfo.Metainfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return metainfo.Parse(data)
}

func (a *app) handleDecode(_ context.Context, args []string) error {
	decoded, err := bencode.DecodeAll[any]([]byte(args[0]))
	if err != nil {
		return err
	}
	jsonOutput, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(jsonOutput))
	return nil
}

func (a *app) handleInfo(_ context.Context, args []string) error {
	m, err := readTorrent(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Tracker URL: %s\n", m.Announce)
	fmt.Fprintf(a.out, "Length: %d\n", m.Info.TotalBytes())
	fmt.Fprintf(a.out, "Info Hash: %s\n", m.Info.InfoHash())
	fmt.Fprintf(a.out, "Piece Length: %d\n", m.Info.PieceLength)
	fmt.Fprintln(a.out, "Piece Hashes:")
	for _, h := range m.Info.Pieces {
		fmt.Fprintln(a.out, h)
	}
	return nil
}

func (a *app) handlePeers(ctx context.Context, args []string) error {
	m, err := readTorrent(args[0])
	if err != nil {
		return err
	}
	peerID, err := peering.NewPeerID(a.cfg.PeerIDPrefix, a.src)
	if err != nil {
		return err
	}

	req := tracker.NewAnnounceRequest(m.Info, peerID, a.cfg.Port)
	req.Event = tracker.EventStarted
	req.NumWant = a.cfg.NumWant
	resp, err := a.trackers.AnnounceAll(ctx, m.Trackers(), req)
	if err != nil {
		return err
	}
	if resp.Warning != "" {
		zap.L().Warn("Tracker warning", zap.String("message", resp.Warning))
	}
	for _, addr := range resp.Peers.Addrs() {
		fmt.Fprintln(a.out, addr)
	}
	return nil
}

func (a *app) handleHandshake(ctx context.Context, args []string) error {
	m, err := readTorrent(args[0])
	if err != nil {
		return err
	}
	peerID, err := peering.NewPeerID(a.cfg.PeerIDPrefix, a.src)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
	defer cancel()
	conn, err := peering.Dial(dialCtx, a.dialer, args[1])
	if err != nil {
		return err
	}
	defer conn.Close()

	remote, err := conn.Handshake(ctx, peering.Handshake{InfoHash: m.Info.InfoHash(), PeerID: peerID})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Peer ID: %s\n", remote.PeerID)
	return nil
}

func (a *app) handleMagnetParse(_ context.Context, args []string) error {
	link, err := magnet.Parse(args[0])
	if err != nil {
		return err
	}
	if len(link.Trackers) == 0 {
		return fmt.Errorf("no trackers found in magnet link")
	}

	fmt.Fprintf(a.out, "Tracker URL: %s\n", link.Trackers[0])
	fmt.Fprintf(a.out, "Info Hash: %s\n", link.InfoHash)
	return nil
}
