package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jackpal "github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torrant-go/torrant/cmd/mybittorrent/config"
	"github.com/torrant-go/torrant/cmd/mybittorrent/peering"
)

func testApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a, err := newApp(config.Default(), &out)
	require.NoError(t, err)
	return a, &out
}

func writeTorrent(t *testing.T, announce string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jackpal.Marshal(&buf, map[string]any{
		"announce": announce,
		"info": map[string]any{
			"name":         "sample.txt",
			"length":       92063,
			"piece length": 32768,
			"pieces":       strings.Repeat("\x01", 20) + strings.Repeat("\x02", 20) + strings.Repeat("\x03", 20),
		},
	}))
	path := filepath.Join(t.TempDir(), "sample.torrent")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestHandleDecode(t *testing.T) {
	a, out := testApp(t)
	require.NoError(t, a.handleDecode(testCtx(t), []string{"d3:foo3:bar5:helloi52ee"}))
	assert.JSONEq(t, `{"foo":"bar","hello":52}`, out.String())

	assert.Error(t, a.handleDecode(testCtx(t), []string{"i52"}))
}

func TestHandleInfo(t *testing.T) {
	a, out := testApp(t)
	require.NoError(t, a.handleInfo(testCtx(t), []string{writeTorrent(t, "http://tracker.example/announce")}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "Tracker URL: http://tracker.example/announce", lines[0])
	assert.Equal(t, "Length: 92063", lines[1])
	assert.Regexp(t, `^Info Hash: [0-9a-f]{40}$`, lines[2])
	assert.Equal(t, "Piece Length: 32768", lines[3])
	assert.Equal(t, "Piece Hashes:", lines[4])
	assert.Equal(t, strings.Repeat("02", 20), lines[6])
}

func TestHandlePeers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "started", r.URL.Query().Get("event"))
		_ = jackpal.Marshal(w, map[string]any{
			"interval": 60,
			"peers":    string([]byte{127, 0, 0, 1, 0x1A, 0xE1}),
		})
	}))
	defer srv.Close()

	a, out := testApp(t)
	require.NoError(t, a.handlePeers(testCtx(t), []string{writeTorrent(t, srv.URL+"/announce")}))
	assert.Equal(t, "127.0.0.1:6881\n", out.String())
}

func TestHandleHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, peering.HandshakeSize)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		copy(buf[48:], "-XX0001-remotepeerid")
		_, _ = conn.Write(buf)
	}()

	a, out := testApp(t)
	require.NoError(t, a.handleHandshake(testCtx(t), []string{writeTorrent(t, "http://t/a"), ln.Addr().String()}))
	assert.Equal(t, "Peer ID: 2d5858303030312d72656d6f7465706565726964\n", out.String())
}

func TestHandleMagnetParse(t *testing.T) {
	a, out := testApp(t)
	require.NoError(t, a.handleMagnetParse(testCtx(t), []string{
		"magnet:?xt=urn:btih:ad42ce8109f54c99613ce38f9b4d87e70f24a165&dn=magnet1.gif&tr=http%3A%2F%2Fbittorrent-test-tracker.codecrafters.io%2Fannounce",
	}))
	assert.Equal(t,
		"Tracker URL: http://bittorrent-test-tracker.codecrafters.io/announce\nInfo Hash: ad42ce8109f54c99613ce38f9b4d87e70f24a165\n",
		out.String())

	assert.Error(t, a.handleMagnetParse(testCtx(t), []string{"magnet:?xt=urn:btih:ad42ce8109f54c99613ce38f9b4d87e70f24a165"}))
}

func TestRun_ExitCodes(t *testing.T) {
	t.Setenv(config.EnvPath, "")
	var out bytes.Buffer

	assert.Equal(t, 2, run([]string{"mybittorrent"}, &out))
	assert.Equal(t, 2, run([]string{"mybittorrent", "download"}, &out))
	assert.Equal(t, 2, run([]string{"mybittorrent", "handshake", "only-one-arg"}, &out))
	assert.Equal(t, 1, run([]string{"mybittorrent", "decode", "i52"}, &out))
	assert.Empty(t, out.String())

	assert.Equal(t, 0, run([]string{"mybittorrent", "decode", "i52e"}, &out))
	assert.Equal(t, "52\n", out.String())

	t.Setenv(config.EnvPath, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 1, run([]string{"mybittorrent", "decode", "i52e"}, &out))
}

func TestNewApp_Proxy(t *testing.T) {
	cfg := config.Default()
	cfg.Proxy = "127.0.0.1:9050"
	a, err := newApp(cfg, io.Discard)
	require.NoError(t, err)
	_, isDirect := a.dialer.(*net.Dialer)
	assert.False(t, isDirect)
}
