package ui

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/mediachat/pkg/client"
	"github.com/NicolasHaas/mediachat/pkg/datastore"
	"github.com/NicolasHaas/mediachat/pkg/server"
)

// syncBuffer is written by the reader goroutine and the test at once.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T) string {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ServerName = "ui-test"
	cfg.ServerPassword = "pw"
	cfg.AllowMultiLogin = true
	cfg.PollInterval = 20 * time.Millisecond
	srv := server.New(cfg, server.Dependencies{Store: datastore.NewMemory()})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Shutdown)
	return srv.Addr().String()
}

func testApp(t *testing.T, input string) (*App, *syncBuffer) {
	t.Helper()
	dir := t.TempDir()
	settings := client.DefaultSettings()
	settings.Color = false
	settings.DownloadDir = filepath.Join(dir, "downloads")

	out := &syncBuffer{}
	a := newApp(out, settings, client.NewBookmarkStoreAt(filepath.Join(dir, "servers.yaml")))
	a.settingsPath = filepath.Join(dir, "settings.yaml")
	a.in = bufio.NewReader(strings.NewReader(input))
	t.Cleanup(a.disconnect)
	return a, out
}

func waitOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(out.String(), want) },
		5*time.Second, 10*time.Millisecond, "output never contained %q:\n%s", want, out)
}

func TestAppChatAndBookmark(t *testing.T) {
	addr := startServer(t)
	alice, aliceOut := testApp(t, "")
	bob, bobOut := testApp(t, "")

	require.NoError(t, alice.connect(addr, "alice", "pw"))
	waitOutput(t, aliceOut, "* connected to ui-test")
	require.NoError(t, bob.connect(addr, "bob", "pw"))
	waitOutput(t, aliceOut, "* bob joined")

	bob.execute("hello alice")
	waitOutput(t, aliceOut, "bob: hello alice")
	waitOutput(t, bobOut, "bob: hello alice")

	alice.execute("/msg bob just you")
	waitOutput(t, bobOut, "[from alice] just you")
	waitOutput(t, aliceOut, "[to bob] just you")

	require.Len(t, alice.bookmarks.Bookmarks, 1)
	assert.Equal(t, "alice@"+addr, alice.bookmarks.Bookmarks[0].Name)

	prefix, _ := alice.livePrefix()
	assert.Equal(t, "alice@ui-test> ", prefix)
}

func TestAppAutoAcceptTransfer(t *testing.T) {
	addr := startServer(t)
	alice, aliceOut := testApp(t, "")
	bob, bobOut := testApp(t, "")
	require.NoError(t, alice.connect(addr, "alice", "pw"))
	require.NoError(t, bob.connect(addr, "bob", "pw"))
	waitOutput(t, aliceOut, "* bob joined")

	bob.execute("/autoaccept on")
	waitOutput(t, bobOut, "* auto-accept on")

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember the milk"), 0o600))
	alice.execute("/send bob " + path)

	waitOutput(t, aliceOut, `sent "notes.txt" to bob`)
	waitOutput(t, bobOut, `received "notes.txt" from alice`)

	data, err := os.ReadFile(filepath.Join(bob.settings.DownloadDir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remember the milk", string(data))

	saved := client.LoadSettings(bob.settingsPath)
	assert.True(t, saved.AutoAccept)
}

func TestAppOfflineAndQuit(t *testing.T) {
	a, out := testApp(t, "")
	a.execute("hello?")
	waitOutput(t, out, "not connected")

	a.execute("/bogus")
	waitOutput(t, out, "unknown command /bogus")

	a.execute("/quit")
	assert.True(t, a.isQuitting())
}

func TestAppReconnectReadsPassword(t *testing.T) {
	addr := startServer(t)
	a, out := testApp(t, "pw\n")
	a.execute("/connect " + addr + " carol")
	waitOutput(t, out, "* connected to ui-test")
	assert.NotNil(t, a.current())

	a.execute("/disconnect")
	waitOutput(t, out, "* disconnected")
	assert.Nil(t, a.current())
}
