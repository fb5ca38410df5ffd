package server

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aeolun/hsschat/pkg/client"
	"github.com/aeolun/hsschat/pkg/client/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient is a real client connection driven by a reconciler actor loop.
type testClient struct {
	conn  *client.Connection
	rec   *session.Reconciler
	state *client.MockState
	ctx   context.Context
}

func newTestClient(t *testing.T, serverURL, nick string) *testClient {
	t.Helper()
	conn, err := client.NewConnection(serverURL)
	require.NoError(t, err)
	require.NoError(t, conn.Open(nick))

	state := client.NewMockState()
	rec := session.NewReconciler(conn, state, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = rec.Run(ctx, conn.Incoming(), nil) }()

	t.Cleanup(func() {
		cancel()
		conn.Close()
	})
	return &testClient{conn: conn, rec: rec, state: state, ctx: ctx}
}

// query runs fn on the reconciler goroutine and reports its result.
func (c *testClient) query(fn func(r *session.Reconciler) bool) bool {
	ctx, cancel := context.WithTimeout(c.ctx, time.Second)
	defer cancel()
	result := make(chan bool, 1)
	err := c.rec.Post(ctx, func() session.Change {
		result <- fn(c.rec)
		return session.Change{}
	})
	if err != nil {
		return false
	}
	select {
	case ok := <-result:
		return ok
	case <-ctx.Done():
		return false
	}
}

func (c *testClient) eventually(t *testing.T, msg string, fn func(r *session.Reconciler) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return c.query(fn) }, 5*time.Second, 10*time.Millisecond, msg)
}

// do runs an action on the reconciler goroutine.
func (c *testClient) do(t *testing.T, fn func(r *session.Reconciler) error) {
	t.Helper()
	var err error
	require.True(t, c.query(func(r *session.Reconciler) bool {
		err = fn(r)
		return true
	}))
	require.NoError(t, err)
}

func logContains(r *session.Reconciler, key session.ChannelKey, text string) bool {
	for _, m := range r.Store().Log(key) {
		if m.Text == text {
			return true
		}
	}
	return false
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AvatarDir = t.TempDir()
	srv, err := NewServer(cfg, zerolog.Nop())
	require.NoError(t, err)

	ts := httptestServer(t, srv)
	return srv, ts
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestJourneyPublicAndPrivateChat(t *testing.T) {
	_, url := newTestServer(t)

	alice := newTestClient(t, url, "Alice")
	alice.eventually(t, "alice identified", func(r *session.Reconciler) bool {
		return r.Store().OwnName() == "Alice" && logContains(r, session.ChannelAll, "Alice joined the chat.")
	})

	// Same requested name is made unique
	bob := newTestClient(t, url, "Alice")
	bob.eventually(t, "bob identified with suffix", func(r *session.Reconciler) bool {
		return r.Store().OwnName() == "Alice#2"
	})

	var aliceID, bobID string
	alice.query(func(r *session.Reconciler) bool { aliceID = r.Store().OwnID(); return true })
	bob.query(func(r *session.Reconciler) bool { bobID = r.Store().OwnID(); return true })
	require.NotEmpty(t, aliceID)
	require.NotEqual(t, aliceID, bobID)

	alice.eventually(t, "alice sees bob in roster", func(r *session.Reconciler) bool {
		_, ok := r.Store().Entry(bobID)
		return ok && len(r.Snapshot().Sidebar) == 1
	})

	// Public message reaches both
	alice.do(t, func(r *session.Reconciler) error { return r.SendMessage("hello everyone") })
	bob.eventually(t, "bob got public message", func(r *session.Reconciler) bool {
		return logContains(r, session.ChannelAll, "hello everyone")
	})

	// Bob opens a private conversation with Alice and writes to her
	bob.do(t, func(r *session.Reconciler) error {
		_, err := r.ActivateChannel(session.ChannelKey(aliceID))
		return err
	})
	bob.do(t, func(r *session.Reconciler) error { return r.SendMessage("psst") })

	bob.eventually(t, "own echo lands in the peer channel", func(r *session.Reconciler) bool {
		return logContains(r, session.ChannelKey(aliceID), "psst")
	})
	alice.eventually(t, "alice has an unread private message", func(r *session.Reconciler) bool {
		return r.Store().Unread(session.ChannelKey(bobID)) == 1 &&
			logContains(r, session.ChannelKey(bobID), "psst") &&
			!logContains(r, session.ChannelAll, "psst")
	})

	// Switching clears the badge and the history snapshot keeps the message
	alice.do(t, func(r *session.Reconciler) error {
		_, err := r.ActivateChannel(session.ChannelKey(bobID))
		return err
	})
	alice.eventually(t, "history replaced the private log", func(r *session.Reconciler) bool {
		log := r.Store().Log(session.ChannelKey(bobID))
		return r.Store().Unread(session.ChannelKey(bobID)) == 0 && len(log) == 1 && log[0].AuthorID == bobID
	})

	// Rename shows up for both sides
	bob.do(t, func(r *session.Reconciler) error { return r.Rename("Bob") })
	bob.eventually(t, "bob renamed", func(r *session.Reconciler) bool {
		return r.Store().OwnName() == "Bob" && bob.state.GetLastNickname() == "Bob"
	})
	alice.eventually(t, "alice sees the new name", func(r *session.Reconciler) bool {
		e, ok := r.Store().Entry(bobID)
		return ok && e.DisplayName == "Bob" && logContains(r, session.ChannelAll, "Alice#2 is now known as Bob")
	})

	// Leaving removes Bob from Alice's roster
	bob.conn.Close()
	alice.eventually(t, "bob left", func(r *session.Reconciler) bool {
		_, ok := r.Store().Entry(bobID)
		return !ok && logContains(r, session.ChannelAll, "Bob left the chat.")
	})
}

func TestJourneyMessageToUnknownPeer(t *testing.T) {
	_, url := newTestServer(t)
	alice := newTestClient(t, url, "Alice")
	alice.eventually(t, "identified", func(r *session.Reconciler) bool { return r.Store().Identified() })

	alice.do(t, func(r *session.Reconciler) error {
		r.Store().EnsureEntry("ghost", "Ghost")
		_, err := r.ActivateChannel("ghost")
		return err
	})
	alice.do(t, func(r *session.Reconciler) error { return r.SendMessage("anyone?") })

	alice.eventually(t, "server explains in main chat", func(r *session.Reconciler) bool {
		for _, m := range r.Store().Log(session.ChannelAll) {
			if m.System && strings.Contains(m.Text, "'ghost' not found") {
				return true
			}
		}
		return false
	})
}

func TestJourneyAvatarUpload(t *testing.T) {
	srv, url := newTestServer(t)
	alice := newTestClient(t, url, "Alice")
	bob := newTestClient(t, url, "Bob")

	var aliceID string
	alice.eventually(t, "identified", func(r *session.Reconciler) bool {
		aliceID = r.Store().OwnID()
		return aliceID != ""
	})
	bob.eventually(t, "bob sees alice", func(r *session.Reconciler) bool {
		_, ok := r.Store().Entry(aliceID)
		return ok
	})

	path := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t), 0o600))
	uploader := client.NewAvatarClient(alice.conn.GetHTTPBase(), zerolog.Nop())

	var call func() session.AvatarResult
	alice.do(t, func(r *session.Reconciler) error {
		var err error
		call, err = r.UploadAvatar(context.Background(), uploader, path)
		return err
	})
	res := call()
	require.NoError(t, res.Err)
	assert.True(t, strings.HasPrefix(res.URL, "/avatars/"))
	assert.True(t, strings.HasSuffix(res.URL, ".png"))

	alice.do(t, func(r *session.Reconciler) error { r.ApplyAvatarResult(res); return nil })
	alice.eventually(t, "own avatar set and cached", func(r *session.Reconciler) bool {
		return r.Avatars().Own() == res.URL && alice.state.GetAvatarURL() == res.URL
	})
	bob.eventually(t, "bob sees the avatar via roster push", func(r *session.Reconciler) bool {
		return r.Avatars().Resolve(aliceID) == res.URL
	})

	_, err := os.Stat(filepath.Join(srv.config.AvatarDir, strings.TrimPrefix(res.URL, "/avatars/")))
	require.NoError(t, err)

	// Removal clears it everywhere
	alice.do(t, func(r *session.Reconciler) error {
		var err error
		call, err = r.RemoveAvatar(context.Background(), uploader)
		return err
	})
	res = call()
	require.NoError(t, res.Err)
	alice.do(t, func(r *session.Reconciler) error { r.ApplyAvatarResult(res); return nil })
	bob.eventually(t, "bob sees removal", func(r *session.Reconciler) bool {
		return r.Avatars().Resolve(aliceID) == ""
	})
	assert.Empty(t, alice.state.GetAvatarURL())
}
