package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aeolun/hsschat/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httptestServer(t *testing.T, srv *Server) string {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// rawClient speaks the wire protocol directly, without the client package.
type rawClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialRaw(t *testing.T, base string) *rawClient {
	t.Helper()
	u := "ws" + strings.TrimPrefix(base, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rawClient{t: t, conn: conn}
}

func (c *rawClient) send(cmd protocol.ClientCommand) {
	data, err := cmd.Encode()
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// next reads frames until one satisfies match.
func (c *rawClient) next(match func(protocol.ServerEvent) bool) protocol.ServerEvent {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		ev, err := protocol.DecodeServerEvent(data)
		require.NoError(c.t, err)
		if match(ev) {
			return ev
		}
	}
}

func (c *rawClient) join(nick string) *protocol.JoinedEvent {
	c.send(&protocol.JoinCommand{User: nick})
	ev := c.next(func(ev protocol.ServerEvent) bool {
		_, ok := ev.(*protocol.JoinedEvent)
		return ok
	})
	return ev.(*protocol.JoinedEvent)
}

func counterValue(t *testing.T, srv *Server, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := srv.registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func uploadRequest(t *testing.T, base, userID, field string, body []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "avatar.bin")
	require.NoError(t, err)
	_, err = fw.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, base+"/upload-avatar", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if userID != "" {
		req.Header.Set(protocol.UserIDHeader, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	_, base := newTestServer(t)
	dialRaw(t, base).join("Alice")

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
}

func TestJoinSendsIdentityThenHistory(t *testing.T) {
	_, base := newTestServer(t)
	alice := dialRaw(t, base)
	alice.join("<b>Alice</b>")
	alice.send(&protocol.SendMessageCommand{Text: "first", To: protocol.ChannelAll})
	alice.next(func(ev protocol.ServerEvent) bool {
		m, ok := ev.(*protocol.MessageEvent)
		return ok && m.Text == "first"
	})

	bob := dialRaw(t, base)
	joined := bob.join("Bob")
	assert.Equal(t, "Bob", joined.User)
	assert.NotEmpty(t, joined.ID)

	ev := bob.next(func(ev protocol.ServerEvent) bool {
		_, ok := ev.(*protocol.HistoryEvent)
		return ok
	})
	hist := ev.(*protocol.HistoryEvent)
	assert.Equal(t, protocol.ID(protocol.ChannelAll), hist.Channel)

	var texts []string
	for _, m := range hist.Messages {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"Alice joined the chat.", "first", "Bob joined the chat."}, texts)
	assert.Equal(t, "Alice", hist.Messages[1].User, "markup is stripped from names")
}

func TestCommandsBeforeJoinAreIgnored(t *testing.T) {
	srv, base := newTestServer(t)
	c := dialRaw(t, base)

	c.send(&protocol.SendMessageCommand{Text: "sneaky", To: protocol.ChannelAll})
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	c.join("Alice")

	ev := c.next(func(ev protocol.ServerEvent) bool {
		_, ok := ev.(*protocol.HistoryEvent)
		return ok
	})
	for _, m := range ev.(*protocol.HistoryEvent).Messages {
		assert.NotEqual(t, "sneaky", m.Text)
	}
	assert.Equal(t, float64(2), counterValue(t, srv, "hsschat_server_rejected_frames_total", nil))
}

func TestUploadAvatarErrors(t *testing.T) {
	srv, base := newTestServer(t)
	srv.config.MaxAvatarBytes = 1024
	joined := dialRaw(t, base).join("Alice")
	id := string(joined.ID)

	tests := []struct {
		name   string
		userID string
		field  string
		body   []byte
		status int
		result string
	}{
		{"missing header", "", "file", pngBytes(t), http.StatusUnauthorized, "unauthorized"},
		{"unknown user", "nobody", "file", pngBytes(t), http.StatusUnauthorized, "unauthorized"},
		{"wrong field", id, "image", pngBytes(t), http.StatusBadRequest, "bad_request"},
		{"not an image", id, "file", []byte("just some text, definitely not a picture"), http.StatusUnsupportedMediaType, "unsupported"},
		{"too large", id, "file", bytes.Repeat([]byte{0x89}, 2048), http.StatusRequestEntityTooLarge, "too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels := map[string]string{"op": "upload", "result": tt.result}
			before := counterValue(t, srv, "hsschat_server_avatar_requests_total", labels)

			resp := uploadRequest(t, base, tt.userID, tt.field, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decodeBody(t, resp)["detail"])
			assert.Equal(t, before+1, counterValue(t, srv, "hsschat_server_avatar_requests_total", labels))
		})
	}
}

func TestUploadAndServeAvatar(t *testing.T) {
	srv, base := newTestServer(t)
	alice := dialRaw(t, base)
	joined := alice.join("Alice")
	img := pngBytes(t)

	resp := uploadRequest(t, base, string(joined.ID), "file", img)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	url, _ := decodeBody(t, resp)["url"].(string)
	assert.Regexp(t, `^/avatars/[0-9a-f]{32}\.png$`, url)

	// The roster push carries the new avatar
	alice.next(func(ev protocol.ServerEvent) bool {
		ul, ok := ev.(*protocol.UserListEvent)
		return ok && len(ul.Users) == 1 && ul.Users[0].Avatar == url
	})

	// Identical content maps to the same file
	again := uploadRequest(t, base, string(joined.ID), "file", img)
	assert.Equal(t, url, decodeBody(t, again)["url"])

	served, err := http.Get(base + url)
	require.NoError(t, err)
	defer served.Body.Close()
	assert.Equal(t, http.StatusOK, served.StatusCode)
	assert.Contains(t, served.Header.Get("Cache-Control"), "immutable")
	data, err := io.ReadAll(served.Body)
	require.NoError(t, err)
	assert.Equal(t, img, data)

	missing, err := http.Get(base + "/avatars/..%2Fsecret.png")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	assert.Equal(t, float64(2), counterValue(t, srv, "hsschat_server_avatar_requests_total",
		map[string]string{"op": "upload", "result": "ok"}))
}

func TestRemoveAvatar(t *testing.T) {
	_, base := newTestServer(t)
	alice := dialRaw(t, base)
	joined := alice.join("Alice")

	resp := uploadRequest(t, base, string(joined.ID), "file", pngBytes(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, base+"/remove-avatar", nil)
	require.NoError(t, err)
	req.Header.Set(protocol.UserIDHeader, string(joined.ID))
	removed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer removed.Body.Close()
	assert.Equal(t, http.StatusOK, removed.StatusCode)

	ev := alice.next(func(ev protocol.ServerEvent) bool {
		ul, ok := ev.(*protocol.UserListEvent)
		return ok && ul.Users[0].Avatar == ""
	})
	assert.Len(t, ev.(*protocol.UserListEvent).Users, 1)
}

func TestAvatarRequestsTrustUserIDHeader(t *testing.T) {
	_, base := newTestServer(t)
	alice := dialRaw(t, base)
	aliceID := alice.join("Alice").ID
	bob := dialRaw(t, base)
	bob.join("Bob")

	// Bob's connection knows Alice's id from the roster, which is enough
	resp := uploadRequest(t, base, string(aliceID), "file", pngBytes(t))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ev := bob.next(func(ev protocol.ServerEvent) bool {
		ul, ok := ev.(*protocol.UserListEvent)
		if !ok {
			return false
		}
		for _, u := range ul.Users {
			if u.ID == aliceID && u.Avatar != "" {
				return true
			}
		}
		return false
	})
	assert.NotNil(t, ev)
}

func TestMetricsEndpoint(t *testing.T) {
	_, base := newTestServer(t)
	c := dialRaw(t, base)
	c.join("Alice")
	c.send(&protocol.SendMessageCommand{Text: "hello", To: protocol.ChannelAll})
	c.next(func(ev protocol.ServerEvent) bool {
		m, ok := ev.(*protocol.MessageEvent)
		return ok && m.Text == "hello"
	})

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `hsschat_server_messages_total{kind="public"} 1`)
	assert.Contains(t, string(body), "hsschat_server_sessions 1")
}
