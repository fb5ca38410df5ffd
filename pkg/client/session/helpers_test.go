package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aeolun/hsschat/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.ClientCommand
	err  error
}

func (f *fakeSender) Send(cmd protocol.ClientCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSender) commands() []protocol.ClientCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.ClientCommand(nil), f.sent...)
}

type fakeState struct {
	nickname string
	avatar   string
	setErr   error
}

func (f *fakeState) SetLastNickname(n string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.nickname = n
	return nil
}
func (f *fakeState) GetAvatarURL() string { return f.avatar }
func (f *fakeState) SetAvatarURL(u string) error {
	f.avatar = u
	return nil
}
func (f *fakeState) ClearAvatarURL() error {
	f.avatar = ""
	return nil
}

type fakeUploader struct {
	mu     sync.Mutex
	calls  int
	url    string
	err    error
	ownIDs []string
}

func (f *fakeUploader) UploadAvatar(_ context.Context, ownID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ownIDs = append(f.ownIDs, ownID)
	return f.url, f.err
}

func (f *fakeUploader) RemoveAvatar(_ context.Context, ownID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ownIDs = append(f.ownIDs, ownID)
	return f.err
}

var errBoom = errors.New("boom")

func newTestReconciler(state LocalState) (*Reconciler, *fakeSender) {
	sender := &fakeSender{}
	return NewReconciler(sender, state, zerolog.Nop()), sender
}

// identify applies a joined event for id/name.
func identify(r *Reconciler, id, name string) {
	r.Apply(&protocol.JoinedEvent{User: name, ID: protocol.ID(id)})
}

func privateMsg(from, to, text string) *protocol.MessageEvent {
	return &protocol.MessageEvent{
		User:    "user-" + from,
		UserID:  protocol.ID(from),
		To:      protocol.ID(to),
		Text:    text,
		Private: true,
	}
}

// counterValue reads a counter from reg; label matches the first label value,
// or is empty for unlabelled counters.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if label == "" || (len(m.GetLabel()) > 0 && m.GetLabel()[0].GetValue() == label) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
