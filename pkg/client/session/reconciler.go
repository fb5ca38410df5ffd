package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aeolun/hsschat/pkg/protocol"
	"github.com/rs/zerolog"
)

// MaxAvatarBytes is the largest avatar file the client will try to upload.
const MaxAvatarBytes = 2 << 20

var (
	// ErrSendToSelf is returned when the active channel is the own id
	ErrSendToSelf = errors.New("cannot send a private message to yourself")
	// ErrNotIdentified is returned for actions that need a confirmed identity
	ErrNotIdentified = errors.New("not connected: identity not confirmed yet")
	// ErrAvatarTooLarge is returned before any upload is attempted
	ErrAvatarTooLarge = errors.New("avatar file too large")
	// ErrStreamClosed is returned by Run when the event stream ends
	ErrStreamClosed = errors.New("event stream closed")
)

// Sender hands commands to the transport.
type Sender interface {
	Send(cmd protocol.ClientCommand) error
}

// LocalState is the persistent client state the reconciler writes through to.
type LocalState interface {
	SetLastNickname(nickname string) error
	AvatarCache
}

// AvatarUploader performs avatar HTTP calls on behalf of the own id.
type AvatarUploader interface {
	UploadAvatar(ctx context.Context, ownID, path string) (string, error)
	RemoveAvatar(ctx context.Context, ownID string) error
}

// AvatarResult is the outcome of an upload or removal.
type AvatarResult struct {
	URL     string
	Removed bool
	Err     error
}

// Change tells the view what an applied event or action affected.
type Change struct {
	Stale    bool // the active channel must be re-rendered
	Roster   bool // sidebar entries or unread badges changed
	Identity bool // own id or name changed
	Avatar   bool // own avatar changed
	Replaced bool // the active channel's log was swapped out, not appended to

	// Notify is set for a private message from someone else that landed in an
	// inactive channel.
	Notify  *Message
	Channel ChannelKey
}

// Merge combines two changes. Notify is taken from c when set.
func (c Change) Merge(o Change) Change {
	c.Stale = c.Stale || o.Stale
	c.Roster = c.Roster || o.Roster
	c.Identity = c.Identity || o.Identity
	c.Avatar = c.Avatar || o.Avatar
	c.Replaced = c.Replaced || o.Replaced
	if c.Notify == nil && o.Notify != nil {
		c.Notify = o.Notify
		c.Channel = o.Channel
	}
	return c
}

// Reconciler turns server events into store mutations and user actions into
// commands. All methods must be called from a single goroutine; Run provides
// one for callers without their own event loop.
type Reconciler struct {
	store   *Store
	avatars *AvatarPolicy
	sender  Sender
	state   LocalState
	metrics *Metrics
	logger  zerolog.Logger

	maxAvatarBytes int64
	tasks          chan func() Change
}

// NewReconciler creates a reconciler with an empty store. state may be nil.
func NewReconciler(sender Sender, state LocalState, logger zerolog.Logger) *Reconciler {
	store := NewStore()
	var cache AvatarCache
	if state != nil {
		cache = state
	}
	return &Reconciler{
		store:          store,
		avatars:        NewAvatarPolicy(store, cache, logger),
		sender:         sender,
		state:          state,
		logger:         logger,
		maxAvatarBytes: MaxAvatarBytes,
		tasks:          make(chan func() Change, 16),
	}
}

// SetMetrics attaches metrics
func (r *Reconciler) SetMetrics(m *Metrics) {
	r.metrics = m
}

// SetMaxAvatarBytes overrides the upload size limit
func (r *Reconciler) SetMaxAvatarBytes(n int64) {
	if n > 0 {
		r.maxAvatarBytes = n
	}
}

// Store exposes the session model for reads.
func (r *Reconciler) Store() *Store { return r.store }

// Avatars exposes the avatar policy for reads.
func (r *Reconciler) Avatars() *AvatarPolicy { return r.avatars }

// Apply folds one server event into the session.
func (r *Reconciler) Apply(ev protocol.ServerEvent) Change {
	kind := ev.Type()
	if _, unknown := ev.(*protocol.UnknownEvent); unknown {
		// server-chosen strings must not become label values
		kind = "unknown"
	}
	r.metrics.RecordEvent(kind)

	switch e := ev.(type) {
	case *protocol.MessageEvent:
		return r.handleMessage(e)
	case *protocol.UserListEvent:
		return r.handleUserList(e)
	case *protocol.JoinedEvent:
		return r.handleJoined(e)
	case *protocol.RenamedEvent:
		return r.handleRenamed(e)
	case *protocol.HistoryEvent:
		return r.handleHistory(e)
	case *protocol.DecodeFailure:
		r.metrics.RecordDecodeFailure()
		r.logger.Warn().Err(e.Err).Int("bytes", len(e.Raw)).Msg("Discarding undecodable frame")
	case *protocol.UnknownEvent:
		r.logger.Debug().Str("type", e.MessageType).Msg("Ignoring unknown event")
	default:
		r.logger.Warn().Str("type", fmt.Sprintf("%T", ev)).Msg("Unhandled event")
	}
	return Change{}
}

func (r *Reconciler) handleMessage(e *protocol.MessageEvent) Change {
	msg := messageFromEvent(e)
	var ch Change
	if r.avatars.ApplyMessageAvatar(msg.AuthorID, e.Avatar) {
		ch.Roster = true
	}

	if !e.Private {
		r.store.AppendMessage(ChannelAll, msg)
		ch.Stale = r.store.Active() == ChannelAll
		return ch
	}

	own := r.store.OwnID()
	key, err := ResolvePrivateChannel(msg.AuthorID, msg.RecipientID, own)
	if err != nil {
		reason := "no_peer"
		if errors.Is(err, ErrSelfAddressed) {
			reason = "self_addressed"
		}
		r.metrics.RecordDropped(reason)
		r.logger.Debug().Err(err).Str("author", msg.AuthorID).Str("to", msg.RecipientID).Msg("Dropping private message")
		return ch
	}

	name := e.User
	if msg.AuthorID == own {
		name = e.ToUser
	}
	if r.store.EnsureEntry(string(key), name) {
		ch.Roster = true
	}
	r.store.AppendMessage(key, msg)
	ch.Channel = key

	if r.store.Active() == key {
		ch.Stale = true
		return ch
	}
	r.store.IncrementUnread(key)
	ch.Roster = true
	if msg.AuthorID != own {
		ch.Notify = &msg
	}
	return ch
}

func (r *Reconciler) handleUserList(e *protocol.UserListEvent) Change {
	entries := make([]RosterEntry, 0, len(e.Users))
	for _, u := range e.Users {
		entries = append(entries, RosterEntry{
			ID:          string(u.ID),
			DisplayName: u.User,
			AvatarURL:   u.Avatar,
		})
	}
	r.store.UpsertRoster(entries)

	ch := Change{Roster: true}
	for _, entry := range entries {
		if r.avatars.ApplyRosterEntry(entry) {
			ch.Avatar = true
		}
	}
	return ch
}

func (r *Reconciler) handleJoined(e *protocol.JoinedEvent) Change {
	prev := r.store.OwnID()
	r.store.SetOwnIdentity(string(e.ID), e.User)
	if prev != "" && prev != string(e.ID) {
		r.logger.Info().Str("old_id", prev).Str("new_id", string(e.ID)).Msg("Server assigned a new identity")
	}
	// The roster push may have arrived before the confirmation
	if entry, ok := r.store.Entry(string(e.ID)); ok && !entry.Placeholder {
		r.avatars.ApplyRosterEntry(entry)
	}
	r.persistNickname(e.User)
	r.notice(fmt.Sprintf("Your nickname is now: %s", e.User), e.TS)

	return Change{Stale: true, Roster: true, Identity: true, Avatar: true}
}

func (r *Reconciler) handleRenamed(e *protocol.RenamedEvent) Change {
	r.store.SetOwnName(e.User)
	r.persistNickname(e.User)
	r.notice(fmt.Sprintf("%s is now known as %s", e.Old, e.User), e.TS)

	return Change{Stale: true, Identity: true}
}

func (r *Reconciler) handleHistory(e *protocol.HistoryEvent) Change {
	key := ChannelKey(e.Channel)
	if key == "" {
		key = ChannelAll
	}
	msgs := make([]Message, 0, len(e.Messages))
	for i := range e.Messages {
		msgs = append(msgs, messageFromEvent(&e.Messages[i]))
	}
	r.store.ReplaceChannelLog(key, msgs)
	active := r.store.Active() == key
	return Change{Stale: active, Replaced: active}
}

func (r *Reconciler) notice(text, ts string) {
	when := protocol.ParseTimestamp(ts)
	if when.IsZero() {
		when = time.Now().UTC()
	}
	r.store.AppendMessage(ChannelAll, Message{
		AuthorName: protocol.SystemUser,
		System:     true,
		Text:       text,
		Timestamp:  when,
	})
}

func (r *Reconciler) persistNickname(name string) {
	if r.state == nil || name == "" {
		return
	}
	if err := r.state.SetLastNickname(name); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to persist nickname")
	}
}

func messageFromEvent(e *protocol.MessageEvent) Message {
	return Message{
		AuthorName:  e.User,
		AuthorID:    string(e.UserID),
		System:      e.User == protocol.SystemUser && e.UserID == "",
		Text:        e.Text,
		Timestamp:   protocol.ParseTimestamp(e.TS),
		Private:     e.Private,
		RecipientID: string(e.To),
	}
}

// ===== User actions =====

// Rename asks the server for a new display name. Blank names are ignored.
func (r *Reconciler) Rename(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return r.send(&protocol.RenameCommand{User: name})
}

// SendMessage posts text to the active channel. Blank text is ignored.
func (r *Reconciler) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	to := r.store.Active()
	if to.IsPrivate() && string(to) == r.store.OwnID() {
		return ErrSendToSelf
	}
	return r.send(&protocol.SendMessageCommand{Text: text, To: protocol.ID(to)})
}

// ActivateChannel switches the active channel, clears its unread counter and
// requests a fresh history snapshot.
func (r *Reconciler) ActivateChannel(key ChannelKey) (Change, error) {
	if key == "" {
		key = ChannelAll
	}
	r.store.SetActiveChannel(key)
	ch := Change{Stale: true, Roster: true}
	return ch, r.send(&protocol.HistoryCommand{Channel: protocol.ID(key)})
}

// Leave announces the disconnect. Callers close the connection afterwards.
func (r *Reconciler) Leave() error {
	return r.send(&protocol.LeaveCommand{})
}

func (r *Reconciler) send(cmd protocol.ClientCommand) error {
	if r.sender == nil {
		return errors.New("no connection")
	}
	if err := r.sender.Send(cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Type(), err)
	}
	r.metrics.RecordCommand(cmd.Type())
	return nil
}

// ===== Avatars =====

// UploadAvatar validates the file at path and returns the network call to run
// off the reconciler's goroutine. Its result goes to ApplyAvatarResult.
func (r *Reconciler) UploadAvatar(ctx context.Context, up AvatarUploader, path string) (func() AvatarResult, error) {
	own := r.store.OwnID()
	if own == "" {
		return nil, ErrNotIdentified
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("avatar file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("avatar file: %s is a directory", path)
	}
	if info.Size() > r.maxAvatarBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrAvatarTooLarge, info.Size(), r.maxAvatarBytes)
	}

	return func() AvatarResult {
		url, err := up.UploadAvatar(ctx, own, path)
		return AvatarResult{URL: url, Err: err}
	}, nil
}

// RemoveAvatar returns the network call that clears the own avatar.
func (r *Reconciler) RemoveAvatar(ctx context.Context, up AvatarUploader) (func() AvatarResult, error) {
	own := r.store.OwnID()
	if own == "" {
		return nil, ErrNotIdentified
	}
	return func() AvatarResult {
		return AvatarResult{Removed: true, Err: up.RemoveAvatar(ctx, own)}
	}, nil
}

// ApplyAvatarResult records a finished upload or removal. Failures change nothing.
func (r *Reconciler) ApplyAvatarResult(res AvatarResult) Change {
	if res.Err != nil {
		r.logger.Warn().Err(res.Err).Bool("removal", res.Removed).Msg("Avatar request failed")
		return Change{}
	}
	if res.Removed {
		r.avatars.ApplyRemoval()
	} else {
		r.avatars.ApplyUpload(res.URL)
	}
	return Change{Avatar: true, Roster: true, Stale: true}
}

// ===== Views =====

// SidebarEntry is one peer in the sidebar.
type SidebarEntry struct {
	ID          string
	Name        string
	AvatarURL   string
	Unread      int
	Active      bool
	Placeholder bool
}

// View is an immutable rendering snapshot.
type View struct {
	OwnID     string
	OwnName   string
	OwnAvatar string
	Active    ChannelKey
	Title     string
	Messages  []Message
	Avatars   map[string]string // author id -> avatar URL for Messages
	Sidebar   []SidebarEntry
}

// Snapshot captures what a renderer needs. The own id is never listed in the
// sidebar.
func (r *Reconciler) Snapshot() View {
	s := r.store
	v := View{
		OwnID:     s.OwnID(),
		OwnName:   s.OwnName(),
		OwnAvatar: r.avatars.Own(),
		Active:    s.Active(),
		Messages:  s.Log(s.Active()),
		Avatars:   make(map[string]string),
	}
	if v.Active.IsPrivate() {
		v.Title = "Private: " + s.DisplayName(v.Active)
	} else {
		v.Title = "Main chat"
	}

	for _, m := range v.Messages {
		if m.AuthorID == "" {
			continue
		}
		if _, seen := v.Avatars[m.AuthorID]; !seen {
			v.Avatars[m.AuthorID] = r.avatars.Resolve(m.AuthorID)
		}
	}

	for _, e := range s.Roster() {
		if e.ID == v.OwnID {
			continue
		}
		v.Sidebar = append(v.Sidebar, SidebarEntry{
			ID:          e.ID,
			Name:        e.DisplayName,
			AvatarURL:   r.avatars.Resolve(e.ID),
			Unread:      s.Unread(ChannelKey(e.ID)),
			Active:      ChannelKey(e.ID) == v.Active,
			Placeholder: e.Placeholder,
		})
	}
	return v
}

// ===== Actor loop =====

// Post queues fn to run on the Run goroutine.
func (r *Reconciler) Post(ctx context.Context, fn func() Change) error {
	select {
	case r.tasks <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies events and posted closures one at a time until ctx is done or
// events is closed. onChange may be nil.
func (r *Reconciler) Run(ctx context.Context, events <-chan protocol.ServerEvent, onChange func(Change)) error {
	emit := func(ch Change) {
		if onChange != nil {
			onChange(ch)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrStreamClosed
			}
			emit(r.Apply(ev))
		case fn := <-r.tasks:
			emit(fn())
		}
	}
}
