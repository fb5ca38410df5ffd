package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewStore(t *testing.T) {
	s := NewStore()
	assert.Equal(t, ChannelAll, s.Active())
	assert.False(t, s.Identified())
	assert.NotNil(t, s.Log(ChannelAll))
	assert.Empty(t, s.Log(ChannelAll))
}

func TestStoreUnread(t *testing.T) {
	s := NewStore()

	s.IncrementUnread("1")
	s.IncrementUnread("1")
	assert.Equal(t, 2, s.Unread("1"))

	// public channel never counts
	s.IncrementUnread(ChannelAll)
	assert.Equal(t, 0, s.Unread(ChannelAll))

	s.SetActiveChannel("1")
	assert.Equal(t, 0, s.Unread("1"))

	// active channel never counts
	s.IncrementUnread("1")
	assert.Equal(t, 0, s.Unread("1"))

	s.SetActiveChannel("")
	assert.Equal(t, ChannelAll, s.Active())
}

func TestStoreRosterReplacement(t *testing.T) {
	s := NewStore()
	s.UpsertRoster([]RosterEntry{{ID: "1", DisplayName: "a"}, {ID: "2", DisplayName: "b"}})
	require.True(t, s.EnsureEntry("9", "ghost"))
	assert.False(t, s.EnsureEntry("1", "ignored"))

	e, ok := s.Entry("9")
	require.True(t, ok)
	assert.True(t, e.Placeholder)
	assert.Equal(t, "a", s.DisplayName("1"))

	s.IncrementUnread("2")
	s.UpsertRoster([]RosterEntry{{ID: "2", DisplayName: "b2"}, {ID: "3", DisplayName: "c"}, {ID: "2", DisplayName: "dup"}})

	ids := []string{}
	for _, e := range s.Roster() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"2", "3"}, ids)
	assert.Equal(t, "dup", s.DisplayName("2"))
	assert.Equal(t, 1, s.Unread("2"))

	_, ok = s.Entry("9")
	assert.False(t, ok)
	assert.Equal(t, "9", s.DisplayName("9"))
}

func TestStoreEnsureEntryDefaultsName(t *testing.T) {
	s := NewStore()
	s.EnsureEntry("7", "")
	assert.Equal(t, "7", s.DisplayName("7"))
}

func TestStoreLogIsCopied(t *testing.T) {
	s := NewStore()
	in := []Message{{Text: "one"}, {Text: "two"}}
	s.ReplaceChannelLog("1", in)
	in[0].Text = "changed"

	out := s.Log("1")
	assert.Equal(t, "one", out[0].Text)
	out[1].Text = "changed"
	assert.Equal(t, "two", s.Log("1")[1].Text)
}

// TestUnreadCountsSinceActivation checks counters are zero after activation and
// grow by one per private message while inactive.
func TestUnreadCountsSinceActivation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore()
		peers := []ChannelKey{"1", "2", "3"}
		want := map[ChannelKey]int{}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			key := rapid.SampledFrom(peers).Draw(t, fmt.Sprintf("key%d", i))
			if rapid.Bool().Draw(t, fmt.Sprintf("activate%d", i)) {
				s.SetActiveChannel(key)
				want[key] = 0
			} else {
				s.AppendMessage(key, Message{Private: true})
				s.IncrementUnread(key)
				if s.Active() != key {
					want[key]++
				}
			}
			for _, p := range peers {
				if s.Unread(p) != want[p] {
					t.Fatalf("unread[%s] = %d, want %d", p, s.Unread(p), want[p])
				}
			}
		}
	})
}

// TestRosterReplacementKeepsUnread checks retained ids keep their counters
func TestRosterReplacementKeepsUnread(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore()
		ids := rapid.SliceOfNDistinct(idGen, 1, 8, rapid.ID[string]).Draw(t, "ids")

		before := map[string]int{}
		for _, id := range ids {
			n := rapid.IntRange(0, 5).Draw(t, "n_"+id)
			for i := 0; i < n; i++ {
				s.IncrementUnread(ChannelKey(id))
			}
			before[id] = n
		}

		var entries []RosterEntry
		for _, id := range ids {
			if rapid.Bool().Draw(t, "keep_"+id) {
				entries = append(entries, RosterEntry{ID: id, DisplayName: id})
			}
		}
		s.UpsertRoster(entries)

		for _, id := range ids {
			if s.Unread(ChannelKey(id)) != before[id] {
				t.Fatalf("unread[%s] = %d, want %d", id, s.Unread(ChannelKey(id)), before[id])
			}
		}
	})
}
