package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aeolun/hsschat/pkg/botlib"
)

func TestRespond(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC)
	users := []botlib.User{{ID: "2", Name: "Zed"}, {ID: "3", Name: "Alice"}}

	tests := []struct {
		name, cmd, args string
		users           []botlib.User
		want            string
	}{
		{"ping", "ping", "", nil, "pong"},
		{"time", "time", "", nil, "It is 09:30:15 UTC."},
		{"users sorted", "users", "", users, "2 online: Alice, Zed"},
		{"users empty", "users", "", nil, "Nobody else is here."},
		{"echo", "echo", "hello there", nil, "hello there"},
		{"echo empty", "echo", "", nil, "Echo what?"},
		{"unknown", "dance", "", nil, "Unknown command !dance. Try !help."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, respond(tt.cmd, tt.args, tt.users, now))
		})
	}
}
