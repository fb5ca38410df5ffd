package session

import (
	"errors"
)

var (
	// ErrSelfAddressed means a private message resolved to this client's own id
	ErrSelfAddressed = errors.New("private message resolves to own id")
	// ErrNoPeer means a private message carries no usable peer id
	ErrNoPeer = errors.New("private message has no valid peer id")
)

// ResolvePrivateChannel returns the channel key a private message belongs to.
// Messages authored by ownID belong to the recipient's channel, everything else
// to the author's. A key equal to ownID, the public channel, or empty is rejected.
func ResolvePrivateChannel(authorID, recipientID, ownID string) (ChannelKey, error) {
	other := authorID
	if authorID == ownID {
		other = recipientID
	}

	switch {
	case other == "" || ChannelKey(other) == ChannelAll:
		return "", ErrNoPeer
	case other == ownID:
		return "", ErrSelfAddressed
	}
	return ChannelKey(other), nil
}
