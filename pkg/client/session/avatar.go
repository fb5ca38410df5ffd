package session

import (
	"github.com/rs/zerolog"
)

// AvatarCache persists this client's own avatar URL across runs.
type AvatarCache interface {
	GetAvatarURL() string
	SetAvatarURL(url string) error
	ClearAvatarURL() error
}

// AvatarPolicy decides which avatar URL is shown for each user id.
//
// For the own id the sources rank: a completed upload or removal, then a roster
// push mentioning the own id, then the cached value read at startup. The cached
// value stops being consulted after the first authoritative update. For other
// ids only roster pushes and message-carried avatars of known users count.
type AvatarPolicy struct {
	store  *Store
	cache  AvatarCache
	logger zerolog.Logger

	// fallback is shown for the own id until something authoritative is recorded
	fallback string
}

// NewAvatarPolicy reads the cached own avatar once. cache may be nil.
func NewAvatarPolicy(store *Store, cache AvatarCache, logger zerolog.Logger) *AvatarPolicy {
	p := &AvatarPolicy{store: store, cache: cache, logger: logger}
	if cache != nil {
		p.fallback = cache.GetAvatarURL()
	}
	return p
}

// ApplyRosterEntry records the avatar a roster push reports for e.ID.
// It reports whether the own avatar changed.
func (p *AvatarPolicy) ApplyRosterEntry(e RosterEntry) bool {
	own := p.store.OwnID()
	if own == "" || e.ID != own {
		p.store.setAvatar(e.ID, e.AvatarURL)
		return false
	}

	before := p.Own()
	p.store.setAvatar(own, e.AvatarURL)
	if e.AvatarURL != "" {
		p.persist(e.AvatarURL)
	}
	return before != p.Own()
}

// ApplyMessageAvatar records an avatar carried by a message. Only authors the
// roster already knows are updated, and never the own id.
func (p *AvatarPolicy) ApplyMessageAvatar(authorID, url string) bool {
	if authorID == "" || url == "" || authorID == p.store.OwnID() {
		return false
	}
	if _, known := p.store.Entry(authorID); !known {
		return false
	}
	if cur, _ := p.store.avatar(authorID); cur == url {
		return false
	}
	p.store.setAvatar(authorID, url)
	return true
}

// ApplyUpload records the URL returned by a completed upload.
func (p *AvatarPolicy) ApplyUpload(url string) {
	if own := p.store.OwnID(); own != "" {
		p.store.setAvatar(own, url)
	}
	p.fallback = url
	p.persist(url)
}

// ApplyRemoval records a completed removal.
func (p *AvatarPolicy) ApplyRemoval() {
	if own := p.store.OwnID(); own != "" {
		p.store.setAvatar(own, "")
	}
	p.fallback = ""
	if p.cache != nil {
		if err := p.cache.ClearAvatarURL(); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to clear cached avatar")
		}
	}
}

// Resolve returns the avatar URL to show for id, or "" for none.
func (p *AvatarPolicy) Resolve(id string) string {
	if id != "" && id == p.store.OwnID() {
		return p.Own()
	}
	url, _ := p.store.avatar(id)
	return url
}

// Own returns the avatar URL to show for this client, also before identity
// confirmation.
func (p *AvatarPolicy) Own() string {
	if own := p.store.OwnID(); own != "" {
		if url, ok := p.store.avatar(own); ok {
			return url
		}
	}
	return p.fallback
}

func (p *AvatarPolicy) persist(url string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetAvatarURL(url); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to cache avatar")
	}
}
