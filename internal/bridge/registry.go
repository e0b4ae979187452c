package bridge

import (
	"errors"
	"fmt"
)

// ErrDuplicateBinding is returned by NewRegistry when two bridges serve the
// same guild and channel.
var ErrDuplicateBinding = errors.New("duplicate channel binding")

// Key identifies a bound Discord channel.
type Key struct {
	GuildID   string
	ChannelID string
}

// Registry maps bound channels to their bridges. It is built once and is
// read-only afterwards, so lookups need no locking.
type Registry struct {
	byKey   map[Key]*Bridge
	bridges []*Bridge
}

// NewRegistry indexes bridges by their binding. All returns them in the
// order given here.
func NewRegistry(bridges ...*Bridge) (*Registry, error) {
	r := &Registry{
		byKey:   make(map[Key]*Bridge, len(bridges)),
		bridges: make([]*Bridge, 0, len(bridges)),
	}
	for _, b := range bridges {
		binding := b.Binding()
		key := Key{GuildID: binding.GuildID, ChannelID: binding.ChannelID}
		if existing, ok := r.byKey[key]; ok {
			return nil, fmt.Errorf("%w: guild %s channel %s used by %s and %s",
				ErrDuplicateBinding, key.GuildID, key.ChannelID, existing.Binding().Name, binding.Name)
		}
		r.byKey[key] = b
		r.bridges = append(r.bridges, b)
	}
	return r, nil
}

// Lookup returns the bridge bound to the given channel.
func (r *Registry) Lookup(guildID, channelID string) (*Bridge, bool) {
	b, ok := r.byKey[Key{GuildID: guildID, ChannelID: channelID}]
	return b, ok
}

// All returns every bridge in registration order.
func (r *Registry) All() []*Bridge {
	return append([]*Bridge(nil), r.bridges...)
}

// Len returns the number of bridges.
func (r *Registry) Len() int {
	return len(r.bridges)
}
