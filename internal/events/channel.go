// SPDX-License-Identifier: MIT

// Package events implements the in-process typed event bus. Every event
// belongs to a named channel and carries one of the channel's registered
// event names; the compiler and the registry below keep that set closed.
package events

import "fmt"

// Channel groups related events, one channel per product domain.
type Channel string

const (
	ChannelRecipes     Channel = "recipes"
	ChannelRatings     Channel = "ratings"
	ChannelHouseholds  Channel = "households"
	ChannelGroceries   Channel = "groceries"
	ChannelCalDAV      Channel = "caldav"
	ChannelPermissions Channel = "permissions"
)

// Name identifies one event within a channel.
type Name string

const (
	NameCreated        Name = "created"
	NameUpdated        Name = "updated"
	NameDeleted        Name = "deleted"
	NameImportComplete Name = "import_complete"
	NameImportFailed   Name = "import_failed"
	NameSyncComplete   Name = "sync_complete"
	NameSyncFailed     Name = "sync_failed"
	NamePolicyUpdated  Name = "policy_updated"
)

// registry is the closed set of valid (channel, name) pairs. Publishing
// outside this set panics, so a typo surfaces on first use in development
// instead of silently never matching a subscriber.
var registry = map[Channel]map[Name]struct{}{
	ChannelRecipes: {
		NameCreated:        {},
		NameUpdated:        {},
		NameDeleted:        {},
		NameImportComplete: {},
		NameImportFailed:   {},
	},
	ChannelRatings: {
		NameCreated: {},
		NameUpdated: {},
		NameDeleted: {},
	},
	ChannelHouseholds: {
		NameCreated: {},
		NameUpdated: {},
		NameDeleted: {},
	},
	ChannelGroceries: {
		NameCreated: {},
		NameUpdated: {},
		NameDeleted: {},
	},
	ChannelCalDAV: {
		NameSyncComplete: {},
		NameSyncFailed:   {},
	},
	ChannelPermissions: {
		NamePolicyUpdated: {},
	},
}

// Channels returns all registered channels.
func Channels() []Channel {
	return []Channel{
		ChannelRecipes,
		ChannelRatings,
		ChannelHouseholds,
		ChannelGroceries,
		ChannelCalDAV,
		ChannelPermissions,
	}
}

// Valid reports whether c is a registered channel.
func (c Channel) Valid() bool {
	_, ok := registry[c]
	return ok
}

// Has reports whether name is registered on channel c.
func (c Channel) Has(name Name) bool {
	names, ok := registry[c]
	if !ok {
		return false
	}
	_, ok = names[name]
	return ok
}

// ParseChannel validates untrusted channel input, e.g. from the HTTP API.
func ParseChannel(raw string) (Channel, error) {
	c := Channel(raw)
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q", raw)
	}
	return c, nil
}

// ParseName validates untrusted event name input against a channel.
func ParseName(c Channel, raw string) (Name, error) {
	n := Name(raw)
	if !c.Has(n) {
		return "", fmt.Errorf("unknown event %q on channel %q", raw, c)
	}
	return n, nil
}

func mustValidPair(c Channel, n Name) {
	if !c.Has(n) {
		panic(fmt.Sprintf("events: %q is not a registered event on channel %q", n, c))
	}
}
