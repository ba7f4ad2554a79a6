package lavago

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TrackUpdate sets or clears the track portion of a PlayerUpdate. An empty
// TrackUpdate (both fields nil) clears the current track.
type TrackUpdate struct {
	Encoded    *string
	Identifier *string
}

// PlayerUpdate is a data record describing a desired player state; Submit
// sends it to the owning node and returns a future of the server's
// resulting Player. Per design notes, it is deliberately split into a
// record (this type) and a submit operation, rather than the record itself
// being the future.
type PlayerUpdate struct {
	GuildID string

	Track    *TrackUpdate
	Position *time.Duration
	EndTime  *time.Duration
	Volume   *int
	Paused   *bool
	Filters  Filters
	Voice    *VoiceState

	node *Node
}

// updateTrack sets the track portion of the update and stores it into
// Track. (Spec review flags the source builder's equivalent method as
// discarding its argument; this implementation stores it, per design
// notes open question (a).)
func (u *PlayerUpdate) updateTrack(t *TrackUpdate) *PlayerUpdate {
	u.Track = t
	return u
}

func (u *PlayerUpdate) withVolume(v int) *PlayerUpdate             { u.Volume = &v; return u }
func (u *PlayerUpdate) withPaused(p bool) *PlayerUpdate            { u.Paused = &p; return u }
func (u *PlayerUpdate) withPosition(d time.Duration) *PlayerUpdate { u.Position = &d; return u }
func (u *PlayerUpdate) withEndTime(d time.Duration) *PlayerUpdate  { u.EndTime = &d; return u }
func (u *PlayerUpdate) withFilters(f Filters) *PlayerUpdate        { u.Filters = f; return u }
func (u *PlayerUpdate) withVoice(v VoiceState) *PlayerUpdate       { u.Voice = &v; return u }

// clone returns a copy bound to a different node, so transfer operations
// can seed a new builder from an old player's state without mutating a
// shared record ("callers that need to clone state build a fresh record").
func (u *PlayerUpdate) clone(node *Node) *PlayerUpdate {
	cp := *u
	cp.node = node
	return &cp
}

type playerUpdateBody struct {
	Track    *trackUpdateBody `json:"track,omitempty"`
	Position *int64           `json:"position,omitempty"`
	EndTime  *int64           `json:"endTime,omitempty"`
	Volume   *int             `json:"volume,omitempty"`
	Paused   *bool            `json:"paused,omitempty"`
	Filters  Filters          `json:"filters,omitempty"`
	Voice    *voiceBody       `json:"voice,omitempty"`
}

type trackUpdateBody struct {
	Encoded    *string `json:"encoded,omitempty"`
	Identifier *string `json:"identifier,omitempty"`
}

type voiceBody struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

func (u *PlayerUpdate) body() *playerUpdateBody {
	b := &playerUpdateBody{
		Position: durationMillisPtr(u.Position),
		EndTime:  durationMillisPtr(u.EndTime),
		Volume:   u.Volume,
		Paused:   u.Paused,
		Filters:  u.Filters,
	}
	if u.Track != nil {
		b.Track = &trackUpdateBody{Encoded: u.Track.Encoded, Identifier: u.Track.Identifier}
	}
	if u.Voice != nil {
		b.Voice = &voiceBody{Token: u.Voice.Token, Endpoint: u.Voice.Endpoint, SessionID: u.Voice.SessionID}
	}
	return b
}

func durationMillisPtr(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

// Submit PATCHes the update to the bound node's session and caches the
// resulting player wholesale on success, per
// "update_player(guild, update, no_replace): PATCH ...; on success,
// replace the cache entry wholesale."
func (u *PlayerUpdate) Submit(ctx context.Context, noReplace bool) <-chan Result[*Player] {
	if u.node == nil {
		return ready[*Player](nil, &ConfigError{Reason: "player update has no bound node"})
	}
	node := u.node
	return async(func() (*Player, error) {
		path := fmt.Sprintf("/v4/sessions/%s/players/%s?noReplace=%t", node.SessionID(), u.GuildID, noReplace)
		var wire playerWire
		if err := node.httpDo(ctx, http.MethodPatch, path, u.body(), &wire); err != nil {
			return nil, err
		}
		p := wire.toPlayer()
		node.cachePlayer(u.GuildID, p)
		return p, nil
	})
}
