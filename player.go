package lavago

import (
	"sync"
	"time"
)

// VoiceState is the Discord voice-server/voice-state triple a player needs
// to bind to a voice connection. It is "non-empty" only once all three
// fields have been populated by the bot's gateway collaborator.
type VoiceState struct {
	Token     string `json:"token,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func (v VoiceState) nonEmpty() bool {
	return v.Token != "" && v.Endpoint != "" && v.SessionID != ""
}

// PlayerState is the last position/connectivity snapshot a node reported
// via a playerUpdate event.
type PlayerState struct {
	Time      time.Time     `json:"-"`
	Position  time.Duration `json:"-"`
	Connected bool          `json:"-"`
	Ping      time.Duration `json:"-"`
}

// Filters is the opaque Lavalink filter map (volume, equalizer, karaoke,
// timescale, tremolo, vibrato, rotation, distortion, channelMix, lowPass,
// and plugin-defined keys). lavago never interprets filter contents; it
// only carries them through caching and migration.
type Filters map[string]interface{}

// Player mirrors one guild's playback state on one node. It is created
// from a remote server response and replaced wholesale on every update
// response, per the data model's "Player ... Created by remote server
// response; replaced wholesale on every update response" invariant.
type Player struct {
	mu sync.RWMutex

	GuildID  string
	Track    *Track
	Position time.Duration
	Paused   bool
	Volume   int
	Voice    VoiceState
	Filters  Filters
	Last     PlayerState
}

func newPlayer(guildID string) *Player {
	return &Player{GuildID: guildID, Volume: 100}
}

// snapshot returns a copy safe to hand to callers outside the lock. It
// copies fields individually rather than dereferencing p wholesale, since
// the latter would also copy (and thus duplicate) the embedded mutex.
func (p *Player) snapshot() *Player {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &Player{
		GuildID:  p.GuildID,
		Track:    p.Track,
		Position: p.Position,
		Paused:   p.Paused,
		Volume:   p.Volume,
		Voice:    p.Voice,
		Filters:  p.Filters,
		Last:     p.Last,
	}
}

func (p *Player) setTrack(t *Track) {
	p.mu.Lock()
	p.Track = t
	p.mu.Unlock()
}

func (p *Player) setLastState(s PlayerState) {
	p.mu.Lock()
	p.Last = s
	p.mu.Unlock()
}

func (p *Player) replaceFrom(other *Player) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Track = other.Track
	p.Position = other.Position
	p.Paused = other.Paused
	p.Volume = other.Volume
	p.Voice = other.Voice
	p.Filters = other.Filters
	p.Last = other.Last
}
