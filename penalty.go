package lavago

import (
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// PenaltyEventKind buckets the track-lifecycle events the penalty engine
// counts per minute.
type PenaltyEventKind int

const (
	LoadAttempt PenaltyEventKind = iota
	LoadFailed
	TrackException
	TrackStuck
	numPenaltyEventKinds
)

// penaltyBlockScore is returned when a node must never be chosen by the
// balancer: unavailable, missing stats, or every load attempt failed.
const penaltyBlockScore = 10_000_000

type minuteCounters struct {
	counts [numPenaltyEventKinds]int
}

// CPUStats mirrors the cpu block of a Lavalink stats payload.
type CPUStats struct {
	Cores      int     `json:"cores,omitempty"`
	SystemLoad float64 `json:"systemLoad,omitempty"`
	LavalinkLoad float64 `json:"lavalinkLoad,omitempty"`
}

// FrameStats mirrors the frameStats block of a Lavalink stats payload.
// Deficit == -1 means the server didn't report frame stats this interval.
type FrameStats struct {
	Sent    int `json:"sent,omitempty"`
	Nulled  int `json:"nulled,omitempty"`
	Deficit int `json:"deficit,omitempty"`
}

// NodeStats is the latest "stats" opcode payload cached on a Node.
type NodeStats struct {
	Players        int         `json:"players,omitempty"`
	PlayingPlayers int         `json:"playingPlayers,omitempty"`
	Uptime         int64       `json:"uptime,omitempty"`
	CPU            CPUStats    `json:"cpu,omitempty"`
	Frames         *FrameStats `json:"frameStats,omitempty"`
}

// PenaltyTracker accumulates track-lifecycle counters in a bounded,
// LRU-evicted mapping from minute-key to per-kind counts, and computes the
// balancer score from them plus a node's latest stats snapshot.
type PenaltyTracker struct {
	mu      sync.Mutex
	minutes *lru.Cache
}

// NewPenaltyTracker returns a tracker capped at 100 retained minutes.
func NewPenaltyTracker() *PenaltyTracker {
	c, _ := lru.New(100)
	return &PenaltyTracker{minutes: c}
}

// Reset discards all retained counters. Called when a node transitions
// from DISCONNECTED to READY with resumed == false.
func (t *PenaltyTracker) Reset() {
	c, _ := lru.New(100)
	t.mu.Lock()
	t.minutes = c
	t.mu.Unlock()
}

// Empty reports whether the tracker currently holds no counters, used to
// verify the post-Ready reset invariant in tests.
func (t *PenaltyTracker) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.minutes.Len() == 0
}

func (t *PenaltyTracker) record(kind PenaltyEventKind, at time.Time) {
	key := at.UTC().Format("2006-01-02 15:04")
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.minutes.Get(key); ok {
		v.(*minuteCounters).counts[kind]++
		return
	}
	mc := &minuteCounters{}
	mc.counts[kind]++
	t.minutes.Add(key, mc)
}

func (t *PenaltyTracker) RecordLoadAttempt()    { t.record(LoadAttempt, time.Now()) }
func (t *PenaltyTracker) RecordLoadFailed()     { t.record(LoadFailed, time.Now()) }
func (t *PenaltyTracker) RecordTrackException() { t.record(TrackException, time.Now()) }
func (t *PenaltyTracker) RecordTrackStuck()      { t.record(TrackStuck, time.Now()) }

func (t *PenaltyTracker) aggregate() (loadAttempts, loadFailed, trackExceptions, trackStuck int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range t.minutes.Keys() {
		v, ok := t.minutes.Peek(key)
		if !ok {
			continue
		}
		mc := v.(*minuteCounters)
		loadAttempts += mc.counts[LoadAttempt]
		loadFailed += mc.counts[LoadFailed]
		trackExceptions += mc.counts[TrackException]
		trackStuck += mc.counts[TrackStuck]
	}
	return
}

// Total computes the node's balancer score (lower is better).
// playingPlayersLocal is how many players this client believes are
// currently playing on the node, used as a floor against stats.PlayingPlayers.
func (t *PenaltyTracker) Total(available bool, stats *NodeStats, playingPlayersLocal int) int {
	if !available || stats == nil {
		return penaltyBlockScore
	}

	loadAttempts, loadFailed, trackExceptions, trackStuck := t.aggregate()
	if loadAttempts > 0 && loadAttempts == loadFailed {
		return penaltyBlockScore
	}

	playerPenalty := playingPlayersLocal
	if stats.PlayingPlayers > playerPenalty {
		playerPenalty = stats.PlayingPlayers
	}

	cpuPenalty := int(math.Floor(math.Pow(1.05, 100*stats.CPU.SystemLoad)*10 - 10))

	framePenalty := 0
	if stats.Frames != nil && stats.Frames.Deficit != -1 {
		deficit := int(math.Floor(math.Pow(1.03, 500*float64(stats.Frames.Deficit)/3000)*600 - 600))
		nulled := int(math.Floor(math.Pow(1.03, 500*float64(stats.Frames.Nulled)/3000)*600 - 600))
		framePenalty = deficit + 2*nulled
	}

	// Preserved bit-exact per spec's open question (b): these subtract a
	// constant even when the corresponding count is zero.
	trackStuckPenalty := 100*trackStuck - 100
	trackExceptionPenalty := 10*trackExceptions - 10

	loadFailedPenalty := 0
	if loadFailed > 0 {
		loadFailedPenalty = loadFailed / loadAttempts
	}

	return playerPenalty + cpuPenalty + framePenalty + trackStuckPenalty + trackExceptionPenalty + loadFailedPenalty
}
