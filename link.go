package lavago

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LinkState is a Link's lifecycle state.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "CONNECTING"
	case LinkConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// defaultTransferSettleDelay is the "1 000 ms delays on transfer_* are load-
// shedding waits that allow remote state to settle" constant from the
// design notes — kept as a named, configurable field rather than a
// magic literal.
const defaultTransferSettleDelay = 1000 * time.Millisecond

// Link is the per-guild binding from a voice channel to a node's player.
// Equality/identity is by GuildID alone.
type Link struct {
	GuildID string

	settleDelay time.Duration
	log         *zap.SugaredLogger

	mu    sync.RWMutex
	node  *Node
	state LinkState
}

func newLink(guildID string, node *Node, settleDelay time.Duration, log *zap.SugaredLogger) *Link {
	if settleDelay <= 0 {
		settleDelay = defaultTransferSettleDelay
	}
	return &Link{GuildID: guildID, node: node, settleDelay: settleDelay, log: log, state: LinkDisconnected}
}

func (l *Link) Node() *Node {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.node
}

func (l *Link) State() LinkState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Link) setState(s LinkState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// setConnectivity is driven by Node.handlePlayerUpdate: CONNECTED if the
// remote reports the voice socket connected, else DISCONNECTED.
func (l *Link) setConnectivity(connected bool) {
	if connected {
		l.setState(LinkConnected)
	} else {
		l.setState(LinkDisconnected)
	}
}

// UpdateVoiceState PATCHes the player on the currently selected node with a
// freshly arrived voice-server/voice-state triple. A no-op if the selected
// node is unavailable.
func (l *Link) UpdateVoiceState(ctx context.Context, vs VoiceState) {
	node := l.Node()
	if node == nil || !node.Available() {
		return
	}
	l.setState(LinkConnecting)
	res := <-node.NewPlayerUpdate(l.GuildID).withVoice(vs).Submit(ctx, false)
	if res.Err != nil {
		if l.log != nil {
			l.log.Warnw("voice state update failed", "guild", l.GuildID, "err", res.Err)
		}
		l.setState(LinkDisconnected)
	}
}

// TransferNode moves this link onto newNode. The node pointer switches
// immediately; if a cached player exists on the old node, a full update
// (track, position, end-time cleared, volume, paused, filters, voice) is
// built against the new node and submitted after settleDelay.
func (l *Link) TransferNode(ctx context.Context, newNode *Node) {
	l.setState(LinkConnecting)
	oldNode := l.Node()

	l.mu.Lock()
	l.node = newNode
	l.mu.Unlock()

	if oldNode == nil {
		return
	}
	player, ok := oldNode.getCachedPlayer(l.GuildID)
	if !ok {
		return
	}
	snap := player.snapshot()

	update := newNode.NewPlayerUpdate(l.GuildID).
		withPosition(snap.Position).
		withEndTime(0).
		withVolume(snap.Volume).
		withPaused(snap.Paused).
		withFilters(snap.Filters).
		withVoice(snap.Voice)
	if snap.Track != nil {
		update = update.updateTrack(&TrackUpdate{Encoded: &snap.Track.Encoded})
	}

	guildID := l.GuildID
	time.AfterFunc(l.settleDelay, func() {
		res := <-update.Submit(ctx, false)
		if res.Err != nil {
			if l.log != nil {
				l.log.Warnw("node transfer failed", "guild", guildID, "err", res.Err)
			}
			l.setState(LinkDisconnected)
			return
		}
		oldNode.dropCachedPlayer(guildID)
	})
}

// TransferToPool moves this link to newNode in newPool. Unlike
// TransferNode, the seeded update carries only volume, voice-state, and
// filters — never the current track. The old node's player is destroyed
// synchronously before the new one is seeded; after completes on success.
func (l *Link) TransferToPool(ctx context.Context, newNode *Node, after func(*Node)) {
	l.setState(LinkConnecting)
	oldNode := l.Node()

	l.mu.Lock()
	l.node = newNode
	l.mu.Unlock()

	var seed VoiceState
	var volume = 100
	var filters Filters
	if oldNode != nil {
		if player, ok := oldNode.getCachedPlayer(l.GuildID); ok {
			snap := player.snapshot()
			seed = snap.Voice
			volume = snap.Volume
			filters = snap.Filters
		}
		<-oldNode.DestroyPlayer(ctx, l.GuildID)
	}

	update := newNode.NewPlayerUpdate(l.GuildID).withVolume(volume).withVoice(seed).withFilters(filters)
	guildID := l.GuildID
	time.AfterFunc(l.settleDelay, func() {
		res := <-update.Submit(ctx, false)
		if res.Err != nil {
			if l.log != nil {
				l.log.Warnw("pool transfer failed", "guild", guildID, "err", res.Err)
			}
			l.setState(LinkDisconnected)
			return
		}
		if after != nil {
			after(newNode)
		}
	})
}

// Destroy asks the currently selected node to destroy the player and drop
// this link from the orchestrator's registry.
func (l *Link) Destroy(ctx context.Context) {
	node := l.Node()
	if node == nil {
		return
	}
	<-node.DestroyPlayerAndLink(ctx, l.GuildID)
}
