package lavago

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nemphi/lavacore/internal/publisher"
)

// nodeCollaborator is the narrow back edge a Node holds into its owning
// orchestrator, modeling the cyclic-ownership split from the design notes:
// the orchestrator owns nodes outright, nodes hold only this non-owning
// handle back.
type nodeCollaborator interface {
	onNodeDisconnected(node *Node)
	transferOrphansTo(node *Node)
	linkForGuild(guildID string) (*Link, bool)
	dropLink(guildID string)
}

// Node owns one remote audio-streaming server: its REST client, its event
// socket, a cached guild→Player map, a penalty tracker, and an owned event
// publisher. Created by Client.AddNode, torn down by Client.Close.
type Node struct {
	cfg        *NodeConfig
	userID     string
	instanceID string
	collab     nodeCollaborator
	log        *zap.SugaredLogger

	socket     *Socket
	httpClient *http.Client

	mu        sync.RWMutex
	sessionID string
	available bool
	stats     *NodeStats

	players sync.Map // map[string]*Player

	penalty *PenaltyTracker
	pub     *publisher.Bus[Event]
}

// NewNode constructs a Node bound to cfg. userID is the decoded bot id used
// in the event-socket handshake; collab is the orchestrator's narrow
// back-edge handle.
func NewNode(cfg *NodeConfig, userID string, collab nodeCollaborator, log *zap.SugaredLogger) *Node {
	n := &Node{
		cfg:        cfg,
		userID:     userID,
		instanceID: uuid.NewString(),
		collab:     collab,
		log:        log,
		penalty:    NewPenaltyTracker(),
		pub:        publisher.New[Event](64),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout, Transport: http.DefaultTransport.(*http.Transport).Clone()},
	}
	n.socket = newSocket(cfg.wsURL(), n.handshakeHeaders, log, socketHandlers{
		onMessage: n.handleMessage,
		onFailure: n.handleTransportFailure,
		onClose:   n.handleSocketClose,
	})
	return n
}

func (n *Node) handshakeHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", n.cfg.Password)
	h.Set("Client-Name", "jwc/"+n.instanceID)
	h.Set("User-Id", n.userID)
	if sid := n.SessionID(); sid != "" {
		h.Set("Session-Id", sid)
	}
	return h
}

// Connect dials the event socket.
func (n *Node) Connect(ctx context.Context) error {
	return n.socket.Connect(ctx)
}

// Close tears the node down: marks it unavailable, closes the publisher to
// every subscriber, and permanently closes the socket (may_reconnect
// cleared).
func (n *Node) Close() error {
	n.setAvailable(false)
	n.pub.Close()
	n.httpClient.CloseIdleConnections()
	return n.socket.Close()
}

// probe drives the socket's externally-invoked reconnect check; the client
// orchestrator's reconnect scheduler calls this on every tick.
func (n *Node) probe(ctx context.Context, now time.Time) {
	n.socket.probe(ctx, now)
}

func (n *Node) Name() string        { return n.cfg.Name }
func (n *Node) Pool() string        { return n.cfg.Pool }
func (n *Node) Region() RegionGroup { return n.cfg.Region }

func (n *Node) Available() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.available
}

func (n *Node) setAvailable(v bool) {
	n.mu.Lock()
	n.available = v
	n.mu.Unlock()
}

func (n *Node) SessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessionID
}

// penaltyTotal computes this node's current balancer score.
func (n *Node) penaltyTotal() int {
	n.mu.RLock()
	stats := n.stats
	available := n.available
	n.mu.RUnlock()
	return n.penalty.Total(available, stats, n.playingPlayersLocal())
}

func (n *Node) playingPlayersLocal() int {
	count := 0
	n.players.Range(func(_, v interface{}) bool {
		p, _ := v.(*Player)
		snap := p.snapshot()
		if snap.Track != nil && !snap.Paused {
			count++
		}
		return true
	})
	return count
}

// NewPlayerUpdate returns an update record bound to this node for guildID.
func (n *Node) NewPlayerUpdate(guildID string) *PlayerUpdate {
	return &PlayerUpdate{GuildID: guildID, node: n}
}

func (n *Node) cachePlayer(guildID string, p *Player) {
	n.players.Store(guildID, p)
}

func (n *Node) getCachedPlayer(guildID string) (*Player, bool) {
	v, ok := n.players.Load(guildID)
	if !ok {
		return nil, false
	}
	return v.(*Player), true
}

func (n *Node) dropCachedPlayer(guildID string) {
	n.players.Delete(guildID)
}

// orphanGuilds returns every guild this node currently caches a player for
// while itself unavailable, used by Client.transferOrphansTo's collection
// step.
func (n *Node) orphanGuilds() []string {
	if n.Available() {
		return nil
	}
	var guilds []string
	n.players.Range(func(k, _ interface{}) bool {
		guilds = append(guilds, k.(string))
		return true
	})
	return guilds
}

func (n *Node) publish(ev Event) {
	if err := n.pub.Publish(ev); err != nil && n.log != nil {
		n.log.Warnw("node event dropped", "node", n.cfg.Name, "err", err)
	}
}

// Subscribe registers a listener on this node's own event stream.
func (n *Node) Subscribe() (<-chan Event, func()) {
	return n.pub.Subscribe()
}

// handleTransportFailure reacts to an unrecoverable socket read error
// (exception, timeout, EOF): mark unavailable, notify the orchestrator.
func (n *Node) handleTransportFailure(err error) {
	n.setAvailable(false)
	if n.log != nil {
		n.log.Warnw("node transport failure", "node", n.cfg.Name, "err", wrapTransport(n.cfg.Name, err))
	}
	n.publish(NodeDisconnectedEvent{baseEvent{n.cfg.Name}})
	if n.collab != nil {
		n.collab.onNodeDisconnected(n)
	}
}

// handleSocketClose reacts to a server-initiated close. The socket itself
// has already cleared may_reconnect if the code was a normal close (1000).
func (n *Node) handleSocketClose(code int, reason string, byRemote bool) {
	n.setAvailable(false)
	n.publish(NodeDisconnectedEvent{baseEvent{n.cfg.Name}})
	if n.collab != nil {
		n.collab.onNodeDisconnected(n)
	}
}

type wsEnvelope struct {
	Op   string `json:"op"`
	Type string `json:"type,omitempty"`
}

func (n *Node) handleMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		if n.log != nil {
			n.log.Warnw("event socket: malformed message", "node", n.cfg.Name, "err", err)
		}
		return
	}
	switch env.Op {
	case "ready":
		n.handleReady(data)
	case "stats":
		n.handleStats(data)
	case "playerUpdate":
		n.handlePlayerUpdate(data)
	case "event":
		n.handleEvent(env.Type, data)
	default:
		if n.log != nil {
			n.log.Warnw("event socket: unknown opcode", "node", n.cfg.Name, "op", env.Op)
		}
	}
}

type readyPayload struct {
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

func (n *Node) handleReady(data []byte) {
	var p readyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if !p.Resumed {
		n.penalty.Reset()
	}
	n.mu.Lock()
	n.sessionID = p.SessionID
	n.available = true
	n.mu.Unlock()

	// Re-bind every cached player whose voice-state is already populated.
	n.players.Range(func(k, v interface{}) bool {
		guildID := k.(string)
		player := v.(*Player).snapshot()
		if player.Voice.nonEmpty() {
			u := n.NewPlayerUpdate(guildID).withVoice(player.Voice)
			go func() { <-u.Submit(context.Background(), false) }()
		}
		return true
	})

	n.publish(ReadyEvent{baseEvent{n.cfg.Name}, p.Resumed, p.SessionID})
	if n.collab != nil {
		n.collab.transferOrphansTo(n)
	}
}

type statsPayload struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	CPU            CPUStats    `json:"cpu"`
	Frames         *FrameStats `json:"frameStats"`
}

func (n *Node) handleStats(data []byte) {
	var p statsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	stats := &NodeStats{Players: p.Players, PlayingPlayers: p.PlayingPlayers, Uptime: p.Uptime, CPU: p.CPU, Frames: p.Frames}
	n.mu.Lock()
	n.stats = stats
	n.mu.Unlock()
	n.publish(StatsEvent{baseEvent{n.cfg.Name}, *stats})
}

type playerUpdatePayload struct {
	GuildID string `json:"guildId"`
	State   struct {
		Time      int64 `json:"time"`
		Position  int64 `json:"position"`
		Connected bool  `json:"connected"`
		Ping      int64 `json:"ping"`
	} `json:"state"`
}

func (n *Node) handlePlayerUpdate(data []byte) {
	var p playerUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	state := PlayerState{
		Time:      time.UnixMilli(p.State.Time),
		Position:  time.Duration(p.State.Position) * time.Millisecond,
		Connected: p.State.Connected,
		Ping:      time.Duration(p.State.Ping) * time.Millisecond,
	}
	if player, ok := n.getCachedPlayer(p.GuildID); ok {
		player.setLastState(state)
	}
	if n.collab != nil {
		if link, ok := n.collab.linkForGuild(p.GuildID); ok {
			link.setConnectivity(state.Connected)
		}
	}
	n.publish(PlayerUpdateEvent{baseEvent{n.cfg.Name}, p.GuildID, state})
}

func (n *Node) handleEvent(evType string, data []byte) {
	switch evType {
	case "TrackStartEvent":
		var p struct {
			GuildID string `json:"guildId"`
			Track   *Track `json:"track"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if player, ok := n.getCachedPlayer(p.GuildID); ok {
			player.setTrack(p.Track)
		}
		n.penalty.RecordLoadAttempt()
		n.publish(TrackStartEvent{baseEvent{n.cfg.Name}, p.GuildID, p.Track})

	case "TrackEndEvent":
		var p struct {
			GuildID string `json:"guildId"`
			Track   *Track `json:"track"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if player, ok := n.getCachedPlayer(p.GuildID); ok {
			player.setTrack(nil)
		}
		reason := trackEndReasonFromRaw(p.Reason)
		if reason == LoadFailedReason {
			n.penalty.RecordLoadFailed()
		}
		n.publish(TrackEndEvent{baseEvent{n.cfg.Name}, p.GuildID, p.Track, reason})

	case "TrackExceptionEvent":
		var p struct {
			GuildID   string `json:"guildId"`
			Track     *Track `json:"track"`
			Exception struct {
				Message string `json:"message"`
			} `json:"exception"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		n.penalty.RecordTrackException()
		n.publish(TrackExceptionEvent{baseEvent{n.cfg.Name}, p.GuildID, p.Track, p.Exception.Message})

	case "TrackStuckEvent":
		var p struct {
			GuildID     string `json:"guildId"`
			Track       *Track `json:"track"`
			ThresholdMs int64  `json:"thresholdMs"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		n.penalty.RecordTrackStuck()
		n.publish(TrackStuckEvent{baseEvent{n.cfg.Name}, p.GuildID, p.Track, time.Duration(p.ThresholdMs) * time.Millisecond})

	case "WebSocketClosedEvent":
		var p struct {
			GuildID  string `json:"guildId"`
			Code     int    `json:"code"`
			Reason   string `json:"reason"`
			ByRemote bool   `json:"byRemote"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		n.publish(WebSocketClosedEvent{baseEvent{n.cfg.Name}, p.GuildID, p.Code, p.Reason, p.ByRemote})
		if p.Code == 4004 || p.Code == 4009 {
			guildID := p.GuildID
			go func() { <-n.DestroyPlayerAndLink(context.Background(), guildID) }()
		}

	default:
		if n.log != nil {
			n.log.Warnw("event socket: unknown event type", "node", n.cfg.Name, "type", evType)
		}
	}
}

func trackEndReasonFromRaw(raw string) TrackEndReason {
	switch raw {
	case "finished":
		return FinishedReason
	case "loadFailed":
		return LoadFailedReason
	case "stopped":
		return StoppedReason
	case "replaced":
		return ReplacedReason
	case "cleanup":
		return CleanupReason
	default:
		return FinishedReason
	}
}
