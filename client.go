package lavago

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nemphi/lavacore/internal/publisher"
)

// ClientConfig tunes the orchestrator's background behavior. Zero values
// are replaced by the documented defaults in NewClient.
type ClientConfig struct {
	// ReconnectProbeInterval is the reconnect scheduler's tick cadence.
	ReconnectProbeInterval time.Duration
	// TransferSettleDelay is the pause before a delayed transfer subscribe
	// fires, giving remote state time to settle.
	TransferSettleDelay time.Duration
	// PublisherBuffer sizes every subscriber channel on the client's own
	// event bus.
	PublisherBuffer int
	Logger          *zap.SugaredLogger
}

// ClientOption customizes a ClientConfig built by NewClient.
type ClientOption func(*ClientConfig)

func WithReconnectProbeInterval(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.ReconnectProbeInterval = d }
}

func WithTransferSettleDelay(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.TransferSettleDelay = d }
}

func WithPublisherBuffer(n int) ClientOption {
	return func(c *ClientConfig) { c.PublisherBuffer = n }
}

func WithLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *ClientConfig) { c.Logger = l }
}

// Client is the orchestrator: node registry, pool→guild mapping, event
// fan-out, reconnect scheduler, and link registry. It implements
// nodeCollaborator to satisfy the back-edge each Node holds into it.
type Client struct {
	cfg      ClientConfig
	userID   string
	embedder Embedder
	balancer *Balancer
	log      *zap.SugaredLogger

	nodes   atomic.Pointer[[]*Node]
	nodesMu sync.Mutex

	currentPool sync.Map // map[string]string, guildID -> pool
	links       sync.Map // map[string]*Link, guildID -> link
	pendingJoin sync.Map // map[string]chan struct{}, guildID -> trigger

	pub         *publisher.Bus[Event]
	disposersMu sync.Mutex
	disposers   []func()

	stopScheduler chan struct{}
	schedulerDone chan struct{}
	closeOnce     sync.Once
	closed        atomic.Bool
}

// NewClient decodes the bot's user id out of token and returns a Client
// ready to register nodes. embedder supplies the chat-platform gateway
// operations the core treats as external.
func NewClient(token string, embedder Embedder, opts ...ClientOption) (*Client, error) {
	userID, err := parseBotID(token)
	if err != nil {
		return nil, err
	}
	cfg := ClientConfig{
		ReconnectProbeInterval: 500 * time.Millisecond,
		TransferSettleDelay:    defaultTransferSettleDelay,
		PublisherBuffer:        64,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ReconnectProbeInterval <= 0 {
		cfg.ReconnectProbeInterval = 500 * time.Millisecond
	}
	if cfg.TransferSettleDelay <= 0 {
		cfg.TransferSettleDelay = defaultTransferSettleDelay
	}
	if cfg.PublisherBuffer <= 0 {
		cfg.PublisherBuffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}

	c := &Client{
		cfg:           cfg,
		userID:        userID,
		embedder:      embedder,
		balancer:      NewBalancer(),
		log:           cfg.Logger,
		pub:           publisher.New[Event](cfg.PublisherBuffer),
		stopScheduler: make(chan struct{}),
		schedulerDone: make(chan struct{}),
	}
	empty := []*Node{}
	c.nodes.Store(&empty)
	go c.runReconnectScheduler()
	return c, nil
}

// AddNode rejects a duplicate name, constructs and connects a Node, and
// splices it into the copy-on-write node registry.
func (c *Client) AddNode(ctx context.Context, cfg *NodeConfig) (*Node, error) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()

	for _, n := range *c.nodes.Load() {
		if n.Name() == cfg.Name {
			return nil, &ConfigError{Reason: fmt.Sprintf("node %q already registered", cfg.Name)}
		}
	}

	node := NewNode(cfg, c.userID, c, c.log)
	c.subscribeNode(node)
	if err := node.Connect(ctx); err != nil {
		return nil, err
	}

	old := *c.nodes.Load()
	next := make([]*Node, len(old)+1)
	copy(next, old)
	next[len(old)] = node
	c.nodes.Store(&next)
	return node, nil
}

// subscribeNode refiles a node's own event stream through the client's
// publisher, per spec's "subscribe to its publisher and refile its events
// through the client's own publisher."
func (c *Client) subscribeNode(node *Node) {
	ch, dispose := node.Subscribe()
	c.disposersMu.Lock()
	c.disposers = append(c.disposers, dispose)
	c.disposersMu.Unlock()
	go func() {
		for ev := range ch {
			if err := c.pub.Publish(ev); err != nil && c.log != nil {
				c.log.Warnw("client event dropped", "err", err)
			}
		}
	}()
}

// Subscribe registers a listener on the orchestrator's fanned-out event
// stream (every node's events, refiled).
func (c *Client) Subscribe() (<-chan Event, func()) {
	return c.pub.Subscribe()
}

func (c *Client) nodesInPool(pool string) []*Node {
	var out []*Node
	for _, n := range *c.nodes.Load() {
		if n.Pool() == pool {
			out = append(out, n)
		}
	}
	return out
}

func (c *Client) availableNodesInPool(pool string) []*Node {
	var out []*Node
	for _, n := range c.nodesInPool(pool) {
		if n.Available() {
			out = append(out, n)
		}
	}
	return out
}

// GetNodes returns a snapshot of the registry, optionally filtered to
// available nodes.
func (c *Client) GetNodes(onlyAvailable bool) []*Node {
	all := *c.nodes.Load()
	if !onlyAvailable {
		out := make([]*Node, len(all))
		copy(out, all)
		return out
	}
	var out []*Node
	for _, n := range all {
		if n.Available() {
			out = append(out, n)
		}
	}
	return out
}

// GetOrCreateLink returns the existing link for guildID, or selects a node
// from the guild's current pool via the balancer and creates one.
func (c *Client) GetOrCreateLink(guildID string, region RegionGroup) (*Link, error) {
	if v, ok := c.links.Load(guildID); ok {
		return v.(*Link), nil
	}
	poolV, ok := c.currentPool.Load(guildID)
	if !ok {
		return nil, &PoolUnmappedError{GuildID: guildID}
	}
	pool := poolV.(string)
	node, err := c.balancer.Select(c.nodesInPool(pool), region, guildID)
	if err != nil {
		return nil, err
	}
	link := newLink(guildID, node, c.cfg.TransferSettleDelay, c.log)
	actual, loaded := c.links.LoadOrStore(guildID, link)
	if loaded {
		return actual.(*Link), nil
	}
	return link, nil
}

func (c *Client) linkForGuild(guildID string) (*Link, bool) {
	v, ok := c.links.Load(guildID)
	if !ok {
		return nil, false
	}
	return v.(*Link), true
}

func (c *Client) dropLink(guildID string) {
	c.links.Delete(guildID)
}

func (c *Client) fulfillPendingJoin(guildID string) {
	if v, ok := c.pendingJoin.Load(guildID); ok {
		select {
		case v.(chan struct{}) <- struct{}{}:
		default:
		}
	}
}

// LoadAndTransferToNode assigns guild to pool and, once the bot's voice
// connection is established, transfers its link to the best node in pool.
// Returns false immediately if pool currently has no available node.
func (c *Client) LoadAndTransferToNode(ctx context.Context, guildID, pool string, author, self Member, onTransfer func(*Node)) bool {
	c.currentPool.Store(guildID, pool)
	if len(c.availableNodesInPool(pool)) == 0 {
		return false
	}

	trigger := make(chan struct{}, 1)
	if !c.embedder.InAudioChannel(self) {
		c.pendingJoin.Store(guildID, trigger)
		if err := c.embedder.Connect(guildID, author.ChannelID); err != nil {
			if c.log != nil {
				c.log.Warnw("gateway connect failed", "guild", guildID, "err", err)
			}
		}
	} else {
		trigger <- struct{}{}
	}

	go func() {
		<-trigger
		c.pendingJoin.Delete(guildID)

		candidates := c.availableNodesInPool(pool)
		chosen, err := c.balancer.Select(candidates, RegionUnknown, guildID)
		if err != nil {
			if c.log != nil {
				c.log.Warnw("pool transfer: balancer failed", "guild", guildID, "err", err)
			}
			return
		}
		link, err := c.GetOrCreateLink(guildID, chosen.Region())
		if err != nil {
			if c.log != nil {
				c.log.Warnw("pool transfer: link lookup failed", "guild", guildID, "err", err)
			}
			return
		}
		link.TransferToPool(ctx, chosen, onTransfer)
	}()

	return true
}

// DisconnectAudio delegates to the gateway collaborator.
func (c *Client) DisconnectAudio(guildID string) error {
	return c.embedder.Disconnect(guildID)
}

// onNodeDisconnected is the Node→Client back-edge hook. If every sibling in
// node's pool is unavailable, every link in the pool bound to node goes
// DISCONNECTED; otherwise each such link is transferred to a sibling
// chosen by the balancer.
func (c *Client) onNodeDisconnected(node *Node) {
	if c.closed.Load() {
		return
	}
	siblings := c.nodesInPool(node.Pool())
	if len(siblings) == 1 && siblings[0] == node {
		c.disconnectLinksOn(node)
		return
	}

	allUnavailable := true
	for _, s := range siblings {
		if s.Available() {
			allUnavailable = false
			break
		}
	}
	if allUnavailable {
		c.disconnectLinksOn(node)
		return
	}

	c.links.Range(func(_, v interface{}) bool {
		link := v.(*Link)
		if link.Node() != node {
			return true
		}
		region := RegionUnknown
		if player, ok := node.getCachedPlayer(link.GuildID); ok {
			region = RegionGroupFromEndpoint(player.snapshot().Voice.Endpoint)
		}
		chosen, err := c.balancer.Select(siblings, region, link.GuildID)
		if err != nil {
			link.setState(LinkDisconnected)
			return true
		}
		link.TransferNode(context.Background(), chosen)
		return true
	})
}

func (c *Client) disconnectLinksOn(node *Node) {
	c.links.Range(func(_, v interface{}) bool {
		link := v.(*Link)
		if link.Node() == node {
			link.setState(LinkDisconnected)
		}
		return true
	})
}

// transferOrphansTo is the Node→Client back-edge hook fired when node just
// became ready: every player cached on an unavailable node, whose link has
// a non-empty voice-state and shares node's current pool, transfers over.
func (c *Client) transferOrphansTo(node *Node) {
	if !node.Available() {
		return
	}
	for _, n := range *c.nodes.Load() {
		if n == node || n.Available() {
			continue
		}
		for _, guildID := range n.orphanGuilds() {
			link, ok := c.links.Load(guildID)
			if !ok {
				continue
			}
			player, ok := n.getCachedPlayer(guildID)
			if !ok || !player.snapshot().Voice.nonEmpty() {
				continue
			}
			poolV, ok := c.currentPool.Load(guildID)
			if !ok || poolV.(string) != node.Pool() {
				continue
			}
			link.(*Link).TransferNode(context.Background(), node)
		}
	}
}

func (c *Client) runReconnectScheduler() {
	ticker := time.NewTicker(c.cfg.ReconnectProbeInterval)
	defer ticker.Stop()
	defer close(c.schedulerDone)
	for {
		select {
		case <-c.stopScheduler:
			return
		case t := <-ticker.C:
			for _, n := range *c.nodes.Load() {
				node := n
				func() {
					defer func() {
						if r := recover(); r != nil && c.log != nil {
							c.log.Warnw("reconnect probe panic", "recovered", r)
						}
					}()
					node.probe(context.Background(), t)
				}()
			}
		}
	}
}

// Close disposes every node subscription, closes every node concurrently,
// stops the reconnect scheduler (waiting for it to actually exit before
// returning), and shuts down the orchestrator's own publisher. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopScheduler)
		<-c.schedulerDone

		c.disposersMu.Lock()
		for _, dispose := range c.disposers {
			dispose()
		}
		c.disposersMu.Unlock()

		g := &errgroup.Group{}
		for _, n := range *c.nodes.Load() {
			node := n
			g.Go(func() error { return node.Close() })
		}
		err = g.Wait()

		c.pub.Close()
	})
	return err
}
