package lavago

import (
	"fmt"
	"time"
)

// NodeConfig is the immutable description of one remote audio-streaming
// server. Two NodeConfigs sharing a Name are rejected by Client.AddNode.
type NodeConfig struct {
	// Name uniquely identifies the node within a Client.
	Name string
	// Host/Port address the remote server.
	Host string
	Port int
	// TLS selects wss/https over ws/http.
	TLS bool
	// Password is sent as the Authorization header on every REST call and
	// the event-socket handshake.
	Password string
	// Pool is the operator-defined pool this node belongs to. The
	// balancer only ever selects within a single pool.
	Pool string
	// Region is this node's region-group tag, used by
	// RegionPenaltyProvider to prefer nodes near a guild's voice region.
	Region RegionGroup
	// RequestTimeout bounds every REST call issued against this node.
	RequestTimeout time.Duration
}

// NodeConfigOption customizes a NodeConfig built by NewNodeConfig.
type NodeConfigOption func(*NodeConfig)

func WithTLS(tls bool) NodeConfigOption {
	return func(c *NodeConfig) { c.TLS = tls }
}

func WithRegion(region RegionGroup) NodeConfigOption {
	return func(c *NodeConfig) { c.Region = region }
}

func WithRequestTimeout(d time.Duration) NodeConfigOption {
	return func(c *NodeConfig) { c.RequestTimeout = d }
}

// NewNodeConfig builds a NodeConfig, defaulting Region to RegionUnknown and
// RequestTimeout to 10s. name and pool must be non-empty.
func NewNodeConfig(name, host string, port int, password, pool string, opts ...NodeConfigOption) (*NodeConfig, error) {
	if name == "" {
		return nil, &ConfigError{Reason: "node name must not be empty"}
	}
	if pool == "" {
		return nil, &ConfigError{Reason: "pool must not be empty"}
	}
	cfg := &NodeConfig{
		Name:           name,
		Host:           host,
		Port:           port,
		Password:       password,
		Pool:           pool,
		Region:         RegionUnknown,
		RequestTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}

func (c *NodeConfig) wsURL() string {
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/v4/websocket", scheme, c.Host, c.Port)
}

func (c *NodeConfig) httpURL() string {
	scheme := "http"
	if c.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}
