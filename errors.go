package lavago

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// NodeUnavailableError is returned from any REST operation invoked while
// the node's socket/server liveness flag is false.
type NodeUnavailableError struct {
	Node string
}

func (e *NodeUnavailableError) Error() string {
	return fmt.Sprintf("node %q: unavailable", e.Node)
}

// RestError surfaces a >299 HTTP response from a node verbatim.
type RestError struct {
	Status  int
	Message string
}

func (e *RestError) Error() string {
	return fmt.Sprintf("rest error: status=%d message=%s", e.Status, e.Message)
}

// TransportError wraps an IO failure, timeout, or connect failure talking
// to a node. It always accompanies a disconnect notification.
type TransportError struct {
	Node string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("node %q: transport error: %v", e.Node, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigError is raised synchronously at the call site for invalid builder
// input: bad token shape, missing required field, duplicate node name.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }

// NoAvailableNodeError is returned by the balancer when no candidate in the
// supplied set is available.
type NoAvailableNodeError struct {
	Candidates int
}

func (e *NoAvailableNodeError) Error() string {
	return fmt.Sprintf("no available node (%d candidates considered)", e.Candidates)
}

// PoolUnmappedError is returned by GetOrCreateLink when no pool has been
// assigned to the guild yet.
type PoolUnmappedError struct {
	GuildID string
}

func (e *PoolUnmappedError) Error() string {
	return fmt.Sprintf("guild %q has no current pool mapping", e.GuildID)
}

func wrapTransport(node string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Node: node, Err: errors.Wrap(err, "transport")}
}
