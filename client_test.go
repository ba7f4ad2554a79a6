package lavago

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBotToken(id string) string {
	return base64.RawStdEncoding.EncodeToString([]byte(id)) + ".abcdefghijklmnop.qrstuvwxyz012345"
}

type noopEmbedder struct{}

func (noopEmbedder) InAudioChannel(Member) bool        { return true }
func (noopEmbedder) Connect(string, string) error      { return nil }
func (noopEmbedder) Disconnect(string) error            { return nil }

// wsTestServer upgrades /v4/websocket and hands the accepted connection
// back over connCh, while routing everything else to restHandler.
type wsTestServer struct {
	*httptest.Server
	connCh chan *websocket.Conn
}

func newWSTestServer(t *testing.T, restHandler http.HandlerFunc) *wsTestServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 4)
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/websocket", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- c
	})
	if restHandler != nil {
		mux.HandleFunc("/", restHandler)
	}
	return &wsTestServer{Server: httptest.NewServer(mux), connCh: connCh}
}

func nodeConfigForServer(t *testing.T, name string, srv *httptest.Server) *NodeConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	cfg, err := NewNodeConfig(name, host, port, "secret", "pool-a")
	require.NoError(t, err)
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestClientAddNodeReceivesReadyAndLoadsTrack(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	loadCalled := make(chan *http.Request, 1)
	ws := newWSTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v4/loadtracks" {
			loadCalled <- r
			_ = json.NewEncoder(w).Encode(LoadResult{LoadType: LoadResultEmpty})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	defer ws.Close()

	client, err := NewClient(testBotToken("42"), noopEmbedder{})
	require.NoError(t, err)
	defer client.Close()

	cfg := nodeConfigForServer(t, "n1", ws.Server)
	node, err := client.AddNode(context.Background(), cfg)
	require.NoError(t, err)

	conn := <-ws.connCh
	ready, _ := json.Marshal(map[string]interface{}{"op": "ready", "resumed": false, "sessionId": "s1"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ready))

	waitFor(t, 2*time.Second, node.Available)
	assert.Equal("s1", node.SessionID())

	res := <-node.LoadItem(context.Background(), "dQw4w9WgXcQ")
	assert.NoError(res.Err)

	select {
	case r := <-loadCalled:
		assert.Equal("/v4/loadtracks?identifier=dQw4w9WgXcQ", r.URL.String())
	case <-time.After(2 * time.Second):
		t.Fatal("load request never arrived")
	}
}

func TestClientPoolLosesAllMembersDisconnectsLinks(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	wsA := newWSTestServer(t, nil)
	defer wsA.Close()
	wsB := newWSTestServer(t, nil)
	defer wsB.Close()

	client, err := NewClient(testBotToken("7"), noopEmbedder{})
	require.NoError(t, err)
	defer client.Close()

	cfgA := nodeConfigForServer(t, "a", wsA.Server)
	cfgB := nodeConfigForServer(t, "b", wsB.Server)
	nodeA, err := client.AddNode(context.Background(), cfgA)
	require.NoError(t, err)
	nodeB, err := client.AddNode(context.Background(), cfgB)
	require.NoError(t, err)

	connA := <-wsA.connCh
	connB := <-wsB.connCh
	ready, _ := json.Marshal(map[string]interface{}{"op": "ready", "resumed": false, "sessionId": "s1"})
	require.NoError(t, connA.WriteMessage(websocket.TextMessage, ready))
	require.NoError(t, connB.WriteMessage(websocket.TextMessage, ready))
	waitFor(t, 2*time.Second, nodeA.Available)
	waitFor(t, 2*time.Second, nodeB.Available)

	client.currentPool.Store("guild-1", "pool-a")
	link, err := client.GetOrCreateLink("guild-1", RegionUnknown)
	require.NoError(t, err)
	link.setState(LinkConnected)

	// Both sockets fail in sequence, normal close (code 1000) from each
	// server side: the pool has no survivors only once the second one
	// closes, at which point every link bound to a node in the pool must
	// go DISCONNECTED.
	require.NoError(t, connA.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	waitFor(t, 2*time.Second, func() bool { return !nodeA.Available() })

	require.NoError(t, connB.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	waitFor(t, 2*time.Second, func() bool { return !nodeB.Available() })

	waitFor(t, 2*time.Second, func() bool { return link.State() == LinkDisconnected })
	assert.Equal(LinkDisconnected, link.State())
}

func TestClientNormalCloseDisablesReconnect(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	ws := newWSTestServer(t, nil)
	defer ws.Close()

	client, err := NewClient(testBotToken("9"), noopEmbedder{}, WithReconnectProbeInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer client.Close()

	cfg := nodeConfigForServer(t, "n1", ws.Server)
	node, err := client.AddNode(context.Background(), cfg)
	require.NoError(t, err)

	conn := <-ws.connCh
	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))

	waitFor(t, 2*time.Second, func() bool { return !node.socket.MayReconnect() })

	// Give the scheduler several ticks' worth of time; no second dial
	// should ever arrive on connCh.
	select {
	case <-ws.connCh:
		t.Fatal("reconnect probe dialed after a normal close")
	case <-time.After(200 * time.Millisecond):
	}
	assert.False(node.socket.MayReconnect())
}

func TestClientWebSocketClosed4004DestroysPlayerAndLink(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	deleteCalled := make(chan struct{}, 1)
	ws := newWSTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleteCalled <- struct{}{}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	defer ws.Close()

	client, err := NewClient(testBotToken("11"), noopEmbedder{})
	require.NoError(t, err)
	defer client.Close()

	cfg := nodeConfigForServer(t, "n1", ws.Server)
	node, err := client.AddNode(context.Background(), cfg)
	require.NoError(t, err)

	conn := <-ws.connCh
	ready, _ := json.Marshal(map[string]interface{}{"op": "ready", "resumed": false, "sessionId": "s1"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ready))
	waitFor(t, 2*time.Second, node.Available)

	node.cachePlayer("guild-2", newPlayer("guild-2"))
	client.links.Store("guild-2", newLink("guild-2", node, defaultTransferSettleDelay, nil))

	closedEvt, _ := json.Marshal(map[string]interface{}{
		"op": "event", "type": "WebSocketClosedEvent", "guildId": "guild-2", "code": 4004, "reason": "disallowed intents", "byRemote": true,
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, closedEvt))

	select {
	case <-deleteCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a DELETE for the destroyed player")
	}
	waitFor(t, time.Second, func() bool {
		_, ok := client.linkForGuild("guild-2")
		return !ok
	})
	_, stillLinked := client.linkForGuild("guild-2")
	assert.False(stillLinked)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	client, err := NewClient(testBotToken("13"), noopEmbedder{})
	require.NoError(t, err)

	assert.NoError(client.Close())
	assert.NoError(client.Close())
}

// TestClientCloseAwaitsSchedulerExit guards against Close returning while
// the reconnect scheduler goroutine is still running: schedulerDone must
// already be closed by the time Close returns, not merely "about to close".
func TestClientCloseAwaitsSchedulerExit(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	client, err := NewClient(testBotToken("15"), noopEmbedder{}, WithReconnectProbeInterval(5*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.True(client.closed.Load())

	select {
	case <-client.schedulerDone:
	default:
		t.Fatal("schedulerDone must be closed once Close returns")
	}
}
