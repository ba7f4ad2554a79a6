package lavago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// httpDo issues a single REST call against this node, per spec §6/§7:
// header Authorization always attached; 2xx-not-204 parses body into out;
// 204 completes with no value; >299 parses the body as an API error and
// surfaces it as *RestError.
func (n *Node) httpDo(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if !n.Available() {
		return &NodeUnavailableError{Node: n.cfg.Name}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.cfg.httpURL()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", n.cfg.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return wrapTransport(n.cfg.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapTransport(n.cfg.Name, err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode > 299 {
		var apiErr apiErrorWire
		_ = json.Unmarshal(data, &apiErr)
		return &RestError{Status: resp.StatusCode, Message: apiErr.Message}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return err
		}
	}
	return nil
}

// GetPlayer returns the cached player for guildID, falling back to
// GET /v4/sessions/{sid}/players/{guild}; on 404 it creates a fresh player
// via an empty update submit and caches the result.
func (n *Node) GetPlayer(ctx context.Context, guildID string) <-chan Result[*Player] {
	if p, ok := n.getCachedPlayer(guildID); ok {
		return ready(p.snapshot(), nil)
	}
	return async(func() (*Player, error) {
		path := fmt.Sprintf("/v4/sessions/%s/players/%s", n.SessionID(), guildID)
		var wire playerWire
		err := n.httpDo(ctx, http.MethodGet, path, nil, &wire)
		if err == nil {
			p := wire.toPlayer()
			n.cachePlayer(guildID, p)
			return p, nil
		}
		var restErr *RestError
		if asRestError(err, &restErr) && restErr.Status == http.StatusNotFound {
			res := <-n.NewPlayerUpdate(guildID).Submit(ctx, false)
			return res.Value, res.Err
		}
		return nil, err
	})
}

// DestroyPlayer DELETEs the player and, on success, evicts it from cache.
func (n *Node) DestroyPlayer(ctx context.Context, guildID string) <-chan Result[struct{}] {
	return async(func() (struct{}, error) {
		path := fmt.Sprintf("/v4/sessions/%s/players/%s", n.SessionID(), guildID)
		if err := n.httpDo(ctx, http.MethodDelete, path, nil, nil); err != nil {
			return struct{}{}, err
		}
		n.dropCachedPlayer(guildID)
		return struct{}{}, nil
	})
}

// DestroyPlayerAndLink destroys the player and, on success, asks the
// orchestrator to drop the guild's link.
func (n *Node) DestroyPlayerAndLink(ctx context.Context, guildID string) <-chan Result[struct{}] {
	return async(func() (struct{}, error) {
		res := <-n.DestroyPlayer(ctx, guildID)
		if res.Err != nil {
			return struct{}{}, res.Err
		}
		if n.collab != nil {
			n.collab.dropLink(guildID)
		}
		return struct{}{}, nil
	})
}

// LoadItem issues GET /v4/loadtracks?identifier=<url-encoded>.
func (n *Node) LoadItem(ctx context.Context, identifier string) <-chan Result[*LoadResult] {
	return async(func() (*LoadResult, error) {
		path := "/v4/loadtracks?identifier=" + url.QueryEscape(identifier)
		var out LoadResult
		if err := n.httpDo(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// GetInfo issues GET /v4/info.
func (n *Node) GetInfo(ctx context.Context) <-chan Result[*Info] {
	return async(func() (*Info, error) {
		var out Info
		if err := n.httpDo(ctx, http.MethodGet, "/v4/info", nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

func asRestError(err error, target **RestError) bool {
	re, ok := err.(*RestError)
	if !ok {
		return false
	}
	*target = re
	return true
}
