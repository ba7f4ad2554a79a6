package lavago

import "encoding/json"

// TrackInfo carries the metadata Lavalink returns alongside an encoded
// track string.
type TrackInfo struct {
	Identifier string `json:"identifier,omitempty"`
	Author     string `json:"author,omitempty"`
	Title      string `json:"title,omitempty"`
	IsSeekable bool   `json:"isSeekable,omitempty"`
	Length     int64  `json:"length,omitempty"`
	IsStream   bool   `json:"isStream,omitempty"`
	Position   int64  `json:"position,omitempty"`
	URI        string `json:"uri,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	SourceName string `json:"sourceName,omitempty"`
}

// Track is a playable, opaque Lavalink-encoded track plus its metadata.
type Track struct {
	Encoded string    `json:"encoded"`
	Info    TrackInfo `json:"info"`
}

// LoadResultType discriminates the union returned from /v4/loadtracks.
type LoadResultType string

const (
	LoadResultTrack    LoadResultType = "track"
	LoadResultPlaylist LoadResultType = "playlist"
	LoadResultSearch   LoadResultType = "search"
	LoadResultEmpty    LoadResultType = "empty"
	LoadResultError    LoadResultType = "error"
)

// LoadException describes a load failure when LoadType == LoadResultError.
type LoadException struct {
	Message  string `json:"message,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// LoadPlaylistInfo names the playlist when LoadType == LoadResultPlaylist.
type LoadPlaylistInfo struct {
	Name          string `json:"name,omitempty"`
	SelectedTrack int    `json:"selectedTrack,omitempty"`
}

type loadPlaylistData struct {
	Info   LoadPlaylistInfo `json:"info"`
	Tracks []*Track         `json:"tracks"`
}

// LoadResult is the response from GET /v4/loadtracks. Data's shape depends
// on LoadType: a single Track for "track", a playlist envelope for
// "playlist", or a Track array for "search"; Tracks() normalizes all of
// that into a flat slice.
type LoadResult struct {
	LoadType  LoadResultType  `json:"loadType"`
	Data      json.RawMessage `json:"data,omitempty"`
	Exception *LoadException  `json:"exception,omitempty"`
}

// Tracks normalizes Data into a flat track list regardless of LoadType.
func (r *LoadResult) Tracks() []*Track {
	switch r.LoadType {
	case LoadResultTrack:
		var t Track
		if err := json.Unmarshal(r.Data, &t); err != nil {
			return nil
		}
		return []*Track{&t}
	case LoadResultSearch:
		var tracks []*Track
		if err := json.Unmarshal(r.Data, &tracks); err != nil {
			return nil
		}
		return tracks
	case LoadResultPlaylist:
		var pl loadPlaylistData
		if err := json.Unmarshal(r.Data, &pl); err != nil {
			return nil
		}
		return pl.Tracks
	default:
		return nil
	}
}

// Info is the response from GET /v4/info.
type Info struct {
	Version         string   `json:"version,omitempty"`
	BuildTime       int64    `json:"buildTime,omitempty"`
	SourceManagers  []string `json:"sourceManagers,omitempty"`
	Filters         []string `json:"filters,omitempty"`
	Plugins         []string `json:"plugins,omitempty"`
}
