package lavago

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadResultTracksSingleTrack(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	data, err := json.Marshal(Track{Encoded: "enc", Info: TrackInfo{Identifier: "id1"}})
	require.NoError(t, err)
	r := &LoadResult{LoadType: LoadResultTrack, Data: data}

	tracks := r.Tracks()
	assert.Len(tracks, 1)
	assert.Equal("enc", tracks[0].Encoded)
	assert.Equal("id1", tracks[0].Info.Identifier)
}

func TestLoadResultTracksSearch(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	data, err := json.Marshal([]*Track{
		{Encoded: "a"},
		{Encoded: "b"},
	})
	require.NoError(t, err)
	r := &LoadResult{LoadType: LoadResultSearch, Data: data}

	tracks := r.Tracks()
	assert.Len(tracks, 2)
	assert.Equal("a", tracks[0].Encoded)
	assert.Equal("b", tracks[1].Encoded)
}

func TestLoadResultTracksPlaylist(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	data, err := json.Marshal(loadPlaylistData{
		Info:   LoadPlaylistInfo{Name: "mix", SelectedTrack: 1},
		Tracks: []*Track{{Encoded: "a"}, {Encoded: "b"}},
	})
	require.NoError(t, err)
	r := &LoadResult{LoadType: LoadResultPlaylist, Data: data}

	tracks := r.Tracks()
	assert.Len(tracks, 2)
}

func TestLoadResultTracksEmptyAndError(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	assert.Nil((&LoadResult{LoadType: LoadResultEmpty}).Tracks())
	assert.Nil((&LoadResult{LoadType: LoadResultError, Exception: &LoadException{Message: "boom"}}).Tracks())
}
