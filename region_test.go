package lavago

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegionGroupRoundTrip(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	groups := []RegionGroup{RegionAsia, RegionEurope, RegionUS, RegionSouthAmerica, RegionAfrica, RegionMiddleEast}
	for _, g := range groups {
		assert.Equal(g.Name(), RegionGroupFromRaw(g.Name()).Name())
	}
}

func TestRegionGroupFromRawCaseInsensitive(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	assert.Equal(RegionEurope, RegionGroupFromRaw("europe"))
	assert.Equal(RegionEurope, RegionGroupFromRaw("  Europe  "))
	assert.Equal(RegionUnknown, RegionGroupFromRaw("atlantis"))
}

func TestRegionGroupFromEndpoint(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	known := map[string]RegionGroup{
		"us-west":     RegionUS,
		"europe":      RegionEurope,
		"hongkong":    RegionAsia,
		"brazil":      RegionSouthAmerica,
		"southafrica": RegionAfrica,
		"dubai":       RegionMiddleEast,
	}
	for raw, want := range known {
		got := RegionGroupFromEndpoint(raw + "1234.discord.media:443")
		assert.Equalf(want, got, "endpoint region id %q", raw)
	}

	assert.Equal(RegionUnknown, RegionGroupFromEndpoint("not-a-real-endpoint"))
	assert.Equal(RegionUnknown, RegionGroupFromEndpoint("unknownregion1234.discord.media:443"))
}
