package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRange(t *testing.T) {
	for _, r := range TimeRanges {
		got, err := ParseTimeRange(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	_, err := ParseTimeRange("90d")
	assert.Error(t, err)
	assert.False(t, TimeRange("").Valid())
}

func TestTimeRangeWindow(t *testing.T) {
	tests := []struct {
		r          TimeRange
		start, end string
		label      string
	}{
		{RangeToday, "today", "today", "Today"},
		{RangeLast7Days, "today-6d", "today", "Last 7 days"},
		{RangeLast30Days, "today-29d", "today", "Last 30 days"},
	}
	for _, tt := range tests {
		start, end := tt.r.Window()
		assert.Equal(t, tt.start, start, tt.r)
		assert.Equal(t, tt.end, end, tt.r)
		assert.Equal(t, tt.label, tt.r.Label())
	}
}

func TestConfigSnapshotActiveSite(t *testing.T) {
	a := Site{ID: "a", Domain: "a.com"}
	b := Site{ID: "b", Domain: "b.com", Label: "Blog"}

	snap := ConfigSnapshot{Sites: []Site{a, b}, ActiveSiteID: "b"}
	got, ok := snap.ActiveSite()
	require.True(t, ok)
	assert.Equal(t, "Blog", got.DisplayName())

	snap.ActiveSiteID = "gone"
	got, ok = snap.ActiveSite()
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, "a.com", got.DisplayName())

	_, ok = ConfigSnapshot{}.ActiveSite()
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, SiteIDs(snap.Sites))
}
