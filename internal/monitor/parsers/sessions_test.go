package parsers

import (
	"strconv"
	"testing"
	"time"

	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionNow = time.Unix(1_700_000_000, 0).UTC()

func epoch(d time.Duration) string {
	return strconv.FormatInt(sessionNow.Add(-d).Unix(), 10)
}

func TestParseSessions(t *testing.T) {
	threshold := 72 * time.Hour
	output := "train|" + epoch(100*time.Hour) + "|1|3|" + epoch(100*time.Hour) + "\n" +
		"old|" + epoch(300*time.Hour) + "|0|1|" + epoch(200*time.Hour) + "\n" +
		"fresh|" + epoch(time.Hour) + "|0|2|" + epoch(time.Hour) + "\n"

	sessions, err := ParseSessions(output, "gpu-01", sessionNow, threshold)
	require.NoError(t, err)
	require.Len(t, sessions, 3)

	train := sessions[0]
	assert.Equal(t, "gpu-01:train", train.ID)
	assert.Equal(t, "gpu-01", train.Host)
	assert.True(t, train.Attached)
	assert.Equal(t, 3, train.WindowCount)
	assert.Equal(t, fleet.SessionActive, train.Status, "attached sessions are never legacy")
	assert.Nil(t, train.DetachedSeconds)
	require.NotNil(t, train.Created)
	assert.Equal(t, sessionNow.Add(-100*time.Hour), *train.Created)

	old := sessions[1]
	assert.Equal(t, fleet.SessionLegacy, old.Status)
	require.NotNil(t, old.DetachedSeconds)
	assert.Equal(t, (200 * time.Hour).Seconds(), *old.DetachedSeconds)

	fresh := sessions[2]
	assert.Equal(t, fleet.SessionActive, fresh.Status)
	assert.False(t, fresh.Attached)
}

func TestParseSessions_SkipsMalformedLines(t *testing.T) {
	output := "good|" + epoch(time.Hour) + "|0|1|" + epoch(time.Hour) + "\n" +
		"missing|" + epoch(time.Hour) + "|0|1\n" +
		"badnum|abc|0|1|" + epoch(time.Hour) + "\n" +
		"\n" +
		"no separators here\n" +
		"also-good|" + epoch(time.Hour) + "|1|2|" + epoch(time.Hour) + "\n"

	sessions, err := ParseSessions(output, "h", sessionNow, 72*time.Hour)
	require.Len(t, sessions, 2)
	assert.Equal(t, "good", sessions[0].Name)
	assert.Equal(t, "also-good", sessions[1].Name)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	assert.Contains(t, err.Error(), "badnum")
}

func TestParseSessions_Edges(t *testing.T) {
	threshold := 72 * time.Hour

	t.Run("empty output", func(t *testing.T) {
		sessions, err := ParseSessions("", "h", sessionNow, threshold)
		assert.NoError(t, err)
		assert.Empty(t, sessions)
	})

	t.Run("no activity is never legacy", func(t *testing.T) {
		sessions, err := ParseSessions("idle|0|0|1|", "h", sessionNow, threshold)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, fleet.SessionActive, sessions[0].Status)
		assert.Nil(t, sessions[0].LastActivity)
		assert.Nil(t, sessions[0].Created)
		assert.Nil(t, sessions[0].DetachedSeconds)
	})

	t.Run("empty window count defaults to one", func(t *testing.T) {
		sessions, err := ParseSessions("w|"+epoch(time.Hour)+"|0||"+epoch(time.Hour), "h", sessionNow, threshold)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, 1, sessions[0].WindowCount)
	})

	t.Run("name containing separator", func(t *testing.T) {
		sessions, err := ParseSessions("a|b|"+epoch(time.Hour)+"|0|1|"+epoch(time.Hour), "h", sessionNow, threshold)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "a|b", sessions[0].Name)
		assert.Equal(t, "h:a|b", sessions[0].ID)
	})

	t.Run("exactly at threshold is not legacy", func(t *testing.T) {
		sessions, err := ParseSessions("edge|0|0|1|"+epoch(threshold), "h", sessionNow, threshold)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, fleet.SessionActive, sessions[0].Status)
	})

	t.Run("multiple clients count as attached", func(t *testing.T) {
		sessions, err := ParseSessions("pair|0|2|1|"+epoch(500*time.Hour), "h", sessionNow, threshold)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.True(t, sessions[0].Attached)
		assert.Equal(t, fleet.SessionActive, sessions[0].Status)
	})

	t.Run("windows line endings", func(t *testing.T) {
		sessions, err := ParseSessions("crlf|0|0|1|"+epoch(time.Hour)+"\r\n", "h", sessionNow, threshold)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.NotNil(t, sessions[0].LastActivity)
	})
}
