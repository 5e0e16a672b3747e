package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-and-chill/chessmate-sub001/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.ProposalDeadline)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTTL)
	assert.Equal(t, 2*time.Second, cfg.ReaperInterval)
	assert.Equal(t, 1, cfg.ShardCount)
	assert.Len(t, cfg.WideningSchedule, 5)
}

func TestShardIndexOutOfRange(t *testing.T) {
	t.Setenv("SHARD_COUNT", "2")
	t.Setenv("SHARD_INDEX", "2")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseWideningSchedule(t *testing.T) {
	stages, err := parseWideningSchedule("0s:50:150,5s:100:250,60s:inf:inf")
	require.NoError(t, err)
	require.Len(t, stages, 3)

	assert.Equal(t, 50, stages[0].RatingWindow)
	assert.Equal(t, 5*time.Second, stages[1].Dwell)
	assert.Equal(t, models.Unbounded, stages[2].RatingWindow)
	assert.Equal(t, models.Unbounded, stages[2].MaxLatencyMs)
}

func TestParseWideningScheduleRejectsBadInput(t *testing.T) {
	_, err := parseWideningSchedule("0s:50")
	assert.Error(t, err)

	_, err = parseWideningSchedule("5s:50:150,5s:100:250")
	assert.Error(t, err, "dwells must strictly increase")

	_, err = parseWideningSchedule("0s:abc:150")
	assert.Error(t, err)
}
