package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	c := Load()
	assert.Equal(t, ModeAuto, c.IndexerMode)
	assert.Equal(t, 16, c.CoalesceShards)
	assert.Equal(t, 100_000, c.CoalesceMaxKeys)
	assert.Equal(t, 3*time.Second, c.GitCheckoutDebounce)
	assert.Equal(t, time.Second, c.NonGitDebounce)
	assert.Equal(t, int64(16<<20), c.MaxParseBytes)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("INDEXER_MODE", "LEADER")
	t.Setenv("COALESCE_SHARDS", "32")
	t.Setenv("SIZE_PROFILE", "heavy")
	t.Setenv("MAX_PARSE_BYTES", "123456")

	c := Load()
	assert.Equal(t, ModeLeader, c.IndexerMode)
	assert.Equal(t, 32, c.CoalesceShards)
	assert.Equal(t, int64(8<<20), c.MaxASTBytes, "heavy profile AST ceiling applies")
	assert.Equal(t, int64(123456), c.MaxParseBytes, "explicit override wins over the size profile")
}

func TestLoadIgnoresUnparsableValues(t *testing.T) {
	t.Setenv("COALESCE_SHARDS", "not-a-number")
	c := Load()
	assert.Equal(t, 16, c.CoalesceShards)
}
