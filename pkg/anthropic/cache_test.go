package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	text := "You extract visual facts from product photos. Respond with JSON only."

	blocks := BuildCachedSystemBlocks(text, "1h")

	require.Len(t, blocks, 1)
	assert.Equal(t, text, blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestBuildCachedSystemBlocks_DefaultTTL(t *testing.T) {
	blocks := BuildCachedSystemBlocks("", "")

	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "", blocks[0].CacheControl.TTL)
}
