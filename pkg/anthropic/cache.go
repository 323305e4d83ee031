package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. The vision instruction is identical across calls, so every
// request after the first reads it from the prompt cache.
func BuildCachedSystemBlocks(text string, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
