package types

// Chunk is one partition of a file's text as produced by the chunker.
type Chunk struct {
	Ordinal    int // 1-based position within the file
	Content    string
	TokenCount int
}

// Validate checks if the chunk is valid
func (c *Chunk) Validate() error {
	if c.Ordinal < 1 {
		return ErrInvalidOrdinal
	}
	if c.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// EstimateTokens estimates the token count as characters / 4.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
