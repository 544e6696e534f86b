package types

// SearchResult is one ranked chunk returned by retrieval.
type SearchResult struct {
	ChunkID int64   `json:"chunk_id"`
	Rank    int     `json:"rank"` // 1-based position in the result set
	Path    string  `json:"path"`
	Ordinal int     `json:"ordinal"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == 0 {
		return ErrInvalidChunkID
	}
	if sr.Rank < 1 {
		return ErrInvalidRank
	}
	if sr.Ordinal < 1 {
		return ErrInvalidOrdinal
	}
	if sr.Path == "" {
		return ErrMissingPath
	}
	if sr.Content == "" {
		return ErrEmptyContent
	}
	return nil
}
