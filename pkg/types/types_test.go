package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("sync: %w", NewTransport("clone", base))

	assert.Equal(t, KindTransport, KindOf(err))
	assert.True(t, IsKind(err, KindTransport))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "sync: clone: connection refused", err.Error())

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindInternal))

	in := NewInvalidInput("repository is required")
	assert.Equal(t, "repository is required", in.Error())

	c := NewConsistency("embed", "branch %d not found", 7)
	assert.Equal(t, "embed: branch 7 not found", c.Error())
}

func TestSearchResultValidate(t *testing.T) {
	valid := SearchResult{ChunkID: 1, Rank: 1, Path: "a.go", Ordinal: 1, Content: "x", Score: 0.5}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*SearchResult)
		want   error
	}{
		{"chunk id", func(r *SearchResult) { r.ChunkID = 0 }, ErrInvalidChunkID},
		{"rank", func(r *SearchResult) { r.Rank = 0 }, ErrInvalidRank},
		{"ordinal", func(r *SearchResult) { r.Ordinal = 0 }, ErrInvalidOrdinal},
		{"path", func(r *SearchResult) { r.Path = "" }, ErrMissingPath},
		{"content", func(r *SearchResult) { r.Content = "" }, ErrEmptyContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), tt.want)
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}
