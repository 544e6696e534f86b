package chunker

import (
	"strings"

	"github.com/dshills/repoctx-mcp/pkg/types"
)

// Default sizing, in characters.
const (
	DefaultChunkSize = 1500
	DefaultOverlap   = 150
	DefaultSQLBudget = 2000
)

// Options controls chunk sizing.
type Options struct {
	ChunkSize     int // maximum chunk length including the file header
	Overlap       int // characters carried between consecutive text/source chunks
	SQLBudget     int // maximum length of a packed SQL chunk body
	MaxInputBytes int // input is truncated to this many bytes before chunking
}

// DefaultOptions returns the default chunk sizing.
func DefaultOptions() Options {
	return Options{
		ChunkSize:     DefaultChunkSize,
		Overlap:       DefaultOverlap,
		SQLBudget:     DefaultSQLBudget,
		MaxInputBytes: DefaultMaxInputBytes,
	}
}

// Chunker partitions file content into ordered chunks. It holds no mutable
// state and is safe for concurrent use.
type Chunker struct {
	opts Options
}

// New creates a chunker. Non-positive sizes fall back to the defaults.
func New(opts Options) *Chunker {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.SQLBudget <= 0 {
		opts.SQLBudget = def.SQLBudget
	}
	if opts.MaxInputBytes <= 0 {
		opts.MaxInputBytes = def.MaxInputBytes
	}
	return &Chunker{opts: opts}
}

// Options returns the effective sizing.
func (c *Chunker) Options() Options {
	return c.opts
}

// Header returns the prefix written at the start of every chunk of path.
func Header(path string) string {
	return "File: " + path + "\n\n"
}

// Chunk splits content into chunks in document order with ordinals starting
// at 1. Ignored files and content that is empty after sanitization produce
// no chunks. Chunk never fails.
func (c *Chunker) Chunk(path string, content []byte) []types.Chunk {
	cls := classify(path)
	if cls.strategy == StrategyIgnore {
		return nil
	}

	text := Sanitize(content, c.opts.MaxInputBytes)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	header := Header(path)
	var bodies []string
	if cls.strategy == StrategySQL {
		bodies = pack(SplitSQL(text, c.opts.SQLBudget), c.opts.SQLBudget)
	} else {
		bodies = c.splitter(header).split(text, cls.separators)
	}

	chunks := make([]types.Chunk, 0, len(bodies))
	for _, body := range bodies {
		full := header + body
		chunks = append(chunks, types.Chunk{
			Ordinal:    len(chunks) + 1,
			Content:    full,
			TokenCount: types.EstimateTokens(full),
		})
	}
	return chunks
}

// splitter sizes the recursive splitter so that header plus body stays
// within ChunkSize. Long paths never shrink the body below half of it.
func (c *Chunker) splitter(header string) recursiveSplitter {
	size := c.opts.ChunkSize - runeLen(header)
	if size < c.opts.ChunkSize/2 {
		size = c.opts.ChunkSize / 2
	}
	if size < 1 {
		size = 1
	}
	overlap := c.opts.Overlap
	if overlap > size/2 {
		overlap = size / 2
	}
	return recursiveSplitter{size: size, overlap: overlap}
}

// pack greedily joins consecutive statements with a newline while the result
// stays within budget. A statement already over budget stands alone.
func pack(stmts []string, budget int) []string {
	var out []string
	var current strings.Builder
	size := 0

	for _, stmt := range stmts {
		n := runeLen(stmt)
		if size > 0 && size+1+n > budget {
			out = append(out, current.String())
			current.Reset()
			size = 0
		}
		if size > 0 {
			current.WriteByte('\n')
			size++
		}
		current.WriteString(stmt)
		size += n
	}
	if size > 0 {
		out = append(out, current.String())
	}
	return out
}
