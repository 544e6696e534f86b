package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/dshills/repoctx-mcp/internal/chunker"
	"github.com/dshills/repoctx-mcp/internal/pipeline"
	"github.com/dshills/repoctx-mcp/internal/state"
)

const previewWidth = 72

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func renderIndex(w io.Writer, resp *pipeline.IndexResponse) {
	fmt.Fprintf(w, "%s@%s  commit %.12s  %s\n", resp.Repository, resp.Branch, resp.Commit, resp.Status)
	renderSummary(w, &resp.IndexSummary)
	fmt.Fprintf(w, "run %s in %dms\n", resp.RunID, resp.DurationMs)
}

func renderSummary(w io.Writer, s *pipeline.IndexSummary) {
	if s.FastPath {
		fmt.Fprintln(w, "index up to date")
		return
	}
	table := newTable(w, "New", "Updated", "Unchanged", "Removed", "Chunked", "Failed", "Chunks", "Embedded")
	table.Append([]string{
		strconv.Itoa(s.FilesNew),
		strconv.Itoa(s.FilesUpdated),
		strconv.Itoa(s.FilesUnchanged),
		strconv.Itoa(s.FilesRemoved),
		strconv.Itoa(s.FilesChunked),
		strconv.Itoa(s.FilesFailed),
		strconv.Itoa(s.ChunksCreated),
		strconv.Itoa(s.ChunksEmbedded),
	})
	table.Render()
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  ! %s\n", e)
	}
	if s.Placeholders > 0 {
		fmt.Fprintf(w, "warning: %d chunks carry placeholder vectors\n", s.Placeholders)
	}
}

func renderSearch(w io.Writer, resp *pipeline.SearchResponse) {
	if len(resp.Results) == 0 {
		fmt.Fprintf(w, "no results for %q in %s@%s\n", resp.Query, resp.Repository, resp.Branch)
		return
	}
	table := newTable(w, "#", "Score", "Path", "Chunk", "Preview")
	for _, r := range resp.Results {
		table.Append([]string{
			strconv.Itoa(r.Rank),
			fmt.Sprintf("%.3f", r.Score),
			r.Path,
			strconv.Itoa(r.Ordinal),
			preview(r.Content, r.Path),
		})
	}
	table.Render()
	fmt.Fprintf(w, "%d results from %s@%s in %dms\n", len(resp.Results), resp.Repository, resp.Branch, resp.DurationMs)
}

func renderStatus(w io.Writer, s *pipeline.StatusResponse) {
	fmt.Fprintf(w, "%s (%s)\n", s.Repository, s.Name)
	if s.LocalPath != "" {
		fmt.Fprintf(w, "working copy: %s\n", s.LocalPath)
	}
	if s.Indexing {
		fmt.Fprintln(w, "indexing in progress")
	}
	table := newTable(w, "Branch", "Status", "Commit", "Files", "Chunks", "Embedded", "Updated")
	for _, b := range s.Branches {
		table.Append([]string{
			b.Name,
			b.Status,
			fmt.Sprintf("%.12s", b.LastCommit),
			fileCounts(b.Files),
			strconv.Itoa(b.ChunksTotal),
			strconv.Itoa(b.ChunksEmbedded),
			b.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	table.Render()
}

// fileCounts formats per-status file counts as "pending=1 done=3".
func fileCounts(counts map[state.FileStatus]int) string {
	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		if n > 0 {
			keys = append(keys, string(k))
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[state.FileStatus(k)])
	}
	return strings.Join(parts, " ")
}

// preview returns the first line of chunk content after the file header.
func preview(content, path string) string {
	content = strings.TrimPrefix(content, chunker.Header(path))
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len([]rune(line)) > previewWidth {
			line = string([]rune(line)[:previewWidth-3]) + "..."
		}
		return line
	}
	return ""
}
