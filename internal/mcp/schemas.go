package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names
const (
	ToolSearchRepository = "search_repository"
	ToolIndexRepository  = "index_repository"
	ToolRepositoryStatus = "repository_status"
)

func repositoryProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Repository location: https/ssh URL, git@host:owner/repo, host/owner/repo, or a local path",
	}
}

func branchProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Branch to use (default: the repository's default branch)",
	}
}

func stringArrayProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items": map[string]interface{}{
			"type": "string",
		},
	}
}

// searchRepositoryTool returns the tool definition for search_repository
func searchRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name: ToolSearchRepository,
		Description: "Semantic search over a git repository branch. The branch is synchronized, chunked " +
			"and embedded as needed before the query runs.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty(),
				"branch":     branchProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language query",
				},
				"keywords": stringArrayProperty("Keep only results whose text contains at least one of these words (case-insensitive)"),
				"include":  stringArrayProperty("Glob patterns a result path must match, e.g. 'internal/**/*.go'"),
				"exclude":  stringArrayProperty("Glob patterns that reject a result path, e.g. '**/*_test.go'"),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"repository", "query"},
		},
	}
}

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolIndexRepository,
		Description: "Synchronize, chunk and embed a repository branch without running a query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty(),
				"branch":     branchProperty(),
			},
			Required: []string{"repository"},
		},
	}
}

// repositoryStatusTool returns the tool definition for repository_status
func repositoryStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolRepositoryStatus,
		Description: "Report the indexed branches of a repository with file and chunk counts",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": repositoryProperty(),
			},
			Required: []string{"repository"},
		},
	}
}
