package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/repoctx-mcp/internal/mcp"
	"github.com/dshills/repoctx-mcp/internal/pipeline"
	"github.com/dshills/repoctx-mcp/internal/progress"
	"github.com/dshills/repoctx-mcp/internal/storage"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol; logs go to stderr.
			a, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			a.logger.Info("starting", "version", version, "build_time", buildTime)
			srv := mcp.NewServer(a.pipeline, a.cfg.MCP, version, a.logger)
			if err := srv.Serve(cmd.Context(), os.Stdin, os.Stdout); err != nil && cmd.Context().Err() == nil {
				return err
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
}

func newIndexCmd() *cobra.Command {
	var (
		branch string
		asJSON bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "index <repository>",
		Short: "Synchronize, chunk and embed a repository branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			resp, err := a.pipeline.Index(cmd.Context(), pipeline.IndexRequest{
				Repository: args[0],
				Branch:     branch,
			}, progressPrinter(cmd.ErrOrStderr(), quiet))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			renderIndex(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to index (default: the repository's default branch)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the response as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		req    pipeline.SearchRequest
		asJSON bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "search <repository> <query>",
		Short: "Index a repository branch as needed and run a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			req.Repository = args[0]
			req.Query = args[1]
			resp, err := a.pipeline.Search(cmd.Context(), req, progressPrinter(cmd.ErrOrStderr(), quiet))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			renderSearch(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Branch, "branch", "b", "", "branch to search (default: the repository's default branch)")
	cmd.Flags().StringSliceVarP(&req.Keywords, "keyword", "k", nil, "keep results containing any of these words")
	cmd.Flags().StringSliceVarP(&req.Include, "include", "i", nil, "glob patterns a result path must match")
	cmd.Flags().StringSliceVarP(&req.Exclude, "exclude", "x", nil, "glob patterns that reject a result path")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 0, "maximum number of results (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the response as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [repository]",
		Short: "Show what is indexed for a repository, or list indexed repositories",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if len(args) == 0 {
				repos, err := a.pipeline.Repositories(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), repos)
				}
				for _, r := range repos {
					fmt.Fprintln(cmd.OutOrStdout(), r)
				}
				return nil
			}

			status, err := a.pipeline.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			renderStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the response as JSON")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repoctx %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}

// progressPrinter writes progress lines to w, or returns nil when quiet.
func progressPrinter(w io.Writer, quiet bool) progress.Func {
	if quiet {
		return nil
	}
	last := ""
	return func(fraction float64, message string) {
		line := fmt.Sprintf("[%3.0f%%] %s", fraction*100, message)
		if line == last {
			return
		}
		last = line
		fmt.Fprintln(w, line)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
