package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/foldermcp/foldermcp/internal/config"
	"github.com/foldermcp/foldermcp/internal/daemon"
	"github.com/foldermcp/foldermcp/internal/output"
	"github.com/foldermcp/foldermcp/internal/validation"
	"github.com/foldermcp/foldermcp/pkg/client"
)

// searchSnippetLimit caps how much of each matched chunk the terminal
// rendering shows.
const searchSnippetLimit = 200

func newSearchCmd() *cobra.Command {
	var folder string
	var document string
	var extensions []string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a folder's index",
		Long: `Search one registered folder's index with a natural-language query.

--folder may be omitted when exactly one folder is registered. Queries
run against the daemon, so results reflect the live index.`,
		Example: `  foldermcp search "error handling in the upload path"
  foldermcp search "quarterly targets" --folder ~/Documents/finance --ext .xlsx
  foldermcp search "deploy" --document runbooks/ --limit 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, folder, document, extensions, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", "", "Folder to search (default: the only registered folder)")
	cmd.Flags().StringVarP(&document, "document", "d", "", "Restrict to documents under this relative path")
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "Restrict to these file extensions")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (default: server setting)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query, folder, document string, extensions []string, limit int, jsonOutput bool) error {
	if err := validation.Query(query); err != nil {
		return &usageError{err: err}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli := newDaemonClient(cfg)

	if folder != "" {
		folder, err = validation.NormalizePath(folder)
		if err != nil {
			return &usageError{err: err}
		}
	} else {
		folder, err = resolveOnlyFolder(ctx, cli)
		if err != nil {
			return err
		}
	}

	res, err := cli.Search(ctx, daemon.SearchParams{
		Folder:     folder,
		Query:      query,
		Document:   document,
		Extensions: extensions,
		MaxResults: limit,
	})
	if err != nil {
		if client.IsFolderNotReady(err) {
			return fmt.Errorf("folder is still indexing; check 'foldermcp status' and retry")
		}
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	renderSearchResult(output.New(cmd.OutOrStdout()), res)
	return nil
}

// resolveOnlyFolder returns the single registered folder, or a usage error
// naming the candidates when the choice is ambiguous.
func resolveOnlyFolder(ctx context.Context, cli *client.Client) (string, error) {
	folders, err := cli.ListFolders(ctx)
	if err != nil {
		return "", err
	}
	switch len(folders) {
	case 0:
		return "", usagef("no folders are registered; add one with 'foldermcp add <path>'")
	case 1:
		return folders[0].Path, nil
	default:
		paths := make([]string, len(folders))
		for i, f := range folders {
			paths[i] = f.Path
		}
		sort.Strings(paths)
		return "", usagef("multiple folders are registered, pick one with --folder: %s", strings.Join(paths, ", "))
	}
}

func renderSearchResult(out *output.Writer, res daemon.SearchResult) {
	r := res.Result
	if r == nil || len(r.Matches) == 0 {
		out.Status("", "No matches")
		if r != nil && r.Reason != "" {
			out.Statusf("", "  (%s)", r.Reason)
		}
		return
	}

	if r.Fallback != "" {
		out.Warningf("Fell back to %s search: %s", r.Fallback, r.Reason)
	}

	for i, m := range r.Matches {
		loc := m.Chunk.DocumentPath
		if m.Chunk.Page != nil {
			loc += fmt.Sprintf(" (page %d)", *m.Chunk.Page)
		} else if m.Chunk.StartLine > 0 {
			loc += fmt.Sprintf(":%d-%d", m.Chunk.StartLine, m.Chunk.EndLine)
		}
		out.Statusf("", "%2d. %s  [%.3f]", i+1, loc, m.Score)

		snippet := strings.Join(strings.Fields(m.Chunk.Content), " ")
		if len(snippet) > searchSnippetLimit {
			snippet = snippet[:searchSnippetLimit] + "…"
		}
		out.Statusf("", "    %s", snippet)
	}

	out.Newline()
	out.Statusf("", "%d match(es), %s path, %s", len(r.Matches), r.QueryType, r.Elapsed.Round(time.Millisecond))
	if r.Truncated {
		out.Status("", "Results were truncated by the response budget")
	}
}
