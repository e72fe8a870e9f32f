// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/scholar-gateway/internal/source"
	"github.com/pdiddy/scholar-gateway/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search academic APIs for candidate papers",
	Long: `Search queries every enabled academic API (arXiv, DBLP, Semantic Scholar,
Crossref, OpenAlex) for papers matching a research question or structured
query parameters. Each source is queried within its rate contract; a failing
source is reported and the remaining results stand.

Responses are cached, so repeating a query inside the cache TTL spends no
request quota.`,
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query, err := queryFromFlags(cmd, args)
	if err != nil {
		return err
	}

	reg, cfg, logger, err := newRegistry(cmd)
	if err != nil {
		return err
	}
	defer reg.Close()
	defer logger.Sync()

	if maxResults, _ := cmd.Flags().GetInt("max-results"); maxResults > 0 {
		cfg.Search.MaxResults = maxResults
	}

	sources := reg.Sources()
	if only, _ := cmd.Flags().GetStringSlice("source"); len(only) > 0 {
		sources, err = filterSources(sources, only)
		if err != nil {
			return err
		}
	}

	logger.Debug("running search",
		zap.String("query", query.FreeText),
		zap.Int("sources", len(sources)))

	out, err := source.SearchAll(cmd.Context(), query, sources, cfg.Search, reg.Cache(), os.Stderr)
	if err != nil {
		return err
	}

	if savePath, _ := cmd.Flags().GetString("save"); savePath != "" {
		if err := saveResults(savePath, query, out); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved results to %s\n", savePath)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if err := formatSearchOutput(out, jsonOutput); err != nil {
		return err
	}

	if len(out.Errors) > 0 && out.TotalResults() == 0 {
		return fmt.Errorf("all sources failed")
	}
	return nil
}

func queryFromFlags(cmd *cobra.Command, args []string) (types.Query, error) {
	freeText, _ := cmd.Flags().GetString("query")
	if freeText == "" && len(args) > 0 {
		freeText = strings.Join(args, " ")
	}
	author, _ := cmd.Flags().GetString("author")
	keywordsFlag, _ := cmd.Flags().GetString("keywords")

	query := types.Query{FreeText: freeText, Author: author}
	for _, kw := range strings.Split(keywordsFlag, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			query.Keywords = append(query.Keywords, kw)
		}
	}

	if from, _ := cmd.Flags().GetString("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return types.Query{}, fmt.Errorf("invalid --from date %q: use YYYY-MM-DD", from)
		}
		query.DateFrom = t
	}
	if to, _ := cmd.Flags().GetString("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return types.Query{}, fmt.Errorf("invalid --to date %q: use YYYY-MM-DD", to)
		}
		query.DateTo = t
	}

	return query, nil
}

func filterSources(all []source.Source, only []string) ([]source.Source, error) {
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[strings.TrimSpace(name)] = true
	}

	var out []source.Source
	for _, s := range all {
		if wanted[s.Name()] {
			out = append(out, s)
			delete(wanted, s.Name())
		}
	}
	for name := range wanted {
		return nil, fmt.Errorf("unknown or disabled source %q", name)
	}
	return out, nil
}

func formatSearchOutput(out source.Output, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Sources []source.SourceResults `json:"sources"`
			Errors  []string               `json:"errors,omitempty"`
		}{out.Sources, out.Errors})
	}

	if out.TotalResults() == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-18s  %-30s  %-50s  %-10s  %s\n",
		"Source", "Identifier", "Title", "Date", "Venue")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 120))

	for _, sr := range out.Sources {
		for _, r := range sr.Results {
			title := r.Title
			if len(title) > 50 {
				title = title[:47] + "..."
			}
			id := r.Identifier
			if len(id) > 30 {
				id = id[:27] + "..."
			}
			date := ""
			if !r.Date.IsZero() {
				date = r.Date.Format("2006-01-02")
			}
			fmt.Fprintf(os.Stdout, "%-18s  %-30s  %-50s  %-10s  %s\n",
				sr.Source, id, title, date, r.Venue)
		}
	}

	fmt.Fprintf(os.Stdout, "\n%d results from %d source(s)\n", out.TotalResults(), len(out.Sources))
	return nil
}

// savedSearch is the YAML record written by --save.
type savedSearch struct {
	Query       types.Query            `yaml:"query"`
	RetrievedAt time.Time              `yaml:"retrieved_at"`
	Sources     []source.SourceResults `yaml:"sources"`
	Errors      []string               `yaml:"errors,omitempty"`
}

func saveResults(path string, query types.Query, out source.Output) error {
	data, err := yaml.Marshal(savedSearch{
		Query:       query,
		RetrievedAt: time.Now().UTC(),
		Sources:     out.Sources,
		Errors:      out.Errors,
	})
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func init() {
	searchCmd.Flags().String("query", "", "free-text research question")
	searchCmd.Flags().String("author", "", "filter by author name")
	searchCmd.Flags().String("keywords", "", "filter by keywords (comma-separated)")
	searchCmd.Flags().String("from", "", "publication date range start (YYYY-MM-DD)")
	searchCmd.Flags().String("to", "", "publication date range end (YYYY-MM-DD)")
	searchCmd.Flags().Int("max-results", 0, "maximum results per source (0 = config default)")
	searchCmd.Flags().StringSlice("source", nil, "restrict to the named sources (default: all enabled)")
	searchCmd.Flags().Bool("json", false, "output results as JSON")
	searchCmd.Flags().String("save", "", "write results to a YAML file")

	rootCmd.AddCommand(searchCmd)
}
