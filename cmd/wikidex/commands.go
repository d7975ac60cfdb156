package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync <space-key>",
	Short: "Synchronize a knowledge space into the vector index",
	Long: `Synchronize a knowledge space into the vector index.

Examples:
  wikidex sync ENG
  wikidex sync ENG --full`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spaceKey := args[0]
		full, _ := cmd.Flags().GetBool("full")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Syncing space %s...", spaceKey)
		resp, err := client.post(cmd.Context(), "/v1/sync", map[string]any{
			"space_key": spaceKey,
			"full_sync": full,
		})
		if err != nil {
			return err
		}

		var result struct {
			PagesProcessed int      `json:"pages_processed"`
			PagesFailed    []string `json:"pages_failed"`
			PagesSkipped   int      `json:"pages_skipped"`
			ChunksUpserted int      `json:"chunks_upserted"`
			ChunksDeleted  int      `json:"chunks_deleted"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Synced %s: %d pages processed, %d skipped, %d chunks upserted, %d deleted",
			spaceKey, result.PagesProcessed, result.PagesSkipped, result.ChunksUpserted, result.ChunksDeleted)
		if len(result.PagesFailed) > 0 {
			printWarning("%d pages failed: %s", len(result.PagesFailed), strings.Join(result.PagesFailed, ", "))
		}
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed knowledge base",
	Long: `Search the indexed knowledge base.

Examples:
  wikidex search "deploy runbook" --space ENG
  wikidex search "vacation policy" --space HR --top-k 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		spaceKey, _ := cmd.Flags().GetString("space")
		topK, _ := cmd.Flags().GetInt("top-k")

		if spaceKey == "" {
			return fmt.Errorf("--space is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/search", map[string]any{
			"query":     query,
			"space_key": spaceKey,
			"top_k":     topK,
		})
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				Text         string  `json:"text"`
				Score        float64 `json:"score"`
				PageTitle    string  `json:"page_title"`
				PageURL      string  `json:"page_url"`
				LastModified string  `json:"last_modified"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			printWarning("No results for %q in %s", query, spaceKey)
			return nil
		}

		for i, r := range result.Results {
			fmt.Printf("%s %s\n", colorize(colorBold, fmt.Sprintf("%d. %s", i+1, r.PageTitle)),
				colorize(colorCyan, fmt.Sprintf("(score %.3f)", r.Score)))
			fmt.Printf("   %s\n", r.PageURL)
			fmt.Printf("   %s\n\n", snippet(r.Text, 240))
		}
		return nil
	},
}

// snippet trims a passage to at most max runes for terminal display.
func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

// --- spaces ---

var spacesCmd = &cobra.Command{
	Use:   "spaces",
	Short: "List knowledge spaces and their synced page counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/spaces")
		if err != nil {
			return err
		}

		var spaces []struct {
			SpaceKey  string `json:"space_key"`
			Name      string `json:"name"`
			PageCount int    `json:"page_count"`
		}
		if err := decodeJSON(resp, &spaces); err != nil {
			return err
		}

		if len(spaces) == 0 {
			printWarning("No spaces found")
			return nil
		}
		for _, sp := range spaces {
			fmt.Printf("%s  %s (%d pages synced)\n", colorize(colorBold, sp.SpaceKey), sp.Name, sp.PageCount)
		}
		return nil
	},
}

// --- recent ---

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently updated wiki pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/recent?days=%d&limit=%d", days, limit))
		if err != nil {
			return err
		}

		var updates []struct {
			Title        string `json:"title"`
			URL          string `json:"url"`
			LastModified string `json:"last_modified"`
		}
		if err := decodeJSON(resp, &updates); err != nil {
			return err
		}

		if len(updates) == 0 {
			printWarning("No pages updated in the last %d days", days)
			return nil
		}
		for _, u := range updates {
			fmt.Printf("%s  %s\n   %s\n", colorize(colorCyan, u.LastModified), colorize(colorBold, u.Title), u.URL)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("full", false, "re-process every page regardless of version")
	searchCmd.Flags().String("space", "", "knowledge space key to search")
	searchCmd.Flags().Int("top-k", 0, "maximum number of results (server default if 0)")
	recentCmd.Flags().Int("days", 7, "look-back window in days")
	recentCmd.Flags().Int("limit", 20, "maximum number of pages")
}
