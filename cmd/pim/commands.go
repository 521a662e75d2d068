package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/pim/internal/api"
	"github.com/kalambet/pim/internal/catalog"
	"github.com/kalambet/pim/internal/config"
	"github.com/kalambet/pim/internal/inject"
	"github.com/kalambet/pim/internal/settings"
	"github.com/kalambet/pim/internal/storage"
)

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run or reset fragment assignment",
}

type runResult struct {
	inject.BatchResult
	Remaining int  `json:"remaining"`
	Shared    bool `json:"shared"`
}

func runBatch(ctx context.Context, client *apiClient, limit int) (runResult, error) {
	resp, err := client.post(ctx, "/batch/run", map[string]int{"limit": limit})
	if err != nil {
		return runResult{}, err
	}
	var res runResult
	if err := decodeJSON(resp, &res); err != nil {
		return runResult{}, err
	}
	return res, nil
}

// runUntilDone repeats batches until one processes nothing. It returns the
// accumulated counts.
func runUntilDone(ctx context.Context, client *apiClient, limit int, progress func(runResult)) (inject.BatchResult, error) {
	var total inject.BatchResult
	for {
		res, err := runBatch(ctx, client, limit)
		if err != nil {
			return total, err
		}
		if res.Processed == 0 {
			return total, nil
		}
		total.Processed += res.Processed
		total.Injected += res.Injected
		total.Existing += res.Existing
		total.Skipped += res.Skipped
		if progress != nil {
			progress(res)
		}
	}
}

var batchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Assign fragments to the next batch of unprocessed items",
	Long: `Assign fragments to the next batch of unprocessed items.

Examples:
  pim batch run
  pim batch run --limit 50
  pim batch run --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		all, _ := cmd.Flags().GetBool("all")
		if limit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if all {
			total, err := runUntilDone(ctx, client, limit, func(r runResult) {
				printStep("Processed %d, %d remaining", r.Processed, r.Remaining)
			})
			if err != nil {
				return err
			}
			printSuccess("Processed %d items: %d injected, %d existing, %d skipped",
				total.Processed, total.Injected, total.Existing, total.Skipped)
			return nil
		}

		res, err := runBatch(ctx, client, limit)
		if err != nil {
			return err
		}
		if res.Processed == 0 {
			printSuccess("Nothing to do: every item has been processed")
			return nil
		}
		printSuccess("Run %s processed %d items: %d injected, %d existing, %d skipped",
			res.RunID, res.Processed, res.Injected, res.Existing, res.Skipped)
		if res.Shared {
			printWarning("Result shared with a run that was already in progress")
		}
		if res.Remaining > 0 {
			printStatus("Remaining", "%d", res.Remaining)
		}
		return nil
	},
}

var batchResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every stored fragment and empty the processed set",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL injected fragments. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/batch/reset", map[string]string{"confirm": inject.ResetConfirmation})
		if err != nil {
			return err
		}
		var res storage.ResetResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Cleared %d fragments and %d processed entries", res.Fragments, res.Processed)
		return nil
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show processed and remaining counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/batch/status")
		if err != nil {
			return err
		}
		var st inject.Status
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		printInjectionStatus(st)
		return nil
	},
}

func printInjectionStatus(st inject.Status) {
	printStatus("Items", "%d", st.Total)
	printStatus("Processed", "%d", st.Processed)
	printStatus("Remaining", "%d", st.Remaining)
	printStatus("Injected", "%d", st.Injected)
	printStatus("Existing", "%d", st.Existing)
	printStatus("Skipped", "%d", st.Skipped)
}

var batchRequeueCmd = &cobra.Command{
	Use:   "requeue-skipped",
	Short: "Return skipped items to the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/batch/requeue-skipped", nil)
		if err != nil {
			return err
		}
		var res struct {
			Requeued int64 `json:"requeued"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Requeued %d skipped items", res.Requeued)
		return nil
	},
}

func init() {
	batchRunCmd.Flags().Int("limit", 0, "maximum items per batch (default from server config)")
	batchRunCmd.Flags().Bool("all", false, "repeat batches until every item is processed")
	batchResetCmd.Flags().Bool("confirm", false, "confirm the reset")
	batchCmd.AddCommand(batchRunCmd)
	batchCmd.AddCommand(batchResetCmd)
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchRequeueCmd)
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update the message template and interval",
}

type settingsResult struct {
	settings.Settings
	Warnings []string `json:"warnings"`
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/settings")
		if err != nil {
			return err
		}
		var s settingsResult
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}

		printStatus("Template", "%s", s.Template)
		printStatus("Interval", "%d", s.Interval)
		return nil
	},
}

// updateSettings reads the current settings and saves them with the
// changed fields replaced.
func updateSettings(ctx context.Context, client *apiClient, template *string, interval *int) (settingsResult, error) {
	resp, err := client.get(ctx, "/settings")
	if err != nil {
		return settingsResult{}, err
	}
	var cur settingsResult
	if err := decodeJSON(resp, &cur); err != nil {
		return settingsResult{}, err
	}

	next := cur.Settings
	if template != nil {
		next.Template = *template
	}
	if interval != nil {
		next.Interval = *interval
	}

	resp, err = client.put(ctx, "/settings", next)
	if err != nil {
		return settingsResult{}, err
	}
	var saved settingsResult
	if err := decodeJSON(resp, &saved); err != nil {
		return settingsResult{}, err
	}
	return saved, nil
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the template and/or interval",
	Long: `Update the template and/or interval.

The template may contain {category}, which is replaced by a link to the
item's category.

Examples:
  pim settings set --template "More in {category}"
  pim settings set --interval 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var template *string
		var interval *int
		if cmd.Flags().Changed("template") {
			v, _ := cmd.Flags().GetString("template")
			template = &v
		}
		if cmd.Flags().Changed("interval") {
			v, _ := cmd.Flags().GetInt("interval")
			interval = &v
		}
		if template == nil && interval == nil {
			return fmt.Errorf("one of --template or --interval is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		saved, err := updateSettings(cmd.Context(), client, template, interval)
		if err != nil {
			return err
		}
		for _, w := range saved.Warnings {
			printWarning("%s", w)
		}
		printSuccess("Saved template %q with interval %d", saved.Template, saved.Interval)
		return nil
	},
}

func init() {
	settingsSetCmd.Flags().String("template", "", "message template")
	settingsSetCmd.Flags().Int("interval", 0, "insert after every Nth paragraph")
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

// --- categories ---

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the category tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/categories"
		if root != "" {
			path += "?root=" + url.QueryEscape(root)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var nodes []api.CategoryNode
		if err := decodeJSON(resp, &nodes); err != nil {
			return err
		}

		if len(nodes) == 0 {
			fmt.Fprintln(stdout, "No categories found.")
			return nil
		}
		for _, n := range nodes {
			printCategory(n.Depth, n.ID, n.Name, n.Link)
		}
		return nil
	},
}

func init() {
	categoriesCmd.Flags().String("root", "", "list only the subtree below this category id")
}

// --- items ---

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Manage content items",
}

var itemsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace an item",
	Long: `Add or replace an item.

Examples:
  pim items add --title "Hello" --file ./hello.html --category news
  pim items add --id post-1 --title "Hello" --file ./hello.html --override featured`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		file, _ := cmd.Flags().GetString("file")
		cats, _ := cmd.Flags().GetStringSlice("category")
		override, _ := cmd.Flags().GetString("override")

		if title == "" {
			return fmt.Errorf("--title is required")
		}

		var markup string
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			markup = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"id":                id,
			"title":             title,
			"markup":            markup,
			"category_override": override,
		}
		if cmd.Flags().Changed("category") {
			req["categories"] = cats
		}
		resp, err := client.post(cmd.Context(), "/items", req)
		if err != nil {
			return err
		}
		var saved storage.Item
		if err := decodeJSON(resp, &saved); err != nil {
			return err
		}

		printSuccess("Saved item %s", saved.ID)
		return nil
	},
}

var itemsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single item as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/items/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var item any
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}
		return printJSON(item)
	},
}

var itemsOverrideCmd = &cobra.Command{
	Use:   "override <id> [category-id]",
	Short: "Set or clear an item's category override",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var categoryID string
		if len(args) == 2 {
			categoryID = args[1]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/items/"+url.PathEscape(args[0])+"/category",
			map[string]string{"category_id": categoryID})
		if err != nil {
			return err
		}
		var saved storage.Item
		if err := decodeJSON(resp, &saved); err != nil {
			return err
		}

		if categoryID == "" {
			printSuccess("Cleared override on %s", saved.ID)
		} else {
			printSuccess("Item %s now uses category %s", saved.ID, categoryID)
		}
		return nil
	},
}

func init() {
	itemsAddCmd.Flags().String("id", "", "item id (default: generated)")
	itemsAddCmd.Flags().String("title", "", "item title")
	itemsAddCmd.Flags().String("file", "", "HTML file with the item markup")
	itemsAddCmd.Flags().StringSlice("category", nil, "natural category ids, most specific first")
	itemsAddCmd.Flags().String("override", "", "category id that takes precedence over natural categories")
	itemsCmd.AddCommand(itemsAddCmd)
	itemsCmd.AddCommand(itemsShowCmd)
	itemsCmd.AddCommand(itemsOverrideCmd)
}

// --- render ---

var renderCmd = &cobra.Command{
	Use:   "render <id>",
	Short: "Print an item's markup with its fragment spliced in",
	Long: `Print an item's markup with its fragment spliced in.

With --file the fragment is spliced into the file's markup instead of the
stored markup.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		id := url.PathEscape(args[0])
		var out string
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			resp, err := client.postHTML(cmd.Context(), "/render/"+id, string(data))
			if err != nil {
				return err
			}
			out, err = readText(resp)
			if err != nil {
				return err
			}
		} else {
			resp, err := client.get(cmd.Context(), "/items/"+id+"/render")
			if err != nil {
				return err
			}
			out, err = readText(resp)
			if err != nil {
				return err
			}
		}

		fmt.Fprint(stdout, out)
		return nil
	},
}

func init() {
	renderCmd.Flags().String("file", "", "HTML file to splice into")
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <catalog.yaml>",
	Short: "Import categories and items from a YAML catalog",
	Long: `Import categories and items from a YAML catalog.

Example catalog:
  categories:
    - id: news
      name: News
    - id: local
      name: Local
      parent: news
  items:
    - id: post-1
      title: Council meets
      markup_file: posts/post-1.html
      categories: [local, news]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.LoadFile(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		nCats, nItems, err := importCatalog(cmd.Context(), client, cat)
		if err != nil {
			return err
		}
		printSuccess("Imported %d categories and %d items", nCats, nItems)
		return nil
	},
}

// importCatalog saves every category, parents first, then every item. It
// stops at the first failure.
func importCatalog(ctx context.Context, client *apiClient, cat *catalog.Catalog) (int, int, error) {
	for i, c := range cat.Categories {
		resp, err := client.post(ctx, "/categories", c)
		if err != nil {
			return i, 0, err
		}
		var saved storage.Category
		if err := decodeJSON(resp, &saved); err != nil {
			return i, 0, fmt.Errorf("category %s: %w", c.ID, err)
		}
	}

	for i, it := range cat.Items {
		categories := it.Categories
		if categories == nil {
			categories = []string{}
		}
		req := map[string]any{
			"id":                it.ID,
			"title":             it.Title,
			"markup":            it.Markup,
			"categories":        categories,
			"category_override": it.CategoryOverride,
		}
		resp, err := client.post(ctx, "/items", req)
		if err != nil {
			return len(cat.Categories), i, err
		}
		var saved storage.Item
		if err := decodeJSON(resp, &saved); err != nil {
			return len(cat.Categories), i, fmt.Errorf("item %s: %w", it.ID, err)
		}
	}
	return len(cat.Categories), len(cat.Items), nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "  %s\n", colorize(colorCyan, config.ConfigFilePath()))
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
