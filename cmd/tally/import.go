package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tallyworks/tally/internal/importer"
	"github.com/tallyworks/tally/internal/types"
	"github.com/tallyworks/tally/pkg/logstream"
)

var (
	importBuffer      string
	importApply       bool
	importResolved    bool
	importPreferDesc  bool
	importPreferImage bool
	importIgnoreQty   bool
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Reconcile a CSV export against canonical state",
	Long: "Parse a delimited export, classify each row as new, match, identical or conflict, " +
		"and optionally append the resulting action batch to the log service.",
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importBuffer, "buffer", types.BufferShopify,
		"Staging buffer to use (shopify or orders)")
	importCmd.Flags().BoolVar(&importApply, "apply", false,
		"Append the computed batch to the log service instead of only reporting")
	importCmd.Flags().BoolVar(&importResolved, "resolved", false,
		"Process only rows with stored conflict resolutions")
	importCmd.Flags().BoolVar(&importPreferDesc, "prefer-description", false,
		"Adopt incoming descriptions over existing ones")
	importCmd.Flags().BoolVar(&importPreferImage, "prefer-images", false,
		"Adopt incoming images and add them to listing galleries")
	importCmd.Flags().BoolVar(&importIgnoreQty, "ignore-qty", false,
		"Skip quantity reconciliation")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := importer.Options{
		PreferIncomingDescription: cfg.Import.PreferIncomingDescription || importPreferDesc,
		PreferIncomingImages:      cfg.Import.PreferIncomingImages || importPreferImage,
		IgnoreQty:                 cfg.Import.IgnoreQty || importIgnoreQty,
	}

	tree, _, err := loadLocalState(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	buf := tree.Imports.Buffer(importBuffer)

	var staged string
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		staged = string(data)
		if buf.Text == "" {
			buf.Text = staged
		} else {
			buf.Text = strings.TrimRight(buf.Text, "\n") + "\n" + staged
		}
	}
	if strings.TrimSpace(buf.Text) == "" {
		return fmt.Errorf("nothing to import: staging buffer %q is empty and no file was given", importBuffer)
	}

	filter := importer.FilterAll
	if importResolved {
		filter = importer.FilterResolved
	}

	result := importer.ComputeBatch(buf, tree.Inventory, tree.Listings, filter, opts)

	if err := reportBatch(cmd, result); err != nil {
		return err
	}
	if !importApply {
		return nil
	}
	return applyBatch(cmd, cfg.Session.LogURL, cfg.Auth.APIKey, cfg.Session.Creator, staged, result)
}

func reportBatch(cmd *cobra.Command, result importer.Result) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Batch: %d updates, %d identical, %d conflicts, %d row errors, %d listing actions\n",
		len(result.Updates), len(result.Identical), len(result.Conflicts), len(result.Errors), len(result.Listings))

	if len(result.Conflicts) > 0 {
		w := newTabWriter(out)
		fmt.Fprintln(w, "ROW\tITEM\tCONFLICTING FIELDS")
		for _, c := range result.Conflicts {
			fmt.Fprintf(w, "%d\t%s\t%s\n", c.Row, c.Key, strings.Join(c.Fields, ", "))
		}
		w.Flush()
	}
	for _, e := range result.Errors {
		fmt.Fprintf(out, "row %d: %s\n", e.Row, e.Err)
	}
	return nil
}

// applyBatch stages the imported text (so processed-row bookkeeping
// lands in the shared buffer) and appends the batch to the log service.
func applyBatch(cmd *cobra.Command, logURL, apiKey, creator, staged string, result importer.Result) error {
	if logURL == "" {
		return fmt.Errorf("--apply needs session.log_url (or TALLY_LOG_URL) pointing at a running log service")
	}

	client, err := logstream.New(logstream.Config{BaseURL: logURL, APIKey: apiKey})
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("log service unreachable: %w", err)
	}

	var actions []types.Action
	if staged != "" {
		actions = append(actions, types.Action{
			Type:    types.ActionStageImportText,
			Payload: &types.StageImportText{Buffer: importBuffer, Text: staged},
			Creator: creator,
		})
	}
	actions = append(actions, result.Actions(importBuffer, creator)...)

	for _, a := range actions {
		if _, err := client.Append(ctx, a); err != nil {
			return fmt.Errorf("append %s: %w", a.Type, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Appended %d actions to %s\n", len(actions), logURL)
	return nil
}
