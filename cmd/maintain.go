package cmd

import (
	"fmt"

	"github.com/ortelius/advisory-index/database"
	"github.com/ortelius/advisory-index/index"
	"github.com/ortelius/advisory-index/loader"
	"github.com/ortelius/advisory-index/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var strict bool

// lintCmd represents the lint command
var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check the advisories directory for data-quality problems",
	Long: `Loads the advisories directory, builds an index and reports every
warning: duplicate ids, invalid version ranges, malformed CVE lists and
records without a module name.`,
	Args: cobra.NoArgs,
	RunE: runLint,
}

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy the advisories directory into ArangoDB",
	Long: `Loads the advisories directory and upserts every record into the
ArangoDB advisory collection, keyed by advisory id.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(importCmd)
	lintCmd.Flags().BoolVar(&strict, "strict", false, "Exit with an error when any warning is reported")
}

func runLint(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := util.InitLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	records, err := loader.NewDir(cfg.AdvisoriesDir, logger).Load(cmd.Context())
	if err != nil {
		return err
	}

	idx, warnings := index.Build(records)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Loaded %d advisory(ies) for %d module(s) from %s\n", idx.Len(), len(idx.Modules()), cfg.AdvisoriesDir)
	if len(warnings) == 0 {
		fmt.Fprintln(w, "✓ No problems found")
		return nil
	}

	fmt.Fprintf(w, "\n%-18s %-40s %s\n", "KIND", "ID", "PROBLEM")
	fmt.Fprintln(w, tableRule)
	for _, warning := range warnings {
		fmt.Fprintf(w, "%-18s %-40s %s\n", warning.Kind, warning.ID, warning.Message)
	}

	if strict {
		return fmt.Errorf("%d problem(s) found", len(warnings))
	}
	return nil
}

func runImport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := util.InitLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	records, err := loader.NewDir(cfg.AdvisoriesDir, logger).Load(cmd.Context())
	if err != nil {
		return err
	}

	conn, err := database.Connect(cmd.Context(), cfg.Arango, logger)
	if err != nil {
		return err
	}

	written, err := database.Import(cmd.Context(), conn, records, logger)
	if err != nil {
		return err
	}

	logger.Info("Import finished", zap.Int("written", written), zap.String("database", cfg.Arango.Database))
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d advisory(ies) into %s/%s\n", written, cfg.Arango.Endpoint(), cfg.Arango.Database)
	return nil
}
