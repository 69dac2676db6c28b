package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giacomodamario/deliverydash/internal/core/db"
	"github.com/giacomodamario/deliverydash/internal/core/importer"
)

var importCmd = &cobra.Command{
	Use:   "import [platform]",
	Short: "Import downloaded files into the database",
	Long: `Scan the download directories and import every CSV not yet in the
database. Already-imported files are skipped by filename.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImportCmd,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImportCmd(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	platforms, err := resolvePlatforms(args)
	if err != nil {
		return err
	}

	database, err := db.New(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	imp := importer.New(database, a.log)
	for _, platformID := range platforms {
		dir := a.cfg.PlatformDownloadsDir(platformID)
		res, err := imp.ImportDir(platformID, dir)
		if err != nil {
			return fmt.Errorf("%s: %w", platformID, err)
		}
		fmt.Printf("%s: %d files imported, %d skipped, %d orders\n",
			platformID, res.FilesImported, res.FilesSkipped, res.OrdersImported)
	}
	return nil
}
