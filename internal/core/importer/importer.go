// Package importer moves downloaded invoice files into the database.
// Files are idempotent units: a file is either fully imported and logged,
// or skipped. Re-running the importer over the same directory is safe.
package importer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/giacomodamario/deliverydash/internal/core/db"
	"github.com/giacomodamario/deliverydash/pkg/orders"
)

// Importer imports parsed invoices for one or more platforms.
type Importer struct {
	db  *db.DB
	log zerolog.Logger
}

// New creates an importer.
func New(database *db.DB, log zerolog.Logger) *Importer {
	return &Importer{db: database, log: log}
}

// Result summarizes one importer pass.
type Result struct {
	FilesImported  int
	FilesSkipped   int
	OrdersImported int
}

// ImportDir imports every new CSV in a platform's download directory.
// Individual file failures are logged and skipped; a broken export must
// never wedge the pipeline for the files behind it.
func (i *Importer) ImportDir(platform, dir string) (Result, error) {
	var res Result

	parser, err := orders.ForPlatform(platform)
	if err != nil {
		return res, err
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		i.log.Warn().Str("dir", dir).Msg("downloads directory not found")
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read downloads directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	for _, name := range files {
		imported, err := i.db.IsImported(name)
		if err != nil {
			return res, fmt.Errorf("check import log: %w", err)
		}
		if imported {
			res.FilesSkipped++
			continue
		}

		n, err := i.importFile(parser, platform, filepath.Join(dir, name))
		if err != nil {
			i.log.Error().Err(err).Str("file", name).Msg("import failed, skipping file")
			continue
		}
		res.FilesImported++
		res.OrdersImported += n
		i.log.Info().Str("file", name).Int("orders", n).Msg("file imported")
	}

	return res, nil
}

// importFile parses and imports one file in a single transaction.
func (i *Importer) importFile(parser orders.Parser, platform, path string) (int, error) {
	inv, err := parser.Parse(path)
	if err != nil {
		return 0, err
	}
	for _, e := range inv.Errors {
		i.log.Warn().Str("file", filepath.Base(path)).Msg(e)
	}
	if len(inv.Orders) == 0 {
		return 0, fmt.Errorf("no orders found in file")
	}

	tx, err := i.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	brandName := inv.RestaurantName
	if brandName == "" {
		brandName = "Unknown"
	}
	brandID, err := db.GetOrCreateBrand(tx, brandName)
	if err != nil {
		return 0, fmt.Errorf("brand: %w", err)
	}
	locationID, err := db.GetOrCreateLocation(tx, brandID, brandName, platform)
	if err != nil {
		return 0, fmt.Errorf("location: %w", err)
	}

	imported := 0
	for _, o := range inv.Orders {
		inserted, err := db.InsertOrder(tx, locationID, o)
		if err != nil {
			return 0, err
		}
		if inserted {
			imported++
		}
	}

	if err := db.RecordImport(tx, filepath.Base(path), platform, imported); err != nil {
		return 0, fmt.Errorf("record import: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return imported, nil
}
