// Command code-import bulk loads influencer discount codes from gzipped CSV
// files. Codes repeated within a file, across files or already stored are
// skipped; the rest is inserted with COPY in a single transaction.
//
// Each file needs a header with at least code, influencer_id, type and
// value columns; min_purchase, max_uses and valid_until (YYYY-MM-DD) are
// optional.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/influencer-settlement/internal/domain/discount"
	"github.com/xenking/influencer-settlement/internal/storage/postgres"
)

func main() {
	var (
		dataDir       string
		pattern       string
		databaseURL   string
		timezone      string
		expectedCodes uint
		dryRun        bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing the code files")
	flag.StringVar(&pattern, "pattern", "codes*.csv.gz", "glob of code files inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&timezone, "timezone", "America/Argentina/Buenos_Aires", "business timezone of valid_until days")
	flag.UintVar(&expectedCodes, "expected-codes", 1_000_000, "expected number of stored codes, sizes the duplicate filter")
	flag.BoolVar(&dryRun, "dry-run", false, "validate files without inserting")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	rep, err := run(ctx, lg, filepath.Join(dataDir, pattern), databaseURL, timezone, expectedCodes, dryRun)
	if err != nil {
		lg.Fatal("Code import failed", zap.Error(err))
	}
	lg.Info("Code import completed",
		zap.Int("read", rep.Read),
		zap.Int("invalid", rep.Invalid),
		zap.Int("duplicate_in_file", rep.DuplicateFile),
		zap.Int("duplicate_across_files", rep.DuplicateFiles),
		zap.Int("existing", rep.Existing),
		zap.Int64("inserted", rep.Inserted),
		zap.Bool("dry_run", dryRun),
	)
}

func run(ctx context.Context, lg *zap.Logger, glob, databaseURL, timezone string, expectedCodes uint, dryRun bool) (Report, error) {
	paths, err := filepath.Glob(glob)
	if err != nil {
		return Report{}, errors.Wrap(err, "glob input files")
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Report{}, errors.Wrapf(err, "load timezone %q", timezone)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return Report{}, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return Report{}, errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewDiscountRepository(pool)
	im := &importer{
		store:         repo,
		builder:       discount.NewService(repo, loc),
		tx:            postgres.NewTxManager(pool),
		lg:            lg,
		expectedCodes: expectedCodes,
		dryRun:        dryRun,
	}
	lg.Info("Importing codes", zap.Strings("files", paths))
	return im.Run(ctx, paths)
}
