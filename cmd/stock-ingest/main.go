package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/stock"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	restockBatch  = 500
)

// fileResult holds the quantities read from one feed file.
type fileResult struct {
	totals  map[string]int
	lines   uint64
	skipped uint64
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing stock feed files")
	flag.StringVar(&pattern, "pattern", "stock*.gz", "glob of feed files inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, filepath.Join(dataDir, pattern), databaseURL); err != nil {
		slog.Error("stock ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("stock ingest completed successfully")
}

func run(ctx context.Context, glob, databaseURL string) error {
	files, err := filepath.Glob(glob)
	if err != nil {
		return errors.Wrapf(err, "glob %s", glob)
	}
	if len(files) == 0 {
		return errors.Errorf("no feed files match %s", glob)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	products := postgres.NewProductRepository(pool)
	catalog, err := products.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list catalog")
	}
	filter := catalogFilter(catalog)
	slog.Info("catalog filter built", slog.Int("products", len(catalog)))

	totals, err := readFeeds(ctx, files, filter)
	if err != nil {
		return errors.Wrap(err, "read feeds")
	}
	if len(totals) == 0 {
		slog.Info("no stock to apply")
		return nil
	}

	lines, err := confirmKnown(ctx, products, totals)
	if err != nil {
		return err
	}
	return applyRestock(ctx, postgres.NewStockReserver(pool), lines)
}

// catalogFilter holds every catalog product ID. Feed lines whose ID tests
// negative are dropped without a database lookup.
func catalogFilter(catalog []product.Product) *bloom.BloomFilter {
	filter := bloom.NewWithEstimates(uint(max(len(catalog), 1)), bloomFPR)
	for _, p := range catalog {
		filter.AddString(p.ID)
	}
	return filter
}

// readFeeds reads every file concurrently and sums quantities per product.
func readFeeds(ctx context.Context, files []string, filter *bloom.BloomFilter) (map[string]int, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			res, err := readFeed(ctx, f, filter)
			if err != nil {
				return errors.Wrapf(err, "read %s", f)
			}
			slog.Info("feed read",
				slog.String("file", f),
				slog.Uint64("lines", res.lines),
				slog.Uint64("skipped", res.skipped),
				slog.Int("products", len(res.totals)),
			)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]int)
	for _, r := range results {
		for id, qty := range r.totals {
			merged[id] += qty
		}
	}
	return merged, nil
}

func readFeed(ctx context.Context, path string, filter *bloom.BloomFilter) (fileResult, error) {
	res := fileResult{totals: make(map[string]int)}
	err := streamGzFile(ctx, path, func(line string) {
		res.lines++
		if res.lines%progressEvery == 0 {
			slog.Info("feed progress", slog.String("file", path), slog.Uint64("lines", res.lines))
		}
		id, qty, ok := parseLine(line)
		if !ok || !filter.TestString(id) {
			res.skipped++
			return
		}
		res.totals[id] += qty
	})
	return res, err
}

// parseLine parses "productId,quantity". Blank lines, comments and
// non-positive quantities are rejected.
func parseLine(line string) (id string, qty int, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", 0, false
	}
	id, rawQty, found := strings.Cut(line, ",")
	if !found {
		return "", 0, false
	}
	id = strings.TrimSpace(id)
	qty, err := strconv.Atoi(strings.TrimSpace(rawQty))
	if err != nil || id == "" || qty <= 0 {
		return "", 0, false
	}
	return id, qty, true
}

// confirmKnown drops bloom false positives by looking the candidates up.
func confirmKnown(ctx context.Context, products product.Repository, totals map[string]int) ([]stock.Line, error) {
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	known, err := products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "look up products")
	}

	lines := make([]stock.Line, 0, len(known))
	for _, p := range known {
		lines = append(lines, stock.Line{ProductID: p.ID, Quantity: totals[p.ID]})
	}
	if dropped := len(ids) - len(lines); dropped > 0 {
		slog.Info("dropped unknown products", slog.Int("count", dropped))
	}
	return lines, nil
}

func applyRestock(ctx context.Context, reserver stock.Reserver, lines []stock.Line) error {
	slog.Info("applying restock", slog.Int("products", len(lines)))

	for batch := range slices.Chunk(lines, restockBatch) {
		if err := reserver.Restock(ctx, batch); err != nil {
			return errors.Wrap(err, "restock")
		}
		slog.Info("restock progress", slog.Int("products", len(batch)))
	}
	return nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
