// Command cargo-ingest bulk-loads carrier tracking event dumps into the
// cargo_tracking table.
//
// Carriers publish daily gzipped NDJSON dumps that overlap heavily: the same
// event appears in several consecutive dumps. Loading them naively hammers
// the database with conflicting inserts. The tool makes two passes: pass 1
// builds one bloom filter of event IDs per dump file, pass 2 streams each
// file again and skips events already present in an earlier dump. A bloom
// false positive may skip a genuinely new event; carriers re-send events in
// the next dump, and the ON CONFLICT backstop keeps the table consistent
// either way.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderflow/internal/repository"
)

const (
	bloomCapacity = 20_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	batchSize     = 500
)

// dumpEvent is one line of a carrier NDJSON dump.
type dumpEvent struct {
	EventID        string    `json:"event_id"`
	TrackingNumber string    `json:"tracking_number"`
	Status         string    `json:"status"`
	Description    string    `json:"description"`
	Location       string    `json:"location"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func main() {
	var (
		dataDir     string
		databaseURL string
		source      string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing carrier dump .gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&source, "source", "bulk_import", "source label stored on ingested entries")
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

	if err := run(ctx, dataDir, databaseURL, source); err != nil {
		slog.Error("cargo ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("cargo ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL, source string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list dump files")
	}
	if len(files) == 0 {
		return errors.Errorf("no .gz dump files in %s", dataDir)
	}
	sort.Strings(files)

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("pass 2: loading events")

	ing := &ingester{
		pool:    pool,
		source:  source,
		cargoID: make(map[string]string),
	}
	for i, f := range files {
		if err := ing.loadFile(ctx, i, f, filters); err != nil {
			return errors.Wrapf(err, "load file %s", f)
		}
	}

	slog.Info("ingest summary",
		slog.Int64("inserted", ing.inserted),
		slog.Int64("cross_dump_duplicates", ing.duplicates),
		slog.Int64("unknown_tracking_numbers", ing.unknown),
		slog.Int64("malformed_lines", ing.malformed),
	)
	return nil
}

// buildBloomFilters creates one bloom filter of event IDs per file,
// concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(line []byte) error {
			var ev dumpEvent
			if err := json.Unmarshal(line, &ev); err != nil || ev.EventID == "" {
				return nil // counted and reported in pass 2
			}
			filter.AddString(ev.EventID)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.Int("file", idx+1),
					slog.Uint64("events", count),
				)
			}
			return nil
		}); err != nil {
			return errors.Wrapf(err, "build filter for file %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_events", count),
		)

		filters[idx] = filter
		return nil
	}
}

type ingester struct {
	pool   *pgxpool.Pool
	source string

	// cargoID caches tracking number -> cargo ID lookups across files.
	cargoID map[string]string

	inserted   int64
	duplicates int64
	unknown    int64
	malformed  int64
}

// loadFile streams one dump and inserts events not present in any earlier
// dump. Inserts are batched; the ON CONFLICT clause absorbs within-file
// repeats and events already loaded by a previous run.
func (g *ingester) loadFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) error {
	batch := &pgx.Batch{}
	var count uint64

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		br := g.pool.SendBatch(ctx, batch)
		defer func() { _ = br.Close() }()
		for range batch.Len() {
			tag, err := br.Exec()
			if err != nil {
				return errors.Wrap(err, "exec batch")
			}
			g.inserted += tag.RowsAffected()
		}
		batch = &pgx.Batch{}
		return nil
	}

	err := streamGzFile(ctx, path, func(line []byte) error {
		count++
		if count%progressEvery == 0 {
			slog.Info("pass 2 progress",
				slog.Int("file", idx+1),
				slog.Uint64("events", count),
			)
		}

		var ev dumpEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.EventID == "" || ev.Status == "" {
			g.malformed++
			return nil
		}

		// Skip events an earlier dump already carried.
		for j := range idx {
			if filters[j].TestString(ev.EventID) {
				g.duplicates++
				return nil
			}
		}

		cargoID, err := g.resolveCargo(ctx, ev.TrackingNumber)
		if err != nil {
			return err
		}
		if cargoID == "" {
			g.unknown++
			return nil
		}

		recordedAt := ev.OccurredAt
		if recordedAt.IsZero() {
			recordedAt = time.Now()
		}

		batch.Queue(`
			INSERT INTO cargo_tracking (id, cargo_id, status, description, location, notes, source, recorded_at)
			VALUES ($1, $2, $3, $4, $5, '', $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			eventRowID(ev.EventID), cargoID, ev.Status, ev.Description, ev.Location, g.source, recordedAt,
		)
		if batch.Len() >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("pass 2 complete",
		slog.Int("file", idx+1),
		slog.Uint64("total_events", count),
	)
	return nil
}

// resolveCargo maps a carrier tracking number to the cargo it belongs to.
// Unknown tracking numbers are cached as empty so each is looked up once.
func (g *ingester) resolveCargo(ctx context.Context, trackingNumber string) (string, error) {
	if trackingNumber == "" {
		return "", nil
	}
	if id, ok := g.cargoID[trackingNumber]; ok {
		return id, nil
	}

	var id string
	err := g.pool.QueryRow(ctx,
		`SELECT id FROM cargo WHERE tracking_number = $1`, trackingNumber,
	).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		id = ""
	case err != nil:
		return "", errors.Wrapf(err, "resolve tracking number %s", trackingNumber)
	}

	g.cargoID[trackingNumber] = id
	return id, nil
}

// eventRowID derives a stable row ID from the carrier event ID, so re-running
// the tool over the same dumps is idempotent.
func eventRowID(eventID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("cargo-event:"+eventID)).String()
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
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
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
