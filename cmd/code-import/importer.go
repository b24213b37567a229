package main

import (
	"context"
	"encoding/csv"
	"io"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/influencer-settlement/internal/domain/discount"
	"github.com/xenking/influencer-settlement/internal/domain/txn"
)

const (
	bloomFPR  = 0.001
	batchSize = 5000
	// maxFiles is bounded by the width of the per-code file bitmask.
	maxFiles = 64
)

var columns = []string{"code", "influencer_id", "type", "value", "min_purchase", "max_uses", "valid_until"}

// codeStore is the part of the discount repository the importer needs.
type codeStore interface {
	ExistingCodes(ctx context.Context, fn func(code string)) error
	FindByCode(ctx context.Context, code string) (*discount.Code, error)
	BulkCreate(ctx context.Context, codes []discount.Code) (int64, error)
}

// codeBuilder validates one CSV record into a code.
type codeBuilder interface {
	Build(in discount.CreateInput) (*discount.Code, error)
}

// Report summarizes one import run.
type Report struct {
	Read           int
	Invalid        int
	DuplicateFile  int
	DuplicateFiles int
	Existing       int
	Inserted       int64
}

type importer struct {
	store         codeStore
	builder       codeBuilder
	tx            txn.Manager
	lg            *zap.Logger
	expectedCodes uint
	dryRun        bool
}

// fileCodes holds the valid codes of one file and a filter over them.
type fileCodes struct {
	path   string
	codes  []*discount.Code
	filter *bloom.BloomFilter
}

func (im *importer) Run(ctx context.Context, paths []string) (Report, error) {
	var rep Report
	if len(paths) == 0 {
		return rep, errors.New("no input files")
	}
	if len(paths) > maxFiles {
		return rep, errors.Errorf("at most %d files per run, got %d", maxFiles, len(paths))
	}

	files, err := im.readAll(ctx, paths, &rep)
	if err != nil {
		return rep, err
	}

	crossFile := duplicatedAcrossFiles(files)
	rep.DuplicateFiles = len(crossFile)
	for code := range crossFile {
		im.lg.Warn("Code present in several files, skipped", zap.String("code", code))
	}

	existing, err := im.existingFilter(ctx)
	if err != nil {
		return rep, err
	}

	var accepted []discount.Code
	for _, f := range files {
		for _, c := range f.codes {
			if _, dup := crossFile[c.Code]; dup {
				continue
			}
			if existing.TestString(c.Code) {
				found, err := im.exists(ctx, c.Code)
				if err != nil {
					return rep, err
				}
				if found {
					rep.Existing++
					im.lg.Warn("Code already exists, skipped", zap.String("code", c.Code), zap.String("file", f.path))
					continue
				}
			}
			accepted = append(accepted, *c)
		}
	}

	if im.dryRun || len(accepted) == 0 {
		return rep, nil
	}
	if err := im.tx.RunInTx(ctx, func(ctx context.Context) error {
		for start := 0; start < len(accepted); start += batchSize {
			end := min(start+batchSize, len(accepted))
			n, err := im.store.BulkCreate(ctx, accepted[start:end])
			if err != nil {
				return errors.Wrapf(err, "insert batch at %d", start)
			}
			rep.Inserted += n
			im.lg.Info("Batch inserted", zap.Int64("total", rep.Inserted), zap.Int("of", len(accepted)))
		}
		return nil
	}); err != nil {
		rep.Inserted = 0
		return rep, err
	}
	return rep, nil
}

// readAll parses every file concurrently.
func (im *importer) readAll(ctx context.Context, paths []string, rep *Report) ([]fileCodes, error) {
	files := make([]fileCodes, len(paths))
	stats := make([]Report, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			f, err := im.readFile(ctx, path, &stats[i])
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, s := range stats {
		rep.Read += s.Read
		rep.Invalid += s.Invalid
		rep.DuplicateFile += s.DuplicateFile
	}
	return files, nil
}

func (im *importer) readFile(ctx context.Context, path string, rep *Report) (fileCodes, error) {
	out := fileCodes{path: path}

	f, err := os.Open(path)
	if err != nil {
		return out, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return out, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return out, errors.Wrap(err, "read header")
	}
	index, err := columnIndex(header)
	if err != nil {
		return out, err
	}

	seen := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, errors.Wrap(err, "read record")
		}
		rep.Read++
		line, _ := r.FieldPos(0)

		in, err := parseRecord(record, index)
		if err != nil {
			rep.Invalid++
			im.lg.Warn("Invalid record, skipped", zap.String("file", path), zap.Int("line", line), zap.Error(err))
			continue
		}
		c, err := im.builder.Build(in)
		if err != nil {
			rep.Invalid++
			im.lg.Warn("Invalid code, skipped", zap.String("file", path), zap.Int("line", line), zap.Error(err))
			continue
		}
		if _, dup := seen[c.Code]; dup {
			rep.DuplicateFile++
			im.lg.Warn("Code repeated in file, skipped", zap.String("file", path), zap.Int("line", line), zap.String("code", c.Code))
			continue
		}
		seen[c.Code] = struct{}{}
		out.codes = append(out.codes, c)
	}

	out.filter = bloom.NewWithEstimates(uint(max(len(out.codes), 1)), bloomFPR)
	for _, c := range out.codes {
		out.filter.AddString(c.Code)
	}
	im.lg.Info("File read", zap.String("file", path), zap.Int("codes", len(out.codes)))
	return out, nil
}

// duplicatedAcrossFiles returns the codes present in two or more files.
// Each code is first tested against the other files' filters and only codes
// flagged from at least two files are reported, which removes false
// positives of a single filter.
func duplicatedAcrossFiles(files []fileCodes) map[string]struct{} {
	masks := make(map[string]uint64)
	for i, f := range files {
		bit := uint64(1) << uint(i)
		for _, c := range f.codes {
			for j, other := range files {
				if j != i && other.filter.TestString(c.Code) {
					masks[c.Code] |= bit
					break
				}
			}
		}
	}

	dups := make(map[string]struct{})
	for code, mask := range masks {
		if bits.OnesCount64(mask) >= 2 {
			dups[code] = struct{}{}
		}
	}
	return dups
}

// existingFilter loads every stored code into a bloom filter. Positives are
// confirmed with exists.
func (im *importer) existingFilter(ctx context.Context) (*bloom.BloomFilter, error) {
	filter := bloom.NewWithEstimates(max(im.expectedCodes, 1), bloomFPR)
	var n int
	if err := im.store.ExistingCodes(ctx, func(code string) {
		filter.AddString(code)
		n++
	}); err != nil {
		return nil, errors.Wrap(err, "load existing codes")
	}
	im.lg.Info("Existing codes loaded", zap.Int("count", n))
	return filter, nil
}

func (im *importer) exists(ctx context.Context, code string) (bool, error) {
	_, err := im.store.FindByCode(ctx, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, discount.ErrNotFound):
		return false, nil
	default:
		return false, errors.Wrapf(err, "check code %s", code)
	}
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range columns[:4] {
		if _, ok := index[required]; !ok {
			return nil, errors.Errorf("missing column %q", required)
		}
	}
	return index, nil
}

func parseRecord(record []string, index map[string]int) (discount.CreateInput, error) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	in := discount.CreateInput{
		Code:         field("code"),
		InfluencerID: field("influencer_id"),
		Type:         discount.Type(strings.ToLower(field("type"))),
		ValidUntil:   field("valid_until"),
	}
	value, err := decimal.NewFromString(field("value"))
	if err != nil {
		return in, errors.Wrap(err, "value")
	}
	in.Value = value

	if v := field("min_purchase"); v != "" {
		minPurchase, err := decimal.NewFromString(v)
		if err != nil {
			return in, errors.Wrap(err, "min_purchase")
		}
		in.MinPurchase = &minPurchase
	}
	if v := field("max_uses"); v != "" {
		maxUses, err := strconv.Atoi(v)
		if err != nil {
			return in, errors.Wrap(err, "max_uses")
		}
		in.MaxUses = &maxUses
	}
	return in, nil
}
