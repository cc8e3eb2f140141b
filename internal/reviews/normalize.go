// Package reviews turns the raw car review CSV export into the documents
// indexed by the vector store.
package reviews

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"carreviews/internal/domain"
)

// DefaultYear is the only vehicle year kept when no year set is supplied.
const DefaultYear = 2017

// Column names of the source export.
const (
	ColIndex        = ""
	ColReviewDate   = "Review_Date"
	ColAuthorName   = "Author_Name"
	ColVehicleTitle = "Vehicle_Title"
	ColReviewTitle  = "Review_Title"
	ColReview       = "Review"
	ColRating       = "Rating"
)

var requiredColumns = []string{ColIndex, ColReviewDate, ColAuthorName, ColVehicleTitle, ColReviewTitle, ColReview, ColRating}

// RowErrorPolicy decides what happens to a row that fails the schema.
type RowErrorPolicy string

const (
	FailOnRowError RowErrorPolicy = "fail"
	SkipRowError   RowErrorPolicy = "skip"
)

// ParseRowErrorPolicy accepts "fail" (default) or "skip".
func ParseRowErrorPolicy(s string) (RowErrorPolicy, error) {
	switch RowErrorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailOnRowError:
		return FailOnRowError, nil
	case SkipRowError:
		return SkipRowError, nil
	}
	return "", fmt.Errorf("reviews: unknown row error policy %q", s)
}

// Options controls Load.
type Options struct {
	Years     []int
	Delimiter rune
	RowErrors RowErrorPolicy
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if len(o.Years) == 0 {
		o.Years = []int{DefaultYear}
	}
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.RowErrors == "" {
		o.RowErrors = FailOnRowError
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Load reads every file matching pattern and returns the normalized reviews
// for the requested years, sorted by (Model, Rating).
func Load(ctx context.Context, pattern string, opts Options) ([]domain.Review, error) {
	opts = opts.withDefaults()
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("reviews: glob %q: %w", pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("reviews: %q: %w", pattern, domain.ErrNoInput)
	}
	sort.Strings(files)

	var all []domain.Review
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := loadFile(f, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return Normalize(all, opts.Years), nil
}

// Normalize keeps reviews whose year is in years and sorts them by
// (Model, Rating) ascending. Equal keys keep their input order.
func Normalize(in []domain.Review, years []int) []domain.Review {
	if len(years) == 0 {
		years = []int{DefaultYear}
	}
	accepted := make(map[int]struct{}, len(years))
	for _, y := range years {
		accepted[y] = struct{}{}
	}
	out := make([]domain.Review, 0, len(in))
	for _, r := range in {
		if _, ok := accepted[r.Year]; ok {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].Rating < out[j].Rating
	})
	return out
}

func loadFile(path string, opts Options) ([]domain.Review, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reviews: open %s: %w", path, err)
	}
	defer f.Close()
	return decode(f, path, opts)
}

func decode(r io.Reader, name string, opts Options) ([]domain.Review, error) {
	cr := csv.NewReader(r)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reviews: %s: read header: %w", name, err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, fmt.Errorf("reviews: %s: %w", name, err)
	}

	var out []domain.Review
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			rowErr := &domain.RowError{File: name, Line: line, Err: err}
			if opts.RowErrors == SkipRowError {
				opts.Logger.Warn("skipping malformed row", "file", name, "line", line, "error", err)
				continue
			}
			return nil, rowErr
		}
		line, _ := cr.FieldPos(0)
		review, rowErr := parseRow(rec, cols)
		if rowErr != nil {
			rowErr.File, rowErr.Line = name, line
			if opts.RowErrors == SkipRowError {
				opts.Logger.Warn("skipping row", "file", name, "line", line, "column", rowErr.Column, "error", rowErr.Err)
				continue
			}
			return nil, rowErr
		}
		out = append(out, review)
	}
	return out, nil
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", domain.ErrSchema, c)
		}
	}
	return cols, nil
}

func parseRow(rec []string, cols map[string]int) (domain.Review, *domain.RowError) {
	field := func(name string) string {
		i := cols[name]
		if i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	if _, err := strconv.ParseInt(strings.TrimSpace(field(ColIndex)), 10, 64); err != nil {
		return domain.Review{}, &domain.RowError{Column: ColIndex, Err: err}
	}
	rating, err := strconv.ParseFloat(strings.TrimSpace(field(ColRating)), 64)
	if err != nil {
		return domain.Review{}, &domain.RowError{Column: ColRating, Err: err}
	}
	year, model, err := splitVehicleTitle(field(ColVehicleTitle))
	if err != nil {
		return domain.Review{}, &domain.RowError{Column: ColVehicleTitle, Err: err}
	}
	return domain.Review{
		Title:  field(ColReviewTitle),
		Text:   field(ColReview),
		Rating: rating,
		Year:   year,
		Model:  model,
	}, nil
}

// splitVehicleTitle takes "2017 Toyota Camry SE" to (2017, "Toyota").
func splitVehicleTitle(title string) (int, string, error) {
	tokens := strings.Fields(title)
	if len(tokens) < 2 {
		return 0, "", fmt.Errorf("vehicle title %q has no year and model", title)
	}
	year, err := strconv.Atoi(tokens[0])
	if err != nil {
		return 0, "", fmt.Errorf("vehicle year %q: %w", tokens[0], err)
	}
	return year, tokens[1], nil
}
