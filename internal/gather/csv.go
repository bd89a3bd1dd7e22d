package gather

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradelab/internal/domain"
	"tradelab/internal/store"
)

var _ Gatherer = (*CSVImport)(nil)

// ErrBadCSV is returned for a CSV file that lacks required columns or holds
// an unparsable row.
var ErrBadCSV = errors.New("malformed candle csv")

// csvColumns are the required header names, matched case-insensitively.
var csvColumns = []string{"time", "open", "high", "low", "close", "volume"}

// timeLayouts are tried in order for the time column; an all-digit value is
// read as Unix seconds.
var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", time.DateOnly}

// CSVImport loads one symbol's candles from a CSV file with a
// time,open,high,low,close,volume header into a CandleStore.
type CSVImport struct {
	path   string
	symbol string
	store  store.CandleStore
	log    *zap.Logger
}

// NewCSVImport creates an importer of path as symbol.
func NewCSVImport(path, symbol string, s store.CandleStore, logger *zap.Logger) *CSVImport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVImport{
		path:   path,
		symbol: strings.ToUpper(symbol),
		store:  s,
		log:    logger.With(zap.String("gatherer", "csv-import")),
	}
}

// Name returns the gatherer identifier.
func (g *CSVImport) Name() string { return "csv-import" }

// Run parses the whole file and writes it in one batch.
func (g *CSVImport) Run(ctx context.Context) error {
	f, err := os.Open(g.path)
	if err != nil {
		return fmt.Errorf("opening CSV %s: %w", g.path, err)
	}
	defer f.Close()

	candles, err := ParseCandlesCSV(f, g.symbol)
	if err != nil {
		return fmt.Errorf("%s: %w", g.path, err)
	}
	if err := g.store.WriteCandles(ctx, candles); err != nil {
		return fmt.Errorf("writing candles: %w", err)
	}
	g.log.Info("import complete",
		zap.String("symbol", g.symbol),
		zap.Int("candles", len(candles)),
	)
	return nil
}

// ParseCandlesCSV reads candles for symbol from r. Columns may appear in
// any order; extra columns are ignored.
func ParseCandlesCSV(r io.Reader, symbol string) ([]domain.Candle, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrBadCSV, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	cols := make([]int, len(csvColumns))
	for i, name := range csvColumns {
		j, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrBadCSV, name)
		}
		cols[i] = j
	}

	var candles []domain.Candle
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadCSV, line, err)
		}

		ts, err := parseTime(row[cols[0]])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadCSV, line, err)
		}
		var v [5]float64
		for k := range v {
			v[k], err = strconv.ParseFloat(strings.TrimSpace(row[cols[k+1]]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d %s: %v", ErrBadCSV, line, csvColumns[k+1], err)
			}
		}
		candles = append(candles, domain.Candle{
			Symbol: symbol,
			Time:   ts,
			Open:   v[0],
			High:   v[1],
			Low:    v[2],
			Close:  v[3],
			Volume: v[4],
		})
	}
	return candles, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
