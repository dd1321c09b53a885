package historian

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/autovant/reflex/internal/domain"
)

// tickRow is a replay source record, adapted from the teacher's
// candle-derived MarketData into a raw trade print the Physics Engine
// can fold directly.
type tickRow struct {
	Symbol      string
	TimestampUs int64
	Price       float64
	Size        float64
	Side        domain.Side
}

// parquetTickRow is the on-disk parquet schema for a tick.
type parquetTickRow struct {
	TimestampUs int64   `parquet:"name=timestamp_us"`
	Symbol      string  `parquet:"name=symbol"`
	Price       float64 `parquet:"name=price"`
	Size        float64 `parquet:"name=size"`
	Side        string  `parquet:"name=side"`
}

// LoadTicks reads a replay source (csv:// or parquet://, or inferred
// from extension) and returns its ticks sorted by timestamp ascending.
func LoadTicks(source string) ([]domain.Tick, error) {
	scheme, path := parseSource(source)
	var rows []tickRow
	var err error
	switch scheme {
	case "csv":
		rows, err = readCSVTicks(path)
	case "parquet":
		rows, err = readParquetTicks(path)
	default:
		if hasSuffix(path, ".csv") {
			rows, err = readCSVTicks(path)
		} else if hasSuffix(path, ".parquet") {
			rows, err = readParquetTicks(path)
		} else {
			return nil, fmt.Errorf("unsupported replay source: %s", source)
		}
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].TimestampUs < rows[j].TimestampUs })

	ticks := make([]domain.Tick, len(rows))
	for i, r := range rows {
		ticks[i] = domain.Tick{Symbol: r.Symbol, TimestampUs: r.TimestampUs, Price: r.Price, Size: r.Size, Side: r.Side}
	}
	return ticks, nil
}

func parseSource(source string) (scheme, path string) {
	for i := 0; i+2 < len(source); i++ {
		if source[i:i+3] == "://" {
			return source[:i], source[i+3:]
		}
	}
	return "", source
}

func hasSuffix(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}

func readCSVTicks(path string) ([]tickRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv %s has no data rows", path)
	}

	header := make(map[string]int)
	for i, col := range records[0] {
		header[col] = i
	}
	for _, key := range []string{"timestamp_us", "symbol", "price", "size", "side"} {
		if _, ok := header[key]; !ok {
			return nil, fmt.Errorf("csv %s missing column %q", path, key)
		}
	}

	rows := make([]tickRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		tsUs, err := strconv.ParseInt(rec[header["timestamp_us"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp_us %q: %w", rec[header["timestamp_us"]], err)
		}
		price, err := strconv.ParseFloat(rec[header["price"]], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", rec[header["price"]], err)
		}
		size, err := strconv.ParseFloat(rec[header["size"]], 64)
		if err != nil {
			size = 0
		}
		rows = append(rows, tickRow{
			Symbol:      rec[header["symbol"]],
			TimestampUs: tsUs,
			Price:       price,
			Size:        size,
			Side:        domain.Side(rec[header["side"]]),
		})
	}
	return rows, nil
}

func readParquetTicks(path string) ([]tickRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetTickRow), 4)
	if err != nil {
		return nil, err
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	out := make([]parquetTickRow, numRows)
	if err := pr.Read(&out); err != nil {
		return nil, err
	}

	rows := make([]tickRow, len(out))
	for i, row := range out {
		rows[i] = tickRow{
			Symbol:      row.Symbol,
			TimestampUs: row.TimestampUs,
			Price:       row.Price,
			Size:        row.Size,
			Side:        domain.Side(row.Side),
		}
	}
	return rows, nil
}

// Replayer deterministically re-emits a loaded tick set. Speed is a
// wall-clock multiplier over the ticks' own timestamp spacing; callers
// wanting bit-identical decisions across replays should keep every
// downstream component on the same code path as live, feeding it one
// tick at a time through the same channel the live feed would use.
type Replayer struct {
	ticks []domain.Tick
	speed float64
}

func NewReplayer(ticks []domain.Tick, speed float64) *Replayer {
	if speed <= 0 {
		speed = 1
	}
	return &Replayer{ticks: ticks, speed: speed}
}

// Run feeds each tick to onTick, pacing by the gap between successive
// tick timestamps divided by speed. It never injects wall-clock jitter
// of its own, which is what keeps replay deterministic with respect to
// OODA Governor decisions (save for gsid and other live-only fields).
func (r *Replayer) Run(ctx context.Context, onTick func(domain.Tick)) error {
	var prevTsUs int64
	havePrev := false
	for _, t := range r.ticks {
		if havePrev {
			gap := time.Duration(t.TimestampUs-prevTsUs) * time.Microsecond
			if gap > 0 {
				wait := time.Duration(float64(gap) / r.speed)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		onTick(t)
		prevTsUs = t.TimestampUs
		havePrev = true
	}
	return nil
}

// Seek returns the index of the first tick at or after ts. When every
// tick is earlier than ts it returns the last index, len(ticks)-1.
func Seek(ticks []domain.Tick, tsUs int64) int {
	idx := sort.Search(len(ticks), func(i int) bool { return ticks[i].TimestampUs >= tsUs })
	if idx >= len(ticks) {
		return len(ticks) - 1
	}
	return idx
}
