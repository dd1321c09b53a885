package historian

import (
	"fmt"
	"sync"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/autovant/reflex/internal/domain"
)

// parquetFrameRow is the cold-store's on-disk schema. It carries only the
// fields needed to reconstruct a replay-relevant Frame; nested structs are
// flattened rather than encoded as parquet groups.
type parquetFrameRow struct {
	GSID          uint64  `parquet:"name=gsid, type=INT64, convertedtype=UINT_64"`
	TimestampUs   int64   `parquet:"name=timestamp_us, type=INT64"`
	Symbol        string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price         float64 `parquet:"name=price, type=DOUBLE"`
	Velocity      float64 `parquet:"name=velocity, type=DOUBLE"`
	Action        string  `parquet:"name=action, type=BYTE_ARRAY, convertedtype=UTF8"`
	Conviction    float64 `parquet:"name=conviction, type=DOUBLE"`
	RiskScalar    float64 `parquet:"name=risk_scalar, type=DOUBLE"`
	RatchetLevel  int32   `parquet:"name=ratchet_level, type=INT32"`
	SanityScore   float64 `parquet:"name=sanity_score, type=DOUBLE"`
	DriftScore    float64 `parquet:"name=drift_score, type=DOUBLE"`
}

func toParquetRow(f domain.Frame) parquetFrameRow {
	return parquetFrameRow{
		GSID:         f.GSID,
		TimestampUs:  f.TimestampUs,
		Symbol:       f.Physics.Symbol,
		Price:        f.Physics.Price,
		Velocity:     f.Physics.Velocity,
		Action:       string(f.Decision.Action),
		Conviction:   f.Decision.Conviction,
		RiskScalar:   f.Decision.RiskScalar,
		RatchetLevel: int32(f.RatchetLevel),
		SanityScore:  f.SanityScore,
		DriftScore:   f.DriftScore,
	}
}

// ColdStore appends Frames to a single parquet file. Append writes
// synchronously under the store's mutex on the caller's goroutine and
// returns any write error to the caller; there is no background writer
// or error channel.
// The wire format is not meant to round-trip a full Frame, only enough of
// it to audit or re-derive decisions outside the retention window.
type ColdStore struct {
	mu   sync.Mutex
	path string
	pw   *writer.ParquetWriter
	fw   source.ParquetFile
}

// NewColdStore opens (truncating) a parquet file at path for appends.
func NewColdStore(path string) (*ColdStore, error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("coldstore: open %s: %w", path, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(parquetFrameRow), 4)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("coldstore: new writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	return &ColdStore{path: path, pw: pw, fw: fw}, nil
}

// Append writes one frame's row. Safe for concurrent callers; serialized
// internally since the parquet writer is not itself concurrency-safe.
func (c *ColdStore) Append(f domain.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pw.Write(toParquetRow(f))
}

// Close flushes the writer's footer and closes the underlying file. Must
// be called for the file to be readable.
func (c *ColdStore) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pw.WriteStop(); err != nil {
		c.fw.Close()
		return fmt.Errorf("coldstore: write stop: %w", err)
	}
	return c.fw.Close()
}

// ScanColdStore reads every row in [from, to] out of a closed cold-store
// file, in file order (which is gsid-ascending since Append is
// sequential). It is the fallback Scan uses when a replay window reaches
// past the ring log's retention.
func ScanColdStore(path string, from, to uint64) ([]domain.Frame, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("coldstore: open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetFrameRow), 4)
	if err != nil {
		return nil, fmt.Errorf("coldstore: new reader: %w", err)
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	rows := make([]parquetFrameRow, numRows)
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("coldstore: read: %w", err)
	}

	var out []domain.Frame
	for _, r := range rows {
		if r.GSID < from || r.GSID > to {
			continue
		}
		out = append(out, domain.Frame{
			GSID:        r.GSID,
			TimestampUs: r.TimestampUs,
			Physics:     domain.PhysicsState{Symbol: r.Symbol, Price: r.Price, Velocity: r.Velocity},
			Decision: domain.Decision{
				Action:     domain.Action(r.Action),
				Conviction: r.Conviction,
				RiskScalar: r.RiskScalar,
			},
			RatchetLevel: domain.RatchetLevel(r.RatchetLevel),
			SanityScore:  r.SanityScore,
			DriftScore:   r.DriftScore,
		})
	}
	return out, nil
}
