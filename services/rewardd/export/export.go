// Package export writes closed ledger epochs as parquet files for analytics.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"finova/core/ledger"
	"finova/core/types"
)

type parquetRow struct {
	ID               string `parquet:"name=id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Account          string `parquet:"name=account, type=UTF8, encoding=PLAIN_DICTIONARY"`
	EventID          string `parquet:"name=event_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Activity         string `parquet:"name=activity, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Epoch            int64  `parquet:"name=epoch, type=INT64"`
	ParamsVersion    int64  `parquet:"name=params_version, type=INT64"`
	Status           string `parquet:"name=status, type=UTF8, encoding=PLAIN_DICTIONARY"`
	FinMicro         int64  `parquet:"name=fin_micro, type=INT64"`
	XP               int64  `parquet:"name=xp, type=INT64"`
	RP               int64  `parquet:"name=rp, type=INT64"`
	Flags            string `parquet:"name=flags, type=UTF8, encoding=PLAIN_DICTIONARY"`
	HumanProbability string `parquet:"name=human_probability, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Difficulty       string `parquet:"name=difficulty, type=UTF8, encoding=PLAIN_DICTIONARY"`
	HourlyRate       int64  `parquet:"name=hourly_rate_micro, type=INT64"`
	IssuedAt         string `parquet:"name=issued_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Checksum         string `parquet:"name=checksum, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

func rowOf(r types.RewardRecord) *parquetRow {
	return &parquetRow{
		ID:               r.ID,
		Account:          string(r.Account),
		EventID:          r.EventID,
		Activity:         string(r.Activity),
		Epoch:            int64(r.Epoch),
		ParamsVersion:    int64(r.ParamsVersion),
		Status:           string(r.Status),
		FinMicro:         int64(r.FinAmount),
		XP:               int64(r.XPAmount),
		RP:               int64(r.RPAmount),
		Flags:            strings.Join(r.Flags.Names(), ","),
		HumanProbability: r.Breakdown.HumanProbability.String(),
		Difficulty:       r.Breakdown.Difficulty.String(),
		HourlyRate:       int64(r.Breakdown.HourlyRate),
		IssuedAt:         time.Unix(r.IssuedAt, 0).UTC().Format(time.RFC3339),
		Checksum:         r.Checksum,
	}
}

// FileName returns the file name used for epoch.
func FileName(epoch uint64) string {
	return fmt.Sprintf("rewards-epoch-%020d.parquet", epoch)
}

// WriteRecords writes records to path.
func WriteRecords(path string, records []types.RewardRecord) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("export: create dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 64 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		if err := pw.Write(rowOf(record)); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}

// Epoch pages every record of epoch out of l and writes it under dir. It
// returns the file path and the number of rows written.
func Epoch(l *ledger.Ledger, epoch uint64, dir string) (string, int, error) {
	var (
		records []types.RewardRecord
		cursor  string
	)
	for {
		page, next, err := l.List(ledger.Filter{Epoch: &epoch, Cursor: cursor})
		if err != nil {
			return "", 0, fmt.Errorf("export: list epoch %d: %w", epoch, err)
		}
		records = append(records, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	path := filepath.Join(dir, FileName(epoch))
	if err := WriteRecords(path, records); err != nil {
		return "", 0, err
	}
	return path, len(records), nil
}
