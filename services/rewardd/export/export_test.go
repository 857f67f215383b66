package export

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"finova/core/ledger"
	"finova/core/reward"
	"finova/core/types"
	"finova/storage"
)

func appendRecords(t *testing.T, l *ledger.Ledger, epoch uint64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		record, err := reward.Seal(types.RewardRecord{
			Account:   types.AccountID(fmt.Sprintf("user-%d", i)),
			EventID:   fmt.Sprintf("evt-%d-%d", epoch, i),
			Activity:  types.ActivityComment,
			Epoch:     epoch,
			Status:    types.RewardGranted,
			FinAmount: 1_000,
			XPAmount:  25,
			RPAmount:  25,
			Flags:     types.FlagCapped,
			IssuedAt:  int64(epoch * types.SecondsPerEpoch),
		})
		require.NoError(t, err)
		require.NoError(t, l.Append(record))
	}
}

func TestEpochWritesEveryRecord(t *testing.T) {
	l := ledger.New(storage.NewMemDB())
	appendRecords(t, l, 10, 3)
	appendRecords(t, l, 11, 2)

	dir := t.TempDir()
	path, n, err := Epoch(l, 10, dir)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, filepath.Join(dir, FileName(10)), path)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.EqualValues(t, 3, pr.GetNumRows())

	rows := make([]parquetRow, 3)
	require.NoError(t, pr.Read(&rows))
	for _, row := range rows {
		require.EqualValues(t, 10, row.Epoch)
		require.EqualValues(t, 1_000, row.FinMicro)
		require.Equal(t, "capped", row.Flags)
		require.NotEmpty(t, row.Checksum)
		require.Contains(t, row.Account, "user-")
		require.Equal(t, string(types.ActivityComment), row.Activity)
		require.Equal(t, string(types.RewardGranted), row.Status)
	}
}

func TestEpochEmpty(t *testing.T) {
	l := ledger.New(storage.NewMemDB())
	_, n, err := Epoch(l, 3, t.TempDir())
	require.NoError(t, err)
	require.Zero(t, n)
}
