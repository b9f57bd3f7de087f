package market

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		want    int
		wantErr error
	}{
		{
			name: "带表头的秒级时间戳",
			csv: "timestamp,open,high,low,close,volume\n" +
				"1700000000,100,101,99,100.5,10\n" +
				"1700003600,100.5,102,100,101,12\n",
			want: 2,
		},
		{
			name: "毫秒时间戳与 RFC3339 混用",
			csv: "1700000000000,100,101,99,100.5,10\n" +
				"2023-11-14T23:13:20Z,100.5,102,100,101,12\n",
			want: 2,
		},
		{name: "空文件", csv: "", wantErr: ErrNoBars},
		{name: "高低价包络非法", csv: "1700000000,100,99,98,100.5,10\n", wantErr: ErrInvalidBar},
		{
			name: "时间倒序",
			csv: "1700003600,100,101,99,100.5,10\n" +
				"1700000000,100.5,102,100,101,12\n",
			wantErr: ErrInvalidBar,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars, err := ReadCSV(strings.NewReader(tt.csv))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, bars, tt.want)
		})
	}

	_, err := ReadCSV(strings.NewReader("1700000000,100,101,99\n"))
	assert.Error(t, err, "列数不足")
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte("1700000000,100,101,99,100.5,10\n"), 0o644))
	bars, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, int64(1700000000), bars[0].Timestamp.Unix())

	_, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
