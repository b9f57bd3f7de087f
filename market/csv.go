package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrNoBars = errors.New("no bars in file")

// LoadCSV 读取 timestamp,open,high,low,close,volume 格式的K线文件，逐根并整体校验。
func LoadCSV(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV 首行解析失败时视为表头跳过。timestamp 支持 RFC3339、秒和毫秒时间戳。
func ReadCSV(r io.Reader) (Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out Series
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if len(row) < 6 {
			return nil, fmt.Errorf("line %d: want 6 columns, got %d", line, len(row))
		}
		bar, err := parseCSVBar(row)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := ValidateBar(bar); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, bar)
	}
	if len(out) == 0 {
		return nil, ErrNoBars
	}
	if err := ValidateSeries(out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseCSVBar(row []string) (Bar, error) {
	ts, err := parseTimestamp(strings.TrimSpace(row[0]))
	if err != nil {
		return Bar{}, err
	}
	var v [5]float64
	for i := range v {
		v[i], err = strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("column %d: %w", i+2, err)
		}
	}
	return Bar{Timestamp: ts, Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
