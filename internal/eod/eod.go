// Package eod accumulates per-instrument ingestion counts during a streaming
// run and writes them out as a CSV report when the run ends.
package eod

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"autokite/internal/types"
)

type aggRow struct {
	Symbol     string
	Token      uint32
	Received   int
	Stored     int
	Duplicate  int
	Failed     int
	FirstPrice float64
	LastPrice  float64
	FirstAt    time.Time
	LastAt     time.Time
}

// Report is safe for concurrent use.
type Report struct {
	mu   sync.Mutex
	rows map[uint32]*aggRow
}

// NewReport seeds one row per resolved instrument so silent instruments still
// show up with zero counts.
func NewReport(tokens map[string]uint32) *Report {
	r := &Report{rows: make(map[uint32]*aggRow, len(tokens))}
	for sym, tok := range tokens {
		r.rows[tok] = &aggRow{Symbol: sym, Token: tok}
	}
	return r
}

func (r *Report) Record(tick types.Tick, outcome types.AppendOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.rows[tick.InstrumentToken]
	if row == nil {
		row = &aggRow{Token: tick.InstrumentToken}
		r.rows[tick.InstrumentToken] = row
	}
	row.Received++
	switch outcome {
	case types.OutcomeStored:
		row.Stored++
	case types.OutcomeDuplicate:
		row.Duplicate++
	default:
		row.Failed++
	}

	if outcome != types.OutcomeStored {
		return
	}
	if row.Stored == 1 {
		row.FirstPrice, row.FirstAt = tick.LastPrice, tick.Timestamp
	}
	row.LastPrice, row.LastAt = tick.LastPrice, tick.Timestamp
}

// Totals sums every row.
func (r *Report) Totals() (received, stored, duplicate, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		received += row.Received
		stored += row.Stored
		duplicate += row.Duplicate
		failed += row.Failed
	}
	return
}

// CSVPath is <logDir>/eod/<yyyy-mm-dd>.csv for the IST trading day of t.
func CSVPath(logDir string, t time.Time) string {
	return filepath.Join(logDir, "eod", t.In(types.IST).Format("2006-01-02")+".csv")
}

// WriteCSV writes the report for day, replacing any earlier report for the
// same day, and returns the file path.
func (r *Report) WriteCSV(logDir string, day time.Time) (string, error) {
	r.mu.Lock()
	rows := make([]aggRow, 0, len(r.rows))
	for _, row := range r.rows {
		rows = append(rows, *row)
	}
	r.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Symbol != rows[j].Symbol {
			return rows[i].Symbol < rows[j].Symbol
		}
		return rows[i].Token < rows[j].Token
	})

	outPath := CSVPath(logDir, day)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"symbol", "instrument_token", "received", "stored", "duplicate", "failed", "first_price", "last_price", "first_at", "last_at"}
	if err := w.Write(headers); err != nil {
		return "", err
	}

	var total aggRow
	for _, row := range rows {
		rec := []string{
			row.Symbol,
			strconv.FormatUint(uint64(row.Token), 10),
			strconv.Itoa(row.Received),
			strconv.Itoa(row.Stored),
			strconv.Itoa(row.Duplicate),
			strconv.Itoa(row.Failed),
			fmt.Sprintf("%.2f", row.FirstPrice),
			fmt.Sprintf("%.2f", row.LastPrice),
			formatTime(row.FirstAt),
			formatTime(row.LastAt),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		total.Received += row.Received
		total.Stored += row.Stored
		total.Duplicate += row.Duplicate
		total.Failed += row.Failed
	}
	if err := w.Write([]string{"TOTAL", "",
		strconv.Itoa(total.Received), strconv.Itoa(total.Stored),
		strconv.Itoa(total.Duplicate), strconv.Itoa(total.Failed),
		"", "", "", ""}); err != nil {
		return "", err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(types.IST).Format("15:04:05")
}
