package historical

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"autokite/internal/types"
)

// WriteCSV renders bars with a header row. Times are written in IST,
// RFC 3339 for intraday intervals and yyyy-mm-dd for daily ones.
func WriteCSV(w io.Writer, interval string, bars []types.Bar) error {
	layout := time.RFC3339
	if interval == "day" {
		layout = "2006-01-02"
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Time.In(types.IST).Format(layout),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatInt(b.Volume, 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseStartDate accepts the dd-mm-yyyy form used on the command line.
func ParseStartDate(s string) (time.Time, error) {
	return time.ParseInLocation("02-01-2006", s, types.IST)
}
