// Package tradelog keeps a daily JSONL journal of every order the module places.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"autokite/internal/types"
)

// Entry is one journal line.
type Entry struct {
	Time     string         `json:"time"`
	Symbol   string         `json:"symbol"`
	Exchange string         `json:"exchange"`
	Side     string         `json:"side"`
	Variety  string         `json:"variety"`
	Qty      int            `json:"qty"`
	Price    float64        `json:"price,omitempty"`
	OrderID  string         `json:"order_id,omitempty"`
	Status   string         `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Journal appends entries to <dir>/<yyyy-mm-dd>.txt, one file per IST day.
type Journal struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

func New(dir string) *Journal {
	return &Journal{dir: dir, now: time.Now}
}

func (j *Journal) Dir() string { return j.dir }

func (j *Journal) dailyFilepath(t time.Time) string {
	d := t.In(types.IST).Format("2006-01-02")
	return filepath.Join(j.dir, d+".txt")
}

// Append stamps e with the current IST time and writes it.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().In(types.IST)
	e.Time = now.Format("2006-01-02 15:04:05")
	p := j.dailyFilepath(now)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// AppendOrder journals a placement attempt, successful or not.
func (j *Journal) AppendOrder(req types.OrderReq, variety string, resp types.OrderResp, placeErr error) error {
	e := Entry{
		Symbol:   req.Symbol,
		Exchange: req.Exchange,
		Side:     req.Side,
		Variety:  variety,
		Qty:      req.Qty,
		Price:    req.Price,
		OrderID:  resp.OrderID,
		Status:   resp.Status,
	}
	if placeErr != nil {
		e.Error = placeErr.Error()
	}
	if variety == "bo" {
		e.Extra = map[string]any{
			"target":            req.Target,
			"stoploss":          req.StopLoss,
			"trailing_stoploss": req.TrailingStopLoss,
		}
	}
	return j.Append(e)
}

// CompressOlder gzips journal files last modified more than retentionDays ago.
// A non-positive retention keeps everything uncompressed.
func (j *Journal) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := j.now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(j.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			// missing or unreadable directories are not an error for a sweep
			return nil
		}
		if d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}

		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err != nil {
			return fmt.Errorf("compress %s: %w", p, err)
		}
		return os.Remove(p)
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
