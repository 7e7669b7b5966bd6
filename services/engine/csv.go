package engine

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrUnrecognizedTimeFormat is returned by the CSV loader when a timestamp
// cell matches none of the supported layouts. It belongs to ingestion; the
// simulation core never raises it.
var ErrUnrecognizedTimeFormat = errors.New("unrecognized time format")

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02.01.2006 15:04:05.000 GMT-0700",
}

func parseTimestamp(field string) (int64, error) {
	field = strings.TrimSpace(strings.TrimPrefix(field, "\uFEFF"))
	if ms, err := strconv.ParseInt(field, 10, 64); err == nil {
		return ms, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, field); err == nil {
			return t.UTC().UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnrecognizedTimeFormat, field)
}

// LoadCSVSeries reads a timestamp,open,high,low,close,volume file into a
// validated Series. UTF-16 files (BOM-marked) are decoded transparently;
// a header row is skipped; a missing volume column is treated as zero.
// Rows must already be sorted ascending by the producer; NewSeries rejects
// anything else.
func LoadCSVSeries(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	br := bufio.NewReader(f)
	if bom, _ := br.Peek(2); len(bom) >= 2 &&
		((bom[0] == 0xFF && bom[1] == 0xFE) || (bom[0] == 0xFE && bom[1] == 0xFF)) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		reader = transform.NewReader(f, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	} else {
		reader = br
	}

	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var bars []Bar
	row := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		row++
		if len(rec) < 5 {
			continue
		}
		if row == 1 && isHeader(rec[0]) {
			continue
		}

		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		open, e1 := decimal.NewFromString(strings.TrimSpace(rec[1]))
		high, e2 := decimal.NewFromString(strings.TrimSpace(rec[2]))
		low, e3 := decimal.NewFromString(strings.TrimSpace(rec[3]))
		closep, e4 := decimal.NewFromString(strings.TrimSpace(rec[4]))
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
			return nil, fmt.Errorf("row %d: malformed price fields", row)
		}
		vol := decimal.Zero
		if len(rec) >= 6 {
			if v, err := decimal.NewFromString(strings.TrimSpace(rec[5])); err == nil {
				vol = v
			}
		}
		bars = append(bars, Bar{Timestamp: ts, Open: open, High: high, Low: low, Close: closep, Volume: vol})
	}

	return NewSeries(bars)
}

func isHeader(first string) bool {
	first = strings.TrimSpace(strings.TrimPrefix(first, "\uFEFF"))
	return strings.EqualFold(first, "timestamp") ||
		strings.EqualFold(first, "timestamp_ms") ||
		strings.EqualFold(first, "date") ||
		strings.EqualFold(first, "local time")
}

// WriteTradesCSV exports the closed-trade log for external reporting.
func WriteTradesCSV(path string, trades []ClosedTrade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"entry_time", "exit_time", "type", "entry_price", "exit_price",
		"position_size", "profit_loss", "risk_multiple", "exit_reason",
		"hold_time_hours", "instrument",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		rec := []string{
			time.UnixMilli(t.EntryTime).UTC().Format("2006-01-02 15:04:05"),
			time.UnixMilli(t.ExitTime).UTC().Format("2006-01-02 15:04:05"),
			t.Side.String(),
			t.EntryPrice.StringFixed(2),
			t.ExitPrice.StringFixed(2),
			t.Size.String(),
			t.ProfitLoss.StringFixed(2),
			t.RiskMultiple.StringFixed(2),
			t.ExitReason.String(),
			fmt.Sprintf("%.2f", t.HoldTime.Hours()),
			t.Instrument,
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
