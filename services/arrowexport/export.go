// Package arrowexport serializes backtest results to Apache Arrow IPC, the
// interchange format downstream analysis notebooks consume directly.
package arrowexport

import (
	"bytes"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"cfdbacktest/services/engine"
)

// TradesSchema is the Arrow layout of the closed-trade log.
var TradesSchema = arrow.NewSchema([]arrow.Field{
	{Name: "entry_time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "exit_time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "side", Type: arrow.BinaryTypes.String},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "size", Type: arrow.PrimitiveTypes.Float64},
	{Name: "profit_loss", Type: arrow.PrimitiveTypes.Float64},
	{Name: "risk_multiple", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_reason", Type: arrow.BinaryTypes.String},
	{Name: "hold_time_s", Type: arrow.PrimitiveTypes.Int64},
	{Name: "instrument", Type: arrow.BinaryTypes.String},
}, nil)

// TradesIPC serializes a trade log into one Arrow IPC stream.
func TradesIPC(trades []engine.ClosedTrade) ([]byte, error) {
	if len(trades) == 0 {
		return nil, fmt.Errorf("no trades to export")
	}

	n := len(trades)
	entryTimes := make([]int64, n)
	exitTimes := make([]int64, n)
	sides := make([]string, n)
	entries := make([]float64, n)
	exits := make([]float64, n)
	sizes := make([]float64, n)
	pnls := make([]float64, n)
	riskMultiples := make([]float64, n)
	reasons := make([]string, n)
	holds := make([]int64, n)
	instruments := make([]string, n)

	for i, t := range trades {
		entryTimes[i] = t.EntryTime
		exitTimes[i] = t.ExitTime
		sides[i] = t.Side.String()
		entries[i] = t.EntryPrice.InexactFloat64()
		exits[i] = t.ExitPrice.InexactFloat64()
		sizes[i] = t.Size.InexactFloat64()
		pnls[i] = t.ProfitLoss.InexactFloat64()
		riskMultiples[i] = t.RiskMultiple.InexactFloat64()
		reasons[i] = t.ExitReason.String()
		holds[i] = int64(t.HoldTime.Seconds())
		instruments[i] = t.Instrument
	}

	pool := memory.NewGoAllocator()

	entryTimeBuilder := array.NewInt64Builder(pool)
	entryTimeBuilder.AppendValues(entryTimes, nil)
	entryTimeArray := entryTimeBuilder.NewInt64Array()

	exitTimeBuilder := array.NewInt64Builder(pool)
	exitTimeBuilder.AppendValues(exitTimes, nil)
	exitTimeArray := exitTimeBuilder.NewInt64Array()

	sideBuilder := array.NewStringBuilder(pool)
	sideBuilder.AppendValues(sides, nil)
	sideArray := sideBuilder.NewStringArray()

	entryBuilder := array.NewFloat64Builder(pool)
	entryBuilder.AppendValues(entries, nil)
	entryArray := entryBuilder.NewFloat64Array()

	exitBuilder := array.NewFloat64Builder(pool)
	exitBuilder.AppendValues(exits, nil)
	exitArray := exitBuilder.NewFloat64Array()

	sizeBuilder := array.NewFloat64Builder(pool)
	sizeBuilder.AppendValues(sizes, nil)
	sizeArray := sizeBuilder.NewFloat64Array()

	pnlBuilder := array.NewFloat64Builder(pool)
	pnlBuilder.AppendValues(pnls, nil)
	pnlArray := pnlBuilder.NewFloat64Array()

	riskBuilder := array.NewFloat64Builder(pool)
	riskBuilder.AppendValues(riskMultiples, nil)
	riskArray := riskBuilder.NewFloat64Array()

	reasonBuilder := array.NewStringBuilder(pool)
	reasonBuilder.AppendValues(reasons, nil)
	reasonArray := reasonBuilder.NewStringArray()

	holdBuilder := array.NewInt64Builder(pool)
	holdBuilder.AppendValues(holds, nil)
	holdArray := holdBuilder.NewInt64Array()

	instrumentBuilder := array.NewStringBuilder(pool)
	instrumentBuilder.AppendValues(instruments, nil)
	instrumentArray := instrumentBuilder.NewStringArray()

	record := array.NewRecord(TradesSchema, []arrow.Array{
		entryTimeArray,
		exitTimeArray,
		sideArray,
		entryArray,
		exitArray,
		sizeArray,
		pnlArray,
		riskArray,
		reasonArray,
		holdArray,
		instrumentArray,
	}, int64(n))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(TradesSchema))
	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("write trade record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close ipc writer: %w", err)
	}
	return buf.Bytes(), nil
}

// EquitySchema is the Arrow layout of the per-trade capital curve.
var EquitySchema = arrow.NewSchema([]arrow.Field{
	{Name: "trade_index", Type: arrow.PrimitiveTypes.Int64},
	{Name: "capital", Type: arrow.PrimitiveTypes.Float64},
	{Name: "drawdown_pct", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// EquityIPC serializes the summary's capital curve.
func EquityIPC(s engine.Summary) ([]byte, error) {
	if len(s.CapitalCurve) == 0 {
		return nil, fmt.Errorf("no capital curve to export")
	}

	n := len(s.CapitalCurve)
	indexes := make([]int64, n)
	capitals := make([]float64, n)
	drawdowns := make([]float64, n)
	for i := 0; i < n; i++ {
		indexes[i] = int64(i)
		capitals[i] = s.CapitalCurve[i].InexactFloat64()
		drawdowns[i] = s.DrawdownPct[i].InexactFloat64()
	}

	pool := memory.NewGoAllocator()

	indexBuilder := array.NewInt64Builder(pool)
	indexBuilder.AppendValues(indexes, nil)
	indexArray := indexBuilder.NewInt64Array()

	capitalBuilder := array.NewFloat64Builder(pool)
	capitalBuilder.AppendValues(capitals, nil)
	capitalArray := capitalBuilder.NewFloat64Array()

	drawdownBuilder := array.NewFloat64Builder(pool)
	drawdownBuilder.AppendValues(drawdowns, nil)
	drawdownArray := drawdownBuilder.NewFloat64Array()

	record := array.NewRecord(EquitySchema, []arrow.Array{indexArray, capitalArray, drawdownArray}, int64(n))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(EquitySchema))
	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("write equity record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close ipc writer: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTradesFile writes the trade log IPC stream to disk.
func WriteTradesFile(path string, trades []engine.ClosedTrade) error {
	data, err := TradesIPC(trades)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
