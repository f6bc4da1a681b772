package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/internal/schema"
)

// LoadBarsCSV reads historical bars from a CSV file with the header
// timestamp,open,high,low,close,volume. Timestamps are unix seconds or
// RFC 3339. Ordering is enforced by Source.AppendBar, not here.
func LoadBarsCSV(path string) ([]schema.Bar, error) {
	file, err := os.Open(path) // #nosec G304 -- file path is operator provided via CLI flags.
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var bars []schema.Bar
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return bars, nil
			}
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		if len(record) < 6 {
			return nil, fmt.Errorf("csv record needs 6 fields, got %d", len(record))
		}
		bar, err := parseBar(record)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
}

// LoadTicksCSV reads historical ticks from a CSV file with the header
// timestamp,last,bid,bid_size,ask,ask_size,volume,open_interest,trading_day.
// The trading_day column is optional. Ordering is enforced by
// Source.AppendTick, not here.
func LoadTicksCSV(path string) ([]schema.Tick, error) {
	file, err := os.Open(path) // #nosec G304 -- file path is operator provided via CLI flags.
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var ticks []schema.Tick
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ticks, nil
			}
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		if len(record) < 8 {
			return nil, fmt.Errorf("csv record needs at least 8 fields, got %d", len(record))
		}
		tick, err := parseTick(record)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, tick)
	}
}

func parseTick(record []string) (schema.Tick, error) {
	ts, err := parseTimestamp(record[0])
	if err != nil {
		return schema.Tick{}, err
	}
	prices := make([]decimal.Decimal, 3)
	for i, idx := range []int{1, 2, 4} {
		price, err := decimal.NewFromString(record[idx])
		if err != nil {
			return schema.Tick{}, fmt.Errorf("parse price %q: %w", record[idx], err)
		}
		prices[i] = price
	}
	counts := make([]int64, 4)
	for i, idx := range []int{3, 5, 6, 7} {
		n, err := strconv.ParseInt(record[idx], 10, 64)
		if err != nil {
			return schema.Tick{}, fmt.Errorf("parse count %q: %w", record[idx], err)
		}
		counts[i] = n
	}
	tick := schema.Tick{
		Timestamp:    ts,
		Last:         prices[0],
		BidPrice:     prices[1],
		BidSize:      counts[0],
		AskPrice:     prices[2],
		AskSize:      counts[1],
		CumVolume:    counts[2],
		OpenInterest: counts[3],
	}
	if len(record) > 8 {
		tick.TradingDay = record[8]
	}
	return tick, nil
}

func parseBar(record []string) (schema.Bar, error) {
	ts, err := parseTimestamp(record[0])
	if err != nil {
		return schema.Bar{}, err
	}
	prices := make([]decimal.Decimal, 4)
	for i, field := range record[1:5] {
		price, err := decimal.NewFromString(field)
		if err != nil {
			return schema.Bar{}, fmt.Errorf("parse price %q: %w", field, err)
		}
		prices[i] = price
	}
	volume, err := strconv.ParseInt(record[5], 10, 64)
	if err != nil {
		return schema.Bar{}, fmt.Errorf("parse volume %q: %w", record[5], err)
	}
	return schema.Bar{
		Timestamp: ts,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    volume,
	}, nil
}

func parseTimestamp(field string) (time.Time, error) {
	if unix, err := strconv.ParseInt(field, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, field)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", field, err)
	}
	return ts, nil
}
