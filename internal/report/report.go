// Package report turns recorded usage events into XLSX workbooks for
// programme reporting.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/smartbiopk/cliamapp/internal/analytics"
	"github.com/smartbiopk/cliamapp/internal/tariff"
)

const sheetName = "Usage"

// Service produces usage summaries from an analytics reader.
type Service struct {
	reader analytics.Reader
	table  tariff.Table
	logger *zap.Logger
}

// NewService returns a reporting service reading events from reader. Column
// headers and their order come from the tariff table.
func NewService(reader analytics.Reader, table tariff.Table, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{reader: reader, table: table, logger: logger}
}

// UsageXLSX builds a workbook with one row per day in the window: the number
// of claims calculated, how many of them used each service category and the
// combined claimed value. A zero bound leaves that side of the window open.
func (s *Service) UsageXLSX(ctx context.Context, from, to time.Time) ([]byte, error) {
	start := time.Now()

	events, err := s.reader.List(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}

	f := excelize.NewFile()
	if index, _ := f.GetSheetIndex(sheetName); index == -1 {
		if _, err := f.NewSheet(sheetName); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(activeIndex)

	categories := s.table.Categories()

	headers := make([]string, 0, len(categories)+3)
	headers = append(headers, "Date", "Claims")
	for _, category := range categories {
		entry, _ := s.table.Entry(category)
		headers = append(headers, entry.Label)
	}
	headers = append(headers, "Claimed Value (PKR)")
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	days := aggregateByDay(events)
	dates := make([]string, 0, len(days))
	for date := range days {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	row := 2
	writeUsage := func(label string, usage *dayUsage) {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		write(1, label)
		write(2, usage.claims)
		for i, category := range categories {
			write(3+i, usage.byCategory[string(category)])
		}
		write(3+len(categories), usage.value)
		row++
	}

	for _, date := range dates {
		writeUsage(date, days[date])
	}
	if len(dates) > 0 {
		totals := &dayUsage{byCategory: make(map[string]int)}
		for _, usage := range days {
			totals.claims += usage.claims
			totals.value += usage.value
			for category, n := range usage.byCategory {
				totals.byCategory[category] += n
			}
		}
		writeUsage("Total", totals)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 14)
	_ = f.SetColWidth(sheetName, "B", "B", 10)
	if len(categories) > 0 {
		first, _ := excelize.ColumnNumberToName(3)
		last, _ := excelize.ColumnNumberToName(2 + len(categories))
		_ = f.SetColWidth(sheetName, first, last, 30)
	}
	valueColumn, _ := excelize.ColumnNumberToName(3 + len(categories))
	_ = f.SetColWidth(sheetName, valueColumn, valueColumn, 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("usage report rendered",
		zap.Int("events", len(events)),
		zap.Int("days", len(dates)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return buf.Bytes(), nil
}

type dayUsage struct {
	claims     int
	value      int
	byCategory map[string]int
}

func aggregateByDay(events []analytics.Event) map[string]*dayUsage {
	days := make(map[string]*dayUsage)
	for _, event := range events {
		date := event.RecordedAt.UTC().Format("2006-01-02")
		usage, ok := days[date]
		if !ok {
			usage = &dayUsage{byCategory: make(map[string]int)}
			days[date] = usage
		}
		usage.claims++
		usage.value += event.Total
		for _, category := range event.Categories {
			usage.byCategory[category]++
		}
	}
	return days
}
