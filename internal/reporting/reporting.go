// Package reporting computes doctor earnings reports from settled payments:
// a daily dashboard with hourly buckets and a monthly summary with CSV
// export.
package reporting

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/saihealth/go-care/internal/domain/record"
	"github.com/saihealth/go-care/internal/store"
)

// Reporter computes earnings reports.
type Reporter struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a reporter.
func New(st store.Store, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{store: st, logger: logger}
}

// DailyReport summarizes a doctor's earnings for one day.
type DailyReport struct {
	Date     string            `json:"date"`
	Count    int               `json:"count"`
	Total    int               `json:"total_earnings"`
	Payments []*record.Payment `json:"payments"`
	// Hourly holds earnings per hour of day, keyed "00" through "23".
	Hourly map[string]int `json:"hourly"`
}

// Daily builds the report for one doctor and date. Payments with an
// unparseable timestamp still count toward the totals but are skipped in the
// hourly breakdown.
func (r *Reporter) Daily(ctx context.Context, doctorID, date string) (*DailyReport, error) {
	if date == "" {
		date = time.Now().Format(record.DateLayout)
	}
	if _, err := time.Parse(record.DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	payments, err := r.store.ListPaymentsByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	report := &DailyReport{
		Date:     date,
		Payments: payments,
		Hourly:   make(map[string]int, 24),
	}
	for h := 0; h < 24; h++ {
		report.Hourly[fmt.Sprintf("%02d", h)] = 0
	}

	for _, p := range payments {
		report.Count++
		report.Total += p.Amount

		ts, err := time.Parse(record.TimestampLayout, p.Timestamp)
		if err != nil {
			r.logger.Warn("unparseable payment timestamp",
				zap.String("payment_id", p.ID),
				zap.String("timestamp", p.Timestamp))
			continue
		}
		report.Hourly[ts.Format("15")] += p.Amount
	}

	return report, nil
}

// MonthlySummary is one month's aggregate for a doctor.
type MonthlySummary struct {
	MonthYear     string `json:"month_year"`
	Year          int    `json:"year"`
	Month         int    `json:"month"`
	Count         int    `json:"count"`
	TotalEarnings int    `json:"total_earnings"`
}

// Monthly aggregates a doctor's payments by calendar month, most recent
// month first.
func (r *Reporter) Monthly(ctx context.Context, doctorID string) ([]*MonthlySummary, error) {
	payments, err := r.store.ListPaymentsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	byMonth := make(map[string]*MonthlySummary)
	for _, p := range payments {
		d, err := time.Parse(record.DateLayout, p.Date)
		if err != nil {
			r.logger.Warn("unparseable payment date",
				zap.String("payment_id", p.ID),
				zap.String("date", p.Date))
			continue
		}

		key := d.Format("2006-01")
		summary, ok := byMonth[key]
		if !ok {
			summary = &MonthlySummary{
				MonthYear: d.Format("January 2006"),
				Year:      d.Year(),
				Month:     int(d.Month()),
			}
			byMonth[key] = summary
		}
		summary.Count++
		summary.TotalEarnings += p.Amount
	}

	summaries := make([]*MonthlySummary, 0, len(byMonth))
	for _, s := range byMonth {
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Year != summaries[j].Year {
			return summaries[i].Year > summaries[j].Year
		}
		return summaries[i].Month > summaries[j].Month
	})

	return summaries, nil
}

// WriteCSV writes monthly summaries as CSV.
func WriteCSV(w io.Writer, summaries []*MonthlySummary) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"month_year", "year", "month", "count", "total_earnings"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, s := range summaries {
		row := []string{
			s.MonthYear,
			strconv.Itoa(s.Year),
			strconv.Itoa(s.Month),
			strconv.Itoa(s.Count),
			strconv.Itoa(s.TotalEarnings),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
