// Package report renders the memory timeline as a standalone HTML page:
// one bar per calendar month, counting the active memories whose range
// starts in that month.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/tapestry-ai/tapestry/internal/model"
)

const (
	chartTitle    = "Memories per month"
	chartSubtitle = "Active memories by the month their date range starts"
	monthLayout   = "2006-01"
)

// MonthlyCounts buckets memories by the month of their from_date. The
// returned months run contiguously from the earliest to the latest month
// so gaps show as empty bars.
func MonthlyCounts(memories []*model.Memory) ([]string, []int) {
	if len(memories) == 0 {
		return nil, nil
	}

	byMonth := make(map[string]int)
	minMonth, maxMonth := time.Time{}, time.Time{}

	for _, m := range memories {
		month := time.Date(m.FromDate.Year(), m.FromDate.Month(), 1, 0, 0, 0, 0, time.UTC)
		byMonth[month.Format(monthLayout)]++

		if minMonth.IsZero() || month.Before(minMonth) {
			minMonth = month
		}

		if month.After(maxMonth) {
			maxMonth = month
		}
	}

	var (
		months []string
		counts []int
	)

	for month := minMonth; !month.After(maxMonth); month = month.AddDate(0, 1, 0) {
		label := month.Format(monthLayout)
		months = append(months, label)
		counts = append(counts, byMonth[label])
	}

	return months, counts
}

// RenderTimeline writes the bar chart HTML to w.
func RenderTimeline(w io.Writer, memories []*model.Memory) error {
	months, counts := MonthlyCounts(memories)

	bars := make([]opts.BarData, len(counts))
	for i, count := range counts {
		bars[i] = opts.BarData{Value: count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    chartTitle,
			Subtitle: chartSubtitle,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Month"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Memories"}),
	)
	bar.SetXAxis(months)
	bar.AddSeries("Memories", bars)

	err := bar.Render(w)
	if err != nil {
		return fmt.Errorf("render timeline: %w", err)
	}

	return nil
}

// WriteTimeline renders the bar chart HTML into a file at path.
func WriteTimeline(path string, memories []*model.Memory) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer file.Close()

	return RenderTimeline(file, memories)
}
