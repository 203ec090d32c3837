// Package chart renders the monthly CO2 totals of every color as a PNG line chart.
package chart

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
)

const moduleName = "chart"

const (
	width  = 10 * vg.Inch
	height = 6 * vg.Inch
	// scale converts kilograms to millions of kilograms.
	scale = 1e6
)

var monthTicks = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// Series is one line of the chart.
type Series struct {
	Label  string
	Totals []model.MonthlyTotal
}

// Title returns the chart title for the loaded years.
func Title(firstYear, lastYear int) string {
	return fmt.Sprintf("Monthly CO₂ Totals (%d–%d)", firstYear, lastYear)
}

// RenderMonthlyTotals writes a PNG to path with one line per series. Series without
// totals are left out; at least one must have data.
func RenderMonthlyTotals(path, title string, series []Series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Month of Year"
	p.Y.Label.Text = "Total CO₂ (kg in millions)"
	p.X.Tick.Marker = monthTicker{}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	var lines []interface{}
	for _, s := range series {
		if len(s.Totals) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(s.Totals))
		for i, t := range s.Totals {
			pts[i].X = float64(t.Month)
			pts[i].Y = t.TotalKgs / scale
		}
		lines = append(lines, s.Label, pts)
	}
	if len(lines) == 0 {
		return exception.NewBatchError(moduleName, exception.KindDataQuality, "no monthly totals to plot", nil)
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return exception.NewBatchError(moduleName, exception.KindUnknown, "failed to build chart", err)
	}
	p.X.Min, p.X.Max = 0.5, 12.5

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to create directory for '%s'", path, err)
		}
	}
	w, err := p.WriterTo(width, height, "png")
	if err != nil {
		return exception.NewBatchError(moduleName, exception.KindUnknown, "failed to render chart", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to create '%s'", path, err)
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to write '%s'", path, err)
	}
	if err := f.Close(); err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to close '%s'", path, err)
	}
	return nil
}

// monthTicker labels 1..12 with month abbreviations.
type monthTicker struct{}

func (monthTicker) Ticks(min, max float64) []plot.Tick {
	ticks := make([]plot.Tick, 0, len(monthTicks))
	for i, label := range monthTicks {
		ticks = append(ticks, plot.Tick{Value: float64(i + 1), Label: label})
	}
	return ticks
}
