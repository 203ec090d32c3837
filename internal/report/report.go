// Package report flattens an analysis into rows and writes them as parquet or xlsx.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"github.com/xuri/excelize/v2"

	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

const moduleName = "report"

// Metric names of Row.Metric.
const (
	MetricAvgCO2   = "avg_co2_kgs"
	MetricTotalCO2 = "total_co2_kgs"
)

// SheetName is the worksheet WriteWorkbook fills.
const SheetName = "co2_summary"

// Row is one aggregate value. Rankings keep their heaviest-first order.
type Row struct {
	Color    string  `parquet:"name=color, type=BYTE_ARRAY, convertedtype=UTF8"`
	Grouping string  `parquet:"name=grouping, type=BYTE_ARRAY, convertedtype=UTF8"`
	Rank     int64   `parquet:"name=rank, type=INT64"`
	Bucket   int64   `parquet:"name=bucket, type=INT64"`
	Label    string  `parquet:"name=label, type=BYTE_ARRAY, convertedtype=UTF8"`
	Metric   string  `parquet:"name=metric, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value    float64 `parquet:"name=value, type=DOUBLE"`
}

// Rows flattens the rankings and the monthly totals of r. Colors come in canonical order.
func Rows(r model.AnalysisReport) []Row {
	var rows []Row
	for _, ranking := range r.Rankings {
		for i, b := range ranking.Buckets {
			rows = append(rows, Row{
				Color:    ranking.Color.String(),
				Grouping: ranking.Grouping.String(),
				Rank:     int64(i + 1),
				Bucket:   int64(b.Bucket),
				Label:    ranking.Grouping.BucketLabel(b.Bucket),
				Metric:   MetricAvgCO2,
				Value:    b.AvgCO2,
			})
		}
	}
	for _, color := range model.Colors() {
		for _, m := range r.Monthly[color.String()] {
			rows = append(rows, Row{
				Color:    color.String(),
				Grouping: model.ByMonth.String(),
				Bucket:   int64(m.Month),
				Label:    model.ByMonth.BucketLabel(m.Month),
				Metric:   MetricTotalCO2,
				Value:    m.TotalKgs,
			})
		}
	}
	return rows
}

// WriteParquet writes rows to a SNAPPY-compressed parquet file at path.
func WriteParquet(path string, rows []Row) (err error) {
	if err := ensureDir(path); err != nil {
		return err
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to create '%s'", path, err)
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil && err == nil {
			err = exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to close '%s'", path, closeErr)
		}
	}()

	pw, err := writer.NewParquetWriter(fw, new(Row), 1)
	if err != nil {
		return exception.NewBatchError(moduleName, exception.KindUnknown, "failed to create parquet writer", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return exception.NewBatchError(moduleName, exception.KindIO, "failed to write parquet row", err)
		}
	}

	// WriteStop can panic on schema mismatches inside the library.
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewBatchErrorf(moduleName, exception.KindUnknown, "parquet writer panicked: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return exception.NewBatchError(moduleName, exception.KindIO, "failed to finalize parquet file", err)
	}
	logger.Infof("Analysis results exported to %s (%d rows)", path, len(rows))
	return nil
}

// WriteWorkbook writes rows to a single-sheet xlsx workbook at path, one header row first.
func WriteWorkbook(path string, rows []Row) error {
	if len(rows) == 0 {
		return exception.NewBatchError(moduleName, exception.KindDataQuality, "no rows to write", nil)
	}
	df := frame(rows)
	if df.Err != nil {
		return exception.NewBatchError(moduleName, exception.KindUnknown, "failed to build result frame", df.Err)
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return exception.NewBatchError(moduleName, exception.KindUnknown, "failed to name worksheet", err)
	}

	names := df.Names()
	for i, name := range names {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, name); err != nil {
			return cellError(cell, err)
		}
	}
	for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
		for colIdx, name := range names {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(SheetName, cell, df.Col(name).Val(rowIdx)); err != nil {
				return cellError(cell, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to save workbook '%s'", path, err)
	}
	logger.Infof("Analysis results saved to workbook %s (%d rows)", path, df.Nrow())
	return nil
}

// frame builds one typed column per Row field.
func frame(rows []Row) dataframe.DataFrame {
	n := len(rows)
	colors, groupings := make([]string, n), make([]string, n)
	labels, metrics := make([]string, n), make([]string, n)
	ranks, buckets := make([]int, n), make([]int, n)
	values := make([]float64, n)
	for i, r := range rows {
		colors[i], groupings[i] = r.Color, r.Grouping
		labels[i], metrics[i] = r.Label, r.Metric
		ranks[i], buckets[i] = int(r.Rank), int(r.Bucket)
		values[i] = r.Value
	}
	return dataframe.New(
		series.New(colors, series.String, "color"),
		series.New(groupings, series.String, "grouping"),
		series.New(ranks, series.Int, "rank"),
		series.New(buckets, series.Int, "bucket"),
		series.New(labels, series.String, "label"),
		series.New(metrics, series.String, "metric"),
		series.New(values, series.Float, "value"),
	)
}

func cellError(cell string, err error) error {
	return exception.NewBatchError(moduleName, exception.KindUnknown, fmt.Sprintf("failed to set cell %s", cell), err)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to create directory for '%s'", path, err)
	}
	return nil
}
