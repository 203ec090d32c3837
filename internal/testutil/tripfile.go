// Package testutil writes monthly trip fixtures shaped like the published parquet files.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/taxiemissions/internal/domain/model"
)

// Trip is one fixture row.
type Trip struct {
	Vendor         int64
	Pickup         time.Time
	Dropoff        time.Time
	PassengerCount int64
	Distance       float64
}

type yellowRow struct {
	VendorID            int64   `parquet:"name=VendorID, type=INT64"`
	TpepPickupDatetime  int64   `parquet:"name=tpep_pickup_datetime, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	TpepDropoffDatetime int64   `parquet:"name=tpep_dropoff_datetime, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	PassengerCount      int64   `parquet:"name=passenger_count, type=INT64"`
	TripDistance        float64 `parquet:"name=trip_distance, type=DOUBLE"`
}

type greenRow struct {
	VendorID            int64   `parquet:"name=VendorID, type=INT64"`
	LpepPickupDatetime  int64   `parquet:"name=lpep_pickup_datetime, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	LpepDropoffDatetime int64   `parquet:"name=lpep_dropoff_datetime, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	PassengerCount      int64   `parquet:"name=passenger_count, type=INT64"`
	TripDistance        float64 `parquet:"name=trip_distance, type=DOUBLE"`
}

// PartialRow lacks the dropoff column, for schema probe failures.
type PartialRow struct {
	VendorID       int64   `parquet:"name=VendorID, type=INT64"`
	PassengerCount int64   `parquet:"name=passenger_count, type=INT64"`
	TripDistance   float64 `parquet:"name=trip_distance, type=DOUBLE"`
}

// WriteTripFile writes trips to dir/{color}_tripdata_{period}.parquet and returns the path.
func WriteTripFile(t *testing.T, dir string, color model.Color, period model.Period, trips []Trip) string {
	t.Helper()
	path := filepath.Join(dir, color.String()+"_tripdata_"+period.String()+".parquet")

	rows := make([]interface{}, 0, len(trips))
	var prototype interface{}
	switch color {
	case model.Green:
		prototype = new(greenRow)
		for _, tr := range trips {
			rows = append(rows, greenRow{
				VendorID:            tr.Vendor,
				LpepPickupDatetime:  tr.Pickup.UnixMilli(),
				LpepDropoffDatetime: tr.Dropoff.UnixMilli(),
				PassengerCount:      tr.PassengerCount,
				TripDistance:        tr.Distance,
			})
		}
	default:
		prototype = new(yellowRow)
		for _, tr := range trips {
			rows = append(rows, yellowRow{
				VendorID:            tr.Vendor,
				TpepPickupDatetime:  tr.Pickup.UnixMilli(),
				TpepDropoffDatetime: tr.Dropoff.UnixMilli(),
				PassengerCount:      tr.PassengerCount,
				TripDistance:        tr.Distance,
			})
		}
	}
	WriteParquet(t, path, prototype, rows)
	return path
}

// WriteParquet writes rows with the schema of prototype.
func WriteParquet(t *testing.T, path string, prototype interface{}, rows []interface{}) {
	t.Helper()
	fw, err := local.NewLocalFileWriter(path)
	require.NoError(t, err)
	pw, err := writer.NewParquetWriter(fw, prototype, 1)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, pw.Write(r))
	}
	require.NoError(t, pw.WriteStop())
	require.NoError(t, fw.Close())
}
