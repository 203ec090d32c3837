package model

import (
	"fmt"
	"strings"
)

// Color identifies one of the two parallel taxi tracks.
// Every table and column name a stage touches is derived from it, never assembled by callers.
type Color int

const (
	Yellow Color = iota
	Green
)

type colorSpec struct {
	name        string
	displayName string
	pickup      string
	dropoff     string
	vehicleType string
}

var colorSpecs = [...]colorSpec{
	Yellow: {
		name:        "yellow",
		displayName: "Yellow Taxi",
		pickup:      "tpep_pickup_datetime",
		dropoff:     "tpep_dropoff_datetime",
		vehicleType: "yellow_taxi",
	},
	Green: {
		name:        "green",
		displayName: "Green Taxi",
		pickup:      "lpep_pickup_datetime",
		dropoff:     "lpep_dropoff_datetime",
		vehicleType: "green_taxi",
	},
}

// Colors returns every color in processing order.
func Colors() []Color {
	return []Color{Yellow, Green}
}

// ParseColor accepts "yellow" or "green", case-insensitively.
func ParseColor(s string) (Color, error) {
	for _, c := range Colors() {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown taxi color %q", s)
}

func (c Color) spec() colorSpec {
	if c < 0 || int(c) >= len(colorSpecs) {
		panic(fmt.Sprintf("model: invalid Color %d", int(c)))
	}
	return colorSpecs[c]
}

func (c Color) String() string { return c.spec().name }

// DisplayName is the label used for chart series.
func (c Color) DisplayName() string { return c.spec().displayName }

// PickupColumn is the pickup timestamp column of the raw files.
func (c Color) PickupColumn() string { return c.spec().pickup }

// DropoffColumn is the dropoff timestamp column of the raw files.
func (c Color) DropoffColumn() string { return c.spec().dropoff }

// VehicleType is the key of this color's row in the emission factor table.
func (c Color) VehicleType() string { return c.spec().vehicleType }

// RawTable holds every loaded trip for the color.
func (c Color) RawTable() string { return c.String() + "_taxi_all_years" }

// CleanTable holds the deduplicated and filtered trips.
func (c Color) CleanTable() string { return c.RawTable() + "_clean" }

// TransformedTable holds clean trips with emission and calendar columns.
func (c Color) TransformedTable() string { return c.String() + "_taxi_data_transformed" }

// RequiredColumns lists the source columns every stage relies on.
func (c Color) RequiredColumns() []string {
	return []string{"passenger_count", "trip_distance", c.PickupColumn(), c.DropoffColumn()}
}

// MarshalText encodes the color by name.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a color name.
func (c *Color) UnmarshalText(b []byte) error {
	parsed, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
