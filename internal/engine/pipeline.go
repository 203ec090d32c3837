// Package engine runs pipeline stages as tasklet steps of a persisted job.
package engine

import (
	"fmt"
	"strings"

	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
)

// Stage names, in canonical order.
const (
	StageLoad      = "load"
	StageClean     = "clean"
	StageTransform = "transform"
	StageAnalyze   = "analyze"
)

// EmissionFactorTable is the reference table the loader replaces on every run.
const EmissionFactorTable = "vehicle_emissions"

// Stage describes one pipeline stage and the tables it consumes and produces.
type Stage struct {
	Name string
	// LogName is the base name of the stage log file.
	LogName string
	// Requires lists tables that must exist before the stage runs.
	Requires []string
	// Produces lists tables the stage creates or replaces.
	Produces []string
}

// Pipeline is an ordered list of stages.
type Pipeline []Stage

// DefaultPipeline returns load, clean, transform and analyze, with table names for every color.
func DefaultPipeline() Pipeline {
	var raw, clean, transformed []string
	for _, c := range model.Colors() {
		raw = append(raw, c.RawTable())
		clean = append(clean, c.CleanTable())
		transformed = append(transformed, c.TransformedTable())
	}
	return Pipeline{
		{
			Name:     StageLoad,
			LogName:  "load",
			Produces: append(append([]string{}, raw...), EmissionFactorTable),
		},
		{
			Name:     StageClean,
			LogName:  "clean",
			Requires: raw,
			Produces: clean,
		},
		{
			Name:     StageTransform,
			LogName:  "transform",
			Requires: append(append([]string{}, clean...), EmissionFactorTable),
			Produces: transformed,
		},
		{
			Name:     StageAnalyze,
			LogName:  "analysis",
			Requires: transformed,
		},
	}
}

// Names returns the stage names in order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, s := range p {
		names[i] = s.Name
	}
	return names
}

// Select returns the named stages in pipeline order, whatever order names come in.
// No names selects every stage.
func (p Pipeline) Select(names ...string) (Pipeline, error) {
	if len(names) == 0 {
		return append(Pipeline{}, p...), nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if _, ok := p.find(n); !ok {
			return nil, exception.NewBatchErrorf("engine", exception.KindConfig, "unknown stage '%s' (known: %s)", n, strings.Join(p.Names(), ", "))
		}
		wanted[n] = true
	}
	var selected Pipeline
	for _, s := range p {
		if wanted[s.Name] {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

// Producer returns the stage that produces table.
func (p Pipeline) Producer(table string) (Stage, bool) {
	for _, s := range p {
		for _, t := range s.Produces {
			if t == table {
				return s, true
			}
		}
	}
	return Stage{}, false
}

func (p Pipeline) find(name string) (Stage, bool) {
	for _, s := range p {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

func (s Stage) String() string {
	return fmt.Sprintf("%s(requires=%v)", s.Name, s.Requires)
}
