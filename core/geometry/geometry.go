package geometry

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"

	"github.com/kilianp07/tankwatch/core/model"
)

// Converter is a validated, immutable distance to volume function for one
// geometry version. It is safe for concurrent use.
type Converter struct {
	geom     model.TankGeometry
	capacity float64
	table    *interp.FritschButland
}

// New validates g and prepares a converter for it.
func New(g model.TankGeometry) (*Converter, error) {
	if err := Validate(g); err != nil {
		return nil, err
	}
	c := &Converter{geom: g, capacity: Capacity(g)}
	if g.Shape == model.ShapeLookup {
		xs := make([]float64, len(g.Table))
		ys := make([]float64, len(g.Table))
		for i, p := range g.Table {
			xs[i], ys[i] = p.HeightCm, p.Liters
		}
		fb := &interp.FritschButland{}
		if err := fb.Fit(xs, ys); err != nil {
			return nil, &model.GeometryConfigError{TankID: g.TankID, Reason: err.Error()}
		}
		c.table = fb
	}
	return c, nil
}

// Geometry returns the geometry the converter was built from.
func (c *Converter) Geometry() model.TankGeometry { return c.geom }

// Capacity returns the full-tank volume in liters.
func (c *Converter) Capacity() float64 { return c.capacity }

// Volume converts a sensor distance into liters. Readings above the empty
// point yield 0; readings closer than the full point yield capacity.
func (c *Converter) Volume(distanceCm float64) float64 {
	if math.IsNaN(distanceCm) {
		return 0
	}
	h := c.geom.HeightCm - distanceCm
	if h <= 0 {
		return 0
	}
	if h > c.geom.HeightCm {
		return c.capacity
	}
	var v float64
	switch c.geom.Shape {
	case model.ShapeLookup:
		v = c.table.Predict(h)
	default:
		v = math.Pi * c.geom.RadiusCm * c.geom.RadiusCm * h / 1000
	}
	return clamp(v, 0, c.capacity)
}

// Percent returns liters as a percentage of capacity.
func (c *Converter) Percent(liters float64) float64 {
	if c.capacity <= 0 {
		return 0
	}
	return clamp(liters/c.capacity*100, 0, 100)
}

// Volume is the one-shot form of Converter.Volume.
func Volume(g model.TankGeometry, distanceCm float64) (float64, error) {
	c, err := New(g)
	if err != nil {
		return 0, err
	}
	return c.Volume(distanceCm), nil
}

// Capacity returns the supplied capacity or derives it from the shape.
func Capacity(g model.TankGeometry) float64 {
	if g.CapacityLiters > 0 {
		return g.CapacityLiters
	}
	switch g.Shape {
	case model.ShapeLookup:
		if n := len(g.Table); n > 0 {
			return g.Table[n-1].Liters
		}
		return 0
	default:
		return math.Pi * g.RadiusCm * g.RadiusCm * g.HeightCm / 1000
	}
}

// Validate reports a GeometryConfigError when volumes cannot be computed
// safely from g.
func Validate(g model.TankGeometry) error {
	bad := func(format string, args ...any) error {
		return &model.GeometryConfigError{TankID: g.TankID, Reason: fmt.Sprintf(format, args...)}
	}
	if g.TankID == "" {
		return bad("tank id is required")
	}
	if !(g.HeightCm > 0) || math.IsInf(g.HeightCm, 0) {
		return bad("height_cm must be positive, got %v", g.HeightCm)
	}
	if g.CapacityLiters < 0 || math.IsNaN(g.CapacityLiters) {
		return bad("capacity_liters must not be negative")
	}
	switch g.Shape {
	case model.ShapeCylindrical:
		if !(g.RadiusCm > 0) || math.IsInf(g.RadiusCm, 0) {
			return bad("radius_cm must be positive, got %v", g.RadiusCm)
		}
	case model.ShapeLookup:
		if len(g.Table) < 2 {
			return bad("calibration table needs at least 2 points")
		}
		if !sort.SliceIsSorted(g.Table, func(i, j int) bool { return g.Table[i].HeightCm < g.Table[j].HeightCm }) {
			return bad("calibration table must be sorted by height")
		}
		for i, p := range g.Table {
			if p.HeightCm < 0 || p.Liters < 0 || math.IsNaN(p.HeightCm) || math.IsNaN(p.Liters) {
				return bad("calibration point %d is negative", i)
			}
			if i == 0 {
				continue
			}
			prev := g.Table[i-1]
			if p.HeightCm <= prev.HeightCm {
				return bad("calibration heights must be strictly increasing at point %d", i)
			}
			if p.Liters < prev.Liters {
				return bad("calibration volumes must not decrease at point %d", i)
			}
		}
		if last := g.Table[len(g.Table)-1]; last.HeightCm > g.HeightCm {
			return bad("calibration height %.1f exceeds tank height %.1f", last.HeightCm, g.HeightCm)
		}
	default:
		return bad("unknown shape %q", g.Shape)
	}
	if Capacity(g) <= 0 {
		return bad("capacity resolves to zero")
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
