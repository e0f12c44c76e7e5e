// Package geo implements a grid index over issue locations answering
// "which points lie within R meters of P".
//
// The sphere is cut into square cells of a fixed angular size. Inserts lock a
// single cell; queries visit the neighbourhood of cells that can contain a hit
// and filter by exact haversine distance. Points are never removed.
package geo

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
)

// Earth geometry on the mean-radius sphere.
const (
	EarthRadiusMeters = 6_371_008.8
	MetersPerDegree   = EarthRadiusMeters * math.Pi / 180
)

const defaultCellDeg = 0.0045

// Hit is a point found by a query.
type Hit struct {
	ID             string
	DistanceMeters float64
}

type cellKey struct {
	row int
	col int
}

type point struct {
	id  string
	lat float64
	lng float64
}

type cell struct {
	mu     sync.RWMutex
	points []point
}

// Index is a concurrency-safe grid index.
type Index struct {
	cellDeg float64
	rows    int
	cols    int

	cells sync.Map // cellKey -> *cell
	ids   sync.Map // id -> struct{}
	n     atomic.Int64
}

// NewIndex builds an empty index.
func NewIndex(opts ...Option) *Index {
	x := &Index{cellDeg: defaultCellDeg}
	for _, opt := range opts {
		opt(x)
	}
	// tolerance keeps float noise from adding an empty sliver column
	x.rows = int(math.Ceil(180/x.cellDeg - 1e-9))
	x.cols = int(math.Ceil(360/x.cellDeg - 1e-9))
	return x
}

// CellDegrees reports the cell edge in degrees.
func (x *Index) CellDegrees() float64 { return x.cellDeg }

// Len returns the number of indexed points.
func (x *Index) Len() int { return int(x.n.Load()) }

func (x *Index) key(lat, lng float64) cellKey {
	row := int(math.Floor((lat + 90) / x.cellDeg))
	if row >= x.rows {
		row = x.rows - 1
	}
	if row < 0 {
		row = 0
	}
	return cellKey{row: row, col: x.wrapCol(int(math.Floor((lng + 180) / x.cellDeg)))}
}

func (x *Index) wrapCol(c int) int {
	c %= x.cols
	if c < 0 {
		c += x.cols
	}
	return c
}

// Insert adds a point. Inserting an id that is already indexed is a no-op.
func (x *Index) Insert(ctx context.Context, id string, lat, lng float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptyID
	}
	if err := model.ValidateCoordinates(lat, lng); err != nil {
		return fmt.Errorf("geo insert %s: %w", id, err)
	}
	if _, loaded := x.ids.LoadOrStore(id, struct{}{}); loaded {
		return nil
	}

	k := x.key(lat, lng)
	v, ok := x.cells.Load(k)
	if !ok {
		v, _ = x.cells.LoadOrStore(k, &cell{})
	}
	c := v.(*cell)
	c.mu.Lock()
	c.points = append(c.points, point{id: id, lat: lat, lng: lng})
	c.mu.Unlock()
	x.n.Add(1)
	return nil
}

// Contains reports whether id has been inserted.
func (x *Index) Contains(id string) bool {
	_, ok := x.ids.Load(id)
	return ok
}

// Query returns every point within radiusMeters of (lat, lng), nearest first.
func (x *Index) Query(ctx context.Context, lat, lng, radiusMeters float64) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := model.ValidateCoordinates(lat, lng); err != nil {
		return nil, fmt.Errorf("geo query: %w", err)
	}
	if radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return nil, ErrInvalidRadius
	}

	radDeg := radiusMeters / MetersPerDegree
	center := x.key(lat, lng)
	dRow := int(math.Ceil(radDeg / x.cellDeg))
	rowLo, rowHi := center.row-dRow, center.row+dRow

	var hits []Hit
	scan := func(c *cell) {
		c.mu.RLock()
		for _, p := range c.points {
			if d := Haversine(lat, lng, p.lat, p.lng); d <= radiusMeters {
				hits = append(hits, Hit{ID: p.id, DistanceMeters: d})
			}
		}
		c.mu.RUnlock()
	}

	if dCol, ok := x.colSpan(lat, radDeg); ok {
		for r := max(rowLo, 0); r <= min(rowHi, x.rows-1); r++ {
			for dc := -dCol; dc <= dCol; dc++ {
				if v, found := x.cells.Load(cellKey{row: r, col: x.wrapCol(center.col + dc)}); found {
					scan(v.(*cell))
				}
			}
		}
	} else {
		// polar cap or continent-sized radius: the band spans every column
		x.cells.Range(func(k, v any) bool {
			if r := k.(cellKey).row; r >= rowLo && r <= rowHi {
				scan(v.(*cell))
			}
			return true
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceMeters != hits[j].DistanceMeters {
			return hits[i].DistanceMeters < hits[j].DistanceMeters
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

// colSpan returns how many columns either side of the centre a query must
// visit, or false when the whole latitude band has to be scanned.
func (x *Index) colSpan(lat, radDeg float64) (int, bool) {
	edge := math.Abs(lat) + radDeg
	if edge >= 90 {
		return 0, false
	}
	cos := math.Cos(edge * math.Pi / 180)
	if cos < 1e-9 {
		return 0, false
	}
	d := int(math.Ceil(radDeg / cos / x.cellDeg))
	if 2*d+1 >= x.cols {
		return 0, false
	}
	return d, true
}

// Haversine returns the great-circle distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// DegreesToMeters converts an angular distance along a meridian to meters.
func DegreesToMeters(deg float64) float64 { return deg * MetersPerDegree }
