package geo

// Option applies a configuration option to the Index.
type Option func(*Index)

// WithCellSizeDegrees sets the cell edge. Choosing the duplicate radius keeps
// duplicate queries inside a small neighbourhood of cells.
func WithCellSizeDegrees(deg float64) Option {
	return func(x *Index) {
		if deg > 0 && deg <= 90 {
			x.cellDeg = deg
		}
	}
}
