package jar_arm

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// GridSpec describes the jar rack. Offsets locate the shoulder pivot relative
// to the rack's reference corner, in millimetres.
type GridSpec struct {
	Columns      int     `json:"columns"`
	Rows         int     `json:"rows"`
	CellDiameter float64 `json:"cell_diameter_mm"`
	OriginX      float64 `json:"origin_x_mm"`
	OriginY      float64 `json:"origin_y_mm"`
}

// CartesianTarget is a point in the arm's plane, in millimetres relative to
// the shoulder pivot.
type CartesianTarget struct {
	X float64 `json:"x_mm"`
	Y float64 `json:"y_mm"`
}

// Vector returns the target as a point on the z=0 plane.
func (t CartesianTarget) Vector() r3.Vector {
	return r3.Vector{X: t.X, Y: t.Y}
}

// Distance from the shoulder pivot.
func (t CartesianTarget) Distance() float64 {
	return t.Vector().Norm()
}

func (t CartesianTarget) String() string {
	return fmt.Sprintf("(%.3f, %.3f)", t.X, t.Y)
}

// Cell identifies a jar by column and row index.
type Cell struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.Col, c.Row)
}

// Validate checks that the grid has a usable shape.
func (g GridSpec) Validate() error {
	if g.Columns <= 0 {
		return fmt.Errorf("grid columns must be positive, got %d", g.Columns)
	}
	if g.Rows <= 0 {
		return fmt.Errorf("grid rows must be positive, got %d", g.Rows)
	}
	if g.CellDiameter <= 0 {
		return fmt.Errorf("grid cell_diameter_mm must be positive, got %.3f", g.CellDiameter)
	}
	return nil
}

// Contains reports whether the cell lies inside the grid.
func (g GridSpec) Contains(c Cell) bool {
	return c.Col >= 0 && c.Col < g.Columns && c.Row >= 0 && c.Row < g.Rows
}

// CellCount is the number of jars in the rack.
func (g GridSpec) CellCount() int {
	return g.Columns * g.Rows
}

// cellCoord puts index i at the centre of its cell and shifts it into the
// shoulder frame.
func cellCoord(i int, diameter, origin float64) float64 {
	return float64(i)*diameter + diameter/2 - origin
}

// CellToPoint returns the centre of cell (col, row) in the shoulder frame.
func CellToPoint(col, row int, grid GridSpec) CartesianTarget {
	return CartesianTarget{
		X: cellCoord(col, grid.CellDiameter, grid.OriginX),
		Y: cellCoord(row, grid.CellDiameter, grid.OriginY),
	}
}

// Point is CellToPoint for a Cell.
func (g GridSpec) Point(c Cell) CartesianTarget {
	return CellToPoint(c.Col, c.Row, g)
}

// SerpentineOrder enumerates every cell column by column. Even columns walk
// rows upward and odd columns walk them downward, so consecutive cells are
// always neighbours.
func (g GridSpec) SerpentineOrder() []Cell {
	cells := make([]Cell, 0, g.CellCount())
	for col := 0; col < g.Columns; col++ {
		if col%2 == 0 {
			for row := 0; row < g.Rows; row++ {
				cells = append(cells, Cell{Col: col, Row: row})
			}
		} else {
			for row := g.Rows - 1; row >= 0; row-- {
				cells = append(cells, Cell{Col: col, Row: row})
			}
		}
	}
	return cells
}
