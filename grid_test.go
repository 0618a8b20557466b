package jar_arm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellToPoint(t *testing.T) {
	tests := []struct {
		name     string
		col, row int
		expected CartesianTarget
	}{
		{name: "first cell", col: 0, row: 0, expected: CartesianTarget{X: -360, Y: 40}},
		{name: "middle column", col: 6, row: 0, expected: CartesianTarget{X: 0, Y: 40}},
		{name: "last cell", col: 12, row: 6, expected: CartesianTarget{X: 360, Y: 400}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := CellToPoint(tt.col, tt.row, DefaultGrid)
			assert.InDelta(t, tt.expected.X, p.X, 1e-9)
			assert.InDelta(t, tt.expected.Y, p.Y, 1e-9)
		})
	}
}

func TestSerpentineOrder(t *testing.T) {
	grid := GridSpec{Columns: 3, Rows: 2, CellDiameter: 60}
	expected := []Cell{
		{Col: 0, Row: 0}, {Col: 0, Row: 1},
		{Col: 1, Row: 1}, {Col: 1, Row: 0},
		{Col: 2, Row: 0}, {Col: 2, Row: 1},
	}
	assert.Equal(t, expected, grid.SerpentineOrder())
}

func TestSerpentineOrderVisitsEveryCellOnce(t *testing.T) {
	cells := DefaultGrid.SerpentineOrder()
	require.Len(t, cells, DefaultGrid.CellCount())

	seen := map[Cell]bool{}
	for i, c := range cells {
		assert.True(t, DefaultGrid.Contains(c))
		assert.False(t, seen[c], "cell %s visited twice", c)
		seen[c] = true
		if i > 0 {
			prev := cells[i-1]
			steps := abs(prev.Col-c.Col) + abs(prev.Row-c.Row)
			assert.Equal(t, 1, steps, "%s -> %s is not a neighbour", prev, c)
		}
	}
}

func TestGridValidate(t *testing.T) {
	assert.NoError(t, DefaultGrid.Validate())
	assert.Error(t, GridSpec{Columns: 0, Rows: 1, CellDiameter: 1}.Validate())
	assert.Error(t, GridSpec{Columns: 1, Rows: -1, CellDiameter: 1}.Validate())
	assert.Error(t, GridSpec{Columns: 1, Rows: 1}.Validate())
}

func TestGridContains(t *testing.T) {
	grid := GridSpec{Columns: 2, Rows: 2, CellDiameter: 10}
	assert.True(t, grid.Contains(Cell{Col: 1, Row: 1}))
	assert.False(t, grid.Contains(Cell{Col: 2, Row: 0}))
	assert.False(t, grid.Contains(Cell{Col: 0, Row: -1}))
}

func TestTargetDistance(t *testing.T) {
	assert.InDelta(t, 5.0, CartesianTarget{X: 3, Y: -4}.Distance(), 1e-12)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
