package bingo

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCard is returned when a card does not fit its round's grid.
	ErrInvalidCard = errors.New("invalid card")
	// ErrRangeTooNarrow is returned when a card of distinct numbers cannot be
	// laid out over the grid's range.
	ErrRangeTooNarrow = errors.New("range too narrow for card")
)

const minGridSize = 3

// Grid is the card geometry and number range of a round.
type Grid struct {
	Rows     int
	Cols     int
	MinRange int
	MaxRange int
	Free     FreeSpace
}

// Validate checks the invariants every round grid must satisfy.
func (g Grid) Validate() error {
	if g.Rows < minGridSize || g.Cols < minGridSize {
		return fmt.Errorf("grid must be at least %dx%d, got %dx%d", minGridSize, minGridSize, g.Rows, g.Cols)
	}
	if g.MinRange >= g.MaxRange {
		return fmt.Errorf("%w: %d..%d", ErrInvalidRange, g.MinRange, g.MaxRange)
	}
	if g.Free.Enabled && (g.Free.Row < 0 || g.Free.Row >= g.Rows || g.Free.Col < 0 || g.Free.Col >= g.Cols) {
		return fmt.Errorf("free space (%d,%d) outside %dx%d grid", g.Free.Row, g.Free.Col, g.Rows, g.Cols)
	}
	return nil
}

func (g Grid) isFree(row, col int) bool {
	return g.Free.Enabled && g.Free.Row == row && g.Free.Col == col
}

// ValidateCard checks that a layout has the grid's dimensions and that every
// non-free cell holds a distinct number inside the range.
func (g Grid) ValidateCard(layout [][]int) error {
	if len(layout) != g.Rows {
		return fmt.Errorf("%w: expected %d rows, got %d", ErrInvalidCard, g.Rows, len(layout))
	}
	seen := make(map[int]struct{}, g.Rows*g.Cols)
	for r, row := range layout {
		if len(row) != g.Cols {
			return fmt.Errorf("%w: row %d has %d columns, expected %d", ErrInvalidCard, r, len(row), g.Cols)
		}
		for c, n := range row {
			if g.isFree(r, c) {
				continue
			}
			if n < g.MinRange || n > g.MaxRange {
				return fmt.Errorf("%w: %d at (%d,%d) outside %d..%d", ErrInvalidCard, n, r, c, g.MinRange, g.MaxRange)
			}
			if _, dup := seen[n]; dup {
				return fmt.Errorf("%w: %d appears twice", ErrInvalidCard, n)
			}
			seen[n] = struct{}{}
		}
	}
	return nil
}

// GenerateCard lays out a new card for the grid. The range is split into one
// band per column (B-I-N-G-O style) and column c draws Rows numbers from band
// c, so the range must hold at least Rows*Cols numbers. The free cell holds 0.
func (p *NumberPool) GenerateCard(g Grid) ([][]int, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if RangeSize(g.MinRange, g.MaxRange) < g.Rows*g.Cols {
		return nil, fmt.Errorf("%w: %d..%d cannot fill a %dx%d card", ErrRangeTooNarrow, g.MinRange, g.MaxRange, g.Rows, g.Cols)
	}

	layout := make([][]int, g.Rows)
	for r := range layout {
		layout[r] = make([]int, g.Cols)
	}

	band := RangeSize(g.MinRange, g.MaxRange) / g.Cols
	for c := 0; c < g.Cols; c++ {
		lo := g.MinRange + c*band
		hi := lo + band - 1
		if c == g.Cols-1 {
			hi = g.MaxRange
		}
		nums, err := p.Shuffle(lo, hi, g.Rows)
		if err != nil {
			return nil, err
		}
		for r := 0; r < g.Rows; r++ {
			layout[r][c] = nums[r]
		}
	}

	if g.Free.Enabled {
		layout[g.Free.Row][g.Free.Col] = 0
	}
	return layout, nil
}

// SameLayout reports whether two layouts hold the same numbers in the same cells.
func SameLayout(a, b [][]int) bool {
	if len(a) != len(b) {
		return false
	}
	for r := range a {
		if len(a[r]) != len(b[r]) {
			return false
		}
		for c := range a[r] {
			if a[r][c] != b[r][c] {
				return false
			}
		}
	}
	return true
}
