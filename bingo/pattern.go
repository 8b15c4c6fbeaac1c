package bingo

// Cell is a (row, col) coordinate on a card grid.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Shape is the set of cells that must be marked for a pattern to win.
type Shape []Cell

// PatternType distinguishes fixed shapes from shapes with declared variants.
type PatternType string

const (
	// PatternStatic matches only its own cells.
	PatternStatic PatternType = "static"
	// PatternDynamic also matches any variant the pattern declares.
	PatternDynamic PatternType = "dynamic"
)

// Pattern is the matcher's view of a winning pattern.
type Pattern struct {
	Type           PatternType
	Shape          Shape
	Variants       []Shape
	AllowFreeSpace bool
}

// FreeSpace marks the cell that counts as called without a number.
type FreeSpace struct {
	Enabled bool
	Row     int
	Col     int
}

// NumberSet is the set of numbers called so far in a round.
type NumberSet map[int]struct{}

// NewNumberSet builds a set from a slice of called numbers.
func NewNumberSet(numbers []int) NumberSet {
	set := make(NumberSet, len(numbers))
	for _, n := range numbers {
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether n has been called.
func (s NumberSet) Has(n int) bool {
	_, ok := s[n]
	return ok
}

// IsSatisfied reports whether every cell of shape is either the enabled free
// space or holds a called number. Cells outside the layout never match.
func IsSatisfied(layout [][]int, called NumberSet, shape Shape, free FreeSpace) bool {
	if len(shape) == 0 {
		return false
	}
	for _, cell := range shape {
		if cell.Row < 0 || cell.Row >= len(layout) {
			return false
		}
		row := layout[cell.Row]
		if cell.Col < 0 || cell.Col >= len(row) {
			return false
		}
		if free.Enabled && cell.Row == free.Row && cell.Col == free.Col {
			continue
		}
		if !called.Has(row[cell.Col]) {
			return false
		}
	}
	return true
}

// Matches evaluates a pattern against a card. Dynamic patterns are tried
// against their own shape and then each declared variant, in order.
func Matches(layout [][]int, called NumberSet, pattern Pattern, free FreeSpace) bool {
	if !pattern.AllowFreeSpace {
		free.Enabled = false
	}
	if IsSatisfied(layout, called, pattern.Shape, free) {
		return true
	}
	if pattern.Type != PatternDynamic {
		return false
	}
	for _, variant := range pattern.Variants {
		if IsSatisfied(layout, called, variant, free) {
			return true
		}
	}
	return false
}

// FirstMatch returns the index of the first pattern satisfied by the card, or -1.
func FirstMatch(layout [][]int, called NumberSet, patterns []Pattern, free FreeSpace) int {
	for i, pattern := range patterns {
		if Matches(layout, called, pattern, free) {
			return i
		}
	}
	return -1
}

// ShapeFromPairs converts [[row, col], ...] into a Shape. Pairs that are not
// exactly two values long are skipped.
func ShapeFromPairs(pairs [][]int) Shape {
	shape := make(Shape, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			continue
		}
		shape = append(shape, Cell{Row: p[0], Col: p[1]})
	}
	return shape
}

// FitsGrid reports whether every cell lies inside a rows x cols grid.
func (s Shape) FitsGrid(rows, cols int) bool {
	for _, cell := range s {
		if cell.Row < 0 || cell.Row >= rows || cell.Col < 0 || cell.Col >= cols {
			return false
		}
	}
	return true
}

// FitsGrid reports whether the pattern's cells, and for a dynamic pattern
// every declared variant, lie inside a rows x cols grid.
func (p Pattern) FitsGrid(rows, cols int) bool {
	if !p.Shape.FitsGrid(rows, cols) {
		return false
	}
	if p.Type != PatternDynamic {
		return true
	}
	for _, v := range p.Variants {
		if !v.FitsGrid(rows, cols) {
			return false
		}
	}
	return true
}
