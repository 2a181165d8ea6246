package tree

const (
	// Invalid is returned by NodeIndex for a column outside its row.
	Invalid = -1
	// NoParent is the parent entry reported for the root.
	NoParent = -1
)

// RowCol returns the row of index, its column within that row and the width
// of the row (0 <= col < width). A radix below 1 places everything at the
// root position.
func RowCol(radix, index int) (row, col, width int) {
	width = 1
	if radix < 1 {
		return 0, 0, width
	}
	cum := 0
	for index > cum {
		width *= radix
		row++
		col = index - cum - 1
		cum += width
	}
	return row, col, width
}

// NodeIndex is the inverse of RowCol. It returns Invalid when col does not
// fit in the requested row.
func NodeIndex(radix, row, col int) int {
	index := 0
	width := 1
	cum := 0
	for r := 0; radix > 0 && r < row; r++ {
		width *= radix
		index = cum + col + 1
		cum += width
	}
	if col >= width || col < 0 {
		return Invalid
	}
	return index
}

// Relatives returns the parent of index followed by its children in a tree
// of total nodes. The parent is always first and is NoParent for the root.
// At most radix+1 entries are returned; nil when radix < 1 or total == 0.
func Relatives(radix, index, total int) []int {
	if radix < 1 || total <= 0 {
		return nil
	}
	row, col, _ := RowCol(radix, index)
	rels := make([]int, 0, radix+1)
	if row > 0 {
		rels = append(rels, NodeIndex(radix, row-1, col/radix))
	} else {
		rels = append(rels, NoParent)
	}
	first := NodeIndex(radix, row+1, col*radix)
	for n := 0; n < radix; n++ {
		if first+n >= total {
			break
		}
		rels = append(rels, first+n)
	}
	return rels
}

// Parent returns the parent of index, or NoParent for the root.
func Parent(radix, index int) int {
	if radix < 1 || index <= 0 {
		return NoParent
	}
	return (index - 1) / radix
}

// Children returns the children of index that exist in a tree of total nodes.
func Children(radix, index, total int) []int {
	rels := Relatives(radix, index, total)
	if len(rels) < 2 {
		return nil
	}
	return rels[1:]
}
