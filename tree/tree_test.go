package tree

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRowColReversible(t *testing.T) {
	for radix := 1; radix < 8; radix++ {
		for n := 0; n < 256; n++ {
			row, col, width := RowCol(radix, n)
			if col < 0 || col >= width {
				t.Fatalf("radix=%d n=%d: col %d outside row width %d", radix, n, col, width)
			}
			if m := NodeIndex(radix, row, col); m != n {
				t.Fatalf("radix=%d n=%d: NodeIndex(%d, %d) = %d", radix, n, row, col, m)
			}
			if m := NodeIndex(radix, row, width); m != Invalid {
				t.Fatalf("radix=%d n=%d row=%d col=%d: expected Invalid, got %d", radix, n, row, width, m)
			}
			if m := NodeIndex(radix, row, width+1); m != Invalid {
				t.Fatalf("radix=%d n=%d row=%d col=%d: expected Invalid, got %d", radix, n, row, width+1, m)
			}
		}
	}
}

func TestRowColLayout(t *testing.T) {
	for name, tc := range map[string]struct {
		radix, index           int
		expRow, expCol, expWid int
	}{
		"root":            {radix: 3, index: 0, expRow: 0, expCol: 0, expWid: 1},
		"chain":           {radix: 1, index: 5, expRow: 5, expCol: 0, expWid: 1},
		"binary row 2":    {radix: 2, index: 5, expRow: 2, expCol: 2, expWid: 4},
		"ternary row 3":   {radix: 3, index: 13, expRow: 3, expCol: 0, expWid: 27},
		"ternary row end": {radix: 3, index: 12, expRow: 2, expCol: 8, expWid: 9},
		"no radix":        {radix: 0, index: 9, expRow: 0, expCol: 0, expWid: 1},
	} {
		t.Run(name, func(t *testing.T) {
			row, col, wid := RowCol(tc.radix, tc.index)
			got := []int{row, col, wid}
			if diff := cmp.Diff([]int{tc.expRow, tc.expCol, tc.expWid}, got); diff != "" {
				t.Fatalf("unexpected position (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestRelativesMapping(t *testing.T) {
	if rels := Relatives(0, 0, 0); rels != nil {
		t.Fatalf("radix 0: expected no relatives, got %v", rels)
	}
	for radix := 1; radix < 8; radix++ {
		for nodes := 0; nodes < 256; nodes++ {
			for n := 0; n < nodes; n++ {
				rels := Relatives(radix, n, nodes)
				if len(rels) == 0 || len(rels) > radix+1 {
					t.Fatalf("radix=%d nodes=%d n=%d: %d relatives", radix, nodes, n, len(rels))
				}
				parent := NoParent
				if n > 0 {
					parent = (n - 1) / radix
				}
				var children []int
				for c := n*radix + 1; c <= n*radix+radix && c < nodes; c++ {
					children = append(children, c)
				}
				want := append([]int{parent}, children...)
				if diff := cmp.Diff(want, rels); diff != "" {
					t.Fatalf("radix=%d nodes=%d n=%d (-want, +got):\n%s", radix, nodes, n, diff)
				}
				if got := Parent(radix, n); got != parent {
					t.Fatalf("radix=%d n=%d: Parent = %d, want %d", radix, n, got, parent)
				}
				if diff := cmp.Diff(children, Children(radix, n, nodes)); diff != "" {
					t.Fatalf("radix=%d nodes=%d n=%d children (-want, +got):\n%s", radix, nodes, n, diff)
				}
			}
		}
	}
}

func TestRelativesEveryChildHasOneParent(t *testing.T) {
	const nodes = 100
	for radix := 1; radix < 8; radix++ {
		seen := make(map[int]int)
		for n := 0; n < nodes; n++ {
			for _, c := range Children(radix, n, nodes) {
				seen[c]++
				if p := Relatives(radix, c, nodes)[0]; p != n {
					t.Fatalf("radix=%d: child %d of %d reports parent %d", radix, c, n, p)
				}
			}
		}
		if len(seen) != nodes-1 {
			t.Fatalf("radix=%d: %d nodes reached from the root, want %d", radix, len(seen), nodes-1)
		}
		for c, k := range seen {
			if k != 1 {
				t.Fatalf("radix=%d: node %d listed as a child %d times", radix, c, k)
			}
		}
	}
}
