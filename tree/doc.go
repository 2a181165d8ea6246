// Package tree lays out node indices 0..N-1 as an array-based k-ary tree and
// answers parent/child questions about it.
//
// Rows are filled left to right. Row r holds radix^r nodes, so for radix 2:
//
//	row 0: 0
//	row 1: 1, 2
//	row 2: 3, 4, 5, 6
//	row 3: 7, 8, ... 14
//
// Radix 1 degenerates into a chain. Node 0 is always the root. Every function
// in this package is pure and safe for concurrent use.
package tree
