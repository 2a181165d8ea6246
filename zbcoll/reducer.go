package zbcoll

// Combinator merges two reduce contributions. It must be associative and
// commutative, since the tree shape decides the order of application.
// Results are truncated to DataBits.
type Combinator func(a, b uint64) uint64

func BitwiseAnd(a, b uint64) uint64 { return a & b }

func BitwiseOr(a, b uint64) uint64 { return a | b }

func Min(a, b uint64) uint64 { return min(a, b) }

func Max(a, b uint64) uint64 { return max(a, b) }

// Sum adds contributions modulo 2^DataBits.
func Sum(a, b uint64) uint64 { return a + b }

// Combinators lists the built-in combinators by name.
var Combinators = map[string]Combinator{
	"and": BitwiseAnd,
	"or":  BitwiseOr,
	"min": Min,
	"max": Max,
	"sum": Sum,
}
