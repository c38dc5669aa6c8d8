package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// DefaultSeed and DefaultTestFraction reproduce the historical 80/20 split.
const (
	DefaultSeed         = 42
	DefaultTestFraction = 0.2
)

// Split shuffles the frame deterministically and holds out
// ceil(testFraction*n) rows for evaluation.
func Split(f *Frame, testFraction float64, seed int64) (train, test *Frame, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction %v outside (0,1)", testFraction)
	}
	n := f.Len()
	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest == 0 || nTest >= n {
		return nil, nil, fmt.Errorf("cannot split %d rows with test fraction %v", n, testFraction)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return f.Subset(perm[nTest:]), f.Subset(perm[:nTest]), nil
}
