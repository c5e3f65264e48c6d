package expansion

import (
	"fmt"
	"sort"
	"strconv"
)

// Positions of the fixed features in a score vector. Phrase scores follow,
// one per table and direction.
const (
	FeatureWordPenalty = iota
	FeatureLanguageModel
	FeatureTargetSegLen
	FeatureSourceJump
	FeatureSourceSegLen
	numFixedFeatures
)

var fixedFeatureNames = [numFixedFeatures]string{"wp", "lm", "tseglen", "sjump", "sseglen"}

// Features describes the layout of a score vector for a given number of phrase tables.
type Features struct {
	Tables int
}

// Len returns the number of score components.
func (f Features) Len() int { return numFixedFeatures + 2*f.Tables }

// PTS returns the index of the direct phrase score of table i.
func (f Features) PTS(i int) int { return numFixedFeatures + i }

// PST returns the index of the inverse phrase score of table i.
func (f Features) PST(i int) int { return numFixedFeatures + f.Tables + i }

// Names returns the feature names in vector order.
func (f Features) Names() []string {
	names := make([]string, 0, f.Len())
	names = append(names, fixedFeatureNames[:]...)
	for i := 0; i < f.Tables; i++ {
		names = append(names, tableFeature("pts", i))
	}
	for i := 0; i < f.Tables; i++ {
		names = append(names, tableFeature("pst", i))
	}
	return names
}

func tableFeature(prefix string, i int) string {
	if i == 0 {
		return prefix
	}
	return prefix + "_" + strconv.Itoa(i)
}

// Weights are the log-linear weights in feature order.
type Weights []float64

// NewWeights resolves named weights. Features without an entry weigh 1.
func NewWeights(f Features, named map[string]float64) (Weights, error) {
	names := f.Names()
	index := make(map[string]int, len(names))
	w := make(Weights, len(names))
	for i, n := range names {
		index[n] = i
		w[i] = 1
	}

	var unknown []string
	for name, v := range named {
		i, ok := index[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		w[i] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown feature weights %v (features are %v)", unknown, names)
	}
	return w, nil
}

// Named returns the weights keyed by feature name.
func (w Weights) Named(f Features) map[string]float64 {
	out := make(map[string]float64, len(w))
	for i, n := range f.Names() {
		out[n] = w[i]
	}
	return out
}
