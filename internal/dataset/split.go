package dataset

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// Splitter divides a labeled dataset into (optionally shuffled, optionally
// stratified) subsets. A fixed Seed makes every split deterministic.
type Splitter struct {
	Shuffle bool
	Seed    int64
}

// Fold is one train/test index pair produced by k-fold cross-validation.
type Fold struct {
	Train []int
	Test  []int
}

func (s *Splitter) rng() *rand.Rand {
	return rand.New(rand.NewSource(s.Seed))
}

// Split partitions the indices of y into train and test sets. With stratify
// the class proportions of y are preserved in both sides.
func (s *Splitter) Split(y []int, trainRatio float64, stratify bool) (train, test []int, err error) {
	if len(y) == 0 {
		return nil, nil, errors.New("split: empty label vector")
	}
	if trainRatio <= 0 || trainRatio >= 1 {
		return nil, nil, errors.Errorf("split: train ratio must be in (0, 1), got %v", trainRatio)
	}

	rng := s.rng()

	if !stratify {
		indices := sequence(len(y))
		if s.Shuffle {
			rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		}
		trainSize := int(trainRatio * float64(len(y)))
		return indices[:trainSize], indices[trainSize:], nil
	}

	for _, indices := range groupByLabel(y) {
		size := int(trainRatio * float64(len(indices)))
		train = append(train, indices[:size]...)
		test = append(test, indices[size:]...)
	}
	if s.Shuffle {
		rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
		rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	}
	return train, test, nil
}

// KFold splits the indices of y into nFolds folds of approximately equal
// size. The last fold absorbs the remainder.
func (s *Splitter) KFold(y []int, nFolds int, stratify bool) ([][]int, error) {
	if nFolds < 2 {
		return nil, errors.Errorf("kfold: need at least 2 folds, got %d", nFolds)
	}
	if nFolds > len(y) {
		return nil, errors.Errorf("kfold: %d folds for %d samples", nFolds, len(y))
	}

	rng := s.rng()
	folds := make([][]int, nFolds)

	if !stratify {
		indices := sequence(len(y))
		if s.Shuffle {
			rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		}
		foldSize := len(y) / nFolds
		for k := 0; k < nFolds; k++ {
			if k < nFolds-1 {
				folds[k] = indices[k*foldSize : (k+1)*foldSize]
			} else {
				folds[k] = indices[k*foldSize:]
			}
		}
		return folds, nil
	}

	for _, indices := range groupByLabel(y) {
		size := len(indices) / nFolds
		for k := 0; k < nFolds; k++ {
			if k < nFolds-1 {
				folds[k] = append(folds[k], indices[k*size:(k+1)*size]...)
			} else {
				folds[k] = append(folds[k], indices[k*size:]...)
			}
		}
	}
	if s.Shuffle {
		for k := range folds {
			fold := folds[k]
			rng.Shuffle(len(fold), func(i, j int) { fold[i], fold[j] = fold[j], fold[i] })
		}
	}
	return folds, nil
}

// KFoldSplit yields the train/test index pairs for k-fold cross-validation:
// each fold in turn is the test set, the concatenation of the rest trains.
func (s *Splitter) KFoldSplit(y []int, nFolds int, stratify bool) ([]Fold, error) {
	folds, err := s.KFold(y, nFolds, stratify)
	if err != nil {
		return nil, err
	}

	out := make([]Fold, nFolds)
	for i := 0; i < nFolds; i++ {
		var train []int
		for j, fold := range folds {
			if j != i {
				train = append(train, fold...)
			}
		}
		out[i] = Fold{Train: train, Test: folds[i]}
	}
	return out, nil
}

func sequence(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// groupByLabel returns per-class index slices in ascending label order so
// that stratified splits are reproducible.
func groupByLabel(y []int) [][]int {
	byLabel := make(map[int][]int)
	for i, label := range y {
		byLabel[label] = append(byLabel[label], i)
	}
	labels := make([]int, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	groups := make([][]int, 0, len(labels))
	for _, label := range labels {
		groups = append(groups, byLabel[label])
	}
	return groups
}
