// Package knn implements brute-force k-nearest-neighbor classification.
package knn

import (
	"encoding/json"
	"math"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/AndreiCostinescu/ml1-mnist/internal/estimator"
)

const modelName = "knn"

// Distance metrics supported by the classifier.
const (
	Euclidean = "euclidean"
	Cosine    = "cosine"
)

const distanceEpsilon = 1e-9

// Classifier predicts by majority vote among the K nearest training points.
type Classifier struct {
	K        int
	Metric   string
	Weighted bool
	// Workers bounds the number of goroutines scoring test rows. Zero
	// means GOMAXPROCS.
	Workers int

	numClasses  int
	numFeatures int
	x           *mat.Dense
	y           []int
	sqNorms     []float64
}

// New returns an unweighted Euclidean k-NN classifier.
func New(k int) *Classifier {
	return &Classifier{K: k, Metric: Euclidean}
}

func init() {
	estimator.Register(modelName, func() estimator.Persistable { return New(0) })
}

// Name implements estimator.Classifier.
func (c *Classifier) Name() string { return modelName }

// Fit memorizes the training set and caches per-row squared norms so that
// Euclidean distances reduce to a dot product at query time.
func (c *Classifier) Fit(x *mat.Dense, y []int) error {
	if c.K < 1 {
		return errors.Errorf("k must be at least 1, got %d", c.K)
	}
	if c.Metric != Euclidean && c.Metric != Cosine {
		return errors.Errorf("unknown metric %q", c.Metric)
	}
	numClasses := 0
	for _, label := range y {
		if label >= numClasses {
			numClasses = label + 1
		}
	}
	if err := estimator.ValidateTraining(x, y, numClasses); err != nil {
		return err
	}

	rows, cols := x.Dims()
	c.x = mat.DenseCopyOf(x)
	c.y = append([]int(nil), y...)
	c.numClasses = numClasses
	c.numFeatures = cols
	c.sqNorms = make([]float64, rows)
	for i := 0; i < rows; i++ {
		row := c.x.RawRowView(i)
		c.sqNorms[i] = floats.Dot(row, row)
	}
	return nil
}

// Predict classifies each row of x by voting among its nearest neighbors.
func (c *Classifier) Predict(x *mat.Dense) ([]int, error) {
	probs, err := c.Probabilities(x)
	if err != nil {
		return nil, err
	}
	rows, _ := probs.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		out[i] = estimator.Argmax(probs.RawRowView(i))
	}
	return out, nil
}

// Probabilities reports the (possibly distance-weighted) vote shares per
// class. Ties in the vote break toward the class with the smaller mean
// neighbor distance, then the smaller label; the winner gets a nudge so that
// an argmax over the row reproduces the tie-break.
func (c *Classifier) Probabilities(x *mat.Dense) (*mat.Dense, error) {
	if c.x == nil {
		return nil, estimator.ErrNotFitted
	}
	if err := estimator.CheckFeatures(x, c.numFeatures); err != nil {
		return nil, err
	}

	rows, _ := x.Dims()
	out := mat.NewDense(rows, c.numClasses, nil)

	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > rows {
		workers = rows
	}

	var wg sync.WaitGroup
	next := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				c.vote(x.RawRowView(i), out.RawRowView(i))
			}
		}()
	}
	for i := 0; i < rows; i++ {
		next <- i
	}
	close(next)
	wg.Wait()
	return out, nil
}

type neighbor struct {
	dist  float64
	label int
}

func (c *Classifier) vote(query, shares []float64) {
	trainRows, _ := c.x.Dims()
	k := c.K
	if k > trainRows {
		k = trainRows
	}

	queryNorm := floats.Dot(query, query)
	nearest := make([]neighbor, 0, k)
	for i := 0; i < trainRows; i++ {
		d := c.distance(query, queryNorm, i)
		if len(nearest) == k && d >= nearest[k-1].dist {
			continue
		}
		// insertion into the sorted k-best buffer
		pos := len(nearest)
		if pos < k {
			nearest = append(nearest, neighbor{})
		} else {
			pos = k - 1
		}
		for pos > 0 && nearest[pos-1].dist > d {
			nearest[pos] = nearest[pos-1]
			pos--
		}
		nearest[pos] = neighbor{dist: d, label: c.y[i]}
	}

	votes := make([]float64, c.numClasses)
	distSum := make([]float64, c.numClasses)
	counts := make([]int, c.numClasses)
	total := 0.0
	for _, nb := range nearest {
		weight := 1.0
		if c.Weighted {
			weight = 1 / (nb.dist + distanceEpsilon)
		}
		votes[nb.label] += weight
		distSum[nb.label] += nb.dist
		counts[nb.label]++
		total += weight
	}
	for class := range votes {
		shares[class] = votes[class] / total
	}

	// resolve exact vote ties deterministically
	winner := 0
	for class := 1; class < c.numClasses; class++ {
		if better(votes, distSum, counts, class, winner) {
			winner = class
		}
	}
	shares[winner] += distanceEpsilon
}

func better(votes, distSum []float64, counts []int, a, b int) bool {
	if votes[a] != votes[b] {
		return votes[a] > votes[b]
	}
	if counts[a] == 0 || counts[b] == 0 {
		return counts[a] > counts[b]
	}
	meanA := distSum[a] / float64(counts[a])
	meanB := distSum[b] / float64(counts[b])
	return meanA < meanB
}

func (c *Classifier) distance(query []float64, queryNorm float64, i int) float64 {
	row := c.x.RawRowView(i)
	dot := floats.Dot(query, row)
	switch c.Metric {
	case Cosine:
		denom := math.Sqrt(queryNorm) * math.Sqrt(c.sqNorms[i])
		if denom == 0 {
			return 2
		}
		return 1 - dot/denom
	default:
		d := queryNorm + c.sqNorms[i] - 2*dot
		if d < 0 {
			d = 0
		}
		return d
	}
}

type params struct {
	K           int       `json:"k"`
	Metric      string    `json:"metric"`
	Weighted    bool      `json:"weighted"`
	NumClasses  int       `json:"num_classes"`
	NumFeatures int       `json:"num_features"`
	X           []float64 `json:"x"`
	Y           []int     `json:"y"`
}

// MarshalParams implements estimator.Persistable. The training set itself is
// the model, so saved k-NN files are large.
func (c *Classifier) MarshalParams() (json.RawMessage, error) {
	if c.x == nil {
		return nil, estimator.ErrNotFitted
	}
	return json.Marshal(params{
		K:           c.K,
		Metric:      c.Metric,
		Weighted:    c.Weighted,
		NumClasses:  c.numClasses,
		NumFeatures: c.numFeatures,
		X:           c.x.RawMatrix().Data,
		Y:           c.y,
	})
}

// UnmarshalParams implements estimator.Persistable.
func (c *Classifier) UnmarshalParams(raw json.RawMessage) error {
	var p params
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.K < 1 {
		return errors.Errorf("k must be at least 1, got %d", p.K)
	}
	if p.Metric != Euclidean && p.Metric != Cosine {
		return errors.Errorf("unknown metric %q", p.Metric)
	}
	if p.NumFeatures <= 0 || len(p.X) != len(p.Y)*p.NumFeatures {
		return errors.New("inconsistent k-nn parameters")
	}
	c.K = p.K
	c.Metric = p.Metric
	c.Weighted = p.Weighted
	c.numClasses = p.NumClasses
	c.numFeatures = p.NumFeatures
	c.x = mat.NewDense(len(p.Y), p.NumFeatures, p.X)
	c.y = p.Y
	c.sqNorms = make([]float64, len(p.Y))
	for i := range p.Y {
		row := c.x.RawRowView(i)
		c.sqNorms[i] = floats.Dot(row, row)
	}
	return nil
}
