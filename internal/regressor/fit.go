package regressor

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minStd replaces deviations of (near) constant features so they scale to
// zero instead of dividing by zero.
const minStd = 1e-10

func fitScaler(x *mat.Dense) Scaler {
	_, c := x.Dims()
	s := Scaler{Mean: make([]float64, c), Std: make([]float64, c)}
	col := make([]float64, x.RawMatrix().Rows)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		s.Mean[j], s.Std[j] = stat.PopMeanStdDev(col, nil)
		if s.Std[j] < minStd {
			s.Std[j] = 1
		}
	}
	return s
}

func (s Scaler) transform(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Std[j]
	}, x)
	return out
}

// fitLinear solves the least-squares problem for y ≈ x·coef + intercept.
// Rank-deficient inputs get the minimum-norm solution.
func fitLinear(x *mat.Dense, y []float64) (coef []float64, intercept float64, ok bool) {
	r, c := x.Dims()
	xm := make([]float64, c)
	col := make([]float64, r)
	for j := range xm {
		mat.Col(col, j, x)
		xm[j] = stat.Mean(col, nil)
	}
	ym := stat.Mean(y, nil)

	xc := mat.NewDense(r, c, nil)
	xc.Apply(func(_, j int, v float64) float64 { return v - xm[j] }, x)
	yc := mat.NewVecDense(r, nil)
	for i, v := range y {
		yc.SetVec(i, v-ym)
	}

	coef = make([]float64, c)
	var svd mat.SVD
	if !svd.Factorize(xc, mat.SVDThin) {
		return nil, 0, false
	}
	rcond := math.Nextafter(1, 2) - 1
	if rank := svd.Rank(rcond * float64(max(r, c))); rank > 0 {
		var b mat.VecDense
		svd.SolveVecTo(&b, yc, rank)
		for j := range coef {
			coef[j] = b.AtVec(j)
		}
	}
	return coef, ym - floats.Dot(xm, coef), true
}

func predictRows(x *mat.Dense, coef []float64, intercept float64) []float64 {
	r, _ := x.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = intercept + floats.Dot(x.RawRowView(i), coef)
	}
	return out
}

// r2 is the coefficient of determination. A constant target scores 1 when
// predicted exactly and 0 otherwise; fewer than two points are undefined.
func r2(yTrue, yPred []float64) float64 {
	if len(yTrue) < 2 {
		return math.NaN()
	}
	mean := stat.Mean(yTrue, nil)
	var ssTot, ssRes float64
	for i, y := range yTrue {
		ssTot += (y - mean) * (y - mean)
		ssRes += (y - yPred[i]) * (y - yPred[i])
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return stat.RSquaredFrom(yPred, yTrue, nil)
}

func mse(yTrue, yPred []float64) float64 {
	var sum float64
	for i, y := range yTrue {
		sum += (y - yPred[i]) * (y - yPred[i])
	}
	return sum / float64(len(yTrue))
}

func mae(yTrue, yPred []float64) float64 {
	var sum float64
	for i, y := range yTrue {
		sum += math.Abs(y - yPred[i])
	}
	return sum / float64(len(yTrue))
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// splitIndices partitions 0..len(y)-1 into train and test sets with
// ceil(n*testFrac) test rows. When stratify is set it first tries to keep
// each label's share equal across both sides.
func splitIndices(y []float64, testFrac float64, stratify bool, seed uint64) (train, test []int, stratified bool) {
	n := len(y)
	nTest := int(math.Ceil(float64(n) * testFrac))
	nTest = min(max(nTest, 1), n-1)
	rng := newRand(seed)

	if stratify {
		if train, test, ok := stratifiedSplit(y, nTest, rng); ok {
			return train, test, true
		}
	}
	perm := rng.Perm(n)
	test = slices.Clone(perm[:nTest])
	train = slices.Clone(perm[nTest:])
	sort.Ints(test)
	sort.Ints(train)
	return train, test, false
}

func stratifiedSplit(y []float64, nTest int, rng *rand.Rand) (train, test []int, ok bool) {
	n := len(y)
	groups := map[float64][]int{}
	for i, v := range y {
		groups[v] = append(groups[v], i)
	}
	labels := make([]float64, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Float64s(labels)

	k := len(labels)
	if nTest < k || n-nTest < k {
		return nil, nil, false
	}

	ideal := make([]float64, k)
	alloc := make([]int, k)
	total := 0
	for i, l := range labels {
		cnt := len(groups[l])
		if cnt < 2 {
			return nil, nil, false
		}
		ideal[i] = float64(cnt) * float64(nTest) / float64(n)
		alloc[i] = min(max(int(math.Floor(ideal[i])), 1), cnt-1)
		total += alloc[i]
	}
	for total != nTest {
		best := -1
		for i, l := range labels {
			cnt := len(groups[l])
			switch {
			case total < nTest && alloc[i] < cnt-1:
				if best < 0 || ideal[i]-float64(alloc[i]) > ideal[best]-float64(alloc[best]) {
					best = i
				}
			case total > nTest && alloc[i] > 1:
				if best < 0 || ideal[i]-float64(alloc[i]) < ideal[best]-float64(alloc[best]) {
					best = i
				}
			}
		}
		if best < 0 {
			return nil, nil, false
		}
		if total < nTest {
			alloc[best]++
			total++
		} else {
			alloc[best]--
			total--
		}
	}

	for i, l := range labels {
		members := slices.Clone(groups[l])
		rng.Shuffle(len(members), func(a, b int) { members[a], members[b] = members[b], members[a] })
		test = append(test, members[:alloc[i]]...)
		train = append(train, members[alloc[i]:]...)
	}
	sort.Ints(test)
	sort.Ints(train)
	return train, test, true
}

// kFoldR2 scores contiguous, unshuffled folds of x. The first n%k folds
// hold one extra row. It returns NaN statistics when k < 2.
func kFoldR2(x *mat.Dense, y []float64, k int) (mean, std float64) {
	n := len(y)
	if k < 2 || n < k {
		return math.NaN(), math.NaN()
	}
	scores := make([]float64, 0, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		var fitIdx, evalIdx []int
		for i := 0; i < n; i++ {
			if i >= start && i < start+size {
				evalIdx = append(evalIdx, i)
			} else {
				fitIdx = append(fitIdx, i)
			}
		}
		start += size

		coef, intercept, ok := fitLinear(rows(x, fitIdx), pick(y, fitIdx))
		if !ok {
			return math.NaN(), math.NaN()
		}
		pred := predictRows(rows(x, evalIdx), coef, intercept)
		scores = append(scores, r2(pick(y, evalIdx), pred))
	}
	return stat.PopMeanStdDev(scores, nil)
}

func rows(x *mat.Dense, idx []int) *mat.Dense {
	_, c := x.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		out.SetRow(i, x.RawRowView(r))
	}
	return out
}

func pick(y []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, r := range idx {
		out[i] = y[r]
	}
	return out
}
