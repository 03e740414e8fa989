package synth

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"synthetl/internal/dataset"
	"synthetl/internal/profile"
)

// groupSampler draws whole rows of a correlation group from
// N(mean, CovarianceScale·corr) as mean + A·z with A·Aᵀ equal to the
// covariance and z standard normal.
type groupSampler struct {
	index    []int
	mean     []float64
	factor   mat.Matrix
	clip     []profile.Bounds
	discrete bool
	decimals int
}

func newGroupSampler(base dataset.Table, p *profile.Profile, g profile.Group, opt Options) (*groupSampler, error) {
	k := len(g.Columns)
	gs := &groupSampler{
		index:    make([]int, k),
		mean:     append([]float64(nil), g.Mean...),
		clip:     make([]profile.Bounds, k),
		discrete: g.Discrete,
		decimals: opt.RoundDecimals,
	}

	for i, c := range g.Columns {
		gs.index[i] = base.Index(c)
		if gs.index[i] < 0 {
			return nil, &dataset.Error{Table: g.Name, Column: c, Err: dataset.ErrSchemaMismatch}
		}
		if g.Bounds != nil {
			gs.clip[i] = *g.Bounds
			continue
		}
		col, _ := p.Column(c)
		w := opt.ClipWidth * col.StdDev
		gs.clip[i] = profile.Bounds{Min: col.Mean - w, Max: col.Mean + w}
	}

	var cov mat.SymDense
	cov.ScaleSym(opt.CovarianceScale, g.Corr)
	gs.factor = factorize(&cov)
	return gs, nil
}

// factorize returns A with A·Aᵀ = cov. Cholesky covers the positive definite
// case; otherwise the eigendecomposition is used with negative eigenvalues
// clamped to zero.
func factorize(cov *mat.SymDense) mat.Matrix {
	k := cov.SymmetricDim()

	var chol mat.Cholesky
	if chol.Factorize(cov) {
		var l mat.TriDense
		chol.LTo(&l)
		return &l
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return mat.NewDense(k, k, nil)
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	for j, v := range vals {
		s := math.Sqrt(math.Max(v, 0))
		for i := 0; i < k; i++ {
			vecs.Set(i, j, vecs.At(i, j)*s)
		}
	}
	return &vecs
}

func (gs *groupSampler) fill(rows [][]any, rng *rand.Rand) {
	k := len(gs.index)
	z := mat.NewVecDense(k, nil)
	var x mat.VecDense

	for _, r := range rows {
		for i := 0; i < k; i++ {
			z.SetVec(i, rng.NormFloat64())
		}
		x.MulVec(gs.factor, z)
		for i, j := range gs.index {
			decimals := gs.decimals
			if gs.discrete {
				decimals = 0
			}
			r[j] = roundWithin(gs.clip[i].Clip(gs.mean[i]+x.AtVec(i)), gs.clip[i], decimals)
		}
	}
}
