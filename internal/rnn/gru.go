package rnn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/go-portfolio/go-gru-textgen/internal/activation"
	"github.com/go-portfolio/go-gru-textgen/internal/initializer"
)

// Индексы весов GRU-слоя. Порядок фиксирован: по нему строятся имена параметров,
// градиенты и снимки модели.
const (
	wz = iota // вход -> update gate
	wr        // вход -> reset gate
	wc        // вход -> кандидат
	uz        // скрытое -> update gate
	ur        // скрытое -> reset gate
	uc        // скрытое -> кандидат
	bz
	br
	bc
	numWeights
)

var weightNames = [numWeights]string{"Wz", "Wr", "Wc", "Uz", "Ur", "Uc", "bz", "br", "bc"}

// ------------------------- GRU LAYER -------------------------

// Layer — один GRU-слой:
//
//	z  = σ(x·Wz + h·Uz + bz)
//	r  = σ(x·Wr + h·Ur + br)
//	c  = act(x·Wc + (r⊙h)·Uc + bc)
//	h' = z⊙h + (1-z)⊙c
type Layer struct {
	in, hidden int
	w          [numWeights]*mat.Dense
	act        activation.Func
}

// stepCache хранит всё, что нужно обратному проходу на одном шаге.
type stepCache struct {
	x, hPrev  *mat.Dense
	z, r, c   *mat.Dense
	ac, rh, h *mat.Dense
}

func newLayer(in, hidden int, act activation.Func, kernel, recurrent initializer.Func, rng *rand.Rand) *Layer {
	l := &Layer{in: in, hidden: hidden, act: act}
	for _, i := range []int{wz, wr, wc} {
		l.w[i] = kernel(in, hidden, rng)
	}
	for _, i := range []int{uz, ur, uc} {
		l.w[i] = recurrent(hidden, hidden, rng)
	}
	for _, i := range []int{bz, br, bc} {
		l.w[i] = mat.NewDense(1, hidden, nil)
	}
	return l
}

// Hidden — размер скрытого состояния.
func (l *Layer) Hidden() int { return l.hidden }

// Step — один переход автомата: (x, h) -> h'. Состояние передаётся явно,
// слой сам ничего не запоминает между шагами.
func (l *Layer) Step(x, h *mat.Dense) (*mat.Dense, *stepCache) {
	z := apply(affine(x, l.w[wz], h, l.w[uz], l.w[bz]), activation.Sigmoid)
	r := apply(affine(x, l.w[wr], h, l.w[ur], l.w[br]), activation.Sigmoid)

	var rh mat.Dense
	rh.MulElem(r, h)
	ac := affine(x, l.w[wc], &rh, l.w[uc], l.w[bc])
	c := apply(ac, l.act.F)

	// h' = c + z⊙(h - c)
	var hNew mat.Dense
	hNew.Sub(h, c)
	hNew.MulElem(z, &hNew)
	hNew.Add(c, &hNew)

	return &hNew, &stepCache{x: x, hPrev: h, z: z, r: r, c: c, ac: ac, rh: &rh, h: &hNew}
}

// Run сворачивает последовательность по времени, начиная с нулевого состояния.
func (l *Layer) Run(xs []*mat.Dense) ([]*mat.Dense, []*stepCache) {
	b, _ := xs[0].Dims()
	h := mat.NewDense(b, l.hidden, nil)
	outs := make([]*mat.Dense, len(xs))
	caches := make([]*stepCache, len(xs))
	for t, x := range xs {
		h, caches[t] = l.Step(x, h)
		outs[t] = h
	}
	return outs, caches
}

// ------------------------- BACKPROP THROUGH TIME -------------------------

// backStep распространяет градиент dh по h' одного шага. Градиенты весов
// накапливаются в g; возвращаются градиенты по входу x (если needDx) и по h.
func (l *Layer) backStep(dh *mat.Dense, sc *stepCache, g *[numWeights]*mat.Dense, needDx bool) (dx, dhPrev *mat.Dense) {
	b, hid := dh.Dims()
	daz := mat.NewDense(b, hid, nil)
	dac := mat.NewDense(b, hid, nil)
	dhPrev = mat.NewDense(b, hid, nil)
	for i := 0; i < b; i++ {
		for j := 0; j < hid; j++ {
			d := dh.At(i, j)
			z := sc.z.At(i, j)
			c := sc.c.At(i, j)
			// dz = dh⊙(h - c), затем производная sigmoid
			daz.Set(i, j, d*(sc.hPrev.At(i, j)-c)*activation.SigmoidPrime(z))
			// dc = dh⊙(1 - z), затем производная активации кандидата
			dac.Set(i, j, d*(1-z)*l.act.Prime(sc.ac.At(i, j), c))
			dhPrev.Set(i, j, d*z)
		}
	}

	addTMul(g[wc], sc.x, dac)
	addTMul(g[uc], sc.rh, dac)
	addColSum(g[bc], dac)

	// градиент через r⊙h
	drh := mulT(dac, l.w[uc])
	dar := mat.NewDense(b, hid, nil)
	for i := 0; i < b; i++ {
		for j := 0; j < hid; j++ {
			d := drh.At(i, j)
			r := sc.r.At(i, j)
			dar.Set(i, j, d*sc.hPrev.At(i, j)*activation.SigmoidPrime(r))
			dhPrev.Set(i, j, dhPrev.At(i, j)+d*r)
		}
	}

	addTMul(g[wr], sc.x, dar)
	addTMul(g[ur], sc.hPrev, dar)
	addColSum(g[br], dar)
	addTMul(g[wz], sc.x, daz)
	addTMul(g[uz], sc.hPrev, daz)
	addColSum(g[bz], daz)

	dhPrev.Add(dhPrev, mulT(daz, l.w[uz]))
	dhPrev.Add(dhPrev, mulT(dar, l.w[ur]))

	if needDx {
		dx = mulT(daz, l.w[wz])
		dx.Add(dx, mulT(dar, l.w[wr]))
		dx.Add(dx, mulT(dac, l.w[wc]))
	}
	return dx, dhPrev
}

// backward проходит всю последовательность в обратном порядке.
// dOut[t] — градиент по выходу слоя на шаге t (от следующего слоя или классификатора).
func (l *Layer) backward(dOut []*mat.Dense, caches []*stepCache, g *[numWeights]*mat.Dense, needDx bool) []*mat.Dense {
	b, _ := dOut[0].Dims()
	dIn := make([]*mat.Dense, len(dOut))
	dhNext := mat.NewDense(b, l.hidden, nil)
	for t := len(dOut) - 1; t >= 0; t-- {
		var dh mat.Dense
		dh.Add(dOut[t], dhNext)
		dIn[t], dhNext = l.backStep(&dh, caches[t], g, needDx)
	}
	return dIn
}

func (l *Layer) zeroGrads() [numWeights]*mat.Dense {
	var g [numWeights]*mat.Dense
	for i, w := range l.w {
		r, c := w.Dims()
		g[i] = mat.NewDense(r, c, nil)
	}
	return g
}

func (l *Layer) copyFrom(src *Layer) error {
	for i := range l.w {
		r, c := l.w[i].Dims()
		sr, sc := src.w[i].Dims()
		if r != sr || c != sc {
			return fmt.Errorf("%w: %s is %dx%d, source %dx%d", ErrShapeMismatch, weightNames[i], r, c, sr, sc)
		}
	}
	for i := range l.w {
		l.w[i].Copy(src.w[i])
	}
	return nil
}
