package norm

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func randDense(r, c int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()*2 + 3
	}
	return mat.NewDense(r, c, data)
}

func TestForwardNormalizes(t *testing.T) {
	bn := New(4)
	x := randDense(64, 4, rand.New(rand.NewSource(1)))
	y, _, _ := bn.Forward(x, true)
	for j := 0; j < 4; j++ {
		var sum, sq float64
		for i := 0; i < 64; i++ {
			sum += y.At(i, j)
			sq += y.At(i, j) * y.At(i, j)
		}
		mean := sum / 64
		variance := sq/64 - mean*mean
		if math.Abs(mean) > 1e-9 {
			t.Fatalf("столбец %d: среднее %v", j, mean)
		}
		if math.Abs(variance-1) > 1e-2 {
			t.Fatalf("столбец %d: дисперсия %v", j, variance)
		}
	}
}

// loss = Σ w ⊙ y; сверяем аналитический градиент с численным.
func TestBackwardNumeric(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	bn := New(3)
	bn.Gamma = randDense(1, 3, rng)
	bn.Beta = randDense(1, 3, rng)
	x := randDense(5, 3, rng)
	w := randDense(5, 3, rng)

	loss := func() float64 {
		y, _, _ := bn.Forward(x, true)
		return mat.Sum(mulElem(y, w))
	}
	_, cache, _ := bn.Forward(x, true)
	dx, dGamma, dBeta := bn.Backward(w, cache)

	check := func(name string, m, grad *mat.Dense) {
		const h = 1e-6
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				orig := m.At(i, j)
				m.Set(i, j, orig+h)
				up := loss()
				m.Set(i, j, orig-h)
				down := loss()
				m.Set(i, j, orig)
				num := (up - down) / (2 * h)
				if math.Abs(num-grad.At(i, j)) > 1e-5*math.Max(1, math.Abs(num)) {
					t.Fatalf("%s[%d,%d]: численно %v, аналитически %v", name, i, j, num, grad.At(i, j))
				}
			}
		}
	}
	check("x", x, dx)
	check("gamma", bn.Gamma, dGamma)
	check("beta", bn.Beta, dBeta)
}

func mulElem(a, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.MulElem(a, b)
	return &out
}

func TestUpdateAndInference(t *testing.T) {
	bn := New(2)
	bn.Momentum = 0
	x := mat.NewDense(4, 2, []float64{1, 10, 2, 10, 3, 10, 4, 10})
	_, _, s1 := bn.Forward(x.Slice(0, 2, 0, 2).(*mat.Dense), true)
	_, _, s2 := bn.Forward(x.Slice(2, 4, 0, 2).(*mat.Dense), true)
	bn.Update(s1.Merge(s2))
	if math.Abs(bn.MovingMean[0]-2.5) > 1e-12 || math.Abs(bn.MovingVar[0]-1.25) > 1e-12 {
		t.Fatalf("объединённая статистика: mean=%v var=%v", bn.MovingMean[0], bn.MovingVar[0])
	}
	if math.Abs(bn.MovingMean[1]-10) > 1e-12 || math.Abs(bn.MovingVar[1]) > 1e-12 {
		t.Fatalf("постоянный столбец: mean=%v var=%v", bn.MovingMean[1], bn.MovingVar[1])
	}

	y, _, stats := bn.Forward(mat.NewDense(1, 2, []float64{2.5, 10}), false)
	if stats.Count != 0 {
		t.Fatal("в режиме инференса статистика не собирается")
	}
	if math.Abs(y.At(0, 0)) > 1e-12 || math.Abs(y.At(0, 1)) > 1e-12 {
		t.Fatalf("инференс по скользящим средним: %v", mat.Formatted(y))
	}
}
