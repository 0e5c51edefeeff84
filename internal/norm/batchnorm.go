package norm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	DefaultMomentum = 0.99
	DefaultEpsilon  = 1e-3
)

// BatchNorm нормирует каждый столбец входа N×H по статистике батча (обучение)
// или по скользящим средним (инференс), затем масштабирует и сдвигает.
type BatchNorm struct {
	Gamma, Beta           *mat.Dense // 1×H, обучаемые
	MovingMean, MovingVar []float64  // H, не обучаются
	Momentum, Epsilon     float64
}

// Cache — промежуточные значения прямого прохода для Backward.
type Cache struct {
	xhat   *mat.Dense
	invStd []float64
}

// Stats — суммы по столбцам, из которых Update восстанавливает среднее и дисперсию.
// Суммы складываются, поэтому статистику нескольких частей батча можно объединить.
type Stats struct {
	Count      int
	Sum, SumSq []float64
}

// Merge складывает статистику двух частей батча.
func (s Stats) Merge(o Stats) Stats {
	if s.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return s
	}
	out := Stats{Count: s.Count + o.Count, Sum: make([]float64, len(s.Sum)), SumSq: make([]float64, len(s.SumSq))}
	for j := range s.Sum {
		out.Sum[j] = s.Sum[j] + o.Sum[j]
		out.SumSq[j] = s.SumSq[j] + o.SumSq[j]
	}
	return out
}

// New создаёт слой для h признаков: gamma=1, beta=0, скользящая дисперсия=1.
func New(h int) *BatchNorm {
	gamma := mat.NewDense(1, h, nil)
	movingVar := make([]float64, h)
	for j := 0; j < h; j++ {
		gamma.Set(0, j, 1)
		movingVar[j] = 1
	}
	return &BatchNorm{
		Gamma:      gamma,
		Beta:       mat.NewDense(1, h, nil),
		MovingMean: make([]float64, h),
		MovingVar:  movingVar,
		Momentum:   DefaultMomentum,
		Epsilon:    DefaultEpsilon,
	}
}

// Forward не меняет состояние слоя: скользящие средние обновляет Update.
// Stats заполняется только в режиме обучения.
func (bn *BatchNorm) Forward(x *mat.Dense, training bool) (*mat.Dense, *Cache, Stats) {
	n, h := x.Dims()
	mean := make([]float64, h)
	variance := make([]float64, h)
	var stats Stats

	if training {
		stats = Stats{Count: n, Sum: make([]float64, h), SumSq: make([]float64, h)}
		for i := 0; i < n; i++ {
			for j := 0; j < h; j++ {
				v := x.At(i, j)
				stats.Sum[j] += v
				stats.SumSq[j] += v * v
			}
		}
		for j := 0; j < h; j++ {
			mean[j] = stats.Sum[j] / float64(n)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < h; j++ {
				d := x.At(i, j) - mean[j]
				variance[j] += d * d
			}
		}
		for j := 0; j < h; j++ {
			variance[j] /= float64(n)
		}
	} else {
		copy(mean, bn.MovingMean)
		copy(variance, bn.MovingVar)
	}

	invStd := make([]float64, h)
	for j := 0; j < h; j++ {
		invStd[j] = 1 / math.Sqrt(variance[j]+bn.Epsilon)
	}
	xhat := mat.NewDense(n, h, nil)
	y := mat.NewDense(n, h, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < h; j++ {
			v := (x.At(i, j) - mean[j]) * invStd[j]
			xhat.Set(i, j, v)
			y.Set(i, j, bn.Gamma.At(0, j)*v+bn.Beta.At(0, j))
		}
	}
	return y, &Cache{xhat: xhat, invStd: invStd}, stats
}

// Backward возвращает градиенты по входу, gamma и beta (прямой проход в режиме обучения).
func (bn *BatchNorm) Backward(dy *mat.Dense, c *Cache) (dx, dGamma, dBeta *mat.Dense) {
	n, h := dy.Dims()
	dGamma = mat.NewDense(1, h, nil)
	dBeta = mat.NewDense(1, h, nil)
	dx = mat.NewDense(n, h, nil)

	sumD := make([]float64, h)  // Σ dxhat
	sumDX := make([]float64, h) // Σ dxhat·xhat
	for i := 0; i < n; i++ {
		for j := 0; j < h; j++ {
			g := dy.At(i, j)
			xh := c.xhat.At(i, j)
			dGamma.Set(0, j, dGamma.At(0, j)+g*xh)
			dBeta.Set(0, j, dBeta.At(0, j)+g)
			d := g * bn.Gamma.At(0, j)
			sumD[j] += d
			sumDX[j] += d * xh
		}
	}
	fn := float64(n)
	for i := 0; i < n; i++ {
		for j := 0; j < h; j++ {
			d := dy.At(i, j) * bn.Gamma.At(0, j)
			dx.Set(i, j, c.invStd[j]/fn*(fn*d-sumD[j]-c.xhat.At(i, j)*sumDX[j]))
		}
	}
	return dx, dGamma, dBeta
}

// Update сдвигает скользящие средние к статистике батча.
func (bn *BatchNorm) Update(s Stats) {
	if s.Count == 0 {
		return
	}
	n := float64(s.Count)
	for j := range bn.MovingMean {
		mean := s.Sum[j] / n
		variance := s.SumSq[j]/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		bn.MovingMean[j] = bn.Momentum*bn.MovingMean[j] + (1-bn.Momentum)*mean
		bn.MovingVar[j] = bn.Momentum*bn.MovingVar[j] + (1-bn.Momentum)*variance
	}
}
