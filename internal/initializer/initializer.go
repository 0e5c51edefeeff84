// Package initializer содержит схемы начальной инициализации весов.
// Матрица весов имеет форму fanIn×fanOut (вход по строкам, выход по столбцам).
package initializer

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Func заполняет новую матрицу rows×cols.
type Func func(rows, cols int, rng *rand.Rand) *mat.Dense

// GlorotUniform: U(-l, l), l = sqrt(6 / (fanIn + fanOut)).
func GlorotUniform(rows, cols int, rng *rand.Rand) *mat.Dense {
	return uniform(rows, cols, math.Sqrt(6/float64(rows+cols)), rng)
}

// GlorotNormal: N(0, 2 / (fanIn + fanOut)).
func GlorotNormal(rows, cols int, rng *rand.Rand) *mat.Dense {
	return normal(rows, cols, math.Sqrt(2/float64(rows+cols)), rng)
}

// HeNormal: N(0, 2 / fanIn) — для ReLU-семейства.
func HeNormal(rows, cols int, rng *rand.Rand) *mat.Dense {
	return normal(rows, cols, math.Sqrt(2/float64(rows)), rng)
}

// HeUniform: U(-l, l), l = sqrt(6 / fanIn).
func HeUniform(rows, cols int, rng *rand.Rand) *mat.Dense {
	return uniform(rows, cols, math.Sqrt(6/float64(rows)), rng)
}

// LeCunNormal: N(0, 1 / fanIn) — пара к SELU.
func LeCunNormal(rows, cols int, rng *rand.Rand) *mat.Dense {
	return normal(rows, cols, math.Sqrt(1/float64(rows)), rng)
}

// Zeros — все нули.
func Zeros(rows, cols int, _ *rand.Rand) *mat.Dense {
	return mat.NewDense(rows, cols, nil)
}

// Orthogonal строит матрицу с ортонормированными столбцами (или строками,
// если строк меньше) через QR-разложение случайной гауссовой матрицы.
func Orthogonal(rows, cols int, rng *rand.Rand) *mat.Dense {
	m, n := rows, cols
	if m < n {
		m, n = n, m
	}
	a := normal(m, n, 1, rng)

	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	// Берём первые n столбцов Q и выравниваем знаки по диагонали R,
	// чтобы распределение было равномерным.
	out := mat.NewDense(m, n, nil)
	for j := 0; j < n; j++ {
		sign := 1.0
		if r.At(j, j) < 0 {
			sign = -1
		}
		for i := 0; i < m; i++ {
			out.Set(i, j, sign*q.At(i, j))
		}
	}
	if rows < cols {
		return mat.DenseCopyOf(out.T())
	}
	return out
}

// Lookup возвращает схему по имени.
func Lookup(name string) (Func, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "glorot_uniform", "xavier_uniform":
		return GlorotUniform, nil
	case "glorot_normal", "xavier_normal":
		return GlorotNormal, nil
	case "he_normal":
		return HeNormal, nil
	case "he_uniform":
		return HeUniform, nil
	case "lecun_normal":
		return LeCunNormal, nil
	case "orthogonal":
		return Orthogonal, nil
	case "zeros":
		return Zeros, nil
	default:
		return nil, fmt.Errorf("initializer: unknown scheme %q", name)
	}
}

// ------------------------- HELPERS -------------------------

func uniform(rows, cols int, limit float64, rng *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return mat.NewDense(rows, cols, data)
}

func normal(rows, cols int, std float64, rng *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	return mat.NewDense(rows, cols, data)
}
