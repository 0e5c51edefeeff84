package rnn

import "gonum.org/v1/gonum/mat"

// Вспомогательные операции над матрицами B×H, которых нет в gonum напрямую.

// affine считает xW + hU + b, где b — строка 1×H, прибавляемая к каждой строке.
func affine(x, w, h, u, b *mat.Dense) *mat.Dense {
	var out, rec mat.Dense
	out.Mul(x, w)
	rec.Mul(h, u)
	out.Add(&out, &rec)
	addRow(&out, b)
	return &out
}

// addRow прибавляет строку b (1×n) к каждой строке m.
func addRow(m, b *mat.Dense) {
	r, c := m.Dims()
	row := b.RawRowView(0)
	for i := 0; i < r; i++ {
		dst := m.RawRowView(i)
		for j := 0; j < c; j++ {
			dst[j] += row[j]
		}
	}
}

// addColSum прибавляет к dst (1×n) суммы столбцов m.
func addColSum(dst, m *mat.Dense) {
	r, _ := m.Dims()
	acc := dst.RawRowView(0)
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			acc[j] += v
		}
	}
}

// addTMul прибавляет к dst произведение aᵀb.
func addTMul(dst, a, b *mat.Dense) {
	var t mat.Dense
	t.Mul(a.T(), b)
	dst.Add(dst, &t)
}

// mulT возвращает a·bᵀ.
func mulT(a, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b.T())
	return &out
}

// apply возвращает новую матрицу f(m) поэлементно.
func apply(m *mat.Dense, f func(float64) float64) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return f(v) }, m)
	return &out
}

// stack склеивает матрицы B×H по времени в одну (T·B)×H; строка t*B+b.
func stack(ms []*mat.Dense) *mat.Dense {
	b, h := ms[0].Dims()
	out := mat.NewDense(len(ms)*b, h, nil)
	for t, m := range ms {
		out.Slice(t*b, (t+1)*b, 0, h).(*mat.Dense).Copy(m)
	}
	return out
}

// unstack — обратная к stack операция; результат — представления без копирования.
func unstack(m *mat.Dense, steps int) []*mat.Dense {
	r, c := m.Dims()
	b := r / steps
	out := make([]*mat.Dense, steps)
	for t := range out {
		out[t] = m.Slice(t*b, (t+1)*b, 0, c).(*mat.Dense)
	}
	return out
}
