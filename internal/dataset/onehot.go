package dataset

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrOutOfVocab = errors.New("id outside vocabulary")

// OneHot разворачивает целочисленный батч в one-hot представление.
// Логическая форма (batch, L, V) хранится по времени: xs[t] — матрица B×V для позиции t.
// Такая раскладка удобна рекуррентному слою, который идёт по шагам времени.
func OneHot(inputs [][]int, vocabSize int) ([]*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, errors.New("dataset: empty batch")
	}
	if vocabSize <= 0 {
		return nil, fmt.Errorf("dataset: vocabulary size %d", vocabSize)
	}
	l := len(inputs[0])
	if l == 0 {
		return nil, errors.New("dataset: empty sequence")
	}
	for b, seq := range inputs {
		if len(seq) != l {
			return nil, fmt.Errorf("dataset: row %d has length %d, want %d", b, len(seq), l)
		}
	}

	xs := make([]*mat.Dense, l)
	for t := 0; t < l; t++ {
		x := mat.NewDense(len(inputs), vocabSize, nil)
		for b, seq := range inputs {
			id := seq[t]
			if id < 0 || id >= vocabSize {
				return nil, fmt.Errorf("%w: %d at row %d position %d", ErrOutOfVocab, id, b, t)
			}
			x.Set(b, id, 1)
		}
		xs[t] = x
	}
	return xs, nil
}
