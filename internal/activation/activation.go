package activation

import (
	"fmt"
	"math"
	"strings"
)

// Func описывает функцию активации и её производную.
// Prime получает и значение до активации a, и результат y = F(a):
// для tanh и sigmoid производную дешевле выразить через y.
type Func struct {
	Name  string
	F     func(a float64) float64
	Prime func(a, y float64) float64
}

// Функция активации tanh
// tanh(x) возвращает гиперболический тангенс значения x.
func Tanh(x float64) float64 {
	return math.Tanh(x)
}

// Производная tanh
// Производная функции гиперболического тангенса равна (1 - y^2), где y = tanh(x).
func TanhPrime(y float64) float64 {
	return 1 - y*y
}

// Sigmoid — логистическая функция 1 / (1 + e^-x).
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	// Для отрицательных x считаем через e^x, чтобы не получить overflow
	e := math.Exp(x)
	return e / (1 + e)
}

// SigmoidPrime — производная sigmoid через её значение y.
func SigmoidPrime(y float64) float64 {
	return y * (1 - y)
}

// ReLU возвращает max(0, x).
func ReLU(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// ------------------------- ВАРИАНТЫ -------------------------

// Константы SELU (Klambauer et al., 2017)
const (
	seluAlpha = 1.6732632423543772
	seluScale = 1.0507009873554805
)

// DefaultLeakySlope — наклон leaky_relu при x < 0, как в Keras.
const DefaultLeakySlope = 0.01

var (
	TanhFunc = Func{
		Name:  "tanh",
		F:     Tanh,
		Prime: func(_, y float64) float64 { return TanhPrime(y) },
	}
	SigmoidFunc = Func{
		Name:  "sigmoid",
		F:     Sigmoid,
		Prime: func(_, y float64) float64 { return SigmoidPrime(y) },
	}
	ReLUFunc = Func{
		Name: "relu",
		F:    ReLU,
		Prime: func(a, _ float64) float64 {
			if a > 0 {
				return 1
			}
			return 0
		},
	}
	ELUFunc = Func{
		Name: "elu",
		F: func(a float64) float64 {
			if a > 0 {
				return a
			}
			return math.Expm1(a)
		},
		Prime: func(a, y float64) float64 {
			if a > 0 {
				return 1
			}
			return y + 1
		},
	}
	SELUFunc = Func{
		Name: "selu",
		F: func(a float64) float64 {
			if a > 0 {
				return seluScale * a
			}
			return seluScale * seluAlpha * math.Expm1(a)
		},
		Prime: func(a, y float64) float64 {
			if a > 0 {
				return seluScale
			}
			return y + seluScale*seluAlpha
		},
	}
	LinearFunc = Func{
		Name:  "linear",
		F:     func(a float64) float64 { return a },
		Prime: func(_, _ float64) float64 { return 1 },
	}
)

// LeakyReLU строит leaky_relu с заданным наклоном для отрицательной части.
func LeakyReLU(slope float64) Func {
	return Func{
		Name: "leaky_relu",
		F: func(a float64) float64 {
			if a > 0 {
				return a
			}
			return slope * a
		},
		Prime: func(a, _ float64) float64 {
			if a > 0 {
				return 1
			}
			return slope
		},
	}
}

// Lookup возвращает активацию по имени (регистр и пробелы не важны).
func Lookup(name string) (Func, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "tanh":
		return TanhFunc, nil
	case "sigmoid":
		return SigmoidFunc, nil
	case "relu":
		return ReLUFunc, nil
	case "leaky_relu":
		return LeakyReLU(DefaultLeakySlope), nil
	case "elu":
		return ELUFunc, nil
	case "selu":
		return SELUFunc, nil
	case "linear":
		return LinearFunc, nil
	default:
		return Func{}, fmt.Errorf("activation: unknown function %q", name)
	}
}

// ------------------------- SOFTMAX -------------------------

// Softmax переводит логиты в распределение вероятностей.
// Результат пишется в out (len(out) == len(logits)); out может совпадать с logits.
func Softmax(out, logits []float64) {
	if len(logits) == 0 {
		return
	}
	max := logits[0] // Максимум для численной стабильности softmax
	for _, v := range logits {
		if v > max {
			max = v
		}
	}

	expSum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - max) // exp(z-max)
		expSum += out[i]           // Сумма экспонент
	}

	for i := range out {
		out[i] /= expSum // Делим на сумму, чтобы получить вероятности
	}
}

// ArgMax возвращает индекс максимального элемента (первый при равенстве).
func ArgMax(arr []float64) int {
	if len(arr) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := arr[0]
	for i, v := range arr {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	return maxIdx
}
