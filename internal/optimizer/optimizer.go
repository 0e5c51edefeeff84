package optimizer

import (
	"fmt"
	"math"
	"strings"
)

// Slot — один обучаемый тензор: значения и градиент одинаковой длины.
// Name стабилен между шагами: по нему хранится состояние оптимизатора.
type Slot struct {
	Name  string
	Value []float64
	Grad  []float64
}

// Optimizer применяет один шаг обновления ко всем слотам.
type Optimizer interface {
	Step(slots []Slot)
	Name() string
}

// Options выбирает оптимизатор и его гиперпараметры; нули заменяются значениями по умолчанию.
type Options struct {
	Name     string  `json:"name"`
	LR       float64 `json:"lr"`
	Beta1    float64 `json:"beta1"`
	Beta2    float64 `json:"beta2"`
	Epsilon  float64 `json:"epsilon"`
	Momentum float64 `json:"momentum"`
	Nesterov bool    `json:"nesterov"`
	Rho      float64 `json:"rho"`
}

// New создаёт оптимизатор по имени: sgd, momentum, nesterov, rmsprop, adam.
func New(o Options) (Optimizer, error) {
	switch strings.ToLower(strings.TrimSpace(o.Name)) {
	case "sgd":
		return NewSGD(or(o.LR, 0.01), o.Momentum, o.Nesterov), nil
	case "momentum":
		return NewSGD(or(o.LR, 0.01), or(o.Momentum, 0.9), o.Nesterov), nil
	case "nesterov":
		return NewSGD(or(o.LR, 0.01), or(o.Momentum, 0.9), true), nil
	case "rmsprop":
		return NewRMSProp(or(o.LR, 0.001), or(o.Rho, 0.9), or(o.Epsilon, 1e-7)), nil
	case "", "adam":
		return NewAdam(or(o.LR, 0.001), or(o.Beta1, 0.9), or(o.Beta2, 0.999), or(o.Epsilon, 1e-7)), nil
	default:
		return nil, fmt.Errorf("optimizer: unknown optimizer %q", o.Name)
	}
}

func or(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// ------------------------- SGD -------------------------

// SGD — градиентный спуск с необязательным моментом и поправкой Нестерова:
//
//	v = momentum*v - lr*g
//	w += v                     (классический момент)
//	w += momentum*v - lr*g     (Нестеров)
type SGD struct {
	LR       float64
	Momentum float64
	Nesterov bool
	velocity map[string][]float64
}

func NewSGD(lr, momentum float64, nesterov bool) *SGD {
	return &SGD{LR: lr, Momentum: momentum, Nesterov: nesterov, velocity: make(map[string][]float64)}
}

func (o *SGD) Name() string {
	switch {
	case o.Momentum == 0:
		return "sgd"
	case o.Nesterov:
		return "nesterov"
	default:
		return "momentum"
	}
}

func (o *SGD) Step(slots []Slot) {
	for _, s := range slots {
		if o.Momentum == 0 {
			for k := range s.Value {
				s.Value[k] -= o.LR * s.Grad[k]
			}
			continue
		}
		v := state(o.velocity, s)
		for k := range s.Value {
			v[k] = o.Momentum*v[k] - o.LR*s.Grad[k]
			if o.Nesterov {
				s.Value[k] += o.Momentum*v[k] - o.LR*s.Grad[k]
			} else {
				s.Value[k] += v[k]
			}
		}
	}
}

// ------------------------- RMSPROP -------------------------

// RMSProp делит шаг на корень из скользящего среднего квадратов градиента:
//
//	s = rho*s + (1-rho)*g²
//	w -= lr*g / (sqrt(s) + eps)
type RMSProp struct {
	LR, Rho, Epsilon float64
	ms               map[string][]float64
}

func NewRMSProp(lr, rho, eps float64) *RMSProp {
	return &RMSProp{LR: lr, Rho: rho, Epsilon: eps, ms: make(map[string][]float64)}
}

func (o *RMSProp) Name() string { return "rmsprop" }

func (o *RMSProp) Step(slots []Slot) {
	for _, s := range slots {
		ms := state(o.ms, s)
		for k, g := range s.Grad {
			ms[k] = o.Rho*ms[k] + (1-o.Rho)*g*g
			s.Value[k] -= o.LR * g / (math.Sqrt(ms[k]) + o.Epsilon)
		}
	}
}

// ------------------------- ADAM -------------------------

// Adam объединяет момент и RMSProp с поправкой смещения:
//
//	m = b1*m + (1-b1)*g
//	v = b2*v + (1-b2)*g²
//	w -= lr * (m/(1-b1^t)) / (sqrt(v/(1-b2^t)) + eps)
type Adam struct {
	LR, Beta1, Beta2, Epsilon float64
	m, v                      map[string][]float64
	t                         int
}

func NewAdam(lr, beta1, beta2, eps float64) *Adam {
	return &Adam{
		LR: lr, Beta1: beta1, Beta2: beta2, Epsilon: eps,
		m: make(map[string][]float64),
		v: make(map[string][]float64),
	}
}

func (o *Adam) Name() string { return "adam" }

// Steps — число выполненных шагов.
func (o *Adam) Steps() int { return o.t }

func (o *Adam) Step(slots []Slot) {
	o.t++
	bias1 := 1 - math.Pow(o.Beta1, float64(o.t))
	bias2 := 1 - math.Pow(o.Beta2, float64(o.t))
	for _, s := range slots {
		m := state(o.m, s)
		v := state(o.v, s)
		for k, g := range s.Grad {
			m[k] = o.Beta1*m[k] + (1-o.Beta1)*g
			v[k] = o.Beta2*v[k] + (1-o.Beta2)*g*g
			mHat := m[k] / bias1
			vHat := v[k] / bias2
			s.Value[k] -= o.LR * mHat / (math.Sqrt(vHat) + o.Epsilon)
		}
	}
}

func state(store map[string][]float64, s Slot) []float64 {
	buf, ok := store[s.Name]
	if !ok || len(buf) != len(s.Value) {
		buf = make([]float64, len(s.Value))
		store[s.Name] = buf
	}
	return buf
}

// ------------------------- CLIPPING -------------------------

// ClipByValue обрезает каждую компоненту градиента до [-limit, limit].
func ClipByValue(slots []Slot, limit float64) {
	for _, s := range slots {
		for k := range s.Grad {
			if s.Grad[k] > limit {
				s.Grad[k] = limit
			} else if s.Grad[k] < -limit {
				s.Grad[k] = -limit
			}
		}
	}
}

// GlobalNorm — евклидова норма всех градиентов вместе.
func GlobalNorm(slots []Slot) float64 {
	sum := 0.0
	for _, s := range slots {
		for _, g := range s.Grad {
			sum += g * g
		}
	}
	return math.Sqrt(sum)
}

// ClipByGlobalNorm масштабирует градиенты так, чтобы общая норма не превышала maxNorm.
// Возвращает норму до обрезки.
func ClipByGlobalNorm(slots []Slot, maxNorm float64) float64 {
	norm := GlobalNorm(slots)
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for _, s := range slots {
			for k := range s.Grad {
				s.Grad[k] *= scale
			}
		}
	}
	return norm
}
