package optimizer

import (
	"math"
	"testing"
)

// Минимизируем f(w) = Σ (w - 3)²; каждый оптимизатор должен подойти к 3.
func TestOptimizersConvergeOnQuadratic(t *testing.T) {
	cases := []Options{
		{Name: "sgd", LR: 0.1},
		{Name: "momentum", LR: 0.05},
		{Name: "nesterov", LR: 0.05},
		{Name: "rmsprop", LR: 0.01},
		{Name: "adam", LR: 0.01},
	}
	for _, o := range cases {
		opt, err := New(o)
		if err != nil {
			t.Fatalf("New(%s): %v", o.Name, err)
		}
		w := []float64{-2, 0, 8}
		g := make([]float64, len(w))
		for step := 0; step < 2000; step++ {
			for k := range w {
				g[k] = 2 * (w[k] - 3)
			}
			opt.Step([]Slot{{Name: "w", Value: w, Grad: g}})
		}
		for k := range w {
			if math.Abs(w[k]-3) > 0.05 {
				t.Fatalf("%s: w[%d] = %v, ожидали ≈ 3", opt.Name(), k, w[k])
			}
		}
	}
}

func TestAdamFirstStepIsLR(t *testing.T) {
	// после поправки смещения первый шаг Adam по модулю ≈ lr
	opt := NewAdam(0.01, 0.9, 0.999, 1e-7)
	w := []float64{1, 1}
	opt.Step([]Slot{{Name: "w", Value: w, Grad: []float64{5, -0.001}}})
	if math.Abs(w[0]-0.99) > 1e-6 || math.Abs(w[1]-1.01) > 1e-4 {
		t.Fatalf("первый шаг Adam: %v", w)
	}
	if opt.Steps() != 1 {
		t.Fatalf("Steps = %d", opt.Steps())
	}
}

func TestStateIsPerSlot(t *testing.T) {
	opt := NewSGD(0.1, 0.9, false)
	a := []float64{0}
	b := []float64{0}
	opt.Step([]Slot{{Name: "a", Value: a, Grad: []float64{1}}, {Name: "b", Value: b, Grad: []float64{0}}})
	opt.Step([]Slot{{Name: "a", Value: a, Grad: []float64{0}}, {Name: "b", Value: b, Grad: []float64{0}}})
	if b[0] != 0 {
		t.Fatalf("момент одного слота не должен влиять на другой: b=%v", b)
	}
	if math.Abs(a[0]-(-0.1-0.09)) > 1e-12 {
		t.Fatalf("момент слота a: %v", a[0])
	}
}

func TestUnknownOptimizer(t *testing.T) {
	if _, err := New(Options{Name: "adagrad"}); err == nil {
		t.Fatal("ожидали ошибку")
	}
}

func TestClipByValue(t *testing.T) {
	g := []float64{-10, 0.5, 7}
	ClipByValue([]Slot{{Grad: g}}, 5)
	if g[0] != -5 || g[1] != 0.5 || g[2] != 5 {
		t.Fatalf("ClipByValue: %v", g)
	}
}

func TestClipByGlobalNorm(t *testing.T) {
	a := []float64{3}
	b := []float64{4}
	slots := []Slot{{Grad: a}, {Grad: b}}
	if n := ClipByGlobalNorm(slots, 1); math.Abs(n-5) > 1e-12 {
		t.Fatalf("норма до обрезки %v", n)
	}
	if n := GlobalNorm(slots); math.Abs(n-1) > 1e-12 {
		t.Fatalf("норма после обрезки %v", n)
	}
	if math.Abs(a[0]-0.6) > 1e-12 || math.Abs(b[0]-0.8) > 1e-12 {
		t.Fatalf("направление должно сохраниться: %v %v", a, b)
	}
}
