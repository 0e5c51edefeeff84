package rnn

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/go-portfolio/go-gru-textgen/internal/activation"
	"github.com/go-portfolio/go-gru-textgen/internal/contract"
	"github.com/go-portfolio/go-gru-textgen/internal/initializer"
	"github.com/go-portfolio/go-gru-textgen/internal/norm"
)

var ErrShapeMismatch = contract.ErrShapeMismatch

// probFloor — нижняя граница вероятности в cross-entropy, чтобы log не уходил в -Inf.
const probFloor = 1e-7

// Config описывает архитектуру: стек GRU-слоёв и позиционный softmax-классификатор.
type Config struct {
	InputDim      int    `json:"input_dim"`
	Hidden        []int  `json:"hidden"`
	OutputDim     int    `json:"output_dim"`
	Activation    string `json:"activation"`
	KernelInit    string `json:"kernel_init"`
	RecurrentInit string `json:"recurrent_init"`
	BatchNorm     bool   `json:"batch_norm"`
	Seed          int64  `json:"seed"`
}

// Param — обучаемый тензор модели. Value указывает на живые веса.
type Param struct {
	Name      string
	Value     *mat.Dense
	Trainable bool
}

// ------------------------- MODEL -------------------------

// Model — стек GRU + (необязательно) batch norm + dense/softmax на каждой позиции.
// Forward и Gradients только читают веса, поэтому их можно вызывать из нескольких
// горутин, пока никто не обновляет параметры.
type Model struct {
	cfg    Config
	layers []*Layer
	bn     *norm.BatchNorm
	wy, by *mat.Dense // H×V и 1×V
	params []*Param
}

// New создаёт модель со случайными весами.
func New(cfg Config) (*Model, error) {
	if cfg.InputDim <= 0 || cfg.OutputDim <= 0 || len(cfg.Hidden) == 0 {
		return nil, fmt.Errorf("rnn: invalid dims input=%d output=%d layers=%d", cfg.InputDim, cfg.OutputDim, len(cfg.Hidden))
	}
	for i, h := range cfg.Hidden {
		if h <= 0 {
			return nil, fmt.Errorf("rnn: layer %d has %d units", i, h)
		}
	}
	act, err := activation.Lookup(cfg.Activation)
	if err != nil {
		return nil, err
	}
	kernel, err := initializer.Lookup(orDefault(cfg.KernelInit, "glorot_uniform"))
	if err != nil {
		return nil, err
	}
	recurrent, err := initializer.Lookup(orDefault(cfg.RecurrentInit, "orthogonal"))
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &Model{cfg: cfg}
	in := cfg.InputDim
	for _, h := range cfg.Hidden {
		m.layers = append(m.layers, newLayer(in, h, act, kernel, recurrent, rng))
		in = h
	}
	if cfg.BatchNorm {
		m.bn = norm.New(in)
	}
	m.wy = kernel(in, cfg.OutputDim, rng)
	m.by = mat.NewDense(1, cfg.OutputDim, nil)
	m.buildParams()
	return m, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func (m *Model) buildParams() {
	m.params = m.params[:0]
	for li, l := range m.layers {
		for i, w := range l.w {
			m.params = append(m.params, &Param{Name: fmt.Sprintf("gru%d/%s", li, weightNames[i]), Value: w, Trainable: true})
		}
	}
	if m.bn != nil {
		m.params = append(m.params,
			&Param{Name: "bn/gamma", Value: m.bn.Gamma, Trainable: true},
			&Param{Name: "bn/beta", Value: m.bn.Beta, Trainable: true})
	}
	m.params = append(m.params,
		&Param{Name: "dense/W", Value: m.wy, Trainable: true},
		&Param{Name: "dense/b", Value: m.by, Trainable: true})
}

// Config возвращает архитектуру модели.
func (m *Model) Config() Config {
	cfg := m.cfg
	cfg.Hidden = append([]int(nil), m.cfg.Hidden...)
	return cfg
}

// Params возвращает параметры в фиксированном порядке; тот же порядок у Grads.Values.
func (m *Model) Params() []*Param { return m.params }

// BatchNorm возвращает слой нормализации или nil.
func (m *Model) BatchNorm() *norm.BatchNorm { return m.bn }

// NumLayers — число GRU-слоёв.
func (m *Model) NumLayers() int { return len(m.layers) }

// ------------------------- FORWARD -------------------------

// Cache — активации прямого прохода для обратного.
type Cache struct {
	batch, steps int
	layers       [][]*stepCache // [слой][шаг]
	top          *mat.Dense     // выход последнего GRU, (T·B)×H
	feat         *mat.Dense     // вход классификатора (после batch norm)
	probs        *mat.Dense     // (T·B)×V
	bnCache      *norm.Cache
	stats        norm.Stats
}

func (m *Model) checkInputs(xs []*mat.Dense) (int, error) {
	if len(xs) == 0 {
		return 0, fmt.Errorf("%w: empty sequence", ErrShapeMismatch)
	}
	b, _ := xs[0].Dims()
	for t, x := range xs {
		r, c := x.Dims()
		if r != b || c != m.cfg.InputDim {
			return 0, fmt.Errorf("%w: step %d is %dx%d, want %dx%d", ErrShapeMismatch, t, r, c, b, m.cfg.InputDim)
		}
	}
	return b, nil
}

// Forward прогоняет последовательность xs (xs[t] — B×V) и возвращает
// распределения вероятностей по словарю на каждой позиции (B×V на шаг).
// Скрытое состояние каждого слоя начинается с нуля: батчи независимы.
func (m *Model) Forward(xs []*mat.Dense, training bool) ([]*mat.Dense, *Cache, error) {
	b, err := m.checkInputs(xs)
	if err != nil {
		return nil, nil, err
	}
	c := &Cache{batch: b, steps: len(xs), layers: make([][]*stepCache, len(m.layers))}

	seq := xs
	for li, l := range m.layers {
		seq, c.layers[li] = l.Run(seq)
	}
	c.top = stack(seq)
	c.feat = c.top
	if m.bn != nil {
		c.feat, c.bnCache, c.stats = m.bn.Forward(c.top, training)
	}

	var logits mat.Dense
	logits.Mul(c.feat, m.wy)
	addRow(&logits, m.by)
	rows, _ := logits.Dims()
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)
		activation.Softmax(row, row)
	}
	c.probs = &logits
	return unstack(c.probs, c.steps), c, nil
}

// Predict — прямой проход в режиме инференса.
func (m *Model) Predict(xs []*mat.Dense) ([]*mat.Dense, error) {
	probs, _, err := m.Forward(xs, false)
	return probs, err
}

// ------------------------- BACKWARD -------------------------

// Grads — градиенты в порядке Params() плюс статистика batch norm за батч.
type Grads struct {
	Values []*mat.Dense
	Stats  norm.Stats
}

// NewGrads возвращает нулевые градиенты под форму модели.
func (m *Model) NewGrads() *Grads {
	g := &Grads{Values: make([]*mat.Dense, len(m.params))}
	for i, p := range m.params {
		r, c := p.Value.Dims()
		g.Values[i] = mat.NewDense(r, c, nil)
	}
	return g
}

// Add прибавляет градиенты o к g.
func (g *Grads) Add(o *Grads) {
	for i := range g.Values {
		g.Values[i].Add(g.Values[i], o.Values[i])
	}
	g.Stats = g.Stats.Merge(o.Stats)
}

// Gradients считает cross-entropy по всем позициям батча и её градиенты.
// targets[b][t] — индекс следующего символа. Возвращаемый loss — сумма по позициям;
// градиенты посчитаны для scale·loss (обычно scale = 1/(B·T) по всему батчу).
func (m *Model) Gradients(xs []*mat.Dense, targets [][]int, scale float64) (float64, *Grads, error) {
	_, c, err := m.Forward(xs, true)
	if err != nil {
		return 0, nil, err
	}
	if len(targets) != c.batch {
		return 0, nil, fmt.Errorf("%w: %d target rows for batch of %d", ErrShapeMismatch, len(targets), c.batch)
	}
	for bi, row := range targets {
		if len(row) != c.steps {
			return 0, nil, fmt.Errorf("%w: target row %d has %d steps, want %d", ErrShapeMismatch, bi, len(row), c.steps)
		}
	}

	// dlogits = (p - onehot)·scale
	v := m.cfg.OutputDim
	dlogits := mat.DenseCopyOf(c.probs)
	loss := 0.0
	for t := 0; t < c.steps; t++ {
		for bi := 0; bi < c.batch; bi++ {
			k := targets[bi][t]
			if k < 0 || k >= v {
				return 0, nil, fmt.Errorf("%w: target %d outside vocabulary of %d", ErrShapeMismatch, k, v)
			}
			row := dlogits.RawRowView(t*c.batch + bi)
			loss -= math.Log(math.Max(row[k], probFloor))
			row[k] -= 1
		}
	}
	dlogits.Scale(scale, dlogits)

	g := m.NewGrads()
	g.Stats = c.stats
	n := len(m.params)
	addTMul(g.Values[n-2], c.feat, dlogits)
	addColSum(g.Values[n-1], dlogits)

	dTop := mulT(dlogits, m.wy)
	if m.bn != nil {
		dx, dGamma, dBeta := m.bn.Backward(dTop, c.bnCache)
		g.Values[n-4].Add(g.Values[n-4], dGamma)
		g.Values[n-3].Add(g.Values[n-3], dBeta)
		dTop = dx
	}

	dOut := unstack(dTop, c.steps)
	for li := len(m.layers) - 1; li >= 0; li-- {
		var lg [numWeights]*mat.Dense
		copy(lg[:], g.Values[li*numWeights:(li+1)*numWeights])
		dOut = m.layers[li].backward(dOut, c.layers[li], &lg, li > 0)
	}
	return loss, g, nil
}

// ApplyStats обновляет скользящие средние batch norm статистикой обученного батча.
func (m *Model) ApplyStats(s norm.Stats) {
	if m.bn != nil {
		m.bn.Update(s)
	}
}

// ------------------------- TRANSFER LEARNING -------------------------

// Freeze исключает из обучения параметры, имя которых начинается с одного из префиксов
// (например "gru0" или "dense"). Возвращает число затронутых параметров.
func (m *Model) Freeze(prefixes ...string) int {
	return m.setTrainable(false, prefixes)
}

// Unfreeze возвращает параметры в обучение.
func (m *Model) Unfreeze(prefixes ...string) int {
	return m.setTrainable(true, prefixes)
}

func (m *Model) setTrainable(v bool, prefixes []string) int {
	n := 0
	for _, p := range m.params {
		for _, pre := range prefixes {
			pre = strings.TrimSuffix(pre, "/")
			if p.Name == pre || strings.HasPrefix(p.Name, pre+"/") {
				p.Trainable = v
				n++
				break
			}
		}
	}
	return n
}

// TransferFrom копирует веса первых layers GRU-слоёв из предобученной модели.
// Классификатор и batch norm не переносятся: у новой задачи может быть другой словарь.
func (m *Model) TransferFrom(src *Model, layers int) error {
	if layers > len(m.layers) || layers > len(src.layers) {
		return fmt.Errorf("%w: cannot transfer %d layers (have %d, source %d)", ErrShapeMismatch, layers, len(m.layers), len(src.layers))
	}
	for i := 0; i < layers; i++ {
		if err := m.layers[i].copyFrom(src.layers[i]); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return nil
}
