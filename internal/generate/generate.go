package generate

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"unicode/utf8"

	"gonum.org/v1/gonum/mat"

	"github.com/go-portfolio/go-gru-textgen/internal/activation"
	"github.com/go-portfolio/go-gru-textgen/internal/contract"
	"github.com/go-portfolio/go-gru-textgen/internal/dataset"
	"github.com/go-portfolio/go-gru-textgen/internal/rnn"
	"github.com/go-portfolio/go-gru-textgen/internal/textutils"
)

var (
	ErrEmptyPrompt      = contract.ErrEmptyPrompt
	ErrPromptTooLong    = contract.ErrPromptTooLong
	ErrUnknownCharacter = contract.ErrUnknownCharacter
)

// ------------------------- SAMPLERS -------------------------

// Sampler выбирает индекс следующего символа по распределению вероятностей.
type Sampler interface {
	Sample(probs []float64) int
}

// Argmax — жадный выбор самого вероятного символа.
type Argmax struct{}

func (Argmax) Sample(probs []float64) int { return activation.ArgMax(probs) }

// Temperature перевзвешивает распределение как p^(1/T) и сэмплирует из него.
// T < 1 делает выбор увереннее, T > 1 — разнообразнее; T <= 0 сводится к Argmax.
// Rng == nil — общий источник math/rand (без воспроизводимости).
type Temperature struct {
	T   float64
	Rng *rand.Rand
}

func (s Temperature) Sample(probs []float64) int {
	if s.T <= 0 {
		return activation.ArgMax(probs)
	}
	logits := make([]float64, len(probs))
	for i, p := range probs {
		logits[i] = math.Log(math.Max(p, 1e-300)) / s.T
	}
	activation.Softmax(logits, logits)

	var u float64
	if s.Rng != nil {
		u = s.Rng.Float64()
	} else {
		u = rand.Float64()
	}
	cdf := 0.0
	for i, p := range logits {
		cdf += p
		if u < cdf {
			return i
		}
	}
	// на случай ошибок округления
	return len(logits) - 1
}

// ------------------------- GENERATOR -------------------------

// Generator предсказывает следующие символы по обученной модели и замороженному словарю.
type Generator struct {
	model  *rnn.Model
	vocab  *textutils.Vocab
	seqLen int
}

// New связывает модель со словарём. seqLen — длина окна, на котором обучалась модель.
func New(model *rnn.Model, vocab *textutils.Vocab, seqLen int) (*Generator, error) {
	cfg := model.Config()
	if cfg.InputDim != vocab.Size() || cfg.OutputDim != vocab.Size() {
		return nil, fmt.Errorf("%w: model is %d->%d, vocabulary has %d characters",
			contract.ErrShapeMismatch, cfg.InputDim, cfg.OutputDim, vocab.Size())
	}
	if seqLen <= 0 {
		return nil, fmt.Errorf("%w: seq_length=%d", contract.ErrInvalidOptions, seqLen)
	}
	return &Generator{model: model, vocab: vocab, seqLen: seqLen}, nil
}

// Distribution возвращает распределение следующего символа после prompt:
// вероятности на последней позиции, по оси словаря.
func (g *Generator) Distribution(prompt string) ([]float64, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if n := utf8.RuneCountInString(prompt); n > g.seqLen {
		return nil, fmt.Errorf("%w: %d characters, window is %d", ErrPromptTooLong, n, g.seqLen)
	}
	ids, err := g.vocab.Encode(prompt)
	if err != nil {
		return nil, err
	}
	xs, err := dataset.OneHot([][]int{ids}, g.vocab.Size())
	if err != nil {
		return nil, err
	}
	probs, err := g.model.Predict(xs)
	if err != nil {
		return nil, err
	}
	last := probs[len(probs)-1]
	return mat.Row(nil, 0, last), nil
}

// NextChar — один шаг жадной генерации: самый вероятный символ после prompt.
func (g *Generator) NextChar(prompt string) (rune, error) {
	probs, err := g.Distribution(prompt)
	if err != nil {
		return 0, err
	}
	r, ok := g.vocab.Char(activation.ArgMax(probs))
	if !ok {
		return 0, fmt.Errorf("%w: model predicted id outside vocabulary", contract.ErrShapeMismatch)
	}
	return r, nil
}

// Generate дописывает к prompt n символов, каждый раз подавая модели последние
// seqLen символов текста. Возвращает только сгенерированную часть.
func (g *Generator) Generate(ctx context.Context, prompt string, n int, s Sampler) (string, error) {
	if s == nil {
		s = Argmax{}
	}
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	window := []rune(prompt)
	if len(window) > g.seqLen {
		return "", fmt.Errorf("%w: %d characters, window is %d", ErrPromptTooLong, len(window), g.seqLen)
	}
	var out strings.Builder
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return out.String(), err
		}
		probs, err := g.Distribution(string(window))
		if err != nil {
			return out.String(), err
		}
		r, ok := g.vocab.Char(s.Sample(probs))
		if !ok {
			return out.String(), fmt.Errorf("%w: sampled id outside vocabulary", contract.ErrShapeMismatch)
		}
		out.WriteRune(r)
		window = append(window, r)
		if len(window) > g.seqLen {
			window = window[len(window)-g.seqLen:]
		}
	}
	return out.String(), nil
}
