package generate

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/go-portfolio/go-gru-textgen/internal/dataset"
	"github.com/go-portfolio/go-gru-textgen/internal/optimizer"
	"github.com/go-portfolio/go-gru-textgen/internal/rnn"
	"github.com/go-portfolio/go-gru-textgen/internal/textutils"
	"github.com/go-portfolio/go-gru-textgen/internal/trainer"
)

const seqLen = 4

// trained обучает маленькую модель на периодическом тексте "abcd…".
func trained(t *testing.T) *Generator {
	t.Helper()
	text := strings.Repeat("abcd", 20)
	v, err := textutils.BuildVocab(text, textutils.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ids, _ := v.Encode(text)
	p, err := dataset.New(ids, dataset.Options{SeqLength: seqLen, BatchSize: 8, ShuffleBuffer: 16, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	m, err := rnn.New(rnn.Config{InputDim: v.Size(), Hidden: []int{16}, OutputDim: v.Size(), Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	tr := trainer.New(m, optimizer.NewAdam(0.01, 0.9, 0.999, 1e-7), trainer.Options{Epochs: 40}, nil)
	if _, err := tr.Train(context.Background(), p); err != nil {
		t.Fatalf("Train: %v", err)
	}
	g, err := New(m, v, seqLen)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestNextCharAndGenerate(t *testing.T) {
	g := trained(t)
	for prompt, want := range map[string]rune{"a": 'b', "abc": 'd', "dab": 'c', "cdab": 'c'} {
		got, err := g.NextChar(prompt)
		if err != nil {
			t.Fatalf("NextChar(%q): %v", prompt, err)
		}
		if got != want {
			t.Fatalf("NextChar(%q) = %q, ожидали %q", prompt, got, want)
		}
	}
	out, err := g.Generate(context.Background(), "ab", 6, Argmax{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "cdabcd" {
		t.Fatalf("Generate = %q, ожидали \"cdabcd\"", out)
	}
}

func TestPromptErrors(t *testing.T) {
	v, _ := textutils.BuildVocab("abcd", textutils.Options{})
	m, _ := rnn.New(rnn.Config{InputDim: v.Size(), Hidden: []int{3}, OutputDim: v.Size()})
	g, err := New(m, v, seqLen)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.NextChar(""); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("пустая затравка: %v", err)
	}
	if _, err := g.NextChar("abz"); !errors.Is(err, ErrUnknownCharacter) {
		t.Fatalf("неизвестный символ: %v", err)
	}
	if _, err := g.NextChar("abcda"); !errors.Is(err, ErrPromptTooLong) {
		t.Fatalf("длинная затравка: %v", err)
	}
	if _, err := g.Generate(context.Background(), "", 3, nil); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("Generate с пустой затравкой: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, "ab", 3, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("отмена: %v", err)
	}

	other, _ := textutils.BuildVocab("xyz", textutils.Options{})
	if _, err := New(m, other, seqLen); err == nil {
		t.Fatal("словарь другого размера должен давать ошибку")
	}
}

func TestDistributionIsOverVocabulary(t *testing.T) {
	v, _ := textutils.BuildVocab("abcdef", textutils.Options{})
	m, _ := rnn.New(rnn.Config{InputDim: v.Size(), Hidden: []int{3}, OutputDim: v.Size()})
	g, _ := New(m, v, 8)
	probs, err := g.Distribution("abc")
	if err != nil {
		t.Fatal(err)
	}
	// распределение по словарю, а не по позициям затравки
	if len(probs) != v.Size() {
		t.Fatalf("длина распределения %d, ожидали %d", len(probs), v.Size())
	}
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Fatalf("сумма %v", sum)
	}
}

func TestTemperatureSampler(t *testing.T) {
	probs := []float64{0.2, 0.8}
	s := Temperature{T: 1, Rng: rand.New(rand.NewSource(7))}
	hits := 0
	const n = 20000
	for i := 0; i < n; i++ {
		if s.Sample(probs) == 1 {
			hits++
		}
	}
	if f := float64(hits) / n; math.Abs(f-0.8) > 0.02 {
		t.Fatalf("частота %v, ожидали ≈ 0.8", f)
	}

	cold := Temperature{T: 0.01, Rng: rand.New(rand.NewSource(7))}
	for i := 0; i < 100; i++ {
		if cold.Sample([]float64{0.45, 0.55}) != 1 {
			t.Fatal("при малой температуре выбор почти детерминирован")
		}
	}
	if (Temperature{}).Sample([]float64{0.1, 0.9}) != 1 {
		t.Fatal("T=0 должен давать argmax")
	}
}

func TestTemperatureWithoutRng(t *testing.T) {
	s := Temperature{T: 1}
	for i := 0; i < 50; i++ {
		if k := s.Sample([]float64{0.3, 0.7}); k != 0 && k != 1 {
			t.Fatalf("индекс вне распределения: %d", k)
		}
	}
	// вырожденное распределение выбирается всегда
	if k := s.Sample([]float64{0, 1, 0}); k != 1 {
		t.Fatalf("ожидали 1, получили %d", k)
	}
}
