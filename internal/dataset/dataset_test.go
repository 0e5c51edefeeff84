package dataset

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/go-portfolio/go-gru-textgen/internal/textutils"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func collect(t *testing.T, it *Iterator) []Batch {
	t.Helper()
	var out []Batch
	for {
		b, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func TestWindowsAbcabc(t *testing.T) {
	v, err := textutils.BuildVocab("abcabc", textutils.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ids, _ := v.Encode("abcabc")
	p, err := New(ids, Options{SeqLength: 2, BatchSize: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.NumWindows() != 4 {
		t.Fatalf("ожидали 4 окна, получили %d", p.NumWindows())
	}
	want := [][2]string{{"ab", "bc"}, {"bc", "ca"}, {"ca", "ab"}, {"ab", "bc"}}
	batches := collect(t, p.Epoch(0))
	if len(batches) != 4 {
		t.Fatalf("ожидали 4 батча, получили %d", len(batches))
	}
	for i, b := range batches {
		in, _ := v.Decode(b.Inputs[0])
		tg, _ := v.Decode(b.Targets[0])
		if in != want[i][0] || tg != want[i][1] {
			t.Fatalf("окно %d: %q->%q, ожидали %q->%q", i, in, tg, want[i][0], want[i][1])
		}
	}
}

func TestWindowCountAndShift(t *testing.T) {
	for _, tc := range []struct{ n, l int }{{10, 1}, {10, 9}, {57, 8}, {101, 100}} {
		p, err := New(seq(tc.n), Options{SeqLength: tc.l, BatchSize: 3})
		if err != nil {
			t.Fatalf("New(%d,%d): %v", tc.n, tc.l, err)
		}
		if p.NumWindows() != tc.n-tc.l {
			t.Fatalf("N=%d L=%d: окон %d", tc.n, tc.l, p.NumWindows())
		}
		count := 0
		for _, b := range collect(t, p.Epoch(0)) {
			for i := range b.Inputs {
				count++
				if !reflect.DeepEqual(b.Inputs[i][1:], b.Targets[i][:tc.l-1]) {
					t.Fatalf("цель не сдвинута: %v / %v", b.Inputs[i], b.Targets[i])
				}
				if b.Targets[i][tc.l-1] != b.Inputs[i][tc.l-1]+1 {
					t.Fatalf("последний элемент цели не из того же среза: %v / %v", b.Inputs[i], b.Targets[i])
				}
			}
		}
		if count != tc.n-tc.l {
			t.Fatalf("выдано %d окон, ожидали %d", count, tc.n-tc.l)
		}
	}
}

func TestShuffleCoversEveryWindowOnce(t *testing.T) {
	p, err := New(seq(300), Options{SeqLength: 10, BatchSize: 7, ShuffleBuffer: 32, Seed: 42})
	if err != nil {
		t.Fatal(err)
	}
	starts := func(epoch int) []int {
		var out []int
		for _, b := range collect(t, p.Epoch(epoch)) {
			for _, in := range b.Inputs {
				out = append(out, in[0])
			}
		}
		return out
	}
	e0 := starts(0)
	if len(e0) != p.NumWindows() {
		t.Fatalf("выдано %d окон, ожидали %d", len(e0), p.NumWindows())
	}
	sorted := append([]int(nil), e0...)
	sort.Ints(sorted)
	if !reflect.DeepEqual(sorted, seq(p.NumWindows())) {
		t.Fatal("каждое окно должно встретиться ровно один раз")
	}
	if reflect.DeepEqual(e0, seq(p.NumWindows())) {
		t.Fatal("порядок не перемешан")
	}
	if !reflect.DeepEqual(e0, starts(0)) {
		t.Fatal("одна и та же эпоха должна давать одинаковый порядок")
	}
	if reflect.DeepEqual(e0, starts(1)) {
		t.Fatal("разные эпохи должны перемешиваться по-разному")
	}
}

func TestBatchingRemainder(t *testing.T) {
	p, _ := New(seq(12), Options{SeqLength: 2, BatchSize: 4})
	batches := collect(t, p.Epoch(0))
	if len(batches) != 3 || p.NumBatches() != 3 {
		t.Fatalf("10 окон по 4: ожидали 3 батча, получили %d (NumBatches=%d)", len(batches), p.NumBatches())
	}
	if batches[2].Size() != 2 {
		t.Fatalf("последний батч: %d окон", batches[2].Size())
	}

	p, _ = New(seq(12), Options{SeqLength: 2, BatchSize: 4, DropRemainder: true})
	batches = collect(t, p.Epoch(0))
	if len(batches) != 2 || p.NumBatches() != 2 {
		t.Fatalf("DropRemainder: ожидали 2 батча, получили %d", len(batches))
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(seq(3), Options{SeqLength: 3, BatchSize: 1}); !errors.Is(err, ErrTooShort) {
		t.Fatalf("ожидали ErrTooShort, получили %v", err)
	}
	if _, err := New(seq(3), Options{SeqLength: 0, BatchSize: 1}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("ожидали ErrInvalidOptions, получили %v", err)
	}
	if _, err := New(seq(3), Options{SeqLength: 1, BatchSize: 1, ShuffleBuffer: -1}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("ожидали ErrInvalidOptions, получили %v", err)
	}
}

func TestDropRemainderNeedsOneFullBatch(t *testing.T) {
	// 12 id, L=4: 8 окон, меньше одного батча из 32
	if _, err := New(seq(12), Options{SeqLength: 4, BatchSize: 32, DropRemainder: true}); !errors.Is(err, ErrTooShort) {
		t.Fatalf("ожидали ErrTooShort, получили %v", err)
	}
	p, err := New(seq(12), Options{SeqLength: 4, BatchSize: 32})
	if err != nil {
		t.Fatalf("без DropRemainder неполный батч допустим: %v", err)
	}
	if p.NumBatches() != 1 {
		t.Fatalf("NumBatches = %d, ожидали 1", p.NumBatches())
	}
	p, err = New(seq(12), Options{SeqLength: 4, BatchSize: 8, DropRemainder: true})
	if err != nil || p.NumBatches() != 1 {
		t.Fatalf("ровно один полный батч: err=%v batches=%d", err, p.NumBatches())
	}
}

func TestPipelineCopiesInput(t *testing.T) {
	ids := seq(5)
	p, _ := New(ids, Options{SeqLength: 2, BatchSize: 1})
	ids[0] = 99
	if w := p.Window(0); w.Input[0] != 0 {
		t.Fatalf("конвейер должен держать свою копию корпуса: %v", w.Input)
	}
}

func TestOneHot(t *testing.T) {
	xs, err := OneHot([][]int{{0, 2}, {1, 1}}, 3)
	if err != nil {
		t.Fatalf("OneHot: %v", err)
	}
	if len(xs) != 2 {
		t.Fatalf("ожидали 2 шага, получили %d", len(xs))
	}
	r, c := xs[0].Dims()
	if r != 2 || c != 3 {
		t.Fatalf("форма шага %dx%d", r, c)
	}
	want := [][]float64{{1, 0, 0, 0, 1, 0}, {0, 0, 1, 0, 1, 0}}
	for step, x := range xs {
		if !reflect.DeepEqual(x.RawMatrix().Data, want[step]) {
			t.Fatalf("шаг %d: %v", step, x.RawMatrix().Data)
		}
	}
	if _, err := OneHot([][]int{{0, 3}}, 3); !errors.Is(err, ErrOutOfVocab) {
		t.Fatalf("ожидали ErrOutOfVocab, получили %v", err)
	}
	if _, err := OneHot([][]int{{0, 1}, {0}}, 3); err == nil {
		t.Fatal("строки разной длины должны давать ошибку")
	}
}
