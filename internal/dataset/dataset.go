package dataset

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/go-portfolio/go-gru-textgen/internal/contract"
)

var (
	ErrTooShort       = errors.New("encoded corpus shorter than one window")
	ErrInvalidOptions = contract.ErrInvalidOptions
)

// Options — параметры нарезки корпуса на окна и батчи.
type Options struct {
	SeqLength     int   // L: длина входа; окно имеет длину L+1
	BatchSize     int   // B: окон в батче
	ShuffleBuffer int   // S: размер буфера перемешивания; <= 1 — без перемешивания
	Seed          int64 // зерно; в эпоху e используется Seed+e
	DropRemainder bool  // отбрасывать последний неполный батч
}

// Window — одно обучающее окно: цель сдвинута относительно входа на одну позицию.
type Window struct {
	Input  []int
	Target []int
}

// Batch — группа окон; входы и цели сложены построчно.
type Batch struct {
	Inputs  [][]int
	Targets [][]int
}

// Size — число окон в батче.
func (b Batch) Size() int { return len(b.Inputs) }

// Pipeline хранит закодированный корпус и строит ленивые итераторы по эпохам.
// Сам Pipeline не меняется после New, поэтому эпохи независимы.
type Pipeline struct {
	data []int
	opts Options
}

// New проверяет параметры и готовит конвейер окон.
func New(encoded []int, opts Options) (*Pipeline, error) {
	if opts.SeqLength <= 0 || opts.BatchSize <= 0 || opts.ShuffleBuffer < 0 {
		return nil, fmt.Errorf("%w: seq_length=%d batch_size=%d shuffle_buffer=%d",
			ErrInvalidOptions, opts.SeqLength, opts.BatchSize, opts.ShuffleBuffer)
	}
	if len(encoded) < opts.SeqLength+1 {
		return nil, fmt.Errorf("%w: %d ids, window needs %d", ErrTooShort, len(encoded), opts.SeqLength+1)
	}
	// с DropRemainder эпоха без единого полного батча ничему не учит
	if windows := len(encoded) - opts.SeqLength; opts.DropRemainder && windows < opts.BatchSize {
		return nil, fmt.Errorf("%w: %d windows, drop_remainder needs at least batch_size=%d", ErrTooShort, windows, opts.BatchSize)
	}
	data := make([]int, len(encoded))
	copy(data, encoded)
	return &Pipeline{data: data, opts: opts}, nil
}

// Options возвращает параметры конвейера.
func (p *Pipeline) Options() Options { return p.opts }

// NumWindows — число полных окон: N - L при шаге 1.
func (p *Pipeline) NumWindows() int {
	return len(p.data) - p.opts.SeqLength
}

// NumBatches — число батчей за эпоху.
func (p *Pipeline) NumBatches() int {
	n, b := p.NumWindows(), p.opts.BatchSize
	if p.opts.DropRemainder {
		return n / b
	}
	return (n + b - 1) / b
}

// Window возвращает окно, начинающееся с позиции start.
func (p *Pipeline) Window(start int) Window {
	l := p.opts.SeqLength
	in := make([]int, l)
	tg := make([]int, l)
	copy(in, p.data[start:start+l])
	copy(tg, p.data[start+1:start+l+1])
	return Window{Input: in, Target: tg}
}

// Epoch создаёт новый однопроходный итератор. Порядок окон зависит от Seed и номера эпохи.
func (p *Pipeline) Epoch(epoch int) *Iterator {
	it := &Iterator{p: p}
	if p.opts.ShuffleBuffer > 1 {
		it.rng = rand.New(rand.NewSource(p.opts.Seed + int64(epoch)))
		it.buf = make([]int, 0, p.opts.ShuffleBuffer)
	}
	return it
}

// ------------------------- ITERATOR -------------------------

// Iterator лениво выдаёт батчи одной эпохи. Не безопасен для конкурентного использования.
type Iterator struct {
	p    *Pipeline
	next int   // следующий ещё не выданный в буфер старт окна
	buf  []int // буфер перемешивания (старты окон)
	rng  *rand.Rand
}

// nextStart выдаёт старт следующего окна через ограниченный буфер перемешивания:
// буфер заполняется до S, случайный элемент уходит наружу, его место занимает следующий
// элемент источника. Перестановка приблизительная, не по всему корпусу.
func (it *Iterator) nextStart() (int, bool) {
	total := it.p.NumWindows()
	if it.rng == nil {
		if it.next >= total {
			return 0, false
		}
		s := it.next
		it.next++
		return s, true
	}

	for len(it.buf) < it.p.opts.ShuffleBuffer && it.next < total {
		it.buf = append(it.buf, it.next)
		it.next++
	}
	if len(it.buf) == 0 {
		return 0, false
	}
	i := it.rng.Intn(len(it.buf))
	s := it.buf[i]
	if it.next < total {
		it.buf[i] = it.next
		it.next++
	} else {
		last := len(it.buf) - 1
		it.buf[i] = it.buf[last]
		it.buf = it.buf[:last]
	}
	return s, true
}

// Next возвращает следующий батч; false — эпоха закончилась.
func (it *Iterator) Next() (Batch, bool) {
	b := it.p.opts.BatchSize
	batch := Batch{
		Inputs:  make([][]int, 0, b),
		Targets: make([][]int, 0, b),
	}
	for len(batch.Inputs) < b {
		s, ok := it.nextStart()
		if !ok {
			break
		}
		w := it.p.Window(s)
		batch.Inputs = append(batch.Inputs, w.Input)
		batch.Targets = append(batch.Targets, w.Target)
	}
	if len(batch.Inputs) == 0 {
		return Batch{}, false
	}
	if len(batch.Inputs) < b && it.p.opts.DropRemainder {
		return Batch{}, false
	}
	return batch, true
}
