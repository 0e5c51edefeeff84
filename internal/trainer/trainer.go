package trainer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/go-portfolio/go-gru-textgen/internal/contract"
	"github.com/go-portfolio/go-gru-textgen/internal/dataset"
	"github.com/go-portfolio/go-gru-textgen/internal/diag"
	"github.com/go-portfolio/go-gru-textgen/internal/optimizer"
	"github.com/go-portfolio/go-gru-textgen/internal/rnn"
)

var ErrTrainingDiverged = contract.ErrTrainingDiverged

// Options — параметры цикла обучения.
type Options struct {
	Epochs    int     // число проходов по данным
	Workers   int     // на сколько частей делить батч для параллельного счёта градиентов
	ClipValue float64 // > 0: обрезка каждой компоненты градиента
	ClipNorm  float64 // > 0: обрезка общей нормы градиента
}

// EpochStats — итог одной эпохи.
type EpochStats struct {
	Epoch    int
	Loss     float64 // средняя cross-entropy на позицию
	Batches  int
	Windows  int
	Duration time.Duration
}

// History — статистика по эпохам в порядке обучения.
type History []EpochStats

// Trainer владеет изменяемыми параметрами модели на время обучения.
type Trainer struct {
	model *rnn.Model
	opt   optimizer.Optimizer
	opts  Options
	log   *diag.Logger
}

// New создаёт тренер. log == nil — без логов.
func New(model *rnn.Model, opt optimizer.Optimizer, opts Options, log *diag.Logger) *Trainer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if log == nil {
		log = diag.Nop()
	}
	return &Trainer{model: model, opt: opt, opts: opts, log: log}
}

// ------------------------- TRAIN -------------------------

// Train прогоняет Epochs эпох; на каждую эпоху строится новый итератор.
// Ошибка любого батча прерывает обучение целиком.
func (tr *Trainer) Train(ctx context.Context, p *dataset.Pipeline) (History, error) {
	if tr.opts.Epochs <= 0 {
		return nil, fmt.Errorf("%w: epochs=%d", contract.ErrInvalidOptions, tr.opts.Epochs)
	}
	var hist History
	for epoch := 0; epoch < tr.opts.Epochs; epoch++ {
		timer := tr.log.StartWithKV("trainer", "epoch", map[string]string{
			"epoch":   strconv.Itoa(epoch + 1),
			"of":      strconv.Itoa(tr.opts.Epochs),
			"batches": strconv.Itoa(p.NumBatches()),
		})
		stats, err := tr.runEpoch(ctx, p, epoch)
		if err != nil {
			tr.log.Error("trainer", err, nil)
			return hist, err
		}
		stats.Duration = timer.Elapsed()
		hist = append(hist, stats)
		timer.FinishWithKV("epoch done", int64(stats.Batches), map[string]string{
			"epoch": strconv.Itoa(epoch + 1),
			"loss":  strconv.FormatFloat(stats.Loss, 'f', 4, 64),
		})
	}
	return hist, nil
}

func (tr *Trainer) runEpoch(ctx context.Context, p *dataset.Pipeline, epoch int) (EpochStats, error) {
	stats := EpochStats{Epoch: epoch + 1}
	it := p.Epoch(epoch)
	total, positions := 0.0, 0
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch, ok := it.Next()
		if !ok {
			break
		}
		loss, err := tr.Step(batch)
		if err != nil {
			return stats, fmt.Errorf("epoch %d batch %d: %w", epoch+1, stats.Batches+1, err)
		}
		n := batch.Size() * len(batch.Inputs[0])
		total += loss * float64(n)
		positions += n
		stats.Batches++
		stats.Windows += batch.Size()
		tr.log.Debug("trainer", "batch", map[string]string{
			"epoch": strconv.Itoa(epoch + 1),
			"batch": strconv.Itoa(stats.Batches),
			"loss":  strconv.FormatFloat(loss, 'f', 4, 64),
		})
	}
	if positions > 0 {
		stats.Loss = total / float64(positions)
	}
	return stats, nil
}

// ------------------------- STEP -------------------------

type shardResult struct {
	loss  float64
	grads *rnn.Grads
	err   error
}

// Step выполняет один шаг оптимизации на батче и возвращает средний loss на позицию.
// Батч делится на части, градиенты частей считаются в горутинах и складываются
// в фиксированном порядке, поэтому результат не зависит от планировщика.
func (tr *Trainer) Step(batch dataset.Batch) (float64, error) {
	cfg := tr.model.Config()
	xs, err := dataset.OneHot(batch.Inputs, cfg.InputDim)
	if err != nil {
		return 0, err
	}
	b, steps := batch.Size(), len(xs)
	scale := 1 / float64(b*steps)

	shards := split(b, tr.opts.Workers)
	results := make([]shardResult, len(shards))
	var wg sync.WaitGroup
	for i, sh := range shards {
		i, sh := i, sh
		wg.Add(1)
		go func() {
			defer wg.Done()
			part := rows(xs, sh[0], sh[1])
			r := &results[i]
			r.loss, r.grads, r.err = tr.model.Gradients(part, batch.Targets[sh[0]:sh[1]], scale)
		}()
	}
	wg.Wait()

	grads := results[0].grads
	loss := 0.0
	for i, r := range results {
		if r.err != nil {
			return 0, r.err
		}
		loss += r.loss
		if i > 0 {
			grads.Add(r.grads)
		}
	}
	loss *= scale
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, fmt.Errorf("%w: loss %v", ErrTrainingDiverged, loss)
	}

	slots := tr.slots(grads)
	if tr.opts.ClipValue > 0 {
		optimizer.ClipByValue(slots, tr.opts.ClipValue)
	}
	var norm float64
	if tr.opts.ClipNorm > 0 {
		norm = optimizer.ClipByGlobalNorm(slots, tr.opts.ClipNorm)
	} else {
		norm = optimizer.GlobalNorm(slots)
	}
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return loss, fmt.Errorf("%w: gradient norm %v", ErrTrainingDiverged, norm)
	}

	tr.opt.Step(slots)
	tr.model.ApplyStats(grads.Stats)
	return loss, nil
}

// slots связывает обучаемые параметры с их градиентами; замороженные пропускаются.
func (tr *Trainer) slots(g *rnn.Grads) []optimizer.Slot {
	params := tr.model.Params()
	out := make([]optimizer.Slot, 0, len(params))
	for i, p := range params {
		if !p.Trainable {
			continue
		}
		out = append(out, optimizer.Slot{
			Name:  p.Name,
			Value: p.Value.RawMatrix().Data,
			Grad:  g.Values[i].RawMatrix().Data,
		})
	}
	return out
}

// split делит n строк на не более чем parts непустых диапазонов [lo, hi).
func split(n, parts int) [][2]int {
	if parts > n {
		parts = n
	}
	out := make([][2]int, 0, parts)
	lo := 0
	for i := 0; i < parts; i++ {
		hi := lo + n/parts
		if i < n%parts {
			hi++
		}
		out = append(out, [2]int{lo, hi})
		lo = hi
	}
	return out
}

// rows возвращает представления строк [lo, hi) каждого шага без копирования.
func rows(xs []*mat.Dense, lo, hi int) []*mat.Dense {
	out := make([]*mat.Dense, len(xs))
	for t, x := range xs {
		_, c := x.Dims()
		out[t] = x.Slice(lo, hi, 0, c).(*mat.Dense)
	}
	return out
}
