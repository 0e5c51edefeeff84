package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/go-portfolio/go-gru-textgen/internal/checkpoint"
	"github.com/go-portfolio/go-gru-textgen/internal/config"
	"github.com/go-portfolio/go-gru-textgen/internal/contract"
	"github.com/go-portfolio/go-gru-textgen/internal/corpus"
	"github.com/go-portfolio/go-gru-textgen/internal/dataset"
	"github.com/go-portfolio/go-gru-textgen/internal/diag"
	"github.com/go-portfolio/go-gru-textgen/internal/generate"
	"github.com/go-portfolio/go-gru-textgen/internal/optimizer"
	"github.com/go-portfolio/go-gru-textgen/internal/rnn"
	"github.com/go-portfolio/go-gru-textgen/internal/textutils"
	"github.com/go-portfolio/go-gru-textgen/internal/trainer"
)

// Коды выхода
const (
	exitOK       = 0
	exitOther    = 1
	exitUsage    = 2
	exitData     = 3
	exitTraining = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// stageError помечает ошибку кодом выхода стадии, на которой она возникла.
type stageError struct {
	code int
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func usageErr(err error) error { return &stageError{code: exitUsage, err: err} }

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("textgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "path to JSON config")
		initConfig  = fs.String("init-config", "", "write a template config to this path and exit")
		corpusSrc   = fs.String("corpus", "", "corpus file, http(s) URL or - for stdin")
		cacheDir    = fs.String("cache-dir", "", "directory for downloaded corpora")
		seqLength   = fs.Int("seq-length", 0, "window length L")
		batchSize   = fs.Int("batch-size", 0, "batch size")
		epochs      = fs.Int("epochs", 0, "training epochs")
		workers     = fs.Int("workers", 0, "gradient shards per batch")
		optName     = fs.String("optimizer", "", "sgd|momentum|nesterov|rmsprop|adam")
		lr          = fs.Float64("lr", 0, "learning rate")
		hidden      = fs.String("hidden", "", "comma-separated GRU layer sizes, e.g. 128,128")
		prompt      = fs.String("prompt", "", "prompt for prediction")
		length      = fs.Int("length", 0, "characters to generate; 0 predicts a single character")
		temperature = fs.Float64("temperature", 0, "sampling temperature; 0 is greedy")
		save        = fs.String("save", "", "write checkpoint to this path")
		load        = fs.String("load", "", "read checkpoint from this path")
		transfer    = fs.Int("transfer-layers", 0, "copy the first N GRU layers from -load into a fresh model")
		freeze      = fs.String("freeze", "", "comma-separated parameter prefixes to freeze, e.g. gru0,gru1")
		logLevel    = fs.String("log-level", "", "debug|info|warn|error")
		logDir      = fs.String("log-dir", "", "also write logs to rotating files in this directory")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if *initConfig != "" {
		if err := writeTemplate(*initConfig); err != nil {
			fmt.Fprintf(stderr, "init-config: %v\n", err)
			return exitOther
		}
		fmt.Fprintf(stdout, "template written to %s\n", *initConfig)
		return exitOK
	}

	// явно заданные флаги: их нулевые значения тоже что-то значат
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// Defaults -> JSON -> ENV -> флаги
	cfg := config.Defaults()
	var fromFile config.Config
	if *configPath != "" {
		var err error
		fromFile, err = config.LoadJSON(*configPath, nil)
		if err != nil {
			fmt.Fprintf(stderr, "config: %v\n", err)
			return exitUsage
		}
		cfg = config.Merge(cfg, fromFile)
	}
	fromEnv, err := config.EnvOverlay(os.Environ())
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}
	cfg = config.Merge(cfg, fromEnv)

	fromFlags := config.Config{
		Corpus:    *corpusSrc,
		SeqLength: *seqLength,
		BatchSize: *batchSize,
		Train: config.Train{
			Workers:   *workers,
			Optimizer: config.Optimizer{Name: *optName, LR: *lr},
		},
		Generate:   config.Generate{Prompt: *prompt, Length: *length, Temperature: *temperature},
		Checkpoint: config.Checkpoint{Save: *save, Load: *load, TransferLayers: *transfer, Freeze: splitComma(*freeze)},
		Logging:    config.Logging{Level: *logLevel, Dir: *logDir},
	}
	if *hidden != "" {
		for _, part := range splitComma(*hidden) {
			n, err := strconv.Atoi(part)
			if err != nil {
				fmt.Fprintf(stderr, "-hidden: %v\n", err)
				return exitUsage
			}
			fromFlags.Model.Hidden = append(fromFlags.Model.Hidden, n)
		}
	}
	if set["epochs"] {
		fromFlags.Train.Epochs = config.Int(*epochs)
	}
	cfg = config.Merge(cfg, fromFlags)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}

	sink := stderr
	if cfg.Logging.Dir != "" {
		rf := diag.NewRotatingFile(cfg.Logging.Dir, 0)
		defer rf.Close()
		sink = io.MultiWriter(stderr, rf)
	}
	log := diag.NewLogger(sink, uuid.NewString(), cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{
		cfg:    cfg,
		log:    log,
		out:    stdout,
		loader: corpus.New(&corpus.Options{CacheDir: *cacheDir}),
		seqSet: set["seq-length"] || fromFile.SeqLength != 0 || fromEnv.SeqLength != 0,
	}
	if err := a.run(ctx); err != nil {
		log.Error("main", err, nil)
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode сводит ошибку к коду выхода: сначала явная стадия, затем классификация.
func exitCode(err error) int {
	var se *stageError
	if errors.As(err, &se) {
		return se.code
	}
	switch diag.Classify(err) {
	case diag.CodeEmptyCorpus, diag.CodeUnknownChar, diag.CodeIO, diag.CodeNetwork:
		return exitData
	case diag.CodeDiverged:
		return exitTraining
	default:
		return exitOther
	}
}

// ------------------------- APP -------------------------

type app struct {
	cfg    config.Config
	log    *diag.Logger
	out    io.Writer
	loader *corpus.Loader

	// seqSet: seq_length задан явно (файл, окружение или флаг), а не взят по умолчанию
	seqSet bool

	model  *rnn.Model
	vocab  *textutils.Vocab
	seqLen int
}

func (a *app) run(ctx context.Context) error {
	var text string
	a.seqLen = a.cfg.SeqLength

	if a.cfg.Checkpoint.Load != "" {
		if err := a.restore(); err != nil {
			return err
		}
	}
	if a.cfg.Corpus != "" && (a.cfg.Training() || a.vocab == nil) {
		timer := a.log.StartWithKV("corpus", "load", map[string]string{"source": a.cfg.Corpus})
		t, err := a.loader.Load(ctx, a.cfg.Corpus)
		if err != nil {
			return fmt.Errorf("corpus: %w", err)
		}
		text = t
		timer.Finish("loaded", int64(len(text)))
	}

	if a.vocab == nil {
		v, err := textutils.BuildVocab(text, textutils.Options{Lower: a.cfg.LowerCase()})
		if err != nil {
			return fmt.Errorf("vocabulary: %w", err)
		}
		a.vocab = v
		a.log.Info("vocab", "built", map[string]string{"size": strconv.Itoa(v.Size())})
	}
	if a.model == nil {
		m, err := rnn.New(a.modelConfig())
		if err != nil {
			return usageErr(err)
		}
		a.model = m
	}
	if len(a.cfg.Checkpoint.Freeze) > 0 {
		n := a.model.Freeze(a.cfg.Checkpoint.Freeze...)
		a.log.Info("model", "frozen", map[string]string{"params": strconv.Itoa(n), "prefixes": strings.Join(a.cfg.Checkpoint.Freeze, ",")})
	}

	if a.cfg.Training() {
		if err := a.train(ctx, text); err != nil {
			return err
		}
	}
	if a.cfg.Checkpoint.Save != "" {
		st := checkpoint.State{Model: a.model, Vocab: a.vocab, SeqLength: a.seqLen}
		if err := checkpoint.Save(a.cfg.Checkpoint.Save, st); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		a.log.Info("checkpoint", "saved", map[string]string{"path": a.cfg.Checkpoint.Save})
	}
	if a.cfg.Generate.Prompt != "" {
		return a.generate(ctx)
	}
	return nil
}

func (a *app) modelConfig() rnn.Config {
	return rnn.Config{
		InputDim:      a.vocab.Size(),
		Hidden:        a.cfg.Model.Hidden,
		OutputDim:     a.vocab.Size(),
		Activation:    a.cfg.Model.Activation,
		KernelInit:    a.cfg.Model.KernelInit,
		RecurrentInit: a.cfg.Model.RecurrentInit,
		BatchNorm:     a.cfg.Model.UseBatchNorm(),
		Seed:          a.cfg.Seed,
	}
}

// restore загружает чекпойнт. При transfer_layers > 0 из него берутся только словарь
// и первые слои GRU, остальная модель строится заново по конфигу.
func (a *app) restore() error {
	st, err := checkpoint.Load(a.cfg.Checkpoint.Load)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	a.vocab = st.Vocab
	if a.cfg.Checkpoint.TransferLayers == 0 {
		// модель целиком: окно должно совпадать с тем, на котором она обучалась
		if st.SeqLength > 0 {
			if a.seqSet && a.cfg.SeqLength != st.SeqLength {
				return usageErr(fmt.Errorf("%w: seq_length=%d, checkpoint %s was trained with %d",
					contract.ErrInvalidOptions, a.cfg.SeqLength, a.cfg.Checkpoint.Load, st.SeqLength))
			}
			a.seqLen = st.SeqLength
		}
		a.model = st.Model
		a.log.Info("checkpoint", "loaded", map[string]string{"path": a.cfg.Checkpoint.Load})
		return nil
	}
	m, err := rnn.New(a.modelConfig())
	if err != nil {
		return usageErr(err)
	}
	if err := m.TransferFrom(st.Model, a.cfg.Checkpoint.TransferLayers); err != nil {
		return usageErr(fmt.Errorf("transfer: %w", err))
	}
	// при переносе новая модель учится заново: явный seq_length важнее сохранённого
	if !a.seqSet && st.SeqLength > 0 {
		a.seqLen = st.SeqLength
	}
	a.model = m
	a.log.Info("checkpoint", "transferred", map[string]string{
		"path":   a.cfg.Checkpoint.Load,
		"layers": strconv.Itoa(a.cfg.Checkpoint.TransferLayers),
	})
	return nil
}

func (a *app) train(ctx context.Context, text string) error {
	ids, err := a.vocab.Encode(text)
	if err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}
	p, err := dataset.New(ids, dataset.Options{
		SeqLength:     a.seqLen,
		BatchSize:     a.cfg.BatchSize,
		ShuffleBuffer: a.cfg.ShuffleBuffer,
		Seed:          a.cfg.Seed,
		DropRemainder: a.cfg.Drop(),
	})
	if err != nil {
		return &stageError{code: exitData, err: fmt.Errorf("dataset: %w", err)}
	}
	opt, err := optimizer.New(a.cfg.Train.Optimizer.Options())
	if err != nil {
		return usageErr(err)
	}
	a.log.Info("trainer", "setup", map[string]string{
		"windows":   strconv.Itoa(p.NumWindows()),
		"batches":   strconv.Itoa(p.NumBatches()),
		"optimizer": opt.Name(),
	})
	tr := trainer.New(a.model, opt, trainer.Options{
		Epochs:    a.cfg.Train.EpochCount(),
		Workers:   a.cfg.Train.Workers,
		ClipValue: a.cfg.Train.ClipValue,
		ClipNorm:  a.cfg.Train.ClipNorm,
	}, a.log)
	hist, err := tr.Train(ctx, p)
	if err != nil {
		return err
	}
	for _, e := range hist {
		fmt.Fprintf(a.out, "epoch %d/%d: loss %.4f (%d batches, %s)\n", e.Epoch, len(hist), e.Loss, e.Batches, e.Duration.Round(time.Millisecond))
	}
	return nil
}

func (a *app) generate(ctx context.Context) error {
	g, err := generate.New(a.model, a.vocab, a.seqLen)
	if err != nil {
		return err
	}
	prompt := a.cfg.Generate.Prompt
	if a.cfg.Generate.Length == 0 {
		ch, err := g.NextChar(prompt)
		if err != nil {
			return fmt.Errorf("predict: %w", err)
		}
		fmt.Fprintf(a.out, "Next character prediction: %q\n", ch)
		return nil
	}
	var s generate.Sampler = generate.Argmax{}
	if a.cfg.Generate.Temperature > 0 {
		s = generate.Temperature{T: a.cfg.Generate.Temperature, Rng: rand.New(rand.NewSource(a.cfg.Seed))}
	}
	text, err := g.Generate(ctx, prompt, a.cfg.Generate.Length, s)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	fmt.Fprintln(a.out, prompt+text)
	return nil
}

// ------------------------- HELPERS -------------------------

func writeTemplate(path string) error {
	b, err := json.MarshalIndent(config.DefaultTemplateConfig(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
