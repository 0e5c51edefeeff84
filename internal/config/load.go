package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix — префикс переменных окружения, перекрывающих конфиг.
const EnvPrefix = "GRU_TEXTGEN_"

// Defaults возвращает базовые значения. Corpus по умолчанию не задан.
func Defaults() Config {
	return Config{
		Lower:         Bool(true),
		SeqLength:     100,
		BatchSize:     32,
		ShuffleBuffer: 10000,
		DropRemainder: Bool(false),
		Model: Model{
			Hidden:        []int{128, 128},
			Activation:    "tanh",
			KernelInit:    "glorot_uniform",
			RecurrentInit: "orthogonal",
			BatchNorm:     Bool(false),
		},
		Train: Train{
			Epochs:    Int(10),
			Workers:   1,
			Optimizer: Optimizer{Name: "adam", Nesterov: Bool(false)},
		},
		Logging: Logging{Level: "info"},
	}
}

// LoadJSON разбирает Config из raw или, если raw пуст, из файла path.
// Неизвестные поля — ошибка.
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("config: no source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Merge накладывает over на base. Нули и nil в over не перекрывают base;
// срезы заменяются целиком.
func Merge(base, over Config) Config {
	out := base
	out.Model.Hidden = cloneInts(base.Model.Hidden)
	out.Checkpoint.Freeze = cloneStrings(base.Checkpoint.Freeze)

	if over.Corpus != "" {
		out.Corpus = over.Corpus
	}
	if over.Lower != nil {
		out.Lower = Bool(*over.Lower)
	}
	if over.SeqLength != 0 {
		out.SeqLength = over.SeqLength
	}
	if over.BatchSize != 0 {
		out.BatchSize = over.BatchSize
	}
	if over.ShuffleBuffer != 0 {
		out.ShuffleBuffer = over.ShuffleBuffer
	}
	if over.DropRemainder != nil {
		out.DropRemainder = Bool(*over.DropRemainder)
	}
	if over.Seed != 0 {
		out.Seed = over.Seed
	}

	// model
	if len(over.Model.Hidden) > 0 {
		out.Model.Hidden = cloneInts(over.Model.Hidden)
	}
	if over.Model.Activation != "" {
		out.Model.Activation = over.Model.Activation
	}
	if over.Model.KernelInit != "" {
		out.Model.KernelInit = over.Model.KernelInit
	}
	if over.Model.RecurrentInit != "" {
		out.Model.RecurrentInit = over.Model.RecurrentInit
	}
	if over.Model.BatchNorm != nil {
		out.Model.BatchNorm = Bool(*over.Model.BatchNorm)
	}

	// train
	if over.Train.Epochs != nil {
		out.Train.Epochs = Int(*over.Train.Epochs)
	}
	if over.Train.Workers != 0 {
		out.Train.Workers = over.Train.Workers
	}
	if over.Train.ClipValue != 0 {
		out.Train.ClipValue = over.Train.ClipValue
	}
	if over.Train.ClipNorm != 0 {
		out.Train.ClipNorm = over.Train.ClipNorm
	}
	out.Train.Optimizer = mergeOptimizer(out.Train.Optimizer, over.Train.Optimizer)

	// generate
	if over.Generate.Prompt != "" {
		out.Generate.Prompt = over.Generate.Prompt
	}
	if over.Generate.Length != 0 {
		out.Generate.Length = over.Generate.Length
	}
	if over.Generate.Temperature != 0 {
		out.Generate.Temperature = over.Generate.Temperature
	}

	// checkpoint
	if over.Checkpoint.Save != "" {
		out.Checkpoint.Save = over.Checkpoint.Save
	}
	if over.Checkpoint.Load != "" {
		out.Checkpoint.Load = over.Checkpoint.Load
	}
	if over.Checkpoint.TransferLayers != 0 {
		out.Checkpoint.TransferLayers = over.Checkpoint.TransferLayers
	}
	if len(over.Checkpoint.Freeze) > 0 {
		out.Checkpoint.Freeze = cloneStrings(over.Checkpoint.Freeze)
	}

	// logging
	if lv := strings.TrimSpace(over.Logging.Level); lv != "" {
		out.Logging.Level = lv
	}
	if over.Logging.Dir != "" {
		out.Logging.Dir = over.Logging.Dir
	}
	return out
}

func mergeOptimizer(base, over Optimizer) Optimizer {
	out := base
	if over.Name != "" {
		out.Name = over.Name
	}
	if over.LR != 0 {
		out.LR = over.LR
	}
	if over.Beta1 != 0 {
		out.Beta1 = over.Beta1
	}
	if over.Beta2 != 0 {
		out.Beta2 = over.Beta2
	}
	if over.Epsilon != 0 {
		out.Epsilon = over.Epsilon
	}
	if over.Momentum != 0 {
		out.Momentum = over.Momentum
	}
	if over.Nesterov != nil {
		out.Nesterov = Bool(*over.Nesterov)
	}
	if over.Rho != 0 {
		out.Rho = over.Rho
	}
	return out
}

// EnvOverlay строит Config из переменных GRU_TEXTGEN_*; результат кладётся в Merge.
// Непарсящиеся значения — ошибка с именем переменной.
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if err := applyEnv(&over, key, val); err != nil {
			return Config{}, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
		}
	}
	return over, nil
}

func applyEnv(c *Config, key, val string) error {
	var err error
	switch key {
	case "CORPUS":
		c.Corpus = val
	case "LOWER":
		c.Lower, err = parseBool(val)
	case "SEQ_LENGTH":
		c.SeqLength, err = atoi(val)
	case "BATCH_SIZE":
		c.BatchSize, err = atoi(val)
	case "SHUFFLE_BUFFER":
		c.ShuffleBuffer, err = atoi(val)
	case "DROP_REMAINDER":
		c.DropRemainder, err = parseBool(val)
	case "SEED":
		c.Seed, err = strconv.ParseInt(val, 10, 64)
	case "MODEL_HIDDEN":
		c.Model.Hidden, err = splitInts(val)
	case "MODEL_ACTIVATION":
		c.Model.Activation = val
	case "MODEL_KERNEL_INIT":
		c.Model.KernelInit = val
	case "MODEL_RECURRENT_INIT":
		c.Model.RecurrentInit = val
	case "MODEL_BATCH_NORM":
		c.Model.BatchNorm, err = parseBool(val)
	case "TRAIN_EPOCHS":
		c.Train.Epochs, err = parseInt(val)
	case "TRAIN_WORKERS":
		c.Train.Workers, err = atoi(val)
	case "TRAIN_CLIP_VALUE":
		c.Train.ClipValue, err = strconv.ParseFloat(val, 64)
	case "TRAIN_CLIP_NORM":
		c.Train.ClipNorm, err = strconv.ParseFloat(val, 64)
	case "TRAIN_OPTIMIZER_NAME":
		c.Train.Optimizer.Name = val
	case "TRAIN_OPTIMIZER_LR":
		c.Train.Optimizer.LR, err = strconv.ParseFloat(val, 64)
	case "TRAIN_OPTIMIZER_NESTEROV":
		c.Train.Optimizer.Nesterov, err = parseBool(val)
	case "GENERATE_PROMPT":
		c.Generate.Prompt = val
	case "GENERATE_LENGTH":
		c.Generate.Length, err = atoi(val)
	case "GENERATE_TEMPERATURE":
		c.Generate.Temperature, err = strconv.ParseFloat(val, 64)
	case "CHECKPOINT_SAVE":
		c.Checkpoint.Save = val
	case "CHECKPOINT_LOAD":
		c.Checkpoint.Load = val
	case "LOGGING_LEVEL":
		c.Logging.Level = val
	case "LOGGING_DIR":
		c.Logging.Dir = val
	default:
		// чужие ключи с нашим префиксом игнорируются
	}
	return err
}

func parseBool(s string) (*bool, error) {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseInt(s string) (*int, error) {
	v, err := atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func splitInts(s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		n, err := atoi(t)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func cloneInts(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	copy(out, in)
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
