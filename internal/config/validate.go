package config

import (
	"fmt"
	"strings"

	"github.com/go-portfolio/go-gru-textgen/internal/activation"
	"github.com/go-portfolio/go-gru-textgen/internal/contract"
	"github.com/go-portfolio/go-gru-textgen/internal/initializer"
	"github.com/go-portfolio/go-gru-textgen/internal/optimizer"
)

// Validate проверяет итоговый конфиг после Merge. Все ошибки оборачивают
// contract.ErrInvalidOptions.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Corpus) == "" && cfg.Checkpoint.Load == "" {
		return invalid("corpus not set")
	}
	if cfg.SeqLength <= 0 {
		return invalid("seq_length must be > 0, got %d", cfg.SeqLength)
	}
	if cfg.BatchSize <= 0 {
		return invalid("batch_size must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.ShuffleBuffer < 0 {
		return invalid("shuffle_buffer must be >= 0, got %d", cfg.ShuffleBuffer)
	}

	if len(cfg.Model.Hidden) == 0 {
		return invalid("model.hidden empty")
	}
	for i, h := range cfg.Model.Hidden {
		if h <= 0 {
			return invalid("model.hidden[%d] must be > 0, got %d", i, h)
		}
	}
	if _, err := activation.Lookup(cfg.Model.Activation); err != nil {
		return invalid("model.activation: %v", err)
	}
	if cfg.Model.KernelInit != "" {
		if _, err := initializer.Lookup(cfg.Model.KernelInit); err != nil {
			return invalid("model.kernel_init: %v", err)
		}
	}
	if cfg.Model.RecurrentInit != "" {
		if _, err := initializer.Lookup(cfg.Model.RecurrentInit); err != nil {
			return invalid("model.recurrent_init: %v", err)
		}
	}

	if cfg.Train.EpochCount() < 0 {
		return invalid("train.epochs must be >= 0, got %d", cfg.Train.EpochCount())
	}
	if cfg.Train.EpochCount() == 0 && cfg.Checkpoint.Load == "" {
		return invalid("train.epochs is 0 and no checkpoint to load")
	}
	if cfg.Train.Workers < 1 {
		return invalid("train.workers must be >= 1, got %d", cfg.Train.Workers)
	}
	if cfg.Train.ClipValue < 0 || cfg.Train.ClipNorm < 0 {
		return invalid("train.clip_value and train.clip_norm must be >= 0")
	}
	if cfg.Train.Optimizer.LR < 0 {
		return invalid("train.optimizer.lr must be >= 0")
	}
	if _, err := optimizer.New(cfg.Train.Optimizer.Options()); err != nil {
		return invalid("train.optimizer: %v", err)
	}

	if cfg.Generate.Length < 0 {
		return invalid("generate.length must be >= 0, got %d", cfg.Generate.Length)
	}
	if cfg.Generate.Temperature < 0 {
		return invalid("generate.temperature must be >= 0")
	}

	if cfg.Checkpoint.TransferLayers < 0 || cfg.Checkpoint.TransferLayers > len(cfg.Model.Hidden) {
		return invalid("checkpoint.transfer_layers must be in [0,%d], got %d", len(cfg.Model.Hidden), cfg.Checkpoint.TransferLayers)
	}
	if cfg.Checkpoint.TransferLayers > 0 && cfg.Checkpoint.Load == "" {
		return invalid("checkpoint.transfer_layers requires checkpoint.load")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level %q unknown", cfg.Logging.Level)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("config: %s: %w", fmt.Sprintf(format, args...), contract.ErrInvalidOptions)
}
