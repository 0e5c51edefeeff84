package diag

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/go-portfolio/go-gru-textgen/internal/contract"
)

// Code — минимальная классификация ошибок для логов и кодов выхода.
type Code string

const (
	CodeUnknown     Code = "unknown"
	CodeEmptyCorpus Code = "empty_corpus"
	CodeUnknownChar Code = "unknown_char"
	CodeDiverged    Code = "diverged"
	CodeInvariant   Code = "invariant"
	CodeCancel      Code = "cancel"
	CodeIO          Code = "io"
	CodeNetwork     Code = "network"
)

// Classify относит ошибку к одной из категорий.
// Опирается только на сигнальные ошибки и типы стандартной библиотеки, без разбора строк.
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// отмена и таймаут важнее остального
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrEmptyCorpus):
		return CodeEmptyCorpus
	case errors.Is(err, contract.ErrUnknownCharacter):
		return CodeUnknownChar
	case errors.Is(err, contract.ErrTrainingDiverged):
		return CodeDiverged
	case errors.Is(err, contract.ErrFetch):
		return CodeNetwork
	case errors.Is(err, contract.ErrTooLarge), errors.Is(err, contract.ErrInvalidText):
		return CodeIO
	case errors.Is(err, contract.ErrShapeMismatch),
		errors.Is(err, contract.ErrInvalidOptions),
		errors.Is(err, contract.ErrEmptyPrompt),
		errors.Is(err, contract.ErrPromptTooLong):
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}
