// Package contract содержит сигнальные ошибки, общие для всех стадий конвейера.
// Пакеты стадий переэкспортируют их под своими именами; сравнивать нужно через errors.Is.
package contract

import "errors"

var (
	// Корпус пуст: словарь не определён.
	ErrEmptyCorpus = errors.New("empty corpus")
	// Символ отсутствует в замороженном словаре.
	ErrUnknownCharacter = errors.New("unknown character")
	// Loss или норма градиента перестали быть конечными.
	ErrTrainingDiverged = errors.New("training diverged")
	// Пустая затравка для генерации.
	ErrEmptyPrompt = errors.New("empty prompt")
	// Затравка длиннее окна модели.
	ErrPromptTooLong = errors.New("prompt too long")
	// Несогласованные формы тензоров или параметров.
	ErrShapeMismatch = errors.New("shape mismatch")
	// Неверные параметры компонента.
	ErrInvalidOptions = errors.New("invalid options")
	// Удалённый источник ответил не-2xx.
	ErrFetch = errors.New("fetch failed")
	// Корпус больше допустимого размера.
	ErrTooLarge = errors.New("corpus too large")
	// Корпус не является корректным UTF-8.
	ErrInvalidText = errors.New("corpus is not valid UTF-8")
)
