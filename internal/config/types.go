package config

import "github.com/go-portfolio/go-gru-textgen/internal/optimizer"

// Config — параметры одного запуска: данные, модель, обучение, генерация.
// JSON в snake_case; неизвестные поля отвергаются при разборе.
// Булевы флаги хранятся указателями: nil значит «не задано» и не перекрывает базу в Merge.
type Config struct {
	Corpus        string `json:"corpus"`
	Lower         *bool  `json:"lower,omitempty"`
	SeqLength     int    `json:"seq_length"`
	BatchSize     int    `json:"batch_size"`
	ShuffleBuffer int    `json:"shuffle_buffer"`
	DropRemainder *bool  `json:"drop_remainder,omitempty"`
	Seed          int64  `json:"seed"`

	Model      Model      `json:"model"`
	Train      Train      `json:"train"`
	Generate   Generate   `json:"generate"`
	Checkpoint Checkpoint `json:"checkpoint"`
	Logging    Logging    `json:"logging"`
}

// Model — архитектура сети.
type Model struct {
	Hidden        []int  `json:"hidden"`
	Activation    string `json:"activation"`
	KernelInit    string `json:"kernel_init"`
	RecurrentInit string `json:"recurrent_init"`
	BatchNorm     *bool  `json:"batch_norm,omitempty"`
}

// Train — цикл обучения и оптимизатор.
// Epochs — указатель: явный 0 («только загрузить и предсказать») перекрывает базу.
type Train struct {
	Epochs    *int      `json:"epochs,omitempty"`
	Workers   int       `json:"workers"`
	ClipValue float64   `json:"clip_value"`
	ClipNorm  float64   `json:"clip_norm"`
	Optimizer Optimizer `json:"optimizer"`
}

// EpochCount возвращает число эпох; nil — 0.
func (t Train) EpochCount() int {
	if t.Epochs == nil {
		return 0
	}
	return *t.Epochs
}

// Optimizer повторяет optimizer.Options, но nesterov хранится указателем,
// чтобы явный false перекрывал true из базы.
type Optimizer struct {
	Name     string  `json:"name"`
	LR       float64 `json:"lr"`
	Beta1    float64 `json:"beta1"`
	Beta2    float64 `json:"beta2"`
	Epsilon  float64 `json:"epsilon"`
	Momentum float64 `json:"momentum"`
	Nesterov *bool   `json:"nesterov,omitempty"`
	Rho      float64 `json:"rho"`
}

// Options переводит секцию в параметры optimizer.New.
func (o Optimizer) Options() optimizer.Options {
	return optimizer.Options{
		Name:     o.Name,
		LR:       o.LR,
		Beta1:    o.Beta1,
		Beta2:    o.Beta2,
		Epsilon:  o.Epsilon,
		Momentum: o.Momentum,
		Nesterov: o.Nesterov != nil && *o.Nesterov,
		Rho:      o.Rho,
	}
}

// Generate — что делать с моделью после обучения.
// Length == 0: только предсказание одного следующего символа.
type Generate struct {
	Prompt      string  `json:"prompt"`
	Length      int     `json:"length"`
	Temperature float64 `json:"temperature"`
}

// Checkpoint — сохранение, загрузка и перенос весов.
type Checkpoint struct {
	Save           string   `json:"save"`
	Load           string   `json:"load"`
	TransferLayers int      `json:"transfer_layers"`
	Freeze         []string `json:"freeze"`
}

// Logging: настраивается только уровень и каталог файлов лога.
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// LowerCase сообщает, приводить ли корпус к нижнему регистру.
func (c Config) LowerCase() bool { return c.Lower != nil && *c.Lower }

// Training сообщает, будет ли обучение: нужны и эпохи, и корпус.
// Без корпуса модель из чекпойнта используется как есть.
func (c Config) Training() bool { return c.Train.EpochCount() > 0 && c.Corpus != "" }

// Drop сообщает, отбрасывать ли неполный последний батч.
func (c Config) Drop() bool { return c.DropRemainder != nil && *c.DropRemainder }

// UseBatchNorm сообщает, включена ли нормализация перед классификатором.
func (m Model) UseBatchNorm() bool { return m.BatchNorm != nil && *m.BatchNorm }

// Bool возвращает указатель на v; удобно для литералов Config.
func Bool(v bool) *bool { return &v }

// Int возвращает указатель на v.
func Int(v int) *int { return &v }
