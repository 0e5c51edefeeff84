package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Уровни логирования
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel разбирает имя уровня; неизвестное имя даёт info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event — одна строка JSON-лога.
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"` // start|finish|progress|error
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

// Logger пишет события однострочным JSON в sink. Безопасен для конкурентного использования.
type Logger struct {
	corrID string
	level  Level
	mu     sync.Mutex
	sink   io.Writer
}

// NewLogger создаёт логгер; sink == nil — stderr.
func NewLogger(sink io.Writer, corrID, level string) *Logger {
	if sink == nil {
		sink = os.Stderr
	}
	return &Logger{corrID: corrID, level: ParseLevel(level), sink: sink}
}

// Nop возвращает логгер, который ничего не пишет.
func Nop() *Logger {
	return &Logger{level: Error + 1, sink: io.Discard}
}

// Enabled сообщает, будет ли записано событие уровня lv.
func (l *Logger) Enabled(lv Level) bool {
	return l != nil && lv >= l.level
}

func (l *Logger) log(lv Level, ev Event) {
	if !l.Enabled(lv) {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.sink.Write(append(b, '\n')); err != nil && l.sink != io.Writer(os.Stderr) {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Start пишет событие start и возвращает таймер для Finish.
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWithKV — Start с дополнительными полями.
func (l *Logger) StartWithKV(comp, msg string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// Info пишет информационное событие.
func (l *Logger) Info(comp, msg string, kv map[string]string) {
	l.log(Info, Event{Comp: comp, Stage: "progress", Msg: msg, KV: kv})
}

// Debug пишет отладочное событие (только при level=debug).
func (l *Logger) Debug(comp, msg string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "progress", Msg: msg, KV: kv})
}

// Warn пишет предупреждение.
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "progress", Msg: msg, KV: kv})
}

// Error пишет событие error (код — из Classify).
func (l *Logger) Error(comp string, err error, durSince *time.Time) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: string(Classify(err)), DurMS: dur, Msg: msg})
}

// Timer отмеряет время от start до finish.
type Timer struct {
	l    *Logger
	comp string
	t0   time.Time
}

// Finish пишет событие finish; count — необязательный счётчик (батчи, символы).
func (t *Timer) Finish(msg string, count int64) {
	t.FinishWithKV(msg, count, nil)
}

// FinishWithKV — Finish с дополнительными полями.
func (t *Timer) FinishWithKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, Msg: msg, KV: kv})
}

// Elapsed — время с момента старта.
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}

// NowUTC возвращает время в RFC3339 UTC (поле ts).
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
