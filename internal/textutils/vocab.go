package textutils

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-portfolio/go-gru-textgen/internal/contract"
)

// IDBase — первый идентификатор словаря; идентификаторы идут подряд от него.
const IDBase = 0

var (
	ErrEmptyCorpus      = contract.ErrEmptyCorpus
	ErrUnknownCharacter = contract.ErrUnknownCharacter
	ErrUnknownID        = errors.New("unknown id")
	ErrFrozen           = errors.New("vocabulary builder is frozen")
)

// Options управляет построением словаря.
type Options struct {
	// Lower приводит текст к нижнему регистру и при построении, и при кодировании.
	Lower bool
}

// ------------------------- BUILDER -------------------------

// Builder собирает частоты символов. Построение и заморозка — два отдельных шага:
// после Freeze добавлять текст нельзя.
type Builder struct {
	opts   Options
	counts map[rune]int
	frozen bool
}

// NewBuilder создаёт пустой построитель словаря.
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts, counts: make(map[rune]int)}
}

// Add учитывает все символы текста, включая пробелы и пунктуацию.
func (b *Builder) Add(text string) error {
	if b.frozen {
		return ErrFrozen
	}
	for _, r := range text {
		b.counts[b.fold(r)]++
	}
	return nil
}

// Freeze фиксирует словарь. Порядок: по убыванию частоты, при равенстве — по коду символа.
func (b *Builder) Freeze() (*Vocab, error) {
	if b.frozen {
		return nil, ErrFrozen
	}
	if len(b.counts) == 0 {
		return nil, ErrEmptyCorpus
	}
	b.frozen = true

	chars := make([]rune, 0, len(b.counts))
	for r := range b.counts {
		chars = append(chars, r)
	}
	sort.Slice(chars, func(i, j int) bool {
		ci, cj := b.counts[chars[i]], b.counts[chars[j]]
		if ci != cj {
			return ci > cj
		}
		return chars[i] < chars[j]
	})
	return newVocab(chars, b.opts), nil
}

func (b *Builder) fold(r rune) rune {
	if b.opts.Lower {
		return unicode.ToLower(r)
	}
	return r
}

// BuildVocab строит и сразу замораживает словарь по одному тексту.
func BuildVocab(text string, opts Options) (*Vocab, error) {
	b := NewBuilder(opts)
	if err := b.Add(text); err != nil {
		return nil, err
	}
	return b.Freeze()
}

// ------------------------- VOCAB -------------------------

// Vocab — замороженное двунаправленное отображение символ <-> идентификатор.
// Безопасен для одновременного чтения.
type Vocab struct {
	toID  map[rune]int
	chars []rune
	lower bool
}

func newVocab(chars []rune, opts Options) *Vocab {
	toID := make(map[rune]int, len(chars))
	for i, r := range chars {
		toID[r] = IDBase + i
	}
	return &Vocab{toID: toID, chars: chars, lower: opts.Lower}
}

// FromChars восстанавливает словарь из сохранённого упорядоченного списка символов.
func FromChars(chars []rune, opts Options) (*Vocab, error) {
	if len(chars) == 0 {
		return nil, ErrEmptyCorpus
	}
	seen := make(map[rune]struct{}, len(chars))
	for _, r := range chars {
		if _, dup := seen[r]; dup {
			return nil, fmt.Errorf("textutils: duplicate character %q", r)
		}
		seen[r] = struct{}{}
	}
	cp := make([]rune, len(chars))
	copy(cp, chars)
	return newVocab(cp, opts), nil
}

// Size — число различных символов.
func (v *Vocab) Size() int { return len(v.chars) }

// Lower сообщает, приводится ли текст к нижнему регистру.
func (v *Vocab) Lower() bool { return v.lower }

// Chars возвращает копию символов в порядке идентификаторов.
func (v *Vocab) Chars() []rune {
	out := make([]rune, len(v.chars))
	copy(out, v.chars)
	return out
}

// ID возвращает идентификатор символа.
func (v *Vocab) ID(r rune) (int, bool) {
	if v.lower {
		r = unicode.ToLower(r)
	}
	id, ok := v.toID[r]
	return id, ok
}

// Char возвращает символ по идентификатору.
func (v *Vocab) Char(id int) (rune, bool) {
	i := id - IDBase
	if i < 0 || i >= len(v.chars) {
		return 0, false
	}
	return v.chars[i], true
}

// Encode переводит текст в последовательность идентификаторов той же длины (в символах).
func (v *Vocab) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	pos := 0
	for _, r := range text {
		id, ok := v.ID(r)
		if !ok {
			return nil, fmt.Errorf("%w %q at position %d", ErrUnknownCharacter, r, pos)
		}
		ids = append(ids, id)
		pos++
	}
	return ids, nil
}

// Decode переводит идентификаторы обратно в текст.
func (v *Vocab) Decode(ids []int) (string, error) {
	var sb strings.Builder
	sb.Grow(len(ids))
	for i, id := range ids {
		r, ok := v.Char(id)
		if !ok {
			return "", fmt.Errorf("%w %d at position %d", ErrUnknownID, id, i)
		}
		sb.WriteRune(r)
	}
	return sb.String(), nil
}
