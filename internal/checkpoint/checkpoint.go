package checkpoint

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/go-portfolio/go-gru-textgen/internal/contract"
	"github.com/go-portfolio/go-gru-textgen/internal/rnn"
	"github.com/go-portfolio/go-gru-textgen/internal/textutils"
)

const formatVersion = 1

var ErrVersion = errors.New("unsupported checkpoint version")

// State — всё, что нужно для генерации после перезапуска: модель, словарь и длина окна.
type State struct {
	Model     *rnn.Model
	Vocab     *textutils.Vocab
	SeqLength int
}

// matrixData — плоский снимок матрицы для gob.
type matrixData struct {
	R, C int
	Data []float64
}

type snapshot struct {
	Version    int
	Config     rnn.Config
	Params     map[string]matrixData
	MovingMean []float64
	MovingVar  []float64
	Chars      []rune
	Lower      bool
	SeqLength  int
}

// Write сериализует состояние в w.
func Write(w io.Writer, s State) error {
	snap := snapshot{
		Version:   formatVersion,
		Config:    s.Model.Config(),
		Params:    make(map[string]matrixData, len(s.Model.Params())),
		Chars:     s.Vocab.Chars(),
		Lower:     s.Vocab.Lower(),
		SeqLength: s.SeqLength,
	}
	for _, p := range s.Model.Params() {
		r, c := p.Value.Dims()
		raw := mat.DenseCopyOf(p.Value).RawMatrix().Data
		snap.Params[p.Name] = matrixData{R: r, C: c, Data: raw}
	}
	if bn := s.Model.BatchNorm(); bn != nil {
		snap.MovingMean = append([]float64(nil), bn.MovingMean...)
		snap.MovingVar = append([]float64(nil), bn.MovingVar...)
	}
	return gob.NewEncoder(w).Encode(&snap)
}

// Read восстанавливает состояние, записанное Write.
func Read(r io.Reader) (*State, error) {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}
	if snap.Version != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, snap.Version)
	}
	vocab, err := textutils.FromChars(snap.Chars, textutils.Options{Lower: snap.Lower})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: vocabulary: %w", err)
	}
	model, err := rnn.New(snap.Config)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: model: %w", err)
	}
	for _, p := range model.Params() {
		d, ok := snap.Params[p.Name]
		if !ok {
			return nil, fmt.Errorf("checkpoint: missing parameter %s", p.Name)
		}
		r, c := p.Value.Dims()
		if d.R != r || d.C != c || len(d.Data) != r*c {
			return nil, fmt.Errorf("%w: %s is %dx%d, checkpoint has %dx%d", contract.ErrShapeMismatch, p.Name, r, c, d.R, d.C)
		}
		p.Value.Copy(mat.NewDense(r, c, d.Data))
	}
	if bn := model.BatchNorm(); bn != nil {
		if len(snap.MovingMean) != len(bn.MovingMean) || len(snap.MovingVar) != len(bn.MovingVar) {
			return nil, fmt.Errorf("%w: batch norm statistics", contract.ErrShapeMismatch)
		}
		copy(bn.MovingMean, snap.MovingMean)
		copy(bn.MovingVar, snap.MovingVar)
	}
	return &State{Model: model, Vocab: vocab, SeqLength: snap.SeqLength}, nil
}

// Save пишет состояние в файл атомарно: временный файл рядом и rename.
func Save(path string, s State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return err
	}
	if err := Write(tmp, s); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load читает состояние из файла.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
