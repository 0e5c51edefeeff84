package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-portfolio/go-gru-textgen/internal/contract"
)

// ErrEmptyCorpus — то же условие, что и у словаря: вызывающий код проверяет
// одну ошибку независимо от того, на какой стадии она обнаружена.
var (
	ErrEmptyCorpus = contract.ErrEmptyCorpus
	ErrInvalidText = contract.ErrInvalidText
	ErrFetch       = contract.ErrFetch
	ErrTooLarge    = contract.ErrTooLarge
)

// Options — необязательные настройки загрузчика.
type Options struct {
	// Client для http/https источников; nil — http.DefaultClient.
	Client *http.Client
	// CacheDir: если задан, скачанный корпус сохраняется туда и переиспользуется.
	CacheDir string
	// MaxBytes ограничивает размер корпуса; <= 0 — без ограничения.
	MaxBytes int64
}

// Loader читает корпус целиком в память.
type Loader struct {
	client   *http.Client
	cacheDir string
	maxBytes int64
}

// New создаёт загрузчик.
func New(opts *Options) *Loader {
	l := &Loader{client: http.DefaultClient}
	if opts != nil {
		if opts.Client != nil {
			l.client = opts.Client
		}
		l.cacheDir = opts.CacheDir
		l.maxBytes = opts.MaxBytes
	}
	return l
}

// Load — загрузка с настройками по умолчанию.
func Load(ctx context.Context, source string) (string, error) {
	return New(nil).Load(ctx, source)
}

// Load читает корпус из локального файла, STDIN ("-") или по http/https.
func (l *Loader) Load(ctx context.Context, source string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return "", errors.New("corpus: empty source")
	}

	var (
		data []byte
		err  error
	)
	switch {
	case isRemote(source):
		data, err = l.fetchCached(ctx, source)
	case source == "-":
		data, err = l.readAll(os.Stdin)
	default:
		data, err = l.readFile(source)
	}
	if err != nil {
		return "", err
	}
	return validate(data)
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func validate(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyCorpus
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidText
	}
	return string(data), nil
}

func (l *Loader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return l.readAll(f)
}

func (l *Loader) readAll(r io.Reader) ([]byte, error) {
	if l.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	// читаем на байт больше лимита, чтобы отличить "ровно лимит" от "больше"
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, l.maxBytes)
	}
	return data, nil
}

// ------------------------- REMOTE -------------------------

func (l *Loader) fetchCached(ctx context.Context, url string) ([]byte, error) {
	if l.cacheDir == "" {
		return l.fetch(ctx, url)
	}
	path := filepath.Join(l.cacheDir, cacheName(url))
	if data, err := l.readFile(path); err == nil && len(data) > 0 {
		return data, nil
	}
	data, err := l.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, data); err != nil {
		return nil, fmt.Errorf("corpus: cache %s: %w", path, err)
	}
	return data, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrFetch, url, resp.StatusCode)
	}
	return l.readAll(resp.Body)
}

// cacheName сохраняет базовое имя файла из URL и добавляет короткий хэш,
// чтобы разные URL с одинаковым именем не перетирали друг друга.
func cacheName(url string) string {
	sum := sha256.Sum256([]byte(url))
	base := filepath.Base(strings.SplitN(url, "?", 2)[0])
	if base == "" || base == "." || base == "/" {
		base = "corpus.txt"
	}
	return hex.EncodeToString(sum[:6]) + "-" + base
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".corpus-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
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
