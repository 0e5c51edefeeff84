package corpus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte("First Citizen:\nBefore we proceed"), 0o644); err != nil {
		t.Fatal(err)
	}
	text, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if text != "First Citizen:\nBefore we proceed" {
		t.Fatalf("неверный текст: %q", text)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(context.Background(), path); !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("ожидали ErrEmptyCorpus, получили %v", err)
	}
}

func TestLoadInvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 'a'}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(context.Background(), path); !errors.Is(err, ErrInvalidText) {
		t.Fatalf("ожидали ErrInvalidText, получили %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	var perr *os.PathError
	if !errors.As(err, &perr) {
		t.Fatalf("ожидали *os.PathError, получили %v", err)
	}
}

func TestLoadHTTPWithCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("to be or not to be"))
	}))
	defer srv.Close()

	l := New(&Options{Client: srv.Client(), CacheDir: t.TempDir()})
	for i := 0; i < 2; i++ {
		text, err := l.Load(context.Background(), srv.URL+"/shakespeare.txt")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if text != "to be or not to be" {
			t.Fatalf("неверный текст: %q", text)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("второй вызов должен читать кэш, запросов: %d", n)
	}
}

func TestLoadHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := New(&Options{Client: srv.Client()}).Load(context.Background(), srv.URL)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("404: ожидали ErrFetch, получили %v", err)
	}
}

func TestLoadMaxBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(&Options{MaxBytes: 5}).Load(context.Background(), path); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ожидали ErrTooLarge, получили %v", err)
	}
	if _, err := New(&Options{MaxBytes: 10}).Load(context.Background(), path); err != nil {
		t.Fatalf("ровно лимит должен проходить: %v", err)
	}
}

func TestLoadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Load(ctx, "whatever.txt"); !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", err)
	}
}
