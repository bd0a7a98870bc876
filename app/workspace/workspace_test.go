package workspace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"image-press/app/logger"
	"image-press/app/model"
	"image-press/app/source"
)

func TestAddFiltersNonImages(t *testing.T) {
	w := New(logger.NewNop())

	added, err := w.Add(
		source.NewMemory("a.png", "image/png", nil),
		source.NewMemory("notes.txt", "text/plain", nil),
		source.NewMemory("b.jpg", "image/jpeg", nil),
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 2 || w.Len() != 2 {
		t.Fatalf("expected 2 images, got %d", len(added))
	}

	sources := w.Sources()
	if sources[0].Name() != "a.png" || sources[1].Name() != "b.jpg" {
		t.Fatalf("expected insertion order, got %s, %s", sources[0].Name(), sources[1].Name())
	}

	sel, ok := w.Selected()
	if !ok || sel.ID != added[0].ID {
		t.Fatal("expected the first image to be selected")
	}
}

func TestAddNothingValid(t *testing.T) {
	w := New(logger.NewNop())
	if _, err := w.Add(source.NewMemory("x.pdf", "application/pdf", nil)); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if w.Len() != 0 {
		t.Fatal("expected empty workspace")
	}
}

func TestAddAcceptsRemoteWithoutHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	f := source.NewFetcher(source.FetcherOptions{Timeout: 5 * time.Second, MaxBytes: 1 << 20}, logger.NewNop())
	defer f.Close()

	src, err := f.Source(context.Background(), srv.URL+"/cat.png")
	if err != nil {
		t.Fatal(err)
	}

	w := New(logger.NewNop())
	added, err := w.Add(src)
	if err != nil {
		t.Fatalf("expected remote image to be accepted, got %v", err)
	}
	if len(added) != 1 || added[0].Source.Name() != "cat.png" {
		t.Fatalf("unexpected items %+v", added)
	}
}

func TestSelectAndRemove(t *testing.T) {
	w := New(logger.NewNop())
	added, _ := w.Add(
		source.NewMemory("a.png", "image/png", nil),
		source.NewMemory("b.png", "image/png", nil),
		source.NewMemory("c.png", "image/png", nil),
	)

	if err := w.Select(added[1].ID); err != nil {
		t.Fatal(err)
	}
	if err := w.Select("missing"); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	w.Remove(added[1].ID)
	sel, ok := w.Selected()
	if !ok || sel.ID != added[0].ID {
		t.Fatal("expected selection to move to the first remaining image")
	}
	if _, ok := w.Get(added[1].ID); ok {
		t.Fatal("expected item to be removed")
	}
}

func TestClearRunsHooks(t *testing.T) {
	w := New(logger.NewNop())
	_, _ = w.Add(source.NewMemory("a.png", "image/png", nil))

	called := 0
	w.OnClear(func() { called++ })
	w.Clear()

	if called != 1 {
		t.Fatalf("expected hook to run once, got %d", called)
	}
	if w.Len() != 0 {
		t.Fatal("expected empty workspace")
	}
	if _, ok := w.Selected(); ok {
		t.Fatal("expected no selection")
	}
}
