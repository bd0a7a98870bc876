package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"image-press/app/archive"
	"image-press/app/codec"
	"image-press/app/logger"
	"image-press/app/model"
	"image-press/app/source"

	"github.com/disintegration/imaging"
)

type codecFunc func(model.Request) model.Response

func (f codecFunc) Process(req model.Request) model.Response { return f(req) }

func okCodec(req model.Request) model.Response {
	return model.Success(req.TaskID, req.Name, append([]byte("enc:"), req.Buffer.Bytes()...))
}

type memSink struct {
	mu      sync.Mutex
	err     error
	calls   int
	data    []byte
	entries []string
}

func (s *memSink) Deliver(ctx context.Context, name string, data []byte, entries []string) (archive.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return archive.Delivery{}, s.err
	}
	s.data = append([]byte(nil), data...)
	s.entries = entries
	return archive.Delivery{Name: name, Path: name, Size: int64(len(data)), Entries: entries}, nil
}

func (s *memSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newCoordinator(c codec.Codec, sink archive.Sink, opts Options) *Coordinator {
	log := logger.NewNop()
	return New(CodecWorkerFactory(c, log), sink, log, opts)
}

func memSources(names ...string) []model.Source {
	out := make([]model.Source, len(names))
	for i, n := range names {
		out[i] = source.NewMemory(n, "image/png", []byte(n))
	}
	return out
}

func wait(t *testing.T, run *Run) (archive.Delivery, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := run.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("run did not finish in time")
	}
	return d, err
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBatchAllSucceed(t *testing.T) {
	sink := &memSink{}
	c := newCoordinator(codecFunc(okCodec), sink, Options{})

	var mu sync.Mutex
	var progress []Progress
	c.OnProgress(func(p Progress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	completed := make(chan archive.Delivery, 1)
	c.OnComplete(func(d archive.Delivery) { completed <- d })

	run, err := c.StartBatch(context.Background(), memSources("a.jpg", "b.gif", "c.png"), model.FormatPNG, 0.92)
	if err != nil {
		t.Fatal(err)
	}
	if run.Total() != 3 {
		t.Fatalf("expected total 3, got %d", run.Total())
	}

	d, err := wait(t, run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name != DefaultArchiveName {
		t.Fatalf("expected %q, got %q", DefaultArchiveName, d.Name)
	}

	names := zipNames(t, sink.data)
	want := []string{"a.png", "b.png", "c.png"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("expected entries %v, got %v", want, names)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(progress))
	}
	for i, p := range progress {
		if p.Completed != i+1 || p.Total != 3 {
			t.Fatalf("progress %d: got %d/%d", i, p.Completed, p.Total)
		}
	}

	select {
	case <-completed:
	default:
		t.Fatal("expected OnComplete to fire")
	}
	if c.State() != StateIdle || c.Locked() {
		t.Fatalf("expected idle after completion, got %s", c.State())
	}
}

func TestBatchPartialFailure(t *testing.T) {
	sink := &memSink{}
	c := newCoordinator(codecFunc(func(req model.Request) model.Response {
		if req.Name == "broken.png" {
			return model.Failure(req.TaskID, req.Name, model.KindDecode, model.ErrDecode)
		}
		return okCodec(req)
	}), sink, Options{})

	var last Progress
	c.OnProgress(func(p Progress) { last = p })

	run, err := c.StartBatch(context.Background(), memSources("a.png", "broken.png", "c.png"), model.FormatJPEG, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, run); err != nil {
		t.Fatal(err)
	}

	if last.Completed != 3 || last.Total != 3 {
		t.Fatalf("expected final progress 3/3, got %d/%d", last.Completed, last.Total)
	}
	if got := zipNames(t, sink.data); fmt.Sprint(got) != fmt.Sprint([]string{"a.jpeg", "c.jpeg"}) {
		t.Fatalf("unexpected entries %v", got)
	}

	failed := run.Failed()
	if len(failed) != 1 || failed[0].Name != "broken.png" || failed[0].Kind != model.KindDecode {
		t.Fatalf("unexpected failures %+v", failed)
	}
	if !errors.Is(failed[0].Err(), model.ErrDecode) {
		t.Fatalf("expected failure to match ErrDecode, got %v", failed[0].Err())
	}
}

func TestBatchAllFailStillDeliversEmptyArchive(t *testing.T) {
	sink := &memSink{}
	c := newCoordinator(codecFunc(func(req model.Request) model.Response {
		return model.Failure(req.TaskID, req.Name, model.KindEncode, model.ErrEncode)
	}), sink, Options{})

	run, _ := c.StartBatch(context.Background(), memSources("a.png"), model.FormatPNG, 1)
	d, err := wait(t, run)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Entries) != 0 || len(zipNames(t, sink.data)) != 0 {
		t.Fatalf("expected empty archive, got %v", d.Entries)
	}
}

// 读取下一个任务之前，上一个任务必须已经处理完毕
type orderedSource struct {
	name string
	log  *eventLog
}

func (s orderedSource) Name() string      { return s.name }
func (s orderedSource) MediaType() string { return "image/png" }
func (s orderedSource) Read(ctx context.Context) ([]byte, error) {
	s.log.add("read " + s.name)
	return []byte(s.name), nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func TestBatchOneTaskInFlight(t *testing.T) {
	log := &eventLog{}
	c := newCoordinator(codecFunc(func(req model.Request) model.Response {
		log.add("process " + req.Name)
		time.Sleep(2 * time.Millisecond)
		return okCodec(req)
	}), &memSink{}, Options{})

	var sources []model.Source
	for _, n := range []string{"1", "2", "3"} {
		sources = append(sources, orderedSource{name: n, log: log})
	}

	run, err := c.StartBatch(context.Background(), sources, model.FormatPNG, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, run); err != nil {
		t.Fatal(err)
	}

	want := []string{"read 1", "process 1", "read 2", "process 2", "read 3", "process 3"}
	if fmt.Sprint(log.events) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, log.events)
	}
}

func TestQualityOnlyForLossyFormats(t *testing.T) {
	var mu sync.Mutex
	var seen []*float64
	c := newCoordinator(codecFunc(func(req model.Request) model.Response {
		mu.Lock()
		seen = append(seen, req.Quality)
		mu.Unlock()
		return okCodec(req)
	}), &memSink{}, Options{})

	run, _ := c.StartBatch(context.Background(), memSources("a.png"), model.FormatPNG, 0.8)
	if _, err := wait(t, run); err != nil {
		t.Fatal(err)
	}
	run, _ = c.StartBatch(context.Background(), memSources("a.png"), model.FormatJPEG, 0.8)
	if _, err := wait(t, run); err != nil {
		t.Fatal(err)
	}

	if seen[0] != nil {
		t.Fatalf("expected no quality for png, got %v", *seen[0])
	}
	if seen[1] == nil || *seen[1] != 0.8 {
		t.Fatalf("expected quality 0.8 for jpeg, got %v", seen[1])
	}
}

func TestBufferIsTransferred(t *testing.T) {
	c := newCoordinator(codecFunc(func(req model.Request) model.Response {
		if req.Buffer.Detached() {
			return model.Failure(req.TaskID, req.Name, model.KindDecode, errors.New("buffer detached"))
		}
		return okCodec(req)
	}), &memSink{}, Options{})

	run, _ := c.StartBatch(context.Background(), memSources("a.png"), model.FormatPNG, 0)
	if _, err := wait(t, run); err != nil {
		t.Fatal(err)
	}
	if failed := run.Failed(); len(failed) != 0 {
		t.Fatalf("expected worker to own the buffer, got %+v", failed)
	}
}

func TestStartBatchEmpty(t *testing.T) {
	sink := &memSink{}
	c := newCoordinator(codecFunc(okCodec), sink, Options{})

	if _, err := c.StartBatch(context.Background(), nil, model.FormatPNG, 1); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle, got %s", c.State())
	}
	if _, err := c.StartBatch(context.Background(), memSources("a"), model.Format("image/webp"), 1); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad format, got %v", err)
	}
	if sink.Calls() != 0 {
		t.Fatal("expected no delivery")
	}
}

func TestNewBatchReplacesRunning(t *testing.T) {
	release := make(chan struct{})
	sink := &memSink{}
	c := newCoordinator(codecFunc(func(req model.Request) model.Response {
		if req.Name == "slow.png" {
			<-release
		}
		return okCodec(req)
	}), sink, Options{})
	defer close(release)

	var mu sync.Mutex
	runs := map[string]int{}
	c.OnProgress(func(p Progress) {
		mu.Lock()
		runs[p.RunID]++
		mu.Unlock()
	})

	first, err := c.StartBatch(context.Background(), memSources("slow.png", "x.png"), model.FormatPNG, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Locked() {
		t.Fatal("expected coordinator to be locked while running")
	}

	second, err := c.StartBatch(context.Background(), memSources("b.png"), model.FormatGIF, 0.5)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := wait(t, first); !errors.Is(err, ErrRunReplaced) {
		t.Fatalf("expected ErrRunReplaced, got %v", err)
	}
	if _, err := wait(t, second); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if runs[first.ID] != 0 {
		t.Fatalf("replaced run reported progress %d times", runs[first.ID])
	}
	if runs[second.ID] != 1 {
		t.Fatalf("expected one progress event for the new run, got %d", runs[second.ID])
	}
	if sink.Calls() != 1 {
		t.Fatalf("expected a single delivery, got %d", sink.Calls())
	}
	if got := zipNames(t, sink.data); fmt.Sprint(got) != "[b.gif]" {
		t.Fatalf("unexpected entries %v", got)
	}
}

func TestWorkerFatalAborts(t *testing.T) {
	sink := &memSink{}
	c := newCoordinator(codecFunc(func(req model.Request) model.Response {
		if req.Name == "b.png" {
			panic("out of memory")
		}
		return okCodec(req)
	}), sink, Options{})

	aborted := make(chan error, 1)
	c.OnAbort(func(err error) { aborted <- err })
	c.OnComplete(func(archive.Delivery) { t.Error("OnComplete must not fire on abort") })

	run, _ := c.StartBatch(context.Background(), memSources("a.png", "b.png", "c.png"), model.FormatPNG, 1)
	_, err := wait(t, run)
	if !errors.Is(err, model.ErrWorkerFatal) {
		t.Fatalf("expected ErrWorkerFatal, got %v", err)
	}

	select {
	case got := <-aborted:
		if !errors.Is(got, model.ErrWorkerFatal) {
			t.Fatalf("unexpected abort cause %v", got)
		}
	default:
		t.Fatal("expected OnAbort to fire")
	}
	if sink.Calls() != 0 {
		t.Fatal("expected no archive delivery")
	}
	if c.State() != StateIdle || c.Locked() {
		t.Fatalf("expected interaction restored, got %s", c.State())
	}
	if run.Completed() != 1 {
		t.Fatalf("expected 1 completed before the crash, got %d", run.Completed())
	}
}

func TestReadFailureIsPerTask(t *testing.T) {
	sink := &memSink{}
	c := newCoordinator(codecFunc(okCodec), sink, Options{})

	sources := []model.Source{
		source.NewFailing("gone.png", "image/png", os.ErrNotExist),
		source.NewMemory("ok.png", "image/png", []byte("x")),
	}
	run, _ := c.StartBatch(context.Background(), sources, model.FormatPNG, 1)
	if _, err := wait(t, run); err != nil {
		t.Fatal(err)
	}

	failed := run.Failed()
	if len(failed) != 1 || failed[0].Kind != model.KindRead {
		t.Fatalf("expected one ReadError, got %+v", failed)
	}
	if got := zipNames(t, sink.data); fmt.Sprint(got) != "[ok.png]" {
		t.Fatalf("unexpected entries %v", got)
	}
}

func TestSinkFailureAborts(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	c := newCoordinator(codecFunc(okCodec), sink, Options{})

	var cause error
	c.OnAbort(func(err error) { cause = err })

	run, _ := c.StartBatch(context.Background(), memSources("a.png"), model.FormatPNG, 1)
	_, err := wait(t, run)
	if !errors.Is(err, model.ErrArchive) {
		t.Fatalf("expected ErrArchive, got %v", err)
	}
	if !errors.Is(cause, model.ErrArchive) {
		t.Fatalf("expected OnAbort with ErrArchive, got %v", cause)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle, got %s", c.State())
	}
}

type gateSink struct {
	entered chan struct{}
	release chan struct{}
	memSink
}

func (s *gateSink) Deliver(ctx context.Context, name string, data []byte, entries []string) (archive.Delivery, error) {
	close(s.entered)
	<-s.release
	return s.memSink.Deliver(ctx, name, data, entries)
}

func TestFinalizeDoesNotHoldLock(t *testing.T) {
	sink := &gateSink{entered: make(chan struct{}), release: make(chan struct{})}
	c := newCoordinator(codecFunc(okCodec), sink, Options{})

	completed := make(chan struct{}, 1)
	c.OnComplete(func(archive.Delivery) { completed <- struct{}{} })

	run, _ := c.StartBatch(context.Background(), memSources("a.png"), model.FormatPNG, 1)
	<-sink.entered

	state := make(chan State, 1)
	go func() { state <- c.State() }()
	select {
	case s := <-state:
		if s != StateFinalizing {
			t.Fatalf("expected %s, got %s", StateFinalizing, s)
		}
	case <-time.After(time.Second):
		t.Fatal("State blocked while the archive was being written")
	}
	if !c.Locked() {
		t.Fatal("expected interaction to stay locked while finalizing")
	}

	c.Reset()
	close(sink.release)

	if _, err := wait(t, run); !errors.Is(err, ErrRunReset) {
		t.Fatalf("expected ErrRunReset, got %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle, got %s", c.State())
	}
	select {
	case <-completed:
		t.Fatal("OnComplete fired for a reset run")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTaskTimeoutAborts(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c := newCoordinator(codecFunc(func(req model.Request) model.Response {
		<-block
		return okCodec(req)
	}), &memSink{}, Options{TaskTimeout: 20 * time.Millisecond})

	run, _ := c.StartBatch(context.Background(), memSources("a.png"), model.FormatPNG, 1)
	_, err := wait(t, run)
	if !errors.Is(err, ErrWorkerTimeout) || !errors.Is(err, model.ErrWorkerFatal) {
		t.Fatalf("expected ErrWorkerTimeout, got %v", err)
	}
}

func TestFactoryFailure(t *testing.T) {
	c := New(func() (Worker, error) { return nil, errors.New("no threads") }, &memSink{}, logger.NewNop(), Options{})

	_, err := c.StartBatch(context.Background(), memSources("a.png"), model.FormatPNG, 1)
	if !errors.Is(err, model.ErrWorkerFatal) {
		t.Fatalf("expected ErrWorkerFatal, got %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle, got %s", c.State())
	}
}

func TestResetDiscardsRun(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	sink := &memSink{}
	c := newCoordinator(codecFunc(func(req model.Request) model.Response {
		<-block
		return okCodec(req)
	}), sink, Options{})

	run, _ := c.StartBatch(context.Background(), memSources("a.png"), model.FormatPNG, 1)
	c.Reset()

	if _, err := wait(t, run); !errors.Is(err, ErrRunReset) {
		t.Fatalf("expected ErrRunReset, got %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle, got %s", c.State())
	}
	if sink.Calls() != 0 {
		t.Fatal("expected no delivery after reset")
	}
}

func TestEndToEndWithImageCodec(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"red.png", "blue.png"} {
		img := imaging.New(5, 4, color.NRGBA{R: 255, A: 255})
		if err := imaging.Save(img, filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "fake.png"), []byte("not really"), 0o644); err != nil {
		t.Fatal(err)
	}

	sources, err := source.Resolve(context.Background(), []string{dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")
	sink, err := archive.NewFileSink(out)
	if err != nil {
		t.Fatal(err)
	}
	c := newCoordinator(codec.NewImageCodec(0), sink, Options{})

	run, err := c.StartBatch(context.Background(), sources, model.FormatJPEG, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	d, err := wait(t, run)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(d.Path)
	if err != nil {
		t.Fatal(err)
	}
	if got := zipNames(t, data); fmt.Sprint(got) != "[blue.jpeg red.jpeg]" {
		t.Fatalf("unexpected entries %v", got)
	}
	failed := run.Failed()
	if len(failed) != 1 || failed[0].Name != "fake.png" || failed[0].Kind != model.KindDecode {
		t.Fatalf("expected fake.png to fail decoding, got %+v", failed)
	}
}
