package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/slidesync/config"
	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/internal/sentinel"
)

type staticConfig struct{ snap *config.Snapshot }

func (s staticConfig) Read() *config.Snapshot { return s.snap }

func (s staticConfig) Reload() (config.ChangeSet, bool, error) { return config.ChangeSet{}, false, nil }

// fakeTranscoder copies the input and records every request. Inputs whose
// name contains "bad" fail.
type fakeTranscoder struct {
	mu       sync.Mutex
	requests []Request
}

func (f *fakeTranscoder) Transcode(ctx context.Context, req Request) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if strings.Contains(filepath.Base(req.Input), "bad") {
		return errors.New("unsupported image data")
	}
	data, err := os.ReadFile(req.Input)
	if err != nil {
		return err
	}
	return os.WriteFile(req.Output, append([]byte("webp:"), data...), 0o644)
}

func (f *fakeTranscoder) all() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func (f *fakeTranscoder) inputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		out = append(out, filepath.Base(r.Input))
	}
	return out
}

type fixture struct {
	dir        string
	snap       *config.Snapshot
	jobs       *sentinel.Coordinator
	markers    *sentinel.FileMarkers
	transcoder *fakeTranscoder
	watcher    *Watcher
}

func newFixture(t *testing.T, preprocessing map[string]interface{}) *fixture {
	t.Helper()
	dir := t.TempDir()
	pre := map[string]interface{}{"workers": 3}
	for k, v := range preprocessing {
		pre[k] = v
	}
	snap, err := config.NewSnapshot(map[string]interface{}{
		"watch":         map[string]interface{}{"usePolling": true, "interval": 20},
		"preprocessing": pre,
	}, dir)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "raw"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0o755))

	markers, err := sentinel.NewFileMarkers(dir)
	require.NoError(t, err)
	jobs := sentinel.New(markers, sentinel.WithGrace(0))
	tr := &fakeTranscoder{}

	return &fixture{
		dir:        dir,
		snap:       snap,
		jobs:       jobs,
		markers:    markers,
		transcoder: tr,
		watcher: New(staticConfig{snap}, jobs, tr,
			WithStability(50*time.Millisecond, 10*time.Millisecond),
			WithTriggerPoll(20*time.Millisecond)),
	}
}

func (f *fixture) path(parts ...string) string {
	return filepath.Join(append([]string{f.dir}, parts...)...)
}

func (f *fixture) write(t *testing.T, content string, parts ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(f.path(parts...)), 0o755))
	require.NoError(t, os.WriteFile(f.path(parts...), []byte(content), 0o644))
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.watcher.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestFreshIngestDeletesOriginal(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.write(t, "pixels", "raw", "beach.JPG")

	require.Eventually(t, func() bool { return exists(f.path("images", "beach.webp")) },
		5*time.Second, 10*time.Millisecond)
	data, err := os.ReadFile(f.path("images", "beach.webp"))
	require.NoError(t, err)
	assert.Equal(t, "webp:pixels", string(data))
	assert.Eventually(t, func() bool { return !exists(f.path("raw", "beach.JPG")) },
		time.Second, 10*time.Millisecond)

	req := f.transcoder.all()[0]
	assert.Equal(t, 1920, req.Width)
	assert.Equal(t, 1080, req.Height)
	assert.Equal(t, 80, req.Quality)
	assert.True(t, strings.HasPrefix(filepath.Base(req.Output), "."), "output goes to a hidden temp name first")
}

func TestFreshIngestPicksUpExistingFiles(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"keepOriginals": true})
	f.write(t, "a", "raw", "waiting.png")
	f.start(t)

	require.Eventually(t, func() bool { return exists(f.path("images", "waiting.webp")) },
		5*time.Second, 10*time.Millisecond)
	assert.True(t, exists(f.path("raw", "waiting.png")), "kept in place")
}

func TestFreshIngestArchivesOriginal(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"keepOriginals": true, "archivePath": "archive"})
	f.start(t)

	f.write(t, "a", "raw", "dog.png")
	require.Eventually(t, func() bool { return exists(f.path("archive", "dog.png")) },
		5*time.Second, 10*time.Millisecond)
	assert.True(t, exists(f.path("images", "dog.webp")))
	assert.False(t, exists(f.path("raw", "dog.png")))
}

func TestFreshIngestSkipsUnsupportedAndFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.write(t, "text", "raw", "notes.txt")
	f.write(t, "x", "raw", "bad.jpg")
	f.write(t, "y", "raw", "good.jpg")

	require.Eventually(t, func() bool { return exists(f.path("images", "good.webp")) },
		5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, in := range f.transcoder.inputs() {
			if in == "bad.jpg" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, exists(f.path("raw", "notes.txt")))
	assert.True(t, exists(f.path("raw", "bad.jpg")), "failed uploads stay for a later retry")
	assert.NotContains(t, f.transcoder.inputs(), "notes.txt")

	entries, err := os.ReadDir(f.path("images"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "."), "temp file %s left behind", e.Name())
	}
}

func TestReprocessTenFilesOneFailure(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"targetWidth": 1024, "keepOriginals": true})
	for i := 0; i < 10; i++ {
		name := "img" + string(rune('0'+i)) + ".jpg"
		if i == 4 {
			name = "bad4.jpg"
		}
		f.write(t, name, "raw", name)
	}
	require.NoError(t, f.jobs.RequestJob(context.Background(), "targetWidth changed"))

	p, err := f.watcher.Reprocess(context.Background(), "targetWidth changed")
	require.NoError(t, err)
	assert.Equal(t, 9, p.Completed)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 10, p.Total)
	require.Len(t, p.Failures, 1)
	assert.Equal(t, "bad4.jpg", p.Failures[0].File)

	for _, r := range f.transcoder.all() {
		assert.Equal(t, 1024, r.Width)
	}
	entries, err := os.ReadDir(f.path("raw"))
	require.NoError(t, err)
	assert.Len(t, entries, 10, "reprocessing never touches originals")

	assert.False(t, exists(f.path(sentinel.TriggerMarker)))
	assert.False(t, exists(f.path(sentinel.ProgressMarker)))
	assert.False(t, f.jobs.Status(context.Background()).Active)
}

func TestReprocessReadsConfigWrittenByOtherProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"preprocessing": {"targetWidth": 800, "keepOriginals": true}}`), 0o644))

	serving, err := config.Load(path)
	require.NoError(t, err)
	ingesting, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 800, ingesting.Read().Preprocessing.TargetWidth)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "raw"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw", "a.jpg"), []byte("a"), 0o644))

	markers, err := sentinel.NewFileMarkers(dir)
	require.NoError(t, err)
	jobs := sentinel.New(markers, sentinel.WithGrace(0))
	tr := &fakeTranscoder{}
	w := New(ingesting, jobs, tr)

	_, changes, err := serving.Set("preprocessing.targetWidth", "1024")
	require.NoError(t, err)
	requested, err := jobs.RequestOnGeometryChange(context.Background(), changes)
	require.NoError(t, err)
	require.True(t, requested)

	// No watch has run in the ingesting store; the job must still see 1024.
	p, err := w.Reprocess(context.Background(), "output geometry changed")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Completed)
	reqs := tr.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, 1024, reqs[0].Width)
	assert.Equal(t, 1024, ingesting.Read().Preprocessing.TargetWidth)
}

func TestSourcesArchiveWins(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"archivePath": "archive", "keepOriginals": true})
	f.write(t, "raw", "raw", "a.jpg")
	f.write(t, "raw", "raw", "b.jpg")
	f.write(t, "arch", "archive", "a.jpg")
	f.write(t, "arch", "archive", "c.png")
	f.write(t, "hidden", "raw", ".partial.jpg")

	sources, err := Sources(f.snap)
	require.NoError(t, err)
	assert.Equal(t, []string{
		f.path("archive", "a.jpg"),
		f.path("raw", "b.jpg"),
		f.path("archive", "c.png"),
	}, sources)
}

func TestTriggerStartsJob(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"keepOriginals": true})
	f.start(t)

	f.write(t, "1", "raw", "one.jpg")
	require.Eventually(t, func() bool { return exists(f.path("images", "one.webp")) },
		5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.jobs.RequestJob(context.Background(), "manual"))
	require.Eventually(t, func() bool {
		st := f.jobs.Status(context.Background())
		return !st.Active && !st.Requested
	}, 5*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, len(f.transcoder.inputs()), 2, "upload plus one job pass")
}

func TestTriggerPresentAtStartupResumes(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"keepOriginals": true})
	f.write(t, "1", "raw", "one.jpg")
	require.NoError(t, f.jobs.RequestJob(context.Background(), "before restart"))
	// A half-written progress record from a crashed run.
	require.NoError(t, f.markers.Replace(sentinel.ProgressMarker, []byte(`{"version":1,"completed":1,"total":5,"timestamp":1}`)))

	f.start(t)
	require.Eventually(t, func() bool {
		return !exists(f.path(sentinel.TriggerMarker)) && !exists(f.path(sentinel.ProgressMarker))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDisabledPreprocessingExits(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"enabled": false})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, f.watcher.Run(ctx))
	assert.Nil(t, ctx.Err(), "returns without waiting")
}

func TestWaitStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.jpg")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	stop := make(chan struct{})
	go func() {
		fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
		if err != nil {
			return
		}
		defer fh.Close()
		for i := 0; i < 5; i++ {
			time.Sleep(20 * time.Millisecond)
			_, _ = fh.WriteString("more")
		}
		close(stop)
	}()

	require.NoError(t, WaitStable(context.Background(), path, 60*time.Millisecond, 5*time.Millisecond))
	select {
	case <-stop:
	default:
		t.Fatal("returned while the file was still growing")
	}

	err := WaitStable(context.Background(), filepath.Join(t.TempDir(), "gone"), time.Second, time.Millisecond)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransientIO))
}

func TestCommandTranscoderRender(t *testing.T) {
	tr, err := NewCommandTranscoder(config.DefaultCommand)
	require.NoError(t, err)
	argv, err := tr.Render(Request{Input: "in.jpg", Output: "out.webp", Width: 800, Height: 600, Quality: 75})
	require.NoError(t, err)
	assert.Equal(t, []string{"magick", "in.jpg", "-resize", "800x600>", "-quality", "75", "out.webp"}, argv)

	tr, err = NewCommandTranscoder([]string{"tool", "{{ .Quality | add 1 }}", "{{ .Input | base }}"})
	require.NoError(t, err)
	argv, err = tr.Render(Request{Input: "/raw/x.png", Quality: 80})
	require.NoError(t, err)
	assert.Equal(t, []string{"tool", "81", "x.png"}, argv)

	_, err = NewCommandTranscoder([]string{"tool", "{{ .Input"})
	assert.Error(t, err)
	_, err = NewCommandTranscoder(nil)
	assert.Error(t, err)
}

func TestCommandTranscoderRuns(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jpg")
	out := filepath.Join(dir, "out.webp")
	require.NoError(t, os.WriteFile(in, []byte("data"), 0o644))

	tr, err := NewCommandTranscoder([]string{"cp", "{{.Input}}", "{{.Output}}"})
	require.NoError(t, err)
	require.NoError(t, tr.Transcode(context.Background(), Request{Input: in, Output: out}))
	assert.True(t, exists(out))

	tr, err = NewCommandTranscoder([]string{"sh", "-c", "echo broken >&2; exit 3"})
	require.NoError(t, err)
	err = tr.Transcode(context.Background(), Request{Input: in, Output: out})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTranscodeFailed))
	ge, _ := apperrors.As(err)
	assert.Equal(t, "broken", ge.Detail("output"))
}
