package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, events <-chan FileEvent) FileEvent {
	t.Helper()
	select {
	case fe := <-events:
		return fe
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for file event")
		return FileEvent{}
	}
}

func TestFilter(t *testing.T) {
	f, err := NewFilter([]string{".jpg", ".PNG"}, []string{".*"})
	require.NoError(t, err)

	tests := []struct {
		name string
		want bool
	}{
		{"a.jpg", true},
		{"B.JPG", true},
		{"c.png", true},
		{"d.gif", false},
		{".hidden.jpg", false},
		{"noext", false},
		{"/some/dir/e.jpg", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Match(tt.name))
		})
	}
}

func TestFilterEmptyAllowsAll(t *testing.T) {
	f, err := NewFilter(nil, nil)
	require.NoError(t, err)
	assert.True(t, f.Match(".anything"))
}

func TestFilterBadPattern(t *testing.T) {
	_, err := NewFilter(nil, []string{"["})
	assert.Error(t, err)
}

func TestPollCollector(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.jpg"), nil, 0o644))

	c, err := NewPollCollector("poll", dir, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "poll", c.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan FileEvent, 10)
	go func() { _ = c.Run(ctx, events) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.jpg"), nil, 0o644))
	fe := receive(t, events)
	assert.Equal(t, FileEvent{Op: Added, Name: "new.jpg", Path: filepath.Join(dir, "new.jpg")}, fe)

	require.NoError(t, os.Remove(filepath.Join(dir, "existing.jpg")))
	fe = receive(t, events)
	assert.Equal(t, Removed, fe.Op)
	assert.Equal(t, "existing.jpg", fe.Name)
}

func TestPollDiffOrder(t *testing.T) {
	c := &PollCollector{dir: "/d", known: map[string]struct{}{"a": {}, "b": {}}}
	got := c.diff(map[string]struct{}{"b": {}, "d": {}, "c": {}})
	require.Len(t, got, 3)
	assert.Equal(t, FileEvent{Op: Removed, Name: "a", Path: "/d/a"}, got[0])
	assert.Equal(t, "c", got[1].Name)
	assert.Equal(t, "d", got[2].Name)
}

func TestNotifyCollector(t *testing.T) {
	dir := t.TempDir()
	c, err := New("notify", dir, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan FileEvent, 10)
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx, events)
		close(done)
	}()

	path := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	fe := receive(t, events)
	assert.Equal(t, Added, fe.Op)
	assert.Equal(t, "a.jpg", fe.Name)

	require.NoError(t, os.Remove(path))
	for {
		fe = receive(t, events)
		if fe.Op == Removed {
			break
		}
	}
	assert.Equal(t, "a.jpg", fe.Name)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestNewMissingDir(t *testing.T) {
	_, err := New("x", filepath.Join(t.TempDir(), "missing"), Options{})
	assert.Error(t, err)
	_, err = New("x", filepath.Join(t.TempDir(), "missing"), Options{UsePolling: true})
	assert.Error(t, err)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, "removed", Removed.String())
	assert.Equal(t, "Op(7)", Op(7).String())
}
