package drives

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/stickscan/internal/engine"
)

type fakeLister struct {
	mu     sync.Mutex
	drives []string
	err    error
}

func (f *fakeLister) ListUSBDrives(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.drives...), f.err
}

func TestRefreshNotifiesOnChange(t *testing.T) {
	lister := &fakeLister{drives: []string{"/media/usb2", "/media/usb1"}}
	svc := NewService(lister)

	var got [][]string
	svc.OnChange(func(d []string) { got = append(got, d) })

	list, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/usb1", "/media/usb2"}, list)

	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1, "unchanged list must not notify")

	lister.drives = nil
	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Empty(t, svc.Drives())
}

func TestRefreshInFlightReturnsCache(t *testing.T) {
	lister := &fakeLister{drives: []string{"/media/usb1"}}
	svc := NewService(lister)
	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	lister.err = fmt.Errorf("list: %w", engine.ErrInFlight)
	list, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/usb1"}, list)

	lister.err = errors.New("down")
	_, err = svc.Refresh(context.Background())
	assert.Error(t, err)
}

func TestWatcherDebouncesMountEvents(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32
	w := NewWatcher(root, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	w.SetDebounce(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the root.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.Mkdir(filepath.Join(root, fmt.Sprintf("usb%d", i)), 0o755))
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcherMissingRootIdles(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), func(context.Context) error { return nil })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, w.Run(ctx))
}
