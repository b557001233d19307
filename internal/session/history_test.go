package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "github.com/eargollo/stickscan/internal/db"
	"github.com/eargollo/stickscan/internal/engine"
	"github.com/eargollo/stickscan/internal/history"
)

func TestSessionsAreRecorded(t *testing.T) {
	db, err := internaldb.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = internaldb.Migrate(context.Background(), db)
	require.NoError(t, err)
	store := history.NewStore(db)

	h := newHarness(t)
	h.coord = New(Options{Gateway: h.gw, Events: h.bus, Navigator: h.nav, Recorder: store})

	snap, err := h.coord.StartScan(context.Background(), Request{Path: "/media/usb1", Trigger: TriggerCLI})
	require.NoError(t, err)
	<-h.gw.requests

	running, err := store.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusRunning, running.Status)
	assert.Equal(t, TriggerCLI, running.Trigger)

	h.gw.scans <- scanReply{res: engine.ScanResult{Matches: []engine.Match{
		{Path: "/media/usb1/a.exe", Rules: []string{"Eicar"}},
	}}}
	waitDone(t, snap)

	got, err := store.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusInfected, got.Status)
	assert.Equal(t, 1, got.MatchCount)
	require.Len(t, got.Matches, 1)
	assert.Equal(t, []string{"Eicar"}, got.Matches[0].Rules)
}
