package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore behaves like the engine's create_config: an empty request
// returns the stored file (creating it on first use), otherwise it stores.
type memStore struct {
	mu     sync.Mutex
	stored string
	saves  int
	err    error
}

func (m *memStore) CreateConfig(_ context.Context, contents string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if contents == "" {
		if m.stored == "" {
			m.stored = `{"hashes_in_db":0,"last_db_update":"Never","logging_is_active":false,` +
				`"obfuscated_is_active":false,"db_update_weekday":-1,"db_update_time":"22:00"}`
		}
		return json.RawMessage(m.stored), nil
	}
	m.saves++
	m.stored = contents
	return json.RawMessage(contents), nil
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(`{"hashes_in_db":"1200","db_update_weekday":3,"db_update_time":"06:30"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1200), doc.HashesInDB)
	assert.Equal(t, Never, doc.LastDBUpdate)
	assert.Equal(t, 3, doc.DBUpdateWeekday)
	assert.Equal(t, "06:30", doc.DBUpdateTime)

	for _, bad := range []string{
		`{"db_update_weekday":7}`,
		`{"db_update_weekday":-2}`,
		`{"db_update_time":"24:00"}`,
		`{"db_update_time":"6:30"}`,
		`{"hashes_in_db":-1}`,
		`{"hashes_in_db":"many"}`,
		`{"last_db_update":""}`,
		`[1,2]`,
		`not json`,
	} {
		_, err := Parse([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalid, bad)
	}
}

func TestDocumentUpdateTime(t *testing.T) {
	d := Defaults()
	h, m, err := d.UpdateTime()
	require.NoError(t, err)
	assert.Equal(t, 22, h)
	assert.Equal(t, 0, m)
}

func TestClient_RoundTrip(t *testing.T) {
	store := &memStore{}
	c := NewClient(store)
	ctx := context.Background()

	loaded, err := c.LoadOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), loaded)

	saved, err := c.Save(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, loaded, saved)
	assert.Equal(t, 0, store.saves, "unchanged document must not be written")

	loaded.ObfuscatedIsActive = true
	saved, err = c.Save(ctx, loaded)
	require.NoError(t, err)
	assert.True(t, saved.ObfuscatedIsActive)
	assert.Equal(t, 1, store.saves)

	_, err = c.Save(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)

	again, err := NewClient(store).LoadOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, again)
}

func TestClient_ConfigError(t *testing.T) {
	store := &memStore{err: errors.New("engine unreachable")}
	_, err := NewClient(store).LoadOrCreate(context.Background())
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "load", ce.Op)

	store = &memStore{stored: `{"db_update_weekday":12}`}
	_, err = NewClient(store).LoadOrCreate(context.Background())
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestService_LoadFallsBackToDefaults(t *testing.T) {
	svc := NewService(NewClient(&memStore{err: errors.New("down")}))
	doc, err := svc.Load(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Defaults(), doc)
	assert.Equal(t, Defaults(), svc.Get())
}

func TestService_UpdateNotifiesAndSaves(t *testing.T) {
	store := &memStore{}
	svc := NewService(NewClient(store))
	ctx := context.Background()
	_, err := svc.Load(ctx)
	require.NoError(t, err)

	var changes []Document
	svc.OnChange(func(prev, next Document) { changes = append(changes, next) })

	doc, err := svc.Update(ctx, func(d *Document) {
		d.DBUpdateWeekday = 3
		d.DBUpdateTime = "06:00"
	})
	require.NoError(t, err)
	assert.Equal(t, 3, doc.DBUpdateWeekday)
	assert.Equal(t, 1, store.saves)
	require.Len(t, changes, 1)
	assert.Equal(t, "06:00", changes[0].DBUpdateTime)

	// No-op update: no save, no notification.
	_, err = svc.Update(ctx, func(d *Document) {})
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
	assert.Len(t, changes, 1)
}

func TestService_UpdateRejectsInvalid(t *testing.T) {
	store := &memStore{}
	svc := NewService(NewClient(store))
	_, err := svc.Update(context.Background(), func(d *Document) { d.DBUpdateWeekday = 9 })
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, Defaults(), svc.Get())
	assert.Equal(t, 0, store.saves)
}

func TestService_SaveFailureKeepsMemory(t *testing.T) {
	store := &memStore{err: errors.New("down")}
	svc := NewService(NewClient(store))

	doc, err := svc.Update(context.Background(), func(d *Document) { d.LoggingIsActive = true })
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.True(t, doc.LoggingIsActive)
	assert.True(t, svc.Get().LoggingIsActive)
}

func TestService_RecordUpdate(t *testing.T) {
	svc := NewService(NewClient(&memStore{}))
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	doc, err := svc.RecordUpdate(context.Background(), 123456, at)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), doc.HashesInDB)
	assert.Equal(t, "04/03/2026 05:06:07", doc.LastDBUpdate)
}

func TestService_ConcurrentUpdatesKeepBothChanges(t *testing.T) {
	svc := NewService(NewClient(&memStore{}))
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	recorded := make(chan error, 1)
	go func() {
		_, err := svc.Update(ctx, func(d *Document) {
			close(entered)
			<-release
			d.HashesInDB = 500
		})
		recorded <- err
	}()
	<-entered

	toggled := make(chan error, 1)
	go func() {
		_, err := svc.Update(ctx, func(d *Document) { d.ObfuscatedIsActive = true })
		toggled <- err
	}()

	// The toggle waits for the first update instead of reading a stale copy.
	select {
	case err := <-toggled:
		t.Fatalf("second update ran concurrently: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-recorded)
	require.NoError(t, <-toggled)

	doc := svc.Get()
	assert.Equal(t, int64(500), doc.HashesInDB)
	assert.True(t, doc.ObfuscatedIsActive)
}
