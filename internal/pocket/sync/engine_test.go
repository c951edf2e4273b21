package sync

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/pocketsync/internal/api"
	"github.com/mschirtzinger/pocketsync/internal/pocket"
	"github.com/mschirtzinger/pocketsync/internal/pocket/db"
	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) FetchItemsSince(ctx context.Context, token string, since *schema.Timestamp, tag string) (*api.FetchResult, error) {
	args := m.Called(ctx, token, since, tag)
	res, _ := args.Get(0).(*api.FetchResult)
	return res, args.Error(1)
}

func ts(v int64) *schema.Timestamp {
	t := schema.Timestamp(v)
	return &t
}

func setupEngine(t *testing.T, remote *mockRemote, token string) (*Engine, *db.DB) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	e := New(Config{
		Store:    store,
		Remote:   remote,
		Token:    func() string { return token },
		LockPath: store.Path() + ".sync.lock",
		Logger:   log.New(io.Discard, "", 0),
	})
	return e, store
}

func TestRun_FirstSync(t *testing.T) {
	remote := &mockRemote{}
	e, store := setupEngine(t, remote, "tok")
	ctx := context.Background()

	remote.On("FetchItemsSince", mock.Anything, "tok", (*schema.Timestamp)(nil), "").Return(&api.FetchResult{
		Since: 1000,
		Items: schema.ItemMap{"1": {ID: "1", URL: "http://x", Tags: schema.Tags{}}},
	}, nil).Once()

	res, err := e.Run(ctx, "")
	require.NoError(t, err)
	remote.AssertExpectations(t)

	assert.Nil(t, res.Since)
	assert.Equal(t, schema.Timestamp(1000), res.Cursor)
	assert.Equal(t, 1, res.Fetched)
	assert.NotEmpty(t, res.RunID)

	item, err := store.GetItem(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "http://x", item.URL)

	cursor, ok, err := store.GetCursor(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, schema.Timestamp(1000), cursor)
	assert.Equal(t, StateIdle, e.State())
}

func TestRun_IncrementalAndMonotonic(t *testing.T) {
	remote := &mockRemote{}
	e, store := setupEngine(t, remote, "tok")
	ctx := context.Background()
	require.NoError(t, store.SetCursor(ctx, 1000))

	remote.On("FetchItemsSince", mock.Anything, "tok", ts(1000), "go").
		Return(&api.FetchResult{Since: 2000, Items: schema.ItemMap{}}, nil).Once()
	remote.On("FetchItemsSince", mock.Anything, "tok", ts(2000), "go").
		Return(&api.FetchResult{Since: 1500, Items: schema.ItemMap{}}, nil).Once()

	res, err := e.Run(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, schema.Timestamp(1000), *res.Since)
	assert.Equal(t, schema.Timestamp(2000), res.Cursor)

	// A server clock that steps back never rewinds the cursor.
	res, err = e.Run(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, schema.Timestamp(2000), res.Cursor)

	cursor, _, _ := store.GetCursor(ctx)
	assert.Equal(t, schema.Timestamp(2000), cursor)
	remote.AssertExpectations(t)
}

func TestRun_EmptyDeltaAdvancesCursor(t *testing.T) {
	remote := &mockRemote{}
	e, store := setupEngine(t, remote, "tok")
	ctx := context.Background()
	require.NoError(t, store.SetCursor(ctx, 500))

	remote.On("FetchItemsSince", mock.Anything, "tok", ts(500), "").
		Return(&api.FetchResult{Since: 900, Items: schema.ItemMap{}}, nil).Once()

	res, err := e.Run(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, res.Fetched)

	cursor, _, _ := store.GetCursor(ctx)
	assert.Equal(t, schema.Timestamp(900), cursor)
}

func TestRun_FetchFailureLeavesCursor(t *testing.T) {
	remote := &mockRemote{}
	e, store := setupEngine(t, remote, "tok")
	ctx := context.Background()
	require.NoError(t, store.SetCursor(ctx, 500))

	netErr := &pocket.NetworkError{Op: "get", StatusCode: 503}
	remote.On("FetchItemsSince", mock.Anything, "tok", ts(500), "").Return(nil, netErr).Once()

	_, err := e.Run(ctx, "")
	require.Error(t, err)
	assert.True(t, pocket.IsNetwork(err))

	cursor, _, _ := store.GetCursor(ctx)
	assert.Equal(t, schema.Timestamp(500), cursor)
	assert.False(t, e.Running(), "guard must be cleared after failure")

	// The next pass retries the same window.
	remote.On("FetchItemsSince", mock.Anything, "tok", ts(500), "").
		Return(&api.FetchResult{Since: 600, Items: schema.ItemMap{}}, nil).Once()
	_, err = e.Run(ctx, "")
	require.NoError(t, err)
	remote.AssertExpectations(t)
}

func TestRun_MergeFailureLeavesCursor(t *testing.T) {
	remote := &mockRemote{}
	e, store := setupEngine(t, remote, "tok")
	ctx := context.Background()

	remote.On("FetchItemsSince", mock.Anything, "tok", (*schema.Timestamp)(nil), "").Return(&api.FetchResult{
		Since: 1000,
		Items: schema.ItemMap{
			"1": {ID: "1", URL: "http://ok"},
			"2": {ID: "2"}, // unstorable
		},
	}, nil).Once()

	_, err := e.Run(ctx, "")
	require.Error(t, err)
	assert.True(t, pocket.IsStorage(err))

	_, ok, _ := store.GetCursor(ctx)
	assert.False(t, ok, "cursor must not advance after a failed merge")
	_, err = store.GetItem(ctx, "1")
	assert.ErrorIs(t, err, pocket.ErrNotFound, "batch must not be partially applied")
}

func TestRun_NotAuthenticated(t *testing.T) {
	remote := &mockRemote{}
	e, _ := setupEngine(t, remote, "")

	_, err := e.Run(context.Background(), "")
	assert.ErrorIs(t, err, pocket.ErrNotAuthenticated)
	remote.AssertNotCalled(t, "FetchItemsSince", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_MutualExclusion(t *testing.T) {
	remote := &mockRemote{}
	e, store := setupEngine(t, remote, "tok")
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	remote.On("FetchItemsSince", mock.Anything, "tok", (*schema.Timestamp)(nil), "").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&api.FetchResult{Since: 1000, Items: schema.ItemMap{}}, nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(ctx, "")
		done <- err
	}()

	<-entered
	assert.Equal(t, StateFetching, e.State())
	assert.True(t, e.Running())

	_, err := e.Run(ctx, "")
	assert.ErrorIs(t, err, pocket.ErrAlreadyInProgress)
	assert.True(t, pocket.IsExpected(err))

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first sync did not finish")
	}

	remote.AssertNumberOfCalls(t, "FetchItemsSince", 1)
	cursor, _, _ := store.GetCursor(ctx)
	assert.Equal(t, schema.Timestamp(1000), cursor)
}

func TestRun_FileLockHeldElsewhere(t *testing.T) {
	remote := &mockRemote{}
	e, store := setupEngine(t, remote, "tok")

	other := New(Config{
		Store:    store,
		Remote:   remote,
		Token:    func() string { return "tok" },
		LockPath: store.Path() + ".sync.lock",
		Logger:   log.New(io.Discard, "", 0),
	})

	entered := make(chan struct{})
	release := make(chan struct{})
	remote.On("FetchItemsSince", mock.Anything, "tok", (*schema.Timestamp)(nil), "").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&api.FetchResult{Since: 1, Items: schema.ItemMap{}}, nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := other.Run(context.Background(), "")
		done <- err
	}()
	<-entered

	_, err := e.Run(context.Background(), "")
	assert.ErrorIs(t, err, pocket.ErrAlreadyInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRun_OnComplete(t *testing.T) {
	remote := &mockRemote{}
	e, _ := setupEngine(t, remote, "tok")
	var got *Result
	e.onComplete = func(r *Result) { got = r }

	remote.On("FetchItemsSince", mock.Anything, "tok", (*schema.Timestamp)(nil), "").
		Return(&api.FetchResult{Since: 7, Items: schema.ItemMap{}}, nil).Once()

	res, err := e.Run(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.RunID, got.RunID)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "committing_cursor", StateCommittingCursor.String())
	assert.Equal(t, "unknown", State(99).String())
}
