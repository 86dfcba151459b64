package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagate/wagate/pkg/credstore"
	"github.com/wagate/wagate/pkg/engine/enginetest"
)

// fakeStore is an in-memory credstore.Store with failure injection,
// safe for concurrent hook calls.
type fakeStore struct {
	mu        sync.Mutex
	bundles   map[string]*credstore.Bundle
	loadErr   error
	saveErr   error
	deleteErr error

	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{bundles: make(map[string]*credstore.Bundle)}
}

func (s *fakeStore) Load(_ context.Context, id string) (*credstore.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	b, ok := s.bundles[id]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (s *fakeStore) Save(_ context.Context, id string, b *credstore.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if !b.Complete() {
		return credstore.ErrIncompleteBundle
	}
	copied := *b
	s.bundles[id] = &copied
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletes++
	delete(s.bundles, id)
	return nil
}

func (s *fakeStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.bundles))
	for id := range s.bundles {
		ids = append(ids, id)
	}
	return ids, nil
}

func (*fakeStore) Close() error { return nil }

var _ credstore.Store = (*fakeStore)(nil)

func completeBundle() *credstore.Bundle {
	return &credstore.Bundle{
		ClientID:    "client-1",
		ServerToken: "srv-tok",
		ClientToken: "cli-tok",
		EncKey:      "enc",
		MacKey:      "mac",
		PushName:    "Ana",
		Platform:    "android",
		UpdatedAt:   time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestPreConnectReturnsCompleteBundle(t *testing.T) {
	store := newFakeStore()
	store.bundles["s1"] = completeBundle()

	strategy := NewStrategy("s1", store)

	got, err := strategy.PreConnect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "client-1", got.ClientID)
}

func TestPreConnectAbsentBundle(t *testing.T) {
	strategy := NewStrategy("s1", newFakeStore())

	got, err := strategy.PreConnect(context.Background())
	require.NoError(t, err, "first connection is not an error")
	assert.Nil(t, got)
}

func TestPreConnectNeverOffersIncompleteBundle(t *testing.T) {
	store := newFakeStore()
	partial := completeBundle()
	partial.ServerToken = ""
	store.bundles["s1"] = partial

	strategy := NewStrategy("s1", store)

	got, err := strategy.PreConnect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got, "incomplete bundles must not be offered for resumption")
}

func TestPreConnectStoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.loadErr = credstore.ErrUnavailable

	strategy := NewStrategy("s1", store)

	_, err := strategy.PreConnect(context.Background())
	require.ErrorIs(t, err, credstore.ErrUnavailable)
}

func TestPostAuthenticatePersistsIssuedBundle(t *testing.T) {
	store := newFakeStore()
	strategy := NewStrategy("s1", store)

	issued := completeBundle()
	require.NoError(t, strategy.PostAuthenticate(context.Background(), issued))

	saved := store.bundles["s1"]
	require.NotNil(t, saved)
	assert.Equal(t, issued.ClientID, saved.ClientID)
	assert.False(t, saved.UpdatedAt.IsZero())
}

func TestPostAuthenticateMergesKnownIdentity(t *testing.T) {
	store := newFakeStore()
	store.bundles["s1"] = completeBundle()

	strategy := NewStrategy("s1", store)
	_, err := strategy.PreConnect(context.Background())
	require.NoError(t, err)

	// Fresh tokens without the identity fields the previous bundle had.
	issued := completeBundle()
	issued.ServerToken = "new-srv"
	issued.PushName = ""
	issued.Platform = ""

	require.NoError(t, strategy.PostAuthenticate(context.Background(), issued))

	saved := store.bundles["s1"]
	assert.Equal(t, "new-srv", saved.ServerToken)
	assert.Equal(t, "Ana", saved.PushName)
	assert.Equal(t, "android", saved.Platform)
}

func TestPostAuthenticateNilBundle(t *testing.T) {
	strategy := NewStrategy("s1", newFakeStore())

	err := strategy.PostAuthenticate(context.Background(), nil)
	require.ErrorIs(t, err, credstore.ErrIncompleteBundle)
}

func TestPostAuthenticateStoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.saveErr = credstore.ErrUnavailable

	strategy := NewStrategy("s1", store)

	err := strategy.PostAuthenticate(context.Background(), completeBundle())
	require.ErrorIs(t, err, credstore.ErrUnavailable)
}

func TestLogoutDeletesBeforeTeardown(t *testing.T) {
	store := newFakeStore()
	store.bundles["s1"] = completeBundle()

	eng := enginetest.New()
	eng.FailLogout(errors.New("engine gone"))

	strategy := NewStrategy("s1", store)

	err := strategy.Logout(context.Background(), eng)
	require.Error(t, err, "engine teardown failure propagates")
	assert.Equal(t, 1, store.deletes, "store cleanup happens before teardown")
	assert.Empty(t, store.bundles, "credentials removed despite teardown failure")
}

func TestConcurrentPostAuthenticateAndLogout(t *testing.T) {
	// PostAuthenticate runs on the session event loop while Logout runs
	// on the HTTP path; the strategy must tolerate both at once. The
	// race detector is the assertion here.
	store := newFakeStore()
	strategy := NewStrategy("s1", store)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = strategy.PostAuthenticate(context.Background(), completeBundle())
		}()
		go func() {
			defer wg.Done()
			_ = strategy.Logout(context.Background(), nil)
		}()
	}
	wg.Wait()
}

func TestLogoutStoreUnavailableSkipsTeardown(t *testing.T) {
	store := newFakeStore()
	store.deleteErr = credstore.ErrUnavailable

	eng := enginetest.New()
	strategy := NewStrategy("s1", store)

	err := strategy.Logout(context.Background(), eng)
	require.ErrorIs(t, err, credstore.ErrUnavailable)
	assert.Zero(t, eng.LogoutCalls, "teardown must not run when deletion failed")
}
