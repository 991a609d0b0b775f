package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskbridge.io/internal/desk"
)

type fakeDirectory struct {
	mu        sync.Mutex
	team      string
	profile   Profile
	err       error
	teamCalls int
	userCalls int
}

func (f *fakeDirectory) TeamName(ctx context.Context, workspaceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teamCalls++
	return f.team, f.err
}

func (f *fakeDirectory) UserProfile(ctx context.Context, userID string) (Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	return f.profile, f.err
}

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reconcile"}, []string{"entity", "outcome"})
}

func TestResolveOrganizationCreatesThenFinds(t *testing.T) {
	store := desk.NewInMemory()
	dir := &fakeDirectory{team: "Acme Corp"}
	counter := newCounter()
	r := NewReconciler(store, WithDirectory(dir), WithCounter(counter))
	ctx := context.Background()

	first, err := r.ResolveOrganization(ctx, "T1", "")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", first.Name)
	assert.Equal(t, desk.PlanFree, first.Plan)

	second, err := r.ResolveOrganization(ctx, "T1", "ignored")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, dir.teamCalls, "directory is consulted only on a miss")
	assert.Equal(t, float64(1), testutil.ToFloat64(counter.WithLabelValues("organization", "created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(counter.WithLabelValues("organization", "found")))
}

func TestResolveOrganizationDirectoryFailureFallsBack(t *testing.T) {
	r := NewReconciler(desk.NewInMemory(), WithDirectory(&fakeDirectory{err: errors.New("slack down")}))
	org, err := r.ResolveOrganization(context.Background(), "T1", "")
	require.NoError(t, err)
	assert.Equal(t, "Slack Workspace", org.Name)
}

func TestResolveAccountIdempotent(t *testing.T) {
	store := desk.NewInMemory()
	dir := &fakeDirectory{profile: Profile{RealName: "Ann Example", Handle: "ann", Email: "ann@example.com"}}
	r := NewReconciler(store, WithDirectory(dir))
	ctx := context.Background()

	org, err := r.ResolveOrganization(ctx, "T1", "Acme")
	require.NoError(t, err)

	first, err := r.ResolveAccount(ctx, org, "U1", Profile{})
	require.NoError(t, err)
	assert.Equal(t, "Ann Example", first.Name)
	assert.Equal(t, "ann@example.com", first.Email)
	assert.Equal(t, desk.RoleUser, first.Role)

	for i := 0; i < 3; i++ {
		again, err := r.ResolveAccount(ctx, org, "U1", Profile{RealName: "Someone Else"})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 1, dir.userCalls)
}

func TestResolveAccountNameFallbacks(t *testing.T) {
	cases := []struct {
		name     string
		profile  Profile
		wantName string
		wantMail string
	}{
		{"real name", Profile{RealName: "Ann", Handle: "ann", Email: "a@x.io"}, "Ann", "a@x.io"},
		{"handle", Profile{Handle: "ann"}, "ann", "U1@slack.local"},
		{"email local part", Profile{Email: "bob@x.io"}, "bob", "bob@x.io"},
		{"nothing", Profile{}, "Unknown User", "U1@slack.local"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := desk.NewInMemory()
			r := NewReconciler(store, WithDirectory(&fakeDirectory{profile: tc.profile}))
			org, err := r.ResolveOrganization(context.Background(), "T1", "Acme")
			require.NoError(t, err)
			acc, err := r.ResolveAccount(context.Background(), org, "U1", Profile{})
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, acc.Name)
			assert.Equal(t, tc.wantMail, acc.Email)
		})
	}
}

func TestResolveAccountSkipsDirectoryWhenFallbackComplete(t *testing.T) {
	dir := &fakeDirectory{profile: Profile{RealName: "Dir Name"}}
	r := NewReconciler(desk.NewInMemory(), WithDirectory(dir))
	org, _ := r.ResolveOrganization(context.Background(), "T1", "Acme")
	acc, err := r.ResolveAccount(context.Background(), org, "U1", Profile{RealName: "Given", Email: "g@x.io"})
	require.NoError(t, err)
	assert.Equal(t, "Given", acc.Name)
	assert.Equal(t, 0, dir.userCalls)
}

// racingStore holds every first lookup until n callers have seen "absent",
// forcing them all into the insert path at once.
type racingStore struct {
	*desk.InMemory
	mu      sync.Mutex
	pending int
	release chan struct{}
}

func newRacingStore(n int) *racingStore {
	return &racingStore{InMemory: desk.NewInMemory(), pending: n, release: make(chan struct{})}
}

func (s *racingStore) barrier() {
	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return
	}
	s.pending--
	if s.pending == 0 {
		close(s.release)
	}
	s.mu.Unlock()
	<-s.release
}

func (s *racingStore) FindOrganizationByExternalID(ctx context.Context, workspaceID string) (desk.Organization, error) {
	org, err := s.InMemory.FindOrganizationByExternalID(ctx, workspaceID)
	s.barrier()
	return org, err
}

func (s *racingStore) FindAccountByExternalID(ctx context.Context, orgID, userID string) (desk.Account, error) {
	acc, err := s.InMemory.FindAccountByExternalID(ctx, orgID, userID)
	s.barrier()
	return acc, err
}

func TestConcurrentFirstContactCreatesOneOrganization(t *testing.T) {
	const workers = 12
	store := newRacingStore(workers)
	counter := newCounter()
	r := NewReconciler(store, WithCounter(counter))

	var wg sync.WaitGroup
	results := make([]desk.Organization, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.ResolveOrganization(context.Background(), "T-race", "Race Inc")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
	}
	assert.Equal(t, 1, store.OrganizationCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(counter.WithLabelValues("organization", "created")))
	assert.Equal(t, float64(workers-1), testutil.ToFloat64(counter.WithLabelValues("organization", "conflict")))
}

func TestConcurrentFirstContactCreatesOneAccount(t *testing.T) {
	const workers = 8
	store := newRacingStore(0)
	r := NewReconciler(store)
	org, err := r.ResolveOrganization(context.Background(), "T1", "Acme")
	require.NoError(t, err)

	store.pending = workers
	var wg sync.WaitGroup
	ids := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acc, err := r.ResolveAccount(context.Background(), org, "U-race", Profile{RealName: "R", Email: "r@x.io"})
			if err == nil {
				ids[i] = acc.ID
			}
		}(i)
	}
	wg.Wait()
	for i := 1; i < workers; i++ {
		assert.NotEmpty(t, ids[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

type failingStore struct {
	*desk.InMemory
}

func (failingStore) FindOrganizationByExternalID(ctx context.Context, workspaceID string) (desk.Organization, error) {
	return desk.Organization{}, errors.New("connection reset")
}

func TestResolveOrganizationPropagatesStoreErrors(t *testing.T) {
	r := NewReconciler(failingStore{desk.NewInMemory()})
	_, err := r.ResolveOrganization(context.Background(), "T1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	_, err = r.ResolveOrganization(context.Background(), " ", "")
	assert.ErrorIs(t, err, desk.ErrInvalidInput)
}

func TestUpsertOrganizationRenames(t *testing.T) {
	store := desk.NewInMemory()
	r := NewReconciler(store)
	ctx := context.Background()

	org, err := r.UpsertOrganization(ctx, "T1", "Old Name")
	require.NoError(t, err)
	assert.Equal(t, "Old Name", org.Name)

	renamed, err := r.UpsertOrganization(ctx, "T1", "New Name")
	require.NoError(t, err)
	assert.Equal(t, org.ID, renamed.ID)
	assert.Equal(t, "New Name", renamed.Name)

	same, err := r.UpsertOrganization(ctx, "T1", "")
	require.NoError(t, err)
	assert.Equal(t, "New Name", same.Name)
}

func TestLinkAccount(t *testing.T) {
	store := desk.NewInMemory()
	r := NewReconciler(store)
	ctx := context.Background()
	org, _ := r.ResolveOrganization(ctx, "T1", "Acme")
	acc, _ := r.ResolveAccount(ctx, org, "U1", Profile{RealName: "Ann", Email: "old@x.io"})

	linked, err := r.LinkAccount(ctx, acc, "auth-1", "")
	require.NoError(t, err)
	assert.Equal(t, "auth-1", linked.AuthUserID)
	assert.Equal(t, "old@x.io", linked.Email)

	linked, err = r.LinkAccount(ctx, linked, "auth-1", "new@x.io")
	require.NoError(t, err)
	assert.Equal(t, "new@x.io", linked.Email)

	again, err := r.ResolveAccount(ctx, org, "U1", Profile{})
	require.NoError(t, err)
	assert.Equal(t, linked.ID, again.ID)
	assert.Equal(t, "auth-1", again.AuthUserID)

	_, err = r.LinkAccount(ctx, acc, " ", "")
	assert.ErrorIs(t, err, desk.ErrInvalidInput)
}
