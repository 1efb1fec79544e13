package complaint

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospadmin/hospadmin/internal/platform/apperr"
	"github.com/hospadmin/hospadmin/internal/platform/cache"
	"github.com/hospadmin/hospadmin/internal/platform/notification"
)

// -- Mock Repository --

type mockRepo struct {
	mu        sync.Mutex
	items     map[int64]*Complaint
	nextID    int64
	failOn    map[string]error
	listCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[int64]*Complaint), failOn: make(map[string]error)}
}

func (m *mockRepo) snapshot() (map[int64]Complaint, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[int64]Complaint, len(m.items))
	for id, c := range m.items {
		snap[id] = *c
	}
	return snap, m.nextID
}

func (m *mockRepo) restore(snap map[int64]Complaint, nextID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[int64]*Complaint, len(snap))
	for id, c := range snap {
		c := c
		m.items[id] = &c
	}
	m.nextID = nextID
}

func (m *mockRepo) List(_ context.Context) ([]*Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if err := m.failOn["List"]; err != nil {
		return nil, err
	}
	out := []*Complaint{}
	for _, c := range m.items {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) Create(_ context.Context, in *CreateComplaint) (*Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := &Complaint{
		ID:                m.nextID,
		PatientID:         in.PatientID,
		PatientName:       in.PatientName,
		ContactNumber:     in.ContactNumber,
		Description:       in.Description,
		Priority:          in.Priority,
		Status:            in.Status,
		AttachmentPath:    in.AttachmentPath,
		ComplaintDateTime: time.Now().UTC(),
	}
	m.items[c.ID] = c
	if err := m.failOn["Create"]; err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, u *UpdateComplaint) (*Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[u.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if u.PatientID != nil {
		c.PatientID = *u.PatientID
	}
	if u.PatientName != nil {
		c.PatientName = *u.PatientName
	}
	if u.ContactNumber != nil {
		c.ContactNumber = *u.ContactNumber
	}
	if u.Description != nil {
		c.Description = *u.Description
	}
	if u.Priority != nil {
		c.Priority = *u.Priority
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.AttachmentPath != nil {
		c.AttachmentPath = u.AttachmentPath
	}
	if err := m.failOn["Update"]; err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) Delete(_ context.Context, id int64) (*Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.items, id)
	if err := m.failOn["Delete"]; err != nil {
		return nil, err
	}
	return c, nil
}

// fakeTx restores the repository snapshot when fn fails, the way a rolled
// back transaction would.
type fakeTx struct {
	repo      *mockRepo
	begins    int
	commits   int
	rollbacks int
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.begins++
	snap, next := f.repo.snapshot()
	if err := fn(ctx); err != nil {
		f.repo.restore(snap, next)
		f.rollbacks++
		return err
	}
	f.commits++
	return nil
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("redis down")
}
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis down")
}
func (failingCache) Delete(context.Context, ...string) error { return errors.New("redis down") }
func (failingCache) Generation(context.Context, string) (int64, error) {
	return 0, errors.New("redis down")
}
func (failingCache) Bump(context.Context, string) (int64, error) {
	return 0, errors.New("redis down")
}

type testEnv struct {
	svc    *Service
	repo   *mockRepo
	tx     *fakeTx
	events *notification.MockPublisher
	cache  *cache.MemoryStore
}

func newTestEnv() *testEnv {
	repo := newMockRepo()
	tx := &fakeTx{repo: repo}
	events := &notification.MockPublisher{}
	store := cache.NewMemoryStore()
	svc := NewService(repo, tx, zerolog.Nop()).WithCache(store, time.Minute).WithEvents(events)
	return &testEnv{svc: svc, repo: repo, tx: tx, events: events, cache: store}
}

func validCreate() *CreateComplaint {
	return &CreateComplaint{
		PatientID:     12,
		PatientName:   "Meera Nair",
		ContactNumber: "9876543210",
		Description:   "Long wait at the pharmacy counter",
		Priority:      PriorityMedium,
		Status:        StatusNew,
	}
}

func strPtr(s string) *string { return &s }

// -- Create --

func TestService_Create(t *testing.T) {
	env := newTestEnv()
	cmd := validCreate()
	cmd.AttachmentPath = strPtr("uploads/a.png")

	got, err := env.svc.Create(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "Meera Nair", got.PatientName)
	assert.Equal(t, PriorityMedium, got.Priority)
	assert.Equal(t, "uploads/a.png", *got.AttachmentPath)
	assert.False(t, got.ComplaintDateTime.IsZero())
	assert.Equal(t, 1, env.tx.commits)
	assert.Equal(t, []string{notification.ComplaintCreated}, env.events.Names())
	assert.Equal(t, notification.StreamComplaints, env.events.Calls()[0].Stream)
}

func TestService_Create_MissingFieldNeverOpensTx(t *testing.T) {
	env := newTestEnv()
	cmd := validCreate()
	cmd.ContactNumber = ""

	_, err := env.svc.Create(context.Background(), cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Required fields are missing", err.Error())
	assert.Equal(t, 0, env.tx.begins)
	assert.Empty(t, env.repo.items)
	assert.Empty(t, env.events.Calls())
}

func TestService_Create_BadContactNumber(t *testing.T) {
	env := newTestEnv()
	cmd := validCreate()
	cmd.ContactNumber = "98765-4321"

	_, err := env.svc.Create(context.Background(), cmd)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 0, env.tx.begins)
}

func TestService_Create_StoreFailureRollsBack(t *testing.T) {
	env := newTestEnv()
	env.repo.failOn["Create"] = errors.New("connection reset by peer")

	_, err := env.svc.Create(context.Background(), validCreate())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInternal)

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "Internal Server Error", appErr.Message)
	assert.Equal(t, 1, env.tx.rollbacks)
	assert.Empty(t, env.repo.items)
	assert.Empty(t, env.events.Calls())
}

func TestService_Create_UniqueViolationIsConflict(t *testing.T) {
	env := newTestEnv()
	env.repo.failOn["Create"] = &pgconn.PgError{Code: "23505"}

	_, err := env.svc.Create(context.Background(), validCreate())
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Empty(t, env.repo.items)
}

// -- Update --

func TestService_Update_PreservesOmittedFields(t *testing.T) {
	env := newTestEnv()
	created, err := env.svc.Create(context.Background(), validCreate())
	require.NoError(t, err)

	resolved := StatusResolved
	got, err := env.svc.Update(context.Background(), &UpdateComplaint{ID: created.ID, Status: &resolved})
	require.NoError(t, err)

	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, created.PatientName, got.PatientName)
	assert.Equal(t, created.ContactNumber, got.ContactNumber)
	assert.Equal(t, created.Description, got.Description)
	assert.Equal(t, created.Priority, got.Priority)
	assert.Equal(t, created.ComplaintDateTime, got.ComplaintDateTime)
	assert.Nil(t, got.AttachmentPath)
	assert.Equal(t, []string{notification.ComplaintCreated, notification.ComplaintUpdated}, env.events.Names())
}

func TestService_Update_ReplacesAttachment(t *testing.T) {
	env := newTestEnv()
	cmd := validCreate()
	cmd.AttachmentPath = strPtr("uploads/old.pdf")
	created, err := env.svc.Create(context.Background(), cmd)
	require.NoError(t, err)

	got, err := env.svc.Update(context.Background(), &UpdateComplaint{ID: created.ID, AttachmentPath: strPtr("uploads/new.pdf")})
	require.NoError(t, err)
	assert.Equal(t, "uploads/new.pdf", *got.AttachmentPath)
}

func TestService_Update_NotFound(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	before, _ := env.repo.snapshot()

	closed := StatusClosed
	_, err = env.svc.Update(context.Background(), &UpdateComplaint{ID: 999999, Status: &closed})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	after, _ := env.repo.snapshot()
	assert.Equal(t, before, after)
}

func TestService_Update_ValidationBeforeStore(t *testing.T) {
	env := newTestEnv()
	tests := []struct {
		name string
		cmd  *UpdateComplaint
	}{
		{"zero id", &UpdateComplaint{ID: 0}},
		{"bad phone", &UpdateComplaint{ID: 1, ContactNumber: strPtr("12345")}},
		{"bad patient id", &UpdateComplaint{ID: 1, PatientID: new(int64)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Update(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Equal(t, 0, env.tx.begins)
}

func TestService_Update_StoreFailureRollsBack(t *testing.T) {
	env := newTestEnv()
	created, err := env.svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	env.repo.failOn["Update"] = errors.New("deadlock detected")

	_, err = env.svc.Update(context.Background(), &UpdateComplaint{ID: created.ID, PatientName: strPtr("Changed")})
	assert.ErrorIs(t, err, apperr.ErrInternal)

	stored, err := env.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Meera Nair", stored.PatientName)
}

// -- Delete --

func TestService_Delete(t *testing.T) {
	env := newTestEnv()
	created, err := env.svc.Create(context.Background(), validCreate())
	require.NoError(t, err)

	deleted, err := env.svc.Delete(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, deleted.ID)
	assert.Empty(t, env.repo.items)

	_, err = env.svc.Delete(context.Background(), created.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = env.svc.Delete(context.Background(), -4)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

// -- Read --

func TestService_List_NewestFirst(t *testing.T) {
	env := newTestEnv()
	for i := 0; i < 3; i++ {
		_, err := env.svc.Create(context.Background(), validCreate())
		require.NoError(t, err)
	}

	items, err := env.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{items[0].ID, items[1].ID, items[2].ID})
}

func TestService_List_CachedUntilWrite(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Create(context.Background(), validCreate())
	require.NoError(t, err)

	_, err = env.svc.List(context.Background())
	require.NoError(t, err)
	items, err := env.svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, env.repo.listCalls)

	_, err = env.svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	items, err = env.svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, env.repo.listCalls)
}

type stallingRepo struct {
	*mockRepo
	read    chan struct{}
	release chan struct{}
}

func (r *stallingRepo) List(ctx context.Context) ([]*Complaint, error) {
	items, err := r.mockRepo.List(ctx)
	r.read <- struct{}{}
	<-r.release
	return items, err
}

func TestService_List_WriteDuringReadIsNotCachedStale(t *testing.T) {
	base := newMockRepo()
	repo := &stallingRepo{mockRepo: base, read: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(repo, &fakeTx{repo: base}, zerolog.Nop()).WithCache(cache.NewMemoryStore(), time.Minute)

	done := make(chan []*Complaint)
	go func() {
		items, err := svc.List(context.Background())
		assert.NoError(t, err)
		done <- items
	}()
	<-repo.read

	_, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	close(repo.release)
	assert.Empty(t, <-done)

	items, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestService_CacheFailuresDoNotFailRequests(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, &fakeTx{repo: repo}, zerolog.Nop()).WithCache(failingCache{}, time.Minute)

	_, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	items, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestService_EventFailureDoesNotFailWrite(t *testing.T) {
	env := newTestEnv()
	env.events.ShouldFail = true

	_, err := env.svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	assert.Len(t, env.repo.items, 1)
}

func TestService_List_StoreFailure(t *testing.T) {
	env := newTestEnv()
	env.repo.failOn["List"] = errors.New("relation does not exist")

	_, err := env.svc.List(context.Background())
	assert.ErrorIs(t, err, apperr.ErrInternal)
}

func TestService_Get(t *testing.T) {
	env := newTestEnv()
	created, err := env.svc.Create(context.Background(), validCreate())
	require.NoError(t, err)

	got, err := env.svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = env.svc.Get(context.Background(), 77)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
