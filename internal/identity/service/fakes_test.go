package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"identity-provisioning/internal/events"
	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/domain"
	"identity-provisioning/internal/identity/repository"
	"identity-provisioning/internal/idp"
	"identity-provisioning/internal/policy"
)

// memStore is an in-memory repository with the same uniqueness rules as the identities table.
type memStore struct {
	mu        sync.Mutex
	byID      map[string]*domain.Identity
	createErr error
	updateErr error
	deleteErr error
	// beforeCreate runs outside the lock before each insert.
	beforeCreate func()
	creates      int
	updates      int
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]*domain.Identity)}
}

func (m *memStore) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Clone(), nil
}

func (m *memStore) GetByUsername(_ context.Context, username string) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.byID {
		if i.Username == username {
			return i.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memStore) GetByEmail(_ context.Context, email string) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.byID {
		if i.Email == email {
			return i.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memStore) List(_ context.Context, role *domain.RoleTag) ([]*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Identity
	for _, i := range m.byID {
		if role == nil || i.Role == *role {
			out = append(out, i.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (m *memStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	i, _ := m.GetByUsername(ctx, username)
	return i != nil, nil
}

func (m *memStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	i, _ := m.GetByEmail(ctx, email)
	return i != nil, nil
}

func (m *memStore) Create(_ context.Context, i *domain.Identity) error {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return m.createErr
	}
	if err := m.conflictLocked(i); err != nil {
		return err
	}
	m.byID[i.ID] = i.Clone()
	return nil
}

func (m *memStore) Update(_ context.Context, i *domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.updateErr != nil {
		return m.updateErr
	}
	old, ok := m.byID[i.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if err := m.conflictLocked(i); err != nil {
		return err
	}
	c := i.Clone()
	c.RemoteID = old.RemoteID
	c.CreatedAt = old.CreatedAt
	m.byID[i.ID] = c
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memStore) conflictLocked(i *domain.Identity) error {
	for id, o := range m.byID {
		if id == i.ID {
			continue
		}
		if o.Username == i.Username || o.Email == i.Email || (i.RemoteID != "" && o.RemoteID == i.RemoteID) {
			return fmt.Errorf("%w: identities_username_key", repository.ErrDuplicate)
		}
	}
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// fakeGateway keeps remote identities in memory and records every call.
type fakeGateway struct {
	mu sync.Mutex

	nextID  int
	remote  map[string]*domain.Identity // by remote id
	roles   map[string]domain.RoleTag
	groups  map[string]domain.RoleTag
	pass    map[string]string
	calls   []string
	deleted []string

	createErr   error
	updateErr   error
	passwordErr error
	deleteErr   error
	roleErr     error
	loginErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		remote: make(map[string]*domain.Identity),
		roles:  make(map[string]domain.RoleTag),
		groups: make(map[string]domain.RoleTag),
		pass:   make(map[string]string),
	}
}

func (g *fakeGateway) record(call string) {
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) CreateRemoteIdentity(_ context.Context, candidate *domain.Identity, password string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("create")
	if g.createErr != nil {
		return "", g.createErr
	}
	g.nextID++
	id := fmt.Sprintf("kc-%d", g.nextID)
	g.remote[id] = candidate.Clone()
	g.pass[id] = password
	return id, nil
}

func (g *fakeGateway) UpdateRemoteIdentity(_ context.Context, i *domain.Identity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("update")
	if g.updateErr != nil {
		return g.updateErr
	}
	if _, ok := g.remote[i.RemoteID]; !ok {
		return idp.ErrNotFound
	}
	g.remote[i.RemoteID] = i.Clone()
	return nil
}

func (g *fakeGateway) SetRemotePassword(_ context.Context, remoteID, plaintext string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("password")
	if g.passwordErr != nil {
		return g.passwordErr
	}
	g.pass[remoteID] = plaintext
	return nil
}

func (g *fakeGateway) AssignRole(_ context.Context, remoteID string, tag domain.RoleTag) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("role")
	if g.roleErr != nil {
		return g.roleErr
	}
	g.roles[remoteID] = tag
	return nil
}

func (g *fakeGateway) AssignGroup(_ context.Context, remoteID string, tag domain.RoleTag) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("group")
	g.groups[remoteID] = tag
	return nil
}

func (g *fakeGateway) DeleteRemoteIdentity(ctx context.Context, remoteID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("delete")
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.deleteErr != nil {
		return g.deleteErr
	}
	if _, ok := g.remote[remoteID]; !ok {
		return fmt.Errorf("delete %s: %w", remoteID, idp.ErrNotFound)
	}
	delete(g.remote, remoteID)
	g.deleted = append(g.deleted, remoteID)
	return nil
}

func (g *fakeGateway) Login(_ context.Context, username, password string) (*idp.TokenPair, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("login")
	if g.loginErr != nil {
		return nil, g.loginErr
	}
	for id, i := range g.remote {
		if i.Username == username && g.pass[id] == password {
			return &idp.TokenPair{AccessToken: "access-" + username, RefreshToken: "refresh-" + username, TokenType: "Bearer", ExpiresIn: 300}, nil
		}
	}
	return nil, apperrors.Wrap(apperrors.KindAuthentication, "invalid username or password", idp.ErrInvalidGrant)
}

func (g *fakeGateway) Refresh(_ context.Context, refreshToken string) (*idp.TokenPair, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("refresh")
	if !strings.HasPrefix(refreshToken, "refresh-") {
		return nil, apperrors.Wrap(apperrors.KindAuthentication, "refresh token is invalid or expired", idp.ErrInvalidGrant)
	}
	return &idp.TokenPair{AccessToken: "access-2", RefreshToken: refreshToken, TokenType: "Bearer"}, nil
}

func (g *fakeGateway) ListRealmRoles(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("roles")
	return []string{"author", "plain"}, nil
}

func (g *fakeGateway) callCount(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (g *fakeGateway) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) remoteCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.remote)
}

type plainEncoder struct{}

func (plainEncoder) Encode(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty")
	}
	return "hash:" + p, nil
}

func (plainEncoder) Matches(p, hash string) bool { return hash == "hash:"+p }

type warningRecorder struct {
	mu       sync.Mutex
	warnings []domain.ConsistencyWarning
}

func (r *warningRecorder) RecordWarning(_ context.Context, w domain.ConsistencyWarning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, w)
}

func (r *warningRecorder) all() []domain.ConsistencyWarning {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConsistencyWarning(nil), r.warnings...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *eventRecorder) Emit(_ context.Context, ev *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) Close() error { return nil }

func (r *eventRecorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	svc      *ProvisioningService
	store    *memStore
	gateway  *fakeGateway
	warnings *warningRecorder
	events   *eventRecorder
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	evaluator, err := policy.NewOPAEvaluator(context.Background(), "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	h := &harness{
		store:    newMemStore(),
		gateway:  newFakeGateway(),
		warnings: &warningRecorder{},
		events:   &eventRecorder{},
	}
	var seq int
	var seqMu sync.Mutex
	svc, err := New(Deps{
		Store:    h.store,
		Gateway:  h.gateway,
		Encoder:  plainEncoder{},
		Roles:    evaluator,
		Events:   h.events,
		Warnings: h.warnings,
		Now:      func() time.Time { return fixedNow },
		NewID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
		CompensationTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.svc = svc
	return h
}

// register is a helper that fails the test if registration fails.
func (h *harness) register(t *testing.T, req RegisterRequest) *Result {
	t.Helper()
	res, err := h.svc.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("Register(%q): %v", req.Username, err)
	}
	return res
}

func aliceRequest() RegisterRequest {
	return RegisterRequest{Username: "alice", Email: "alice@x.com", Password: "Str0ng!1"}
}
