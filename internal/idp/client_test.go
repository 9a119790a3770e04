package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "identity-provisioning/internal/errors"
	"identity-provisioning/internal/identity/domain"
)

// fakeIDP is an in-memory stand-in for the admin REST API and token endpoints.
type fakeIDP struct {
	mu sync.Mutex

	tokenCalls   int
	tokenDelay   time.Duration
	validToken   string
	createCalls  int
	createStatus []int // statuses returned (without creating) before normal handling
	dropCreate   int   // creates the user but answers 502
	rejectPolicy bool

	users        map[string]userRepresentation // by id
	roleMappings map[string]map[string]bool    // user id -> role names
	groupMembers map[string]map[string]bool    // user id -> group ids
	roles        []string
	groups       map[string]string // name -> id
}

func newFakeIDP() *fakeIDP {
	return &fakeIDP{
		users:        map[string]userRepresentation{},
		roleMappings: map[string]map[string]bool{},
		groupMembers: map[string]map[string]bool{},
		roles:        []string{"PLAIN", "AUTHOR", "offline_access"},
		groups:       map[string]string{"Members": "g-members", "Authors": "g-authors"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeIDP) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/master/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("username") != "admin" || r.Form.Get("password") != "admin-pass" || r.Form.Get("client_id") != "admin-cli" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
		f.mu.Lock()
		delay := f.tokenDelay
		f.mu.Unlock()
		time.Sleep(delay)
		f.mu.Lock()
		f.tokenCalls++
		f.validToken = fmt.Sprintf("admin-token-%d", f.tokenCalls)
		tok := f.validToken
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"access_token": tok, "token_type": "Bearer", "expires_in": 300})
	})
	mux.HandleFunc("POST /realms/blog/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("client_id") != "blog-app" || r.Form.Get("client_secret") != "blog-secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized_client"})
			return
		}
		ok := false
		switch r.Form.Get("grant_type") {
		case "password":
			ok = r.Form.Get("username") == "alice" && r.Form.Get("password") == "Str0ng!1"
		case "refresh_token":
			ok = r.Form.Get("refresh_token") == "refresh-1"
		}
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid user credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "user-access", "refresh_token": "refresh-2", "token_type": "Bearer",
			"expires_in": 300, "refresh_expires_in": 1800,
		})
	})

	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/realms/blog/users", f.createUser)
	admin.HandleFunc("GET /admin/realms/blog/users", func(w http.ResponseWriter, r *http.Request) {
		username := r.URL.Query().Get("username")
		out := []userRepresentation{}
		for _, u := range f.users {
			if u.Username == username {
				out = append(out, u)
			}
		}
		writeJSON(w, http.StatusOK, out)
	})
	admin.HandleFunc("PUT /admin/realms/blog/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		u, ok := f.users[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
			return
		}
		var in userRepresentation
		_ = json.NewDecoder(r.Body).Decode(&in)
		u.Email, u.FirstName, u.LastName, u.Enabled = in.Email, in.FirstName, in.LastName, in.Enabled
		f.users[u.ID] = u
		w.WriteHeader(http.StatusNoContent)
	})
	admin.HandleFunc("PUT /admin/realms/blog/users/{id}/reset-password", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := f.users[r.PathValue("id")]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
			return
		}
		if f.rejectPolicy {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalidPasswordMinLengthMessage", "error_description": "Invalid password: minimum length 12."})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	admin.HandleFunc("DELETE /admin/realms/blog/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, ok := f.users[id]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
			return
		}
		delete(f.users, id)
		w.WriteHeader(http.StatusNoContent)
	})
	admin.HandleFunc("GET /admin/realms/blog/roles", func(w http.ResponseWriter, r *http.Request) {
		out := []roleRepresentation{}
		for _, name := range f.roles {
			out = append(out, roleRepresentation{ID: "r-" + name, Name: name})
		}
		writeJSON(w, http.StatusOK, out)
	})
	admin.HandleFunc("GET /admin/realms/blog/roles/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		for _, n := range f.roles {
			if n == name {
				writeJSON(w, http.StatusOK, roleRepresentation{ID: "r-" + name, Name: name})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find role"})
	})
	admin.HandleFunc("/admin/realms/blog/users/{id}/role-mappings/realm", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var in []roleRepresentation
		_ = json.NewDecoder(r.Body).Decode(&in)
		if f.roleMappings[id] == nil {
			f.roleMappings[id] = map[string]bool{}
		}
		for _, role := range in {
			switch r.Method {
			case http.MethodPost:
				f.roleMappings[id][role.Name] = true
			case http.MethodDelete:
				delete(f.roleMappings[id], role.Name)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	admin.HandleFunc("GET /admin/realms/blog/groups", func(w http.ResponseWriter, r *http.Request) {
		search := r.URL.Query().Get("search")
		out := []groupRepresentation{}
		for name, id := range f.groups {
			if strings.Contains(name, search) {
				out = append(out, groupRepresentation{ID: id, Name: name, Path: "/" + name})
			}
		}
		writeJSON(w, http.StatusOK, out)
	})
	admin.HandleFunc("/admin/realms/blog/users/{id}/groups/{gid}", func(w http.ResponseWriter, r *http.Request) {
		id, gid := r.PathValue("id"), r.PathValue("gid")
		if f.groupMembers[id] == nil {
			f.groupMembers[id] = map[string]bool{}
		}
		switch r.Method {
		case http.MethodPut:
			f.groupMembers[id][gid] = true
		case http.MethodDelete:
			delete(f.groupMembers[id], gid)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/admin/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+f.validToken || f.validToken == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "HTTP 401 Unauthorized"})
			return
		}
		admin.ServeHTTP(w, r)
	})
	return mux
}

// createUser runs with f.mu held.
func (f *fakeIDP) createUser(w http.ResponseWriter, r *http.Request) {
	f.createCalls++
	if len(f.createStatus) > 0 {
		status := f.createStatus[0]
		f.createStatus = f.createStatus[1:]
		writeJSON(w, status, map[string]string{"errorMessage": "unavailable"})
		return
	}
	var in userRepresentation
	_ = json.NewDecoder(r.Body).Decode(&in)
	if len(in.Credentials) > 0 && len(in.Credentials[0].Value) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "Password policy not met"})
		return
	}
	for _, u := range f.users {
		if u.Username == in.Username || u.Email == in.Email {
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
			return
		}
	}
	in.ID = "kc-" + in.Username
	in.Credentials = nil
	f.users[in.ID] = in
	if f.dropCreate > 0 {
		f.dropCreate--
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	w.Header().Set("Location", "http://"+r.Host+"/admin/realms/blog/users/"+in.ID)
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeIDP) revokeAdminToken() {
	f.mu.Lock()
	f.validToken = "rotated"
	f.mu.Unlock()
}

func newTestClient(t *testing.T, f *fakeIDP, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	cfg := Config{
		BaseURL:       srv.URL + "/",
		Realm:         "blog",
		AdminUsername: "admin",
		AdminPassword: "admin-pass",
		ClientID:      "blog-app",
		ClientSecret:  "blog-secret",
		Timeout:       2 * time.Second,
		MaxRetries:    3,
	}
	opts = append([]Option{
		WithHTTPClient(srv.Client()),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}, opts...)
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func candidate(username string) *domain.Identity {
	return &domain.Identity{ID: "local-" + username, Username: username, Email: username + "@x.com", Role: domain.RolePlain, Active: true}
}

func TestNew_RequiresBaseURLAndRealm(t *testing.T) {
	if _, err := New(Config{Realm: "blog"}); err == nil {
		t.Error("New without base URL should fail")
	}
	if _, err := New(Config{BaseURL: "http://idp"}); err == nil {
		t.Error("New without realm should fail")
	}
}

func TestCreateRemoteIdentity_ReturnsIDAndCachesToken(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)
	ctx := context.Background()

	id, err := c.CreateRemoteIdentity(ctx, candidate("alice"), "Str0ng!1")
	if err != nil {
		t.Fatalf("CreateRemoteIdentity: %v", err)
	}
	if id != "kc-alice" {
		t.Errorf("id = %q, want kc-alice", id)
	}
	if _, err := c.CreateRemoteIdentity(ctx, candidate("bob"), "Str0ng!1"); err != nil {
		t.Fatalf("CreateRemoteIdentity bob: %v", err)
	}
	if f.tokenCalls != 1 {
		t.Errorf("tokenCalls = %d, want 1 (token cached across calls)", f.tokenCalls)
	}
}

func TestCreateRemoteIdentity_PasswordPolicy(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)

	_, err := c.CreateRemoteIdentity(context.Background(), candidate("alice"), "short")
	if !apperrors.IsKind(err, apperrors.KindCredentialPolicyRejected) {
		t.Fatalf("err = %v, want CREDENTIAL_POLICY_REJECTED", err)
	}
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Error("err should wrap ErrPasswordPolicy")
	}
	if got := apperrors.SafeMessage(err); got != apperrors.CredentialPolicyMessage {
		t.Errorf("SafeMessage = %q, want fixed guidance", got)
	}
	if strings.Contains(apperrors.SafeMessage(err), "Password policy not met") {
		t.Error("provider text must not reach callers")
	}
}

func TestCreateRemoteIdentity_Conflict(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)
	ctx := context.Background()
	if _, err := c.CreateRemoteIdentity(ctx, candidate("alice"), "Str0ng!1"); err != nil {
		t.Fatal(err)
	}

	_, err := c.CreateRemoteIdentity(ctx, candidate("alice"), "Str0ng!1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if !apperrors.IsKind(err, apperrors.KindRemoteProvisioning) {
		t.Errorf("kind = %s, want REMOTE_PROVISIONING", apperrors.KindOf(err))
	}
}

func TestCreateRemoteIdentity_LostResponseResolvesExistingID(t *testing.T) {
	f := newFakeIDP()
	f.dropCreate = 1
	c, _ := newTestClient(t, f)

	id, err := c.CreateRemoteIdentity(context.Background(), candidate("alice"), "Str0ng!1")
	if err != nil {
		t.Fatalf("CreateRemoteIdentity: %v", err)
	}
	if id != "kc-alice" {
		t.Errorf("id = %q, want kc-alice", id)
	}
	if f.createCalls != 2 {
		t.Errorf("createCalls = %d, want 2", f.createCalls)
	}
	if len(f.users) != 1 {
		t.Errorf("remote users = %d, want exactly 1", len(f.users))
	}
}

func TestCreateRemoteIdentity_TagsLocalID(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)

	id, err := c.CreateRemoteIdentity(context.Background(), candidate("alice"), "Str0ng!1")
	if err != nil {
		t.Fatal(err)
	}
	if got := f.users[id].Attributes[localIDAttribute]; len(got) != 1 || got[0] != "local-alice" {
		t.Errorf("local_id attribute = %v, want [local-alice]", got)
	}
}

func TestCreateRemoteIdentity_ConflictAfterRetryWithForeignUser(t *testing.T) {
	tests := []struct {
		name     string
		existing userRepresentation
	}{
		{
			name:     "same username, other owner",
			existing: userRepresentation{ID: "kc-alice", Username: "alice", Email: "alice@winner.com"},
		},
		{
			name: "same username and email, other local id",
			existing: userRepresentation{
				ID: "kc-alice", Username: "alice", Email: "alice@x.com",
				Attributes: map[string][]string{localIDAttribute: {"local-other"}},
			},
		},
		{
			name:     "same email only",
			existing: userRepresentation{ID: "kc-alicia", Username: "alicia", Email: "alice@x.com"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeIDP()
			f.users[tt.existing.ID] = tt.existing
			f.createStatus = []int{http.StatusServiceUnavailable}
			c, _ := newTestClient(t, f)

			id, err := c.CreateRemoteIdentity(context.Background(), candidate("alice"), "Str0ng!1")
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("id = %q err = %v, want ErrConflict", id, err)
			}
			if !apperrors.IsKind(err, apperrors.KindRemoteProvisioning) {
				t.Errorf("kind = %s, want REMOTE_PROVISIONING", apperrors.KindOf(err))
			}
			if f.createCalls != 2 {
				t.Errorf("createCalls = %d, want 2", f.createCalls)
			}
			if _, ok := f.users[tt.existing.ID]; !ok || len(f.users) != 1 {
				t.Errorf("existing remote user must be untouched, users = %v", f.users)
			}
		})
	}
}

func TestCreateRemoteIdentity_RetriesExhausted(t *testing.T) {
	f := newFakeIDP()
	f.createStatus = []int{500, 503, 500, 500}
	c, _ := newTestClient(t, f)

	_, err := c.CreateRemoteIdentity(context.Background(), candidate("alice"), "Str0ng!1")
	if !apperrors.IsKind(err, apperrors.KindRemoteProvisioning) {
		t.Fatalf("err = %v, want REMOTE_PROVISIONING", err)
	}
	if f.createCalls != 3 {
		t.Errorf("createCalls = %d, want 3 (MaxRetries)", f.createCalls)
	}
}

func TestCreateRemoteIdentity_RetryThenSuccess(t *testing.T) {
	f := newFakeIDP()
	f.createStatus = []int{http.StatusServiceUnavailable}
	c, _ := newTestClient(t, f)

	id, err := c.CreateRemoteIdentity(context.Background(), candidate("alice"), "Str0ng!1")
	if err != nil {
		t.Fatalf("CreateRemoteIdentity: %v", err)
	}
	if id != "kc-alice" || f.createCalls != 2 {
		t.Errorf("id = %q createCalls = %d", id, f.createCalls)
	}
}

func TestDo_RefreshesTokenOn401(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)
	ctx := context.Background()
	if _, err := c.ListRealmRoles(ctx); err != nil {
		t.Fatal(err)
	}
	f.revokeAdminToken()

	if _, err := c.ListRealmRoles(ctx); err != nil {
		t.Fatalf("ListRealmRoles after revoke: %v", err)
	}
	if f.tokenCalls != 2 {
		t.Errorf("tokenCalls = %d, want 2", f.tokenCalls)
	}
}

func TestAdminToken_ExpiresAfterTTL(t *testing.T) {
	f := newFakeIDP()
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	c, _ := newTestClient(t, f, WithClock(clock))
	ctx := context.Background()

	if _, err := c.ListRealmRoles(ctx); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	now = now.Add(61 * time.Second)
	mu.Unlock()
	if _, err := c.ListRealmRoles(ctx); err != nil {
		t.Fatal(err)
	}
	if f.tokenCalls != 2 {
		t.Errorf("tokenCalls = %d, want 2 after TTL elapsed", f.tokenCalls)
	}
}

func TestAdminToken_ConcurrentMissesShareOneFetch(t *testing.T) {
	f := newFakeIDP()
	f.tokenDelay = 50 * time.Millisecond
	c, _ := newTestClient(t, f)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ListRealmRoles(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ListRealmRoles: %v", err)
		}
	}
	if f.tokenCalls != 1 {
		t.Errorf("tokenCalls = %d, want 1", f.tokenCalls)
	}
}

func TestAdminToken_BadCredentials(t *testing.T) {
	f := newFakeIDP()
	srv := httptest.NewServer(f.handler())
	defer srv.Close()
	c, err := New(Config{BaseURL: srv.URL, Realm: "blog", AdminUsername: "admin", AdminPassword: "wrong", MaxRetries: 3},
		WithHTTPClient(srv.Client()), WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.ListRealmRoles(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if !apperrors.IsKind(err, apperrors.KindRemoteProvisioning) {
		t.Errorf("kind = %s", apperrors.KindOf(err))
	}
}

func TestUpdateAndPassword(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)
	ctx := context.Background()
	id, err := c.CreateRemoteIdentity(ctx, candidate("alice"), "Str0ng!1")
	if err != nil {
		t.Fatal(err)
	}

	i := candidate("alice")
	i.RemoteID = id
	i.FirstName = "Alice"
	i.Active = false
	if err := c.UpdateRemoteIdentity(ctx, i); err != nil {
		t.Fatalf("UpdateRemoteIdentity: %v", err)
	}
	if u := f.users[id]; u.FirstName != "Alice" || u.Enabled {
		t.Errorf("remote user = %+v", u)
	}

	if err := c.SetRemotePassword(ctx, id, "N3w!Passw0rd"); err != nil {
		t.Fatalf("SetRemotePassword: %v", err)
	}
	f.rejectPolicy = true
	err = c.SetRemotePassword(ctx, id, "weak")
	if !apperrors.IsKind(err, apperrors.KindCredentialPolicyRejected) {
		t.Errorf("err = %v, want CREDENTIAL_POLICY_REJECTED", err)
	}

	unlinked := candidate("bob")
	if err := c.UpdateRemoteIdentity(ctx, unlinked); !errors.Is(err, ErrNotFound) {
		t.Errorf("update without remote id err = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemoteIdentity(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)
	ctx := context.Background()
	id, _ := c.CreateRemoteIdentity(ctx, candidate("alice"), "Str0ng!1")

	if err := c.DeleteRemoteIdentity(ctx, id); err != nil {
		t.Fatalf("DeleteRemoteIdentity: %v", err)
	}
	err := c.DeleteRemoteIdentity(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestFindByUsername(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)
	ctx := context.Background()
	_, _ = c.CreateRemoteIdentity(ctx, candidate("alice"), "Str0ng!1")

	id, err := c.FindByUsername(ctx, "alice")
	if err != nil || id != "kc-alice" {
		t.Errorf("FindByUsername = %q, %v", id, err)
	}
	if _, err := c.FindByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByUsername(nobody) err = %v, want ErrNotFound", err)
	}
}

func TestAssignRoleAndGroup_SwapsManagedMapping(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)
	ctx := context.Background()
	id, _ := c.CreateRemoteIdentity(ctx, candidate("alice"), "Str0ng!1")

	if err := c.AssignRole(ctx, id, domain.RolePlain); err != nil {
		t.Fatal(err)
	}
	if err := c.AssignRole(ctx, id, domain.RoleAuthor); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if !f.roleMappings[id]["AUTHOR"] || f.roleMappings[id]["PLAIN"] {
		t.Errorf("role mappings = %v, want only AUTHOR", f.roleMappings[id])
	}

	if err := c.AssignGroup(ctx, id, domain.RolePlain); err != nil {
		t.Fatal(err)
	}
	if err := c.AssignGroup(ctx, id, domain.RoleAuthor); err != nil {
		t.Fatalf("AssignGroup: %v", err)
	}
	if !f.groupMembers[id]["g-authors"] || f.groupMembers[id]["g-members"] {
		t.Errorf("groups = %v, want only g-authors", f.groupMembers[id])
	}
}

func TestAssignRole_UnknownRemoteRole(t *testing.T) {
	f := newFakeIDP()
	f.roles = []string{"PLAIN"}
	c, _ := newTestClient(t, f)

	err := c.AssignRole(context.Background(), "kc-alice", domain.RoleAuthor)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListRealmRoles(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)

	got, err := c.ListRealmRoles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := append([]string(nil), f.roles...)
	sort.Strings(want)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("roles = %v, want %v", got, want)
	}
}

func TestLoginAndRefresh(t *testing.T) {
	f := newFakeIDP()
	c, _ := newTestClient(t, f)
	ctx := context.Background()

	pair, err := c.Login(ctx, "alice", "Str0ng!1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken != "user-access" || pair.RefreshToken != "refresh-2" || pair.TokenType != "Bearer" {
		t.Errorf("pair = %+v", pair)
	}
	if pair.ExpiresIn < 295 || pair.ExpiresIn > 300 {
		t.Errorf("ExpiresIn = %d, want ~300", pair.ExpiresIn)
	}
	if pair.RefreshExpiresIn != 1800 {
		t.Errorf("RefreshExpiresIn = %d, want 1800", pair.RefreshExpiresIn)
	}

	_, err = c.Login(ctx, "alice", "wrong")
	if !apperrors.IsKind(err, apperrors.KindAuthentication) || !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("Login wrong password err = %v, want AUTHENTICATION", err)
	}

	if _, err := c.Refresh(ctx, "refresh-1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := c.Refresh(ctx, "stale"); !apperrors.IsKind(err, apperrors.KindAuthentication) {
		t.Errorf("Refresh stale err = %v, want AUTHENTICATION", err)
	}
}

func TestUnreachable(t *testing.T) {
	f := newFakeIDP()
	c, srv := newTestClient(t, f)
	srv.Close()

	_, err := c.CreateRemoteIdentity(context.Background(), candidate("alice"), "Str0ng!1")
	if !apperrors.IsKind(err, apperrors.KindRemoteProvisioning) {
		t.Fatalf("err = %v, want REMOTE_PROVISIONING", err)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		limit  time.Duration
		want   int
		ok     bool
	}{
		{"3", 5 * time.Second, 3, true},
		{"600", 5 * time.Second, 5, true},
		{"600", 1500 * time.Millisecond, 2, true},
		{" 2 ", 0, 2, true},
		{"", 5 * time.Second, 0, false},
		{"0", 5 * time.Second, 0, false},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 5 * time.Second, 0, false},
	}
	for _, tt := range tests {
		got, ok := retryAfter(tt.header, tt.limit)
		if got != tt.want || ok != tt.ok {
			t.Errorf("retryAfter(%q, %v) = %d, %v, want %d, %v", tt.header, tt.limit, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIDFromLocation(t *testing.T) {
	cases := map[string]string{
		"http://idp/admin/realms/blog/users/abc-123": "abc-123",
		"/admin/realms/blog/users/abc-123/":          "abc-123",
		"":                                           "",
		"http://idp/admin/realms/blog/users":         "",
	}
	for in, want := range cases {
		if got := idFromLocation(in); got != want {
			t.Errorf("idFromLocation(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsPasswordPolicy(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{`{"errorMessage":"Password policy not met"}`, true},
		{`{"error":"invalidPasswordMinLengthMessage","error_description":"Invalid password: minimum length 8."}`, true},
		{`{"errorMessage":"User exists with same username"}`, false},
		{`not json`, false},
	}
	for _, tc := range cases {
		if got := isPasswordPolicy([]byte(tc.body)); got != tc.want {
			t.Errorf("isPasswordPolicy(%s) = %v, want %v", tc.body, got, tc.want)
		}
	}
}
