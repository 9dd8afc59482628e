package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/repomux/internal/archive"
	"github.com/p-blackswan/repomux/internal/execctx"
	"github.com/p-blackswan/repomux/internal/gitops"
	"github.com/p-blackswan/repomux/internal/health"
	"github.com/p-blackswan/repomux/internal/registry"
	"github.com/p-blackswan/repomux/internal/router"
	"github.com/p-blackswan/repomux/internal/session"
)

// deadGit fails every git command; API tests exercise routing and
// administration, not working-tree operations.
type deadGit struct{}

func (deadGit) Run(context.Context, string, ...string) (string, string, error) {
	return "", "", fmt.Errorf("no git in api tests")
}

type testEnv struct {
	app *fiber.App
	reg *registry.Registry
	key string
}

func newTestEnv(t *testing.T, authMode string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	reg, err := registry.New(filepath.Join(dir, "repositories.json"), zerolog.Nop())
	require.NoError(t, err)

	arch, err := archive.New(filepath.Join(dir, "outcomes.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { arch.Close() })

	sessions := session.NewManager(reg, 5, 20, zerolog.Nop())
	engine := gitops.New("sms", time.Second, zerolog.Nop(), gitops.WithRunner(deadGit{}))
	rt := router.New(reg, sessions, engine, nil, execctx.New(zerolog.Nop()), arch, nil, zerolog.Nop())

	checker := health.NewChecker(zerolog.Nop())
	checker.Register("registry", health.RegistryCheck(reg))

	h := NewHandlers(rt, reg, sessions, arch, checker, zerolog.Nop())
	srv := NewServer(ServerConfig{
		AuthConfig: AuthConfig{Mode: authMode, APIKey: "test-secret-key"},
	}, h, zerolog.Nop())

	return &testEnv{app: srv.App(), reg: reg, key: "test-secret-key"}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+e.key)

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func makeWorkTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	return dir
}

func TestAuth_Modes(t *testing.T) {
	e := newTestEnv(t, "api-key")

	req, _ := http.NewRequest("GET", "/api/v1/repos", nil)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	problem := decode[ProblemDetail](t, resp)
	assert.Equal(t, "missing_auth", problem.Type)

	req, _ = http.NewRequest("GET", "/api/v1/repos", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	resp, err = e.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest("GET", "/api/v1/repos", nil)
	req.Header.Set("Authorization", "Basic dGVzdDp0ZXN0")
	resp, err = e.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.request(t, "GET", "/api/v1/repos", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_ProbesOpen(t *testing.T) {
	e := newTestEnv(t, "api-key")
	for _, path := range []string{"/healthz", "/readyz"} {
		req, _ := http.NewRequest("GET", path, nil)
		resp, err := e.app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "path: %s", path)
	}
}

func TestAuth_NoneMode(t *testing.T) {
	e := newTestEnv(t, "none")
	req, _ := http.NewRequest("GET", "/api/v1/repos", nil)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRepoLifecycle(t *testing.T) {
	e := newTestEnv(t, "api-key")
	dir := makeWorkTree(t)

	resp := e.request(t, "POST", "/api/v1/repos", RegisterRepoRequest{
		Name: "api", Path: dir, Description: "backend", Grantee: "u1",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Duplicate name.
	resp = e.request(t, "POST", "/api/v1/repos", RegisterRepoRequest{Name: "api", Path: dir})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Relative path.
	resp = e.request(t, "POST", "/api/v1/repos", RegisterRepoRequest{Name: "web", Path: "not/absolute"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = e.request(t, "GET", "/api/v1/repos/api", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[RepoDetail](t, resp)
	assert.Equal(t, dir, detail.Repository.Path)
	assert.Equal(t, "backend", detail.Repository.Description)
	require.NotNil(t, detail.Stats)
	assert.True(t, detail.Stats.Reachable)

	resp = e.request(t, "GET", "/api/v1/repos/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.request(t, "GET", "/api/v1/repos", nil)
	body := decode[map[string]json.RawMessage](t, resp)
	assert.Equal(t, `"api"`, string(body["default"]))

	resp = e.request(t, "DELETE", "/api/v1/repos/api?force=true", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, "DELETE", "/api/v1/repos/api?strict=true", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAccessEndpoints(t *testing.T) {
	e := newTestEnv(t, "api-key")
	dir := makeWorkTree(t)
	e.request(t, "POST", "/api/v1/repos", RegisterRepoRequest{Name: "api", Path: dir})

	resp := e.request(t, "POST", "/api/v1/repos/api/access", GrantRequest{
		User: "u1", Permissions: []string{"read", "write"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, "POST", "/api/v1/repos/api/access", GrantRequest{
		User: "u1", Permissions: []string{"owner"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = e.request(t, "DELETE", "/api/v1/repos/api/access/u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSetDefault(t *testing.T) {
	e := newTestEnv(t, "api-key")
	e.request(t, "POST", "/api/v1/repos", RegisterRepoRequest{Name: "api", Path: makeWorkTree(t)})
	e.request(t, "POST", "/api/v1/repos", RegisterRepoRequest{Name: "web", Path: makeWorkTree(t)})

	resp := e.request(t, "PUT", "/api/v1/repos/web/default", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "web", e.reg.DefaultName())

	resp = e.request(t, "PUT", "/api/v1/repos/nope/default", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestValidateRepos(t *testing.T) {
	e := newTestEnv(t, "api-key")

	resp := e.request(t, "GET", "/api/v1/repos/validate", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string][]registry.ValidationIssue](t, resp)
	assert.Empty(t, body["issues"])
}

func TestSubmitInstruction(t *testing.T) {
	e := newTestEnv(t, "api-key")
	e.request(t, "POST", "/api/v1/repos", RegisterRepoRequest{
		Name: "api", Path: makeWorkTree(t), Grantee: "u1",
	})

	// Validation errors.
	resp := e.request(t, "POST", "/api/v1/instructions", SubmitInstructionRequest{Text: "list repos"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = e.request(t, "POST", "/api/v1/instructions", SubmitInstructionRequest{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A list intent succeeds without touching git.
	resp = e.request(t, "POST", "/api/v1/instructions", SubmitInstructionRequest{UserID: "u1", Text: "list repos"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	o := decode[router.Outcome](t, resp)
	assert.Equal(t, "list_repos", o.IntentKind)
	assert.Contains(t, o.Message, "api")

	// Switching works with read access granted via admin.
	resp = e.request(t, "POST", "/api/v1/instructions", SubmitInstructionRequest{UserID: "u1", Text: "switch to api"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A coding request from a read-only user is rejected before any
	// git or agent work happens.
	e.request(t, "POST", "/api/v1/repos/api/access", GrantRequest{User: "u2", Permissions: []string{"read"}})
	e.request(t, "POST", "/api/v1/instructions", SubmitInstructionRequest{UserID: "u2", Text: "switch to api"})
	resp = e.request(t, "POST", "/api/v1/instructions", SubmitInstructionRequest{UserID: "u2", Text: "refactor the parser"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	o = decode[router.Outcome](t, resp)
	assert.Equal(t, "access_denied", o.ErrorCode)
}

func TestSessionEndpoints(t *testing.T) {
	e := newTestEnv(t, "api-key")
	e.request(t, "POST", "/api/v1/repos", RegisterRepoRequest{
		Name: "api", Path: makeWorkTree(t), Grantee: "u1",
	})
	e.request(t, "POST", "/api/v1/instructions", SubmitInstructionRequest{UserID: "u1", Text: "switch to api"})

	resp := e.request(t, "GET", "/api/v1/sessions/u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]json.RawMessage](t, resp)
	assert.Equal(t, `"api"`, string(body["active_repo"]))

	resp = e.request(t, "POST", "/api/v1/sessions/u1/reset", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, "GET", "/api/v1/sessions/u1", nil)
	body = decode[map[string]json.RawMessage](t, resp)
	assert.Equal(t, `""`, string(body["active_repo"]))
}

func TestOutcomeEndpoints(t *testing.T) {
	e := newTestEnv(t, "api-key")
	e.request(t, "POST", "/api/v1/repos", RegisterRepoRequest{
		Name: "api", Path: makeWorkTree(t), Grantee: "u1",
	})
	resp := e.request(t, "POST", "/api/v1/instructions", SubmitInstructionRequest{UserID: "u1", Text: "list repos"})
	submitted := decode[router.Outcome](t, resp)

	resp = e.request(t, "GET", "/api/v1/outcomes?user=u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string][]*archive.Outcome](t, resp)
	require.Len(t, body["outcomes"], 1)
	assert.Equal(t, submitted.ID, body["outcomes"][0].ID)

	resp = e.request(t, "GET", "/api/v1/outcomes/"+submitted.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.request(t, "GET", "/api/v1/outcomes/missing-id", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
