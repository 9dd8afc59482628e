package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/repomux/internal/access"
	"github.com/p-blackswan/repomux/internal/archive"
	rerrors "github.com/p-blackswan/repomux/internal/errors"
	"github.com/p-blackswan/repomux/internal/health"
	"github.com/p-blackswan/repomux/internal/registry"
	"github.com/p-blackswan/repomux/internal/router"
	"github.com/p-blackswan/repomux/internal/session"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	router    *router.Router
	reg       *registry.Registry
	sessions  *session.Manager
	arch      *archive.Archive
	checker   *health.Checker
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	rt *router.Router,
	reg *registry.Registry,
	sessions *session.Manager,
	arch *archive.Archive,
	checker *health.Checker,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		router:    rt,
		reg:       reg,
		sessions:  sessions,
		arch:      arch,
		checker:   checker,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())
	ready := true
	for _, s := range results {
		if s == health.StatusDown {
			ready = false
			break
		}
	}
	status := fiber.StatusOK
	state := "ready"
	if !ready {
		status = fiber.StatusServiceUnavailable
		state = "not_ready"
	}
	return c.Status(status).JSON(fiber.Map{"status": state, "checks": results})
}

// SubmitInstructionRequest is the body of POST /api/v1/instructions.
type SubmitInstructionRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// SubmitInstruction handles POST /api/v1/instructions: the text goes
// through the full routing pipeline and the outcome comes back with an
// HTTP status reflecting its error code.
func (h *Handlers) SubmitInstruction(c *fiber.Ctx) error {
	var req SubmitInstructionRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.UserID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_user_id", "Bad Request",
			"user_id is required")
	}
	if req.Text == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_text", "Bad Request",
			"text is required")
	}

	o := h.router.Handle(c.Context(), req.UserID, req.Text)
	return c.Status(statusForCode(o.ErrorCode)).JSON(o)
}

// statusForCode maps outcome error codes onto HTTP statuses. The body
// is always the full outcome; the status is a summary for clients that
// only look at headers.
func statusForCode(code string) int {
	switch code {
	case "":
		return fiber.StatusOK
	case "access_denied":
		return fiber.StatusForbidden
	case "repo_not_found", "no_active_repo":
		return fiber.StatusNotFound
	case "duplicate_name":
		return fiber.StatusConflict
	case "invalid_path":
		return fiber.StatusUnprocessableEntity
	case "git_fatal", "git_exhausted", "agent_timeout", "agent_failed":
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// GetSession handles GET /api/v1/sessions/:user.
func (h *Handlers) GetSession(c *fiber.Ctx) error {
	s := h.sessions.Get(c.Params("user"))
	return c.JSON(fiber.Map{
		"user_id":     s.UserID,
		"active_repo": s.ActiveRepo(),
		"history":     s.History(),
		"log":         s.Log(),
	})
}

// ResetSession handles POST /api/v1/sessions/:user/reset.
func (h *Handlers) ResetSession(c *fiber.Ctx) error {
	h.sessions.Reset(c.Params("user"))
	return c.JSON(fiber.Map{"status": "reset"})
}

// ListRepos handles GET /api/v1/repos. An optional ?user= filters to
// repositories the user can read.
func (h *Handlers) ListRepos(c *fiber.Ctx) error {
	repos := h.reg.List(c.Query("user"))
	return c.JSON(fiber.Map{
		"repositories": repos,
		"default":      h.reg.DefaultName(),
	})
}

// RegisterRepoRequest is the body of POST /api/v1/repos.
type RegisterRepoRequest struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	RemoteURL   string `json:"remote_url"`
	Description string `json:"description"`
	Grantee     string `json:"grantee"`
}

// RegisterRepo handles POST /api/v1/repos.
func (h *Handlers) RegisterRepo(c *fiber.Ctx) error {
	var req RegisterRepoRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Name == "" || req.Path == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request",
			"name and path are required")
	}

	repo, err := h.reg.Register(req.Name, req.Path, registry.RegisterOptions{
		RemoteURL:   req.RemoteURL,
		Description: req.Description,
		Grantee:     req.Grantee,
	})
	if err != nil {
		return registryProblem(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(repo)
}

// RepoDetail is the GET /repos/:name response: the catalog record plus
// a live working-tree snapshot.
type RepoDetail struct {
	Repository *registry.Repository `json:"repository"`
	Stats      *registry.Stats      `json:"stats,omitempty"`
}

// GetRepo handles GET /api/v1/repos/:name.
func (h *Handlers) GetRepo(c *fiber.Ctx) error {
	repo, err := h.reg.Get(c.Params("name"))
	if err != nil {
		return registryProblem(c, err)
	}
	stats, err := h.reg.Stats(repo.Name)
	if err != nil {
		h.logger.Warn().Err(err).Str("repo", repo.Name).Msg("working-tree stats unavailable")
	}
	return c.JSON(RepoDetail{Repository: repo, Stats: stats})
}

// UnregisterRepo handles DELETE /api/v1/repos/:name. ?force=true skips
// the dirty-tree safety check; ?strict=true makes unknown names an
// error.
func (h *Handlers) UnregisterRepo(c *fiber.Ctx) error {
	err := h.reg.Unregister(c.Params("name"), registry.UnregisterOptions{
		Force:  c.QueryBool("force"),
		Strict: c.QueryBool("strict"),
	})
	if err != nil {
		return registryProblem(c, err)
	}
	return c.JSON(fiber.Map{"status": "unregistered"})
}

// SetDefaultRepo handles PUT /api/v1/repos/:name/default.
func (h *Handlers) SetDefaultRepo(c *fiber.Ctx) error {
	if err := h.reg.SetDefault(c.Params("name")); err != nil {
		return registryProblem(c, err)
	}
	return c.JSON(fiber.Map{"status": "default_set", "default": c.Params("name")})
}

// GrantRequest is the body of POST /api/v1/repos/:name/access.
type GrantRequest struct {
	User        string   `json:"user"`
	Permissions []string `json:"permissions"`
}

// GrantAccess handles POST /api/v1/repos/:name/access. The grant set
// replaces whatever the user held before.
func (h *Handlers) GrantAccess(c *fiber.Ctx) error {
	var req GrantRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.User == "" || len(req.Permissions) == 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request",
			"user and permissions are required")
	}

	perms := make([]access.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		perm := access.Permission(p)
		if !access.Valid(perm) {
			return problemResponse(c, fiber.StatusUnprocessableEntity,
				"invalid_permission", "Unprocessable Entity",
				"Unknown permission: "+p)
		}
		perms = append(perms, perm)
	}

	if err := h.reg.Grant(c.Params("name"), req.User, perms...); err != nil {
		return registryProblem(c, err)
	}
	return c.JSON(fiber.Map{"status": "granted"})
}

// RevokeAccess handles DELETE /api/v1/repos/:name/access/:user.
func (h *Handlers) RevokeAccess(c *fiber.Ctx) error {
	if err := h.reg.Revoke(c.Params("name"), c.Params("user")); err != nil {
		return registryProblem(c, err)
	}
	return c.JSON(fiber.Map{"status": "revoked"})
}

// ValidateRepos handles GET /api/v1/repos/validate.
func (h *Handlers) ValidateRepos(c *fiber.Ctx) error {
	issues := h.reg.Validate()
	if issues == nil {
		issues = []registry.ValidationIssue{}
	}
	return c.JSON(fiber.Map{"issues": issues})
}

// ListOutcomes handles GET /api/v1/outcomes. ?user= filters by user,
// ?limit= caps the count.
func (h *Handlers) ListOutcomes(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	outcomes, err := h.arch.ListRecent(c.Query("user"), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list outcomes")
		return problemResponse(c, fiber.StatusInternalServerError,
			"archive_error", "Internal Server Error",
			"Could not read outcomes")
	}
	if outcomes == nil {
		outcomes = []*archive.Outcome{}
	}
	return c.JSON(fiber.Map{"outcomes": outcomes})
}

// GetOutcome handles GET /api/v1/outcomes/:id.
func (h *Handlers) GetOutcome(c *fiber.Ctx) error {
	o, err := h.arch.Get(c.Params("id"))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get outcome")
		return problemResponse(c, fiber.StatusInternalServerError,
			"archive_error", "Internal Server Error",
			"Could not read outcome")
	}
	if o == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"outcome_not_found", "Not Found",
			"No outcome with that id")
	}
	return c.JSON(o)
}

// registryProblem maps registry errors onto problem responses.
func registryProblem(c *fiber.Ctx, err error) error {
	code := rerrors.Code(err)
	switch {
	case errors.Is(err, rerrors.ErrRepoNotFound):
		return problemResponse(c, fiber.StatusNotFound, code, "Not Found", err.Error())
	case errors.Is(err, rerrors.ErrDuplicateName):
		return problemResponse(c, fiber.StatusConflict, code, "Conflict", err.Error())
	case errors.Is(err, rerrors.ErrUnsafeUnregister):
		return problemResponse(c, fiber.StatusConflict, code, "Conflict", err.Error())
	case errors.Is(err, rerrors.ErrInvalidPath):
		return problemResponse(c, fiber.StatusUnprocessableEntity, code, "Unprocessable Entity", err.Error())
	default:
		return problemResponse(c, fiber.StatusInternalServerError, code, "Internal Server Error", err.Error())
	}
}
