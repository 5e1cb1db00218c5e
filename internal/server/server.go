package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/automerge"
	"github.com/akitorahayashi/jlo/internal/ledger"
	"github.com/akitorahayashi/jlo/internal/logging"
)

// Store is the ledger surface the API reads from. ledger.Store implements it.
type Store interface {
	ListRuns(ctx context.Context, limit int) ([]ledger.Run, error)
	GetRun(ctx context.Context, id string) (ledger.Run, error)
	EventsAfter(ctx context.Context, cursor int64, limit int) ([]ledger.Event, error)
	RecordAutoMerge(ctx context.Context, runID string, out automerge.Output) error
}

var _ Store = (*ledger.Store)(nil)

// Config for the HTTP API handler.
type Config struct {
	Store    Store
	Forge    automerge.Forge
	BasePath string
	Auth     AuthConfig
	Logger   *zap.SugaredLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"run not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the jlo API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("jlo API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{store: cfg.Store, forge: cfg.Forge, logger: logging.OrNop(cfg.Logger)}
	registerHealth(group)
	h.registerRuns(group)
	h.registerEvents(group)
	h.registerAutoMerge(group)

	return router, nil
}

type handlers struct {
	store  Store
	forge  automerge.Forge
	logger *zap.SugaredLogger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var te apperr.ToolError
	if errors.As(err, &te) {
		return newAPIError(http.StatusBadGateway, "tool_failed", te.Error(), map[string]any{"tool": te.Tool})
	}
	var ve apperr.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", ve.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (h handlers) registerRuns(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List recent runs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body runList `json:"body"`
	}, error) {
		runs, err := h.store.ListRuns(ctx, normalizeLimit(input.Limit, 20, 200))
		if err != nil {
			return nil, handleError(err)
		}
		body := runList{Items: []ledger.Run{}}
		body.Items = append(body.Items, runs...)
		return &struct {
			Body runList `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "Get a run with its items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ledger.Run `json:"body"`
	}, error) {
		run, err := h.store.GetRun(ctx, input.ID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "run not found", map[string]any{"id": input.ID})
			}
			return nil, handleError(err)
		}
		if run.Items == nil {
			run.Items = []ledger.Item{}
		}
		return &struct {
			Body ledger.Run `json:"body"`
		}{Body: run}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List ledger events after a cursor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Cursor int64 `query:"cursor" minimum:"0"`
		Limit  int   `query:"limit" default:"50"`
	}) (*struct {
		Body eventPage `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit, 50, 500)
		items, err := h.store.EventsAfter(ctx, input.Cursor, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		page := eventPage{Items: []ledger.Event{}}
		if len(items) > limit {
			items = items[:limit]
			page.NextCursor = items[limit-1].ID
		}
		page.Items = append(page.Items, items...)
		return &struct {
			Body eventPage `json:"body"`
		}{Body: page}, nil
	})
}

func (h handlers) registerAutoMerge(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "apply-automerge",
		Method:      http.MethodPost,
		Path:        "/pulls/{number}/automerge",
		Summary:     "Evaluate the auto-merge gate for a pull request",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Number int `path:"number" minimum:"1"`
	}) (*struct {
		Body automerge.Output `json:"body"`
	}, error) {
		if h.forge == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "forge_unavailable", "no forge configured", nil)
		}
		out, err := automerge.Apply(ctx, h.forge, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		caller, _ := PrincipalFromContext(ctx)
		h.logger.Infow("auto-merge evaluated", "pr", input.Number, "applied", out.Applied, "by", caller.Subject)
		if err := h.store.RecordAutoMerge(ctx, "", out); err != nil {
			h.logger.Warnw("ledger: record auto-merge failed", "pr", input.Number, "error", err)
		}
		return &struct {
			Body automerge.Output `json:"body"`
		}{Body: out}, nil
	})
}
