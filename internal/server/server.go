package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"auditline/internal/config"
	"auditline/internal/domain"
	"auditline/internal/engine"
	"auditline/internal/engine/auth"
	"auditline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"checklist_incomplete"`
	Message string         `json:"message" example:"checklist has 2 unanswered question(s)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"unanswered\":2}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Auditline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are reported as 400.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Auditline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTemplates(group, cfg.Engine)
	registerAudits(group, cfg.Engine)
	registerChecklists(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Error("request failed", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var incomplete engine.IncompleteChecklistError
	if errors.As(err, &incomplete) {
		return newAPIError(http.StatusUnprocessableEntity, "checklist_incomplete", err.Error(), map[string]any{
			"checklist_id": incomplete.ChecklistID,
			"unanswered":   incomplete.Unanswered,
			"question_ids": nonNilSlice(incomplete.QuestionIDs),
		})
	}
	var confirm engine.ConfirmationRequiredError
	if errors.As(err, &confirm) {
		return newAPIError(http.StatusConflict, "confirmation_required", err.Error(), map[string]any{"checklist_id": confirm.ChecklistID})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrChecklistCompleted):
		return newAPIError(http.StatusConflict, "checklist_completed", err.Error(), nil)
	case errors.Is(err, engine.ErrAuditCompleted):
		return newAPIError(http.StatusConflict, "audit_completed", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
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
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requirePermission(ctx context.Context, e engine.Engine, perm string) (Principal, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if err := e.Auth.Require(ctx, principal.ActorID, principal.Permissions, perm); err != nil {
		return Principal{}, handleError(err)
	}
	return principal, nil
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Auditline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List active checklist templates",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Category string `query:"category" enum:"Network_Security,Access_Control,Data_Protection,Physical_Security,Incident_Response"`
	}) (*struct {
		Body []TemplateResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, config.PermTemplateRead); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListTemplates(ctx, input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]TemplateResponse, 0, len(items))
		for _, t := range items {
			out = append(out, templateResponse(t, nil))
		}
		return &struct {
			Body []TemplateResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}",
		Summary:     "Get template with its questions",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct {
		Body TemplateResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, config.PermTemplateRead); err != nil {
			return nil, err
		}
		t, err := e.Repo.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		questions, err := e.Repo.ListQuestions(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TemplateResponse `json:"body"`
		}{Body: templateResponse(t, questions)}, nil
	})
}

func registerAudits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-audit",
		Method:        http.MethodPost,
		Path:          "/audits",
		Summary:       "Create audit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAuditRequest `json:"body"`
	}) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, err := requirePermission(ctx, e, config.PermAuditCreate)
		if err != nil {
			return nil, err
		}
		a, err := e.CreateAudit(ctx, engine.CreateAuditOptions{
			ID:          strPtrValue(input.Body.ID),
			Name:        input.Body.Name,
			Description: strPtrValue(input.Body.Description),
			ActorID:     principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: auditResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audits",
		Method:      http.MethodGet,
		Path:        "/audits",
		Summary:     "List audits",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"Created,In_Progress,Completed"`
	}) (*struct {
		Body []AuditResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, config.PermAuditRead); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListAudits(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AuditResponse `json:"body"`
		}{Body: mapAudits(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-audit",
		Method:      http.MethodGet,
		Path:        "/audits/{audit_id}",
		Summary:     "Get audit",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AuditID string `path:"audit_id"`
	}) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, config.PermAuditRead); err != nil {
			return nil, err
		}
		a, err := e.Repo.GetAudit(ctx, input.AuditID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: auditResponse(a)}, nil
	})
}

type checklistPath struct {
	AuditID     string `path:"audit_id"`
	ChecklistID string `path:"checklist_id"`
}

func registerChecklists(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-checklist",
		Method:        http.MethodPost,
		Path:          "/audits/{audit_id}/checklists",
		Summary:       "Start a checklist from a template",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		AuditID string                `path:"audit_id"`
		Body    StartChecklistRequest `json:"body"`
	}) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, config.PermChecklistStart)
		if err != nil {
			return nil, err
		}
		c, err := e.StartChecklist(ctx, engine.StartChecklistOptions{
			AuditID:    input.AuditID,
			TemplateID: input.Body.TemplateID,
			ActorID:    principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: checklistResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audit-checklists",
		Method:      http.MethodGet,
		Path:        "/audits/{audit_id}/checklists",
		Summary:     "List the checklists of an audit",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AuditID string `path:"audit_id"`
	}) (*struct {
		Body []ChecklistResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, config.PermChecklistRead); err != nil {
			return nil, err
		}
		items, err := e.ListAuditChecklists(ctx, input.AuditID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ChecklistResponse `json:"body"`
		}{Body: mapChecklists(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-checklist",
		Method:      http.MethodGet,
		Path:        "/audits/{audit_id}/checklists/{checklist_id}",
		Summary:     "Checklist with ordered questions and responses",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *checklistPath) (*struct {
		Body ChecklistDetailResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, config.PermChecklistRead); err != nil {
			return nil, err
		}
		detail, err := e.ChecklistDetail(ctx, input.AuditID, input.ChecklistID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistDetailResponse `json:"body"`
		}{Body: detailResponse(detail)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-checklist",
		Method:      http.MethodDelete,
		Path:        "/audits/{audit_id}/checklists/{checklist_id}",
		Summary:     "Delete a checklist and its responses",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AuditID     string `path:"audit_id"`
		ChecklistID string `path:"checklist_id"`
		Confirm     bool   `query:"confirm" doc:"Required to delete a completed checklist"`
	}) (*struct {
		Body DeleteChecklistResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, config.PermChecklistDelete)
		if err != nil {
			return nil, err
		}
		removed, err := e.DeleteChecklist(ctx, engine.DeleteOptions{
			AuditID:     input.AuditID,
			ChecklistID: input.ChecklistID,
			Confirm:     input.Confirm,
			ActorID:     principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteChecklistResponse `json:"body"`
		}{Body: DeleteChecklistResponse{ChecklistID: input.ChecklistID, DeletedResponses: removed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "answer-question",
		Method:      http.MethodPost,
		Path:        "/audits/{audit_id}/checklists/{checklist_id}/answers",
		Summary:     "Record or overwrite the answer to one question",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		AuditID     string        `path:"audit_id"`
		ChecklistID string        `path:"checklist_id"`
		Body        AnswerRequest `json:"body"`
	}) (*struct {
		Body AnswerResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, err := requirePermission(ctx, e, config.PermChecklistAnswer)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(input.Body.QuestionID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "question_id is required", nil)
		}
		res, err := e.AnswerQuestion(ctx, engine.AnswerOptions{
			AuditID:     input.AuditID,
			ChecklistID: input.ChecklistID,
			QuestionID:  input.Body.QuestionID,
			Answer:      domain.Answer(input.Body.Answer),
			Notes:       strPtrValue(input.Body.Notes),
			ActorID:     principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AnswerResponse `json:"body"`
		}{Body: answerResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-checklist",
		Method:      http.MethodPost,
		Path:        "/audits/{audit_id}/checklists/{checklist_id}/complete",
		Summary:     "Mark a fully answered checklist Completed",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *checklistPath) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, config.PermChecklistComplete)
		if err != nil {
			return nil, err
		}
		c, err := e.CompleteChecklist(ctx, engine.CompleteOptions{
			AuditID:     input.AuditID,
			ChecklistID: input.ChecklistID,
			ActorID:     principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: checklistResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "checklist-summary",
		Method:      http.MethodGet,
		Path:        "/audits/{audit_id}/checklists/{checklist_id}/summary",
		Summary:     "Progress and compliance figures",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *checklistPath) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, config.PermChecklistRead); err != nil {
			return nil, err
		}
		s, err := e.ChecklistSummary(ctx, input.AuditID, input.ChecklistID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: summaryResponse(input.ChecklistID, s)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AuditID    string `query:"audit_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"audit,checklist,template,actor"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, config.PermEventsRead); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, repo.EventFilter{
			AuditID:    input.AuditID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles := principal.Roles
		perms := principal.Permissions
		if len(roles) == 0 {
			stored, err := e.Repo.ActorRoles(ctx, principal.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			roles = stored
		}
		stored, err := e.Repo.ActorPermissions(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		perms = mergeUnique(perms, stored)
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Source:      principal.Source,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
