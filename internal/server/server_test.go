package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"auditline/internal/config"
	"auditline/internal/db"
	"auditline/internal/engine"
	"auditline/internal/engine/auth"
	"auditline/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenMigrated(ctx, db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	if err := e.Bootstrap(ctx, "tester"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{URL: srv.URL, Engine: e, client: srv.Client()}
}

func mintToken(t *testing.T, actorID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func bearer(t *testing.T, actorID string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + mintToken(t, actorID)}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func TestHealthIsPublicAndAPIRequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/templates", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/templates", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, body)
	}
	env := decode[apiError](t, body)
	if env.Body.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %q", env.Body.Code)
	}
}

func TestChecklistLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	h := bearer(t, "tester")
	base := srv.URL + "/v0"

	res, body := doJSON(t, srv.client, http.MethodGet, base+"/templates", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("templates status %d: %s", res.StatusCode, body)
	}
	if templates := decode[[]TemplateResponse](t, body); len(templates) != 5 {
		t.Fatalf("expected 5 templates, got %d", len(templates))
	}

	res, body = doJSON(t, srv.client, http.MethodPost, base+"/audits", map[string]any{"id": "audit-1", "name": "Vault audit"}, h)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create audit status %d: %s", res.StatusCode, body)
	}

	res, body = doJSON(t, srv.client, http.MethodPost, base+"/audits/audit-1/checklists", map[string]any{"template_id": "access-control"}, h)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start checklist status %d: %s", res.StatusCode, body)
	}
	started := decode[ChecklistResponse](t, body)
	if started.TotalQuestions != 8 || started.Status != "In_Progress" {
		t.Fatalf("unexpected checklist %+v", started)
	}
	clURL := base + "/audits/audit-1/checklists/" + started.ID

	res, body = doJSON(t, srv.client, http.MethodGet, clURL, nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detail status %d: %s", res.StatusCode, body)
	}
	detail := decode[ChecklistDetailResponse](t, body)
	if len(detail.Items) != 8 {
		t.Fatalf("expected 8 items, got %d", len(detail.Items))
	}

	answers := []string{"Yes", "Yes", "No", "N/A", "Yes", "Yes", "No"}
	for i, a := range answers {
		res, body = doJSON(t, srv.client, http.MethodPost, clURL+"/answers", map[string]any{
			"question_id": detail.Items[i].Question.ID,
			"answer":      a,
		}, h)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("answer %d status %d: %s", i, res.StatusCode, body)
		}
	}

	res, body = doJSON(t, srv.client, http.MethodPost, clURL+"/complete", nil, h)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for incomplete checklist, got %d: %s", res.StatusCode, body)
	}
	env := decode[apiError](t, body)
	if env.Body.Code != "checklist_incomplete" {
		t.Fatalf("expected checklist_incomplete, got %q", env.Body.Code)
	}
	if n, _ := env.Body.Details["unanswered"].(float64); n != 1 {
		t.Fatalf("expected 1 unanswered, got %v", env.Body.Details["unanswered"])
	}
	ids, _ := env.Body.Details["question_ids"].([]any)
	if len(ids) != 1 || ids[0] != detail.Items[7].Question.ID {
		t.Fatalf("unexpected gap ids %v", ids)
	}

	res, body = doJSON(t, srv.client, http.MethodPost, clURL+"/answers", map[string]any{
		"question_id": detail.Items[0].Question.ID,
		"answer":      "No",
		"notes":       "MFA missing on break-glass account",
	}, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("overwrite status %d: %s", res.StatusCode, body)
	}
	overwrite := decode[AnswerResponse](t, body)
	if !overwrite.Overwritten || overwrite.Previous == nil || overwrite.Previous.Answer != "Yes" {
		t.Fatalf("expected overwrite of Yes, got %+v", overwrite)
	}

	res, body = doJSON(t, srv.client, http.MethodPost, clURL+"/answers", map[string]any{
		"question_id": detail.Items[7].Question.ID,
		"answer":      "Yes",
	}, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("last answer status %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.client, http.MethodPost, clURL+"/complete", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, body)
	}
	if done := decode[ChecklistResponse](t, body); done.Status != "Completed" || done.Progress != 100 {
		t.Fatalf("unexpected completed checklist %+v", done)
	}

	res, body = doJSON(t, srv.client, http.MethodGet, clURL+"/summary", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, body)
	}
	summary := decode[SummaryResponse](t, body)
	// 4 Yes, 3 No, 1 N/A
	if summary.Yes != 4 || summary.No != 3 || summary.NA != 1 || summary.ComplianceRate != 57 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	res, body = doJSON(t, srv.client, http.MethodGet, base+"/audits/audit-1", nil, h)
	if audit := decode[AuditResponse](t, body); audit.Status != "Completed" {
		t.Fatalf("expected audit Completed, got %s", audit.Status)
	}

	res, body = doJSON(t, srv.client, http.MethodPost, clURL+"/answers", map[string]any{
		"question_id": detail.Items[0].Question.ID,
		"answer":      "Yes",
	}, h)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 answering completed checklist, got %d: %s", res.StatusCode, body)
	}

	res, body = doJSON(t, srv.client, http.MethodDelete, clURL, nil, h)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without confirm, got %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.client, http.MethodDelete, clURL+"?confirm=true", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", res.StatusCode, body)
	}
	if del := decode[DeleteChecklistResponse](t, body); del.DeletedResponses != 8 {
		t.Fatalf("expected 8 deleted responses, got %d", del.DeletedResponses)
	}
	res, _ = doJSON(t, srv.client, http.MethodGet, clURL, nil, h)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestInvalidAnswerIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	h := bearer(t, "tester")
	ctx := context.Background()
	if _, err := srv.Engine.CreateAudit(ctx, engine.CreateAuditOptions{ID: "a", Name: "A", ActorID: "tester"}); err != nil {
		t.Fatalf("create audit: %v", err)
	}
	c, err := srv.Engine.StartChecklist(ctx, engine.StartChecklistOptions{AuditID: "a", TemplateID: "data-protection", ActorID: "tester"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, body := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/audits/a/checklists/"+c.ID+"/answers", map[string]any{
		"question_id": engine.QuestionID("data-protection", 1),
		"answer":      "Maybe",
	}, h)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/audits/a/checklists/"+c.ID+"/answers", map[string]any{
		"question_id": "not-a-question",
		"answer":      "Yes",
	}, h)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown question, got %d: %s", res.StatusCode, body)
	}
}

func TestViewerCannotCreateAudit(t *testing.T) {
	srv := newTestServer(t)
	if err := srv.Engine.GrantRole(context.Background(), "reader", "viewer", "tester"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	h := bearer(t, "reader")
	res, body := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/audits", map[string]any{"name": "nope"}, h)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, body)
	}
	env := decode[apiError](t, body)
	if env.Body.Details["permission"] != config.PermAuditCreate {
		t.Fatalf("unexpected details %v", env.Body.Details)
	}
	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/audits", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("viewer list audits status %d: %s", res.StatusCode, body)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv := newTestServer(t)
	_, plain, err := srv.Engine.CreateAPIKey(context.Background(), "tester", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": plain})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, body)
	}
	me := decode[WhoAmIResponse](t, body)
	if me.ActorID != "tester" || me.Source != "api_key" || len(me.Roles) != 1 || me.Roles[0] != "owner" {
		t.Fatalf("unexpected principal %+v", me)
	}
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "al_wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t)
	h := bearer(t, "tester")
	for i := 0; i < 3; i++ {
		if _, err := srv.Engine.CreateAudit(context.Background(), engine.CreateAuditOptions{ID: fmt.Sprintf("a%d", i), Name: "A", ActorID: "tester"}); err != nil {
			t.Fatalf("create audit: %v", err)
		}
	}
	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?type=audit.created&limit=2", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, body)
	}
	page := decode[paginatedEvents](t, body)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected 2 items and a cursor, got %d items cursor %q", len(page.Items), page.NextCursor)
	}
	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?type=audit.created&limit=2&cursor="+page.NextCursor, nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, body)
	}
	page = decode[paginatedEvents](t, body)
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("expected final page of 1, got %d items cursor %q", len(page.Items), page.NextCursor)
	}
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, h)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", res.StatusCode)
	}
}

func TestHandleErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{auth.ForbiddenError{Permission: "x"}, http.StatusForbidden, "forbidden"},
		{engine.IncompleteChecklistError{ChecklistID: "c", Unanswered: 2}, http.StatusUnprocessableEntity, "checklist_incomplete"},
		{engine.ConfirmationRequiredError{ChecklistID: "c"}, http.StatusConflict, "confirmation_required"},
		{fmt.Errorf("checklist c: %w", engine.ErrChecklistCompleted), http.StatusConflict, "checklist_completed"},
		{fmt.Errorf("audit a: %w", engine.ErrAuditCompleted), http.StatusConflict, "audit_completed"},
		{engine.ErrInvalidAnswer, http.StatusBadRequest, "bad_request"},
		{fmt.Errorf("audit a: %w", repo.ErrNotFound), http.StatusNotFound, "not_found"},
		{errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		got, ok := handleError(tc.err).(*apiError)
		if !ok {
			t.Fatalf("%v: expected *apiError", tc.err)
		}
		if got.status != tc.status || got.Body.Code != tc.code {
			t.Fatalf("%v: got %d %s, want %d %s", tc.err, got.status, got.Body.Code, tc.status, tc.code)
		}
	}
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
		secrets  []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, r.Header.Get("X-Auditline-Event"))
		secrets = append(secrets, r.Header.Get("X-Auditline-Secret"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv := newTestServer(t)
	e := srv.Engine
	e.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"audit.created"}, Secret: "s3"}}
	d := newWebhookDispatcher(e, time.Second, nil)
	ctx := context.Background()
	d.dispatchAll(ctx)

	if _, err := e.CreateAudit(ctx, engine.CreateAuditOptions{ID: "w", Name: "Webhook", ActorID: "tester"}); err != nil {
		t.Fatalf("create audit: %v", err)
	}
	if _, err := e.StartChecklist(ctx, engine.StartChecklistOptions{AuditID: "w", TemplateID: "access-control", ActorID: "tester"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "audit.created" {
		t.Fatalf("expected a single audit.created delivery, got %v", received)
	}
	if secrets[0] != "s3" {
		t.Fatalf("expected secret header, got %q", secrets[0])
	}
}
