package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/copymode/internal/campaign"
	"github.com/foxzi/copymode/internal/config"
	"github.com/foxzi/copymode/internal/editor"
	"github.com/foxzi/copymode/internal/emailtable"
	"github.com/foxzi/copymode/internal/history"
	"github.com/foxzi/copymode/internal/proof"
	"github.com/foxzi/copymode/internal/tracker"
)

const sampleTable = `| Section | Content |
|---------|---------|
| SUBJECT LINE | Spring sale |
| BODY | Shop now |
| CTA | Buy |`

type fakeTracker struct {
	descriptions map[string]string
	pushed       map[string]string
	err          error
}

func (f *fakeTracker) GetDescription(ctx context.Context, taskID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.descriptions[taskID], nil
}

func (f *fakeTracker) UpdateDescription(ctx context.Context, taskID, markdown string) error {
	if f.err != nil {
		return f.err
	}
	f.pushed[taskID] = markdown
	return nil
}

type fakeProofs struct {
	sent []proof.Message
	to   [][]string
}

func (f *fakeProofs) Send(ctx context.Context, to []string, msg proof.Message) error {
	f.sent = append(f.sent, msg)
	f.to = append(f.to, to)
	return nil
}

type testServer struct {
	server    *Server
	campaigns *campaign.Storage
	tracker   *fakeTracker
	proofs    *fakeProofs
}

func setupTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "api.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	campaigns, err := campaign.NewStorage(db)
	if err != nil {
		t.Fatal(err)
	}
	histories, err := history.NewStorage(db)
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := &fakeTracker{descriptions: map[string]string{}, pushed: map[string]string{}}
	editors := editor.NewManager(campaigns, histories, tr, editor.Options{IDs: emailtable.NewSequence("r")}, logger)
	proofs := &fakeProofs{}

	cfg := &config.APIConfig{ListenAddr: ":8080", APIKey: apiKey}
	server, err := NewServer(Deps{Campaigns: campaigns, Editors: editors, Proofs: proofs, Version: "test"}, cfg, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return &testServer{server: server, campaigns: campaigns, tracker: tr, proofs: proofs}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) create(t *testing.T, taskID, content string) *campaign.Campaign {
	t.Helper()
	c := &campaign.Campaign{Name: "Spring sale", TaskID: taskID, Content: content}
	if err := ts.campaigns.Create(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func sectionsOf(rows emailtable.Table) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r.Section)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t, "secret")
	ts.create(t, "", sampleTable)

	w := ts.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody[HealthResponse](t, w)
	if resp.Status != "ok" || resp.Campaigns != 1 || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := setupTestServer(t, "secret")

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing key", "", "", http.StatusUnauthorized},
		{"wrong key", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"x-api-key", "X-API-Key", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			ts.server.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCampaignCRUD(t *testing.T) {
	ts := setupTestServer(t, "")

	w := ts.do(t, http.MethodPost, "/api/v1/campaigns", CampaignCreateRequest{
		Name:    "Launch",
		TaskID:  "t1",
		Content: "<table><tr><td>SUBJECT LINE</td><td>Hi</td></tr></table>",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody[campaign.Campaign](t, w)
	if !strings.Contains(created.Content, "| SUBJECT LINE | Hi |") {
		t.Errorf("HTML content not normalised: %q", created.Content)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/campaigns", CampaignCreateRequest{Name: "Dup", TaskID: "t1"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate task status = %d, want 409", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/campaigns", CampaignCreateRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", w.Code)
	}

	name := "Launch v2"
	w = ts.do(t, http.MethodPatch, "/api/v1/campaigns/"+created.ID, CampaignUpdateRequest{Name: &name})
	if w.Code != http.StatusOK || decodeBody[campaign.Campaign](t, w).Name != name {
		t.Errorf("update status = %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/campaigns?search=v2", nil)
	list := decodeBody[CampaignListResponse](t, w)
	if list.Total != 1 || list.Campaigns[0].ID != created.ID {
		t.Errorf("list = %+v", list)
	}

	w = ts.do(t, http.MethodDelete, "/api/v1/campaigns/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/api/v1/campaigns/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestCampaignCreateWithPull(t *testing.T) {
	ts := setupTestServer(t, "")
	ts.tracker.descriptions["t9"] = sampleTable

	w := ts.do(t, http.MethodPost, "/api/v1/campaigns", CampaignCreateRequest{Name: "Pulled", TaskID: "t9", Pull: true})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	c := decodeBody[campaign.Campaign](t, w)
	if !strings.Contains(c.Content, "Spring sale") || c.LastSyncedAt == nil {
		t.Errorf("campaign not pulled: %+v", c)
	}
}

func TestContentAndRows(t *testing.T) {
	ts := setupTestServer(t, "")
	c := ts.create(t, "t1", sampleTable)
	base := "/api/v1/campaigns/" + c.ID

	content := decodeBody[ContentResponse](t, ts.do(t, http.MethodGet, base+"/content", nil))
	if len(content.Rows) != 3 || content.Dirty {
		t.Fatalf("content = %+v", content)
	}
	if !strings.Contains(content.HTML, "<table") {
		t.Errorf("HTML missing table: %q", content.HTML)
	}

	w := ts.do(t, http.MethodPost, base+"/rows", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("add row status = %d: %s", w.Code, w.Body.String())
	}
	added := decodeBody[emailtable.Row](t, w)
	if added.Section != emailtable.PlaceholderSection {
		t.Errorf("placeholder section = %q", added.Section)
	}

	section := "PS"
	w = ts.do(t, http.MethodPatch, base+"/rows/"+added.ID, emailtable.RowUpdate{Section: &section})
	after := decodeBody[ContentResponse](t, w)
	if got := sectionsOf(after.Rows); got[3] != "PS" || !after.Dirty {
		t.Errorf("rows after update = %v (dirty %v)", got, after.Dirty)
	}

	blank := " "
	w = ts.do(t, http.MethodPatch, base+"/rows/"+added.ID, emailtable.RowUpdate{Section: &blank})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("blank section status = %d, want 422", w.Code)
	}
	w = ts.do(t, http.MethodPost, base+"/rows", emailtable.Row{Section: "", Content: "x"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("add blank section status = %d, want 422", w.Code)
	}

	multiline := "line1\nline2"
	w = ts.do(t, http.MethodPatch, base+"/rows/"+added.ID, emailtable.RowUpdate{Content: &multiline})
	after = decodeBody[ContentResponse](t, w)
	if len(after.Rows) != 4 || after.Rows[3].Content != "line1 line2" || after.Rows[3].ID != added.ID {
		t.Errorf("rows after multi-line update = %+v", after.Rows)
	}

	ids := []string{after.Rows[3].ID, after.Rows[0].ID, after.Rows[1].ID, after.Rows[2].ID}
	w = ts.do(t, http.MethodPut, base+"/rows/order", ReorderRequest{IDs: ids})
	if got := sectionsOf(decodeBody[ContentResponse](t, w).Rows); got[0] != "PS" {
		t.Errorf("rows after reorder = %v", got)
	}

	w = ts.do(t, http.MethodPut, base+"/rows/order", ReorderRequest{IDs: ids[:2]})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("partial reorder status = %d, want 422", w.Code)
	}

	w = ts.do(t, http.MethodDelete, base+"/rows/"+added.ID, nil)
	if got := sectionsOf(decodeBody[ContentResponse](t, w).Rows); len(got) != 3 {
		t.Errorf("rows after remove = %v", got)
	}

	w = ts.do(t, http.MethodDelete, base+"/rows/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("remove missing row status = %d, want 404", w.Code)
	}

	w = ts.do(t, http.MethodPut, base+"/content", ContentRequest{Content: "| Section | Content |\n|---|---|\n| BODY | Replaced |"})
	if got := decodeBody[ContentResponse](t, w); len(got.Rows) != 1 || got.Rows[0].Content != "Replaced" {
		t.Errorf("content after put = %+v", got)
	}
}

func TestSectionsPatchAndTools(t *testing.T) {
	ts := setupTestServer(t, "")
	c := ts.create(t, "", sampleTable)
	base := "/api/v1/campaigns/" + c.ID

	w := ts.do(t, http.MethodPost, base+"/sections", map[string]any{
		"operations": []map[string]any{
			{"type": "update_section_content", "section": "body", "content": "Shop **today**"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("sections status = %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, base+"/sections", map[string]any{
		"operations": []map[string]any{{"type": "remove_section", "section": "FOOTER"}},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing section status = %d, want 422", w.Code)
	}

	w = ts.do(t, http.MethodPost, base+"/patch", map[string]any{
		"target_text": "Buy",
		"operations": []map[string]any{
			{"type": "retain", "length": 3},
			{"type": "insert", "value": " now"},
		},
	})
	if got := decodeBody[ContentResponse](t, w); !strings.Contains(got.Content, "| CTA | Buy now |") {
		t.Errorf("content after patch = %q", got.Content)
	}

	w = ts.do(t, http.MethodPost, base+"/tools/edit_email", map[string]string{
		"updatedHtml": "<table><tr><td>BODY</td><td>Rewritten</td></tr></table>",
		"explanation": "shorter",
	})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":true`) {
		t.Errorf("edit_email = %d %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, base+"/tools/edit_email", map[string]string{"updatedHtml": "<p>nope</p>"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":false`) {
		t.Errorf("invalid edit_email = %d %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, base+"/tools/launch_rockets", map[string]string{})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown tool status = %d, want 404", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/tools", nil)
	if !strings.Contains(w.Body.String(), "apply_section_operations") {
		t.Errorf("tools = %s", w.Body.String())
	}
}

func TestCampaignRelinkResetsHistory(t *testing.T) {
	ts := setupTestServer(t, "")
	c := ts.create(t, "t1", sampleTable)
	base := "/api/v1/campaigns/" + c.ID

	ts.do(t, http.MethodPost, base+"/rows", emailtable.Row{Section: "PS", Content: "Bye"})
	view := decodeBody[editor.HistoryView](t, ts.do(t, http.MethodGet, base+"/history", nil))
	if len(view.Versions) != 2 {
		t.Fatalf("history before relink = %d versions", len(view.Versions))
	}

	same := "t1"
	ts.do(t, http.MethodPatch, base, CampaignUpdateRequest{TaskID: &same})
	view = decodeBody[editor.HistoryView](t, ts.do(t, http.MethodGet, base+"/history", nil))
	if len(view.Versions) != 2 {
		t.Errorf("history after same task = %d versions, want 2", len(view.Versions))
	}

	other := "t2"
	w := ts.do(t, http.MethodPatch, base, CampaignUpdateRequest{TaskID: &other})
	if got := decodeBody[campaign.Campaign](t, w); got.TaskID != "t2" {
		t.Fatalf("relinked campaign = %+v", got)
	}
	view = decodeBody[editor.HistoryView](t, ts.do(t, http.MethodGet, base+"/history", nil))
	if len(view.Versions) != 1 || view.Versions[0].Description != history.InitialDescription {
		t.Errorf("history after relink = %+v", view.Versions)
	}
	content := decodeBody[ContentResponse](t, ts.do(t, http.MethodGet, base+"/content", nil))
	if len(content.Rows) != 4 {
		t.Errorf("relink lost content rows: %d", len(content.Rows))
	}
}

func TestHistoryEndpoints(t *testing.T) {
	ts := setupTestServer(t, "")
	c := ts.create(t, "", sampleTable)
	base := "/api/v1/campaigns/" + c.ID

	if w := ts.do(t, http.MethodPost, base+"/history/undo", nil); w.Code != http.StatusConflict {
		t.Errorf("undo at start status = %d, want 409", w.Code)
	}

	ts.do(t, http.MethodPost, base+"/rows", emailtable.Row{Section: "PS", Content: "Bye"})

	w := ts.do(t, http.MethodPost, base+"/history/undo", nil)
	if got := decodeBody[ContentResponse](t, w); len(got.Rows) != 3 {
		t.Errorf("rows after undo = %d", len(got.Rows))
	}
	w = ts.do(t, http.MethodPost, base+"/history/redo", nil)
	if got := decodeBody[ContentResponse](t, w); len(got.Rows) != 4 {
		t.Errorf("rows after redo = %d", len(got.Rows))
	}

	w = ts.do(t, http.MethodPost, base+"/history/0/restore", nil)
	if got := decodeBody[ContentResponse](t, w); len(got.Rows) != 3 {
		t.Errorf("rows after restore = %d", len(got.Rows))
	}

	view := decodeBody[editor.HistoryView](t, ts.do(t, http.MethodGet, base+"/history", nil))
	// restoring while rewound drops the redo branch
	if len(view.Versions) != 2 || view.Index != 1 {
		t.Errorf("history = %d versions at %d", len(view.Versions), view.Index)
	}

	if w := ts.do(t, http.MethodPost, base+"/history/0/view", nil); w.Code != http.StatusOK {
		t.Errorf("view status = %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, base+"/history/9/view", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("view out of range status = %d, want 422", w.Code)
	}
	if w := ts.do(t, http.MethodPost, base+"/history/x/view", nil); w.Code != http.StatusBadRequest {
		t.Errorf("view bad index status = %d, want 400", w.Code)
	}
}

func TestSaveAndPull(t *testing.T) {
	ts := setupTestServer(t, "")
	c := ts.create(t, "t1", sampleTable)
	base := "/api/v1/campaigns/" + c.ID

	ts.do(t, http.MethodPost, base+"/rows", emailtable.Row{Section: "PS", Content: "Bye"})

	ts.tracker.err = &tracker.APIError{StatusCode: 401, Code: "OAUTH_019", Message: "Token invalid"}
	w := ts.do(t, http.MethodPost, base+"/save", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("failed save status = %d, want 502", w.Code)
	}
	if got := decodeBody[ContentResponse](t, ts.do(t, http.MethodGet, base+"/content", nil)); !got.Dirty {
		t.Error("failed save cleared dirty flag")
	}

	ts.tracker.err = nil
	w = ts.do(t, http.MethodPost, base+"/save", nil)
	if w.Code != http.StatusOK || decodeBody[ContentResponse](t, w).Dirty {
		t.Errorf("save status = %d", w.Code)
	}
	if !strings.Contains(ts.tracker.pushed["t1"], "| PS | Bye |") {
		t.Errorf("pushed = %q", ts.tracker.pushed["t1"])
	}

	ts.tracker.descriptions["t1"] = "<table><tr><td>BODY</td><td>From tracker</td></tr></table>"
	w = ts.do(t, http.MethodPost, base+"/pull", nil)
	if got := decodeBody[ContentResponse](t, w); len(got.Rows) != 1 || got.Rows[0].Content != "From tracker" {
		t.Errorf("pulled = %+v", got)
	}

	other := ts.create(t, "", sampleTable)
	if w := ts.do(t, http.MethodPost, "/api/v1/campaigns/"+other.ID+"/save", nil); w.Code != http.StatusConflict {
		t.Errorf("save without task status = %d, want 409", w.Code)
	}
}

func TestProofEndpoint(t *testing.T) {
	ts := setupTestServer(t, "")
	c := ts.create(t, "", sampleTable)
	path := "/api/v1/campaigns/" + c.ID + "/proof"

	if w := ts.do(t, http.MethodPost, path, ProofRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("no recipients status = %d, want 400", w.Code)
	}

	w := ts.do(t, http.MethodPost, path, ProofRequest{To: []string{"qa@example.com"}})
	if w.Code != http.StatusOK {
		t.Fatalf("proof status = %d: %s", w.Code, w.Body.String())
	}
	if len(ts.proofs.sent) != 1 || ts.proofs.sent[0].Subject != "Spring sale" {
		t.Errorf("sent = %+v", ts.proofs.sent)
	}
}

func TestConvertEndpoints(t *testing.T) {
	ts := setupTestServer(t, "")

	w := ts.do(t, http.MethodPost, "/api/v1/convert/markdown-to-html", ConvertRequest{Content: sampleTable})
	html := decodeBody[ConvertResponse](t, w).Content
	if !strings.Contains(html, "Spring sale") {
		t.Fatalf("html = %q", html)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/convert/html-to-markdown", ConvertRequest{Content: html})
	if got := decodeBody[ConvertResponse](t, w).Content; !strings.Contains(got, "| SUBJECT LINE | Spring sale |") {
		t.Errorf("markdown = %q", got)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/convert/html-to-markdown", ConvertRequest{Content: "<p>no table</p>"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("no table status = %d, want 422", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{campaign.ErrNotFound, http.StatusNotFound},
		{emailtable.ErrRowNotFound, http.StatusNotFound},
		{campaign.ErrDuplicateTask, http.StatusConflict},
		{editor.ErrNoTask, http.StatusConflict},
		{history.ErrVersionOutOfRange, http.StatusUnprocessableEntity},
		{emailtable.ErrEmptySection, http.StatusUnprocessableEntity},
		{fmt.Errorf("row r1: %w", emailtable.ErrInvalidRow), http.StatusUnprocessableEntity},
		{&tracker.APIError{StatusCode: 500}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusTeapot},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err, http.StatusTeapot); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
