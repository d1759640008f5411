package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/copymode/internal/aiedit"
	"github.com/foxzi/copymode/internal/editor"
	"github.com/foxzi/copymode/internal/emailtable"
	"github.com/foxzi/copymode/internal/history"
	"github.com/foxzi/copymode/internal/htmltable"
	"github.com/foxzi/copymode/internal/metrics"
)

// ContentResponse is the editing state of a campaign
type ContentResponse struct {
	CampaignID string           `json:"campaign_id"`
	Content    string           `json:"content"`
	HTML       string           `json:"html"`
	Rows       emailtable.Table `json:"rows"`
	Dirty      bool             `json:"dirty"`
	VersionID  string           `json:"version_id,omitempty"`
}

// ContentRequest is the request for PUT /api/v1/campaigns/{id}/content.
// Content may be a markdown or an HTML table.
type ContentRequest struct {
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
}

// ReorderRequest is the request for PUT /api/v1/campaigns/{id}/rows/order
type ReorderRequest struct {
	IDs []string `json:"ids"`
}

// SectionsRequest is the request for POST /api/v1/campaigns/{id}/sections
type SectionsRequest struct {
	Operations  []aiedit.SectionOp `json:"operations"`
	Explanation string             `json:"explanation,omitempty"`
}

// PatchRequest is the request for POST /api/v1/campaigns/{id}/patch
type PatchRequest struct {
	aiedit.Patch
	Explanation string `json:"explanation,omitempty"`
}

// session opens the editing session of the campaign in the URL
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	sess, err := s.editors.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to open session")
		return nil, false
	}
	return sess, true
}

func contentResponse(sess *editor.Session) ContentResponse {
	content := sess.GetContent()
	resp := ContentResponse{
		CampaignID: sess.Key(),
		Content:    content,
		HTML:       htmltable.FromMarkdown(content),
		Rows:       sess.Table(),
		Dirty:      sess.Dirty(),
	}
	if v, ok := sess.Current(); ok {
		resp.VersionID = v.ID
	}
	return resp
}

// handleContentGet handles GET /api/v1/campaigns/{id}/content
func (s *Server) handleContentGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handleContentPut handles PUT /api/v1/campaigns/{id}/content
func (s *Server) handleContentPut(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !decode(w, r, &req) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if req.Description == "" {
		req.Description = "Edited content"
	}
	if _, err := sess.Commit(req.Content, history.SourceUser, editor.KindSetContent, req.Description); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to commit content")
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handleRowAdd handles POST /api/v1/campaigns/{id}/rows. An empty body adds
// a placeholder row.
func (s *Server) handleRowAdd(w http.ResponseWriter, r *http.Request) {
	var row *emailtable.Row
	var body emailtable.Row
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		row = &body
	} else if !errors.Is(err, io.EOF) {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	added, err := sess.AddRow(row)
	if err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to add row")
		return
	}
	sendJSON(w, http.StatusCreated, added)
}

// handleRowUpdate handles PATCH /api/v1/campaigns/{id}/rows/{rowID}
func (s *Server) handleRowUpdate(w http.ResponseWriter, r *http.Request) {
	var upd emailtable.RowUpdate
	if !decode(w, r, &upd) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.UpdateRow(chi.URLParam(r, "rowID"), upd); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to update row")
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handleRowRemove handles DELETE /api/v1/campaigns/{id}/rows/{rowID}
func (s *Server) handleRowRemove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.RemoveRow(chi.URLParam(r, "rowID")); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to remove row")
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handleRowReorder handles PUT /api/v1/campaigns/{id}/rows/order
func (s *Server) handleRowReorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !decode(w, r, &req) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.ReorderRows(req.IDs); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to reorder rows")
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handleSections handles POST /api/v1/campaigns/{id}/sections
func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	var req SectionsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Operations) == 0 {
		sendError(w, http.StatusBadRequest, "operations are required")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.ApplySections(req.Operations, req.Explanation); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to apply section operations")
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handlePatch handles POST /api/v1/campaigns/{id}/patch
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var req PatchRequest
	if !decode(w, r, &req) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.ApplyPatch(req.Patch, req.Explanation); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to apply patch")
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handleTools handles GET /api/v1/tools
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, aiedit.Definitions())
}

// handleToolCall handles POST /api/v1/campaigns/{id}/tools/{tool}. The body
// holds the tool arguments as the assistant produced them. Edit failures are
// reported inside the tool result so they can be handed back to the model.
func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "tool")
	if !knownTool(name) {
		sendError(w, http.StatusNotFound, "unknown tool "+name)
		return
	}

	args, err := io.ReadAll(r.Body)
	if err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	res, err := aiedit.Call(sess, name, json.RawMessage(args))
	if err != nil {
		metrics.IncToolCalls(name, "invalid")
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.IncToolCalls(name, toolOutcome(res))
	sendJSON(w, http.StatusOK, res)
}

func knownTool(name string) bool {
	for _, d := range aiedit.Definitions() {
		if d.Name == name {
			return true
		}
	}
	return false
}

func toolOutcome(res any) string {
	success := false
	switch v := res.(type) {
	case aiedit.ReplaceResult:
		success = v.Success
	case aiedit.ToolResult:
		success = v.Success
	}
	if success {
		return "ok"
	}
	return "error"
}

// handleHistory handles GET /api/v1/campaigns/{id}/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, sess.History())
}

// handleUndo handles POST /api/v1/campaigns/{id}/history/undo
func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, moved := sess.Undo(); !moved {
		sendError(w, http.StatusConflict, "nothing to undo")
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handleRedo handles POST /api/v1/campaigns/{id}/history/redo
func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, moved := sess.Redo(); !moved {
		sendError(w, http.StatusConflict, "nothing to redo")
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handleView handles POST /api/v1/campaigns/{id}/history/{index}/view
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	s.moveTo(w, r, (*editor.Session).View)
}

// handleRestore handles POST /api/v1/campaigns/{id}/history/{index}/restore
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	s.moveTo(w, r, (*editor.Session).Restore)
}

func (s *Server) moveTo(w http.ResponseWriter, r *http.Request, move func(*editor.Session, int) (history.Version, error)) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		sendError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, err := move(sess, index); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to move through history")
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}
