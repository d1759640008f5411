package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/copymode/internal/htmltable"
	"github.com/foxzi/copymode/internal/metrics"
	"github.com/foxzi/copymode/internal/proof"
)

// ProofRequest is the request for POST /api/v1/campaigns/{id}/proof
type ProofRequest struct {
	To []string `json:"to"`
}

// ProofResponse reports a sent proof
type ProofResponse struct {
	Subject string   `json:"subject"`
	To      []string `json:"to"`
}

// ConvertRequest is the request for the convert endpoints
type ConvertRequest struct {
	Content string `json:"content"`
}

// ConvertResponse is the response for the convert endpoints
type ConvertResponse struct {
	Content string `json:"content"`
}

// handleSave handles POST /api/v1/campaigns/{id}/save
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.editors.Save(r.Context(), id); err != nil {
		s.fail(w, err, http.StatusBadGateway, "failed to save campaign")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handlePull handles POST /api/v1/campaigns/{id}/pull
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	sess, err := s.editors.Pull(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, http.StatusBadGateway, "failed to pull campaign")
		return
	}
	sendJSON(w, http.StatusOK, contentResponse(sess))
}

// handleProof handles POST /api/v1/campaigns/{id}/proof
func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	if s.proofs == nil {
		sendError(w, http.StatusServiceUnavailable, "proof e-mails are not configured")
		return
	}

	var req ProofRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.To) == 0 {
		sendError(w, http.StatusBadRequest, proof.ErrNoRecipients.Error())
		return
	}

	c, err := s.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to get campaign")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	msg, err := proof.Render(c.Name, sess.Table())
	if err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to render proof")
		return
	}
	if err := s.proofs.Send(r.Context(), req.To, msg); err != nil {
		metrics.IncProofs("error")
		s.fail(w, err, http.StatusBadGateway, "failed to send proof")
		return
	}
	metrics.IncProofs("ok")

	sendJSON(w, http.StatusOK, ProofResponse{Subject: msg.Subject, To: req.To})
}

// handleMarkdownToHTML handles POST /api/v1/convert/markdown-to-html
func (s *Server) handleMarkdownToHTML(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !decode(w, r, &req) {
		return
	}
	sendJSON(w, http.StatusOK, ConvertResponse{Content: htmltable.FromMarkdown(req.Content)})
}

// handleHTMLToMarkdown handles POST /api/v1/convert/html-to-markdown
func (s *Server) handleHTMLToMarkdown(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !decode(w, r, &req) {
		return
	}
	md, err := htmltable.ToMarkdown(req.Content)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, htmltable.ErrNoTable) {
			status = http.StatusUnprocessableEntity
		}
		sendError(w, status, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, ConvertResponse{Content: md})
}
