package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/copymode/internal/campaign"
	"github.com/foxzi/copymode/internal/htmltable"
)

// CampaignCreateRequest is the request for POST /api/v1/campaigns
type CampaignCreateRequest struct {
	Name    string `json:"name"`
	TaskID  string `json:"task_id,omitempty"`
	Content string `json:"content,omitempty"`
	// Pull fetches the content from the tracker task right after creation
	Pull bool `json:"pull,omitempty"`
}

// CampaignUpdateRequest is the request for PATCH /api/v1/campaigns/{id}.
// Content is edited through the content and row endpoints.
type CampaignUpdateRequest struct {
	Name   *string `json:"name,omitempty"`
	TaskID *string `json:"task_id,omitempty"`
}

// CampaignListResponse is the response for listing campaigns
type CampaignListResponse struct {
	Campaigns []*campaign.Campaign `json:"campaigns"`
	Total     int                  `json:"total"`
}

// handleCampaignList handles GET /api/v1/campaigns
func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	filter := campaign.ListFilter{
		Search: r.URL.Query().Get("search"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	list, err := s.campaigns.List(r.Context(), filter)
	if err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	if list == nil {
		list = []*campaign.Campaign{}
	}

	sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: list, Total: len(list)})
}

// handleCampaignCreate handles POST /api/v1/campaigns
func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req CampaignCreateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Pull && req.TaskID == "" {
		sendError(w, http.StatusBadRequest, "task_id is required to pull")
		return
	}

	c := &campaign.Campaign{
		Name:    req.Name,
		TaskID:  req.TaskID,
		Content: htmltable.Normalize(req.Content),
	}
	if err := s.campaigns.Create(r.Context(), c); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to create campaign")
		return
	}
	s.logger.Info("campaign created", "campaign_id", c.ID, "task_id", c.TaskID)

	if req.Pull {
		// A failed pull is recorded on the campaign as its sync error
		if _, err := s.editors.Pull(r.Context(), c.ID); err != nil {
			s.logger.Warn("initial pull failed", "campaign_id", c.ID, "error", err)
		}
		if fresh, err := s.campaigns.Get(r.Context(), c.ID); err == nil {
			c = fresh
		}
	}

	sendJSON(w, http.StatusCreated, c)
}

// handleCampaignGet handles GET /api/v1/campaigns/{id}
func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to get campaign")
		return
	}
	sendJSON(w, http.StatusOK, c)
}

// handleCampaignUpdate handles PATCH /api/v1/campaigns/{id}
func (s *Server) handleCampaignUpdate(w http.ResponseWriter, r *http.Request) {
	var req CampaignUpdateRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := s.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to get campaign")
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			sendError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		c.Name = *req.Name
	}
	// History holds the copy of one task; a new task starts it over
	relinked := req.TaskID != nil && *req.TaskID != c.TaskID
	if relinked {
		c.TaskID = *req.TaskID
		c.LastSyncedAt = nil
		c.SyncError = ""
	}

	if err := s.campaigns.Update(r.Context(), c); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to update campaign")
		return
	}
	if relinked {
		if err := s.editors.Forget(r.Context(), c.ID); err != nil {
			s.fail(w, err, http.StatusInternalServerError, "failed to reset history")
			return
		}
		s.logger.Info("campaign relinked", "campaign_id", c.ID, "task_id", c.TaskID)
	}
	sendJSON(w, http.StatusOK, c)
}

// handleCampaignDelete handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleCampaignDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.campaigns.Get(r.Context(), id); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to get campaign")
		return
	}

	if err := s.editors.Forget(r.Context(), id); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to delete history")
		return
	}
	if err := s.campaigns.Delete(r.Context(), id); err != nil {
		s.fail(w, err, http.StatusInternalServerError, "failed to delete campaign")
		return
	}

	s.logger.Info("campaign deleted", "campaign_id", id)
	w.WriteHeader(http.StatusNoContent)
}
