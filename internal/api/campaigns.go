package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/confra/outreach/internal/campaign"
	"github.com/confra/outreach/internal/email"
)

// CreateCampaignRequest is the request body for POST /campaigns
type CreateCampaignRequest struct {
	Name           string              `json:"name"`
	OrganizationID string              `json:"organization_id"`
	TemplateID     string              `json:"template_id"`
	Recipients     []CampaignRecipient `json:"recipients"`
	Settings       campaign.Settings   `json:"settings"`
}

// CampaignRecipient is one recipient in a campaign creation request
type CampaignRecipient struct {
	ClientID string `json:"client_id,omitempty"`
	Email    string `json:"email"`
}

// CampaignResponse is the wire form of a campaign
type CampaignResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	OrganizationID string     `json:"organization_id"`
	TemplateID     string     `json:"template_id"`
	Status         string     `json:"status"`
	Recipients     int        `json:"recipients"`
	SentCount      int        `json:"sent_count"`
	FailedCount    int        `json:"failed_count"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func campaignResponse(c *campaign.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:             c.ID,
		Name:           c.Name,
		OrganizationID: c.OrganizationID,
		TemplateID:     c.TemplateID,
		Status:         string(c.Status),
		Recipients:     len(c.Recipients),
		SentCount:      c.SentCount,
		FailedCount:    c.FailedCount,
		StartedAt:      c.StartedAt,
		FinishedAt:     c.FinishedAt,
		CreatedAt:      c.CreatedAt,
	}
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.OrganizationID == "" {
		s.sendError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	if req.TemplateID == "" {
		s.sendError(w, http.StatusBadRequest, "template_id is required")
		return
	}
	if len(req.Recipients) == 0 {
		s.sendError(w, http.StatusBadRequest, "recipients is required")
		return
	}

	recipients := make([]campaign.Recipient, 0, len(req.Recipients))
	seen := make(map[string]struct{}, len(req.Recipients))
	for _, rcpt := range req.Recipients {
		if !email.ValidAddress(rcpt.Email) {
			s.sendError(w, http.StatusBadRequest, "invalid recipient address: "+rcpt.Email)
			return
		}
		addr := email.Normalize(rcpt.Email)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		recipients = append(recipients, campaign.Recipient{
			ClientID: rcpt.ClientID,
			Email:    addr,
			Status:   campaign.RecipientPending,
		})
	}

	c := &campaign.Campaign{
		ID:             uuid.New().String(),
		Name:           req.Name,
		OrganizationID: req.OrganizationID,
		TemplateID:     req.TemplateID,
		Recipients:     recipients,
		Settings:       req.Settings,
		Status:         campaign.StatusDraft,
	}

	if err := s.campaigns.PutCampaign(r.Context(), c); err != nil {
		s.logger.Error("failed to store campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to store campaign")
		return
	}

	s.logger.Info("campaign created", "id", c.ID, "recipients", len(c.Recipients))
	s.sendJSON(w, http.StatusCreated, campaignResponse(c))
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	all, err := s.campaigns.ListCampaigns(r.Context())
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}

	out := make([]CampaignResponse, len(all))
	for i, c := range all {
		out[i] = campaignResponse(c)
	}
	s.sendJSON(w, http.StatusOK, out)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	s.sendJSON(w, http.StatusOK, campaignResponse(c))
}

// handleStartCampaign handles POST /api/v1/campaigns/{id}/start
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The runner detaches the background run from the request context
	// and binds it to its own lifetime
	if err := s.runner.Start(r.Context(), id); err != nil {
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
