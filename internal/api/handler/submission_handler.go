package handler

import (
	"net/http"

	"tle_zone_judge/internal/api/middleware"
	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type SubmissionHandler struct {
	submissionService *service.SubmissionService
}

func NewSubmissionHandler(ss *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissionService: ss}
}

func (h *SubmissionHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator) // All submission routes require auth
	r.Post("/", h.createSubmission)
	r.Get("/{submissionID}", h.getSubmission)
	r.Post("/{submissionID}/abort", h.abortSubmission)
	r.With(middleware.AdminOnly).Post("/{submissionID}/rejudge", h.rejudgeSubmission)
}

func (h *SubmissionHandler) createSubmission(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req service.CreateSubmissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	submission, err := h.submissionService.CreateSubmission(r.Context(), userID, req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, submission) // Accepted (202) as grading is async
}

func (h *SubmissionHandler) getSubmission(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := currentUser(w, r)
	if !ok {
		return
	}

	details, err := h.submissionService.GetSubmission(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	if details.UserID != userID && role != model.RoleAdmin {
		details.Source = ""
	}
	common.RespondWithJSON(w, http.StatusOK, details)
}

func (h *SubmissionHandler) abortSubmission(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := currentUser(w, r)
	if !ok {
		return
	}

	sub, err := h.submissionService.AbortSubmission(r.Context(), userID, role, chi.URLParam(r, "submissionID"))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, sub)
}

func (h *SubmissionHandler) rejudgeSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.submissionService.RejudgeSubmission(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, sub)
}

// UserPoints serves the user's total over their best submission per problem.
func (h *SubmissionHandler) UserPoints(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	total, err := h.submissionService.UserTotalPoints(r.Context(), userID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "points": total})
}
