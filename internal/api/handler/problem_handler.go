package handler

import (
	"net/http"

	"tle_zone_judge/internal/api/middleware"
	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type ProblemHandler struct {
	problemService    *service.ProblemService
	submissionService *service.SubmissionService
}

func NewProblemHandler(ps *service.ProblemService, ss *service.SubmissionService) *ProblemHandler {
	return &ProblemHandler{problemService: ps, submissionService: ss}
}

func (h *ProblemHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.listProblems)            // GET /api/v1/problems
	r.Get("/{problemCode}", h.getProblem) // GET /api/v1/problems/aplusb

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.Authenticator)
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/", h.createProblem)
		adminRouter.Post("/{problemCode}/rejudge", h.rejudgeProblem)
	})
}

func (h *ProblemHandler) createProblem(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProblemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	problem, err := h.problemService.CreateProblem(r.Context(), req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, problem)
}

func (h *ProblemHandler) listProblems(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := min(queryInt(r, "pageSize", 20), 100)

	problems, total, err := h.problemService.ListProblems(r.Context(), page, pageSize)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}

	type PaginatedProblemsResponse struct {
		Problems []model.Problem `json:"problems"`
		Total    int             `json:"total"`
		Page     int             `json:"page"`
		PageSize int             `json:"page_size"`
	}
	common.RespondWithJSON(w, http.StatusOK, PaginatedProblemsResponse{
		Problems: problems,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func (h *ProblemHandler) getProblem(w http.ResponseWriter, r *http.Request) {
	problem, err := h.problemService.GetProblem(r.Context(), chi.URLParam(r, "problemCode"))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, problem)
}

func (h *ProblemHandler) rejudgeProblem(w http.ResponseWriter, r *http.Request) {
	problem, err := h.problemService.GetProblem(r.Context(), chi.URLParam(r, "problemCode"))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	n, err := h.submissionService.RejudgeProblem(r.Context(), problem.ID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, map[string]int{"rejudged": n})
}

func (h *ProblemHandler) ListLanguages(w http.ResponseWriter, r *http.Request) {
	langs, err := h.problemService.ListLanguages(r.Context())
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, langs)
}
