package handler

import (
	"net/http"

	"tle_zone_judge/internal/api/middleware"
	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type ContestHandler struct {
	contestService *service.ContestService
}

func NewContestHandler(cs *service.ContestService) *ContestHandler {
	return &ContestHandler{contestService: cs}
}

func (h *ContestHandler) RegisterRoutes(r chi.Router) {
	r.Get("/formats", h.listFormats)
	r.Get("/{contestKey}", h.getContest)
	r.Get("/{contestKey}/ranking", h.ranking)

	r.Group(func(user chi.Router) {
		user.Use(middleware.Authenticator)
		user.Post("/{contestKey}/join", h.join)
		user.Get("/{contestKey}/me", h.participationResult)
	})

	r.Group(func(admin chi.Router) {
		admin.Use(middleware.Authenticator)
		admin.Use(middleware.AdminOnly)
		admin.Post("/", h.createContest)
		admin.Post("/{contestKey}/problems", h.addProblem)
		admin.Put("/{contestKey}/format", h.setFormat)
		admin.Post("/{contestKey}/recompute", h.recompute)
	})
}

// contest resolves the {contestKey} path parameter, answering 404 itself.
func (h *ContestHandler) contest(w http.ResponseWriter, r *http.Request) (*model.Contest, []model.ContestProblem, bool) {
	c, problems, err := h.contestService.GetContest(r.Context(), chi.URLParam(r, "contestKey"))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return nil, nil, false
	}
	return c, problems, true
}

func (h *ContestHandler) listFormats(w http.ResponseWriter, r *http.Request) {
	common.RespondWithJSON(w, http.StatusOK, h.contestService.ListFormats())
}

func (h *ContestHandler) getContest(w http.ResponseWriter, r *http.Request) {
	c, problems, ok := h.contest(w, r)
	if !ok {
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"contest": c, "problems": problems})
}

func (h *ContestHandler) createContest(w http.ResponseWriter, r *http.Request) {
	var req service.CreateContestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.contestService.CreateContest(r.Context(), req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, c)
}

func (h *ContestHandler) addProblem(w http.ResponseWriter, r *http.Request) {
	c, _, ok := h.contest(w, r)
	if !ok {
		return
	}
	var req service.AddContestProblemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cp, err := h.contestService.AddProblem(r.Context(), c.ID, req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, cp)
}

func (h *ContestHandler) setFormat(w http.ResponseWriter, r *http.Request) {
	c, _, ok := h.contest(w, r)
	if !ok {
		return
	}
	var req service.SetFormatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.contestService.SetContestFormat(r.Context(), c.ID, req); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"contest": c.Key, "format": req.FormatName})
}

func (h *ContestHandler) recompute(w http.ResponseWriter, r *http.Request) {
	c, _, ok := h.contest(w, r)
	if !ok {
		return
	}
	if err := h.contestService.RecomputeContest(r.Context(), c.ID); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContestHandler) join(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(w, r)
	if !ok {
		return
	}
	c, _, ok := h.contest(w, r)
	if !ok {
		return
	}
	p, err := h.contestService.Join(r.Context(), c.ID, userID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, p)
}

func (h *ContestHandler) ranking(w http.ResponseWriter, r *http.Request) {
	c, _, ok := h.contest(w, r)
	if !ok {
		return
	}
	entries, err := h.contestService.Ranking(r.Context(), c.ID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}

func (h *ContestHandler) participationResult(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(w, r)
	if !ok {
		return
	}
	c, _, ok := h.contest(w, r)
	if !ok {
		return
	}
	view, err := h.contestService.ParticipationResult(r.Context(), c.ID, userID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, view)
}
