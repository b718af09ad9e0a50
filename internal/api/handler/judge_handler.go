package handler

import (
	"net/http"

	"tle_zone_judge/internal/api/middleware"
	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// JudgeHandler receives grading progress from judges. The judge identity comes
// from the token, never from the payload.
type JudgeHandler struct {
	grading *service.GradingService
	log     *zap.SugaredLogger
}

func NewJudgeHandler(gs *service.GradingService, log *zap.SugaredLogger) *JudgeHandler {
	return &JudgeHandler{grading: gs, log: log}
}

func (h *JudgeHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Use(middleware.JudgeOnly)
	r.Post("/submissions/{submissionID}/compile", h.compile)
	r.Post("/submissions/{submissionID}/cases", h.testCase)
	r.Post("/submissions/{submissionID}/final", h.final)
}

func (h *JudgeHandler) compile(w http.ResponseWriter, r *http.Request) {
	var rep service.CompilationReport
	if !decodeJSON(w, r, &rep) {
		return
	}
	judgeID, _ := middleware.GetUserIDFromContext(r.Context())
	sub, err := h.grading.ReportCompilation(r.Context(), chi.URLParam(r, "submissionID"), judgeID, rep)
	h.respond(w, judgeID, sub, err)
}

func (h *JudgeHandler) testCase(w http.ResponseWriter, r *http.Request) {
	var rep service.CaseReport
	if !decodeJSON(w, r, &rep) {
		return
	}
	judgeID, _ := middleware.GetUserIDFromContext(r.Context())
	sub, err := h.grading.ReportCase(r.Context(), chi.URLParam(r, "submissionID"), judgeID, rep)
	h.respond(w, judgeID, sub, err)
}

func (h *JudgeHandler) final(w http.ResponseWriter, r *http.Request) {
	var rep service.FinalReport
	if !decodeJSON(w, r, &rep) {
		return
	}
	judgeID, _ := middleware.GetUserIDFromContext(r.Context())
	sub, err := h.grading.ReportFinal(r.Context(), chi.URLParam(r, "submissionID"), judgeID, rep)
	h.respond(w, judgeID, sub, err)
}

type judgeAck struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

func (h *JudgeHandler) respond(w http.ResponseWriter, judgeID string, sub *model.Submission, err error) {
	if err != nil {
		h.log.Warnw("judge report rejected", "judge_id", judgeID, "error", err)
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, judgeAck{SubmissionID: sub.ID, Status: string(sub.Status)})
}
