package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"tle_zone_judge/internal/api/middleware"
	"tle_zone_judge/internal/common"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON reads and validates the request body into dst. It writes the 400
// response itself and reports whether the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return false
	}
	return true
}

func currentUser(w http.ResponseWriter, r *http.Request) (userID, role string, ok bool) {
	userID, ok = middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return "", "", false
	}
	role, _ = middleware.GetUserRoleFromContext(r.Context())
	return userID, role, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
