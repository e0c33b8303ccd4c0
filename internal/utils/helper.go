package utils

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ParsePagination clamps page/limit query values to sane bounds.
func ParsePagination(pageStr, limitStr string) (page, limit int32) {
	page, limit = 1, 20

	if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
		page = int32(p)
	}
	if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
		limit = int32(l)
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func WriteJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func WriteJSONError(w http.ResponseWriter, message string, code int) {
	WriteJSON(w, code, map[string]string{"error": message})
}
