// Package httpx holds the small HTTP response/error vocabulary shared by
// every controller.
package httpx

import (
	"encoding/json"
	"net/http"
)

// RespondJSON writes payload as the JSON body with the given status code.
// payload is expected to be a map or struct that already carries
// "success": true - callers build the success shape themselves since it
// varies per endpoint.
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorBody is the wire shape mandated by spec.md §6/§7: {"success": false, "error": "<code>"}.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// RespondError writes the standard {success:false, error:"<code>"} body.
func RespondError(w http.ResponseWriter, status int, code string) {
	RespondJSON(w, status, errorBody{Success: false, Error: code})
}
