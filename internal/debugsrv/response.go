package debugsrv

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the envelope every endpoint answers with. Grounded on
// internal/controlplane/api/handlers/response.go's Response type.
type Response struct {
	Status    string `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data})
}

func errResponse(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Status: "error", Timestamp: time.Now().UTC(), Error: msg})
}
