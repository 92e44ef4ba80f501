package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorBody é o corpo JSON de toda resposta de erro do gateway.
type ErrorBody struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
}

// now é variável para os testes fixarem o timestamp.
var now = time.Now

func WriteError(w http.ResponseWriter, status int, errText, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Timestamp: now().UTC(),
		Status:    status,
		Error:     errText,
		Message:   message,
	})
}
