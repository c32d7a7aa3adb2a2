package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/username/fintrack/backend/src/logger"
)

// GenerateETag creates a SHA256 hash of the JSON representation of the data.
// Returns the ETag string (hex-encoded hash) and any error during JSON marshaling.
func GenerateETag(data interface{}) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data for ETag generation: %w", err)
	}
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

// SendJSONError is a helper function to send JSON formatted error responses.
func SendJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	logger.L.Warn("Sending JSON error to client", "message", message, "statusCode", statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// SendJSON writes data with the given status code.
func SendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.L.Error("Error encoding JSON response", "error", err)
	}
}

// SendJSONWithETag writes data with a strong ETag and answers 304 when the
// request's If-None-Match already carries it.
func SendJSONWithETag(w http.ResponseWriter, r *http.Request, data interface{}) {
	w.Header().Set("Cache-Control", "no-cache, private")

	currentETag, err := GenerateETag(data)
	if err != nil {
		logger.L.Warn("Proceeding without ETag check due to ETag generation error", "path", r.URL.Path, "error", err)
		SendJSON(w, data, http.StatusOK)
		return
	}

	quotedETag := fmt.Sprintf("\"%s\"", currentETag)
	w.Header().Set("ETag", quotedETag)
	if clientETag := r.Header.Get("If-None-Match"); clientETag != "" {
		for _, cETag := range strings.Split(clientETag, ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				logger.L.Debug("ETag match", "path", r.URL.Path, "etag", currentETag)
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}
	SendJSON(w, data, http.StatusOK)
}
