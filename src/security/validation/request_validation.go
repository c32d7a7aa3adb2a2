package validation

import (
	"fmt"
	"mime"
	"strings"

	"github.com/username/fintrack/backend/src/logger"
)

// MaxRequestBodyBytes caps JSON request bodies.
const MaxRequestBodyBytes = 64 << 10

// ValidateJSONContentType checks the Content-Type header of a request with a body.
func ValidateJSONContentType(contentType string) error {
	if contentType == "" {
		return fmt.Errorf("missing Content-Type, expected application/json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		logger.L.Warn("Malformed client Content-Type", "contentType", contentType, "error", err)
		return fmt.Errorf("malformed Content-Type '%s'", contentType)
	}
	if strings.ToLower(mediaType) != "application/json" {
		logger.L.Warn("Disallowed client-declared Content-Type", "contentType", contentType)
		return fmt.Errorf("content type '%s' is not allowed, expected application/json", mediaType)
	}
	return nil
}
