package ingest

import (
	"fmt"
	"strings"

	"github.com/mizuchi-search/mizuchi/internal/urlnorm"
)

const (
	maxTitleLength   = 1024
	maxContentLength = 1048576
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// Validate checks an ingestion request and returns the normalized URL.
// URL and content are required; the title is optional but capped.
func Validate(req *IngestRequest) (string, error) {
	errs := make(map[string]string)

	normalized := ""
	url := strings.TrimSpace(req.URL)
	if url == "" {
		errs["url"] = "url is required"
	} else {
		var ok bool
		normalized, ok = urlnorm.Normalize(url)
		if !ok {
			errs["url"] = "url must be a valid http(s) URL"
		}
	}

	if strings.TrimSpace(req.Content) == "" {
		errs["content"] = "content is required and must not be empty"
	} else if len(req.Content) > maxContentLength {
		errs["content"] = fmt.Sprintf("content must be at most %d characters", maxContentLength)
	}

	if len(req.Title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}

	if len(errs) > 0 {
		return "", &ValidationError{Fields: errs}
	}
	return normalized, nil
}
