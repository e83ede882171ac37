package middleware

import (
	"errors"
	"log"
	"net/http"

	apiError "collaborative-draft-editor/internal/errors"
	"collaborative-draft-editor/internal/metrics"

	"github.com/gin-gonic/gin"
)

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	*apiError.APIError
	Retryable bool `json:"retryable"`
}

// ErrorHandler renders the last error of a request as an errorResponse
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next() // Execute the handler first

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *apiError.APIError
		if !errors.As(err, &apiErr) {
			// If it's a raw error we didn't wrap, treat as Internal
			apiErr = apiError.Internal(err)
		}

		if apiErr.Status >= http.StatusInternalServerError {
			log.Printf("[ERROR] %s %s: %s: %v\n", c.Request.Method, c.FullPath(), apiErr.Message, apiErr.Internal)
		} else {
			log.Printf("[INFO] %s %s: %s: %s\n", c.Request.Method, c.FullPath(), apiErr.Kind, apiErr.Message)
		}
		metrics.RequestsRejected.WithLabelValues(string(apiErr.Kind)).Inc()

		if apiErr.Status == http.StatusServiceUnavailable {
			c.Header("Retry-After", "1")
		}
		c.AbortWithStatusJSON(apiErr.Status, errorResponse{APIError: apiErr, Retryable: apiErr.Retryable()})
	}
}
