package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AttachRequestContext stamps every request with a request_id (always
// generated) and a trace_id (propagated from the caller when present, so
// errors and SSE events can be correlated back to whatever triggered them).
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			traceID = requestID
		}
		c.Set("request_id", requestID)
		c.Set("trace_id", traceID)
		c.Writer.Header().Set("X-Request-Id", requestID)
		c.Next()
	}
}
