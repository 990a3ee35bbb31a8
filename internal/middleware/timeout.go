package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrRequestTimeout is the cancellation cause set by Timeout.
var ErrRequestTimeout = errors.New("middleware: request deadline exceeded")

// Timeout attaches a deadline of d to the request context and runs the chain
// synchronously, so gin.Context is only touched from one goroutine.
//
// Route resolution never fails on a deadline: the resolver falls back to the
// direct estimate and writes a response. Handlers that give up on ctx.Done()
// without writing get a 504 from here. A client that disconnected gets
// nothing.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeoutCause(c.Request.Context(), d, ErrRequestTimeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if c.Writer.Written() {
			return
		}
		if errors.Is(context.Cause(ctx), ErrRequestTimeout) {
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
				"error": "request timed out",
			})
		}
	}
}
