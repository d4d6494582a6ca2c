package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// APIError is the body of every non-2xx JSON response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Abort stops the handler chain with an error envelope.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: message, Code: code}})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// VersionETag renders a rollout version as a strong entity tag.
func VersionETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// RespondTagged writes payload with an ETag header; an empty etag is omitted.
func RespondTagged(c *gin.Context, status int, etag string, payload any) {
	if etag != "" {
		c.Header("ETag", etag)
	}
	c.JSON(status, payload)
}

// NotModified answers a conditional GET whose tag still matches.
func NotModified(c *gin.Context, etag string) {
	if etag != "" {
		c.Header("ETag", etag)
	}
	c.Status(http.StatusNotModified)
}
