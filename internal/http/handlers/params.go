package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/platform/ctxutil"
)

func caller(c *gin.Context) (uuid.UUID, string) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil {
		return uuid.Nil, ""
	}
	return rd.TenantID, rd.Actor
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, domainagg.NewError(domainagg.CodeValidation, "http", fmt.Sprintf("invalid %s", name), nil)
	}
	return id, nil
}

func optionalUUIDQuery(c *gin.Context, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domainagg.NewError(domainagg.CodeValidation, "http", fmt.Sprintf("invalid %s", name), nil)
	}
	return id, nil
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// durationQuery accepts "30s" style durations or a bare number of seconds.
func durationQuery(c *gin.Context, name string) (time.Duration, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, domainagg.NewError(domainagg.CodeValidation, "http", fmt.Sprintf("invalid %s", name), nil)
	}
	return d, nil
}

// ifMatchVersion parses an If-Match header carrying a rollout version.
func ifMatchVersion(c *gin.Context) (*int64, error) {
	raw := strings.TrimSpace(c.GetHeader("If-Match"))
	if raw == "" || raw == "*" {
		return nil, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, "http", "invalid If-Match header", nil)
	}
	return &v, nil
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return domainagg.NewError(domainagg.CodeValidation, "http", "invalid request body: "+err.Error(), nil)
	}
	return nil
}
