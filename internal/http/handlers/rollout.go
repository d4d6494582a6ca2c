package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edgeward/fleet-backend/internal/data/repos"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/http/response"
	"github.com/edgeward/fleet-backend/internal/services"
)

type RolloutHandler struct {
	rollouts services.RolloutService
}

func NewRolloutHandler(rollouts services.RolloutService) *RolloutHandler {
	return &RolloutHandler{rollouts: rollouts}
}

type phaseRequest struct {
	Name                      string  `json:"name"`
	Percentage                float64 `json:"percentage"`
	MinHealthyDurationSeconds *int64  `json:"min_healthy_duration_seconds"`
}

type createRolloutRequest struct {
	BundleID            uuid.UUID      `json:"bundle_id"`
	TargetVersion       string         `json:"target_version"`
	PreviousVersion     *string        `json:"previous_version"`
	Name                string         `json:"name"`
	Description         *string        `json:"description"`
	TargetDeviceGroupID uuid.UUID      `json:"target_device_group_id"`
	FailureThreshold    *float64       `json:"failure_threshold"`
	Phases              []phaseRequest `json:"phases"`
}

type commandRequest struct {
	Reason              string `json:"reason"`
	ExpectedPhaseNumber *int   `json:"expected_phase_number"`
}

type assignmentReportRequest struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// POST /api/rollouts
func (h *RolloutHandler) Create(c *gin.Context) {
	var req createRolloutRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	tenantID, actor := caller(c)
	in := domainagg.CreateRolloutInput{
		TenantID:            tenantID,
		BundleID:            req.BundleID,
		TargetVersion:       req.TargetVersion,
		PreviousVersion:     req.PreviousVersion,
		Name:                req.Name,
		Description:         req.Description,
		TargetDeviceGroupID: req.TargetDeviceGroupID,
		FailureThreshold:    req.FailureThreshold,
	}
	if actor != "" {
		in.CreatedBy = &actor
	}
	for _, p := range req.Phases {
		spec := domainagg.PhaseSpec{Name: p.Name, Percentage: p.Percentage}
		if p.MinHealthyDurationSeconds != nil {
			d := time.Duration(*p.MinHealthyDurationSeconds) * time.Second
			spec.MinHealthyDuration = &d
		}
		in.Phases = append(in.Phases, spec)
	}
	r, err := h.rollouts.Create(c.Request.Context(), in)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondTagged(c, http.StatusCreated, response.VersionETag(r.Version), gin.H{"rollout": r})
}

// GET /api/rollouts
func (h *RolloutHandler) List(c *gin.Context) {
	tenantID, _ := caller(c)
	bundleID, err := optionalUUIDQuery(c, "bundle_id")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	filter := repos.RolloutListFilter{
		TenantID: tenantID,
		BundleID: bundleID,
		Status:   c.Query("status"),
		Page:     intQuery(c, "page", 1),
		PageSize: intQuery(c, "page_size", 0),
	}.Normalize()
	rows, total, err := h.rollouts.List(c.Request.Context(), filter)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"rollouts":  rows,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

// GET /api/rollouts/active
func (h *RolloutHandler) Active(c *gin.Context) {
	tenantID, _ := caller(c)
	rows, err := h.rollouts.ListActive(c.Request.Context(), tenantID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"rollouts": rows})
}

// GET /api/bundles/:id/rollouts
func (h *RolloutHandler) History(c *gin.Context) {
	bundleID, err := uuidParam(c, "id")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	tenantID, _ := caller(c)
	rows, err := h.rollouts.History(c.Request.Context(), tenantID, bundleID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"rollouts": rows})
}

// GET /api/rollouts/:id
func (h *RolloutHandler) Get(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	tenantID, _ := caller(c)
	r, err := h.rollouts.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondTagged(c, http.StatusOK, response.VersionETag(r.Version), gin.H{"rollout": r})
}

// GET /api/rollouts/:id/events
func (h *RolloutHandler) Events(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	tenantID, _ := caller(c)
	rows, err := h.rollouts.Events(c.Request.Context(), tenantID, id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"events": rows})
}

// Command serves POST /api/rollouts/:id/<cmd>. The body is optional; If-Match
// carries the expected rollout version.
func (h *RolloutHandler) Command(cmd rollouts.Command) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuidParam(c, "id")
		if err != nil {
			response.RespondDomainError(c, err)
			return
		}
		var req commandRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
				response.RespondDomainError(c, domainagg.NewError(domainagg.CodeValidation, "http", "invalid request body: "+err.Error(), nil))
				return
			}
		}
		expected, err := ifMatchVersion(c)
		if err != nil {
			response.RespondDomainError(c, err)
			return
		}
		tenantID, actor := caller(c)
		r, err := h.rollouts.Execute(c.Request.Context(), cmd, domainagg.RolloutCommandInput{
			TenantID:            tenantID,
			RolloutID:           id,
			Actor:               actor,
			Reason:              req.Reason,
			ExpectedVersion:     expected,
			ExpectedPhaseNumber: req.ExpectedPhaseNumber,
		})
		if err != nil {
			response.RespondDomainError(c, err)
			return
		}
		response.RespondTagged(c, http.StatusOK, response.VersionETag(r.Version), gin.H{"rollout": r})
	}
}

// POST /api/rollouts/:id/assignments/:deviceId/report
func (h *RolloutHandler) ReportAssignment(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	deviceID, err := uuidParam(c, "deviceId")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	var req assignmentReportRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	status, ok := rollouts.ParseAssignmentStatus(req.Status)
	if !ok {
		response.RespondDomainError(c, domainagg.NewError(domainagg.CodeValidation, "http", "unknown assignment status", nil))
		return
	}
	tenantID, _ := caller(c)
	res, err := h.rollouts.ReportAssignment(c.Request.Context(), domainagg.ReportAssignmentInput{
		TenantID:     tenantID,
		RolloutID:    id,
		DeviceID:     deviceID,
		Status:       status,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assignment": res.Assignment, "phase": res.Phase, "changed": res.Changed})
}

// POST /api/rollouts/:id/assignments/:deviceId/retry
func (h *RolloutHandler) RetryAssignment(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	deviceID, err := uuidParam(c, "deviceId")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	tenantID, actor := caller(c)
	res, err := h.rollouts.RetryAssignment(c.Request.Context(), domainagg.RetryAssignmentInput{
		TenantID:  tenantID,
		RolloutID: id,
		DeviceID:  deviceID,
		Actor:     actor,
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assignment": res.Assignment, "phase": res.Phase})
}
