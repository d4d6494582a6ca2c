package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/http/response"
	"github.com/edgeward/fleet-backend/internal/services"
)

type FlatRolloutHandler struct {
	flat services.FlatRolloutService
}

func NewFlatRolloutHandler(flat services.FlatRolloutService) *FlatRolloutHandler {
	return &FlatRolloutHandler{flat: flat}
}

type createFlatRolloutRequest struct {
	BundleID   uuid.UUID   `json:"bundle_id"`
	Version    string      `json:"version"`
	TargetType string      `json:"target_type"`
	TargetIDs  []uuid.UUID `json:"target_ids"`
	AssignedBy string      `json:"assigned_by"`
}

type flatStatusRequest struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// POST /api/flat-rollouts
func (h *FlatRolloutHandler) Create(c *gin.Context) {
	var req createFlatRolloutRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	tenantID, actor := caller(c)
	assignedBy := req.AssignedBy
	if assignedBy == "" {
		assignedBy = actor
	}
	res, err := h.flat.Create(c.Request.Context(), domainagg.CreateFlatRolloutInput{
		TenantID:   tenantID,
		BundleID:   req.BundleID,
		Version:    req.Version,
		TargetType: domainagg.TargetType(req.TargetType),
		TargetIDs:  req.TargetIDs,
		AssignedBy: assignedBy,
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{
		"rollout_group_id": res.RolloutGroupID,
		"device_count":     res.DeviceCount,
		"records":          res.Records,
	})
}

// GET /api/flat-rollouts/:groupId
func (h *FlatRolloutHandler) Get(c *gin.Context) {
	groupID, err := uuidParam(c, "groupId")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	tenantID, _ := caller(c)
	detail, err := h.flat.GetGroup(c.Request.Context(), tenantID, groupID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// POST /api/flat-rollouts/:groupId/cancel
func (h *FlatRolloutHandler) Cancel(c *gin.Context) {
	groupID, err := uuidParam(c, "groupId")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	tenantID, _ := caller(c)
	res, err := h.flat.Cancel(c.Request.Context(), domainagg.CancelFlatRolloutInput{TenantID: tenantID, RolloutGroupID: groupID})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"cancelled": res.Cancelled, "summary": res.Summary})
}

// GET /api/bundles/:id/flat-rollouts
func (h *FlatRolloutHandler) ListByBundle(c *gin.Context) {
	bundleID, err := uuidParam(c, "id")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	tenantID, _ := caller(c)
	groups, err := h.flat.ListByBundle(c.Request.Context(), tenantID, bundleID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"groups": groups})
}

// POST /api/flat-rollout-records/:id/status
func (h *FlatRolloutHandler) UpdateStatus(c *gin.Context) {
	recordID, err := uuidParam(c, "id")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	var req flatStatusRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	tenantID, _ := caller(c)
	res, err := h.flat.UpdateStatus(c.Request.Context(), domainagg.UpdateFlatStatusInput{
		TenantID:     tenantID,
		RecordID:     recordID,
		Status:       rollouts.FlatStatus(req.Status),
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"record": res.Record})
}
