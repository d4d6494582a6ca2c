package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/http/response"
	"github.com/edgeward/fleet-backend/internal/services"
)

type DeviceHandler struct {
	devices services.DeviceService
}

func NewDeviceHandler(devices services.DeviceService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

type deviceReportRequest struct {
	BundleID     uuid.UUID `json:"bundle_id"`
	Version      string    `json:"version"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message"`
}

// GET /api/devices/:id/desired
//
// If-None-Match matching the current assignment yields 304. With ?wait= the
// request is held until the assignment changes or the wait elapses.
func (h *DeviceHandler) Desired(c *gin.Context) {
	deviceID, err := uuidParam(c, "id")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	wait, err := durationQuery(c, "wait")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	inm := strings.TrimSpace(c.GetHeader("If-None-Match"))

	var ds *types.DesiredState
	if wait > 0 && inm != "" {
		var changed bool
		ds, changed, err = h.devices.WaitDesired(c.Request.Context(), deviceID, inm, wait)
		if err != nil {
			response.RespondDomainError(c, err)
			return
		}
		if !changed {
			etag := ""
			if ds != nil {
				etag = ds.ETag()
			}
			response.NotModified(c, etag)
			return
		}
		if ds == nil {
			response.RespondDomainError(c, domainagg.NewError(domainagg.CodeNotFound, "Devices.Desired", "no desired state for device", nil))
			return
		}
	} else {
		ds, err = h.devices.GetDesired(c.Request.Context(), deviceID)
		if err != nil {
			response.RespondDomainError(c, err)
			return
		}
	}

	etag := ds.ETag()
	if inm != "" && strings.TrimPrefix(inm, "W/") == etag {
		response.NotModified(c, etag)
		return
	}
	response.RespondTagged(c, http.StatusOK, etag, gin.H{"desired_state": ds})
}

// POST /api/devices/:id/report
func (h *DeviceHandler) Report(c *gin.Context) {
	deviceID, err := uuidParam(c, "id")
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	var req deviceReportRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	res, err := h.devices.Report(c.Request.Context(), services.DeviceReport{
		DeviceID:     deviceID,
		BundleID:     req.BundleID,
		Version:      req.Version,
		Status:       req.Status,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, res)
}
