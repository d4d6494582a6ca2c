package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	types "github.com/edgeward/fleet-backend/internal/domain"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
)

type rolloutEnvelope struct {
	Rollout *types.Rollout `json:"rollout"`
}

type rolloutsEnvelope struct {
	Rollouts []*types.Rollout `json:"rollouts"`
}

func (c *Client) CreateRollout(ctx context.Context, req CreateRolloutRequest) (*types.Rollout, error) {
	var resp rolloutEnvelope
	if _, err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/rollouts", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Rollout, nil
}

func (c *Client) GetRollout(ctx context.Context, id uuid.UUID) (*types.Rollout, error) {
	var resp rolloutEnvelope
	if _, err := c.doJSON(ctx, c.timeout, http.MethodGet, "/api/rollouts/"+id.String(), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rollout, nil
}

func (c *Client) ListRollouts(ctx context.Context, opts ListRolloutsOptions) (RolloutPage, error) {
	q := url.Values{}
	if opts.BundleID != uuid.Nil {
		q.Set("bundle_id", opts.BundleID.String())
	}
	if s := strings.TrimSpace(opts.Status); s != "" {
		q.Set("status", s)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	path := "/api/rollouts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page RolloutPage
	_, err := c.doJSON(ctx, c.timeout, http.MethodGet, path, nil, nil, &page)
	return page, err
}

func (c *Client) ActiveRollouts(ctx context.Context) ([]*types.Rollout, error) {
	var resp rolloutsEnvelope
	if _, err := c.doJSON(ctx, c.timeout, http.MethodGet, "/api/rollouts/active", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rollouts, nil
}

func (c *Client) RolloutHistory(ctx context.Context, bundleID uuid.UUID) ([]*types.Rollout, error) {
	var resp rolloutsEnvelope
	if _, err := c.doJSON(ctx, c.timeout, http.MethodGet, "/api/bundles/"+bundleID.String()+"/rollouts", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rollouts, nil
}

func (c *Client) RolloutEvents(ctx context.Context, id uuid.UUID) ([]*types.RolloutEvent, error) {
	var resp struct {
		Events []*types.RolloutEvent `json:"events"`
	}
	if _, err := c.doJSON(ctx, c.timeout, http.MethodGet, "/api/rollouts/"+id.String()+"/events", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Command runs a lifecycle command (start, pause, resume, advance, rollback,
// cancel, fail) against a rollout.
func (c *Client) Command(ctx context.Context, id uuid.UUID, cmd rollouts.Command, opts CommandOptions) (*types.Rollout, error) {
	var hdr http.Header
	if opts.ExpectedVersion != nil {
		hdr = http.Header{}
		hdr.Set("If-Match", `"`+strconv.FormatInt(*opts.ExpectedVersion, 10)+`"`)
	}
	var resp rolloutEnvelope
	if _, err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/rollouts/"+id.String()+"/"+string(cmd), hdr, opts, &resp); err != nil {
		return nil, err
	}
	return resp.Rollout, nil
}

func (c *Client) ReportAssignment(ctx context.Context, rolloutID, deviceID uuid.UUID, status rollouts.AssignmentStatus, errorMessage string) (AssignmentResult, error) {
	body := map[string]string{"status": string(status)}
	if errorMessage != "" {
		body["error_message"] = errorMessage
	}
	var res AssignmentResult
	_, err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/rollouts/"+rolloutID.String()+"/assignments/"+deviceID.String()+"/report", nil, body, &res)
	return res, err
}

func (c *Client) RetryAssignment(ctx context.Context, rolloutID, deviceID uuid.UUID) (AssignmentResult, error) {
	var res AssignmentResult
	_, err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/rollouts/"+rolloutID.String()+"/assignments/"+deviceID.String()+"/retry", nil, nil, &res)
	return res, err
}

func (c *Client) CreateFlatRollout(ctx context.Context, req CreateFlatRolloutRequest) (FlatRolloutCreated, error) {
	var res FlatRolloutCreated
	_, err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/flat-rollouts", nil, req, &res)
	return res, err
}

func (c *Client) GetFlatRollout(ctx context.Context, groupID uuid.UUID) (FlatGroupDetail, error) {
	var res FlatGroupDetail
	_, err := c.doJSON(ctx, c.timeout, http.MethodGet, "/api/flat-rollouts/"+groupID.String(), nil, nil, &res)
	return res, err
}

func (c *Client) CancelFlatRollout(ctx context.Context, groupID uuid.UUID) (FlatCancelResult, error) {
	var res FlatCancelResult
	_, err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/flat-rollouts/"+groupID.String()+"/cancel", nil, nil, &res)
	return res, err
}

func (c *Client) FlatRolloutsByBundle(ctx context.Context, bundleID uuid.UUID) ([]rollouts.FlatGroupSummary, error) {
	var resp struct {
		Groups []rollouts.FlatGroupSummary `json:"groups"`
	}
	if _, err := c.doJSON(ctx, c.timeout, http.MethodGet, "/api/bundles/"+bundleID.String()+"/flat-rollouts", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

func (c *Client) UpdateFlatRecordStatus(ctx context.Context, recordID uuid.UUID, status rollouts.FlatStatus, errorMessage string) (*types.FlatRolloutRecord, error) {
	body := map[string]string{"status": string(status)}
	if errorMessage != "" {
		body["error_message"] = errorMessage
	}
	var resp struct {
		Record *types.FlatRolloutRecord `json:"record"`
	}
	if _, err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/flat-rollout-records/"+recordID.String()+"/status", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// Desired fetches a device's desired state. With a non-empty etag and wait the
// server holds the request until the assignment changes; an unchanged
// assignment yields ErrNotModified along with the current ETag.
func (c *Client) Desired(ctx context.Context, deviceID uuid.UUID, etag string, wait time.Duration) (*types.DesiredState, string, error) {
	path := "/api/devices/" + deviceID.String() + "/desired"
	if wait > 0 {
		path += "?wait=" + strconv.Itoa(int(wait/time.Second))
	}
	var hdr http.Header
	if etag != "" {
		hdr = http.Header{}
		hdr.Set("If-None-Match", etag)
	}
	var resp struct {
		DesiredState *types.DesiredState `json:"desired_state"`
	}
	respHdr, err := c.doJSON(ctx, c.timeout+wait, http.MethodGet, path, hdr, nil, &resp)
	newTag := ""
	if respHdr != nil {
		newTag = respHdr.Get("ETag")
	}
	if err != nil {
		if errors.Is(err, ErrNotModified) {
			return nil, newTag, err
		}
		return nil, "", err
	}
	return resp.DesiredState, newTag, nil
}

func (c *Client) Report(ctx context.Context, deviceID uuid.UUID, report DeviceReport) (DeviceReportResult, error) {
	var res DeviceReportResult
	_, err := c.doJSON(ctx, c.timeout, http.MethodPost, "/api/devices/"+deviceID.String()+"/report", nil, report, &res)
	return res, err
}
