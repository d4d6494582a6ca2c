package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--api", srvURL}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestParsePlan(t *testing.T) {
	bundleID := uuid.New()
	groupID := uuid.New()
	raw := []byte(`
name: sensor-fw 2.0
bundle_id: ` + bundleID.String() + `
target_version: 2.0.0
previous_version: 1.9.3
target_device_group_id: ` + groupID.String() + `
failure_threshold: 0.1
phases:
  - name: canary
    percentage: 5
    min_healthy_duration: 30m
  - name: fleet
    percentage: 95
`)
	req, err := parsePlan(raw)
	require.NoError(t, err)
	assert.Equal(t, bundleID, req.BundleID)
	assert.Equal(t, groupID, req.TargetDeviceGroupID)
	assert.Equal(t, "sensor-fw 2.0", req.Name)
	require.NotNil(t, req.PreviousVersion)
	assert.Equal(t, "1.9.3", *req.PreviousVersion)
	assert.Nil(t, req.Description)
	require.NotNil(t, req.FailureThreshold)
	assert.InDelta(t, 0.1, *req.FailureThreshold, 1e-9)
	require.Len(t, req.Phases, 2)
	require.NotNil(t, req.Phases[0].MinHealthyDurationSeconds)
	assert.EqualValues(t, 1800, *req.Phases[0].MinHealthyDurationSeconds)
	assert.Nil(t, req.Phases[1].MinHealthyDurationSeconds)
}

func TestParsePlanRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"bad bundle":   "bundle_id: nope\ntarget_device_group_id: " + uuid.NewString(),
		"bad group":    "bundle_id: " + uuid.NewString() + "\ntarget_device_group_id: nope",
		"bad duration": "bundle_id: " + uuid.NewString() + "\ntarget_device_group_id: " + uuid.NewString() + "\nphases:\n  - name: a\n    percentage: 100\n    min_healthy_duration: soon",
		"bad yaml":     "phases: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parsePlan([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestCreateFromPlanFile(t *testing.T) {
	tenant := uuid.New()
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rollouts", r.URL.Path)
		assert.Equal(t, tenant.String(), r.Header.Get("X-Tenant-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"rollout":{"id":"` + uuid.NewString() + `","name":"plan","status":"pending"}}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "plan.yaml")
	plan := "name: plan\nbundle_id: " + uuid.NewString() + "\ntarget_version: 2.0.0\ntarget_device_group_id: " + uuid.NewString() + "\nphases:\n  - name: all\n    percentage: 100\n"
	require.NoError(t, os.WriteFile(path, []byte(plan), 0o644))

	out, err := runRoot(t, srv.URL, "--tenant", tenant.String(), "rollouts", "create", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "pending"`)
	assert.Equal(t, "2.0.0", body["target_version"])
}

func TestLifecycleCommandFlags(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rollouts/"+id.String()+"/pause", r.URL.Path)
		assert.Equal(t, `"3"`, r.Header.Get("If-Match"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "error spike", body["reason"])
		_, hasPhase := body["expected_phase_number"]
		assert.False(t, hasPhase)
		_, _ = w.Write([]byte(`{"rollout":{"id":"` + id.String() + `","status":"paused","version":4}}`))
	}))
	defer srv.Close()

	out, err := runRoot(t, srv.URL, "rollouts", "pause", id.String(), "--reason", "error spike", "--if-version", "3")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "paused"`)
}

func TestCommandSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"rollout not found","code":"not_found"}}`))
	}))
	defer srv.Close()

	_, err := runRoot(t, srv.URL, "rollouts", "get", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollout not found")
}

func TestFlatStatusValidatesLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	}))
	defer srv.Close()

	_, err := runRoot(t, srv.URL, "flat", "status", uuid.NewString(), "exploded")
	require.Error(t, err)

	_, err = runRoot(t, srv.URL, "rollouts", "get", "not-a-uuid")
	require.Error(t, err)

	_, err = runRoot(t, srv.URL, "--tenant", "nope", "rollouts", "active")
	require.Error(t, err)
}

func TestFlatCreateSendsTargets(t *testing.T) {
	bundleID := uuid.New()
	targets := []string{uuid.NewString(), uuid.NewString()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			BundleID   uuid.UUID   `json:"bundle_id"`
			Version    string      `json:"version"`
			TargetType string      `json:"target_type"`
			TargetIDs  []uuid.UUID `json:"target_ids"`
			AssignedBy string      `json:"assigned_by"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, bundleID, body.BundleID)
		assert.Equal(t, "group", body.TargetType)
		assert.Len(t, body.TargetIDs, 2)
		assert.Equal(t, "ops", body.AssignedBy)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"rollout_group_id":"` + uuid.NewString() + `","device_count":6,"records":[]}`))
	}))
	defer srv.Close()

	out, err := runRoot(t, srv.URL, "--actor", "ops", "flat", "create",
		"--bundle", bundleID.String(), "--version", "1.0.0", "--target-type", "group",
		"--target", targets[0], "--target", targets[1])
	require.NoError(t, err)
	assert.Contains(t, out, `"device_count": 6`)
}
