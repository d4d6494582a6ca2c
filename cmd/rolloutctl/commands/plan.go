package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgeward/fleet-backend/internal/client"
)

// planFile is the on-disk rollout plan accepted by "rollouts create -f".
type planFile struct {
	Name                string      `yaml:"name"`
	Description         string      `yaml:"description"`
	BundleID            string      `yaml:"bundle_id"`
	TargetVersion       string      `yaml:"target_version"`
	PreviousVersion     string      `yaml:"previous_version"`
	TargetDeviceGroupID string      `yaml:"target_device_group_id"`
	FailureThreshold    *float64    `yaml:"failure_threshold"`
	Phases              []planPhase `yaml:"phases"`
}

type planPhase struct {
	Name       string  `yaml:"name"`
	Percentage float64 `yaml:"percentage"`
	// MinHealthy is a duration string ("30m"); empty means manual advance only.
	MinHealthy string `yaml:"min_healthy_duration"`
}

func loadPlan(path string) (client.CreateRolloutRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return client.CreateRolloutRequest{}, fmt.Errorf("read plan: %w", err)
	}
	return parsePlan(raw)
}

func parsePlan(raw []byte) (client.CreateRolloutRequest, error) {
	var p planFile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return client.CreateRolloutRequest{}, fmt.Errorf("parse plan: %w", err)
	}
	bundleID, err := parseID(p.BundleID, "bundle_id")
	if err != nil {
		return client.CreateRolloutRequest{}, err
	}
	groupID, err := parseID(p.TargetDeviceGroupID, "target_device_group_id")
	if err != nil {
		return client.CreateRolloutRequest{}, err
	}
	req := client.CreateRolloutRequest{
		BundleID:            bundleID,
		TargetVersion:       strings.TrimSpace(p.TargetVersion),
		Name:                strings.TrimSpace(p.Name),
		TargetDeviceGroupID: groupID,
		FailureThreshold:    p.FailureThreshold,
	}
	if v := strings.TrimSpace(p.PreviousVersion); v != "" {
		req.PreviousVersion = &v
	}
	if d := strings.TrimSpace(p.Description); d != "" {
		req.Description = &d
	}
	for i, ph := range p.Phases {
		out := client.PhaseRequest{Name: strings.TrimSpace(ph.Name), Percentage: ph.Percentage}
		if mh := strings.TrimSpace(ph.MinHealthy); mh != "" {
			d, err := time.ParseDuration(mh)
			if err != nil || d < 0 {
				return client.CreateRolloutRequest{}, fmt.Errorf("phase %d: invalid min_healthy_duration %q", i, mh)
			}
			secs := int64(d / time.Second)
			out.MinHealthyDurationSeconds = &secs
		}
		req.Phases = append(req.Phases, out)
	}
	return req, nil
}
