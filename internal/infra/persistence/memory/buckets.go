package memory

import (
	"encoding/json"
	"fmt"
)

// Buckets lists the snapshot buckets written by the snapshotting stores, in write order.
var Buckets = []string{
	"users",
	"mop_files",
	"pipelines",
	"pipeline_steps",
	"pipeline_executions",
	"shared_pipelines",
	"team_members",
	"integration_settings",
	"sequences",
}

func (s *Snapshot) bucketTargets() map[string]any {
	return map[string]any{
		"users":                &s.Users,
		"mop_files":            &s.MopFiles,
		"pipelines":            &s.Pipelines,
		"pipeline_steps":       &s.Steps,
		"pipeline_executions":  &s.Executions,
		"shared_pipelines":     &s.Shares,
		"team_members":         &s.Team,
		"integration_settings": &s.Settings,
		"sequences":            &s.Sequences,
	}
}

// EncodeBuckets marshals every bucket of the snapshot to JSON.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	targets := s.bucketTargets()
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		data, err := json.Marshal(targets[bucket])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from bucket payloads. Unknown buckets and
// empty payloads are ignored.
func DecodeBuckets(payloads map[string][]byte) (Snapshot, error) {
	var snapshot Snapshot
	targets := snapshot.bucketTargets()
	for bucket, payload := range payloads {
		if len(payload) == 0 {
			continue
		}
		target, ok := targets[bucket]
		if !ok {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	return snapshot, nil
}
