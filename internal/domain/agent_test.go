package domain

import (
	"encoding/json"
	"testing"
)

func TestInstanceStatusJSON(t *testing.T) {
	status := InstanceStatus{
		ID:          "sales",
		Name:        "Sales Bot",
		Workspace:   "/srv/bots/sales",
		Model:       "gpt-4o-mini",
		ToolServers: []string{"search", "crm"},
		Running:     true,
	}

	data, err := json.Marshal(status)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["mcps"]; !ok {
		t.Errorf("tool servers should be encoded as mcps, got %s", data)
	}

	var decoded InstanceStatus
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != status.ID || !decoded.Running {
		t.Errorf("got %+v, want %+v", decoded, status)
	}
	if len(decoded.ToolServers) != 2 {
		t.Errorf("ToolServers: got %d, want 2", len(decoded.ToolServers))
	}
}

func TestInstanceStatusZeroValue(t *testing.T) {
	var status InstanceStatus
	data, err := json.Marshal(status)
	if err != nil {
		t.Fatalf("marshal zero value: %v", err)
	}

	var decoded InstanceStatus
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal zero value: %v", err)
	}
	if decoded.ID != "" || decoded.Running {
		t.Errorf("expected zero value, got %+v", decoded)
	}
	if decoded.ToolServers != nil {
		t.Errorf("expected nil ToolServers, got %v", decoded.ToolServers)
	}
}
