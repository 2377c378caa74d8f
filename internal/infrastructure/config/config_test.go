package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "agent:\n  devices: devices.xml\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Buffer.Size != 17 {
		t.Errorf("Buffer.Size = %d, want 17", cfg.Buffer.Size)
	}
	if cfg.Buffer.CheckpointFrequency != 1000 {
		t.Errorf("CheckpointFrequency = %d, want 1000", cfg.Buffer.CheckpointFrequency)
	}
	if cfg.Assets.Max != 1024 {
		t.Errorf("Assets.Max = %d, want 1024", cfg.Assets.Max)
	}
	if cfg.HTTP.Port != 5000 {
		t.Errorf("HTTP.Port = %d, want 5000", cfg.HTTP.Port)
	}
	if cfg.Agent.JsonVersion != 2 {
		t.Errorf("JsonVersion = %d, want 2", cfg.Agent.JsonVersion)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
agent:
  devices: /etc/mtc/devices.xml
  schema_version: "1.7"
  pretty: true
buffer:
  size: 12
http:
  port: 5001
adapters:
  - host: machine-1
    port: 7878
    auto_available: true
    heartbeat: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agent.SchemaVersion != "1.7" {
		t.Errorf("SchemaVersion = %q, want 1.7", cfg.Agent.SchemaVersion)
	}
	if cfg.Buffer.Size != 12 {
		t.Errorf("Buffer.Size = %d, want 12", cfg.Buffer.Size)
	}
	if len(cfg.Adapters) != 1 || !cfg.Adapters[0].AutoAvailable {
		t.Errorf("Adapters = %+v", cfg.Adapters)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MTCAGENT_HTTP_PORT", "6000")
	t.Setenv("MTCAGENT_MQTT_PASSWORD", "secret")

	path := writeConfig(t, "agent:\n  devices: devices.xml\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTP.Port != 6000 {
		t.Errorf("HTTP.Port = %d, want env override 6000", cfg.HTTP.Port)
	}
	if cfg.MQTT.Password != "secret" {
		t.Errorf("MQTT.Password not overridden from environment")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	path := writeConfig(t, `
agent:
  devices: ""
  json_version: 3
buffer:
  size: 2
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() accepted an invalid configuration")
	}
	for _, want := range []string{"agent.devices", "json_version", "buffer.size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateAdapterRequiresEndpoint(t *testing.T) {
	path := writeConfig(t, `
agent:
  devices: devices.xml
adapters:
  - device: "000"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted an adapter without host/port or url")
	}
}

func TestAdapterDurations(t *testing.T) {
	a := AdapterConfig{Heartbeat: 10}
	if got := a.HeartbeatInterval().Seconds(); got != 10 {
		t.Errorf("HeartbeatInterval = %vs, want 10s", got)
	}
	if got := a.ReconnectDelay().Seconds(); got != 1 {
		t.Errorf("ReconnectDelay floor = %vs, want 1s", got)
	}
}
