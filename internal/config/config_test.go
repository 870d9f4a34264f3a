package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Render.MaxChunkLength != 481 {
		t.Fatalf("expected default max chunk length 481, got %d", cfg.Render.MaxChunkLength)
	}
	if cfg.Render.StopTimeoutMS != 2000 {
		t.Fatalf("expected default stop timeout 2000, got %d", cfg.Render.StopTimeoutMS)
	}
	if cfg.Engine.Mode != "mock" || cfg.G2P.Mode != "mock" {
		t.Fatalf("expected mock backends by default, got engine=%s g2p=%s", cfg.Engine.Mode, cfg.G2P.Mode)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-render.yaml")
	data := []byte(`render:
  temp_root: /var/tmp/loqa
  max_chunk_length: 200
engine:
  mode: exec
  command: "kokoro-bridge --model /models/kokoro.onnx"
g2p:
  mode: exec
  espeak_command: "misaki-bridge espeak"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Render.TempRoot != "/var/tmp/loqa" || cfg.Render.MaxChunkLength != 200 {
		t.Fatalf("unexpected render config: %+v", cfg.Render)
	}
	if cfg.Engine.Command != "kokoro-bridge --model /models/kokoro.onnx" {
		t.Fatalf("unexpected engine command %q", cfg.Engine.Command)
	}
	if cfg.Engine.SampleRate != 24000 {
		t.Fatalf("expected default sample rate to survive partial file, got %d", cfg.Engine.SampleRate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_EMBEDDED", "false")
	t.Setenv("LOQA_RENDER_TEMP_ROOT", "/tmp/renders")
	t.Setenv("LOQA_RENDER_MAX_CHUNK_LENGTH", "300")
	t.Setenv("LOQA_RENDER_STOP_TIMEOUT_MS", "500")
	t.Setenv("LOQA_RENDER_DEFAULT_SPEED", "1.25")
	t.Setenv("LOQA_ENGINE_SAMPLE_RATE", "22050")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Embedded {
		t.Fatal("expected embedded override false")
	}
	if cfg.Render.TempRoot != "/tmp/renders" {
		t.Fatalf("expected temp root override, got %q", cfg.Render.TempRoot)
	}
	if cfg.Render.MaxChunkLength != 300 {
		t.Fatalf("expected max chunk length 300, got %d", cfg.Render.MaxChunkLength)
	}
	if cfg.Render.StopTimeoutMS != 500 {
		t.Fatalf("expected stop timeout 500, got %d", cfg.Render.StopTimeoutMS)
	}
	if cfg.Render.DefaultSpeed != 1.25 {
		t.Fatalf("expected speed 1.25, got %v", cfg.Render.DefaultSpeed)
	}
	if cfg.Engine.SampleRate != 22050 {
		t.Fatalf("expected sample rate 22050, got %d", cfg.Engine.SampleRate)
	}
	if cfg.EventStore.RetentionMode != "persistent" || !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("LOQA_ENGINE_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec engine without command")
	}
}

func TestValidateRejectsUnknownG2PMode(t *testing.T) {
	t.Setenv("LOQA_G2P_MODE", "python")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown g2p mode")
	}
}
