package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		envPrefix + "ALSA_NAME", envPrefix + "CONTROL_FILENAME",
		envPrefix + "LOG_LEVEL", envPrefix + "LOG_FORMAT",
		envPrefix + "RTPMIDI_ANNOUNCES", envPrefix + "ALSA_ANNOUNCES",
		envPrefix + "CONNECT_TO", envPrefix + "RAWMIDI",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"midibridged"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ALSAName != defaultALSAName {
		t.Errorf("ALSAName = %q, want %q", cfg.ALSAName, defaultALSAName)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.HWAutoExport != ExportNone {
		t.Errorf("HWAutoExport = %q, want NONE", cfg.HWAutoExport)
	}
	if cfg.ControlFilename != defaultControlSocket {
		t.Errorf("ControlFilename = %q, want %q", cfg.ControlFilename, defaultControlSocket)
	}
}

func TestParseAnnounces(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"midibridged", "-rtpmidi-announces=Network=5004,Extra=5006"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.RTPMIDIAnnounces) != 2 {
		t.Fatalf("got %d announces, want 2", len(cfg.RTPMIDIAnnounces))
	}
	if cfg.RTPMIDIAnnounces[0] != (Announce{Name: "Network", Port: 5004}) {
		t.Errorf("announce[0] = %+v", cfg.RTPMIDIAnnounces[0])
	}
}

func TestParseConnectTo(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"midibridged", "-connect-to=studio=10.0.0.5:5004"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.ConnectTo) != 1 || cfg.ConnectTo[0].Hostname != "10.0.0.5" || cfg.ConnectTo[0].Port != 5004 {
		t.Fatalf("got %+v", cfg.ConnectTo)
	}
}

func TestParseRawMIDI(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"midibridged", "-rawmidi=/dev/midi1=legacy@127.0.0.1:5010:5012"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.RawMIDI) != 1 {
		t.Fatalf("got %d rawmidi entries, want 1", len(cfg.RawMIDI))
	}
	r := cfg.RawMIDI[0]
	if r.Device != "/dev/midi1" || r.Name != "legacy" || r.Hostname != "127.0.0.1" || r.LocalUDPPort != 5010 || r.RemoteUDPPort != 5012 {
		t.Fatalf("got %+v", r)
	}
}

func TestInvalidLogLevelRejected(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"midibridged", "-log-level=verbose"}
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an invalid log level")
	}
}

func TestInvalidHWAutoExportRejected(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"midibridged", "-alsa-hw-auto-export=EVERYTHING"}
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an invalid alsa-hw-auto-export value")
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"midibridged"}
	t.Setenv(envPrefix+"ALSA_NAME", "FromEnv")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ALSAName != "FromEnv" {
		t.Errorf("ALSAName = %q, want %q", cfg.ALSAName, "FromEnv")
	}
}

func TestCLIFlagTakesPrecedenceOverEnv(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"midibridged", "-alsa-name=FromFlag"}
	t.Setenv(envPrefix+"ALSA_NAME", "FromEnv")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ALSAName != "FromFlag" {
		t.Errorf("ALSAName = %q, want %q", cfg.ALSAName, "FromFlag")
	}
}
