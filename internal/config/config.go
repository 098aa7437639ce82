// Package config loads midibridged's runtime configuration: flags,
// then environment variable overrides for anything not set on the
// command line, then validation. Precedence: CLI flags > env vars >
// defaults.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ExportKind selects which local device kinds get auto-exported as
// RTP-MIDI endpoints.
type ExportKind string

const (
	ExportNone     ExportKind = "NONE"
	ExportHardware ExportKind = "HARDWARE"
	ExportSoftware ExportKind = "SOFTWARE"
	ExportSystem   ExportKind = "SYSTEM"
	ExportAll      ExportKind = "ALL"
)

// Announce is one local listener to bind and advertise.
type Announce struct {
	Name string
	Port int
}

// ConnectTo is one static outbound client endpoint to instantiate at
// startup.
type ConnectTo struct {
	Hostname string
	Port     int
	Name     string
}

// RawMIDI is one character-device-to-network bridge.
type RawMIDI struct {
	Device        string
	Name          string
	Hostname      string
	LocalUDPPort  int
	RemoteUDPPort int
}

// Discovery configures the mDNS auto-connect behavior.
type Discovery struct {
	Enabled           bool
	NamePositiveRegex string
	NameNegativeRegex string
}

// Config holds all runtime configuration for the bridging daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	ALSAName        string
	RTPMIDIAnnounces []Announce
	ALSAAnnounces    []string
	ConnectTo        []ConnectTo
	Discovery        Discovery
	HWAutoExport     ExportKind
	RawMIDI          []RawMIDI
	ControlFilename  string

	ControlAPIAddr string
	MetricsAddr    string

	LogLevel  string
	LogFormat string
}

const (
	defaultALSAName      = "Network"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultControlSocket = "./midibridged.control"
	defaultControlAPI    = "127.0.0.1:8080"
	defaultMetricsAddr   = "127.0.0.1:9090"
)

// envPrefix is the prefix for all midibridged environment variables.
const envPrefix = "MIDIBRIDGED_"

// Load parses configuration from CLI flags and environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("midibridged", flag.ContinueOnError)

	alsaName := fs.String("alsa-name", defaultALSAName, "display name of the local multi-listener port")
	announces := fs.String("rtpmidi-announces", "", "comma-separated name=port pairs of listeners to bind and advertise")
	alsaAnnounces := fs.String("alsa-announces", "", "comma-separated additional local-sequencer port names")
	connectTo := fs.String("connect-to", "", "comma-separated name=hostname:port outbound client endpoints")
	discoverEnabled := fs.Bool("rtpmidi-discover-enabled", false, "master switch for mDNS auto-connect")
	discoverPositive := fs.String("rtpmidi-discover-positive-regex", "", "include filter on discovered names")
	discoverNegative := fs.String("rtpmidi-discover-negative-regex", "", "exclude filter on discovered names (wins over include)")
	hwExport := fs.String("alsa-hw-auto-export", string(ExportNone), "which local device kinds to auto-export: NONE, HARDWARE, SOFTWARE, SYSTEM, ALL")
	rawmidi := fs.String("rawmidi", "", "comma-separated device=name@hostname:localport:remoteport raw-MIDI bridges")
	controlFilename := fs.String("control-filename", defaultControlSocket, "path of the control socket")
	controlAPIAddr := fs.String("control-api-addr", defaultControlAPI, "listen address for the HTTP control API")
	metricsAddr := fs.String("metrics-addr", defaultMetricsAddr, "listen address for the Prometheus metrics endpoint")
	logLevel := fs.String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	cfg.ALSAName = *alsaName
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	cfg.ControlFilename = *controlFilename
	cfg.ControlAPIAddr = *controlAPIAddr
	cfg.MetricsAddr = *metricsAddr
	cfg.Discovery = Discovery{
		Enabled:           *discoverEnabled,
		NamePositiveRegex: *discoverPositive,
		NameNegativeRegex: *discoverNegative,
	}
	cfg.HWAutoExport = ExportKind(strings.ToUpper(*hwExport))

	applyEnvOverrides(fs, cfg)

	var err error
	if cfg.RTPMIDIAnnounces, err = parseAnnounces(orEnv(*announces, envPrefix+"RTPMIDI_ANNOUNCES")); err != nil {
		return nil, fmt.Errorf("parsing rtpmidi-announces: %w", err)
	}
	cfg.ALSAAnnounces = splitNonEmpty(orEnv(*alsaAnnounces, envPrefix+"ALSA_ANNOUNCES"))
	if cfg.ConnectTo, err = parseConnectTo(orEnv(*connectTo, envPrefix+"CONNECT_TO")); err != nil {
		return nil, fmt.Errorf("parsing connect-to: %w", err)
	}
	if cfg.RawMIDI, err = parseRawMIDI(orEnv(*rawmidi, envPrefix+"RAWMIDI")); err != nil {
		return nil, fmt.Errorf("parsing rawmidi: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func orEnv(flagVal, envVar string) string {
	if flagVal != "" {
		return flagVal
	}
	if v, ok := os.LookupEnv(envVar); ok {
		return v
	}
	return ""
}

// applyEnvOverrides checks environment variables for any scalar flag
// not explicitly provided on the command line. CLI flags still take
// precedence.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	envMap := map[string]*string{
		"alsa-name":        &cfg.ALSAName,
		"control-filename": &cfg.ControlFilename,
		"control-api-addr": &cfg.ControlAPIAddr,
		"metrics-addr":     &cfg.MetricsAddr,
		"log-level":        &cfg.LogLevel,
		"log-format":       &cfg.LogFormat,
	}
	nameToEnv := map[string]string{
		"alsa-name":        envPrefix + "ALSA_NAME",
		"control-filename": envPrefix + "CONTROL_FILENAME",
		"control-api-addr": envPrefix + "CONTROL_API_ADDR",
		"metrics-addr":     envPrefix + "METRICS_ADDR",
		"log-level":        envPrefix + "LOG_LEVEL",
		"log-format":       envPrefix + "LOG_FORMAT",
	}
	for flagName, dest := range envMap {
		if set[flagName] {
			continue
		}
		if v, ok := os.LookupEnv(nameToEnv[flagName]); ok && v != "" {
			*dest = v
		}
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseAnnounces parses "name=port,name=port,...".
func parseAnnounces(s string) ([]Announce, error) {
	var out []Announce
	for _, part := range splitNonEmpty(s) {
		name, portStr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q, want name=port", part)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("malformed port in %q: %w", part, err)
		}
		out = append(out, Announce{Name: name, Port: port})
	}
	return out, nil
}

// parseConnectTo parses "name=hostname:port,...".
func parseConnectTo(s string) ([]ConnectTo, error) {
	var out []ConnectTo
	for _, part := range splitNonEmpty(s) {
		name, rest, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q, want name=hostname:port", part)
		}
		host, portStr, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q, want name=hostname:port", part)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("malformed port in %q: %w", part, err)
		}
		out = append(out, ConnectTo{Name: name, Hostname: host, Port: port})
	}
	return out, nil
}

// parseRawMIDI parses "device=name@hostname:localport:remoteport,...".
func parseRawMIDI(s string) ([]RawMIDI, error) {
	var out []RawMIDI
	for _, part := range splitNonEmpty(s) {
		device, rest, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q", part)
		}
		name, rest, ok := strings.Cut(rest, "@")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q, missing @hostname", part)
		}
		fields := strings.Split(rest, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed entry %q, want hostname:localport:remoteport", part)
		}
		localPort, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("malformed local port in %q: %w", part, err)
		}
		remotePort, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("malformed remote port in %q: %w", part, err)
		}
		out = append(out, RawMIDI{Device: device, Name: name, Hostname: fields[0], LocalUDPPort: localPort, RemoteUDPPort: remotePort})
	}
	return out, nil
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	switch c.HWAutoExport {
	case ExportNone, ExportHardware, ExportSoftware, ExportSystem, ExportAll:
	default:
		return fmt.Errorf("alsa-hw-auto-export must be one of NONE, HARDWARE, SOFTWARE, SYSTEM, ALL; got %q", c.HWAutoExport)
	}

	for _, a := range c.RTPMIDIAnnounces {
		if a.Port < 1 || a.Port > 65534 {
			return fmt.Errorf("rtpmidi-announces: port %d for %q out of range", a.Port, a.Name)
		}
	}
	for _, ct := range c.ConnectTo {
		if ct.Port < 1 || ct.Port > 65535 {
			return fmt.Errorf("connect-to: port %d for %q out of range", ct.Port, ct.Name)
		}
	}
	if c.Discovery.NamePositiveRegex != "" {
		if _, err := regexp.Compile(c.Discovery.NamePositiveRegex); err != nil {
			return fmt.Errorf("rtpmidi-discover-positive-regex: %w", err)
		}
	}
	if c.Discovery.NameNegativeRegex != "" {
		if _, err := regexp.Compile(c.Discovery.NameNegativeRegex); err != nil {
			return fmt.Errorf("rtpmidi-discover-negative-regex: %w", err)
		}
	}
	if c.ControlFilename == "" {
		return fmt.Errorf("control-filename must not be empty")
	}
	if c.ControlAPIAddr == "" {
		return fmt.Errorf("control-api-addr must not be empty")
	}
	if c.MetricsAddr == "" {
		return fmt.Errorf("metrics-addr must not be empty")
	}
	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate
// format (text or json) and log level.
func (c *Config) SlogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
