package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/motor-control/mcn/internal/drive"
)

// Validate checks the merged configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateVersion(cfg.Version); err != nil {
		return fmt.Errorf("version validation failed: %w", err)
	}

	if err := validateDrive(&cfg.Drive); err != nil {
		return fmt.Errorf("drive validation failed: %w", err)
	}

	if err := validateWatchdog(&cfg.Watchdog); err != nil {
		return fmt.Errorf("watchdog validation failed: %w", err)
	}

	if err := validateTransport(&cfg.Transport); err != nil {
		return fmt.Errorf("transport validation failed: %w", err)
	}

	if err := validateAPI(&cfg.API, &cfg.Transport); err != nil {
		return fmt.Errorf("api validation failed: %w", err)
	}

	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		return fmt.Errorf("telemetry validation failed: %w", err)
	}

	if err := validateMotor(&cfg.Motor); err != nil {
		return fmt.Errorf("motor validation failed: %w", err)
	}

	if err := validateMQTT(&cfg.MQTT); err != nil {
		return fmt.Errorf("mqtt validation failed: %w", err)
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis validation failed: addr is required when enabled")
	}

	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		return fmt.Errorf("audit validation failed: path is required when enabled")
	}

	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}

	return nil
}

// validateVersion checks the file schema version against SupportedVersions.
func validateVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", version, err)
	}

	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}

	if !c.Check(v) {
		return fmt.Errorf("unsupported version %s - require %s", version, SupportedVersions)
	}
	return nil
}

func validateDrive(d *DriveConfig) error {
	if d.DefaultSpeed < 0 || d.DefaultSpeed > drive.MaxDuty {
		return fmt.Errorf("default speed must be in [0, %d], got %d", drive.MaxDuty, d.DefaultSpeed)
	}
	if d.FixedTurnSpeed < 0 || d.FixedTurnSpeed > drive.MaxDuty {
		return fmt.Errorf("fixed turn speed must be in [0, %d], got %d", drive.MaxDuty, d.FixedTurnSpeed)
	}
	if _, err := drive.ParseTurnPolicy(d.TurnPolicy); err != nil {
		return err
	}
	return nil
}

func validateWatchdog(w *WatchdogConfig) error {
	if w.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", w.Timeout)
	}
	if w.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", w.PollInterval)
	}
	if w.PollInterval >= w.Timeout {
		return fmt.Errorf("poll interval %v must be shorter than timeout %v", w.PollInterval, w.Timeout)
	}
	return nil
}

func validateTransport(t *TransportConfig) error {
	if t.MaxLineLength <= 0 || t.MaxLineLength > 65507 {
		return fmt.Errorf("max line length must be in [1, 65507], got %d", t.MaxLineLength)
	}

	if t.TCP.Enabled {
		if err := validateAddr(t.TCP.Addr); err != nil {
			return fmt.Errorf("tcp: %w", err)
		}
		if err := validateCIDRs(t.TCP.AllowedCIDRs); err != nil {
			return fmt.Errorf("tcp: %w", err)
		}
		if t.TCP.IdleTimeout < 0 {
			return fmt.Errorf("tcp: idle timeout must be non-negative, got %v", t.TCP.IdleTimeout)
		}
	}

	if t.UDP.Enabled {
		if err := validateAddr(t.UDP.Addr); err != nil {
			return fmt.Errorf("udp: %w", err)
		}
		if err := validateCIDRs(t.UDP.AllowedCIDRs); err != nil {
			return fmt.Errorf("udp: %w", err)
		}
	}

	return nil
}

const minJWTSecretLen = 16

func validateAPI(a *APIConfig, t *TransportConfig) error {
	if t.WebSocket.Enabled && !a.Enabled {
		return fmt.Errorf("websocket transport requires the api server")
	}
	if !a.Enabled {
		return nil
	}
	if err := validateAddr(a.Addr); err != nil {
		return err
	}
	if a.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", a.ShutdownTimeout)
	}
	if a.JWTSecret != "" && len(a.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("jwt secret must be at least %d bytes", minJWTSecretLen)
	}
	return nil
}

func validateTelemetry(t *TelemetryConfig) error {
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", t.HeartbeatInterval)
	}
	if t.HeartbeatJitter < 0 || t.HeartbeatJitter > t.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v must be within 50%% of interval %v", t.HeartbeatJitter, t.HeartbeatInterval)
	}
	if t.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", t.EventBufferSize)
	}
	if t.ClientBufferSize <= 0 {
		return fmt.Errorf("client buffer size must be positive, got %d", t.ClientBufferSize)
	}
	return nil
}

func validateMotor(m *MotorConfig) error {
	if m.ApplyTimeout <= 0 {
		return fmt.Errorf("apply timeout must be positive, got %v", m.ApplyTimeout)
	}

	switch m.Driver {
	case DriverFake:
	case DriverSerial:
		if m.Serial.Port == "" {
			return fmt.Errorf("serial port is required")
		}
		if m.Serial.BaudRate <= 0 {
			return fmt.Errorf("baud rate must be positive, got %d", m.Serial.BaudRate)
		}
	case DriverGPIO:
		g := m.GPIO
		if g.LeftDirPin == g.RightDirPin {
			return fmt.Errorf("left and right direction pins must differ, both %d", g.LeftDirPin)
		}
		if g.LeftPWMChannel == g.RightPWMChannel {
			return fmt.Errorf("left and right pwm channels must differ, both %d", g.LeftPWMChannel)
		}
		if g.PWMChip < 0 || g.LeftPWMChannel < 0 || g.RightPWMChannel < 0 {
			return fmt.Errorf("pwm chip and channels must be non-negative")
		}
		if g.FrequencyHz <= 0 || g.FrequencyHz > 1_000_000 {
			return fmt.Errorf("pwm frequency must be in (0, 1000000] Hz, got %d", g.FrequencyHz)
		}
	default:
		return fmt.Errorf("unknown driver %q (want %s, %s or %s)", m.Driver, DriverFake, DriverSerial, DriverGPIO)
	}
	return nil
}

func validateMQTT(m *MQTTConfig) error {
	if !m.Enabled {
		return nil
	}
	u, err := url.Parse(m.Broker)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid broker url %q", m.Broker)
	}
	if m.QoS < 0 || m.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", m.QoS)
	}
	if m.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if m.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %v", m.ConnectTimeout)
	}
	return nil
}

func validateLog(l *LogConfig) error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown level %q", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q", l.Format)
	}
	return nil
}

func validateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

func validateCIDRs(cidrs []string) error {
	for _, c := range cidrs {
		if _, _, err := net.ParseCIDR(c); err != nil {
			return fmt.Errorf("invalid cidr %q: %w", c, err)
		}
	}
	return nil
}
