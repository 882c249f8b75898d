package config

import (
	"time"

	"github.com/motor-control/mcn/internal/drive"
)

// SchemaVersion is the configuration schema this build writes by default.
const SchemaVersion = "1.0.0"

// SupportedVersions is the constraint a config file's version must satisfy.
const SupportedVersions = "^1.0"

// Config is the complete node configuration.
type Config struct {
	Version   string          `yaml:"version" env:"MCN_CONFIG_VERSION"`
	Drive     DriveConfig     `yaml:"drive"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Transport TransportConfig `yaml:"transport"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Motor     MotorConfig     `yaml:"motor"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Redis     RedisConfig     `yaml:"redis"`
	Audit     AuditConfig     `yaml:"audit"`
	Log       LogConfig       `yaml:"log"`
}

// DriveConfig controls command interpretation.
type DriveConfig struct {
	DefaultSpeed   int    `yaml:"defaultSpeed" env:"MCN_DRIVE_DEFAULT_SPEED"`
	TurnPolicy     string `yaml:"turnPolicy" env:"MCN_DRIVE_TURN_POLICY"`
	FixedTurnSpeed int    `yaml:"fixedTurnSpeed" env:"MCN_DRIVE_FIXED_TURN_SPEED"`
}

// WatchdogConfig controls the command-starvation stop.
type WatchdogConfig struct {
	Timeout      time.Duration `yaml:"timeout" env:"MCN_WATCHDOG_TIMEOUT"`
	PollInterval time.Duration `yaml:"pollInterval" env:"MCN_WATCHDOG_POLL_INTERVAL"`
}

// TransportConfig holds the command listeners.
type TransportConfig struct {
	MaxLineLength int             `yaml:"maxLineLength" env:"MCN_TRANSPORT_MAX_LINE_LENGTH"`
	TCP           TCPConfig       `yaml:"tcp"`
	UDP           UDPConfig       `yaml:"udp"`
	WebSocket     WebSocketConfig `yaml:"websocket"`
}

// TCPConfig holds the line-based stream listener settings.
type TCPConfig struct {
	Enabled      bool          `yaml:"enabled" env:"MCN_TCP_ENABLED"`
	Addr         string        `yaml:"addr" env:"MCN_TCP_ADDR"`
	Ack          bool          `yaml:"ack" env:"MCN_TCP_ACK"`
	AllowedCIDRs []string      `yaml:"allowedCidrs" env:"MCN_TCP_ALLOWED_CIDRS"`
	IdleTimeout  time.Duration `yaml:"idleTimeout" env:"MCN_TCP_IDLE_TIMEOUT"`
}

// UDPConfig holds the datagram listener settings.
type UDPConfig struct {
	Enabled      bool     `yaml:"enabled" env:"MCN_UDP_ENABLED"`
	Addr         string   `yaml:"addr" env:"MCN_UDP_ADDR"`
	Ack          bool     `yaml:"ack" env:"MCN_UDP_ACK"`
	AllowedCIDRs []string `yaml:"allowedCidrs" env:"MCN_UDP_ALLOWED_CIDRS"`
}

// WebSocketConfig holds the WebSocket command endpoint settings. The endpoint
// is served by the API server.
type WebSocketConfig struct {
	Enabled bool `yaml:"enabled" env:"MCN_WS_ENABLED"`
	Ack     bool `yaml:"ack" env:"MCN_WS_ACK"`
}

// APIConfig holds the HTTP status API settings.
type APIConfig struct {
	Enabled         bool          `yaml:"enabled" env:"MCN_API_ENABLED"`
	Addr            string        `yaml:"addr" env:"MCN_API_ADDR"`
	ReadTimeout     time.Duration `yaml:"readTimeout" env:"MCN_API_READ_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" env:"MCN_API_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"MCN_API_SHUTDOWN_TIMEOUT"`
	Metrics         bool          `yaml:"metrics" env:"MCN_API_METRICS"`

	// JWTSecret enables HS256 bearer tokens on the status routes when set.
	JWTSecret string `yaml:"jwtSecret" env:"MCN_API_JWT_SECRET"`
}

// TelemetryConfig holds SSE hub settings.
type TelemetryConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" env:"MCN_TELEMETRY_HEARTBEAT_INTERVAL"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter" env:"MCN_TELEMETRY_HEARTBEAT_JITTER"`
	EventBufferSize   int           `yaml:"eventBufferSize" env:"MCN_TELEMETRY_EVENT_BUFFER_SIZE"`
	ClientBufferSize  int           `yaml:"clientBufferSize" env:"MCN_TELEMETRY_CLIENT_BUFFER_SIZE"`
}

// Motor driver kinds.
const (
	DriverFake   = "fake"
	DriverSerial = "serial"
	DriverGPIO   = "gpio"
)

// MotorConfig selects and configures the motor driver.
type MotorConfig struct {
	Driver       string        `yaml:"driver" env:"MCN_MOTOR_DRIVER"`
	ApplyTimeout time.Duration `yaml:"applyTimeout" env:"MCN_MOTOR_APPLY_TIMEOUT"`
	Serial       SerialConfig  `yaml:"serial"`
	GPIO         GPIOConfig    `yaml:"gpio"`
}

// SerialConfig configures the serial controller link.
type SerialConfig struct {
	Port     string `yaml:"port" env:"MCN_SERIAL_PORT"`
	BaudRate int    `yaml:"baudRate" env:"MCN_SERIAL_BAUD_RATE"`
}

// GPIOConfig configures direct pin drive.
type GPIOConfig struct {
	LeftDirPin      uint   `yaml:"leftDirPin" env:"MCN_GPIO_LEFT_DIR_PIN"`
	RightDirPin     uint   `yaml:"rightDirPin" env:"MCN_GPIO_RIGHT_DIR_PIN"`
	PWMChip         int    `yaml:"pwmChip" env:"MCN_GPIO_PWM_CHIP"`
	LeftPWMChannel  int    `yaml:"leftPwmChannel" env:"MCN_GPIO_LEFT_PWM_CHANNEL"`
	RightPWMChannel int    `yaml:"rightPwmChannel" env:"MCN_GPIO_RIGHT_PWM_CHANNEL"`
	FrequencyHz     int    `yaml:"frequencyHz" env:"MCN_GPIO_FREQUENCY_HZ"`
	SysfsRoot       string `yaml:"sysfsRoot" env:"MCN_GPIO_SYSFS_ROOT"`
}

// MQTTConfig configures the MQTT telemetry bridge.
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled" env:"MCN_MQTT_ENABLED"`
	Broker         string        `yaml:"broker" env:"MCN_MQTT_BROKER"`
	ClientID       string        `yaml:"clientId" env:"MCN_MQTT_CLIENT_ID"`
	Username       string        `yaml:"username" env:"MCN_MQTT_USERNAME"`
	Password       string        `yaml:"password" env:"MCN_MQTT_PASSWORD"`
	TopicPrefix    string        `yaml:"topicPrefix" env:"MCN_MQTT_TOPIC_PREFIX"`
	QoS            int           `yaml:"qos" env:"MCN_MQTT_QOS"`
	Retained       bool          `yaml:"retained" env:"MCN_MQTT_RETAINED"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" env:"MCN_MQTT_CONNECT_TIMEOUT"`
}

// RedisConfig configures the Redis telemetry bridge.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"MCN_REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"MCN_REDIS_ADDR"`
	Password string `yaml:"password" env:"MCN_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"MCN_REDIS_DB"`
	Channel  string `yaml:"channel" env:"MCN_REDIS_CHANNEL"`
	StateKey string `yaml:"stateKey" env:"MCN_REDIS_STATE_KEY"`
}

// AuditConfig configures the JSONL audit trail.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled" env:"MCN_AUDIT_ENABLED"`
	Path       string `yaml:"path" env:"MCN_AUDIT_PATH"`
	MaxSizeMB  int    `yaml:"maxSizeMb" env:"MCN_AUDIT_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"maxBackups" env:"MCN_AUDIT_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"maxAgeDays" env:"MCN_AUDIT_MAX_AGE_DAYS"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level     string `yaml:"level" env:"MCN_LOG_LEVEL"`
	Format    string `yaml:"format" env:"MCN_LOG_FORMAT"`
	File      string `yaml:"file" env:"MCN_LOG_FILE"`
	MaxSizeMB int    `yaml:"maxSizeMb" env:"MCN_LOG_MAX_SIZE_MB"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: SchemaVersion,
		Drive: DriveConfig{
			DefaultSpeed:   int(drive.DefaultSpeed),
			TurnPolicy:     string(drive.TurnProportional),
			FixedTurnSpeed: int(drive.DefaultFixedTurnSpeed),
		},
		Watchdog: WatchdogConfig{
			Timeout:      500 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
		},
		Transport: TransportConfig{
			MaxLineLength: 255,
			TCP: TCPConfig{
				Enabled:      true,
				Addr:         ":8023",
				Ack:          true,
				AllowedCIDRs: nil,
				IdleTimeout:  0,
			},
			UDP: UDPConfig{
				Enabled: true,
				Addr:    ":4210",
				Ack:     false,
			},
			WebSocket: WebSocketConfig{
				Enabled: true,
				Ack:     false,
			},
		},
		API: APIConfig{
			Enabled:         true,
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			Metrics:         true,
		},
		Telemetry: TelemetryConfig{
			HeartbeatInterval: 15 * time.Second,
			HeartbeatJitter:   2 * time.Second,
			EventBufferSize:   50,
			ClientBufferSize:  100,
		},
		Motor: MotorConfig{
			Driver:       DriverFake,
			ApplyTimeout: 100 * time.Millisecond,
			Serial: SerialConfig{
				Port:     "/dev/ttyUSB0",
				BaudRate: 115200,
			},
			GPIO: GPIOConfig{
				LeftDirPin:      2,
				RightDirPin:     4,
				PWMChip:         0,
				LeftPWMChannel:  0,
				RightPWMChannel: 1,
				FrequencyHz:     5000,
				SysfsRoot:       "/sys/class/pwm",
			},
		},
		MQTT: MQTTConfig{
			Enabled:        false,
			Broker:         "tcp://localhost:1883",
			ClientID:       "mcn",
			TopicPrefix:    "mcn",
			QoS:            0,
			ConnectTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			Channel:  "mcn:telemetry",
			StateKey: "mcn:state",
		},
		Audit: AuditConfig{
			Enabled:    true,
			Path:       "audit/mcn-audit.jsonl",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			MaxSizeMB: 50,
		},
	}
}

// Parser returns the command parser configured by the drive section.
func (c *Config) Parser() drive.Parser {
	return drive.NewParser(drive.Clamp(int64(c.Drive.DefaultSpeed)))
}

// Mapper returns the motion mapper configured by the drive section. Call
// only on a validated config.
func (c *Config) Mapper() drive.Mapper {
	policy, err := drive.ParseTurnPolicy(c.Drive.TurnPolicy)
	if err != nil {
		policy = drive.TurnProportional
	}
	return drive.Mapper{
		DefaultSpeed:   drive.Clamp(int64(c.Drive.DefaultSpeed)),
		TurnPolicy:     policy,
		FixedTurnSpeed: drive.Clamp(int64(c.Drive.FixedTurnSpeed)),
	}
}
