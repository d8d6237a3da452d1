package config

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// Sample sources selectable with SAMPLE_SOURCE.
const (
	SourceMQTT   = "mqtt"
	SourceIMU    = "imu"
	SourceSerial = "serial"
	SourceReplay = "replay"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDTracker  string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string
	MQTTClientIDDisplay  string

	// Topics
	TopicAccel       string
	TopicMotionState string
	TopicActivity    string
	TopicNotify      string

	// Where the tracker reads samples from: mqtt, imu, serial or replay
	SampleSource string

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange     byte
	IMUSampleInterval int // milliseconds

	// Serial accelerometer
	SerialPort     string
	SerialBaudRate int

	// Activity sinks
	ActivityLogURL   string
	RedisAddr        string
	RedisActivityKey string

	// Traces
	TraceRecordPath string
	TraceReplayPath string

	// Web Server
	WebServerPort int
	MetricsPort   int // 0 disables the tracker's own /metrics listener

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds

	LogLevel string

	// Motion engine tuning; PROFILE_* keys override the defaults
	Profile motion.Profile
}

// globalConfig is only reachable through InitGlobal and Get so that every
// read goes through configMu.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional key at its default.
func Default() *Config {
	return &Config{
		MQTTClientIDTracker:  "motion-tracker",
		MQTTClientIDProducer: "motion-imu-producer",
		MQTTClientIDConsole:  "motion-console",
		MQTTClientIDWeb:      "motion-web",
		MQTTClientIDDisplay:  "motion-display",

		TopicAccel:       "motion/accel",
		TopicMotionState: "motion/state",
		TopicActivity:    "motion/activity",
		TopicNotify:      "motion/notify",

		SampleSource: SourceMQTT,

		IMUSampleInterval: 20,
		SerialBaudRate:    115200,

		RedisActivityKey: "motion:activities",

		WebServerPort:         8080,
		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 500,

		LogLevel: "info",
		Profile:  motion.DefaultProfile(),
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines from r. Blank lines and # comments are skipped.
func Parse(r io.Reader) (*Config, error) {
	values, err := godotenv.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Default()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if err := cfg.setValue(key, values[key]); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_TRACKER":
		c.MQTTClientIDTracker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_ACCEL":
		c.TopicAccel = value
	case "TOPIC_MOTION_STATE":
		c.TopicMotionState = value
	case "TOPIC_ACTIVITY":
		c.TopicActivity = value
	case "TOPIC_NOTIFY":
		c.TopicNotify = value

	case "SAMPLE_SOURCE":
		switch value {
		case SourceMQTT, SourceIMU, SourceSerial, SourceReplay:
			c.SampleSource = value
		default:
			return fmt.Errorf("SAMPLE_SOURCE must be one of mqtt, imu, serial, replay, got %q", value)
		}

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_SAMPLE_INTERVAL":
		interval, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		c.IMUSampleInterval = interval

	// Serial accelerometer
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		c.SerialBaudRate = rate

	// Activity sinks
	case "ACTIVITY_LOG_URL":
		c.ActivityLogURL = value
	case "REDIS_ADDR":
		c.RedisAddr = value
	case "REDIS_ACTIVITY_KEY":
		c.RedisActivityKey = value

	// Traces
	case "TRACE_RECORD_PATH":
		c.TraceRecordPath = value
	case "TRACE_REPLAY_PATH":
		c.TraceReplayPath = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		c.WebServerPort = port
	case "METRICS_PORT":
		port, err := strconv.Atoi(value)
		if err != nil || port < 0 {
			return fmt.Errorf("invalid METRICS_PORT %q", value)
		}
		c.MetricsPort = port

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		c.DisplayUpdateInterval = interval

	case "LOG_LEVEL":
		if _, err := logrus.ParseLevel(value); err != nil {
			return fmt.Errorf("invalid LOG_LEVEL %q: %w", value, err)
		}
		c.LogLevel = value

	default:
		return c.setProfileValue(key, value)
	}

	return nil
}

// setProfileValue maps PROFILE_* keys onto the motion profile.
func (c *Config) setProfileValue(key, value string) error {
	p := &c.Profile
	var err error
	switch key {
	case "PROFILE_CALIBRATION_SAMPLES":
		p.CalibrationSamples, err = positiveInt(key, value)
	case "PROFILE_STEP_THRESHOLD":
		p.StepThreshold, err = parseFloat(key, value)
	case "PROFILE_MIN_STEP_INTERVAL":
		p.MinStepInterval, err = parseDuration(key, value)
	case "PROFILE_MAX_STEP_INTERVAL":
		p.MaxStepInterval, err = parseDuration(key, value)
	case "PROFILE_BOOTSTRAP_STEPS":
		p.BootstrapSteps, err = positiveInt(key, value)
	case "PROFILE_RHYTHM_WINDOW":
		p.RhythmWindow, err = positiveInt(key, value)
	case "PROFILE_RHYTHM_TOLERANCE":
		p.RhythmTolerance, err = parseDuration(key, value)
	case "PROFILE_VARIABILITY_WINDOW":
		p.VariabilityWindow, err = parseDuration(key, value)
	case "PROFILE_MIN_VARIABILITY":
		p.MinVariability, err = parseFloat(key, value)
	case "PROFILE_SAMPLE_WINDOW":
		p.SampleWindow, err = parseDuration(key, value)
	case "PROFILE_HISTORY_SIZE":
		p.HistorySize, err = positiveInt(key, value)
	case "PROFILE_WALKING_CADENCE":
		p.WalkingCadence, err = parseFloat(key, value)
	case "PROFILE_RUNNING_CADENCE":
		p.RunningCadence, err = parseFloat(key, value)
	case "PROFILE_MIN_CADENCE_STEPS":
		p.MinCadenceSteps, err = positiveInt(key, value)
	case "PROFILE_IDLE_TIMEOUT":
		p.IdleTimeout, err = parseDuration(key, value)
	case "PROFILE_ACTIVITY_MIN_DURATION":
		p.ActivityMinDuration, err = parseDuration(key, value)
	case "PROFILE_NOTIFY_THROTTLE":
		p.NotifyThrottle, err = parseDuration(key, value)
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return err
}

func positiveInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, v)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// parseDuration accepts Go durations ("250ms", "2m").
func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	switch c.SampleSource {
	case SourceIMU:
		if c.IMUSPIDevice == "" || c.IMUCSPin == "" {
			return fmt.Errorf("IMU_SPI_DEVICE and IMU_CS_PIN are required when SAMPLE_SOURCE=imu")
		}
	case SourceSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required when SAMPLE_SOURCE=serial")
		}
	case SourceReplay:
		if c.TraceReplayPath == "" {
			return fmt.Errorf("TRACE_REPLAY_PATH is required when SAMPLE_SOURCE=replay")
		}
	}
	if err := c.Profile.Validate(); err != nil {
		return fmt.Errorf("motion profile: %w", err)
	}
	return nil
}

// ApplyLogLevel sets the process-wide logrus level from LOG_LEVEL.
func (c *Config) ApplyLogLevel() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads the file.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
