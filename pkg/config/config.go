package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	MQTT       MQTTConfig
	Kafka      KafkaConfig
	Relay      RelayConfig
	Radio      RadioConfig
	Gateway    GatewayConfig
	Classifier ClassifierConfig
	Notify     NotifyConfig
	Ops        OpsConfig
	Log        LogConfig
}

type DatabaseConfig struct {
	Driver        string
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsDir string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig configures the cross-instance node lock. An empty Addr keeps
// locking in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      int
	TLS      bool
}

type KafkaConfig struct {
	Brokers        []string
	TopicUplink    string
	TopicIncidents string
	GroupID        string
}

type RelayConfig struct {
	Transport string
	Topic     string
	Timeout   time.Duration
}

type RadioConfig struct {
	SPIPort      string
	ResetPin     string
	FrequencyHz  int
	AckTimeout   time.Duration
	PollInterval time.Duration
}

type GatewayConfig struct {
	ID                 string
	UTCOffset          time.Duration
	NodeSilenceTimeout time.Duration
	StatsInterval      time.Duration
}

// Location returns the fixed zone gateway timestamps are stamped in
func (g GatewayConfig) Location() *time.Location {
	hours := g.UTCOffset.Hours()
	return time.FixedZone(fmt.Sprintf("UTC%+g", hours), int(g.UTCOffset.Seconds()))
}

// ClassifierConfig selects the model. URL wins over ModelPath when set.
type ClassifierConfig struct {
	ModelPath     string
	URL           string
	Timeout       time.Duration
	MinConfidence float64
}

type NotifyConfig struct {
	URL     string
	Timeout time.Duration
	Kafka   bool
}

type OpsConfig struct {
	Addr string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", DriverPostgres),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "flames"),
			Password:      getEnv("DB_PASSWORD", "flames"),
			DBName:        getEnv("DB_NAME", "flames"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrationsDir: getEnv("DB_MIGRATIONS", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 30*time.Second),
		},
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getEnv("MQTT_CLIENT_ID", ""),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
			QoS:      getEnvAsInt("MQTT_QOS", 1),
			TLS:      getEnvAsBool("MQTT_TLS", false),
		},
		Kafka: KafkaConfig{
			Brokers:        strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicUplink:    getEnv("KAFKA_TOPIC_UPLINK", "lora.uplink"),
			TopicIncidents: getEnv("KAFKA_TOPIC_INCIDENTS", "fire.incidents"),
			GroupID:        getEnv("KAFKA_GROUP_ID", "flames-worker"),
		},
		Relay: RelayConfig{
			Transport: getEnv("RELAY_TRANSPORT", TransportMQTT),
			Topic:     getEnv("RELAY_TOPIC", "lora/uplink"),
			Timeout:   getEnvAsDuration("RELAY_TIMEOUT", 5*time.Second),
		},
		Radio: RadioConfig{
			SPIPort:      getEnv("SPI_PORT", ""),
			ResetPin:     getEnv("RESET_PIN", "GPIO25"),
			FrequencyHz:  getEnvAsInt("RADIO_FREQUENCY_HZ", 433000000),
			AckTimeout:   getEnvAsDuration("ACK_TIMEOUT", 800*time.Millisecond),
			PollInterval: getEnvAsDuration("POLL_INTERVAL", 10*time.Millisecond),
		},
		Gateway: GatewayConfig{
			ID:                 getEnv("GATEWAY_ID", "GW1"),
			UTCOffset:          getEnvAsDuration("GATEWAY_UTC_OFFSET", 8*time.Hour),
			NodeSilenceTimeout: getEnvAsDuration("NODE_SILENCE_TIMEOUT", 10*time.Minute),
			StatsInterval:      getEnvAsDuration("NODE_STATS_INTERVAL", time.Minute),
		},
		Classifier: ClassifierConfig{
			ModelPath:     getEnv("CLASSIFIER_MODEL", "fire_model.json"),
			URL:           getEnv("CLASSIFIER_URL", ""),
			Timeout:       getEnvAsDuration("CLASSIFIER_TIMEOUT", 2*time.Second),
			MinConfidence: getEnvAsFloat("INCIDENT_MIN_CONFIDENCE", 0),
		},
		Notify: NotifyConfig{
			URL:     getEnv("NOTIFY_URL", ""),
			Timeout: getEnvAsDuration("NOTIFY_TIMEOUT", 2*time.Second),
			Kafka:   getEnvAsBool("NOTIFY_KAFKA", false),
		},
		Ops: OpsConfig{
			Addr: getEnv("OPS_ADDR", ":9100"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Relay.Transport {
	case TransportMQTT, TransportKafka:
	default:
		return fmt.Errorf("RELAY_TRANSPORT must be %q or %q, got %q", TransportMQTT, TransportKafka, c.Relay.Transport)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		return fmt.Errorf("INCIDENT_MIN_CONFIDENCE must be within [0,1], got %v", c.Classifier.MinConfidence)
	}
	if c.Radio.FrequencyHz <= 0 {
		return fmt.Errorf("RADIO_FREQUENCY_HZ must be positive, got %d", c.Radio.FrequencyHz)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
