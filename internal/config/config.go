package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Stores    StoresConfig    `yaml:"stores"`
	Streams   StreamsConfig   `yaml:"streams"`
	Fiscal    FiscalConfig    `yaml:"fiscal"`
	Inventory InventoryConfig `yaml:"inventory"`
	Analyzers AnalyzersConfig `yaml:"analyzers"`
}

type ServerConfig struct {
	Env         string   `yaml:"env"`
	MetricsPort string   `yaml:"metrics_port"`
	Orgs        []string `yaml:"orgs"`
}

// StoresConfig selects the persistence backends for the two actor
// persistence models: snapshot state and the event journal.
type StoresConfig struct {
	// State is "memory" or "redis"
	State StateStoreConfig `yaml:"state"`
	// Journal is "memory" or "postgres"
	Journal JournalStoreConfig `yaml:"journal"`
}

type StateStoreConfig struct {
	Backend  string `yaml:"backend"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JournalStoreConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// StreamsConfig selects the stream bus backend: "memory", "kafka" or "pubsub".
type StreamsConfig struct {
	Backend     string   `yaml:"backend"`
	Brokers     []string `yaml:"brokers"`      // kafka
	TopicPrefix string   `yaml:"topic_prefix"` // kafka
	ProjectID   string   `yaml:"project_id"`   // pubsub
	TopicID     string   `yaml:"topic_id"`     // pubsub
}

type FiscalConfig struct {
	CloudEnabled bool   `yaml:"cloud_enabled"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	Region       string `yaml:"region"`      // DE, AT, IT
	Environment  string `yaml:"environment"` // test, production
}

type InventoryConfig struct {
	MovementLogLimit int `yaml:"movement_log_limit"`
}

type AnalyzersConfig struct {
	Expiry  ExpiryConfig  `yaml:"expiry"`
	ABC     ABCConfig     `yaml:"abc"`
	Reorder ReorderConfig `yaml:"reorder"`
}

type ExpiryConfig struct {
	CriticalDays int  `yaml:"critical_days"`
	UrgentDays   int  `yaml:"urgent_days"`
	WarningDays  int  `yaml:"warning_days"`
	Alerting     bool `yaml:"alerting"`
}

type ABCConfig struct {
	ClassAThreshold float64 `yaml:"class_a_threshold"`
	ClassBThreshold float64 `yaml:"class_b_threshold"`
}

type ReorderConfig struct {
	AnalysisDays    int     `yaml:"analysis_days"`
	DefaultLeadTime int     `yaml:"default_lead_time_days"`
	OrderingCost    float64 `yaml:"ordering_cost"`
	HoldingCostRate float64 `yaml:"holding_cost_rate"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Env: "dev", MetricsPort: "9100"},
		Stores: StoresConfig{
			State:   StateStoreConfig{Backend: "memory"},
			Journal: JournalStoreConfig{Backend: "memory"},
		},
		Streams:   StreamsConfig{Backend: "memory", TopicPrefix: "backoffice"},
		Inventory: InventoryConfig{MovementLogLimit: 100},
		Analyzers: AnalyzersConfig{
			Expiry:  ExpiryConfig{CriticalDays: 1, UrgentDays: 3, WarningDays: 7, Alerting: true},
			ABC:     ABCConfig{ClassAThreshold: 80, ClassBThreshold: 95},
			Reorder: ReorderConfig{AnalysisDays: 30, DefaultLeadTime: 3, OrderingCost: 25, HoldingCostRate: 0.2},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
