// config.go: settings struct and functions to load and save application configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig contains settings for a rotated log file.
type LogConfig struct {
	Enabled bool   // true to enable this log
	Path    string // path to the log file
}

// MainSettings contains general application settings.
type MainSettings struct {
	Name string    // node name, used to identify the instance
	Log  LogConfig // main log settings
}

// RadarSettings selects and configures the live feed source.
type RadarSettings struct {
	Type             string // feed protocol: "mm2", "vrs" or "dmp1090"
	URL              string // base URL of the radar server, may carry basic auth userinfo
	PollInterval     int    // feed polling interval in seconds
	Timeout          int    // feed request timeout in seconds
	FilterIncomplete bool   // drop reports without positional information at the source
}

// TrackerSettings configures flight identity resolution, deduplication and retention.
type TrackerSettings struct {
	ContinuationMinutes int    // max inactivity gap before a reappearing address becomes a new flight
	RetentionMinutes    int    // purge flights with last contact older than this, 0 disables
	MilitaryOnly        bool   // track only military transponder addresses
	MilRangesFile       string // optional CSV with military address ranges, built-in table when empty
	HashCacheCap        int    // position hash cache entries before wholesale reset
	BatchSize           int    // write batch size for bulk store operations
	SweepEvery          int    // run the retention sweeper every Nth update cycle
	CrawlUnknown        bool   // enqueue unknown aircraft for metadata crawling
}

// CrawlerSettings configures the aircraft metadata crawler.
type CrawlerSettings struct {
	Sources       []string // metadata sources to query, in order
	QueueSize     int      // max pending crawl items
	IntervalMs    int      // delay between crawl attempts in milliseconds
	MaxRetries    int      // attempts per aircraft before giving up
	CacheTTLHours int      // how long a processed address is remembered
}

// SQLiteSettings contains settings for the SQLite database output.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains settings for the MySQL database output.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Host     string
	Port     string
	Database string
}

// OutputSettings selects the persistence engine.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// WebServerSettings contains settings for the REST/websocket surface.
type WebServerSettings struct {
	Enabled bool
	Port    string
}

// TelemetrySettings contains settings for the Prometheus metrics endpoint.
type TelemetrySettings struct {
	Enabled bool
	Listen  string // IP:port to listen on
}

// Settings is the root configuration struct.
type Settings struct {
	Debug bool // true to enable debug logging

	Main      MainSettings
	Radar     RadarSettings
	Tracker   TrackerSettings
	Crawler   CrawlerSettings
	Output    OutputSettings
	WebServer WebServerSettings
	Telemetry TelemetrySettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings
// instance and stores it as the package-level instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("FLIGHTRADAR")
	viper.AutomaticEnv()

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading them on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveSettings writes the current settings back to the configuration file.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	if settingsInstance == nil {
		return fmt.Errorf("no settings loaded")
	}

	yamlData, err := yaml.Marshal(settingsInstance)
	if err != nil {
		return fmt.Errorf("error marshaling settings to yaml: %w", err)
	}

	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		configPath = filepath.Join(configPaths[0], "config.yaml")
	}

	if err := os.WriteFile(configPath, yamlData, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPaths returns the config file search paths in priority order:
// the working directory first, then the user config directory.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("error getting user config directory: %w", err)
	}
	return []string{
		".",
		filepath.Join(configDir, "flightradar-go"),
	}, nil
}
