// Package config provides the configuration tree of the emissions pipeline and its loader.
package config

import (
	"os"
	"time"
)

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG", "SILENT").
	Level string `yaml:"level"`
	// Dir is the directory that receives one log file per stage.
	Dir string `yaml:"dir"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// BatchConfig holds job-level settings.
type BatchConfig struct {
	// JobName is recorded on every job execution.
	JobName string `yaml:"job_name"`
}

// StoreConfig addresses the local analytical database.
type StoreConfig struct {
	// Path is the database file. An empty path opens an in-memory database.
	Path string `yaml:"path"`
	// Threads limits the engine's worker threads; 0 keeps the engine default.
	Threads int `yaml:"threads"`
}

// GCSConfig configures the gs:// trip file source.
type GCSConfig struct {
	// CredentialsFile is a service account key; empty uses application default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// SourceConfig describes where monthly trip files come from.
type SourceConfig struct {
	// URLTemplate is expanded per color and period. Placeholders: {color}, {year}, {month}.
	URLTemplate string `yaml:"url_template"`
	// Start is the first period, formatted YYYY-MM.
	Start string `yaml:"start"`
	// End is the last period (inclusive), formatted YYYY-MM.
	End string `yaml:"end"`
	// PacingDelay separates consecutive remote fetches.
	PacingDelay time.Duration `yaml:"pacing_delay"`
	// CacheDir receives downloaded files before they are ingested.
	CacheDir string `yaml:"cache_dir"`
	// KeepDownloads leaves downloaded files in CacheDir after ingest.
	KeepDownloads bool `yaml:"keep_downloads"`
	// HTTPTimeout bounds a single download; 0 means no timeout.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	GCS         GCSConfig     `yaml:"gcs"`
}

// ReferenceConfig points at static lookup files.
type ReferenceConfig struct {
	EmissionFactorsPath string `yaml:"emission_factors_path"`
}

// CleanConfig holds the cleaning predicate bounds.
type CleanConfig struct {
	MaxDistanceMiles   float64 `yaml:"max_distance_miles"`
	MaxDurationSeconds int64   `yaml:"max_duration_seconds"`
}

// AnalysisConfig holds analyzer outputs.
type AnalysisConfig struct {
	// ChartPath is where the monthly totals PNG is written.
	ChartPath string `yaml:"chart_path"`
	// ExportPath, when set, receives the aggregate result sets as a parquet file.
	ExportPath string `yaml:"export_path"`
	// WorkbookPath, when set, receives the same result sets as an xlsx workbook.
	WorkbookPath string `yaml:"workbook_path"`
}

// MetadataConfig holds the job history database settings.
type MetadataConfig struct {
	// Database is decoded into a database.Config with mapstructure.
	Database map[string]interface{} `yaml:"database"`
}

// MetricsConfig configures the Prometheus push.
type MetricsConfig struct {
	// PushgatewayURL, when set, receives all metrics at the end of each job.
	PushgatewayURL string `yaml:"pushgateway_url"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// EmissionsConfig holds all configuration under the "emissions" top-level key.
type EmissionsConfig struct {
	System    SystemConfig    `yaml:"system"`
	Batch     BatchConfig     `yaml:"batch"`
	Store     StoreConfig     `yaml:"store"`
	Source    SourceConfig    `yaml:"source"`
	Reference ReferenceConfig `yaml:"reference"`
	Clean     CleanConfig     `yaml:"clean"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Emissions EmissionsConfig `yaml:"emissions"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Emissions: EmissionsConfig{
			System: SystemConfig{
				Logging: LoggingConfig{Level: "INFO", Dir: "."},
			},
			Batch: BatchConfig{JobName: "taxiEmissionsJob"},
			Store: StoreConfig{Path: "emissions.duckdb"},
			Source: SourceConfig{
				URLTemplate: "https://d37ci6vzurychx.cloudfront.net/trip-data/{color}_tripdata_{year}-{month}.parquet",
				Start:       "2015-01",
				End:         "2024-12",
				PacingDelay: 60 * time.Second,
				CacheDir:    os.TempDir(),
			},
			Reference: ReferenceConfig{EmissionFactorsPath: "data/vehicle_emissions.csv"},
			Clean: CleanConfig{
				MaxDistanceMiles:   100,
				MaxDurationSeconds: 86400,
			},
			Analysis: AnalysisConfig{ChartPath: "monthly_co2_totals.png"},
			Metadata: MetadataConfig{
				Database: map[string]interface{}{
					"type":     "sqlite",
					"database": "emissions_meta.db",
				},
			},
		},
	}
}
