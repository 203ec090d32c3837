package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/support/exception"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

const moduleName = "config"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig loads configuration from defaults, the embedded YAML, the .env file and
// environment variables, in that order of increasing precedence.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Debugf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	}

	cfg := NewConfig()

	// yaml.v3 leaves fields absent from the document untouched, so defaults survive.
	if len(embeddedConfig) > 0 {
		if err := yaml.Unmarshal(embeddedConfig, cfg); err != nil {
			return nil, exception.NewBatchError(moduleName, exception.KindConfig, "failed to unmarshal embedded config", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindConfig, "failed to load config from environment variables", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a stage.
func (c *Config) Validate() error {
	if _, err := c.Periods(); err != nil {
		return err
	}
	e := c.Emissions
	if e.Source.PacingDelay < 0 {
		return exception.NewBatchErrorf(moduleName, exception.KindConfig, "source.pacing_delay must not be negative: %s", e.Source.PacingDelay)
	}
	if e.Clean.MaxDistanceMiles <= 0 {
		return exception.NewBatchErrorf(moduleName, exception.KindConfig, "clean.max_distance_miles must be positive: %v", e.Clean.MaxDistanceMiles)
	}
	if e.Clean.MaxDurationSeconds <= 0 {
		return exception.NewBatchErrorf(moduleName, exception.KindConfig, "clean.max_duration_seconds must be positive: %d", e.Clean.MaxDurationSeconds)
	}
	if !strings.Contains(e.Source.URLTemplate, "{color}") {
		return exception.NewBatchErrorf(moduleName, exception.KindConfig, "source.url_template must contain {color}: %s", e.Source.URLTemplate)
	}
	return nil
}

// Periods returns the configured chronological month range.
func (c *Config) Periods() ([]model.Period, error) {
	start, err := model.ParsePeriod(c.Emissions.Source.Start)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindConfig, "invalid source.start", err)
	}
	end, err := model.ParsePeriod(c.Emissions.Source.End)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, exception.KindConfig, "invalid source.end", err)
	}
	periods := model.PeriodRange(start, end)
	if len(periods) == 0 {
		return nil, exception.NewBatchErrorf(moduleName, exception.KindConfig, "source.end %s is before source.start %s", end, start)
	}
	return periods, nil
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name, e.g. EMISSIONS_SOURCE_PACING_DELAY.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Interface {
			loadMapFromEnv(field, envVarName+"_")
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapFromEnv sets string values on a map[string]interface{} from variables sharing prefix.
// EMISSIONS_METADATA_DATABASE_MAX_OPEN_CONNS=4 sets key "max_open_conns" to "4";
// the consumer decodes the map with weakly typed input.
func loadMapFromEnv(mapField reflect.Value, prefix string) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		if mapField.IsNil() {
			mapField.Set(reflect.MakeMap(mapField.Type()))
		}
		mapField.SetMapIndex(reflect.ValueOf(strings.ToLower(parts[0])), reflect.ValueOf(parts[1]))
	}
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, bool and time.Duration.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
