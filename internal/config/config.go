package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lisurui6/ukbb-batch-downloader/internal/fetch"
	"github.com/lisurui6/ukbb-batch-downloader/internal/submit"
	"github.com/lisurui6/ukbb-batch-downloader/internal/worklist"
)

// Config defines configuration for the batchdl CLI.
type Config struct {
	Workers       int
	IDColumn      string
	FetchTimeout  time.Duration
	Fields        []fetch.Field
	Scheduler     string
	SchedulerArgs []string
	Template      string
	ScriptDir     string
	WorkListName  string
	KeyName       string
	FetchToolName string
	ReportBucket  string
	Progress      bool
}

// Default returns a Config with the layout the master expects under its
// input directory.
func Default() Config {
	return Config{
		Workers:       0,
		IDColumn:      worklist.DefaultColumn,
		Fields:        append([]fetch.Field(nil), fetch.DefaultFields...),
		Scheduler:     submit.DefaultScheduler,
		WorkListName:  "ukbb_40616_new_eids.csv",
		KeyName:       "ukbb.key",
		FetchToolName: "ukbfetch",
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Workers       *int          `yaml:"workers"`
	IDColumn      string        `yaml:"id_column"`
	FetchTimeout  string        `yaml:"fetch_timeout"`
	Fields        []fetch.Field `yaml:"fields"`
	Scheduler     string        `yaml:"scheduler"`
	SchedulerArgs []string      `yaml:"scheduler_args"`
	Template      string        `yaml:"template"`
	ScriptDir     string        `yaml:"script_dir"`
	WorkListName  string        `yaml:"work_list_name"`
	KeyName       string        `yaml:"key_name"`
	FetchToolName string        `yaml:"fetch_tool_name"`
	ReportBucket  string        `yaml:"report_bucket"`
	Progress      bool          `yaml:"progress"`
}

// LoadFromFile loads configuration from a YAML file. Keys absent from the
// file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Workers != nil {
		cfg.Workers = *yc.Workers
	}
	if yc.IDColumn != "" {
		cfg.IDColumn = yc.IDColumn
	}
	if yc.FetchTimeout != "" {
		d, err := time.ParseDuration(yc.FetchTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse fetch_timeout: %w", err)
		}
		cfg.FetchTimeout = d
	}
	if len(yc.Fields) > 0 {
		cfg.Fields = yc.Fields
	}
	if yc.Scheduler != "" {
		cfg.Scheduler = yc.Scheduler
	}
	if len(yc.SchedulerArgs) > 0 {
		cfg.SchedulerArgs = yc.SchedulerArgs
	}
	if yc.Template != "" {
		cfg.Template = yc.Template
	}
	if yc.ScriptDir != "" {
		cfg.ScriptDir = yc.ScriptDir
	}
	if yc.WorkListName != "" {
		cfg.WorkListName = yc.WorkListName
	}
	if yc.KeyName != "" {
		cfg.KeyName = yc.KeyName
	}
	if yc.FetchToolName != "" {
		cfg.FetchToolName = yc.FetchToolName
	}
	if yc.ReportBucket != "" {
		cfg.ReportBucket = yc.ReportBucket
	}
	cfg.Progress = yc.Progress

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the BATCHDL_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("BATCHDL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse BATCHDL_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("BATCHDL_ID_COLUMN"); v != "" {
		c.IDColumn = v
	}
	if v := os.Getenv("BATCHDL_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse BATCHDL_FETCH_TIMEOUT: %w", err)
		}
		c.FetchTimeout = d
	}
	if v := os.Getenv("BATCHDL_FIELDS"); v != "" {
		fields, err := ParseFields(v)
		if err != nil {
			return fmt.Errorf("parse BATCHDL_FIELDS: %w", err)
		}
		c.Fields = fields
	}
	if v := os.Getenv("BATCHDL_SCHEDULER"); v != "" {
		c.Scheduler = v
	}
	if v := os.Getenv("BATCHDL_SCHEDULER_ARGS"); v != "" {
		c.SchedulerArgs = strings.Fields(v)
	}
	if v := os.Getenv("BATCHDL_TEMPLATE"); v != "" {
		c.Template = v
	}
	if v := os.Getenv("BATCHDL_SCRIPT_DIR"); v != "" {
		c.ScriptDir = v
	}
	if v := os.Getenv("BATCHDL_REPORT_BUCKET"); v != "" {
		c.ReportBucket = v
	}
	if v := os.Getenv("BATCHDL_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	return nil
}

// ParseFields parses a comma-separated list like "20208_2_0,20209_2_0".
func ParseFields(s string) ([]fetch.Field, error) {
	var fields []fetch.Field
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var f fetch.Field
		if _, err := fmt.Sscanf(part, "%d_%d_%d", &f.Code, &f.Visit, &f.Instance); err != nil {
			return nil, fmt.Errorf("field %q: want <code>_<visit>_<instance>", part)
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, errors.New("no fields")
	}
	return fields, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return errors.New("config: workers must not be negative")
	}
	if c.IDColumn == "" {
		return errors.New("config: id_column is required")
	}
	if c.FetchTimeout < 0 {
		return errors.New("config: fetch_timeout must not be negative")
	}
	if len(c.Fields) == 0 {
		return errors.New("config: at least one field is required")
	}
	if c.Scheduler == "" {
		return errors.New("config: scheduler is required")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.IDColumn != "" {
		c.IDColumn = override.IDColumn
	}
	if override.FetchTimeout != 0 {
		c.FetchTimeout = override.FetchTimeout
	}
	if len(override.Fields) > 0 {
		c.Fields = override.Fields
	}
	if override.Scheduler != "" {
		c.Scheduler = override.Scheduler
	}
	if len(override.SchedulerArgs) > 0 {
		c.SchedulerArgs = override.SchedulerArgs
	}
	if override.Template != "" {
		c.Template = override.Template
	}
	if override.ScriptDir != "" {
		c.ScriptDir = override.ScriptDir
	}
	if override.WorkListName != "" {
		c.WorkListName = override.WorkListName
	}
	if override.KeyName != "" {
		c.KeyName = override.KeyName
	}
	if override.FetchToolName != "" {
		c.FetchToolName = override.FetchToolName
	}
	if override.ReportBucket != "" {
		c.ReportBucket = override.ReportBucket
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	return c
}

// Load builds the effective configuration: defaults, then the YAML file at
// path if non-empty, then BATCHDL_ environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
