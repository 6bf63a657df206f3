package config

import (
	"path/filepath"
	"time"
)

// Config represents the complete cd4pe-agent configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Job     JobParams     `yaml:"job"`
}

// ServiceConfig defines agent-wide settings.
type ServiceConfig struct {
	LogLevel    string        `yaml:"log_level"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// StateConfig defines where run history is kept.
type StateConfig struct {
	// Path is the SQLite history database. Empty means
	// <working_dir>/.cd4pe-agent/history.db.
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// JobParams are the parameters of a single job run, as handed to the agent
// by the CD4PE task shell.
type JobParams struct {
	Endpoint      string   `yaml:"cd4pe_web_ui_endpoint"`
	Token         string   `yaml:"cd4pe_token"`
	Owner         string   `yaml:"cd4pe_job_owner"`
	JobInstanceID string   `yaml:"job_instance_id"`
	WorkingDir    string   `yaml:"working_dir"`
	DockerImage   string   `yaml:"docker_image,omitempty"`
	DockerRunArgs []string `yaml:"docker_run_args,omitempty"`
	EnvVars       []string `yaml:"env_vars,omitempty"`
}

// Environment variable names understood by the agent.
const (
	EnvEndpoint        = "WEB_UI_ENDPOINT"
	EnvJobToken        = "JOB_TOKEN"
	EnvJobOwner        = "JOB_OWNER"
	EnvJobInstanceID   = "JOB_INSTANCE_ID"
	EnvDeploymentToken = "DEPLOYMENT_TOKEN"
	EnvDeploymentOwner = "DEPLOYMENT_OWNER"
	EnvDeploymentID    = "DEPLOYMENT_ID"
	EnvDockerImage     = "CD4PE_DOCKER_IMAGE"
	EnvWorkingDir      = "CD4PE_WORKING_DIR"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:    "info",
			HTTPTimeout: 60 * time.Second,
		},
	}
}

// HistoryDirName holds agent state inside a job's working directory.
const HistoryDirName = ".cd4pe-agent"

// HistoryPath resolves the run-history database location.
func (c *Config) HistoryPath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	if c.Job.WorkingDir == "" {
		return ""
	}
	return filepath.Join(c.Job.WorkingDir, HistoryDirName, "history.db")
}
