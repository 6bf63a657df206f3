package config

import (
	"fmt"
	"strings"
)

// Validate fails fast on the first missing required parameter.
// It also rejects malformed env_vars entries.
func (p JobParams) Validate() error {
	required := []struct {
		value string
		err   *MissingValueError
	}{
		{p.Endpoint, &MissingValueError{Name: EnvEndpoint, Description: "CD4PE Web UI Endpoint"}},
		{p.Token, &MissingValueError{Name: EnvJobToken, Description: "token for job"}},
		{p.Owner, &MissingValueError{Name: EnvJobOwner, Description: "owner for job"}},
		{p.JobInstanceID, &MissingValueError{Name: EnvJobInstanceID, Description: "job instance ID"}},
		{p.WorkingDir, &MissingValueError{Name: EnvWorkingDir, Description: "working directory"}},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return r.err
		}
	}

	if _, err := p.EnvOverrides(); err != nil {
		return err
	}
	return nil
}

// DeploymentConfig returns the dispatcher configuration for this job. The
// job instance ID stands in for the deployment ID.
func (p JobParams) DeploymentConfig() (DeploymentConfig, error) {
	return NewDeploymentConfig(Values{
		Endpoint:     p.Endpoint,
		Token:        p.Token,
		Owner:        p.Owner,
		DeploymentID: p.JobInstanceID,
	})
}

// EnvOverrides parses the user-supplied KEY=VALUE list. The value is
// everything after the first '='.
func (p JobParams) EnvOverrides() ([]string, error) {
	out := make([]string, 0, len(p.EnvVars))
	for i, kv := range p.EnvVars {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("env_vars[%d]: expected KEY=VALUE, got %q", i, kv)
		}
		out = append(out, key+"="+value)
	}
	return out, nil
}

// Environment returns base extended with the job variables scripts expect,
// followed by user overrides. Later entries win when the slice is handed to
// os/exec.
func (p JobParams) Environment(base []string) ([]string, error) {
	overrides, err := p.EnvOverrides()
	if err != nil {
		return nil, err
	}

	env := make([]string, 0, len(base)+4+len(overrides))
	env = append(env, base...)
	env = append(env,
		EnvEndpoint+"="+p.Endpoint,
		EnvJobToken+"="+p.Token,
		EnvJobOwner+"="+p.Owner,
		EnvJobInstanceID+"="+p.JobInstanceID,
	)
	return append(env, overrides...), nil
}

// MergeEnv fills empty parameters from the environment.
func (p *JobParams) MergeEnv(lookup func(string) (string, bool)) {
	fill := func(dst *string, name string) {
		if *dst != "" {
			return
		}
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	fill(&p.Endpoint, EnvEndpoint)
	fill(&p.Token, EnvJobToken)
	fill(&p.Owner, EnvJobOwner)
	fill(&p.JobInstanceID, EnvJobInstanceID)
	fill(&p.WorkingDir, EnvWorkingDir)
	fill(&p.DockerImage, EnvDockerImage)
}
