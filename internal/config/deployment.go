package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrConfigurationMissing is wrapped by every MissingValueError.
var ErrConfigurationMissing = errors.New("required configuration missing")

// MissingValueError reports a required configuration value that was not supplied.
type MissingValueError struct {
	Name        string // variable or field name, e.g. JOB_TOKEN
	Description string // human wording, e.g. "token for deployment"
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("could not get %s (%s is not set)", e.Description, e.Name)
}

func (e *MissingValueError) Unwrap() error { return ErrConfigurationMissing }

// Values are the raw inputs from which a DeploymentConfig is built.
type Values struct {
	Endpoint     string
	Token        string
	Owner        string
	DeploymentID string
}

// DeploymentConfig identifies the CD4PE service and the deployment or job
// on whose behalf requests are made. It is built once and never mutated.
type DeploymentConfig struct {
	Server       string
	Port         string
	Scheme       string
	Token        string
	DeploymentID string
	Owner        string
}

// NewDeploymentConfig validates v and resolves its endpoint. The first
// missing value is reported as a *MissingValueError.
func NewDeploymentConfig(v Values) (DeploymentConfig, error) {
	required := []struct {
		value string
		err   *MissingValueError
	}{
		{v.Endpoint, &MissingValueError{Name: EnvEndpoint, Description: "CD4PE Web UI Endpoint"}},
		{v.Token, &MissingValueError{Name: EnvDeploymentToken, Description: "token for deployment"}},
		{v.Owner, &MissingValueError{Name: EnvDeploymentOwner, Description: "owner for deployment"}},
		{v.DeploymentID, &MissingValueError{Name: EnvDeploymentID, Description: "ID for deployment"}},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return DeploymentConfig{}, r.err
		}
	}

	scheme, server, port, err := ParseEndpoint(v.Endpoint)
	if err != nil {
		return DeploymentConfig{}, err
	}

	return DeploymentConfig{
		Server:       server,
		Port:         port,
		Scheme:       scheme,
		Token:        v.Token,
		DeploymentID: v.DeploymentID,
		Owner:        v.Owner,
	}, nil
}

// DeploymentFromEnv builds a DeploymentConfig from the DEPLOYMENT_* and
// WEB_UI_ENDPOINT variables.
func DeploymentFromEnv(lookup func(string) (string, bool)) (DeploymentConfig, error) {
	get := func(name string) string {
		v, _ := lookup(name)
		return v
	}
	return NewDeploymentConfig(Values{
		Endpoint:     get(EnvEndpoint),
		Token:        get(EnvDeploymentToken),
		Owner:        get(EnvDeploymentOwner),
		DeploymentID: get(EnvDeploymentID),
	})
}

// ParseEndpoint splits a Web UI endpoint into scheme, host and port.
// Scheme defaults to http. A missing port falls back to the scheme's
// well-known port, or 8080 when the scheme has none.
func ParseEndpoint(endpoint string) (scheme, host, port string, err error) {
	raw := strings.TrimSpace(endpoint)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid CD4PE endpoint %q: %w", endpoint, err)
	}
	if u.Hostname() == "" {
		return "", "", "", fmt.Errorf("invalid CD4PE endpoint %q: missing host", endpoint)
	}

	scheme = strings.ToLower(u.Scheme)
	port = u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			port = "8080"
		}
	}
	return scheme, u.Hostname(), port, nil
}

// ServiceURL is the base URL of the CD4PE service.
func (c DeploymentConfig) ServiceURL() string {
	return fmt.Sprintf("%s://%s:%s", c.Scheme, c.Server, c.Port)
}

// AjaxPath is the owner-scoped path every operation is posted to.
func (c DeploymentConfig) AjaxPath() string {
	return "/" + url.PathEscape(c.Owner) + "/ajax"
}
