package cd4pe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BundleOp is the operation name used to download a job's scripts and
// control-repo snapshot.
const BundleOp = "GetJobScriptAndControlRepo"

// FetchJobBundle downloads the job archive for this client's job instance
// and writes it to target. The body is written only for a 2xx response.
// Any other response is returned untouched and target is left as it was,
// so callers must not treat a 3xx as a downloaded bundle.
func (c *Client) FetchJobBundle(ctx context.Context, target string) (*Response, error) {
	path := c.cfg.AjaxPath() + "?" + encodeQuery([][2]string{
		{"op", BundleOp},
		{"jobInstanceId", c.cfg.DeploymentID},
	})

	resp, err := c.Send(ctx, GET, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.Class != ClassSuccess {
		return resp, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create bundle directory: %w", err)
	}
	if err := os.WriteFile(target, resp.Body, 0o644); err != nil {
		return nil, fmt.Errorf("write job bundle %s: %w", target, err)
	}

	c.logger.Debug("job bundle written", "path", target, "bytes", len(resp.Body))
	return resp, nil
}
