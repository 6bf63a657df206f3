package cd4pe

import (
	"context"
	"net/url"
	"strings"
)

// Operation is one CD4PE RPC. The set is closed: only the types in this
// file implement it.
type Operation interface {
	// Name is the value of the "op" field on the wire.
	Name() string
	// Verb is the HTTP method the operation is sent with.
	Verb() Verb

	build(deploymentID string) wireRequest
}

// wireRequest is the encoded form of an operation: query parameters for
// GET operations, JSON content for the rest.
type wireRequest struct {
	query   [][2]string
	content any
}

// envelope is the POST body shape shared by all mutating operations.
type envelope struct {
	Op      string `json:"op"`
	Content any    `json:"content"`
}

// PinNodesToGroup pins nodes to a node group.
type PinNodesToGroup struct {
	NodeGroupID string   `json:"nodeGroupId"`
	Nodes       []string `json:"nodes"`
}

func (PinNodesToGroup) Name() string { return "PinNodesToGroup" }
func (PinNodesToGroup) Verb() Verb   { return POST }
func (o PinNodesToGroup) build(id string) wireRequest {
	return wireRequest{content: struct {
		DeploymentID string `json:"deploymentId"`
		PinNodesToGroup
	}{id, o}}
}

// GetNodeGroupInfo fetches a node group's definition.
type GetNodeGroupInfo struct {
	NodeGroupID string
}

func (GetNodeGroupInfo) Name() string { return "GetNodeGroupInfo" }
func (GetNodeGroupInfo) Verb() Verb   { return GET }
func (o GetNodeGroupInfo) build(string) wireRequest {
	return wireRequest{query: [][2]string{{"nodeGroupId", o.NodeGroupID}}}
}

// DeleteNodeGroup deletes a node group.
type DeleteNodeGroup struct {
	NodeGroupID string `json:"nodeGroupId"`
}

func (DeleteNodeGroup) Name() string { return "DeleteNodeGroup" }
func (DeleteNodeGroup) Verb() Verb   { return POST }
func (o DeleteNodeGroup) build(id string) wireRequest {
	return wireRequest{content: struct {
		DeploymentID string `json:"deploymentId"`
		DeleteNodeGroup
	}{id, o}}
}

// DeployCode triggers a code deployment to an environment.
type DeployCode struct {
	EnvironmentName       string `json:"environmentName"`
	DefaultBranchOverride string `json:"defaultBranchOverride,omitempty"`
}

func (DeployCode) Name() string { return "DeployCode" }
func (DeployCode) Verb() Verb   { return POST }
func (o DeployCode) build(id string) wireRequest {
	return wireRequest{content: struct {
		DeploymentID string `json:"deploymentId"`
		DeployCode
	}{id, o}}
}

// GetDeploymentApprovalState fetches the deployment's approval state.
type GetDeploymentApprovalState struct{}

func (GetDeploymentApprovalState) Name() string             { return "GetDeploymentApprovalState" }
func (GetDeploymentApprovalState) Verb() Verb               { return GET }
func (GetDeploymentApprovalState) build(string) wireRequest { return wireRequest{} }

// RunPuppet triggers a Puppet run across nodes.
type RunPuppet struct {
	EnvironmentName string   `json:"environmentName"`
	Nodes           []string `json:"nodes"`
	WithNoop        bool     `json:"withNoop"`
	Concurrency     *int     `json:"concurrency,omitempty"`
}

func (RunPuppet) Name() string { return "RunPuppet" }
func (RunPuppet) Verb() Verb   { return POST }
func (o RunPuppet) build(id string) wireRequest {
	return wireRequest{content: struct {
		DeploymentID string `json:"deploymentId"`
		RunPuppet
	}{id, o}}
}

// GetPuppetRunStatus fetches the status of a Puppet run job.
type GetPuppetRunStatus struct {
	JobID string `json:"jobId"`
}

func (GetPuppetRunStatus) Name() string { return "GetPuppetRunStatus" }
func (GetPuppetRunStatus) Verb() Verb   { return POST }
func (o GetPuppetRunStatus) build(id string) wireRequest {
	return wireRequest{content: struct {
		DeploymentID string `json:"deploymentId"`
		GetPuppetRunStatus
	}{id, o}}
}

// CreateTempNodeGroup creates a temporary child node group.
type CreateTempNodeGroup struct {
	ParentNodeGroupID      string `json:"parentNodeGroupId"`
	EnvironmentName        string `json:"environmentName"`
	IsEnvironmentNodeGroup bool   `json:"isEnvironmentNodeGroup"`
}

func (CreateTempNodeGroup) Name() string { return "CreateTempNodeGroup" }
func (CreateTempNodeGroup) Verb() Verb   { return POST }
func (o CreateTempNodeGroup) build(id string) wireRequest {
	return wireRequest{content: struct {
		DeploymentID string `json:"deploymentId"`
		CreateTempNodeGroup
	}{id, o}}
}

// DeleteGitBranch deletes a branch in the control repository.
type DeleteGitBranch struct {
	BranchName string `json:"branchName"`
}

func (DeleteGitBranch) Name() string { return "DeleteGitBranch" }
func (DeleteGitBranch) Verb() Verb   { return POST }
func (o DeleteGitBranch) build(id string) wireRequest {
	return wireRequest{content: struct {
		DeploymentID string `json:"deploymentId"`
		DeleteGitBranch
	}{id, o}}
}

// UpdateGitRef points a branch at a commit.
type UpdateGitRef struct {
	BranchName string `json:"branchName"`
	CommitSha  string `json:"commitSha"`
}

func (UpdateGitRef) Name() string { return "UpdateGitRef" }
func (UpdateGitRef) Verb() Verb   { return POST }
func (o UpdateGitRef) build(id string) wireRequest {
	return wireRequest{content: struct {
		DeploymentID string `json:"deploymentId"`
		UpdateGitRef
	}{id, o}}
}

// Do encodes op for this client's deployment and sends it.
func (c *Client) Do(ctx context.Context, op Operation) (*Response, error) {
	req := op.build(c.cfg.DeploymentID)
	path := c.cfg.AjaxPath()

	if op.Verb() == GET {
		params := append([][2]string{{"op", op.Name()}, {"deploymentId", c.cfg.DeploymentID}}, req.query...)
		return c.Send(ctx, GET, path+"?"+encodeQuery(params), nil)
	}

	return c.Send(ctx, op.Verb(), path, envelope{Op: op.Name(), Content: req.content})
}

// encodeQuery keeps parameters in the given order, unlike url.Values.
func encodeQuery(params [][2]string) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, url.QueryEscape(p[0])+"="+url.QueryEscape(p[1]))
	}
	return strings.Join(parts, "&")
}

func (c *Client) PinNodesToGroup(ctx context.Context, nodes []string, nodeGroupID string) (*Response, error) {
	return c.Do(ctx, PinNodesToGroup{NodeGroupID: nodeGroupID, Nodes: nodes})
}

func (c *Client) GetNodeGroup(ctx context.Context, nodeGroupID string) (*Response, error) {
	return c.Do(ctx, GetNodeGroupInfo{NodeGroupID: nodeGroupID})
}

func (c *Client) DeleteNodeGroup(ctx context.Context, nodeGroupID string) (*Response, error) {
	return c.Do(ctx, DeleteNodeGroup{NodeGroupID: nodeGroupID})
}

// DeployCode deploys to environmentName. An empty branchOverride is omitted.
func (c *Client) DeployCode(ctx context.Context, environmentName, branchOverride string) (*Response, error) {
	return c.Do(ctx, DeployCode{EnvironmentName: environmentName, DefaultBranchOverride: branchOverride})
}

func (c *Client) GetApprovalState(ctx context.Context) (*Response, error) {
	return c.Do(ctx, GetDeploymentApprovalState{})
}

// RunPuppet starts a Puppet run. A nil concurrency is omitted.
func (c *Client) RunPuppet(ctx context.Context, environmentName string, nodes []string, concurrency *int, noop bool) (*Response, error) {
	return c.Do(ctx, RunPuppet{EnvironmentName: environmentName, Nodes: nodes, WithNoop: noop, Concurrency: concurrency})
}

func (c *Client) GetPuppetRunStatus(ctx context.Context, jobID string) (*Response, error) {
	return c.Do(ctx, GetPuppetRunStatus{JobID: jobID})
}

func (c *Client) CreateTempNodeGroup(ctx context.Context, parentNodeGroupID, environmentName string, isEnvironmentNodeGroup bool) (*Response, error) {
	return c.Do(ctx, CreateTempNodeGroup{
		ParentNodeGroupID:      parentNodeGroupID,
		EnvironmentName:        environmentName,
		IsEnvironmentNodeGroup: isEnvironmentNodeGroup,
	})
}

func (c *Client) DeleteGitBranch(ctx context.Context, branchName string) (*Response, error) {
	return c.Do(ctx, DeleteGitBranch{BranchName: branchName})
}

func (c *Client) UpdateGitBranchRef(ctx context.Context, branchName, commitSha string) (*Response, error) {
	return c.Do(ctx, UpdateGitRef{BranchName: branchName, CommitSha: commitSha})
}
