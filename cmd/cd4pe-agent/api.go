package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/cd4pe-agent/internal/cd4pe"
	"github.com/mattjoyce/cd4pe-agent/internal/config"
	"github.com/mattjoyce/cd4pe-agent/internal/log"
	"github.com/mattjoyce/cd4pe-agent/internal/render"
)

// apiCommand binds one CLI operation name to its flags.
type apiCommand struct {
	summary string
	// bind registers the operation's flags and returns a builder that is
	// called after parsing.
	bind func(fs *flag.FlagSet) func() (cd4pe.Operation, error)
}

var apiCommands = map[string]apiCommand{
	"pin-nodes": {
		summary: "Pin nodes to a node group",
		bind: func(fs *flag.FlagSet) func() (cd4pe.Operation, error) {
			group := fs.String("node-group-id", "", "Node group ID")
			nodes := fs.String("nodes", "", "Comma-separated certnames")
			return func() (cd4pe.Operation, error) {
				if err := requireFlag("--node-group-id", *group); err != nil {
					return nil, err
				}
				return cd4pe.PinNodesToGroup{NodeGroupID: *group, Nodes: splitList(*nodes)}, nil
			}
		},
	},
	"get-node-group": {
		summary: "Show a node group",
		bind: func(fs *flag.FlagSet) func() (cd4pe.Operation, error) {
			group := fs.String("node-group-id", "", "Node group ID")
			return func() (cd4pe.Operation, error) {
				if err := requireFlag("--node-group-id", *group); err != nil {
					return nil, err
				}
				return cd4pe.GetNodeGroupInfo{NodeGroupID: *group}, nil
			}
		},
	},
	"delete-node-group": {
		summary: "Delete a node group",
		bind: func(fs *flag.FlagSet) func() (cd4pe.Operation, error) {
			group := fs.String("node-group-id", "", "Node group ID")
			return func() (cd4pe.Operation, error) {
				if err := requireFlag("--node-group-id", *group); err != nil {
					return nil, err
				}
				return cd4pe.DeleteNodeGroup{NodeGroupID: *group}, nil
			}
		},
	},
	"deploy-code": {
		summary: "Deploy code to a Puppet environment",
		bind: func(fs *flag.FlagSet) func() (cd4pe.Operation, error) {
			env := fs.String("environment", "", "Puppet environment")
			branch := fs.String("branch-override", "", "Default branch override")
			return func() (cd4pe.Operation, error) {
				if err := requireFlag("--environment", *env); err != nil {
					return nil, err
				}
				return cd4pe.DeployCode{EnvironmentName: *env, DefaultBranchOverride: *branch}, nil
			}
		},
	},
	"approval-state": {
		summary: "Show the deployment's approval state",
		bind: func(fs *flag.FlagSet) func() (cd4pe.Operation, error) {
			return func() (cd4pe.Operation, error) {
				return cd4pe.GetDeploymentApprovalState{}, nil
			}
		},
	},
	"run-puppet": {
		summary: "Start a Puppet run on nodes",
		bind: func(fs *flag.FlagSet) func() (cd4pe.Operation, error) {
			env := fs.String("environment", "", "Puppet environment")
			nodes := fs.String("nodes", "", "Comma-separated certnames")
			noop := fs.Bool("noop", false, "Run in noop mode")
			concurrency := fs.Int("concurrency", 0, "Maximum concurrent runs (0 = server default)")
			return func() (cd4pe.Operation, error) {
				if err := requireFlag("--environment", *env); err != nil {
					return nil, err
				}
				op := cd4pe.RunPuppet{EnvironmentName: *env, Nodes: splitList(*nodes), WithNoop: *noop}
				if *concurrency > 0 {
					c := *concurrency
					op.Concurrency = &c
				}
				return op, nil
			}
		},
	},
	"puppet-run-status": {
		summary: "Show the status of a Puppet run",
		bind: func(fs *flag.FlagSet) func() (cd4pe.Operation, error) {
			jobID := fs.String("job-id", "", "Puppet run job ID")
			return func() (cd4pe.Operation, error) {
				if err := requireFlag("--job-id", *jobID); err != nil {
					return nil, err
				}
				return cd4pe.GetPuppetRunStatus{JobID: *jobID}, nil
			}
		},
	},
	"create-temp-node-group": {
		summary: "Create a temporary node group",
		bind: func(fs *flag.FlagSet) func() (cd4pe.Operation, error) {
			parent := fs.String("parent-node-group-id", "", "Parent node group ID")
			env := fs.String("environment", "", "Puppet environment")
			envGroup := fs.Bool("environment-node-group", false, "Create as an environment node group")
			return func() (cd4pe.Operation, error) {
				if err := requireFlag("--parent-node-group-id", *parent); err != nil {
					return nil, err
				}
				if err := requireFlag("--environment", *env); err != nil {
					return nil, err
				}
				return cd4pe.CreateTempNodeGroup{
					ParentNodeGroupID:      *parent,
					EnvironmentName:        *env,
					IsEnvironmentNodeGroup: *envGroup,
				}, nil
			}
		},
	},
	"delete-git-branch": {
		summary: "Delete a control-repo branch",
		bind: func(fs *flag.FlagSet) func() (cd4pe.Operation, error) {
			branch := fs.String("branch", "", "Branch name")
			return func() (cd4pe.Operation, error) {
				if err := requireFlag("--branch", *branch); err != nil {
					return nil, err
				}
				return cd4pe.DeleteGitBranch{BranchName: *branch}, nil
			}
		},
	},
	"update-git-ref": {
		summary: "Point a control-repo branch at a commit",
		bind: func(fs *flag.FlagSet) func() (cd4pe.Operation, error) {
			branch := fs.String("branch", "", "Branch name")
			commit := fs.String("commit", "", "Commit SHA")
			return func() (cd4pe.Operation, error) {
				if err := requireFlag("--branch", *branch); err != nil {
					return nil, err
				}
				if err := requireFlag("--commit", *commit); err != nil {
					return nil, err
				}
				return cd4pe.UpdateGitRef{BranchName: *branch, CommitSha: *commit}, nil
			}
		},
	},
}

func runAPINoun(args []string) int {
	if len(args) < 1 {
		printAPINounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printAPINounHelp(os.Stdout)
		return 0
	}

	name := args[0]
	command, ok := apiCommands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown api operation: %s\n", name)
		return 1
	}
	return runAPICommand(name, command, args[1:])
}

func printAPINounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: cd4pe-agent api <operation> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Connection settings default to WEB_UI_ENDPOINT, DEPLOYMENT_TOKEN,")
	fmt.Fprintln(w, "DEPLOYMENT_OWNER and DEPLOYMENT_ID.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Operations:")

	names := make([]string, 0, len(apiCommands))
	for name := range apiCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-24s %s\n", name, apiCommands[name].summary)
	}
}

func runAPICommand(name string, command apiCommand, args []string) int {
	fs := flag.NewFlagSet("api "+name, flag.ContinueOnError)
	endpoint := fs.String("endpoint", "", "CD4PE web UI endpoint (default $WEB_UI_ENDPOINT)")
	token := fs.String("token", "", "Deployment token (default $DEPLOYMENT_TOKEN)")
	owner := fs.String("owner", "", "Deployment owner (default $DEPLOYMENT_OWNER)")
	deploymentID := fs.String("deployment-id", "", "Deployment ID (default $DEPLOYMENT_ID)")
	timeout := fs.Duration("http-timeout", config.Defaults().Service.HTTPTimeout, "Per-attempt HTTP timeout")
	logLevel := fs.String("log-level", "info", "Log level")
	build := command.bind(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected arguments: %v\n", fs.Args())
		return 1
	}
	log.Setup(*logLevel)

	op, err := build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	fromEnv := func(v, name string) string {
		if v != "" {
			return v
		}
		return os.Getenv(name)
	}
	cfg, err := config.NewDeploymentConfig(config.Values{
		Endpoint:     fromEnv(*endpoint, config.EnvEndpoint),
		Token:        fromEnv(*token, config.EnvDeploymentToken),
		Owner:        fromEnv(*owner, config.EnvDeploymentOwner),
		DeploymentID: fromEnv(*deploymentID, config.EnvDeploymentID),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := cd4pe.New(cfg, cd4pe.WithHTTPTimeout(*timeout))
	return callAPI(ctx, client, op)
}

func callAPI(ctx context.Context, client *cd4pe.Client, op cd4pe.Operation) int {
	start := time.Now()
	resp, err := client.Do(ctx, op)
	if err != nil {
		var exhausted *cd4pe.ServerExhaustedError
		var connErr *cd4pe.ConnectionError
		switch {
		case errors.As(err, &exhausted), errors.As(err, &connErr):
			fmt.Fprintf(os.Stderr, "CD4PE unavailable: %v\n", err)
		default:
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", op.Name(), err)
		}
		return 1
	}
	log.Debug("api call finished", "op", op.Name(), "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if !resp.OK() {
		fmt.Fprintf(os.Stderr, "%v\n", cd4pe.NewAPIError(op.Name(), resp))
		return 1
	}
	fmt.Println(render.PrettyJSON(resp.Body))
	return 0
}

func requireFlag(flagName, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", flagName)
	}
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
