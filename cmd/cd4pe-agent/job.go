package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/cd4pe-agent/internal/cd4pe"
	"github.com/mattjoyce/cd4pe-agent/internal/config"
	"github.com/mattjoyce/cd4pe-agent/internal/history"
	"github.com/mattjoyce/cd4pe-agent/internal/job"
	"github.com/mattjoyce/cd4pe-agent/internal/lock"
	"github.com/mattjoyce/cd4pe-agent/internal/log"
	"github.com/mattjoyce/cd4pe-agent/internal/render"
	"github.com/mattjoyce/cd4pe-agent/internal/storage"
)

// exitJobFailed is returned by 'job run --exit-code' when a stage failed.
const exitJobFailed = 2

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "run":
		if hasHelpFlag(actionArgs) {
			printJobRunHelp()
			return 0
		}
		return runJobRun(actionArgs)
	case "history":
		if hasHelpFlag(actionArgs) {
			printJobHistoryHelp()
			return 0
		}
		return runJobHistory(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printJobInspectHelp()
			return 0
		}
		return runJobInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: cd4pe-agent job <action> [flags]")
	fmt.Fprintln(w, "Actions: run, history, inspect")
}

func printJobRunHelp() {
	fmt.Println(`Usage: cd4pe-agent job run [flags]

Parameters are read from --params, then flags, then the environment
(WEB_UI_ENDPOINT, JOB_TOKEN, JOB_OWNER, JOB_INSTANCE_ID, CD4PE_WORKING_DIR,
CD4PE_DOCKER_IMAGE).

Flags:
  --params PATH             YAML file with service, state and job sections
  --endpoint URL            CD4PE web UI endpoint
  --token TOKEN             job token
  --owner NAME              job owner
  --job-instance-id ID      job instance to run
  --working-dir DIR         directory the bundle is unpacked into
  --docker-image IMAGE      run stage scripts inside this image
  --docker-run-arg ARG      extra 'docker run' argument (repeatable)
  --env KEY=VALUE           extra environment for stage scripts (repeatable)
  --state PATH              run-history database
  --no-history              do not record the run
  --cleanup                 remove the bundle and unpacked job afterwards
  --format json|text        report format (default json)
  --exit-code               exit 2 when any stage fails
  --log-level LEVEL         debug, info, warn or error`)
}

func printJobHistoryHelp() {
	fmt.Println("Usage: cd4pe-agent job history [--working-dir DIR | --state PATH] [--job-instance-id ID] [--status STATUS] [--limit N] [--json]")
}

func printJobInspectHelp() {
	fmt.Println("Usage: cd4pe-agent job inspect <run_id> [--working-dir DIR | --state PATH] [--json]")
	fmt.Println("       cd4pe-agent job inspect --latest --job-instance-id ID [--working-dir DIR | --state PATH] [--json]")
}

type jobRunFlags struct {
	params     string
	endpoint   string
	token      string
	owner      string
	instanceID string
	workingDir string
	image      string
	runArgs    stringList
	envVars    stringList
	statePath  string
	noHistory  bool
	cleanup    bool
	format     string
	exitCode   bool
	logLevel   string
}

func runJobRun(args []string) int {
	var f jobRunFlags
	fs := flag.NewFlagSet("job run", flag.ContinueOnError)
	fs.StringVar(&f.params, "params", "", "Path to YAML parameters file")
	fs.StringVar(&f.endpoint, "endpoint", "", "CD4PE web UI endpoint")
	fs.StringVar(&f.token, "token", "", "Job token")
	fs.StringVar(&f.owner, "owner", "", "Job owner")
	fs.StringVar(&f.instanceID, "job-instance-id", "", "Job instance ID")
	fs.StringVar(&f.workingDir, "working-dir", "", "Working directory")
	fs.StringVar(&f.image, "docker-image", "", "Docker image for stage scripts")
	fs.Var(&f.runArgs, "docker-run-arg", "Extra docker run argument (repeatable)")
	fs.Var(&f.envVars, "env", "KEY=VALUE for stage scripts (repeatable)")
	fs.StringVar(&f.statePath, "state", "", "Run-history database path")
	fs.BoolVar(&f.noHistory, "no-history", false, "Do not record the run")
	fs.BoolVar(&f.cleanup, "cleanup", false, "Remove bundle and unpacked job afterwards")
	fs.StringVar(&f.format, "format", "json", "Report format: json or text")
	fs.BoolVar(&f.exitCode, "exit-code", false, "Exit 2 when any stage fails")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected arguments: %v\n", fs.Args())
		return 1
	}
	if f.format != "json" && f.format != "text" {
		fmt.Fprintf(os.Stderr, "Invalid --format %q (want json or text)\n", f.format)
		return 1
	}

	cfg, err := loadRunConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load parameters: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	if err := cfg.Job.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	jobLock, err := lock.Acquire(cfg.Job.WorkingDir, cfg.Job.JobInstanceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock working directory: %v\n", err)
		return 1
	}
	defer jobLock.Release()

	deployment, err := cfg.Job.DeploymentConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	client := cd4pe.New(deployment, cd4pe.WithHTTPTimeout(cfg.Service.HTTPTimeout))

	var opts []job.Option
	if !cfg.State.Disabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := storage.OpenSQLite(ctx, cfg.HistoryPath())
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open run history: %v\n", err)
			return 1
		}
		defer db.Close()
		opts = append(opts, job.WithRecorder(history.NewStore(db)))
	}

	progress := log.NewProgress(log.WithJob(cfg.Job.JobInstanceID).With("component", "progress"))
	orchestrator, err := job.New(cfg.Job, client, progress, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, runErr := orchestrator.Run(ctx)

	if f.cleanup {
		if err := orchestrator.Layout().Clean(); err != nil {
			log.Warn("cleanup failed", "error", err)
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Job failed: %v\n", runErr)
		return 1
	}

	if err := printReport(report, f.format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
		return 1
	}
	if f.exitCode && !report.Succeeded() {
		return exitJobFailed
	}
	return 0
}

func loadRunConfig(f jobRunFlags) (*config.Config, error) {
	cfg := config.Defaults()
	if f.params != "" {
		loaded, err := config.Load(f.params)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Job.Endpoint, f.endpoint)
	override(&cfg.Job.Token, f.token)
	override(&cfg.Job.Owner, f.owner)
	override(&cfg.Job.JobInstanceID, f.instanceID)
	override(&cfg.Job.WorkingDir, f.workingDir)
	override(&cfg.Job.DockerImage, f.image)
	override(&cfg.State.Path, f.statePath)
	override(&cfg.Service.LogLevel, f.logLevel)
	if len(f.runArgs) > 0 {
		cfg.Job.DockerRunArgs = append([]string(nil), f.runArgs...)
	}
	cfg.Job.EnvVars = append(cfg.Job.EnvVars, f.envVars...)
	if f.noHistory {
		cfg.State.Disabled = true
	}

	cfg.Job.MergeEnv(os.LookupEnv)
	return cfg, nil
}

func printReport(report job.Report, format string) error {
	if format == "text" {
		fmt.Print(render.JobReport(report, outputTheme()))
		return nil
	}
	out, err := render.ReportJSON(report)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// openHistory resolves the history database from --state or the working
// directory (flag or CD4PE_WORKING_DIR).
func openHistory(statePath, workingDir string) (*history.Store, func(), error) {
	cfg := config.Defaults()
	cfg.State.Path = statePath
	cfg.Job.WorkingDir = workingDir
	cfg.Job.MergeEnv(os.LookupEnv)

	path := cfg.HistoryPath()
	if path == "" {
		return nil, nil, errors.New("no history location: pass --state or --working-dir")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("no run history at %s", path)
	}

	db, err := storage.OpenSQLite(context.Background(), path)
	if err != nil {
		return nil, nil, err
	}
	return history.NewStore(db), func() { _ = db.Close() }, nil
}

func runJobHistory(args []string) int {
	fs := flag.NewFlagSet("job history", flag.ContinueOnError)
	statePath := fs.String("state", "", "Run-history database path")
	workingDir := fs.String("working-dir", "", "Job working directory")
	instanceID := fs.String("job-instance-id", "", "Only runs of this job instance")
	status := fs.String("status", "", "Only runs with this status (succeeded, failed, error)")
	limit := fs.Int("limit", 20, "Maximum number of runs")
	jsonOut := fs.Bool("json", false, "Output runs as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	switch job.Status(*status) {
	case "", job.StatusSucceeded, job.StatusFailed, job.StatusError:
	default:
		fmt.Fprintf(os.Stderr, "Invalid --status %q\n", *status)
		return 1
	}

	store, closeFn, err := openHistory(*statePath, *workingDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run history: %v\n", err)
		return 1
	}
	defer closeFn()

	runs, err := store.List(context.Background(), history.Filter{
		JobInstanceID: *instanceID,
		Status:        job.Status(*status),
		Limit:         *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}

	if *jsonOut {
		if runs == nil {
			runs = []history.Run{}
		}
		data, err := jsonIndent(runs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render runs: %v\n", err)
			return 1
		}
		fmt.Println(data)
		return 0
	}

	fmt.Print(render.HistoryTable(runs, outputTheme()))
	return 0
}

func runJobInspect(args []string) int {
	runID, rest := leadingPositional(args)

	fs := flag.NewFlagSet("job inspect", flag.ContinueOnError)
	statePath := fs.String("state", "", "Run-history database path")
	workingDir := fs.String("working-dir", "", "Job working directory")
	instanceID := fs.String("job-instance-id", "", "Job instance for --latest")
	latest := fs.Bool("latest", false, "Inspect the latest run of --job-instance-id")
	jsonOut := fs.Bool("json", false, "Output the run as JSON")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if runID == "" {
		runID = fs.Arg(0)
	}

	if runID == "" && !(*latest && *instanceID != "") {
		fmt.Fprintln(os.Stderr, "Usage: cd4pe-agent job inspect <run_id> | --latest --job-instance-id ID [--json]")
		return 1
	}

	store, closeFn, err := openHistory(*statePath, *workingDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run history: %v\n", err)
		return 1
	}
	defer closeFn()

	var run *history.Run
	if runID != "" {
		run, err = store.Get(context.Background(), runID)
	} else {
		run, err = store.Latest(context.Background(), *instanceID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		out, err := render.RunJSON(*run)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
			return 1
		}
		fmt.Println(out)
		return 0
	}

	fmt.Print(render.RunReport(*run, outputTheme()))
	return 0
}
