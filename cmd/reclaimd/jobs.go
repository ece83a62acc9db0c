package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dray-io/reclaim/internal/config"
	"github.com/dray-io/reclaim/internal/eventlog"
	"github.com/dray-io/reclaim/internal/jobs"
	"github.com/dray-io/reclaim/internal/metadata/oxia"
	"github.com/dray-io/reclaim/internal/objectstore/s3"
)

func runJobs(args []string) {
	if len(args) < 1 {
		printJobsUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "list":
		os.Exit(runJobsList(args[1:]))
	case "show":
		os.Exit(runJobsShow(args[1:]))
	case "help", "-h", "--help":
		printJobsUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown jobs command: %s\n\n", args[0])
		printJobsUsage()
		os.Exit(1)
	}
}

func printJobsUsage() {
	fmt.Println(`Usage: reclaimd jobs <command> [options]

Commands:
  list    List cleanup jobs, newest first
  show    Show one job and its event log

Run 'reclaimd jobs <command> --help' for more information on a command.`)
}

func runJobsList(args []string) int {
	fs := flag.NewFlagSet("jobs list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum number of jobs to print (0 for all)")
	asJSON := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	ctx := context.Background()
	store, closeFn, err := openJobStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeFn()

	recs, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list jobs: %v\n", err)
		return 1
	}
	if *limit > 0 && len(recs) > *limit {
		recs = recs[:*limit]
	}
	if err := printJobList(os.Stdout, recs, *asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func printJobList(w io.Writer, recs []jobs.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATE\tUSER\tQUEUED\tDURATION\tRESULT")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Type, r.State, r.User,
			time.UnixMilli(r.QueuedAtMs).UTC().Format(time.RFC3339),
			r.Duration().Round(time.Millisecond), r.Result)
	}
	return tw.Flush()
}

func runJobsShow(args []string) int {
	fs := flag.NewFlagSet("jobs show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	events := fs.Bool("events", true, "Print the archived event log")
	fs.Usage = func() {
		fmt.Println(`Usage: reclaimd jobs show [options] <job-id>

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	id := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	ctx := context.Background()

	store, closeFn, err := openJobStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeFn()

	rec, err := store.Get(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get job %s: %v\n", id, err)
		return 1
	}
	printJob(os.Stdout, rec)

	if !*events || rec.EventLogKey == "" {
		return 0
	}
	blobs, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.Blobstore.Bucket,
		Region:          cfg.Blobstore.Region,
		Endpoint:        cfg.Blobstore.Endpoint,
		AccessKeyID:     cfg.Blobstore.AccessKey,
		SecretAccessKey: cfg.Blobstore.SecretKey,
		UsePathStyle:    cfg.Blobstore.PathStyle,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect blobstore: %v\n", err)
		return 1
	}
	defer blobs.Close()

	evs, err := eventlog.ReadArchive(ctx, blobs, rec.EventLogKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println()
	printEvents(os.Stdout, evs)
	return 0
}

func printJob(w io.Writer, r jobs.Record) {
	fmt.Fprintf(w, "ID:          %s\n", r.ID)
	fmt.Fprintf(w, "Type:        %s\n", r.Type)
	fmt.Fprintf(w, "State:       %s\n", r.State)
	fmt.Fprintf(w, "User:        %s\n", r.User)
	fmt.Fprintf(w, "Description: %s\n", r.Description)
	if len(r.Config) > 0 {
		cfg, _ := json.Marshal(r.Config)
		fmt.Fprintf(w, "Config:      %s\n", cfg)
	}
	fmt.Fprintf(w, "Queued:      %s\n", time.UnixMilli(r.QueuedAtMs).UTC().Format(time.RFC3339))
	if r.State.Finished() {
		fmt.Fprintf(w, "Duration:    %s\n", r.Duration().Round(time.Millisecond))
	}
	if r.Result != "" {
		fmt.Fprintf(w, "Result:      %s\n", r.Result)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", r.Error)
	}
}

func printEvents(w io.Writer, evs []eventlog.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTAGE\tTASK\tPROGRESS\tSTATE\tERROR")
	for _, e := range evs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			e.Time.UTC().Format(time.RFC3339), e.Stage, e.Task, e.Index, e.Total, e.State, e.Error)
	}
	tw.Flush()
}

// openJobStore connects only the metadata store; job records live there.
func openJobStore(ctx context.Context, cfg *config.Config) (*jobs.Store, func(), error) {
	meta, err := oxia.New(ctx, oxia.Config{
		ServiceAddress: cfg.Metadata.OxiaEndpoint,
		Namespace:      cfg.Metadata.Namespace,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect metadata store: %w", err)
	}
	return jobs.NewStore(meta), func() { meta.Close() }, nil
}
