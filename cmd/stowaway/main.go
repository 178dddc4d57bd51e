package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/lgulliver/stowaway/pkg/client"
	"github.com/lgulliver/stowaway/pkg/config"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

const usage = `Usage: stowaway <command> [flags]

Commands:
  upload FILE       upload FILE, resuming an earlier interrupted upload
  status UPLOAD_ID  show the server state of an upload

Run "stowaway <command> --help" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "upload":
		err = runUpload(ctx, os.Args[2:])
	case "status":
		err = runStatus(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Error().Err(err).Msg(os.Args[1] + " failed")
		os.Exit(1)
	}
}

type commonFlags struct {
	server   string
	logLevel string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVarP(&c.server, "server", "s", envOr("STOWAWAY_SERVER", "http://localhost:5000"), "upload server base URL")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func (c *commonFlags) setupLogging() {
	config.LoggingConfig{Level: c.logLevel, Format: "console"}.SetupLogging()
}

func runUpload(ctx context.Context, args []string) error {
	var (
		common   commonFlags
		cfg      = client.DefaultConfig()
		uploadID string
		compress bool
		quiet    bool
	)

	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	common.register(fs)
	fs.IntVarP(&cfg.Concurrency, "concurrency", "c", cfg.Concurrency, "maximum chunks in flight")
	fs.IntVarP(&cfg.MaxRetries, "retries", "r", cfg.MaxRetries, "retries per chunk after the first attempt")
	fs.DurationVar(&cfg.BaseDelay, "retry-delay", cfg.BaseDelay, "backoff before the first retry, doubled on each further retry")
	fs.DurationVar(&cfg.AttemptTimeout, "attempt-timeout", cfg.AttemptTimeout, "timeout of a single chunk attempt")
	fs.Int64Var(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "chunk size in bytes, must match the server")
	fs.StringVar(&uploadID, "id", "", "upload id (default: derived from file name, size and modification time)")
	fs.BoolVarP(&compress, "compress", "z", false, "zstd-compress chunk bodies")
	fs.BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stowaway upload [flags] FILE\n\n%s", fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected exactly one file, got %d", fs.NArg())
	}
	common.setupLogging()

	c, err := client.New(common.server, client.WithCompression(compress), client.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	defer c.Close()

	var opts []client.SchedulerOption
	if !quiet {
		opts = append(opts, client.WithProgress(func(s client.Snapshot) {
			fmt.Fprintf(os.Stderr, "\r\033[K%s", s)
		}))
	}

	start := time.Now()
	result, err := client.NewUploader(c, cfg, opts...).Upload(ctx, fs.Arg(0), uploadID)
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}

	if err != nil {
		if result != nil && result.UploadID != "" {
			log.Info().Str("upload_id", result.UploadID).Msg("re-run the same command to resume")
		}
		if result != nil && result.Report != nil {
			for index, chunkErr := range result.Report.Errors {
				log.Warn().Err(chunkErr).Int("index", index).Msg("chunk not uploaded")
			}
		}
		return err
	}

	fmt.Printf("upload id: %s\n", result.UploadID)
	fmt.Printf("sha256:    %s\n", result.Final.Hash)
	if len(result.Final.Entries) > 0 {
		fmt.Printf("entries:   %s\n", strings.Join(result.Final.Entries, ", "))
	}
	if result.Report != nil {
		fmt.Printf("sent:      %s in %s\n",
			units.BytesSize(float64(result.Report.Progress.SentBytes)),
			units.HumanDuration(time.Since(start)))
	}
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	var common commonFlags

	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	common.register(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stowaway status [flags] UPLOAD_ID\n\n%s", fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected exactly one upload id, got %d", fs.NArg())
	}
	common.setupLogging()

	c, err := client.New(common.server, client.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Status(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("upload id: %s\n", status.UploadID)
	fmt.Printf("file:      %s (%s)\n", status.FileName, units.BytesSize(float64(status.FileSize)))
	fmt.Printf("status:    %s\n", status.Status)
	fmt.Printf("chunks:    %d of %d stored\n", len(status.UploadedIndices), status.TotalChunks)
	if status.Hash != "" {
		fmt.Printf("sha256:    %s\n", status.Hash)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
