package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/courierfs/courier/internal/transfer"
	"github.com/courierfs/courier/internal/transport"
	"github.com/courierfs/courier/internal/ui"
	"github.com/courierfs/courier/pkg/config"
	"github.com/courierfs/courier/pkg/profile"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

// NewUploadCmd creates the upload command
func NewUploadCmd() *cobra.Command {
	var (
		endpoint      string
		chunkSize     string
		maxConcurrent int
		maxRetries    int
		maxFileSize   string
	)

	cmd := &cobra.Command{
		Use:   "upload [path|glob ...]",
		Short: "Upload files in resumable chunks",
		Long: `Upload one or more files to the configured endpoint in resumable chunks.

Each matched file gets its own upload session: the file is split into
fixed-size chunks, chunks are pushed concurrently with bounded parallelism,
failed chunks are retried with exponential backoff, and the server-side
reassembly is verified against a whole-file digest.

Paths may be literal files or doublestar globs. Without arguments the
include patterns from courier.toml are used.

Examples:
  courier upload report.pdf
  courier upload "data/**/*.bin" --max-concurrent 5
  courier upload --endpoint https://upload.example.com backups/*.tar.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, args, uploadFlags{
				endpoint:      endpoint,
				chunkSize:     chunkSize,
				maxConcurrent: maxConcurrent,
				maxRetries:    maxRetries,
				maxFileSize:   maxFileSize,
			})
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Upload endpoint (overrides profile and config)")
	cmd.Flags().StringVar(&chunkSize, "chunk-size", "", "Chunk size, e.g. 4MiB")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Maximum in-flight chunks per file")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Per-chunk retry budget")
	cmd.Flags().StringVar(&maxFileSize, "max-file-size", "", "Reject files larger than this, e.g. 1GiB")

	return cmd
}

type uploadFlags struct {
	endpoint      string
	chunkSize     string
	maxConcurrent int
	maxRetries    int
	maxFileSize   string
}

func runUpload(cmd *cobra.Command, args []string, flags uploadFlags) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := config.GetConfigFromContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	prof, err := profile.Load(profile.DefaultFileName)
	if err != nil {
		return err
	}

	endpoint, opts, err := resolveUploadSettings(cmd, cfg, prof, flags)
	if err != nil {
		return err
	}
	if endpoint == "" {
		return fmt.Errorf("no upload endpoint configured: pass --endpoint, set it in %s or in the global config", profile.DefaultFileName)
	}

	patterns := args
	if len(patterns) == 0 {
		if prof == nil {
			return fmt.Errorf("no paths given and no %s profile found", profile.DefaultFileName)
		}
		patterns = prof.Courier.Include
	}

	paths, err := expandPatterns(patterns)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files matched %v", patterns)
	}

	out := cmd.OutOrStdout()
	interactive := isInteractive(cmd)

	printer := &uploadPrinter{out: out, interactive: interactive}
	reg := transfer.NewRegistry(transport.NewHTTP(endpoint), transfer.Callbacks{
		OnProgress: printer.progress,
		OnComplete: printer.complete,
		OnError:    printer.failure,
	})

	// Ctrl-C cancels the in-flight session; Wait observes the cancellation.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := 0
	for _, path := range paths {
		id, err := reg.Submit(path, opts)
		if err != nil {
			fmt.Fprint(out, ui.FormatError(fmt.Errorf("%s: %w", path, err)))
			failed++
			continue
		}

		s, err := reg.Get(id)
		if err != nil {
			return err
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = reg.Cancel(id)
			case <-done:
			}
		}()

		status := s.Wait()
		close(done)

		switch status {
		case transfer.StatusError:
			failed++
			printFailedChunks(out, status, s.ChunkStatuses())
		case transfer.StatusCancelled:
			fmt.Fprintf(out, "\n%s\n", ui.WarningStyle.Render("Upload cancelled"))
			return fmt.Errorf("cancelled")
		}
	}

	printSummary(out, reg.Stats())

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(paths))
	}
	return nil
}

// resolveUploadSettings layers settings: flags > profile > global config >
// engine defaults. Unset values stay zero and let the engine default apply.
func resolveUploadSettings(cmd *cobra.Command, cfg *config.Config, prof *profile.Profile, flags uploadFlags) (string, transfer.Options, error) {
	endpoint := cfg.Endpoint
	opts := transfer.Options{
		ChunkSize:     cfg.ChunkSize,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxRetries:    cfg.MaxRetries,
		MaxFileSize:   cfg.MaxFileSize,
	}

	if prof != nil {
		if prof.Courier.Endpoint != "" {
			endpoint = prof.Courier.Endpoint
		}
		chunkSize, err := prof.ChunkSizeBytes()
		if err != nil {
			return "", transfer.Options{}, err
		}
		if chunkSize > 0 {
			opts.ChunkSize = chunkSize
		}
		maxFileSize, err := prof.MaxFileSizeBytes()
		if err != nil {
			return "", transfer.Options{}, err
		}
		if maxFileSize > 0 {
			opts.MaxFileSize = maxFileSize
		}
		if prof.Courier.Upload.MaxConcurrent > 0 {
			opts.MaxConcurrent = prof.Courier.Upload.MaxConcurrent
		}
		if prof.Courier.Upload.MaxRetries > 0 {
			opts.MaxRetries = prof.Courier.Upload.MaxRetries
		}
	}

	if flags.endpoint != "" {
		endpoint = flags.endpoint
	}
	if flags.chunkSize != "" {
		size, err := units.RAMInBytes(flags.chunkSize)
		if err != nil {
			return "", transfer.Options{}, fmt.Errorf("invalid --chunk-size: %w", err)
		}
		opts.ChunkSize = size
	}
	if flags.maxFileSize != "" {
		size, err := units.RAMInBytes(flags.maxFileSize)
		if err != nil {
			return "", transfer.Options{}, fmt.Errorf("invalid --max-file-size: %w", err)
		}
		opts.MaxFileSize = size
	}
	if cmd.Flags().Changed("max-concurrent") {
		opts.MaxConcurrent = flags.maxConcurrent
	}
	if cmd.Flags().Changed("max-retries") {
		opts.MaxRetries = flags.maxRetries
	}

	return endpoint, opts, nil
}

// expandPatterns resolves literal paths and doublestar globs to a sorted,
// deduplicated list of regular files.
func expandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string

	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}

		// A literal path that exists is a match even when the glob
		// expansion finds nothing (e.g. a name with brackets in it).
		if len(matches) == 0 {
			if info, err := os.Stat(pattern); err == nil && info.Mode().IsRegular() {
				matches = []string{pattern}
			}
		}

		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

func printSummary(out io.Writer, stats transfer.Stats) {
	line := fmt.Sprintf("%d uploaded, %d failed, %s transferred",
		stats.Completed, stats.Failed, ui.FormatSize(stats.TransferredBytes))
	if stats.Failed > 0 {
		fmt.Fprintln(out, ui.WarningStyle.Render(line))
	} else {
		fmt.Fprintln(out, ui.SuccessStyle.Render(line))
	}
}
