package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chunkupload/internal/blob"
	"chunkupload/internal/config"
	"chunkupload/internal/database"
	"chunkupload/internal/domain/upload"
	"chunkupload/internal/logger"
)

func main() {
	var interactive, keepRecord bool

	rootCmd := &cobra.Command{
		Use:   "upload_cleanup [kind...]",
		Short: "Delete uploads that expired before completion",
		Long: "Deletes incomplete uploads older than UPLOAD_EXPIRATION, record and file.\n" +
			"With no kinds every record kind in the database is processed.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.Init(cfg.IsDev(), cfg.SentryDSN)
			defer logger.Flush()

			db, err := database.Connect(cfg.DatabaseURL, false)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}

			repo := upload.NewRepository(db)
			blobs := blob.NewLocalFS(cfg.Upload.StorageRoot)
			c := &cleaner{
				repo:    repo,
				sweeper: upload.NewSweeper(repo, blobs, cfg.Upload.Expiration),
				out:     cmd.OutOrStdout(),
			}
			if interactive {
				c.confirm = prompt(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
			}
			return c.run(cmd.Context(), args, keepRecord)
		},
	}
	rootCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Prompt for confirmation before each deletion")
	rootCmd.Flags().BoolVarP(&keepRecord, "keep-record", "k", false, "Delete only the upload files, keep the records")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type cleaner struct {
	repo    upload.Repository
	sweeper *upload.Sweeper
	confirm upload.Confirmer
	out     io.Writer
}

func (c *cleaner) run(ctx context.Context, kinds []string, keepRecord bool) error {
	if len(kinds) == 0 {
		var err error
		if kinds, err = c.repo.Kinds(ctx); err != nil {
			return fmt.Errorf("list upload kinds: %w", err)
		}
	}

	var errs []error
	for _, kind := range kinds {
		fmt.Fprintf(c.out, "Processing uploads for kind %s...\n", kind)

		report, err := c.sweeper.Run(ctx, upload.SweepOptions{
			Kinds:      []string{kind},
			KeepRecord: keepRecord,
			Confirm:    c.confirm,
		})
		if report != nil {
			for _, line := range report.Lines(report.Counts) {
				fmt.Fprintln(c.out, line)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("kind %s: %w", kind, err))
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// prompt asks until it reads y or n.
func prompt(in *bufio.Reader, out io.Writer) upload.Confirmer {
	return func(_ context.Context, u *upload.Upload) (bool, error) {
		for {
			fmt.Fprintf(out, "Do you want to delete %s? (y/n) ", u)
			line, err := in.ReadString('\n')
			answer := strings.ToLower(strings.TrimSpace(line))
			switch answer {
			case "y", "yes":
				return true, nil
			case "n", "no":
				return false, nil
			}
			if err != nil {
				fmt.Fprintln(out)
				return false, err
			}
		}
	}
}
