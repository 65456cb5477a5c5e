package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/uploadsrv/internal/client"
)

const statusQueryTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local and server-side progress for an upload",
		Long: `Display the locally persisted resume offset for the given upload ID
alongside the server's authoritative offset from query_resume. The two can
differ when the last push was interrupted before persisting its final ack.`,
		RunE: runStatus,
	}

	addUploadIDFlag(cmd)

	return cmd
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	resume := client.NewResumeStore(resumeDir(cfg), logger)

	local, err := resume.Load(flagUploadID)
	if err != nil {
		return fmt.Errorf("reading resume state: %w", err)
	}

	if local == nil {
		fmt.Printf("Upload %s: no local resume state\n", flagUploadID)
	} else {
		fmt.Printf("Upload %s: local offset %d (%s, last updated %s)\n",
			flagUploadID, local.Offset, local.LocalPath, local.UpdatedAt.Format(time.RFC3339))
	}

	if cfg.Client.ServerAddr == "" {
		return nil
	}

	offset, err := client.QueryOffset(cfg.Client.ServerAddr, flagUploadID, statusQueryTimeout)
	if err != nil {
		return fmt.Errorf("querying server: %w", err)
	}

	fmt.Printf("Server %s: offset %d\n", cfg.Client.ServerAddr, offset)

	return nil
}
