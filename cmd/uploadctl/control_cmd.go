package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/uploadsrv/internal/client"
)

func newPauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause a running push",
		Long: `Pause the running push for the given upload ID. The push holds its
connection open and idles until resumed or stopped.

Example:
  uploadctl pause --upload-id nightly-backup`,
		RunE: makeControlRunE(client.ControlPause, "paused"),
	}

	addUploadIDFlag(cmd)

	return cmd
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused push",
		RunE:  makeControlRunE(client.ControlRun, "resumed"),
	}

	addUploadIDFlag(cmd)

	return cmd
}

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running push",
		Long: `Stop the running push for the given upload ID. The push persists its
offset and exits; a later "uploadctl push --upload-id <id>" resumes where
it left off.`,
		RunE: makeControlRunE(client.ControlStop, "stopped"),
	}

	addUploadIDFlag(cmd)

	return cmd
}

func addUploadIDFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagUploadID, "upload-id", "", "upload ID of the running push")
	cmd.MarkFlagRequired("upload-id") //nolint:errcheck // flag is registered on the line above
}

func makeControlRunE(state client.ControlState, verb string) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, _ []string) error {
		if err := client.WriteControlState(controlPath(flagUploadID), state); err != nil {
			return fmt.Errorf("signaling push: %w", err)
		}

		fmt.Printf("Upload %s %s\n", flagUploadID, verb)

		return nil
	}
}
