package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/uploadsrv/internal/client"
	"github.com/tonimelisma/uploadsrv/internal/config"
	"github.com/tonimelisma/uploadsrv/internal/session"
)

const (
	pushDialTimeout = 10 * time.Second
	pushIOTimeout   = 60 * time.Second
)

var (
	flagUploadID    string
	flagChunkSize   string
	flagToken       string
	flagDescription string
	flagVisibility  string
	flagTags        []string
	flagDigest      bool
)

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Upload a file, resuming automatically if interrupted",
		Long: `Upload a local file to the server. If a previous push of the same
upload ID was interrupted, the transfer resumes at the server's last
acknowledged offset.

A running push watches its control file, so "uploadctl pause --upload-id X",
"resume", and "stop" take effect between chunks.

Examples:
  uploadctl push backup.tar
  uploadctl push --upload-id nightly-backup --tags backups,nightly backup.tar
  uploadctl push --digest video.mp4`,
		RunE: runPush,
		Args: cobra.ExactArgs(1),
	}

	cmd.Flags().StringVar(&flagUploadID, "upload-id", "", "upload ID (default: a new random ID)")
	cmd.Flags().StringVar(&flagChunkSize, "chunk-size", "", "override client.chunk_size, e.g. 4MiB")
	cmd.Flags().StringVar(&flagToken, "token", "", "override client.token bearer credential")
	cmd.Flags().StringVar(&flagDescription, "description", "", "description stored with the file")
	cmd.Flags().StringVar(&flagVisibility, "visibility", "", "public or private (default private)")
	cmd.Flags().StringSliceVar(&flagTags, "tags", nil, "tags stored with the file")
	cmd.Flags().BoolVar(&flagDigest, "digest", false, "verify the upload end-to-end with a sha256 digest")

	return cmd
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Client.ServerAddr == "" {
		return fmt.Errorf("no server address configured (set client.server_addr or pass --server-addr)")
	}

	localPath := args[0]

	uploadID := flagUploadID
	if uploadID == "" {
		uploadID = uuid.New().String()
		logger.Info("generated upload ID", slog.String("upload_id", uploadID))
	}

	chunkSizeSpec := cfg.Client.ChunkSize
	if flagChunkSize != "" {
		chunkSizeSpec = flagChunkSize
	}

	chunkSize, err := config.ParseSize(chunkSizeSpec)
	if err != nil {
		return fmt.Errorf("invalid chunk size %q: %w", chunkSizeSpec, err)
	}

	token := cfg.Client.Token
	if flagToken != "" {
		token = flagToken
	}

	resume := client.NewResumeStore(resumeDir(cfg), logger)

	driver := client.New(client.Config{
		ServerAddr: cfg.Client.ServerAddr,
		UploadID:   uploadID,
		LocalPath:  localPath,
		ChunkSize:  chunkSize,
		Metadata: session.Metadata{
			Token:       token,
			Filename:    filepath.Base(localPath),
			Description: flagDescription,
			Visibility:  flagVisibility,
			Tags:        flagTags,
		},
		DialTimeout:   pushDialTimeout,
		IOTimeout:     pushIOTimeout,
		RequireDigest: flagDigest || cfg.Client.Digest,
		ControlPath:   controlPath(uploadID),
	}, resume, logger)

	if err := driver.Push(cmd.Context()); err != nil {
		return err
	}

	logger.Info("upload complete", slog.String("upload_id", uploadID), slog.String("file", localPath))

	return nil
}

func resumeDir(cfg *config.Config) string {
	return filepath.Join(cfg.Client.StateDir, "resume")
}

// controlPath returns where a push watches for pause/stop requests. Control
// files are transient signaling state, so they live under the cache
// directory rather than the data directory.
func controlPath(uploadID string) string {
	return filepath.Join(config.DefaultCacheDir(), "control", uploadID)
}
