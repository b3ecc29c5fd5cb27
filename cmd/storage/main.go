package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"slidecast/internal/config"
	"slidecast/internal/storage"

	"github.com/spf13/cobra"
)

func main() {
	// Command output goes to stdout; keep slog quiet unless something is
	// actually wrong.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg := config.Load()
	root := newRootCmd(cfg)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "storage",
		Short:        "Inspect and manage the artifact store",
		SilenceUsage: true,
	}
	root.AddCommand(
		newInfoCmd(cfg),
		newExistsCmd(cfg),
		newDeleteCmd(cfg),
		newUploadCmd(cfg),
		newDownloadCmd(cfg),
		newURLCmd(cfg),
	)
	return root
}

func connect(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to storage: %w", err)
	}
	return store, nil
}

func newInfoCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the configured backend and whether it is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := connect(ctx, cfg)
			if err != nil {
				return err
			}

			fmt.Printf("Provider: %s\n", store.Provider())
			switch store.Provider() {
			case "local":
				fmt.Printf("Root:     %s\n", cfg.LocalStorageDir)
				fmt.Printf("Base URL: %s\n", cfg.PublicBaseURL)
			case "s3":
				fmt.Printf("Bucket:   %s\n", cfg.S3Bucket)
				fmt.Printf("Region:   %s\n", cfg.S3Region)
				if cfg.S3EndpointURL != "" {
					fmt.Printf("Endpoint: %s\n", cfg.S3EndpointURL)
				}
			case "gdrive":
				fmt.Printf("Folder:   %s\n", cfg.GDriveFolderID)
			}

			// A lookup of a key that should not exist proves the backend
			// answers; the result itself does not matter.
			if _, err := store.FileExists(ctx, "zz_reachability_probe"); err != nil {
				return fmt.Errorf("backend unreachable: %w", err)
			}
			fmt.Println("Probe:    ok")
			return nil
		},
	}
}

func newExistsCmd(cfg *config.Config) *cobra.Command {
	var fileID string

	cmd := &cobra.Command{
		Use:   "exists <task_id>",
		Short: "List which primary artifacts of a task are in the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			taskID := args[0]

			store, err := connect(ctx, cfg)
			if err != nil {
				return err
			}

			found, err := existingTaskKeys(ctx, store, taskID, fileID)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				return fmt.Errorf("no artifacts found for task %s", taskID)
			}
			for _, key := range found {
				fmt.Println(key)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fileID, "file-id", "", "Also check legacy keys written under this file id")
	return cmd
}

// existingTaskKeys probes every candidate spelling for the task's video,
// narration and podcast artifacts and returns the ones present.
func existingTaskKeys(ctx context.Context, store storage.Storage, taskID, fileID string) ([]string, error) {
	groups := [][]string{
		storage.VideoCandidates(taskID, fileID),
		storage.AudioCandidates(taskID, fileID),
		storage.PodcastCandidates(taskID, fileID),
	}

	var found []string
	seen := map[string]bool{}
	for _, group := range groups {
		for _, key := range group {
			// Without a file id the legacy file spellings degenerate to
			// "_final.*"; skip them.
			if fileID == "" && strings.HasPrefix(key, "_") {
				continue
			}
			if seen[key] {
				continue
			}
			seen[key] = true

			ok, err := store.FileExists(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("check %s: %w", key, err)
			}
			if ok {
				found = append(found, key)
			}
		}
	}
	return found, nil
}

func newDeleteCmd(cfg *config.Config) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete one object from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := args[0]

			if !force && !confirm(fmt.Sprintf("Delete %s?", key)) {
				fmt.Println("Aborted")
				return nil
			}

			store, err := connect(ctx, cfg)
			if err != nil {
				return err
			}

			ok, err := store.FileExists(ctx, key)
			if err != nil {
				return fmt.Errorf("check %s: %w", key, err)
			}
			if !ok {
				return fmt.Errorf("object %s not found", key)
			}

			if err := store.DeleteFile(ctx, key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			fmt.Printf("Deleted %s\n", key)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")
	return cmd
}

func newUploadCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <path> <key>",
		Short: "Upload a local file under the given key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, key := args[0], args[1]

			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("local file %s: %w", path, err)
			}

			store, err := connect(ctx, cfg)
			if err != nil {
				return err
			}

			mimeType := mime.TypeByExtension(filepath.Ext(path))
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}

			uri, err := store.UploadFile(ctx, path, key, mimeType)
			if err != nil {
				return fmt.Errorf("upload %s: %w", path, err)
			}
			fmt.Printf("Uploaded %s -> %s (%s)\n", path, key, uri)
			return nil
		},
	}
}

func newDownloadCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "download <key> <path>",
		Short: "Download an object to a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key, path := args[0], args[1]

			store, err := connect(ctx, cfg)
			if err != nil {
				return err
			}

			ok, err := store.FileExists(ctx, key)
			if err != nil {
				return fmt.Errorf("check %s: %w", key, err)
			}
			if !ok {
				return fmt.Errorf("object %s not found", key)
			}

			if err := store.DownloadFileTo(ctx, key, path); err != nil {
				return fmt.Errorf("download %s: %w", key, err)
			}
			fmt.Printf("Downloaded %s -> %s\n", key, path)
			return nil
		},
	}
}

func newURLCmd(cfg *config.Config) *cobra.Command {
	var expires int

	cmd := &cobra.Command{
		Use:   "url <key>",
		Short: "Print a browser-usable URL for an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := args[0]

			store, err := connect(ctx, cfg)
			if err != nil {
				return err
			}

			ok, err := store.FileExists(ctx, key)
			if err != nil {
				return fmt.Errorf("check %s: %w", key, err)
			}
			if !ok {
				return fmt.Errorf("object %s not found", key)
			}

			url, err := store.GenerateDownloadURL(ctx, key, time.Duration(expires)*time.Second)
			if err != nil {
				return fmt.Errorf("resolve URL for %s: %w", key, err)
			}
			fmt.Println(url)
			return nil
		},
	}

	cmd.Flags().IntVar(&expires, "expires", 0, "URL lifetime in seconds (0 uses the backend default)")
	return cmd
}

// confirm asks on stdin and accepts y/yes.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
