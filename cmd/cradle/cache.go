package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/thomasrockhu-codecov/cradle/internal/service"
	"github.com/thomasrockhu-codecov/cradle/internal/storage/s3"
	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
	"github.com/thomasrockhu-codecov/cradle/pkg/utils"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print disk cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			summary, err := env.core.Disk().Summary(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"disk_summary": summary,
				"core":         env.core.Stats(),
			})
		},
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Write the disk cache entry stored under KEY to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			data, found, err := service.LoadBlob(cmd.Context(), env.core, args[0])
			if err != nil {
				return err
			}
			if !found {
				return errors.NewError(errors.ErrCodeEntryNotFound, fmt.Sprintf("no disk cache entry for %q", args[0]))
			}
			return writeOutput(cmd, data)
		},
	}
	cmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")
	return cmd
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put KEY FILE",
		Short: "Store FILE in the disk cache under KEY (- reads stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}

			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			if err := service.StoreBlob(cmd.Context(), env.core, args[0], data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s under %q\n", utils.FormatBytes(int64(len(data))), args[0])
			return nil
		},
	}
}

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch BUCKET KEY",
		Short: "Fetch an S3 object through the disk cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			source, err := s3.NewBlobSource(cmd.Context(), env.cfg.S3Config(), env.logger)
			if err != nil {
				return err
			}
			data, err := s3.FetchBlob(cmd.Context(), env.core, source, args[0], args[1])
			if err != nil {
				return err
			}
			return writeOutput(cmd, data)
		},
	}
	cmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func writeOutput(cmd *cobra.Command, data []byte) error {
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		return os.WriteFile(path, data, 0o640)
	}
	_, err := cmd.OutOrStdout().Write(data)
	return err
}
