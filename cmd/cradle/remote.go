package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
)

// The memory cache lives inside a running server, so these commands talk to
// it over the HTTP API instead of opening a local core.

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the memory cache snapshot of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callServer(cmd, http.MethodGet, "/cache/snapshot")
		},
	}
	addServerFlag(cmd)
	return cmd
}

func newClearUnusedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-unused",
		Short: "Evict unreferenced memory cache entries on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callServer(cmd, http.MethodPost, "/cache/clear-unused")
		},
	}
	addServerFlag(cmd)
	return cmd
}

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "server base URL (default http://<api.address>)")
	cmd.Flags().Duration("timeout", 10*time.Second, "request timeout")
}

func serverURL(cmd *cobra.Command) (string, error) {
	if url := flagOrEnv(cmd, "server", "CRADLE_SERVER", ""); url != "" {
		return strings.TrimSuffix(url, "/"), nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return "http://" + cfg.API.Address, nil
}

func callServer(cmd *cobra.Command, method, path string) error {
	base, err := serverURL(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	req, err := http.NewRequestWithContext(cmd.Context(), method, base+path, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeValidationFailed, "invalid server URL", err)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageUnavailable, "server request failed", err).
			WithContext("url", base+path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageRead, "failed to read server response", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d (%s): %s", resp.StatusCode, apiErr.Code, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		_, err = cmd.OutOrStdout().Write(body)
		return err
	}
	return writeJSON(cmd.OutOrStdout(), v)
}
