package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/observability"
	"github.com/xkilldash9x/weblogin-harvester/internal/service"
)

const remoteStatusTimeout = 10 * time.Second

// newStatusCmd creates the `status` command. With --server it asks a running
// instance; otherwise it reports the local configuration.
func newStatusCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the configuration and browser status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL != "" {
				return printRemoteStatus(cmd.Context(), http.DefaultClient, serverURL, cmd.OutOrStdout())
			}

			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			components := service.NewComponents(cmd.Context(), cfg, observability.GetLogger())
			defer components.Shutdown()
			return writeStatus(cmd.OutOrStdout(), components.Harvester.Status(cmd.Context()))
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "base URL of a running harvester, e.g. http://localhost:9900")
	return cmd
}

func printRemoteStatus(ctx context.Context, client *http.Client, base string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, remoteStatusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/status", nil)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status request failed: %s", resp.Status)
	}
	var report schemas.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}
	return writeStatus(out, report)
}

func writeStatus(out io.Writer, report schemas.StatusReport) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
