package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/observability"
	"github.com/xkilldash9x/weblogin-harvester/internal/service"
)

type loginOptions struct {
	email  string
	webURL string
	output string
}

// newLoginCmd creates the one-shot `login` command. The password is read
// from configuration only.
func newLoginCmd() *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in once and print the harvested cookies as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.output != "" {
				f, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			components := service.NewComponents(cmd.Context(), cfg, observability.GetLogger())
			defer components.Shutdown()

			return runLogin(cmd.Context(), components.Harvester, opts, out, observability.GetLogger())
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "account email (overrides EMAIL)")
	cmd.Flags().StringVar(&opts.webURL, "url", "", "target site (overrides WEB_URL)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write cookies to this file instead of stdout")
	cmd.Flags().Bool("headless", true, "run the browser without a window (overrides browser.headless)")
	bindFlag(cmd, "headless", "browser.headless")
	return cmd
}

type loginRunner interface {
	LoginToWeb(ctx context.Context, override schemas.Credentials) ([]schemas.CookieRecord, error)
}

func runLogin(ctx context.Context, h loginRunner, opts loginOptions, out io.Writer, logger *zap.Logger) error {
	cookies, err := h.LoginToWeb(ctx, schemas.Credentials{Email: opts.email, WebURL: opts.webURL})
	if err != nil {
		return err
	}
	if cookies == nil {
		cookies = []schemas.CookieRecord{}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cookies); err != nil {
		return fmt.Errorf("failed to write cookies: %w", err)
	}
	logger.Info("Cookies written.", zap.Int("count", len(cookies)))
	return nil
}

var _ loginRunner = (*service.Harvester)(nil)
