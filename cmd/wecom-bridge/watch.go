package main

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/wecom-bridge/internal/tui/watch"
)

func newWatchCommand() *cobra.Command {
	var apiURL, apiKey string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of bridge activity from the admin server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiURL == "" || apiKey == "" {
				cfg, err := loadConfig(configFlag(cmd), cmd.ErrOrStderr())
				if err != nil {
					return &exitError{code: 1, err: err}
				}
				if apiURL == "" {
					apiURL = adminURL(cfg.Admin.Listen)
				}
				if apiKey == "" {
					apiKey = cfg.Admin.APIKey
				}
			}
			if apiKey == "" {
				return &exitError{code: 1, err: fmt.Errorf("admin api key required (--api-key or WECOM_BRIDGE_ADMIN_KEY)")}
			}

			p := tea.NewProgram(watch.New(strings.TrimRight(apiURL, "/"), apiKey), tea.WithOutput(os.Stdout))
			if _, err := p.Run(); err != nil {
				return &exitError{code: 1, err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "", "Admin server URL (default from admin.listen)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Admin API key (default from admin.api_key)")
	return cmd
}

// adminURL turns a listen address into a URL a local client can reach.
func adminURL(listen string) string {
	if strings.HasPrefix(listen, "0.0.0.0:") {
		listen = "127.0.0.1:" + strings.TrimPrefix(listen, "0.0.0.0:")
	} else if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}
