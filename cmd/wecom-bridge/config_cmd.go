package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/wecom-bridge/internal/config"
	"github.com/mattjoyce/wecom-bridge/internal/doctor"
)

const redacted = "********"

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration validation and integrity",
	}
	cmd.AddCommand(newConfigCheckCommand(), newConfigLockCommand(), newConfigShowCommand())
	return cmd
}

func newConfigCheckCommand() *cobra.Command {
	var strict, jsonOut bool
	var format string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOut {
				format = "json"
			}

			cfg, err := loadConfig(configFlag(cmd), cmd.ErrOrStderr())
			if err != nil {
				return &exitError{code: 1, err: err}
			}

			result := doctor.New(cfg).Validate()

			switch format {
			case "json":
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return &exitError{code: 1, err: err}
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			default:
				fmt.Fprint(cmd.OutOrStdout(), doctor.FormatHuman(result))
			}

			if !result.Valid {
				return &exitError{code: 1}
			}
			if strict && len(result.Warnings) > 0 {
				return &exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	cmd.Flags().StringVar(&format, "format", "human", "Output format (human, json)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON")
	return cmd
}

func newConfigLockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Record the config file hash in .checksums",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configFlag(cmd)
			if path == "" {
				discovered, err := config.DiscoverConfigFile()
				if err != nil {
					return &exitError{code: 1, err: err}
				}
				path = discovered
			}
			if path == "" {
				return &exitError{code: 1, err: fmt.Errorf("no config file to lock (use --config)")}
			}

			checksumPath, hash, err := config.LockConfig(path)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Locked %s\n  blake3 %s\n  manifest %s\n", path, hash, checksumPath)
			return nil
		},
	}
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFlag(cmd), cmd.ErrOrStderr())
			if err != nil {
				return &exitError{code: 1, err: err}
			}

			data, err := yaml.Marshal(redact(cfg))
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			if cfg.SourceFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", cfg.SourceFile)
			}
			_, _ = cmd.OutOrStdout().Write(data)
			return nil
		},
	}
}

// redact returns a copy of cfg with secret values masked.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Callback.Token)
	mask(&out.Callback.EncodingAESKey)
	mask(&out.Forward.Token)
	mask(&out.Admin.APIKey)
	out.Dedupe.RedisURL = redactURL(out.Dedupe.RedisURL)
	return &out
}

// redactURL masks the password in a URL's userinfo. A URL that does not
// parse is masked whole since its secret part cannot be located.
func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
