package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/ipmgw/internal/auth"
	"github.com/mattjoyce/ipmgw/internal/config"
	"github.com/mattjoyce/ipmgw/internal/doctor"
	"github.com/mattjoyce/ipmgw/internal/tui/tokenmgr"
)

const redacted = "<redacted>"

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate, lock and inspect configuration",
	}
	cmd.AddCommand(configCheckCmd())
	cmd.AddCommand(configLockCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configTokenCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			result := doctor.New(cfg).Validate()
			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, data)
			} else {
				for _, f := range cfg.SourceFiles {
					fmt.Fprintf(out, "  loaded %s\n", f)
				}
				printValidationSummary(out, result)
			}
			if !result.Valid {
				return fmt.Errorf("configuration invalid: %d error(s)", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func printValidationSummary(out io.Writer, r *doctor.Result) {
	switch {
	case !r.Valid:
		fmt.Fprintf(out, "%s configuration invalid (%d error(s), %d warning(s))\n", errMark("✗"), len(r.Errors), len(r.Warnings))
	case len(r.Warnings) > 0:
		fmt.Fprintf(out, "%s configuration valid with %d warning(s)\n", okMark("✓"), len(r.Warnings))
	default:
		fmt.Fprintf(out, "%s configuration valid\n", okMark("✓"))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  %s %s\n", errMark("ERROR"), issueText(e))
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(out, "  %s %s\n", warnMark("WARN"), issueText(w))
	}
}

func issueText(i doctor.Issue) string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

func configLockCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Write BLAKE3 checksums for every configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := config.Lock(configPath(cmd), dryRun)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			dirs := make([]string, 0, len(report.Manifests))
			for dir := range report.Manifests {
				dirs = append(dirs, dir)
			}
			sort.Strings(dirs)
			for _, dir := range dirs {
				verb := "wrote"
				if dryRun {
					verb = "would write"
				}
				fmt.Fprintf(out, "%s %s (%d file(s))\n", verb, filepath.Join(dir, ".checksums"), len(report.Manifests[dir].Hashes))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Hash files without writing manifests")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			return writeConfigYAML(cmd.OutOrStdout(), redactConfig(*cfg))
		},
	}
}

func redactConfig(cfg config.Config) config.Config {
	if cfg.API.Auth.APIKey != "" {
		cfg.API.Auth.APIKey = redacted
	}
	tokens := make([]config.APIToken, len(cfg.API.Auth.Tokens))
	for i, t := range cfg.API.Auth.Tokens {
		tokens[i] = config.APIToken{Token: redacted, Scopes: t.Scopes}
	}
	cfg.API.Auth.Tokens = tokens
	if cfg.IPM.PushSecret != "" {
		cfg.IPM.PushSecret = redacted
	}
	if cfg.State.Redis.Password != "" {
		cfg.State.Redis.Password = redacted
	}
	return cfg
}

func writeConfigYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func configTokenCmd() *cobra.Command {
	var scopesArg string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate a scoped API token",
		Long: `Generate a random API token and print the api.auth.tokens entry for it.
Without --scopes an interactive picker is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var scopes []string
			if scopesArg != "" {
				scopes = parseCSVScopes(scopesArg)
			} else {
				picked, err := tokenmgr.Run()
				if err != nil {
					return err
				}
				scopes = picked
			}
			if len(scopes) == 0 {
				return fmt.Errorf("no scopes selected")
			}
			for _, s := range scopes {
				if !auth.IsKnownScope(s) {
					return fmt.Errorf("unknown scope %q (known: %s)", s, strings.Join(auth.Scopes(), ", "))
				}
			}

			token, err := generateSecureToken(32)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Token key: %s\n\nAdd to api.auth.tokens:\n", token)
			return writeConfigYAML(out, []config.APIToken{{Token: token, Scopes: scopes}})
		},
	}
	cmd.Flags().StringVar(&scopesArg, "scopes", "", "Comma-separated scopes, e.g. tabs:rw,events:ro")
	return cmd
}

func parseCSVScopes(in string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(in, ",") {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func generateSecureToken(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
