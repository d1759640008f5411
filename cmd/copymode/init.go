package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	initOutput       string
	initAPIKey       string
	initDataDir      string
	initTrackerToken string
	initProofAddr    string
	initProofFrom    string
	initMetrics      bool
	initForce        bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a copymode configuration file",
	Long: `Write a configuration file with sensible defaults.

Examples:
  # Local editing only
  copymode init -o copymode.yaml

  # Sync with the tracker and send proofs
  copymode init --tracker-token pk_123 --proof-addr smtp.example.com:587 --proof-from copy@example.com`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/copymode", "Data directory for the database")
	initCmd.Flags().StringVar(&initTrackerToken, "tracker-token", "", "Task tracker API token")
	initCmd.Flags().StringVar(&initProofAddr, "proof-addr", "", "SMTP submission server for proof e-mails (host:port)")
	initCmd.Flags().StringVar(&initProofFrom, "proof-from", "", "Sender address for proof e-mails")
	initCmd.Flags().BoolVar(&initMetrics, "metrics", false, "Enable the Prometheus metrics endpoint")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initOutput); err == nil && !initForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
	}
	if (initProofAddr == "") != (initProofFrom == "") {
		return fmt.Errorf("--proof-addr and --proof-from must be given together")
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
	}

	if dir := filepath.Dir(initOutput); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	// The file holds the API key and tracker token
	if err := os.WriteFile(initOutput, []byte(generateConfig()), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration written to %s\n", initOutput)
	fmt.Fprintf(out, "  API key: %s\n", initAPIKey)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Next steps:\n")
	fmt.Fprintf(out, "  copymode config validate -c %s\n", initOutput)
	fmt.Fprintf(out, "  copymode serve -c %s\n", initOutput)
	return nil
}

func generateRandomString(length int) string {
	b := make([]byte, (length+1)/2)
	rand.Read(b)
	return hex.EncodeToString(b)[:length]
}

func generateConfig() string {
	var b strings.Builder

	b.WriteString("# Copymode configuration\n\n")
	b.WriteString("api:\n")
	b.WriteString("  listen_addr: \":8080\"\n")
	fmt.Fprintf(&b, "  api_key: %q\n\n", initAPIKey)

	b.WriteString("storage:\n")
	fmt.Fprintf(&b, "  path: %q\n\n", filepath.Join(initDataDir, "copymode.db"))

	b.WriteString("logging:\n")
	b.WriteString("  level: info\n")
	b.WriteString("  format: json\n\n")

	b.WriteString("history:\n")
	b.WriteString("  max_versions: 100\n\n")

	b.WriteString("tracker:\n")
	b.WriteString("  base_url: \"https://api.clickup.com/api/v2\"\n")
	if initTrackerToken != "" {
		fmt.Fprintf(&b, "  token: %q\n\n", initTrackerToken)
	} else {
		b.WriteString("  # token: \"\"  # required for pull and save\n\n")
	}

	b.WriteString("proof:\n")
	if initProofAddr != "" {
		b.WriteString("  enabled: true\n")
		fmt.Fprintf(&b, "  addr: %q\n", initProofAddr)
		fmt.Fprintf(&b, "  from: %q\n\n", initProofFrom)
	} else {
		b.WriteString("  enabled: false\n\n")
	}

	b.WriteString("metrics:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", initMetrics)
	b.WriteString("  listen_addr: \":9090\"\n")
	b.WriteString("  allowed_ips:\n")
	b.WriteString("    - \"127.0.0.1\"\n")

	return b.String()
}
