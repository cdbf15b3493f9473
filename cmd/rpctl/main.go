// Package main implements the rpctl CLI for manual operations against
// the repo-pilot HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the repo-pilot HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rpctl",
	Short: "CLI for repo-pilot HTTP server operations",
	Long: `rpctl is a command-line interface for the repo-pilot HTTP server.
It starts improvement pipeline runs and inspects their progress.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "repo-pilot server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(beadsCmd)
	rootCmd.AddCommand(scaffoldCmd)

	startCmd.Flags().String("strategy", "", "execution strategy: temporal or local")
	runsCmd.Flags().String("status", "", "filter by run status")
	runsCmd.Flags().Int("limit", 20, "maximum runs to list")
	beadsCmd.Flags().String("status", "", "filter by bead status")
	beadsCmd.Flags().String("category", "", "filter by bead category")
	beadsCmd.Flags().Bool("summary", false, "show aggregated counts instead of the ledger")
	scaffoldCmd.Flags().Bool("commit", false, "commit the generated files")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check repo-pilot server health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return getJSON("/health", nil)
	},
}

var startCmd = &cobra.Command{
	Use:   "start <repo-path>",
	Short: "Start an improvement pipeline run",
	Long: `Start an improvement pipeline run against a local repository.

Examples:
  # Durable run (default)
  rpctl start /path/to/repo

  # In-process run without Temporal
  rpctl start --strategy local /path/to/repo`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, _ := cmd.Flags().GetString("strategy")
		return postJSON("/api/v1/pipeline/start", map[string]any{
			"repo_path": args[0],
			"strategy":  strategy,
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List pipeline runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return getJSON("/api/v1/pipeline/runs", map[string]string{
			"status": status,
			"limit":  fmt.Sprint(limit),
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a single run",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return getJSON("/api/v1/pipeline/"+args[0], nil)
	},
}

var beadsCmd = &cobra.Command{
	Use:   "beads <run-id>",
	Short: "Show the bead ledger for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if summary, _ := cmd.Flags().GetBool("summary"); summary {
			return getJSON("/api/v1/beads/"+args[0]+"/summary", nil)
		}
		status, _ := cmd.Flags().GetString("status")
		category, _ := cmd.Flags().GetString("category")
		return getJSON("/api/v1/beads/"+args[0], map[string]string{
			"status":   status,
			"category": category,
		})
	},
}

var scaffoldCmd = &cobra.Command{
	Use:   "scaffold <repo-path>",
	Short: "Generate missing best-practice files in a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commit, _ := cmd.Flags().GetBool("commit")
		return postJSON("/api/v1/scaffold", map[string]any{
			"repo_path": args[0],
			"commit":    commit,
		})
	},
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func getJSON(path string, query map[string]string) error {
	url := serverURL + path
	sep := "?"
	for k, v := range query {
		if v == "" {
			continue
		}
		url += sep + k + "=" + v
		sep = "&"
	}

	resp, err := httpClient().Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func postJSON(path string, body map[string]any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient().Post(serverURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

// printResponse pretty-prints the JSON body and fails on non-2xx.
func printResponse(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
