package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ortelius/advisory-index/loader"
	"github.com/ortelius/advisory-index/model"
	"github.com/spf13/cobra"
)

const tableRule = "─────────────────────────────────────────────────────────────────────────────────────────"

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check [module] [version]",
	Short: "Check whether a module version is affected by any advisory",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheck,
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list [module]",
	Short: "List all advisories for a module",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

// sinceCmd represents the since command
var sinceCmd = &cobra.Command{
	Use:   "since [epoch-ms|date]",
	Short: "List advisories published at or after a point in time",
	Long: `Lists advisories whose publish date, or ingestion time when no publish
date was given, is at or after the cutoff. The cutoff is epoch milliseconds
or a date such as 2016-03-23.`,
	Args: cobra.ExactArgs(1),
	RunE: runSince,
}

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one advisory",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(sinceCmd)
	rootCmd.AddCommand(getCmd)
}

// fetchJSON GETs path from the server and decodes the body into out.
func fetchJSON(path string, out interface{}) (int, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + path)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &failure) == nil && failure.Message != "" {
			return resp.StatusCode, fmt.Errorf("server returned status %d: %s", resp.StatusCode, failure.Message)
		}
		return resp.StatusCode, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.StatusCode, nil
}

func printAdvisories(cmd *cobra.Command, advs []model.Advisory) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-40s %-10s %-12s %s\n", "ID", "SEVERITY", "PUBLISHED", "TITLE")
	fmt.Fprintln(w, tableRule)

	for _, adv := range advs {
		published := "-"
		if adv.HasPublishDate() {
			published = adv.PublishDate.Format("2006-01-02")
		}
		severity := adv.Severity
		if severity == "" {
			severity = "-"
		}
		fmt.Fprintf(w, "%-40s %-10s %-12s %s\n", adv.ID, severity, published, adv.Title)
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	module, version := args[0], args[1]

	var advs []model.Advisory
	if _, err := fetchJSON("/api/v1/validate/"+url.PathEscape(module)+"/"+url.PathEscape(version), &advs); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(advs) == 0 {
		fmt.Fprintf(w, "✓ %s@%s has no known advisories\n", module, version)
		return nil
	}

	fmt.Fprintf(w, "✗ %s@%s is affected by %d advisory(ies):\n\n", module, version, len(advs))
	printAdvisories(cmd, advs)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	module := args[0]

	var advs []model.Advisory
	if _, err := fetchJSON("/api/v1/modules/"+url.PathEscape(module)+"/advisories", &advs); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Found %d advisory(ies) for %s:\n\n", len(advs), module)
	printAdvisories(cmd, advs)
	return nil
}

// parseCutoff accepts epoch milliseconds or a publish date spelling.
func parseCutoff(raw string) (int64, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	t, err := loader.ParsePublishDate(raw)
	if err != nil {
		return 0, fmt.Errorf("cutoff must be epoch milliseconds or a date: %w", err)
	}
	return t.UnixMilli(), nil
}

func runSince(cmd *cobra.Command, args []string) error {
	ms, err := parseCutoff(args[0])
	if err != nil {
		return err
	}

	var advs []model.Advisory
	if _, err := fetchJSON("/api/v1/advisories?since="+strconv.FormatInt(ms, 10), &advs); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Found %d advisory(ies) since %s:\n\n", len(advs), time.UnixMilli(ms).UTC().Format(time.RFC3339))
	printAdvisories(cmd, advs)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	id := args[0]

	var adv model.Advisory
	status, err := fetchJSON("/advisories/"+url.PathEscape(id), &adv)
	if status == http.StatusNotFound {
		return fmt.Errorf("advisory not found: %s", id)
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Advisory: %s\n", adv.ID)
	fmt.Fprintf(w, "Title: %s\n", adv.Title)
	fmt.Fprintf(w, "Module: %s\n", adv.ModuleName)
	fmt.Fprintf(w, "Vulnerable: %s\n", adv.VulnerableVersions)
	fmt.Fprintf(w, "Patched: %s\n", adv.PatchedVersions)
	fmt.Fprintf(w, "Severity: %s\n", adv.Severity)
	if adv.HasPublishDate() {
		fmt.Fprintf(w, "Published: %s\n", adv.PublishDate.Format("2006-01-02"))
	}
	if len(adv.CrossReferences) > 0 {
		fmt.Fprintf(w, "CVEs: %s\n", strings.Join(adv.CrossReferences, ", "))
	}
	if adv.Author != "" {
		fmt.Fprintf(w, "Author: %s\n", adv.Author)
	}

	if verbose {
		fmt.Fprintln(w)
		if adv.Overview != "" {
			fmt.Fprintln(w, adv.Overview)
		}
		if adv.Body != "" {
			fmt.Fprintln(w, adv.Body)
		}
	}
	return nil
}
