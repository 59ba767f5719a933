// Command tomctl is a thin CLI client for the controller's HTTP API: it
// builds a request, calls the server, and prints back whatever JSON (or
// raw text) the controller returns. It holds no state of its own and
// never talks to Redis or a device directly.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tomctl",
	Short:   "tomctl - CLI client for the Tom controller API",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Controller base URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key, sent as X-API-Key (if set)")
	rootCmd.PersistentFlags().Duration("timeout", 60*time.Second, "Client-side HTTP request timeout")

	rootCmd.AddCommand(sendCommandCmd)
	rootCmd.AddCommand(sendCommandsCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(monitoringCmd)
	rootCmd.AddCommand(templatesCmd)

	sendCommandCmd.Flags().Bool("wait", true, "Wait for the job to reach a terminal status")
	sendCommandCmd.Flags().Bool("parse", false, "Parse the command output against a template")
	sendCommandCmd.Flags().String("parser", "", "Parser engine to use (T or P)")
	sendCommandCmd.Flags().String("template", "", "Explicit template name")
	sendCommandCmd.Flags().Bool("include-raw", false, "Include raw output alongside parsed output")
	sendCommandCmd.Flags().Bool("raw-output", false, "Return plain text instead of a JSON envelope (requires --wait)")
	sendCommandCmd.Flags().String("username", "", "Inline credential override: username")
	sendCommandCmd.Flags().String("password", "", "Inline credential override: password")
	sendCommandCmd.Flags().Int("retries", 0, "Retries on TRANSIENT failure")
	sendCommandCmd.Flags().Int("cache-ttl", 0, "Cache TTL override in seconds")
	sendCommandCmd.Flags().Bool("cache-refresh", false, "Force a cache refresh for this command")
	sendCommandCmd.Flags().Bool("no-cache", false, "Disable cache lookup for this command")

	sendCommandsCmd.Flags().Bool("wait", true, "Wait for the job to reach a terminal status")
	sendCommandsCmd.Flags().Bool("parse", false, "Parse the command output against a template")
	sendCommandsCmd.Flags().Bool("raw-output", false, "Return plain text instead of a JSON envelope (requires --wait)")
	sendCommandsCmd.Flags().String("username", "", "Inline credential override: username")
	sendCommandsCmd.Flags().String("password", "", "Inline credential override: password")

	jobGetCmd.Flags().Bool("parse", false, "Parse stored output on retrieval")
	jobCmd.AddCommand(jobGetCmd)

	inventoryCmd.AddCommand(inventoryGetCmd)
	inventoryCmd.AddCommand(inventoryExportCmd)
	inventoryExportCmd.Flags().Bool("raw", false, "Export the plugin's native record shape instead of normalized devices")
	inventoryExportCmd.Flags().StringToString("field", nil, "field.<name>=<pattern> filter, repeatable")
	inventoryExportCmd.Flags().String("filter", "", "Named filter to apply instead of field filters")

	cacheCmd.AddCommand(cacheInspectCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheInspectCmd.Flags().String("device", "", "Device name (required)")
	cacheInspectCmd.Flags().String("command", "", "Command text (required)")
	cacheInvalidateCmd.Flags().String("device", "", "Invalidate only this device's cache entries; omit to invalidate all")

	monitoringCmd.AddCommand(monitoringWorkersCmd)
	monitoringCmd.AddCommand(monitoringFailedCmd)
	monitoringCmd.AddCommand(monitoringDeviceCmd)

	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesMatchCmd)
	templatesCmd.AddCommand(templatesTestCmd)
	templatesMatchCmd.Flags().String("platform", "", "Device platform")
	templatesMatchCmd.Flags().String("command", "", "Command text (required)")
	templatesTestCmd.Flags().String("raw-output", "", "Raw device output to parse (required)")
	templatesTestCmd.Flags().String("command", "", "Command the output came from")
	templatesTestCmd.Flags().String("hostname", "", "Device hostname")
	templatesTestCmd.Flags().String("platform", "", "Device platform")
	templatesTestCmd.Flags().String("template", "", "Explicit template name to test against")
	templatesTestCmd.Flags().String("engine", "", "Explicit engine (T or P), paired with --template")
	templatesTestCmd.Flags().String("inline-template", "", "Inline template body to test, bypassing the template store")
}

// apiClient is a minimal JSON-over-HTTP wrapper around the controller's API.
type apiClient struct {
	base    string
	apiKey  string
	httpCli *http.Client
}

func clientFromCmd(cmd *cobra.Command) *apiClient {
	server, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return &apiClient{
		base:    strings.TrimRight(server, "/"),
		apiKey:  apiKey,
		httpCli: &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(method, path string, body interface{}) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// printResult writes the raw response body, pretty-printing it if it
// parses as JSON and leaving it verbatim (e.g. raw_output text) otherwise.
func printResult(data []byte, status int) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err == nil {
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			fmt.Println(string(pretty))
			if status >= 400 {
				return fmt.Errorf("server returned status %d", status)
			}
			return nil
		}
	}
	fmt.Println(string(data))
	if status >= 400 {
		return fmt.Errorf("server returned status %d", status)
	}
	return nil
}

var sendCommandCmd = &cobra.Command{
	Use:   "send-command DEVICE COMMAND",
	Short: "Send one command to a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		device, command := args[0], args[1]
		wait, _ := cmd.Flags().GetBool("wait")
		parse, _ := cmd.Flags().GetBool("parse")
		parser, _ := cmd.Flags().GetString("parser")
		template, _ := cmd.Flags().GetString("template")
		includeRaw, _ := cmd.Flags().GetBool("include-raw")
		rawOutput, _ := cmd.Flags().GetBool("raw-output")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		retries, _ := cmd.Flags().GetInt("retries")
		cacheTTL, _ := cmd.Flags().GetInt("cache-ttl")
		cacheRefresh, _ := cmd.Flags().GetBool("cache-refresh")
		noCache, _ := cmd.Flags().GetBool("no-cache")

		body := map[string]interface{}{
			"command":       command,
			"wait":          wait,
			"parse":         parse,
			"include_raw":   includeRaw,
			"raw_output":    rawOutput,
			"retries":       retries,
			"cache_refresh": cacheRefresh,
		}
		if parser != "" {
			body["parser"] = parser
		}
		if template != "" {
			body["template"] = template
		}
		if username != "" {
			body["username"] = username
			body["password"] = password
		}
		if cacheTTL > 0 {
			body["cache_ttl"] = cacheTTL
		}
		if noCache {
			body["use_cache"] = false
		}

		c := clientFromCmd(cmd)
		path := "/api/device/" + url.PathEscape(device) + "/send_command"
		data, status, err := c.do(http.MethodPost, path, body)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var sendCommandsCmd = &cobra.Command{
	Use:   "send-commands DEVICE COMMAND...",
	Short: "Send multiple commands to a device as one job",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		device, commands := args[0], args[1:]
		wait, _ := cmd.Flags().GetBool("wait")
		parse, _ := cmd.Flags().GetBool("parse")
		rawOutput, _ := cmd.Flags().GetBool("raw-output")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		specs := make([]map[string]interface{}, len(commands))
		for i, command := range commands {
			specs[i] = map[string]interface{}{"command": command, "parse": parse}
		}
		body := map[string]interface{}{
			"commands":   specs,
			"wait":       wait,
			"raw_output": rawOutput,
		}
		if username != "" {
			body["username"] = username
			body["password"] = password
		}

		c := clientFromCmd(cmd)
		path := "/api/device/" + url.PathEscape(device) + "/send_commands"
		data, status, err := c.do(http.MethodPost, path, body)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect queued/running/completed jobs",
}

var jobGetCmd = &cobra.Command{
	Use:   "get JOB_ID",
	Short: "Fetch one job's current status and result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parse, _ := cmd.Flags().GetBool("parse")
		c := clientFromCmd(cmd)
		path := "/api/job/" + url.PathEscape(args[0])
		if parse {
			path += "?parse=true"
		}
		data, status, err := c.do(http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Query the controller's device inventory",
}

var inventoryGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Fetch one device's descriptor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodGet, "/api/inventory/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var inventoryExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full device inventory, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")
		fields, _ := cmd.Flags().GetStringToString("field")
		filter, _ := cmd.Flags().GetString("filter")

		path := "/api/inventory/export"
		if raw {
			path += "/raw"
		}
		q := url.Values{}
		if filter != "" {
			q.Set("filter", filter)
		}
		for k, v := range fields {
			q.Set("field."+k, v)
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "List known credential IDs (never the secrets themselves)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodGet, "/api/credentials", nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or invalidate cached command responses",
}

var cacheInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Look up one cached (device, command) entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		device, _ := cmd.Flags().GetString("device")
		command, _ := cmd.Flags().GetString("command")
		if device == "" || command == "" {
			return fmt.Errorf("--device and --command are required")
		}
		q := url.Values{}
		q.Set("device", device)
		q.Set("command", command)

		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodGet, "/api/cache?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Invalidate cache entries (all, or one device)",
	RunE: func(cmd *cobra.Command, args []string) error {
		device, _ := cmd.Flags().GetString("device")
		path := "/api/cache"
		if device != "" {
			path += "/" + url.PathEscape(device)
		}

		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodDelete, path, nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var monitoringCmd = &cobra.Command{
	Use:   "monitoring",
	Short: "Observe worker fleet and job activity",
}

var monitoringWorkersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Summarize active jobs per worker consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodGet, "/api/monitoring/workers", nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var monitoringFailedCmd = &cobra.Command{
	Use:   "failed-commands",
	Short: "List recently FAILED jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodGet, "/api/monitoring/failed_commands", nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var monitoringDeviceCmd = &cobra.Command{
	Use:   "device NAME",
	Short: "Show active jobs for one device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodGet, "/api/monitoring/devices/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List, match, and test output-parsing templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list ENGINE",
	Short: "List every template known to one engine (T or P)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodGet, "/api/templates/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var templatesMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "Show which template platform+command would resolve to",
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, _ := cmd.Flags().GetString("platform")
		command, _ := cmd.Flags().GetString("command")
		if command == "" {
			return fmt.Errorf("--command is required")
		}
		q := url.Values{}
		q.Set("command", command)
		if platform != "" {
			q.Set("platform", platform)
		}

		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodGet, "/api/templates/match?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}

var templatesTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Run a template against raw text outside of any job",
	RunE: func(cmd *cobra.Command, args []string) error {
		rawOutput, _ := cmd.Flags().GetString("raw-output")
		command, _ := cmd.Flags().GetString("command")
		hostname, _ := cmd.Flags().GetString("hostname")
		platform, _ := cmd.Flags().GetString("platform")
		template, _ := cmd.Flags().GetString("template")
		engine, _ := cmd.Flags().GetString("engine")
		inlineTemplate, _ := cmd.Flags().GetString("inline-template")
		if rawOutput == "" {
			return fmt.Errorf("--raw-output is required")
		}

		body := map[string]interface{}{
			"raw_output":      rawOutput,
			"command":         command,
			"hostname":        hostname,
			"device_platform": platform,
		}
		if template != "" {
			body["template"] = template
		}
		if engine != "" {
			body["engine"] = engine
		}
		if inlineTemplate != "" {
			body["inline_template"] = inlineTemplate
		}

		c := clientFromCmd(cmd)
		data, status, err := c.do(http.MethodPost, "/api/parse/test", body)
		if err != nil {
			return err
		}
		return printResult(data, status)
	},
}
