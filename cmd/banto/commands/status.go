package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show controller status",
	Long:  `Display the running controller's algorithm, hashrate, resource usage, and active alerts.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("api-url", "http://127.0.0.1:8080", "API server URL")
	statusCmd.Flags().String("format", "table", "Output format (table, json, yaml)")
	statusCmd.Flags().Bool("watch", false, "Refresh continuously")
	statusCmd.Flags().Duration("interval", 5*time.Second, "Watch interval")
}

func runStatus(cmd *cobra.Command, args []string) error {
	apiURL, _ := cmd.Flags().GetString("api-url")
	format, _ := cmd.Flags().GetString("format")
	watch, _ := cmd.Flags().GetBool("watch")
	interval, _ := cmd.Flags().GetDuration("interval")

	if watch {
		for {
			// Clear screen (ANSI escape code)
			fmt.Print("\033[H\033[2J")

			if err := displayStatus(apiURL, format); err != nil {
				return err
			}
			time.Sleep(interval)
		}
	}
	return displayStatus(apiURL, format)
}

func displayStatus(apiURL, format string) error {
	var status controllerStatus
	if err := fetchJSON(apiURL+"/api/v1/status", &status); err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}

	var alerts []alertInfo
	if err := fetchJSON(apiURL+"/api/v1/alerts", &alerts); err != nil {
		return fmt.Errorf("fetch alerts: %w", err)
	}

	report := statusReport{Status: status, Alerts: alerts}
	switch format {
	case "json":
		return displayJSON(report)
	case "yaml":
		return displayYAML(report)
	default:
		return displayTable(report)
	}
}

// fetchJSON unwraps the API response envelope into out
func fetchJSON(url string, out interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if !envelope.Success {
		return fmt.Errorf("API error: %s", envelope.Error)
	}
	return json.Unmarshal(envelope.Data, out)
}

func displayTable(report statusReport) error {
	status := report.Status
	fmt.Printf("Banto Status - %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	started := time.Now().Add(-time.Duration(status.UptimeSeconds) * time.Second)

	fmt.Println("Overview:")
	fmt.Printf("  Status     : %s %s\n", statusMarker(status.Status), status.Status)
	fmt.Printf("  Version    : %s\n", status.Version)
	fmt.Printf("  Started    : %s\n", humanize.Time(started))
	fmt.Printf("  Algorithm  : %s\n", status.Algorithm)
	fmt.Printf("  Mining     : %v\n", status.Mining)
	fmt.Printf("  Hashrate   : %s\n", humanize.SI(status.Hashrate, "H/s"))

	fmt.Println("\nResources:")
	fmt.Printf("  Load       : %s %s\n", loadMarker(status.ResourceStatus), status.ResourceStatus)
	fmt.Printf("  CPU        : %.1f%%\n", status.CPUPercent)
	fmt.Printf("  Memory     : %.1f%%\n", status.MemoryPercent)

	if len(report.Alerts) > 0 {
		fmt.Println("\nActive Alerts:")
		for _, alert := range report.Alerts {
			fmt.Printf("  %s [%s] %s - %s\n",
				severityMarker(alert.Severity), alert.Severity, alert.Title,
				humanize.Time(alert.CreatedAt))
		}
	} else {
		fmt.Println("\nNo active alerts")
	}
	return nil
}

func displayJSON(report statusReport) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func displayYAML(report statusReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func statusMarker(status string) string {
	switch status {
	case "running":
		return "[RUN]"
	case "stopped":
		return "[STOP]"
	default:
		return "[N/A]"
	}
}

func loadMarker(status string) string {
	switch status {
	case "normal":
		return "[OK]"
	case "warning":
		return "[WARN]"
	case "critical":
		return "[CRIT]"
	case "overloaded":
		return "[OVER]"
	default:
		return "[N/A]"
	}
}

func severityMarker(severity string) string {
	switch severity {
	case "critical":
		return "[CRIT]"
	case "warning":
		return "[WARN]"
	case "info":
		return "[INFO]"
	default:
		return "[NOTE]"
	}
}

// statusReport is what the json and yaml formats print
type statusReport struct {
	Status controllerStatus `json:"status" yaml:"status"`
	Alerts []alertInfo      `json:"alerts" yaml:"alerts"`
}

// controllerStatus mirrors the /api/v1/status payload
type controllerStatus struct {
	Service        string  `json:"service" yaml:"service"`
	Version        string  `json:"version" yaml:"version"`
	Status         string  `json:"status" yaml:"status"`
	UptimeSeconds  int64   `json:"uptime_seconds" yaml:"uptime_seconds"`
	Algorithm      string  `json:"algorithm" yaml:"algorithm"`
	ActiveAlerts   int     `json:"active_alerts" yaml:"active_alerts"`
	Mining         bool    `json:"mining" yaml:"mining"`
	Hashrate       float64 `json:"hashrate" yaml:"hashrate"`
	ResourceStatus string  `json:"resource_status" yaml:"resource_status"`
	CPUPercent     float64 `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent" yaml:"memory_percent"`
}

// alertInfo mirrors the fields of an active alert the CLI displays
type alertInfo struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Message   string    `json:"message" yaml:"message"`
	Severity  string    `json:"severity" yaml:"severity"`
	Component string    `json:"component" yaml:"component"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
