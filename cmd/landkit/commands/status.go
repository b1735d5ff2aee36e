package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/keeperhq/landkit/internal/cli/output"
	"github.com/keeperhq/landkit/internal/cli/timeutil"
	"github.com/keeperhq/landkit/pkg/keeper"
)

var (
	statusEndpoint string
	statusAPIKey   string
	statusOutput   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running node's system info and live lands",
	Long: `Query a running node's admin API and print its system info and the
lands it currently hosts.

Examples:
  # Status of a local node
  landkit status

  # Status of a remote node with an API key
  landkit status --endpoint http://game-1:9090 --api-key $LANDKIT_API_KEY

  # Machine-readable output
  landkit status --output json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusEndpoint, "endpoint", "http://localhost:9090", "Admin API base URL")
	statusCmd.Flags().StringVar(&statusAPIKey, "api-key", os.Getenv("LANDKIT_API_KEY"), "Admin API key")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table, json, yaml)")
}

type systemInfo struct {
	Version    string `json:"version"`
	GoVersion  string `json:"goVersion"`
	Goroutines int    `json:"goroutines"`
	Lands      int    `json:"lands"`
	Sessions   int    `json:"sessions"`
	Uptime     string `json:"uptime"`
}

type landList struct {
	Lands []keeper.Stats `json:"lands"`
	Count int            `json:"count"`
}

type nodeStatus struct {
	System systemInfo     `json:"system" yaml:"system"`
	Lands  []keeper.Stats `json:"lands" yaml:"lands"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	var sys systemInfo
	if err := adminGet("/admin/system", &sys); err != nil {
		return err
	}
	var lands landList
	if err := adminGet("/admin/lands/", &lands); err != nil {
		return err
	}

	if format != output.FormatTable {
		return output.NewPrinter(os.Stdout, format).Print(nodeStatus{
			System: sys,
			Lands:  lands.Lands,
		})
	}

	_ = output.KeyValueTable(os.Stdout, [][2]string{
		{"Version", sys.Version},
		{"Go", sys.GoVersion},
		{"Uptime", timeutil.FormatUptime(sys.Uptime)},
		{"Sessions", strconv.Itoa(sys.Sessions)},
		{"Lands", strconv.Itoa(sys.Lands)},
	})

	if len(lands.Lands) == 0 {
		return nil
	}
	fmt.Println()

	tbl := output.NewTable("LAND", "TYPE", "PHASE", "TICK", "PLAYERS", "QUEUE", "STARTED")
	for _, l := range lands.Lands {
		players := strconv.Itoa(l.Players)
		if l.MaxPlayers > 0 {
			players = fmt.Sprintf("%d/%d", l.Players, l.MaxPlayers)
		}
		tbl.AddRow(
			l.LandID,
			l.LandType,
			l.Phase,
			strconv.FormatUint(l.Tick, 10),
			players,
			strconv.Itoa(l.QueueDepth),
			timeutil.FormatTime(l.StartedAt.Format(time.RFC3339)),
		)
	}
	return output.PrintTable(os.Stdout, tbl)
}

// adminGet fetches one admin endpoint and decodes its result envelope.
func adminGet(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, statusEndpoint+path, nil)
	if err != nil {
		return err
	}
	if statusAPIKey != "" {
		req.Header.Set("X-API-Key", statusAPIKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach node at %s: %w", statusEndpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("invalid response from %s: %w", path, err)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("request to %s failed with status %d", path, resp.StatusCode)
	}
	return json.Unmarshal(envelope.Result, out)
}
