// Command governorctl is a thin read-only CLI companion that queries a
// governor node's admin HTTP interface, grounded on cli_go/main.go's cobra
// command structure.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var apiAddr string

func main() {
	root := &cobra.Command{
		Use:   "governorctl",
		Short: "Inspect a governor cluster's status over its read-only admin API",
	}
	root.PersistentFlags().StringVar(&apiAddr, "api", "http://localhost:8008", "admin API base URL")

	root.AddCommand(statusCmd())
	root.AddCommand(leaderCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the full cluster view as seen by this node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetchAndPrint(apiAddr + "/cluster/status")
		},
	}
}

func leaderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leader",
		Short: "Show the current leader as seen by this node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetchAndPrint(apiAddr + "/cluster/leader")
		},
	}
}

func fetchAndPrint(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}
