package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/agrifly-io/agrifly/internal/registry"
)

// newDronesCommand lists the fleet of a running broker as a table.
func newDronesCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "drones",
		Short: "List the vehicles known to a running broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(addr + "/drones")
			if err != nil {
				return fmt.Errorf("failed to reach broker at %s: %w", addr, err)
			}
			defer resp.Body.Close()

			var body struct {
				Success bool                     `json:"success"`
				Drones  []registry.VehicleStatus `json:"drones"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("failed to decode drone list: %w", err)
			}

			table := uitable.New()
			table.AddRow("ID", "ENDPOINT", "CONNECTED", "SIMULATED", "LAST SEEN")
			for _, d := range body.Drones {
				lastSeen := "-"
				if !d.LastSeen.IsZero() {
					lastSeen = d.LastSeen.Format(time.RFC3339)
				}
				table.AddRow(d.ID, d.Endpoint, d.Connected, d.Simulated, lastSeen)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "Base URL of the running broker.")
	return cmd
}
