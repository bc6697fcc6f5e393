package inventory

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

// CSVHeader is the first row written by ExportCSV.
var CSVHeader = []string{"hostname", "vmid", "location", "ip", "tailscale_name", "node_type", "deployed"}

// ExportCSV writes nodes as CSV with a header row.
func ExportCSV(w io.Writer, nodes []api.InventoryNode) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, n := range nodes {
		deployed := ""
		if !n.DeployedAt.IsZero() {
			deployed = n.DeployedAt.UTC().Format(time.RFC3339)
		}
		row := []string{n.Hostname, strconv.Itoa(n.VMID), n.Location, n.IP, n.TailscaleName, n.NodeType, deployed}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
