// Package recorder persists successful deployments to the inventory and the
// configuration history.
package recorder

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/kapnode/internal/config"
	"github.com/3cpo-dev/kapnode/internal/inventory"
	"github.com/3cpo-dev/kapnode/pkg/api"
)

// FileRecorder writes to the file-backed stores. Each call opens, mutates
// and flushes its store as a whole.
type FileRecorder struct {
	Inventory *inventory.Store
	Config    *config.Store
}

// New returns a recorder over the two stores.
func New(inv *inventory.Store, cfg *config.Store) *FileRecorder {
	return &FileRecorder{Inventory: inv, Config: cfg}
}

func (r *FileRecorder) RegisterNode(n api.InventoryNode) error {
	if err := r.Inventory.Add(n); err != nil {
		return fmt.Errorf("register node: %w", err)
	}
	log.Info().Str("hostname", n.Hostname).Int("vmid", n.VMID).Str("inventory", r.Inventory.Path()).Msg("Node added to inventory")
	return nil
}

func (r *FileRecorder) AppendHistory(e api.HistoryEntry) error {
	if err := r.Config.AppendHistory(e); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// NextIdentifier returns the config counter's next VMID, skipping VMIDs
// already present in the inventory.
func (r *FileRecorder) NextIdentifier() (int, error) {
	next, err := r.Config.NextVMID()
	if err != nil {
		return 0, err
	}
	return r.Inventory.NextVMID(next)
}

func (r *FileRecorder) AdvanceIdentifier() (int, error) {
	vmid, err := r.Config.AdvanceVMID()
	if err != nil {
		return 0, fmt.Errorf("advance vmid: %w", err)
	}
	return vmid, nil
}
