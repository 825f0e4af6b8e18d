package otogi

import (
	"context"
)

// RegisteredCommand describes one runtime command registration entry.
type RegisteredCommand struct {
	// ModuleName identifies which module registered this command.
	ModuleName string
	// Command is the registered command specification.
	Command CommandSpec
}

// CommandCatalog provides read access to registered command specifications.
//
// Implementations must be concurrency-safe. Drivers read the catalog to
// publish platform command menus while modules may read it from workers.
type CommandCatalog interface {
	// ListCommands returns a defensive copy of all registered command entries.
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}
