// Package cli provides the clipkeeper command-line client.
//
// NewApp wires configuration, the local store, the search index, the sync
// machinery and the services; NewRootCommand exposes them as cobra
// commands. Long-running work happens in "run", which captures clipboard
// events from stdin while the sync schedulers work in the background. The
// other commands operate on the history directly and exit.
//
// Commands:
//   - run, capture
//   - list, search, show, delete, pin, unpin
//   - sync
//   - login, register, logout, status
package cli
