// Package file provides file-based implementations of driven port interfaces.
//
// Adapters:
//   - ConfigStore: TOML-based configuration storage at ~/.fhirsync/config.toml,
//     with fsnotify-driven reloads
package file
