// Package config loads the client configuration from an optional YAML file
// and command-line flags. Flags that were set explicitly win over the file.
package config
