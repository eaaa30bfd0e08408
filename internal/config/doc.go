// Package config provides configuration loading, merging, and path management for shelld.
//
// # Configuration Loading
//
// Load searches for and merges configuration from multiple sources in
// priority order:
//
//  1. Global config ($XDG_CONFIG_HOME/shelld/shelld.*)
//  2. Project config (shelld.* and .shelld/shelld.* in the given directory)
//  3. SHELLD_CONFIG file
//  4. SHELLD_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// # Supported Formats
//
// The file extension selects the parser:
//   - shelld.json, shelld.jsonc - JSON, with comments stripped by tidwall/jsonc
//   - shelld.yaml, shelld.yml - YAML via gopkg.in/yaml.v3
//   - shelld.toml - TOML via BurntSushi/toml
//
// All formats share the JSON field names of types.Config.
//
// # Variable Interpolation
//
// Configuration files support two placeholders:
//   - {env:VAR_NAME} - Expands to environment variable values
//   - {file:path} - Expands to file contents, relative to the config file
//
// Example configuration:
//
//	# shelld.yaml
//	commandPacks: [base, "file:{env:HOME}/.shelld/commands"]
//	shutdownTimeout: 15s
//	listeners:
//	  - type: telnet
//	    address: 127.0.0.1:5000
//	  - type: ssh
//	    address: 127.0.0.1:5022
//	    hostKeyFile: "{env:HOME}/.ssh/shelld_host_key"
//
// # Configuration Merging
//
// Later sources overwrite scalar values, add command packs not yet listed,
// replace listeners with the same name and merge variables by key.
//
// # Environment Variable Overrides
//
//   - SHELLD_PACKS - comma separated pack list, replaces configured packs
//   - SHELLD_LOG_LEVEL - log level
//   - SHELLD_DATA_DIR - local map storage directory
//   - SHELLD_CONFIG - path to a specific config file
//   - SHELLD_CONFIG_CONTENT - inline JSON configuration
package config
