// Package config provides configuration loading, merging, watching and path
// management for claudia.
//
// # Configuration Loading
//
// Load merges configuration from these sources, later ones winning:
//
//  1. Global config (~/.config/claudia/claudia.{json,jsonc,yaml,yml})
//  2. Project config (<dir>/claudia.* then <dir>/.claudia/claudia.*)
//  3. CLAUDIA_CONFIG file
//  4. Environment variables, after reading <dir>/.env with godotenv
//
// JSONC comments are stripped with tidwall/jsonc. YAML files are decoded with
// gopkg.in/yaml.v3 and then follow the JSON path, so both formats share field
// names:
//
//	claudePath: /opt/claude/bin/claude
//	model: opus
//	queue:
//	  maxDepth: 5
//	checkpoint:
//	  autoEnabled: true
//	  strategy: smart
//
// A missing file is skipped. A malformed file fails Load.
//
// # Variable Interpolation
//
//   - {env:VAR_NAME} expands to the environment variable value
//   - {file:path} expands to the file contents, relative to the config file's
//     directory, with ~/ expanded
//
// # Environment Variable Overrides
//
//   - CLAUDIA_MODEL: default model
//   - CLAUDIA_CLAUDE_PATH: agent binary
//   - CLAUDIA_LOG_LEVEL: log level
//   - CLAUDIA_QUEUE_MAX_DEPTH: queue bound
//   - CLAUDIA_CONFIG: an extra config file
//   - CLAUDIA_CONFIG_DIR: override the config directory location
//
// # Watching
//
// Watcher reloads the merged configuration when any source file changes:
//
//	w, err := config.NewWatcher(dir, func(cfg *types.Config) { ... })
//	w.Start()
//	defer w.Stop()
//
// # Path Management
//
// Paths follows the XDG Base Directory layout under a "claudia" subdirectory.
// ClaudeProjectsPath points at the agent's own transcript directory
// (~/.claude/projects, or $CLAUDE_CONFIG_DIR/projects).
package config
