package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/opencode-ai/claudia/pkg/types"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// configNames are the file names probed in each config directory, lowest priority first.
var configNames = []string{"claudia.json", "claudia.jsonc", "claudia.yaml", "claudia.yml"}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/claudia/)
// 2. Project config (<dir>/claudia.* and <dir>/.claudia/)
// 3. CLAUDIA_CONFIG file
// 4. Environment variables (a project .env file is read first)
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		if loaded[absPath] {
			return nil
		}
		err = loadConfigFile(path, config, baseDir)
		if err == nil {
			loaded[absPath] = true
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	globalPath := GetPaths().Config
	for _, name := range configNames {
		if err := loadOnce(filepath.Join(globalPath, name), globalPath); err != nil {
			return nil, err
		}
	}

	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".claudia")
		for _, name := range configNames {
			if err := loadOnce(filepath.Join(directory, name), directory); err != nil {
				return nil, err
			}
		}
		for _, name := range configNames {
			if err := loadOnce(filepath.Join(projectConfigDir, name), projectConfigDir); err != nil {
				return nil, err
			}
		}
	}

	if configPath := os.Getenv("CLAUDIA_CONFIG"); configPath != "" {
		if err := loadConfigFile(configPath, config, filepath.Dir(configPath)); err != nil {
			return nil, fmt.Errorf("CLAUDIA_CONFIG %s: %w", configPath, err)
		}
	}

	loadDotEnv(directory)
	applyEnvOverrides(config)

	return config, nil
}

// loadDotEnv reads <dir>/.env without overriding variables already set.
func loadDotEnv(directory string) {
	if directory == "" {
		return
	}
	path := filepath.Join(directory, ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// loadConfigFile loads a single config file with interpolation support.
// Missing files return an error satisfying os.IsNotExist.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data, err = toJSON(path, data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// toJSON normalises JSONC and YAML sources to plain JSON.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(doc)
	default:
		// Strip JSONC comments using tidwall/jsonc
		return jsonc.ToJSON(data), nil
	}
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return jsonEscape(os.Getenv(varName))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}
		return jsonEscape(strings.TrimRight(string(content), "\r\n"))
	})

	return []byte(str)
}

// jsonEscape escapes s for embedding inside a JSON string literal.
func jsonEscape(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted[1 : len(quoted)-1])
}

// mergeConfig merges source config into target. Non-zero source fields win.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.ClaudePath != "" {
		target.ClaudePath = source.ClaudePath
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.ExtraArgs != "" {
		target.ExtraArgs = source.ExtraArgs
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	if source.Queue != nil {
		if target.Queue == nil {
			target.Queue = &types.QueueConfig{}
		}
		if source.Queue.MaxDepth != 0 {
			target.Queue.MaxDepth = source.Queue.MaxDepth
		}
		if source.Queue.ReleaseDelayMs != 0 {
			target.Queue.ReleaseDelayMs = source.Queue.ReleaseDelayMs
		}
	}

	if source.Cancel != nil {
		if target.Cancel == nil {
			target.Cancel = &types.CancelConfig{}
		}
		if source.Cancel.KillGraceMs != 0 {
			target.Cancel.KillGraceMs = source.Cancel.KillGraceMs
		}
	}

	if source.Checkpoint != nil {
		if target.Checkpoint == nil {
			target.Checkpoint = &types.CheckpointConfig{}
		}
		if source.Checkpoint.AutoEnabled != nil {
			target.Checkpoint.AutoEnabled = source.Checkpoint.AutoEnabled
		}
		if source.Checkpoint.Strategy != "" {
			target.Checkpoint.Strategy = source.Checkpoint.Strategy
		}
	}

	if source.Server != nil {
		if target.Server == nil {
			target.Server = &types.ServerConfig{}
		}
		if source.Server.Port != 0 {
			target.Server.Port = source.Server.Port
		}
		if source.Server.EnableCORS != nil {
			target.Server.EnableCORS = source.Server.EnableCORS
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if model := os.Getenv("CLAUDIA_MODEL"); model != "" {
		config.Model = model
	}
	if path := os.Getenv("CLAUDIA_CLAUDE_PATH"); path != "" {
		config.ClaudePath = path
	}
	if level := os.Getenv("CLAUDIA_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if depth := os.Getenv("CLAUDIA_QUEUE_MAX_DEPTH"); depth != "" {
		if n, err := strconv.Atoi(depth); err == nil {
			if config.Queue == nil {
				config.Queue = &types.QueueConfig{}
			}
			config.Queue.MaxDepth = n
		}
	}
}

// Save saves the configuration to a file. YAML is used for .yaml/.yml paths.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns the config directory to use.
// Prefers CLAUDIA_CONFIG_DIR, then the XDG location.
func GetConfigDir() string {
	if dir := os.Getenv("CLAUDIA_CONFIG_DIR"); dir != "" {
		return dir
	}
	return GetPaths().Config
}

// Sources returns the config files Load would consider for directory, in
// priority order, whether or not they exist.
func Sources(directory string) []string {
	var paths []string
	globalPath := GetPaths().Config
	for _, name := range configNames {
		paths = append(paths, filepath.Join(globalPath, name))
	}
	if directory != "" {
		for _, name := range configNames {
			paths = append(paths, filepath.Join(directory, name))
		}
		for _, name := range configNames {
			paths = append(paths, filepath.Join(directory, ".claudia", name))
		}
	}
	if configPath := os.Getenv("CLAUDIA_CONFIG"); configPath != "" {
		paths = append(paths, configPath)
	}
	return paths
}
