package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/telnet2/shelld/internal/logging"
	"github.com/telnet2/shelld/pkg/types"
)

// configNames are the file names tried in every config directory, in order.
var configNames = []string{"shelld.json", "shelld.jsonc", "shelld.yaml", "shelld.yml", "shelld.toml"}

// Load loads configuration from multiple sources (priority order):
// 1. Global config ($XDG_CONFIG_HOME/shelld/)
// 2. Project config (shelld.* and .shelld/shelld.* in directory)
// 3. SHELLD_CONFIG file
// 4. SHELLD_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// Missing files are skipped. A file that exists but does not parse is an
// error, so a typo never silently drops a listener.
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string) error {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		if loaded[absPath] {
			return nil
		}
		found, err := loadConfigFile(path, config)
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		if found {
			loaded[absPath] = true
			logging.Debug().Str("path", path).Msg("loaded config file")
		}
		return nil
	}

	var candidates []string

	// 1. Global config
	for _, name := range configNames {
		candidates = append(candidates, filepath.Join(GetPaths().Config, name))
	}

	// 2. Project config
	if directory != "" {
		for _, name := range configNames {
			candidates = append(candidates, filepath.Join(directory, name))
		}
		for _, name := range configNames {
			candidates = append(candidates, filepath.Join(directory, ".shelld", name))
		}
	}

	// 3. SHELLD_CONFIG file override
	if configPath := os.Getenv("SHELLD_CONFIG"); configPath != "" {
		candidates = append(candidates, configPath)
	}

	for _, path := range candidates {
		if err := loadOnce(path); err != nil {
			return nil, err
		}
	}

	// 4. SHELLD_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("SHELLD_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		data := interpolate(jsonc.ToJSON([]byte(configContent)), "", true)
		if err := json.Unmarshal(data, &inlineConfig); err != nil {
			return nil, fmt.Errorf("SHELLD_CONFIG_CONTENT: %w", err)
		}
		mergeConfig(config, &inlineConfig)
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile reads one config file into config. It reports false when
// the file does not exist.
func loadConfigFile(path string, config *types.Config) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	data = interpolate(data, filepath.Dir(path), ext != ".yaml" && ext != ".yml" && ext != ".toml")

	var fileConfig types.Config
	if err := decode(path, data, &fileConfig); err != nil {
		return true, err
	}

	mergeConfig(config, &fileConfig)
	return true, nil
}

// decode parses data by file extension. YAML and TOML documents are
// re-encoded as JSON so the json tags on types.Config are the only schema.
func decode(path string, data []byte, out *types.Config) error {
	var generic map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return err
		}
	case ".toml":
		if err := toml.Unmarshal(data, &generic); err != nil {
			return err
		}
	default:
		// Strip JSONC comments using tidwall/jsonc
		return json.Unmarshal(jsonc.ToJSON(data), out)
	}

	js, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	return json.Unmarshal(js, out)
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders. File
// contents are escaped for a JSON string when escapeJSON is set.
func interpolate(data []byte, baseDir string, escapeJSON bool) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) && baseDir != "" {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}
		text := strings.TrimRight(string(content), "\r\n")
		if !escapeJSON {
			return text
		}
		quoted, _ := json.Marshal(text)
		return string(quoted[1 : len(quoted)-1])
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.ShutdownTimeout != "" {
		target.ShutdownTimeout = source.ShutdownTimeout
	}
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}
	if source.FsRoot != "" {
		target.FsRoot = source.FsRoot
	}
	if source.Watch != nil {
		target.Watch = source.Watch
	}
	if source.Log != nil {
		target.Log = source.Log
	}

	// Packs accumulate; a pack named twice is discovered once
	for _, p := range source.CommandPacks {
		if !contains(target.CommandPacks, p) {
			target.CommandPacks = append(target.CommandPacks, p)
		}
	}

	// Listeners with the same name are replaced
	for _, l := range source.Listeners {
		replaced := false
		for i, existing := range target.Listeners {
			if existing.ListenerName() == l.ListenerName() {
				target.Listeners[i] = l
				replaced = true
				break
			}
		}
		if !replaced {
			target.Listeners = append(target.Listeners, l)
		}
	}

	if source.Variables != nil {
		if target.Variables == nil {
			target.Variables = make(map[string]string)
		}
		for k, v := range source.Variables {
			target.Variables[k] = v
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	// Pack list override (comma separated)
	if packs := os.Getenv("SHELLD_PACKS"); packs != "" {
		config.CommandPacks = nil
		for _, p := range strings.Split(packs, ",") {
			if p = strings.TrimSpace(p); p != "" && !contains(config.CommandPacks, p) {
				config.CommandPacks = append(config.CommandPacks, p)
			}
		}
	}

	if level := os.Getenv("SHELLD_LOG_LEVEL"); level != "" {
		if config.Log == nil {
			config.Log = &types.LogConfig{}
		}
		config.Log.Level = level
	}

	if dir := os.Getenv("SHELLD_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
}
