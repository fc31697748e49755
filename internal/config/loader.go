package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory holding config.yaml.
// Files listed under include are merged in order, later files taking precedence.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}
	cfg.SourceFiles = sortedKeys(visited)

	cfg = applyConfigDefaults(cfg)

	if err := verifyAllConfigHashes(cfg.SourceFiles); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverAllConfigFiles returns absolute paths to all configuration files in the include tree.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}
	return sortedKeys(visited), nil
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolved := includePath
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolved)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s", i, absPath, baseDir)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		mergeConfig(cfg, included)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

// mergeConfig merges src into dst, with src taking precedence for non-zero values.
func mergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.TickInterval != 0 {
		dst.Service.TickInterval = src.Service.TickInterval
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.Platform != "" {
		dst.Service.Platform = src.Service.Platform
	}

	if src.State.Backend != "" {
		dst.State.Backend = src.State.Backend
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}
	if src.State.Redis.Addr != "" {
		dst.State.Redis = src.State.Redis
	}

	if src.IPM.ServerURL != "" {
		dst.IPM.ServerURL = src.IPM.ServerURL
	}
	if src.IPM.PingInterval != 0 {
		dst.IPM.PingInterval = src.IPM.PingInterval
	}
	if src.IPM.DefaultOrigin != "" {
		dst.IPM.DefaultOrigin = src.IPM.DefaultOrigin
	}
	if len(src.IPM.SafeOrigins) > 0 {
		dst.IPM.SafeOrigins = src.IPM.SafeOrigins
	}
	if src.IPM.PushSecret != "" {
		dst.IPM.PushSecret = src.IPM.PushSecret
	}
	if src.IPM.Install != (InstallInfo{}) {
		dst.IPM.Install = src.IPM.Install
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)

	if src.Locale.Language != "" {
		dst.Locale = src.Locale
	}

	for name, timing := range src.Timings {
		if dst.Timings == nil {
			dst.Timings = make(map[string]TimingConfig)
		}
		dst.Timings[name] = timing
	}
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.Platform == "" {
		cfg.Service.Platform = defaults.Service.Platform
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = defaults.State.Backend
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.State.Redis.Addr == "" {
		cfg.State.Redis.Addr = defaults.State.Redis.Addr
	}
	if cfg.State.Redis.Prefix == "" {
		cfg.State.Redis.Prefix = defaults.State.Redis.Prefix
	}

	if cfg.IPM.ServerURL == "" {
		cfg.IPM.ServerURL = defaults.IPM.ServerURL
	}
	if cfg.IPM.PingInterval == 0 {
		cfg.IPM.PingInterval = defaults.IPM.PingInterval
	}
	if cfg.IPM.DefaultOrigin == "" {
		cfg.IPM.DefaultOrigin = defaults.IPM.DefaultOrigin
	}
	if len(cfg.IPM.SafeOrigins) == 0 {
		cfg.IPM.SafeOrigins = defaults.IPM.SafeOrigins
	}
	if cfg.IPM.Install.AppName == "" {
		cfg.IPM.Install = defaults.IPM.Install
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Locale.Language == "" {
		cfg.Locale = defaults.Locale
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	switch cfg.State.Backend {
	case "sqlite":
		if cfg.State.Path == "" {
			return fmt.Errorf("state.path is required for the sqlite backend")
		}
	case "redis":
		if cfg.State.Redis.Addr == "" {
			return fmt.Errorf("state.redis.addr is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("state.backend must be one of: sqlite, redis, memory (got %q)", cfg.State.Backend)
	}

	if err := checkUnresolved("ipm.server_url", cfg.IPM.ServerURL); err != nil {
		return err
	}
	if u, err := url.Parse(cfg.IPM.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ipm.server_url must be an absolute URL (got %q)", cfg.IPM.ServerURL)
	}
	if cfg.IPM.PingInterval <= 0 {
		return fmt.Errorf("ipm.ping_interval must be positive")
	}
	if u, err := url.Parse(cfg.IPM.DefaultOrigin); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ipm.default_origin must be an absolute URL (got %q)", cfg.IPM.DefaultOrigin)
	}
	if err := checkUnresolved("ipm.push_secret", cfg.IPM.PushSecret); err != nil {
		return err
	}

	if cfg.API.Enabled {
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := checkUnresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	for name, timing := range cfg.Timings {
		if timing.Cooldown < 0 {
			return fmt.Errorf("timings.%s.cooldown must not be negative", name)
		}
		if timing.MaxDisplayCount < 0 {
			return fmt.Errorf("timings.%s.max_display_count must not be negative", name)
		}
	}
	return nil
}

// checkUnresolved reports ${VAR} placeholders left after interpolation.
func checkUnresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			// No manifest in this directory means no verification.
			continue
		}
		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: ipmgw config lock --config %s", basename, dir, dir)
			}
			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: ipmgw config lock --config %s", path, err, dir)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
