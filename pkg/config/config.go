// Package config loads the user's ~/.dbg/config.yml, grounded on the
// teacher's pkg/config/config.go: a YAML file of command aliases,
// source-path substitution rules, and display preferences, created
// with sane defaults on first run.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDirName  = ".dbg"
	configFileName = "config.yml"
)

// SubstitutePathRule rewrites a DWARF-recorded source directory to
// where it actually lives on this machine, for the file paths shown in
// location and stop reports.
type SubstitutePathRule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// SubstitutePathRules is evaluated in order; the first matching prefix
// wins.
type SubstitutePathRules []SubstitutePathRule

// Config holds every user-configurable setting.
type Config struct {
	// Aliases maps a canonical command name to extra accepted spellings,
	// merged with the REPL's built-in aliases rather than replacing them.
	Aliases map[string][]string `yaml:"aliases"`

	// SubstitutePath rewrites source paths recorded in DWARF info before
	// they are shown in location and stop reports.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`

	// SourceListLineColor is a 3/4-bit ANSI color code
	// (https://en.wikipedia.org/wiki/ANSI_escape_code#Colors) for line
	// numbers in location and stop reports; 0 disables coloring.
	SourceListLineColor int `yaml:"source-list-line-color"`

	// MaxStringLen bounds how many bytes `print` reads for a char*
	// before truncating, overriding the evaluator's default cap.
	MaxStringLen *int `yaml:"max-string-len,omitempty"`
}

// Apply rewrites file through every matching SubstitutePathRule, first
// match wins, leaving file unchanged if nothing matches.
func (r SubstitutePathRules) Apply(file string) string {
	for _, rule := range r {
		if len(file) >= len(rule.From) && file[:len(rule.From)] == rule.From {
			return rule.To + file[len(rule.From):]
		}
	}
	return file
}

// Load reads ~/.dbg/config.yml, creating it with commented-out
// defaults on first run. Any error leaves the caller with a usable
// zero-value Config rather than failing start-up.
func Load() *Config {
	if err := createConfigDir(); err != nil {
		fmt.Fprintf(os.Stderr, "dbg: could not create config directory: %v\n", err)
		return &Config{}
	}
	full, err := FilePath(configFileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbg: could not resolve config file path: %v\n", err)
		return &Config{}
	}

	f, err := os.Open(full)
	if err != nil {
		f, err = createDefault(full)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dbg: could not create default config: %v\n", err)
			return &Config{}
		}
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbg: could not read config: %v\n", err)
		return &Config{}
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		fmt.Fprintf(os.Stderr, "dbg: could not parse config: %v\n", err)
		return &Config{}
	}
	return &c
}

// Save marshals conf back to ~/.dbg/config.yml.
func Save(conf *Config) error {
	full, err := FilePath(configFileName)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(full, out, 0644)
}

func createDefault(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if _, err := f.WriteString(defaultConfigYAML); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return f, nil
}

func createConfigDir() error {
	dir, err := FilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// FilePath joins the config directory with file, resolving the
// invoking user's home directory (falling back to "." if it can't be
// determined).
func FilePath(file string) (string, error) {
	home := "."
	if usr, err := user.Current(); err == nil {
		home = usr.HomeDir
	}
	return path.Join(home, configDirName, file), nil
}

const defaultConfigYAML = `# Configuration file for dbg.
#
# Uncomment a line to enable it.

# Extra aliases for built-in commands, merged with the defaults.
aliases:
  # step: ["s"]

# Source path substitution rules, applied to file paths recorded in the
# binary's debug info before they are shown in location reports.
substitute-path:
  # - {from: /build/src, to: /home/me/src}

# ANSI color code for line numbers in location reports (0 disables color).
# source-list-line-color: 34

# Maximum bytes read for a char* before truncating.
# max-string-len: 512
`
