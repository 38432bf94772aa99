package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v2"
)

func TestSubstitutePathRulesFirstMatchWins(t *testing.T) {
	rules := SubstitutePathRules{
		{From: "/build/src", To: "/home/me/src"},
		{From: "/build", To: "/other"},
	}
	assert.Equal(t, "/home/me/src/main.c", rules.Apply("/build/src/main.c"))
}

func TestSubstitutePathRulesNoMatchLeavesUnchanged(t *testing.T) {
	rules := SubstitutePathRules{{From: "/build", To: "/home/me"}}
	assert.Equal(t, "/elsewhere/main.c", rules.Apply("/elsewhere/main.c"))
}

func TestDefaultConfigYAMLParsesToZeroValue(t *testing.T) {
	// The shipped default file is entirely commented out; it must still
	// parse cleanly to a usable zero-value Config.
	var c Config
	assert.NoError(t, yaml.Unmarshal([]byte(defaultConfigYAML), &c))
	assert.Empty(t, c.Aliases)
	assert.Empty(t, c.SubstitutePath)
	assert.Nil(t, c.MaxStringLen)
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	maxLen := 256
	conf := Config{
		Aliases:             map[string][]string{"step": {"s"}},
		SubstitutePath:      SubstitutePathRules{{From: "/a", To: "/b"}},
		SourceListLineColor: 34,
		MaxStringLen:        &maxLen,
	}

	out, err := yaml.Marshal(conf)
	assert.NoError(t, err)

	var loaded Config
	assert.NoError(t, yaml.Unmarshal(out, &loaded))
	assert.Equal(t, []string{"s"}, loaded.Aliases["step"])
	assert.Equal(t, SubstitutePathRules{{From: "/a", To: "/b"}}, loaded.SubstitutePath)
	assert.Equal(t, 34, loaded.SourceListLineColor)
	assert.NotNil(t, loaded.MaxStringLen)
	assert.Equal(t, 256, *loaded.MaxStringLen)
}

func TestFilePathJoinsConfigDir(t *testing.T) {
	full, err := FilePath(configFileName)
	assert.NoError(t, err)
	assert.Contains(t, full, configDirName)
	assert.Contains(t, full, configFileName)
}
