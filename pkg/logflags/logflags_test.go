package logflags

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func resetFlags() {
	inferiorLog = false
	dwarfLog = false
	evalLog = false
}

func TestSetupDisabledIgnoresSubsystemList(t *testing.T) {
	resetFlags()
	assert.NoError(t, Setup(false, "inferior,dwarf,eval", nil))
	assert.False(t, Inferior())
	assert.False(t, DWARF())
	assert.False(t, Eval())
}

func TestSetupDefaultsToInferior(t *testing.T) {
	resetFlags()
	assert.NoError(t, Setup(true, "", nil))
	assert.True(t, Inferior())
	assert.False(t, DWARF())
	assert.False(t, Eval())
}

func TestSetupParsesCommaSeparatedList(t *testing.T) {
	resetFlags()
	assert.NoError(t, Setup(true, "dwarf, eval", nil))
	assert.False(t, Inferior())
	assert.True(t, DWARF())
	assert.True(t, Eval())
}

func TestLoggerLevelGatedByFlag(t *testing.T) {
	resetFlags()
	assert.NoError(t, Setup(true, "eval", nil))
	assert.Equal(t, "eval", EvalLogger().Data["layer"])
	assert.Equal(t, "inferior", InferiorLogger().Data["layer"])
	assert.Equal(t, logrus.DebugLevel, EvalLogger().Logger.Level)
	assert.Equal(t, logrus.PanicLevel, InferiorLogger().Logger.Level)
}
