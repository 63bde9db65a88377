package utils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInitLogger(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	assert.NoError(t, InitLogger("debug", "json"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.NoError(t, InitLogger("warn", ""))

	assert.Error(t, InitLogger("loud", "text"))
	assert.Error(t, InitLogger("info", "xml"))
}

func TestLogger_Fallback(t *testing.T) {
	entry := Logger(nil, "fetch")
	assert.Equal(t, "fetch", entry.Data["component"])
	assert.Same(t, logrus.StandardLogger(), entry.Logger)
}
