package prolink

import (
	"bytes"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestFormatEventTime(t *testing.T) {
	instant := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-05 14:30:00", FormatEventTime(instant))
}

func TestComponentLogger_TagsComponentName(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(log.New(&buf))
	defer SetLogger(nil)

	l := componentLogger("test-component")
	assert.NotNil(t, l)
	l.Info("hello")
	assert.Contains(t, buf.String(), "component=test-component")
}
