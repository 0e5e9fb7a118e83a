package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter_JSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	var buf bytes.Buffer
	require.NoError(t, SetupWriter(&buf, "debug", "json", true))

	log.Debug().Str("strategy", "rsi").Msg("hello")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "rsi", entry["strategy"])
	assert.Contains(t, entry, "time")
}

func TestSetupWriter_AutoFallsBackToJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	var buf bytes.Buffer
	require.NoError(t, SetupWriter(&buf, "info", "auto", false))

	log.Info().Msg("plain")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	log.Debug().Msg("filtered")
	assert.Empty(t, buf.String())
}

func TestSetupWriter_Console(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	var buf bytes.Buffer
	require.NoError(t, SetupWriter(&buf, "", "console", false))

	log.Info().Int("runs", 3).Msg("sweep done")
	assert.Contains(t, buf.String(), "sweep done")
	assert.Contains(t, buf.String(), "runs=3")
}

func TestSetupWriter_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, SetupWriter(&buf, "loud", "json", false))
	assert.Error(t, SetupWriter(&buf, "info", "xml", false))
}

func TestProgressIndicator_Render(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator(&buf, "optimize", 4, ProgressConfig{ShowProgress: true, SpinnerStyle: SpinnerNone})

	pi.Update(1)
	assert.Contains(t, buf.String(), "optimize [█████░░░░░░░░░░░░░░░] 1/4 (25.0%)")

	buf.Reset()
	pi.Callback()(4, 4)
	assert.Contains(t, buf.String(), "4/4 (100.0%)")

	buf.Reset()
	pi.Finish()
	assert.Contains(t, buf.String(), "optimize completed (4 runs")
}

func TestProgressIndicator_ETAAndThrottle(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	pi := NewProgressIndicator(&buf, "montecarlo", 10, ProgressConfig{ShowETA: true, MinInterval: time.Second})
	pi.startTime = start
	pi.now = func() time.Time { return clock }

	clock = start.Add(2 * time.Second)
	pi.Update(2)
	assert.Contains(t, buf.String(), "ETA: 8s")

	buf.Reset()
	clock = clock.Add(100 * time.Millisecond)
	pi.Update(3)
	assert.Empty(t, buf.String(), "redraw within MinInterval is skipped")

	pi.Update(10)
	assert.Contains(t, buf.String(), "(10/10)")
}

func TestProgressIndicator_QuietDrawsOnlyFinish(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator(&buf, "rolling", 3, QuietProgressConfig())
	pi.Increment()
	pi.Increment()
	assert.Empty(t, buf.String())
	pi.Fail("cancelled")
	assert.Contains(t, buf.String(), "rolling failed after 2/3: cancelled")
}
