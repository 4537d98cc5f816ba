package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
mcu:
  serial: /dev/ttyUSB0
  baud: 115200
toolhead:
  buffer_time_start: 0.1
endstops:
  - name: x_stop
    oid: 2
  - name: z_probe
    oid: 0
    invert: true
    pin: 24
    pull_up: true
log:
  level: debug
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.MCU.Serial)
	assert.Equal(t, 115200, cfg.MCU.Baud)
	assert.Equal(t, DefaultReadTimeoutMs, cfg.MCU.ReadTimeout())
	assert.Zero(t, cfg.MCU.ClockFreq)
	require.NotNil(t, cfg.Toolhead.BufferTimeStart)
	assert.InDelta(t, 0.1, *cfg.Toolhead.BufferTimeStart, 1e-9)
	require.Len(t, cfg.Endstops, 2)
	assert.Equal(t, EndstopConfig{Name: "x_stop", OID: 2}, cfg.Endstops[0])
	z := cfg.Endstops[1]
	assert.Equal(t, "z_probe", z.Name)
	assert.True(t, z.Invert)
	assert.True(t, z.PullUp)
	require.NotNil(t, z.Pin)
	assert.Equal(t, uint32(24), *z.Pin)
	assert.Equal(t, DefaultListen, cfg.Status.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestReadTimeout(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want int
	}{
		{"default", "mcu: {}\n", DefaultReadTimeoutMs},
		{"explicit", "mcu:\n  read_timeout_ms: 250\n", 250},
		{"blocking", "mcu:\n  read_timeout_ms: 0\n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.MCU.ReadTimeout())
		})
	}

	assert.Equal(t, DefaultReadTimeoutMs, MCUConfig{}.ReadTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultSerial, cfg.MCU.Serial)
	assert.Equal(t, DefaultBaud, cfg.MCU.Baud)
	assert.Nil(t, cfg.Toolhead.BufferTimeStart)
	assert.Empty(t, cfg.Endstops)
	assert.NoError(t, Validate(cfg))
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative baud", "mcu: {baud: -1}"},
		{"negative clock", "mcu: {clock_freq: -5}"},
		{"negative buffer time", "toolhead: {buffer_time_start: -0.5}"},
		{"unnamed endstop", "endstops: [{oid: 1}]"},
		{"duplicate oid", "endstops: [{name: a, oid: 1}, {name: b, oid: 1}]"},
		{"unknown log level", "log: {level: loud}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("endstops: [unclosed"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestParseDuplicateNamesAllowed(t *testing.T) {
	cfg, err := Parse([]byte("endstops: [{name: z, oid: 0}, {name: z, oid: 1}]"))
	require.NoError(t, err)
	assert.Len(t, cfg.Endstops, 2)
}
