package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rot127/bda-go/sampler"
)

func TestParseEntries(t *testing.T) {
	got, err := ParseEntries("1000, 0x2040,,3000")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1000, 0x2040, 0x3000}, got)

	got, err = ParseEntries("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseEntries("zzz")
	assert.Error(t, err)
}

func TestParseRanges(t *testing.T) {
	got, err := ParseRanges("2000-3000,1000-1500")
	require.NoError(t, err)
	assert.Equal(t, []sampler.Range{{Lo: 0x1000, Hi: 0x1500}, {Lo: 0x2000, Hi: 0x3000}}, got)

	_, err = ParseRanges("2000-1000")
	assert.Error(t, err)

	_, err = ParseRanges("not-a-range-at-all")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("01:02:03")
	require.NoError(t, err)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, d)

	d, err = ParseDuration("02:01:02:03")
	require.NoError(t, err)
	assert.Equal(t, 2*24*time.Hour+time.Hour+2*time.Minute+3*time.Second, d)

	_, err = ParseDuration("not-a-duration")
	assert.Error(t, err)

	_, err = ParseDuration("00:00:00")
	assert.Error(t, err)
}

func TestValidateRejectsOutOfBoundOptions(t *testing.T) {
	o := Default()
	o.Threads = 0
	assert.Error(t, o.Validate())

	o = Default()
	o.RepeatIterations = 65
	assert.Error(t, o.Validate())

	o = Default()
	o.NodeDuplicates = 100
	assert.Error(t, o.Validate())

	assert.NoError(t, Default().Validate())
}

func TestParseFromFlagsOverridesDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("bda", pflag.ContinueOnError)
	raw := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--threads=8", "--entries=1000,2000", "--skip_questions"}))

	o, err := Parse(fs, raw)
	require.NoError(t, err)
	assert.Equal(t, 8, o.Threads)
	assert.Equal(t, []uint64{0x1000, 0x2000}, o.Entries)
	assert.True(t, o.SkipQuestions)
	assert.Equal(t, Default().RepeatIterations, o.RepeatIterations)
}

func TestParseLoadsConfigFileThenAppliesFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bda.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threads: 16\nrepeat_iterations: 32\n"), 0o644))

	fs := pflag.NewFlagSet("bda", pflag.ContinueOnError)
	raw := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config=" + path, "--threads=2"}))

	o, err := Parse(fs, raw)
	require.NoError(t, err)
	assert.Equal(t, 2, o.Threads, "explicit flag overrides the file")
	assert.Equal(t, uint32(32), o.RepeatIterations, "file value kept when not overridden by a flag")
}
