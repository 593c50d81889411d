package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repoFile(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", rel)
}

func TestLoad_ShippedConfigMatchesDefaults(t *testing.T) {
	got, err := Load(repoFile(t, "configs/tuning.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)
}

func TestParse_EmptyFillsDefaults(t *testing.T) {
	got, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Scan.MaxRadius)
	assert.Equal(t, 40, got.Climate.ProbeTimeoutPolls)
	assert.Equal(t, "temperate", got.Climate.Fallback)
	assert.InDelta(t, 0.35, got.Jobs.FreezeChance["cold"], 1e-9)
}

func TestParse_PartialChanceTableKeepsExplicitZero(t *testing.T) {
	got, err := Parse([]byte("jobs:\n  melt_chance:\n    temperate: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, got.Jobs.MeltChance["temperate"])
	assert.InDelta(t, 0.85, got.Jobs.MeltChance["warm"], 1e-9)
	assert.Zero(t, got.Jobs.MeltChance["cold"])
}

func TestParse_StrayIceChance(t *testing.T) {
	got, err := Parse([]byte("stray_ice:\n  chance: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, got.StrayIce.Chance, "explicit zero turns decay off")
	assert.Equal(t, 10, got.StrayIce.EveryTicks)

	got, err = Parse([]byte("stray_ice:\n  every_ticks: 20\n"))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, got.StrayIce.Chance, 1e-9)
}

func TestValidate_ConcurrentFirstUse(t *testing.T) {
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = Validate([]byte("scan:\n  max_radius: 5\n"))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "scan:\n  max_radius: 5\n  diagonal: true\n",
		"chance above one": "jobs:\n  freeze_chance:\n    cold: 1.5\n",
		"bad fallback":     "climate:\n  fallback: arctic\n",
		"negative radius":  "scan:\n  protect_radius: -1\n",
		"not yaml":         "scan: [\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "err=%v", err)
		})
	}
}

func TestLoad_WrapsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_rate_hz: -3\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
