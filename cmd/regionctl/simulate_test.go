package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/regionkit/mm/compact"
)

func TestSimulateCommand(t *testing.T) {
	tests := []struct {
		name        string
		vm, file    uint
		verify      bool
		json        bool
		wantContain []string
		wantErr     bool
	}{
		{
			name:        "workload only",
			wantContain: []string{"Workload", "Regions", "vm0", "file0"},
		},
		{
			name:        "compact all vm classes",
			vm:          compact.MaskAll,
			verify:      true,
			wantContain: []string{"Compaction", "vm0:", "vm1:", "All invariants hold"},
		},
		{
			name:        "compact files as JSON",
			file:        compact.MaskNormal,
			json:        true,
			wantContain: []string{`"compaction"`, `"bank": "file0"`},
		},
		{
			name:    "unknown mask bits",
			vm:      8,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals(t)
			jsonOut = tt.json
			simVerify = tt.verify
			simOpts.Steps = 2000
			simOpts.Pages = 64

			cfg := smallConfig()
			cfg.Compaction = compact.Config{VM: tt.vm, File: tt.file}
			out, err := captureOutput(t, func() error {
				return runSimulate(context.Background(), cfg)
			})
			if tt.wantErr {
				require.ErrorIs(t, err, compact.ErrInvalidMask)
				return
			}
			require.NoError(t, err)
			if tt.json {
				assertJSON(t, out)
			}
			for _, want := range tt.wantContain {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestSimulateCommand_JSONShape(t *testing.T) {
	resetGlobals(t)
	jsonOut = true
	simVerify = true
	simOpts.Steps = 1000
	simOpts.Pages = 32

	cfg := smallConfig()
	cfg.Compaction = compact.Config{VM: compact.MaskNormal}
	out, err := captureOutput(t, func() error {
		return runSimulate(context.Background(), cfg)
	})
	require.NoError(t, err)

	var res SimulateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Verified)
	assert.Equal(t, 1000, res.Workload.Steps)
	require.Len(t, res.Compaction, 1)
	assert.Equal(t, "vm0", res.Compaction[0].Bank)
	assert.Len(t, res.Banks, 3)
}

func TestConfigCommand(t *testing.T) {
	resetGlobals(t)
	path := filepath.Join(t.TempDir(), "machine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("machine:\n  region_order: 3\n"), 0o600))
	configPath = path

	out, err := captureOutput(t, runConfig)
	require.NoError(t, err)
	assert.Contains(t, out, "region_order: 3")
	assert.True(t, strings.Contains(out, "vm-normal"), "defaults fill the rest")

	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = captureOutput(t, runConfig)
	require.Error(t, err)
}
