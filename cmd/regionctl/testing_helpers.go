package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/joshuapare/regionkit/internal/config"
	"github.com/joshuapare/regionkit/internal/workload"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(r)
		close(done)
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	<-done
	return buf.String(), fnErr
}

// assertJSON checks that output is valid JSON
func assertJSON(t *testing.T, output string) {
	t.Helper()
	var result interface{}
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Errorf("output is not valid JSON: %v\nOutput: %s", err, output)
	}
}

// resetGlobals restores the flag globals between tests
func resetGlobals(t *testing.T) {
	t.Helper()
	verbose, quiet, jsonOut = false, false, false
	configPath, logDir = "", ""
	simOpts = workload.DefaultOptions()
	simVerify = false
	t.Cleanup(func() {
		verbose, quiet, jsonOut = false, false, false
		configPath, logDir = "", ""
		simOpts = workload.DefaultOptions()
		simVerify = false
	})
}

// smallConfig returns a machine small enough for quick runs.
func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Machine.PageSize = 64
	cfg.Machine.MaxOrder = 6
	cfg.Machine.Banks = []config.Bank{
		{Name: "vm0", Kind: "vm", Class: "normal", Frames: 512},
		{Name: "vm1", Kind: "vm", Class: "high", Frames: 256},
		{Name: "file0", Kind: "file", Class: "normal", Frames: 512},
	}
	return cfg
}
