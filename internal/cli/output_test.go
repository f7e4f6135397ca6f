package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isb2026/bomrel/internal/ir"
	"github.com/isb2026/bomrel/internal/nestedset"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("E004", "cannot load input", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E004", resp.Error.Code)
	assert.Equal(t, "cannot load input", resp.Error.Message)
}

func TestOutputFormatter_TextResult(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Result(map[string]int{"n": 1}, "R: ok\n")
	require.NoError(t, err)
	assert.Equal(t, "R: ok\n", buf.String())
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"file": "tree.yaml"}
	err := formatter.Error("E001", "command failed", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			errBuf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    buf,
				ErrWriter: errBuf,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("loading %s", "tree.yaml")

			assert.Empty(t, buf.String(), "verbose output never corrupts stdout")
			if tt.wantLog {
				assert.Contains(t, errBuf.String(), "loading tree.yaml")
			} else {
				assert.Empty(t, errBuf.String())
			}
		})
	}
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		wantExit  int
		retryable bool
	}{
		{
			name:     "rule rejection",
			err:      ir.NewCycleError("P", "item:R", "R"),
			wantCode: "CYCLE_DETECTED",
			wantExit: ExitFailure,
		},
		{
			name:     "assignment rejection",
			err:      ir.NewVersionConflict("L1", 0, 1),
			wantCode: "VERSION_CONFLICT",
			wantExit: ExitFailure,
		},
		{
			name:      "storage abort",
			err:       ir.NewStorageAborted("R", errors.New("disk full")),
			wantCode:  "STORAGE_ABORTED",
			wantExit:  ExitCommandError,
			retryable: true,
		},
		{
			name: "verify failure",
			err: &nestedset.VerifyError{RootID: "R", Violations: []nestedset.Violation{
				{NodeID: "P", Rule: "range", Detail: "left >= right"},
			}},
			wantCode: ErrCodeVerify,
			wantExit: ExitFailure,
		},
		{
			name:     "load failure",
			err:      &LoadError{Path: "x.txt", Message: "unsupported extension"},
			wantCode: ErrCodeLoadFailed,
			wantExit: ExitCommandError,
		},
		{
			name:     "anything else",
			err:      errors.New("boom"),
			wantCode: ErrCodeGeneric,
			wantExit: ExitCommandError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			got := formatter.Fail(tt.err)
			assert.Equal(t, tt.wantExit, GetExitCode(got))
			assert.ErrorIs(t, got, tt.err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.retryable, resp.Error.Retryable)
		})
	}
}

func TestOutputFormatter_FailSilentExitError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	got := formatter.Fail(NewExitError(ExitFailure, "attach rejected"))
	assert.Equal(t, ExitFailure, GetExitCode(got))
	assert.Empty(t, buf.String(), "an ExitError without a cause was already reported")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", errors.New("y"))))
}
