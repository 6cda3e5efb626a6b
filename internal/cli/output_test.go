package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/codenode-comments/internal/domain"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"id": "x"}, "ignored"))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.NotContains(t, buf.String(), "ignored")
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(nil, "done\n"))
	assert.Equal(t, "done\n", buf.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		err  error
		code string
		exit int
	}{
		{fmt.Errorf("%w: text", domain.ErrInvalidArgument), "invalid_argument", ExitFailure},
		{&domain.OpError{Op: domain.OpEdit, Err: domain.ErrNotFound}, "not_found", ExitFailure},
		{&domain.OpError{Op: domain.OpDelete, Err: domain.ErrPermissionDenied}, "permission_denied", ExitFailure},
		{fmt.Errorf("%w: %w", domain.ErrRetriesExhausted, domain.ErrConflict), "retries_exhausted", ExitFailure},
		{domain.NewIntegrityError("function:a.dll:1", "x", domain.ReasonFork), "integrity", ExitIntegrity},
		{errors.New("disk on fire"), "internal", ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.Fail(tt.err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)

			var resp Response
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitIntegrity, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitIntegrity, "corrupt", nil))))
}
