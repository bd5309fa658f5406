package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kairon/internal/service"
)

// execute runs the root command with the given args and returns its
// combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func testDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "kairon.db")
}

// ingestJSON runs an ingest in JSON format and decodes the response data.
func ingestJSON(t *testing.T, db, text, key string) map[string]any {
	t.Helper()
	out, err := execute(t, "ingest", "--db", db, "--text", text, "--key", key, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	return data
}

func TestIngestText(t *testing.T) {
	db := testDB(t)

	out, err := execute(t, "ingest", "--db", db, "--text", "!! morning run", "--key", "msg-1")
	require.NoError(t, err)
	assert.Contains(t, out, "chain completed")
	assert.Contains(t, out, "activity")
	assert.Contains(t, out, "morning run")
}

func TestIngestDuplicate(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, "ingest", "--db", db, "--text", "buy milk", "--key", "msg-1")
	require.NoError(t, err)

	out, err := execute(t, "ingest", "--db", db, "--text", "buy milk", "--key", "msg-1")
	require.NoError(t, err)
	assert.Contains(t, out, "duplicate ignored")
}

func TestIngestRequiresPayload(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, "ingest", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngestRejectsBadPayloadJSON(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, "ingest", "--db", db, "--payload", "{not json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngestUnknownEventType(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, "ingest", "--db", db, "--type", "calendar_sync", "--payload", "{}")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestInvalidFormatFlag(t *testing.T) {
	_, err := execute(t, "compile", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestQueryAfterIngest(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, "ingest", "--db", db, "--text", "$$ buy milk", "--key", "msg-1")
	require.NoError(t, err)

	out, err := execute(t, "query", "--db", db, "--type", "todo")
	require.NoError(t, err)
	assert.Contains(t, out, "buy milk")
	assert.Contains(t, out, "todo")

	out, err = execute(t, "query", "--db", db, "--type", "note")
	require.NoError(t, err)
	assert.Contains(t, out, "no projections")
}

func TestQueryRejectsInvalidStatus(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, "query", "--db", db, "--status", "archived")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTraceShowsChain(t *testing.T) {
	db := testDB(t)

	data := ingestJSON(t, db, "hello world", "msg-1")
	event, ok := data["event"].(map[string]any)
	require.True(t, ok)
	eventID, _ := event["id"].(string)
	require.NotEmpty(t, eventID)

	out, err := execute(t, "trace", "--db", db, "--event", eventID)
	require.NoError(t, err)
	assert.Contains(t, out, "tag_route")
	assert.Contains(t, out, "extract_captures")
	assert.Contains(t, out, "todo_match")
}

func TestCorrectStopAndRedirect(t *testing.T) {
	db := testDB(t)

	data := ingestJSON(t, db, "hello world", "msg-1")
	event := data["event"].(map[string]any)
	eventID := event["id"].(string)

	out, err := execute(t, "correct", "--db", db, "--event", eventID, "--as", "todo", "--text", "hello world")
	require.NoError(t, err)
	assert.Contains(t, out, "1 new projection(s), 1 voided")
	assert.Contains(t, out, "voided (user_correction)")
}

func TestCorrectRegenerate(t *testing.T) {
	db := testDB(t)

	data := ingestJSON(t, db, "hello world", "msg-1")
	projs, ok := data["projections"].([]any)
	require.True(t, ok)
	require.Len(t, projs, 1)
	projID := projs[0].(map[string]any)["id"].(string)

	out, err := execute(t, "correct", "--db", db, "--projection", projID, "--options")
	require.NoError(t, err)
	assert.Contains(t, out, "tag_route: Reclassify")
	assert.Contains(t, out, "extract_captures: Re-extract")

	out, err = execute(t, "correct", "--db", db, "--projection", projID, "--step", "tag_route", "--choose", "todo")
	require.NoError(t, err)
	assert.Contains(t, out, "1 new projection(s), 1 voided")
	assert.Contains(t, out, "voided (regenerated)")
}

func TestCorrectFlagValidation(t *testing.T) {
	db := testDB(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "no target", args: []string{"correct", "--db", db}},
		{name: "both targets", args: []string{"correct", "--db", db, "--event", "e", "--projection", "p"}},
		{name: "projection without step", args: []string{"correct", "--db", db, "--projection", "p"}},
		{name: "options without projection", args: []string{"correct", "--db", db, "--options"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestReplaySupersedes(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, "ingest", "--db", db, "--text", "hello world", "--key", "msg-1")
	require.NoError(t, err)

	out, err := execute(t, "replay", "--db", db, "--type", "user_message")
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 1 event(s)")
	assert.Contains(t, out, "1 superseded")
}

func TestReplayRejectsBadTimestamp(t *testing.T) {
	db := testDB(t)

	_, err := execute(t, "replay", "--db", db, "--since", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileEmbeddedCatalog(t *testing.T) {
	out, err := execute(t, "compile")
	require.NoError(t, err)
	assert.Contains(t, out, "Compiled 3 plan(s), 3 regenerable step(s)")
	assert.Contains(t, out, "plan capture (user_message)")
	assert.Contains(t, out, "regen tag_route: Reclassify")
}

func TestValidateCatalogFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.cue")
	require.NoError(t, os.WriteFile(good, []byte(`
plan: {
	capture: {
		event_type: "user_message"
		steps: [{name: "tag_route", kind: "rule"}]
	}
}
`), 0o644))

	out, err := execute(t, "validate", "--catalog", good)
	require.NoError(t, err)
	assert.Contains(t, out, "catalog OK")
	assert.Contains(t, out, "user_message")

	bad := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte(`plan: { broken: { steps: [] } }`), 0o644))

	_, err = execute(t, "validate", "--catalog", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestLoadCatalogDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plans.cue"), []byte(`
plan: {
	capture: {
		event_type: "user_message"
		steps: [{name: "tag_route", kind: "rule"}]
	}
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "regen.cue"), []byte(`
regen: {
	tag_route: {
		label: "Reclassify"
		alternatives: ["note", "todo"]
	}
}
`), 0o644))

	reg, err := LoadCatalog(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"user_message"}, reg.EventTypes())
	assert.Len(t, reg.Regenerable(), 1)
}

func TestLoadCatalogEmptyDir(t *testing.T) {
	_, err := LoadCatalog(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")
}

func TestLoadCatalogMissingPath(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
}

func TestBuildPayload(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		payload string
		want    map[string]any
		wantErr bool
	}{
		{name: "text only", text: "buy milk", want: map[string]any{"text": "buy milk"}},
		{name: "payload only", payload: `{"text": "x", "extra": 1}`, want: map[string]any{"text": "x", "extra": float64(1)}},
		{name: "text overrides payload text", text: "later", payload: `{"text": "earlier"}`, want: map[string]any{"text": "later"}},
		{name: "invalid JSON", payload: "{oops", wantErr: true},
		{name: "neither", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildPayload(tt.text, tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, map[string]any(got))
		})
	}
}

func TestBuildCorrectionRequest(t *testing.T) {
	t.Run("stop", func(t *testing.T) {
		req, err := buildCorrectionRequest(&CorrectOptions{
			EventID:       "ev-1",
			CorrectedType: "todo",
			Text:          "buy milk",
			CorrectedData: `{"priority": "high"}`,
		})
		require.NoError(t, err)
		assert.Equal(t, service.CorrectionStop, req.Kind)
		assert.Equal(t, "ev-1", req.EventID)
		assert.Equal(t, "todo", req.Correction["corrected_type"])
		assert.Equal(t, "buy milk", req.Correction["text"])
		assert.Equal(t, map[string]any{"priority": "high"}, req.Correction["corrected_data"])
	})

	t.Run("regenerate", func(t *testing.T) {
		req, err := buildCorrectionRequest(&CorrectOptions{
			ProjectionID: "pr-1",
			Step:         "tag_route",
			Choose:       "note",
		})
		require.NoError(t, err)
		assert.Equal(t, service.CorrectionRegenerate, req.Kind)
		assert.Equal(t, "pr-1", req.ProjectionID)
		assert.Equal(t, "tag_route", req.StepName)
		assert.Equal(t, "note", req.ChosenAlternative)
	})

	t.Run("bad corrected data", func(t *testing.T) {
		_, err := buildCorrectionRequest(&CorrectOptions{EventID: "ev-1", CorrectedData: "{oops"})
		require.Error(t, err)
	})
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestOutputFormatterJSONError(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Error("VALIDATION", "bad input", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)
	assert.Equal(t, "bad input", resp.Error.Message)
}

func TestVerboseLogRouting(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}
	f.VerboseLog("opened %s", "db")
	assert.Empty(t, out.String())
	assert.True(t, strings.Contains(errOut.String(), "opened db"))

	quiet := &OutputFormatter{Writer: &out}
	quiet.VerboseLog("hidden")
	assert.Empty(t, out.String())
}
