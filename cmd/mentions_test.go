package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-chat/config"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/processor"
)

func testDeps(out *bytes.Buffer) *Deps {
	return &Deps{
		LoadConfig: func() (*config.ServiceConfig, error) { return config.DefaultConfig(), nil },
		ConnectToDB: func(context.Context, *config.ServiceConfig) (*pgxpool.Pool, error) {
			return nil, errors.New("no database in tests")
		},
		Out: out,
	}
}

func runCommand(t *testing.T, deps *Deps, args ...string) error {
	t.Helper()
	cmd := NewMentionsCommand(deps)
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.Execute()
}

func TestMentionsCommand_Subcommands(t *testing.T) {
	cmd := NewMentionsCommand(DefaultDeps(""))

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"extract", "list", "process", "resync"}, names)
	assert.Contains(t, cmd.Aliases, "mention")
}

func TestMentionsExtract_JSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runCommand(t, testDeps(&out), "extract", "Hello @Helper, ask @OpsBot[id:c-42]", "-o", "json"))

	var got []mentions.Candidate
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Helper", got[0].Name)
	assert.False(t, got[0].HasExplicitID)
	assert.Equal(t, "OpsBot", got[1].Name)
	assert.Equal(t, "c-42", got[1].ExplicitID)
	assert.Equal(t, "@OpsBot[id:c-42]", got[1].RawSpan)
}

func TestMentionsExtract_Text(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runCommand(t, testDeps(&out), "extract", "ping", "@Helper", "-o", "text"))

	assert.Contains(t, out.String(), "SPAN")
	assert.Contains(t, out.String(), "@Helper")
	assert.Contains(t, out.String(), "5-12")
}

func TestMentionsExtract_NoMentions(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runCommand(t, testDeps(&out), "extract", "nobody here", "-o", "text"))
	assert.Equal(t, "No mentions found.\n", out.String())

	out.Reset()
	require.NoError(t, runCommand(t, testDeps(&out), "extract", "nobody here", "-o", "json"))
	assert.JSONEq(t, "[]", out.String())
}

func TestMentionsProcess_Args(t *testing.T) {
	var out bytes.Buffer

	err := runCommand(t, testDeps(&out), "process")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all is required")

	err = runCommand(t, testDeps(&out), "process", "c-1", "--all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")

	err = runCommand(t, testDeps(&out), "process", "c-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database in tests")
}

func TestMentionsList_InvalidStatus(t *testing.T) {
	var out bytes.Buffer

	err := runCommand(t, testDeps(&out), "list", "--status", "done")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid status "done"`)
}

func TestParseMentionStatus(t *testing.T) {
	for _, s := range []string{"pending", "RESPONDED", "errored"} {
		_, err := parseMentionStatus(s)
		assert.NoError(t, err, s)
	}
	_, err := parseMentionStatus("resolved")
	assert.Error(t, err)
}

func TestOutputMentionsText(t *testing.T) {
	errMsg := "responder timed out"
	reply := "m-reply"
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	list := []mentions.Mention{
		{ID: "a", EntityID: "c-1", Scope: mentions.ScopeGlobal, Responded: true, ResponseMessageID: &reply, CreatedAt: created},
		{ID: "b", EntityID: "c-2", Scope: mentions.ScopeWorkspace, Error: &errMsg, CreatedAt: created},
	}

	var out bytes.Buffer
	require.NoError(t, outputMentionsText(&out, list))

	text := out.String()
	assert.Contains(t, text, "reply m-reply")
	assert.Contains(t, text, "responder timed out")
	assert.Contains(t, text, "2026-10-01 09:00:00")
	assert.Contains(t, text, "errored")
}

func TestOutputSummaryText(t *testing.T) {
	var out bytes.Buffer
	outputSummaryText(&out, processor.Summary{EntityID: "c-1", Pending: 3, Responded: 2, Errored: 1, Duration: 1500 * time.Millisecond})

	assert.Contains(t, out.String(), "c-1: 3 pending")
	assert.Contains(t, out.String(), "1.5s")
}

func TestOutputSummaryText_Busy(t *testing.T) {
	var out bytes.Buffer
	outputSummaryText(&out, processor.Summary{EntityID: "c-1", Busy: true})

	assert.Contains(t, out.String(), "c-1")
	assert.Contains(t, out.String(), "another process is draining")
	assert.NotContains(t, out.String(), "pending")
}
