package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/groundd/internal/ingestion"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

func findCmd(t *testing.T, path ...string) *cobra.Command {
	t.Helper()
	cmd, rest, err := rootCmd.Find(path)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, path[len(path)-1], cmd.Name())
	return cmd
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"worker"},
		{"ingest"},
		{"project", "create"},
		{"project", "show"},
		{"testrun", "suite"},
		{"testrun", "import"},
		{"testrun", "run"},
	} {
		cmd := findCmd(t, path...)
		assert.NotEmpty(t, cmd.Short, strings.Join(path, " "))
		if cmd.RunE != nil {
			assert.NotEmpty(t, cmd.Long, strings.Join(path, " "))
		}
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestRequiredFlags(t *testing.T) {
	tests := []struct {
		path []string
		flag string
	}{
		{[]string{"ingest"}, "project"},
		{[]string{"project", "create"}, "title"},
		{[]string{"testrun", "suite"}, "name"},
		{[]string{"testrun", "import"}, "suite"},
		{[]string{"testrun", "run"}, "suite"},
		{[]string{"testrun", "run"}, "project"},
	}
	for _, tt := range tests {
		f := findCmd(t, tt.path...).Flags().Lookup(tt.flag)
		require.NotNil(t, f, tt.flag)
		assert.Equal(t, []string{"true"}, f.Annotations[cobra.BashCompOneRequiredFlag], tt.flag)
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, repository.RunCompleted, []repository.TestResult{
		{Question: "What lowers a fever?", CosineSim: 0.9, BLEUScore: 0.5},
		{Question: "Is rest advised?", CosineSim: 0.7, BLEUScore: 0.3},
		{Question: "Dosage?", Error: "generation failed"},
	})
	out := buf.String()
	assert.Contains(t, out, "0.9000")
	assert.Contains(t, out, "generation failed")
	assert.Contains(t, out, "Status: COMPLETED, 3 result(s), mean cosine 0.8000, mean BLEU 0.4000")
}

func TestPrintResults_NoneScored(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, repository.RunCanceled, nil)
	assert.Contains(t, buf.String(), "Status: CANCELED, 0 result(s)\n")
	assert.NotContains(t, buf.String(), "mean")
}

func TestPrintFilesResult(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	printFilesResult(cmd, &ingestion.FilesResult{
		Root: "./docs",
		Ingested: []repository.Document{
			{ID: "d1", Status: repository.DocumentReady, Path: "/docs/guide.txt"},
		},
		Failed: map[string]error{
			"/docs/b.pdf": errors.New("no text"),
			"/docs/a.pdf": errors.New("encrypted"),
		},
		Duration: 1500 * time.Millisecond,
	})
	out := buf.String()
	assert.Contains(t, out, "/docs/guide.txt")
	assert.Less(t, strings.Index(out, "a.pdf"), strings.Index(out, "b.pdf"))
	assert.Contains(t, out, "Ingested 1 file(s) from ./docs in 1.5s, 2 failed")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "héll…", truncate("héllo wörld", 5))
}
