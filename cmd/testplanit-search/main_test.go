package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExecute_Version(t *testing.T) {
	err := Execute("1.0.0", "abc123", "testplanit-search", []string{"--version"})
	if err != nil {
		t.Errorf("Expected no error for --version, got: %v", err)
	}
}

func TestExecute_Help(t *testing.T) {
	err := Execute("1.0.0", "abc123", "testplanit-search", []string{"--help"})
	if err != nil {
		t.Errorf("Expected no error for --help, got: %v", err)
	}
}

func TestExecute_SubcommandHelp(t *testing.T) {
	for _, sub := range []string{"reindex", "import"} {
		t.Run(sub, func(t *testing.T) {
			err := Execute("1.0.0", "abc123", "testplanit-search", []string{sub, "--help"})
			if err != nil {
				t.Errorf("Expected no error for %s --help, got: %v", sub, err)
			}
		})
	}
}

func TestExecute_InvalidFlag(t *testing.T) {
	err := Execute("1.0.0", "abc123", "testplanit-search", []string{"--invalid-flag"})
	if err == nil {
		t.Error("Expected error for invalid flag")
	}
}

func TestExecute_InvalidTransport(t *testing.T) {
	err := Execute("1.0.0", "abc123", "testplanit-search", []string{"--transport", "invalid"})
	if err == nil {
		t.Fatal("Expected error for invalid transport")
	}
	if !strings.Contains(err.Error(), "transport") {
		t.Errorf("Expected error about transport, got: %v", err)
	}
}

func TestExecute_ReindexUnknownEntityType(t *testing.T) {
	dir := t.TempDir()
	err := Execute("1.0.0", "abc123", "testplanit-search", []string{
		"reindex",
		"--entity-type", "widgets",
		"--search-backend", "bleve",
		"--search-bleve-dir", filepath.Join(dir, "indexes"),
		"--store-path", filepath.Join(dir, "search.db"),
	})
	if err == nil {
		t.Fatal("Expected error for unknown entity type")
	}
	if !strings.Contains(err.Error(), "unknown entity kind") {
		t.Errorf("Expected unknown entity kind error, got: %v", err)
	}
}

func TestExecute_ImportThenReindex(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "entities.ndjson")
	records := `{"kind":"project","entity":{"id":1,"name":"Alpha"}}
{"kind":"session","entity":{"id":2,"name":"Explore login","projectId":1,"project":{"id":1,"name":"Alpha"}}}
`
	if err := os.WriteFile(input, []byte(records), 0o644); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}
	common := []string{
		"--search-backend", "bleve",
		"--search-bleve-dir", filepath.Join(dir, "indexes"),
		"--store-path", filepath.Join(dir, "search.db"),
	}

	if err := Execute("1.0.0", "abc123", "testplanit-search", append([]string{"import", input}, common...)); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if err := Execute("1.0.0", "abc123", "testplanit-search", append([]string{"reindex", "--project-id", "1"}, common...)); err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
}

func TestRunMain_Success(t *testing.T) {
	exitCode := -1
	mockExit := func(code int) {
		exitCode = code
	}

	// --help should succeed
	runMain([]string{"testplanit-search", "--help"}, mockExit)

	if exitCode != -1 {
		t.Errorf("Expected no exit call for --help, got exit code: %d", exitCode)
	}
}

func TestRunMain_Failure(t *testing.T) {
	exitCode := -1
	mockExit := func(code int) {
		exitCode = code
	}

	runMain([]string{"testplanit-search", "--invalid"}, mockExit)

	if exitCode != 1 {
		t.Errorf("Expected exit code 1 for invalid flag, got: %d", exitCode)
	}
}
