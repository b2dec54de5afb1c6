package main

import (
	"bytes"
	"strings"
	"testing"
)

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootHelp_ListsAllCommands(t *testing.T) {
	output, err := runRootCommandForTest("--help")
	if err != nil {
		t.Fatalf("help failed: %v\n%s", err, output)
	}

	for _, cmd := range []string{"onboard", "run", "chat", "personality", "purge", "models", "status", "version"} {
		if !strings.Contains(output, cmd) {
			t.Errorf("help output missing command %q", cmd)
		}
	}
}

func TestRoot_RequiresSubcommand(t *testing.T) {
	_, err := runRootCommandForTest()
	if err == nil {
		t.Fatal("bare invocation should return an error")
	}
	if !strings.Contains(err.Error(), "subcommand") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPersonality_RequiresArgs(t *testing.T) {
	_, err := runRootCommandForTest("personality")
	if err == nil {
		t.Fatal("personality without a description should error")
	}
}
