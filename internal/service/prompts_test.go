package service

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPromptLibrary_DefaultsWhenNoPath(t *testing.T) {
	lib, err := LoadPromptLibrary("")
	if err != nil {
		t.Fatalf("LoadPromptLibrary: %v", err)
	}
	if lib.DefaultSystemPrompt == "" || lib.UpstreamApology == "" || lib.KnowledgeInstruction == "" {
		t.Errorf("built-in defaults missing: %+v", lib)
	}
}

func TestLoadPromptLibrary_FileOverridesAndFallsBackPerField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	err := os.WriteFile(path, []byte("default_system_prompt: \"You are Ragbox.\"\n"), 0o644)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	lib, err := LoadPromptLibrary(path)
	if err != nil {
		t.Fatalf("LoadPromptLibrary: %v", err)
	}
	if lib.DefaultSystemPrompt != "You are Ragbox." {
		t.Errorf("system prompt = %q", lib.DefaultSystemPrompt)
	}
	if lib.UpstreamApology == "" {
		t.Error("missing field should fall back to built-in")
	}
}

func TestLoadPromptLibrary_MissingFileErrors(t *testing.T) {
	if _, err := LoadPromptLibrary("/nonexistent/prompts.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSystemPromptFor_PrefersRobotPrompt(t *testing.T) {
	lib, _ := LoadPromptLibrary("")
	if got := lib.SystemPromptFor("robot says"); got != "robot says" {
		t.Errorf("got %q", got)
	}
	if got := lib.SystemPromptFor(""); got != lib.DefaultSystemPrompt {
		t.Errorf("got %q, want library default", got)
	}
}
