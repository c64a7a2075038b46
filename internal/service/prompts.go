package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PromptLibrary holds the operator-tunable prompt text the chat
// orchestrator falls back to when a robot doesn't carry its own. Loaded
// once at startup from a YAML file; the zero value serves built-in
// defaults.
type PromptLibrary struct {
	DefaultSystemPrompt  string `yaml:"default_system_prompt"`
	KnowledgeInstruction string `yaml:"knowledge_instruction"`
	UpstreamApology      string `yaml:"upstream_apology"`
}

const (
	builtinSystemPrompt = "You are a helpful assistant. Answer based on the provided knowledge when it is relevant."
	builtinApology      = "抱歉，我现在无法回答。请稍后再试。(The model service is temporarily unavailable, please retry shortly.)"
)

// LoadPromptLibrary reads the prompt file at path. An empty path
// returns the built-in defaults; a missing field falls back per-field.
func LoadPromptLibrary(path string) (*PromptLibrary, error) {
	lib := &PromptLibrary{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("service.LoadPromptLibrary: %w", err)
		}
		if err := yaml.Unmarshal(data, lib); err != nil {
			return nil, fmt.Errorf("service.LoadPromptLibrary: parse %s: %w", path, err)
		}
	}
	if lib.DefaultSystemPrompt == "" {
		lib.DefaultSystemPrompt = builtinSystemPrompt
	}
	if lib.KnowledgeInstruction == "" {
		lib.KnowledgeInstruction = knowledgeInstruction
	}
	if lib.UpstreamApology == "" {
		lib.UpstreamApology = builtinApology
	}
	return lib, nil
}

// SystemPromptFor prefers the robot's own prompt.
func (l *PromptLibrary) SystemPromptFor(robotPrompt string) string {
	if robotPrompt != "" {
		return robotPrompt
	}
	return l.DefaultSystemPrompt
}
