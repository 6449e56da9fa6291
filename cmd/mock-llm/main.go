// Package main implements a fake AI coding CLI for tests. It is invoked the
// way icl invokes a real tool, flags first and the prompt as the last
// argument, and prints fixture replies in sequence. This keeps subprocess
// tests of the cli binding fast, deterministic and offline.
//
// Usage:
//
//	MOCK_LLM_FIXTURES=/path/to/fixtures mock-llm -m gemini-2.5-pro --approval-mode yolo "prompt"
//	mock-llm serve -fixtures /path/to/fixtures -port 11434
//
// Fixture files are named by model ("gemini-2.5-pro.md" answers -m
// gemini-2.5-pro); "default.md" answers any other model. Numbered files
// ("default.1.md", "default.2.md") are served in order, after which the base
// file repeats.
//
// CLI mode reads its behavior from the environment:
//
//	MOCK_LLM_FIXTURES    fixture directory (required)
//	MOCK_LLM_STATE       directory of call counters (default: <fixtures>/.state)
//	MOCK_LLM_RATE_LIMIT  fail the first N calls with a rate-limit error
//	MOCK_LLM_SLEEP       delay every reply (Go duration)
//	MOCK_LLM_FAIL        fail every call with this stderr text
//	MOCK_LLM_CAPTURE     append each prompt to this file
//
// The serve subcommand answers OpenAI-compatible chat completions from the
// same fixtures, for the http binding.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		if err := serve(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "mock-llm: %v\n", err)
			os.Exit(exitFailed)
		}
		return
	}
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}
