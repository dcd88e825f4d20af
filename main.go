package main

import (
	"fmt"
	"os"
	"regexp"

	"github.com/dotsetlabs/whogitit/internal/audit"
	"github.com/dotsetlabs/whogitit/internal/capture"
	"github.com/dotsetlabs/whogitit/internal/config"
	"github.com/dotsetlabs/whogitit/internal/diagnostics"
	"github.com/dotsetlabs/whogitit/internal/git"
	"github.com/dotsetlabs/whogitit/internal/historyrewrite"
	"github.com/dotsetlabs/whogitit/internal/index"
	"github.com/dotsetlabs/whogitit/internal/project"
	"github.com/dotsetlabs/whogitit/internal/redact"
	"github.com/dotsetlabs/whogitit/internal/store"
)

var version = "dev"

// main dispatches the event streams this module reads: tool-use hook
// events on stdin, which drive the Capture Engine; history-rewrite events
// on stdin, which drive note copying; and commit-finalize, which has no
// stdin payload because it is meant to run from a native git post-commit
// hook (the hook shim that wires any of these up is itself external —
// this binary only needs to give it something to call).
// There is no other CLI surface here — Query Services are library
// functions for an external command layer to call, not something this
// binary exposes interactively.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: whogitit hook <prompt-submit|pre-tool-use|post-tool-use>")
		fmt.Fprintln(os.Stderr, "       whogitit history-rewrite")
		fmt.Fprintln(os.Stderr, "       whogitit commit-finalize")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "hook":
		runHook(os.Args[2:])
	case "history-rewrite":
		runHistoryRewrite()
	case "commit-finalize":
		runCommitFinalize()
	case "--version":
		fmt.Println("whogitit", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(2)
	}
}

func runHook(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: whogitit hook <prompt-submit|pre-tool-use|post-tool-use>")
		os.Exit(2)
	}

	root, err := project.FindRoot()
	if err != nil {
		// Environment error: hooks swallow and log, never block the host
		// AI agent's tool call.
		os.Exit(0)
	}
	paths := project.NewPaths(root)
	engine := capture.NewEngine(paths)

	switch args[0] {
	case "prompt-submit":
		err = engine.HandlePromptSubmit(os.Stdin)
	case "pre-tool-use":
		err = engine.HandlePreToolUse(os.Stdin)
	case "post-tool-use":
		err = engine.HandlePostToolUse(os.Stdin)
	default:
		fmt.Fprintf(os.Stderr, "Unknown hook type: %s\n", args[0])
		os.Exit(2)
	}

	if err != nil {
		diagnostics.New(paths.DiagLog).Log("hook", "unhandled error", map[string]any{"error": err.Error(), "args": args})
	}
	// Always exit 0: a hook must never surface a non-zero exit to the
	// host AI agent.
}

func runHistoryRewrite() {
	root, err := project.FindRoot()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	s := store.New(root)
	results, err := historyrewrite.Process(os.Stdin, s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
			fmt.Fprintln(os.Stderr, r.Error)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// runCommitFinalize drives the Attribution Store write for the commit at
// HEAD. It is meant to be invoked by a git post-commit hook,
// which is why it reads no stdin: unlike the Claude-side tool hooks, a
// post-commit hook runs with the new commit already made and nothing on
// stdin, so the commit SHA comes from the repo itself.
func runCommitFinalize() {
	root, err := project.FindRoot()
	if err != nil {
		// Environment error: hooks swallow and log, never block.
		os.Exit(0)
	}
	paths := project.NewPaths(root)
	diag := diagnostics.New(paths.DiagLog)

	sha, err := git.RevParseHEAD(root)
	if err != nil {
		diag.Log("commit-finalize", "rev-parse HEAD failed", map[string]any{"error": err.Error()})
		os.Exit(0)
	}

	cfg, err := config.Load(root, false)
	if err != nil {
		diag.Log("commit-finalize", "config load failed, using defaults", map[string]any{"error": err.Error()})
		cfg = config.Defaults()
	}

	var auditLog *audit.Logger
	if cfg.Privacy.AuditLog {
		auditLog, err = audit.Open(paths.AuditLog)
		if err != nil {
			diag.Log("commit-finalize", "audit log open failed", map[string]any{"error": err.Error()})
			auditLog = nil
		} else {
			defer auditLog.Close()
		}
	}

	engine := capture.NewEngine(paths)
	redactor := buildRedactor(cfg, diag)
	st := store.New(root)

	cache, err := index.Open(paths.CacheDB)
	if err != nil {
		diag.Log("commit-finalize", "cache open failed", map[string]any{"error": err.Error()})
		cache = nil
	} else {
		defer cache.Close()
	}

	if err := engine.Finalize(sha, cfg, redactor, st, auditLog, cache); err != nil {
		diag.Log("commit-finalize", "finalize failed", map[string]any{"commit": sha, "error": err.Error()})
	}
	// Always exit 0: a git hook failing finalization must not block the
	// commit that already happened.
}

// buildRedactor compiles the [privacy] section's custom patterns into the
// Redaction Engine's form, dropping (and logging) any pattern whose regex
// fails to compile rather than aborting finalization over one bad rule.
func buildRedactor(cfg config.Config, diag *diagnostics.Logger) *redact.Engine {
	custom := make([]redact.CustomPattern, 0, len(cfg.Privacy.CustomPatterns))
	for _, p := range cfg.Privacy.CustomPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			diag.Log("commit-finalize", "invalid custom redaction pattern", map[string]any{"name": p.Name, "error": err.Error()})
			continue
		}
		custom = append(custom, redact.CustomPattern{Name: p.Name, Pattern: re})
	}
	return redact.NewEngine(cfg.Privacy.DisabledPatterns, custom, cfg.Privacy.UseBuiltinPatterns)
}
