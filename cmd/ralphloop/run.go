package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/ralphloop/backend"
	"github.com/martinemde/ralphloop/config"
	"github.com/martinemde/ralphloop/loop"
)

// Exit codes reported to the calling process.
const (
	exitSuccess       = 0
	exitFailed        = 1
	exitCancelled     = 2
	exitTimeout       = 3
	exitMaxIterations = 4
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run an AI development loop",
	Long: `Run an AI development loop with a prompt.

The loop iterates until it reaches the maximum iterations or times out.
The promise phrase is detected and reported but never ends the loop early.

Examples:
  # Direct prompt
  ralphloop run "Add unit tests for the parser module"

  # Using a Markdown file as prompt
  ralphloop run task_description.md

  # With options
  ralphloop run --max-iterations 5 --timeout 10m "Refactor authentication"

  # From stdin
  echo "Fix linting errors" | ralphloop run

  # Dry run
  ralphloop run --dry-run "Update documentation"

  # Override promise phrase
  ralphloop run --promise "Task complete!" "Fix bug"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLoop,
}

var (
	runMaxIterations int
	runTimeout       time.Duration
	runPromise       string
	runModel         string
	runProvider      string
	runWorkingDir    string
	runAllowedDirs   []string
	runStreaming     bool
	runDryRun        bool
	runFailOnMax     bool
	runLogLevel      string
	runConfigPath    string
)

func init() {
	runCmd.Flags().IntVarP(&runMaxIterations, "max-iterations", "m", 10, "maximum loop iterations")
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 30*time.Minute, "maximum loop runtime")
	runCmd.Flags().StringVar(&runPromise, "promise", "I'm done!", "completion promise phrase")
	runCmd.Flags().StringVar(&runModel, "model", "gpt-4", "AI model to use")
	runCmd.Flags().StringVar(&runProvider, "provider", "openai", "backend provider: openai, anthropic, ollama")
	runCmd.Flags().StringVar(&runWorkingDir, "working-dir", ".", "working directory for loop execution")
	runCmd.Flags().StringArrayVar(&runAllowedDirs, "allowed-dir", nil, "directory tools may touch (repeatable, defaults to working dir)")
	runCmd.Flags().BoolVar(&runStreaming, "streaming", true, "enable streaming responses")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "show what would be executed without running")
	runCmd.Flags().BoolVar(&runFailOnMax, "fail-on-max-iterations", false, "treat iteration exhaustion as failure")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to config file (default: discover "+config.FileName+")")
}

// runLoop executes the AI development loop.
func runLoop(cmd *cobra.Command, args []string) error {
	prompt, err := resolvePrompt(args)
	if err != nil {
		return err
	}
	if prompt == "" {
		return errors.New("prompt is required (provide as argument or via stdin)")
	}

	cfg := buildLoopConfig(prompt)

	if err := applyConfigFile(cfg); err != nil {
		return err
	}

	if err := validateRunConfig(cfg); err != nil {
		return err
	}

	if cfg.DryRun {
		printDryRun(cfg)
		return nil
	}

	logger, err := newLogger(runLogLevel)
	if err != nil {
		return err
	}

	printLoopConfig(cfg)

	session, err := createSession(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create backend session: %w", err)
	}

	engine := loop.NewEngine(cfg, session)
	engine.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	startTime := time.Now()
	eventsDone := make(chan struct{})
	go func() {
		displayEvents(engine.Events())
		close(eventsDone)
	}()

	resultCh := make(chan *loop.Result, 1)
	go func() {
		result, _ := engine.Start(ctx)
		resultCh <- result
	}()

	var result *loop.Result
	select {
	case <-sigCh:
		fmt.Println(warningStyle.Render("\n⚠ Received interrupt signal, cancelling loop..."))
		signal.Stop(sigCh)
		cancel()

		// A second interrupt forces exit without waiting for cleanup.
		go func() {
			<-sigCh
			fmt.Println(errorStyle.Render("\n⚠ Second interrupt received, forcing exit..."))
			os.Exit(exitCancelled)
		}()
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		result = <-resultCh
	case result = <-resultCh:
		signal.Stop(sigCh)
	}

	select {
	case <-eventsDone:
	case <-time.After(1 * time.Second):
	}

	signal.Stop(sigCh)

	if result != nil {
		printSummary(result, startTime)
	}

	os.Exit(exitCodeFor(result))
	return nil
}

// exitCodeFor maps a terminal result onto the process exit code.
func exitCodeFor(result *loop.Result) int {
	if result == nil {
		return exitCancelled
	}

	switch result.State {
	case loop.StateComplete:
		return exitSuccess
	case loop.StateCancelled:
		return exitCancelled
	case loop.StateFailed:
		if result.Err != nil {
			if errors.Is(result.Err, context.DeadlineExceeded) || errors.Is(result.Err, loop.ErrTimeout) {
				return exitTimeout
			}
			if errors.Is(result.Err, loop.ErrMaxIterations) {
				return exitMaxIterations
			}
		}
		return exitFailed
	default:
		return exitFailed
	}
}

// resolvePrompt determines the prompt from the positional argument or stdin.
// A positional argument naming a Markdown file is read as the prompt.
func resolvePrompt(args []string) (string, error) {
	if len(args) == 0 {
		return readStdinPrompt()
	}

	prompt := args[0]
	info, err := os.Stat(prompt)
	if err != nil {
		return prompt, nil
	}

	if info.IsDir() {
		return "", fmt.Errorf("prompt path %s is a directory, must be a Markdown file", prompt)
	}

	ext := strings.ToLower(filepath.Ext(prompt))
	if ext != ".md" && ext != ".markdown" {
		return "", fmt.Errorf("file %s must be a Markdown file with extension .md or .markdown", prompt)
	}

	data, err := os.ReadFile(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %s: %w", prompt, err)
	}

	return string(data), nil
}

// readStdinPrompt reads the prompt from stdin when input is piped.
func readStdinPrompt() (string, error) {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// buildLoopConfig creates a loop Config from command-line flags.
func buildLoopConfig(prompt string) *loop.Config {
	return &loop.Config{
		Prompt:              prompt,
		MaxIterations:       runMaxIterations,
		Timeout:             runTimeout,
		PromisePhrase:       runPromise,
		Model:               runModel,
		WorkingDir:          runWorkingDir,
		DryRun:              runDryRun,
		FailOnMaxIterations: runFailOnMax,
	}
}

// applyConfigFile overlays file configuration onto flag-derived settings.
func applyConfigFile(cfg *loop.Config) error {
	var (
		file *config.File
		err  error
	)
	if runConfigPath != "" {
		file, err = config.Load(runConfigPath)
	} else {
		file, _, err = config.Discover(cfg.WorkingDir)
	}
	if err != nil {
		return err
	}
	if file == nil {
		return nil
	}

	file.Apply(cfg, *loop.DefaultConfig())

	if file.Provider != "" && runProvider == "openai" {
		runProvider = file.Provider
	}
	if file.LogLevel != "" && runLogLevel == "info" {
		runLogLevel = file.LogLevel
	}
	if file.Streaming != nil {
		runStreaming = *file.Streaming
	}
	if len(runAllowedDirs) == 0 {
		runAllowedDirs = file.AllowedDirs
	}
	return nil
}

// validateRunConfig validates the loop configuration.
func validateRunConfig(cfg *loop.Config) error {
	if cfg.Prompt == "" {
		return errors.New("prompt cannot be empty")
	}
	if cfg.MaxIterations <= 0 {
		return fmt.Errorf("max-iterations must be positive (got: %d)", cfg.MaxIterations)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got: %v)", cfg.Timeout)
	}
	return nil
}

// newLogger builds the slog logger used by the engine and session.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log-level: %q (must be debug, info, warn, or error)", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// createSession wires the transport and session from the loop configuration.
func createSession(cfg *loop.Config, logger *slog.Logger) (*backend.Session, error) {
	transport := backend.NewGollmTransport(runProvider)

	systemPrompt := loop.BuildSystemPrompt(cfg.Prompt, cfg.PromisePhrase)

	return backend.NewSession(transport,
		backend.WithModel(cfg.Model),
		backend.WithWorkingDir(cfg.WorkingDir),
		backend.WithAllowedDirs(runAllowedDirs),
		backend.WithSystemPrompt(systemPrompt),
		backend.WithStreaming(runStreaming),
		backend.WithLogger(logger),
	)
}

// printDryRun displays what would be executed without running.
func printDryRun(cfg *loop.Config) {
	fmt.Println(titleStyle.Render("🔍 Dry Run - Configuration Preview"))
	fmt.Println()
	fmt.Println(infoStyle.Render("  Prompt:            ") + cfg.Prompt)
	fmt.Println(infoStyle.Render("  Provider:          ") + runProvider)
	fmt.Println(infoStyle.Render("  Model:             ") + cfg.Model)
	fmt.Println(infoStyle.Render("  Max iterations:    ") + fmt.Sprintf("%d", cfg.MaxIterations))
	fmt.Println(infoStyle.Render("  Timeout:           ") + cfg.Timeout.String())
	fmt.Println(infoStyle.Render("  Promise phrase:    ") + cfg.PromisePhrase)
	fmt.Println(infoStyle.Render("  Working directory: ") + cfg.WorkingDir)
	fmt.Println()
}

// printLoopConfig displays the loop configuration before starting.
func printLoopConfig(cfg *loop.Config) {
	fmt.Println(titleStyle.Render("▶ Starting Loop"))
	fmt.Println(warningStyle.Render("Prompt:         ") + cfg.Prompt)
	fmt.Println(warningStyle.Render("Model:          ") + cfg.Model)
	fmt.Println(warningStyle.Render("Max iterations: ") + fmt.Sprintf("%d", cfg.MaxIterations))
	fmt.Println(warningStyle.Render("Timeout:        ") + cfg.Timeout.String())
	fmt.Println(warningStyle.Render("Working dir:    ") + cfg.WorkingDir)
}

// displayEvents listens for loop events and displays them to stdout.
func displayEvents(events <-chan loop.Event) {
	var streaming bool

	for event := range events {
		switch e := event.(type) {
		case loop.LoopStart:
			fmt.Println()
			fmt.Print(titleStyle.Render("▶ Loop started"))

		case loop.IterationStart:
			fmt.Println()
			fmt.Println(subTitleStyle.Render(fmt.Sprintf("━━━ Iteration %d/%d ━━━", e.Iteration, e.MaxIterations)))
			fmt.Println()

		case loop.AIResponse:
			// Print as we receive it for streaming effect.
			fmt.Print(e.Text)

		case loop.ToolStart:
			if streaming {
				fmt.Println()
			}
			fmt.Println(infoStyle.Render("🛠️ " + toolLine(e.ToolName, e.Parameters)))

		case loop.ToolResult:
			line := toolLine(e.ToolName, e.Parameters)
			if e.Err != nil {
				fmt.Printf("%s %s\n", errorStyle.Render("❌ "+line), errorStyle.Render(fmt.Sprintf("(%v)", e.Err)))
			} else {
				fmt.Println(successStyle.Render("✔️ " + line))
			}

		case loop.IterationComplete:
			if streaming {
				fmt.Println()
			}
			fmt.Println(infoStyle.Render(fmt.Sprintf("✓ Iteration %d complete", e.Iteration)))

		case loop.PromiseDetected:
			if streaming {
				fmt.Println()
			}
			fmt.Println(successStyle.Render(fmt.Sprintf("🎉 Promise detected: %q", e.Phrase)))

		case loop.Error:
			if streaming {
				fmt.Println()
			}
			fmt.Println(errorStyle.Render(fmt.Sprintf("✗ Error: %v", e.Err)))

		case loop.LoopComplete, loop.LoopFailed:
			// Handled by the summary.
			return

		case loop.LoopCancelled:
			if streaming {
				fmt.Println()
			}
			fmt.Println(warningStyle.Render("⚠ Loop cancelled"))
			return
		}

		_, streaming = event.(loop.AIResponse)
	}
}

// toolLine renders a tool name with its most useful parameter, when one of
// the common ones is present.
func toolLine(name string, params map[string]any) string {
	for _, key := range []string{"path", "file_path", "command"} {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return fmt.Sprintf("%s %s", name, s)
			}
		}
	}
	return name
}

// printSummary displays the final loop summary.
func printSummary(result *loop.Result, startTime time.Time) {
	duration := time.Since(startTime)

	fmt.Println()
	fmt.Println(titleStyle.Render("📊 Loop Summary"))

	var status string
	switch result.State {
	case loop.StateComplete:
		status = successStyle.Render("✓ Complete")
	case loop.StateFailed:
		status = errorStyle.Render("✗ Failed")
	case loop.StateCancelled:
		status = warningStyle.Render("⚠ Cancelled")
	default:
		status = result.State.String()
	}

	fmt.Println(infoStyle.Render("Status:     ") + status)
	fmt.Println(infoStyle.Render("Iterations: ") + fmt.Sprintf("%d", result.Iterations))
	fmt.Println(infoStyle.Render("Duration:   ") + duration.Round(time.Second).String())

	if result.Err != nil {
		fmt.Println(errorStyle.Render("Error:      ") + result.Err.Error())
	}

	fmt.Println()
}
