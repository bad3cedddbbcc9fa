package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sceneforge/internal/pipeline"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

var renderCmd = &cobra.Command{
	Use:   "render [topic]",
	Short: "Generate and render one animation from the command line",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		topic := strings.TrimSpace(strings.Join(args, " "))
		if topic == "" {
			if !isTTY() {
				return fmt.Errorf("topic is required when not running interactively")
			}
			prompt := promptui.Prompt{
				Label: "Topic",
				Validate: func(input string) error {
					if strings.TrimSpace(input) == "" {
						return fmt.Errorf("topic must not be empty")
					}
					return nil
				},
			}
			topic, err = prompt.Run()
			if err != nil {
				return err
			}
			topic = strings.TrimSpace(topic)
		}

		comps, err := buildComponents(cfg, logger)
		if err != nil {
			return err
		}

		req := comps.defaults
		req.Topic = topic
		if v, _ := cmd.Flags().GetInt("max-retries"); cmd.Flags().Changed("max-retries") {
			req.MaxRetries = v
		}
		if v, _ := cmd.Flags().GetString("quality"); v != "" {
			req.Quality = v
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		runID := "cli-" + uuid.New().String()[:8]
		fmt.Printf("%s %s\n", bold("Rendering:"), topic)

		start := time.Now()
		result, err := comps.orchestrator.Run(ctx, runID, req, cliReporter{})
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println(yellow("cancelled"))
				return nil
			}
			return err
		}

		fmt.Println()
		switch result.Status {
		case pipeline.StatusSuccess:
			fmt.Printf("%s %s %s\n", green("✔"), bold(result.ArtifactPath),
				gray(fmt.Sprintf("(%d attempt(s), %s)", len(result.Attempts), time.Since(start).Round(time.Second))))
			return nil
		case pipeline.StatusExhausted:
			fmt.Printf("%s retry budget exhausted after %d attempt(s)\n", red("✘"), len(result.Attempts))
		case pipeline.StatusFatalError:
			fmt.Printf("%s generation failed\n", red("✘"))
		}
		if result.Diagnostic != "" {
			fmt.Println(gray(firstLines(result.Diagnostic, 10)))
		}
		return fmt.Errorf("render did not succeed")
	},
}

func init() {
	renderCmd.Flags().Int("max-retries", 0, "fix attempts after the first failure")
	renderCmd.Flags().String("quality", "", "render quality profile (low, medium, high, fourk)")
}

type cliReporter struct{}

func (cliReporter) Progress(message string) {
	fmt.Printf("%s %s\n", gray("›"), message)
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}
