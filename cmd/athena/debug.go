package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/athenaclew/athena/internal/pipeline"
)

var (
	debugStack      string
	debugSkipDejaVu bool
	debugFeedback   string
)

var debugCmd = &cobra.Command{
	Use:   "debug <error text>",
	Short: "Analyze an error against your debugging history",
	Long: `Run an error through the pipeline: recognize near-duplicate past errors,
classify, retrieve similar fixes, and rank learned principles.

Examples:
  # Analyze an error and answer the prompts
  athena debug "TypeError: Cannot read property 'x' of undefined"

  # Include a stack trace and record feedback non-interactively
  athena debug --stack "$(cat stack.txt)" --feedback helpful "connection timeout"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDebug,
}

func init() {
	debugCmd.Flags().StringVar(&debugStack, "stack", "", "stack trace to include in the analysis")
	debugCmd.Flags().BoolVar(&debugSkipDejaVu, "skip-dejavu", false, "bypass similar-error detection")
	debugCmd.Flags().StringVar(&debugFeedback, "feedback", "", "record feedback without prompting: helpful, unhelpful, or skip")
}

func runDebug(cmd *cobra.Command, args []string) error {
	switch debugFeedback {
	case "", "helpful", "unhelpful", "skip":
	default:
		return fmt.Errorf("invalid --feedback value %q (want helpful, unhelpful, or skip)", debugFeedback)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.currentSession(cmd)
	if err != nil {
		return err
	}
	project, err := a.sessions.CurrentProject(cmd.Context(), sess.ID)
	if err != nil {
		return err
	}

	errorText := strings.Join(args, " ")
	proposal, err := a.orch.Submit(cmd.Context(), sess.ID, project.ID, errorText, debugStack,
		pipeline.SubmitOptions{SkipDejaVu: debugSkipDejaVu})
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)

	if proposal.ShortCircuited() {
		match := proposal.DejaVu
		fmt.Printf("Seen before (%.0f%% similar) in this project:\n", match.Similarity*100)
		fmt.Printf("  Error: %s\n", match.Fix.Error.Message)
		fmt.Printf("  Fix:   %s\n\n", match.Fix.Solution.Text)

		if ask(reader, "Apply this past fix? [y/N] ") {
			proposal, err = a.orch.UsePastFix(cmd.Context())
		} else {
			proposal, err = a.orch.ContinueAnalysis(cmd.Context())
		}
		if err != nil {
			return err
		}
	}

	printProposal(proposal)
	return collectFeedback(cmd, a, reader)
}

func printProposal(p *pipeline.Proposal) {
	if p.Analysis != nil {
		fmt.Printf("Classification: %s (confidence %.0f%%)\n", p.Classification, p.Analysis.Confidence*100)
		if p.Analysis.RootCause != "" {
			fmt.Printf("Root cause:     %s\n", p.Analysis.RootCause)
		}
	} else {
		fmt.Printf("Classification: %s\n", p.Classification)
	}

	if len(p.Solutions) == 0 {
		fmt.Println("\nNo matching history yet. Confirm your fix afterwards and athena will learn from it.")
		return
	}

	fmt.Println("\nSuggestions:")
	for i, sol := range p.Solutions {
		fmt.Printf("  %d. [%s, %.0f%%] %s\n", i+1, sol.Source, sol.Confidence*100, sol.Description)
		if sol.CodeSnippet != "" {
			fmt.Printf("     %s\n", sol.CodeSnippet)
		}
	}
}

func collectFeedback(cmd *cobra.Command, a *app, reader *bufio.Reader) error {
	helpful := false
	switch debugFeedback {
	case "skip":
		return nil
	case "helpful":
		helpful = true
	case "unhelpful":
	default:
		answer := prompt(reader, "\nDid this resolve your error? [y/n/skip] ")
		switch answer {
		case "y", "yes":
			helpful = true
		case "n", "no":
		default:
			return nil
		}
	}

	result, err := a.orch.RecordFeedback(cmd.Context(), helpful)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoProposal) {
			return nil
		}
		return fmt.Errorf("recording feedback: %w", err)
	}
	if result.PrincipleID != "" {
		fmt.Println("Learned a new principle from this fix.")
	}
	return nil
}

func prompt(reader *bufio.Reader, question string) string {
	fmt.Print(question)
	line, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(line))
}

func ask(reader *bufio.Reader, question string) bool {
	answer := prompt(reader, question)
	return answer == "y" || answer == "yes"
}
