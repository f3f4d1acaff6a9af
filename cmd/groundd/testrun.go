package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/groundd/internal/evaluation"
	"github.com/fyrsmithlabs/groundd/internal/llm"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

var testrunFlags struct {
	suite       string
	project     string
	name        string
	temperature float64
	topK        int
	references  bool
	model       string
}

var testrunCmd = &cobra.Command{
	Use:   "testrun",
	Short: "Manage test suites and run them",
	Long: `Test suites hold gold questions with human answers. A run replays every
question against a project and scores each answer by cosine similarity and
BLEU against the human answer.`,
}

var suiteCreateCmd = &cobra.Command{
	Use:   "suite",
	Short: "Create a test suite",
	Long: `Create a test suite with the sampling settings its questions run with.

Examples:
  groundd testrun suite --name "Triage gold set" --temperature 0.2 --top-k 4`,
	Args: cobra.NoArgs,
	RunE: runSuiteCreate,
}

var importCmd = &cobra.Command{
	Use:   "import <questions.xlsx>",
	Short: "Import questions from a spreadsheet",
	Long: `Add the rows of the first sheet to a suite. The header row names the
columns question, human_answer and optionally language.

Examples:
  groundd testrun import questions.xlsx --suite 9a1b`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a suite against a project and print the scores",
	Long: `Run every question of a suite against a project in this process and
print the per-question scores. Ctrl+C cancels the run.

Examples:
  groundd testrun run --suite 9a1b --project 3f2c
  groundd testrun run --suite 9a1b --project 3f2c --references --model gpt-4o`,
	Args: cobra.NoArgs,
	RunE: runTestRun,
}

func init() {
	suiteCreateCmd.Flags().StringVar(&testrunFlags.name, "name", "", "suite name (required)")
	suiteCreateCmd.Flags().Float64Var(&testrunFlags.temperature, "temperature", 0, "sampling temperature")
	suiteCreateCmd.Flags().IntVar(&testrunFlags.topK, "top-k", 0, "passages retrieved per question (0 uses the default)")
	_ = suiteCreateCmd.MarkFlagRequired("name")

	importCmd.Flags().StringVarP(&testrunFlags.suite, "suite", "s", "", "suite id (required)")
	_ = importCmd.MarkFlagRequired("suite")

	runCmd.Flags().StringVarP(&testrunFlags.suite, "suite", "s", "", "suite id (required)")
	runCmd.Flags().StringVarP(&testrunFlags.project, "project", "p", "", "project id (required)")
	runCmd.Flags().BoolVar(&testrunFlags.references, "references", false, "answer with retrieved references")
	runCmd.Flags().StringVar(&testrunFlags.model, "model", "", "chat model (default: the project's)")
	_ = runCmd.MarkFlagRequired("suite")
	_ = runCmd.MarkFlagRequired("project")

	testrunCmd.AddCommand(suiteCreateCmd)
	testrunCmd.AddCommand(importCmd)
	testrunCmd.AddCommand(runCmd)
}

func runSuiteCreate(cmd *cobra.Command, _ []string) error {
	if testrunFlags.temperature < 0 || testrunFlags.temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	if testrunFlags.topK < 0 {
		return errors.New("top-k must not be negative")
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	suite := &repository.TestSuite{
		Name:        testrunFlags.name,
		Temperature: testrunFlags.temperature,
		TopK:        testrunFlags.topK,
	}
	if err := a.store.CreateSuite(ctx, suite); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created suite %s (%s)\n", suite.ID, suite.Name)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	n, err := evaluation.ImportQuestions(ctx, a.store, testrunFlags.suite, f)
	if n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d question(s) into suite %s\n", n, testrunFlags.suite)
	}
	return err
}

func runTestRun(cmd *cobra.Command, _ []string) error {
	if testrunFlags.model != "" {
		if _, err := llm.ParseModel(testrunFlags.model); err != nil {
			return err
		}
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(cmd.Context()) }()

	if _, err := a.store.GetSuite(ctx, testrunFlags.suite); err != nil {
		return err
	}
	if _, err := a.store.GetProject(ctx, testrunFlags.project); err != nil {
		return err
	}
	run := &repository.TestRun{
		SuiteID:    testrunFlags.suite,
		ProjectID:  testrunFlags.project,
		Status:     repository.RunRunning,
		References: testrunFlags.references,
		Model:      testrunFlags.model,
	}
	if err := a.store.CreateRun(ctx, run); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Started run %s\n", run.ID)

	status, runErr := a.harness.Run(ctx, run.ID)
	results, err := a.store.ListResults(cmd.Context(), run.ID)
	if err != nil {
		return err
	}
	printResults(cmd.OutOrStdout(), status, results)
	return runErr
}

func printResults(out io.Writer, status repository.RunStatus, results []repository.TestResult) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCOSINE\tBLEU\tQUESTION")
	var cosine, bleu float64
	scored := 0
	for i, r := range results {
		if r.Error != "" {
			fmt.Fprintf(tw, "%d\t-\t-\t%s (%s)\n", i+1, truncate(r.Question, 60), r.Error)
			continue
		}
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%s\n", i+1, r.CosineSim, r.BLEUScore, truncate(r.Question, 60))
		cosine += r.CosineSim
		bleu += r.BLEUScore
		scored++
	}
	_ = tw.Flush()

	fmt.Fprintf(out, "\nStatus: %s, %d result(s)", status, len(results))
	if scored > 0 {
		fmt.Fprintf(out, ", mean cosine %.4f, mean BLEU %.4f", cosine/float64(scored), bleu/float64(scored))
	}
	fmt.Fprintln(out)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
