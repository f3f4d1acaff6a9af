package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/groundd/internal/llm"
	"github.com/fyrsmithlabs/groundd/internal/repository"
	"github.com/fyrsmithlabs/groundd/internal/speech"
)

var projectFlags struct {
	title     string
	prompt    string
	model     string
	sttEngine string
	ttsEngine string
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	Long: `Create a project that documents are ingested into and chats answer from.

The prompt replaces the default system instructions; "$context" in it marks
where retrieved passages go.

Examples:
  groundd project create --title "Clinic handbook"
  groundd project create --title "Triage" --model gemini-1.5-pro --tts openai`,
	Args: cobra.NoArgs,
	RunE: runProjectCreate,
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project and its documents",
	Long: `Print a project's settings, its documents with their ingestion status,
and how many chunks its collection holds.

Examples:
  groundd project show 3f2c`,
	Args: cobra.ExactArgs(1),
	RunE: runProjectShow,
}

func init() {
	f := projectCreateCmd.Flags()
	f.StringVar(&projectFlags.title, "title", "", "project title (required)")
	f.StringVar(&projectFlags.prompt, "prompt", "", "system prompt template")
	f.StringVar(&projectFlags.model, "model", "", "default chat model")
	f.StringVar(&projectFlags.sttEngine, "stt", "", "speech recognition engine")
	f.StringVar(&projectFlags.ttsEngine, "tts", "", "speech synthesis engine")
	_ = projectCreateCmd.MarkFlagRequired("title")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectShowCmd)
}

func runProjectCreate(cmd *cobra.Command, _ []string) error {
	if projectFlags.model != "" {
		if _, err := llm.ParseModel(projectFlags.model); err != nil {
			return err
		}
	}
	if _, err := speech.ParseSTTEngine(projectFlags.sttEngine); err != nil {
		return err
	}
	if _, err := speech.ParseTTSEngine(projectFlags.ttsEngine); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	p := &repository.Project{
		Title:     projectFlags.title,
		Prompt:    projectFlags.prompt,
		Model:     projectFlags.model,
		STTEngine: projectFlags.sttEngine,
		TTSEngine: projectFlags.ttsEngine,
	}
	if err := a.store.CreateProject(ctx, p); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s)\n", p.ID, p.Title)
	return nil
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	p, err := a.store.GetProject(ctx, args[0])
	if err != nil {
		return err
	}
	docs, err := a.store.ListDocuments(ctx, p.ID)
	if err != nil {
		return err
	}
	chunks, err := a.vectors.Count(ctx, p.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Project:   %s\n", p.ID)
	fmt.Fprintf(out, "Title:     %s\n", p.Title)
	if p.Model != "" {
		fmt.Fprintf(out, "Model:     %s\n", p.Model)
	}
	fmt.Fprintf(out, "Archived:  %t\n", p.Archived)
	fmt.Fprintf(out, "Chunks:    %d\n", chunks)
	fmt.Fprintf(out, "Documents: %d\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(out, "  %-36s  %-9s  %-4s  %s\n", d.ID, d.Status, d.Type, d.Title)
	}
	return nil
}
