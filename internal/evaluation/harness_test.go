package evaluation

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fyrsmithlabs/groundd/internal/conversation"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/events"
	"github.com/fyrsmithlabs/groundd/internal/llm"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// scriptedConverser answers from a question -> answer table. Questions
// missing from the table fail with a generation error.
type scriptedConverser struct {
	mu      sync.Mutex
	answers map[string]string
	turns   []conversation.Turn
	onTurn  func(n int)
}

func (c *scriptedConverser) Converse(_ context.Context, turn conversation.Turn) (*conversation.Result, error) {
	c.mu.Lock()
	c.turns = append(c.turns, turn)
	n := len(c.turns)
	c.mu.Unlock()
	if c.onTurn != nil {
		c.onTurn(n)
	}
	answer, ok := c.answers[turn.Text]
	if !ok {
		return nil, errkind.Errorf(errkind.Generation, "test", "model unavailable")
	}
	return &conversation.Result{
		Response: &repository.ChatMessage{
			Message:    answer + "\nReferences: [doc1]",
			References: []string{"doc1"},
		},
		Model: llm.GPT4o,
	}, nil
}

// bagEmbedder embeds texts as letter counts.
type bagEmbedder struct{ err error }

func (e bagEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 26)
		for _, r := range strings.ToLower(t) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			}
		}
		out[i] = v
	}
	return out, nil
}

func (e bagEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type fixture struct {
	store     *repository.MemoryStore
	converser *scriptedConverser
	recorder  *events.Recorder
	harness   *Harness
	run       *repository.TestRun
	questions []repository.TestQuestion
}

func newFixture(t *testing.T, questions ...repository.TestQuestion) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: repository.NewMemoryStore(),
		converser: &scriptedConverser{answers: map[string]string{
			"what is fever": "fever is a high body temperature",
			"how to treat a rash": "keep the skin clean and dry",
		}},
		recorder: &events.Recorder{},
	}
	project := &repository.Project{Title: "clinic"}
	require.NoError(t, f.store.CreateProject(ctx, project))
	suite := &repository.TestSuite{Name: "smoke", Temperature: 0, TopK: 5}
	require.NoError(t, f.store.CreateSuite(ctx, suite))
	for _, q := range questions {
		q.SuiteID = suite.ID
		require.NoError(t, f.store.AddQuestion(ctx, &q))
		f.questions = append(f.questions, q)
	}
	f.run = &repository.TestRun{
		SuiteID:    suite.ID,
		ProjectID:  project.ID,
		References: true,
		CreatedAt:  time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
	require.NoError(t, f.store.CreateRun(ctx, f.run))

	var err error
	f.harness, err = New(Config{}, Deps{
		Store:     f.store,
		Converser: f.converser,
		Embedder:  bagEmbedder{},
		Events:    f.recorder,
	})
	require.NoError(t, err)
	return f
}

func question(text, answer string) repository.TestQuestion {
	return repository.TestQuestion{Question: text, HumanAnswer: answer, Language: "en"}
}

func (f *fixture) results(t *testing.T) []repository.TestResult {
	t.Helper()
	results, err := f.store.ListResults(context.Background(), f.run.ID)
	require.NoError(t, err)
	return results
}

func (f *fixture) status(t *testing.T) repository.RunStatus {
	t.Helper()
	run, err := f.store.GetRun(context.Background(), f.run.ID)
	require.NoError(t, err)
	return run.Status
}

func TestRun_Completed(t *testing.T) {
	f := newFixture(t,
		question("what is fever", "fever is a high body temperature"),
		question("how to treat a rash", "wash the rash and keep it dry"),
	)

	status, err := f.harness.Run(context.Background(), f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunCompleted, status)
	assert.Equal(t, repository.RunCompleted, f.status(t))

	results := f.results(t)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.BLEUScore, 0.0)
		assert.LessOrEqual(t, r.BLEUScore, 1.0)
		assert.GreaterOrEqual(t, r.CosineSim, -1.0)
		assert.LessOrEqual(t, r.CosineSim, 1.0)
		assert.Equal(t, []string{"doc1"}, r.References)
		assert.Equal(t, string(llm.GPT4o), r.Model)
		assert.NotContains(t, r.Answer, "References:")
	}
	assert.Equal(t, 1.0, results[0].BLEUScore)
	assert.Equal(t, 1.0, results[0].CosineSim)

	assert.Equal(t, []events.Type{events.Started, events.Result, events.Result, events.Completed}, f.recorder.Types())
}

func TestRun_ReplaysWithSuiteSettings(t *testing.T) {
	q := question("what is fever", "high temperature")
	q.Language = "hi"
	q.DocumentIDs = []string{"doc9"}
	f := newFixture(t, q)
	f.run = &repository.TestRun{SuiteID: f.run.SuiteID, ProjectID: f.run.ProjectID, References: false, Model: string(llm.GPT4o)}
	require.NoError(t, f.store.CreateRun(context.Background(), f.run))

	_, err := f.harness.Run(context.Background(), f.run.ID)
	require.NoError(t, err)

	require.Len(t, f.converser.turns, 1)
	turn := f.converser.turns[0]
	assert.Equal(t, "hi", turn.Language)
	assert.Equal(t, 5, turn.TopK)
	require.NotNil(t, turn.Temperature)
	assert.Zero(t, *turn.Temperature)
	assert.Equal(t, []string{"doc9"}, turn.DocumentIDs)
	assert.True(t, turn.SkipReferences)
	assert.True(t, turn.AllowPlatformKey)
	assert.Equal(t, string(llm.GPT4o), turn.Model)
	assert.Empty(t, turn.Nonce)

	chat, err := f.store.GetChat(context.Background(), turn.ChatID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(chat.Title, "Test Run: "))
}

func TestRun_ChatTitle(t *testing.T) {
	f := newFixture(t, question("what is fever", "x"))
	_, err := f.harness.Run(context.Background(), f.run.ID)
	require.NoError(t, err)

	chat, err := f.store.GetChat(context.Background(), f.converser.turns[0].ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Test Run: 2026-03-04 05:06:07", chat.Title)
	assert.Equal(t, f.run.ProjectID, chat.ProjectID)
}

func TestRun_FailedQuestionScoresZero(t *testing.T) {
	f := newFixture(t,
		question("unknown question", "anything"),
		question("what is fever", "fever is a high body temperature"),
	)

	status, err := f.harness.Run(context.Background(), f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunCompleted, status)

	results := f.results(t)
	require.Len(t, results, 2)
	assert.Zero(t, results[0].BLEUScore)
	assert.Zero(t, results[0].CosineSim)
	assert.Empty(t, results[0].Answer)
	assert.Contains(t, results[0].Error, "model unavailable")
	assert.Equal(t, 1.0, results[1].BLEUScore)
}

func TestRun_EmbeddingFailureScoresZero(t *testing.T) {
	f := newFixture(t, question("what is fever", "fever is a high body temperature"))
	f.harness.embedder = bagEmbedder{err: errors.New("embeddings down")}

	status, err := f.harness.Run(context.Background(), f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunCompleted, status)

	results := f.results(t)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].BLEUScore)
	assert.Zero(t, results[0].CosineSim)
	assert.Equal(t, "fever is a high body temperature", results[0].Answer)
}

func TestRun_CanceledInStore(t *testing.T) {
	f := newFixture(t,
		question("what is fever", "a"),
		question("how to treat a rash", "b"),
		question("what is fever", "c"),
	)
	f.converser.onTurn = func(n int) {
		if n == 1 {
			require.NoError(t, f.store.TransitionRun(context.Background(), f.run.ID, repository.RunCanceled, ""))
		}
	}

	status, err := f.harness.Run(context.Background(), f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunCanceled, status)
	assert.Len(t, f.results(t), 1)
	assert.Len(t, f.converser.turns, 1)
	assert.Equal(t, events.Canceled, f.recorder.Types()[len(f.recorder.Types())-1])
}

func TestRun_ContextCanceled(t *testing.T) {
	f := newFixture(t, question("what is fever", "a"), question("how to treat a rash", "b"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.converser.onTurn = func(int) { cancel() }

	status, err := f.harness.Run(ctx, f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunCanceled, status)
	assert.Equal(t, repository.RunCanceled, f.status(t))
	assert.Len(t, f.results(t), 1)
}

func TestRun_DeadlineFails(t *testing.T) {
	f := newFixture(t, question("what is fever", "a"), question("how to treat a rash", "b"))
	f.harness.cfg.QuestionDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	status, err := f.harness.Run(ctx, f.run.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, repository.RunFailed, status)
	assert.Equal(t, repository.RunFailed, f.status(t))
}

func TestRun_NotRunning(t *testing.T) {
	f := newFixture(t, question("what is fever", "a"))
	require.NoError(t, f.store.TransitionRun(context.Background(), f.run.ID, repository.RunCompleted, ""))

	status, err := f.harness.Run(context.Background(), f.run.ID)
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, repository.RunCompleted, status)
	assert.Empty(t, f.converser.turns)
}

func TestRun_MissingSuiteFails(t *testing.T) {
	f := newFixture(t)
	run := &repository.TestRun{SuiteID: "nope", ProjectID: f.run.ProjectID}
	require.NoError(t, f.store.CreateRun(context.Background(), run))

	status, err := f.harness.Run(context.Background(), run.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, repository.RunFailed, status)
}

func TestWatchdog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.harness.now = func() time.Time { return f.run.CreatedAt.Add(time.Hour) }
	n, err := f.harness.NewWatchdog().Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.harness.now = func() time.Time { return f.run.CreatedAt.Add(DefaultStaleAfter + time.Second) }
	n, err = f.harness.NewWatchdog().Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	run, err := f.store.GetRun(ctx, f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunFailed, run.Status)
	assert.Equal(t, ErrStale.Error(), run.Error)
}

func TestImportQuestions(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	suite := &repository.TestSuite{Name: "import"}
	require.NoError(t, store.CreateSuite(ctx, suite))

	wb := excelize.NewFile()
	defer wb.Close()
	rows := [][]any{
		{"Language", "Question", "Human_Answer"},
		{"hi", "bukhar kya hai", "tez taapmaan"},
		{"", "what is a rash", "irritated skin"},
		{"en", "", "orphan answer"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, wb.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	_, err := wb.WriteTo(&buf)
	require.NoError(t, err)

	n, err := ImportQuestions(ctx, store, suite.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	questions, err := store.ListQuestions(ctx, suite.ID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "hi", questions[0].Language)
	assert.Equal(t, "tez taapmaan", questions[0].HumanAnswer)
	assert.Equal(t, "en", questions[1].Language)
}

func TestImportQuestions_MissingColumn(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	suite := &repository.TestSuite{Name: "import"}
	require.NoError(t, store.CreateSuite(ctx, suite))

	wb := excelize.NewFile()
	defer wb.Close()
	require.NoError(t, wb.SetCellValue("Sheet1", "A1", "question"))
	var buf bytes.Buffer
	_, err := wb.WriteTo(&buf)
	require.NoError(t, err)

	_, err = ImportQuestions(ctx, store, suite.ID, &buf)
	require.ErrorIs(t, err, ErrMissingColumn)
}
