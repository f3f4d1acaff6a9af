package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/embeddings"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/lang"
	"github.com/fyrsmithlabs/groundd/internal/llm"
	"github.com/fyrsmithlabs/groundd/internal/logging"
	"github.com/fyrsmithlabs/groundd/internal/reference"
	"github.com/fyrsmithlabs/groundd/internal/repository"
	"github.com/fyrsmithlabs/groundd/internal/speech"
	"github.com/fyrsmithlabs/groundd/internal/translate"
	"github.com/fyrsmithlabs/groundd/internal/vectorstore"
)

var tracer = otel.Tracer("groundd.conversation")

var (
	// ErrMissingCredential indicates no model credential could be resolved.
	ErrMissingCredential = errors.New("model credential required")

	// ErrEmptyUtterance indicates a turn with neither text nor audio.
	ErrEmptyUtterance = errors.New("text or audio required")

	// ErrNoSpeech indicates the audio held no recognizable speech.
	ErrNoSpeech = errors.New("no speech detected")

	// ErrArchived indicates the chat or project no longer accepts turns.
	ErrArchived = errors.New("archived")
)

// titleLength is the number of characters of the first utterance used as
// the chat title.
const titleLength = 50

// SpeechEngines resolves a project's configured speech engines.
type SpeechEngines interface {
	Recognizer(name string) (speech.Recognizer, error)
	Synthesizer(name string) (speech.Synthesizer, error)
}

// Config holds turn defaults.
type Config struct {
	PivotLanguage      string
	DefaultTopK        int
	DefaultTemperature float64
	StreamBuffer       int
	// PlatformKeys are the platform's model credentials per family, used
	// for callers allowed to rely on them.
	PlatformKeys map[llm.Family]string
}

// ConfigFrom builds a Config from the service configuration.
func ConfigFrom(conv config.ConversationConfig, llmCfg config.LLMConfig) Config {
	keys := make(map[llm.Family]string)
	openaiKey := conv.PlatformKey.Value()
	if openaiKey == "" {
		openaiKey = llmCfg.OpenAIAPIKey.Value()
	}
	if openaiKey != "" {
		keys[llm.FamilyOpenAI] = openaiKey
	}
	if k := llmCfg.GeminiAPIKey.Value(); k != "" {
		keys[llm.FamilyGemini] = k
	}
	return Config{
		PivotLanguage:      conv.PivotLanguage,
		DefaultTopK:        conv.DefaultTopK,
		DefaultTemperature: conv.DefaultTemperature,
		StreamBuffer:       conv.StreamBuffer,
		PlatformKeys:       keys,
	}
}

// Deps are the collaborators of an Orchestrator. Speech may be nil, in
// which case audio turns are rejected. Translator defaults to translate.Noop,
// which rejects every turn outside the pivot language. Nonces defaults to a
// repository-backed guard.
type Deps struct {
	Store      repository.Store
	Vectors    vectorstore.Store
	Embedder   embeddings.Embedder
	Generator  *llm.Generator
	Speech     SpeechEngines
	Translator translate.Translator
	Nonces     NonceGuard
	Logger     *logging.Logger
	Now        func() time.Time
}

// Orchestrator runs conversation turns.
type Orchestrator struct {
	cfg        Config
	store      repository.Store
	vectors    vectorstore.Store
	embedder   embeddings.Embedder
	generator  *llm.Generator
	speech     SpeechEngines
	translator translate.Translator
	nonces     NonceGuard
	logger     *logging.Logger
	now        func() time.Time
}

// New returns an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	const op = "conversation.New"
	switch {
	case deps.Store == nil:
		return nil, errkind.Errorf(errkind.Configuration, op, "store required")
	case deps.Vectors == nil:
		return nil, errkind.Errorf(errkind.Configuration, op, "vector store required")
	case deps.Embedder == nil:
		return nil, errkind.Errorf(errkind.Configuration, op, "embedder required")
	case deps.Generator == nil:
		return nil, errkind.Errorf(errkind.Configuration, op, "generator required")
	}

	if cfg.PivotLanguage == "" {
		cfg.PivotLanguage = "en"
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = vectorstore.DefaultLimit
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = llm.DefaultStreamBuffer
	}
	if deps.Translator == nil {
		deps.Translator = translate.Noop{}
	}
	if deps.Nonces == nil {
		deps.Nonces = NewRepositoryNonceGuard(deps.Store)
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Orchestrator{
		cfg:        cfg,
		store:      deps.Store,
		vectors:    deps.Vectors,
		embedder:   deps.Embedder,
		generator:  deps.Generator,
		speech:     deps.Speech,
		translator: deps.Translator,
		nonces:     deps.Nonces,
		logger:     deps.Logger.Named("conversation"),
		now:        deps.Now,
	}, nil
}

// NewChat describes a chat to create.
type NewChat struct {
	ProjectID        string
	UserID           string
	Title            string
	APIKey           string
	AllowPlatformKey bool
}

// CreateChat opens a chat in a project. The project must be active and a
// model credential must be resolvable for the caller.
func (o *Orchestrator) CreateChat(ctx context.Context, req NewChat) (*repository.Chat, error) {
	const op = "conversation.CreateChat"
	project, err := o.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Archived {
		return nil, errkind.E(errkind.Validation, op, fmt.Errorf("project %s: %w", project.ID, ErrArchived))
	}
	model, err := llm.ParseModel(project.Model)
	if err != nil {
		return nil, err
	}
	if _, err := o.credential(project, model, req.APIKey, req.AllowPlatformKey); err != nil {
		return nil, err
	}

	chat := &repository.Chat{
		ProjectID: project.ID,
		UserID:    req.UserID,
		Title:     req.Title,
		CreatedAt: o.now(),
	}
	if err := o.store.CreateChat(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// credential resolves the model key: the caller's own key, then the
// project's key, then the platform key when the caller may use it.
func (o *Orchestrator) credential(project *repository.Project, model llm.Model, callerKey string, allowPlatform bool) (string, error) {
	switch {
	case callerKey != "":
		return callerKey, nil
	case project.APIKey != "":
		return project.APIKey, nil
	case allowPlatform && o.cfg.PlatformKeys[model.Info().Family] != "":
		return o.cfg.PlatformKeys[model.Info().Family], nil
	}
	return "", errkind.E(errkind.Configuration, "conversation.credential",
		fmt.Errorf("%w for %s", ErrMissingCredential, model.Info().Family))
}

// turnState carries one turn through the pipeline.
type turnState struct {
	turn        Turn
	chat        *repository.Chat
	project     *repository.Project
	model       llm.Model
	chain       *llm.Chain
	apiKey      string
	language    string
	topK        int
	temperature float64
	recognizer  speech.Recognizer
	attachments []llm.Attachment

	history   []repository.ChatMessage
	utterance string
	pivot     string
	blob      reference.Blob
	stats     repository.Stats
	reserved  bool
}

func (st *turnState) input() llm.Input {
	return llm.Input{
		Question:    st.pivot,
		Reference:   st.blob.String(),
		History:     chatHistory(st.history),
		Attachments: st.attachments,
		APIKey:      st.apiKey,
	}
}

// Converse answers turn and returns once the turn is persisted.
func (o *Orchestrator) Converse(ctx context.Context, turn Turn) (*Result, error) {
	ctx, span := tracer.Start(ctx, "conversation.Converse",
		trace.WithAttributes(attribute.String("chat.id", turn.ChatID)))
	defer span.End()

	res, err := o.converse(ctx, turn)
	countTurn("batch", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (o *Orchestrator) converse(ctx context.Context, turn Turn) (*Result, error) {
	st, err := o.prepare(ctx, turn)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithChatID(logging.WithProjectID(ctx, st.project.ID), st.chat.ID)

	st.stats.CompletionStart = o.now()
	answer, err := st.chain.Generate(ctx, st.input())
	st.stats.CompletionEnd = o.now()
	observeStage(StageGenerating, st.stats.CompletionStart, st.stats.CompletionEnd)
	if err != nil {
		return nil, o.abort(ctx, st, classify(err, errkind.Generation, "conversation.generate"), StageGenerating)
	}
	return o.finish(ctx, st, answer)
}

// ConverseStream validates and prepares turn, then streams the answer. Any
// failure before generation is returned directly and nothing is streamed.
// The channel carries deltas followed by exactly one Done or Error event.
func (o *Orchestrator) ConverseStream(ctx context.Context, turn Turn) (<-chan StreamEvent, error) {
	st, err := o.prepare(ctx, turn)
	if err != nil {
		countTurn("stream", err)
		return nil, err
	}
	ctx = logging.WithChatID(logging.WithProjectID(ctx, st.project.ID), st.chat.ID)

	out := make(chan StreamEvent, o.cfg.StreamBuffer)
	go func() {
		defer close(out)
		ctx, span := tracer.Start(ctx, "conversation.ConverseStream",
			trace.WithAttributes(attribute.String("chat.id", st.chat.ID)))
		defer span.End()

		res, err := o.stream(ctx, st, out)
		countTurn("stream", err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			terminal(ctx, out, StreamEvent{Type: EventError, Err: err})
			return
		}
		terminal(ctx, out, StreamEvent{Type: EventDone, Result: res})
	}()
	return out, nil
}

func (o *Orchestrator) stream(ctx context.Context, st *turnState, out chan<- StreamEvent) (*Result, error) {
	st.stats.CompletionStart = o.now()
	var (
		answer string
		done   bool
		genErr error
	)
	for ev := range st.chain.Stream(ctx, st.input()) {
		switch ev.Type {
		case llm.EventDelta:
			select {
			case out <- StreamEvent{Type: EventDelta, Delta: ev.Text}:
			case <-ctx.Done():
			}
		case llm.EventDone:
			answer, done = ev.Text, true
		case llm.EventError:
			genErr = ev.Err
		}
	}
	st.stats.CompletionEnd = o.now()
	observeStage(StageGenerating, st.stats.CompletionStart, st.stats.CompletionEnd)

	if !done && genErr == nil {
		genErr = ctx.Err()
		if genErr == nil {
			genErr = errors.New("stream ended without a result")
		}
	}
	if genErr != nil {
		return nil, o.abort(ctx, st, classify(genErr, errkind.Generation, "conversation.stream"), StageGenerating)
	}
	return o.finish(ctx, st, answer)
}

// terminal delivers the final event. When ctx is canceled it is delivered
// only if the buffer has room.
func terminal(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
		select {
		case out <- ev:
		default:
		}
	}
}

// prepare runs every stage before generation.
func (o *Orchestrator) prepare(ctx context.Context, turn Turn) (*turnState, error) {
	st := &turnState{turn: turn}
	st.stats.Start = o.now()

	if err := o.validate(ctx, st); err != nil {
		return nil, errkind.WithStage(err, string(StageReceived))
	}
	if turn.Nonce != "" {
		if err := o.nonces.Reserve(ctx, turn.Nonce); err != nil {
			return nil, errkind.WithStage(err, string(StageReceived))
		}
		st.reserved = true
	}

	history, err := o.store.ListMessages(ctx, st.chat.ID)
	if err != nil {
		return nil, o.abort(ctx, st, err, StageReceived)
	}
	st.history = history

	if err := o.understand(ctx, st); err != nil {
		return nil, err
	}
	if err := o.retrieve(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// validate resolves everything a turn needs before any external call.
func (o *Orchestrator) validate(ctx context.Context, st *turnState) error {
	const op = "conversation.validate"
	turn := st.turn
	if turn.Text == "" && len(turn.Audio) == 0 {
		return errkind.E(errkind.Validation, op, ErrEmptyUtterance)
	}

	chat, err := o.store.GetChat(ctx, turn.ChatID)
	if err != nil {
		return err
	}
	if chat.Archived {
		return errkind.E(errkind.Validation, op, fmt.Errorf("chat %s: %w", chat.ID, ErrArchived))
	}
	project, err := o.store.GetProject(ctx, chat.ProjectID)
	if err != nil {
		return err
	}
	if project.Archived {
		return errkind.E(errkind.Validation, op, fmt.Errorf("project %s: %w", project.ID, ErrArchived))
	}
	st.chat, st.project = chat, project

	modelName := project.Model
	if turn.Model != "" {
		modelName = turn.Model
	}
	if st.model, err = llm.ParseModel(modelName); err != nil {
		return err
	}
	if st.apiKey, err = o.credential(project, st.model, turn.APIKey, turn.AllowPlatformKey); err != nil {
		return err
	}

	st.language = turn.Language
	if st.language == "" {
		st.language = o.cfg.PivotLanguage
	}
	st.topK = turn.TopK
	if st.topK <= 0 {
		st.topK = o.cfg.DefaultTopK
	}
	st.temperature = o.cfg.DefaultTemperature
	if turn.Temperature != nil {
		st.temperature = *turn.Temperature
	}

	st.chain, err = llm.NewChain(llm.ChainConfig{
		SystemTemplate: project.Prompt,
		Model:          st.model,
		Temperature:    st.temperature,
		StreamBuffer:   o.cfg.StreamBuffer,
	}, o.generator)
	if err != nil {
		return err
	}

	if len(turn.Audio) > 0 {
		if o.speech == nil {
			return errkind.E(errkind.Configuration, op, speech.ErrEngineNotConfigured)
		}
		if st.recognizer, err = o.speech.Recognizer(project.STTEngine); err != nil {
			return err
		}
	}

	st.attachments, err = o.attachments(ctx, project.ID, turn)
	return err
}

// attachments resolves the documents attached to a turn.
func (o *Orchestrator) attachments(ctx context.Context, projectID string, turn Turn) ([]llm.Attachment, error) {
	const op = "conversation.attachments"
	out := append([]llm.Attachment(nil), turn.Attachments...)
	for _, id := range turn.DocumentIDs {
		doc, err := o.store.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.ProjectID != projectID {
			return nil, errkind.Errorf(errkind.Validation, op, "document %s belongs to another project", id)
		}
		switch {
		case doc.URL != "":
			out = append(out, llm.Attachment{MIMEType: doc.MIMEType, URL: doc.URL})
		case doc.Path != "":
			data, err := os.ReadFile(doc.Path)
			if err != nil {
				return nil, errkind.E(errkind.Validation, op, fmt.Errorf("reading document %s: %w", id, err))
			}
			out = append(out, llm.Attachment{MIMEType: doc.MIMEType, Data: data})
		}
	}
	return out, nil
}

// understand produces the utterance in the user's language and in the
// pivot language.
func (o *Orchestrator) understand(ctx context.Context, st *turnState) error {
	st.utterance = st.turn.Text

	if st.recognizer != nil {
		st.stats.TranscriptStart = o.now()
		text, err := st.recognizer.Recognize(ctx, st.turn.Audio, st.language)
		st.stats.TranscriptEnd = o.now()
		observeStage(StageTranscribed, st.stats.TranscriptStart, st.stats.TranscriptEnd)
		if err != nil {
			return o.abort(ctx, st, classify(err, errkind.Transcription, "conversation.transcribe"), StageTranscribed)
		}
		if text == "" {
			return o.abort(ctx, st, errkind.E(errkind.Validation, "conversation.transcribe", ErrNoSpeech), StageTranscribed)
		}
		st.utterance = text
	}

	st.pivot = st.utterance
	if !lang.Same(st.language, o.cfg.PivotLanguage) {
		st.stats.RequestTranslationStart = o.now()
		text, err := o.translator.Translate(ctx, st.utterance, o.cfg.PivotLanguage)
		st.stats.RequestTranslationEnd = o.now()
		observeStage(StageTranslatedToPivot, st.stats.RequestTranslationStart, st.stats.RequestTranslationEnd)
		if err != nil {
			return o.abort(ctx, st, classify(err, errkind.Translation, "conversation.translate"), StageTranslatedToPivot)
		}
		st.pivot = text
	}
	return nil
}

// retrieve embeds the pivot utterance and collects references from the
// project partition.
func (o *Orchestrator) retrieve(ctx context.Context, st *turnState) error {
	if st.turn.SkipReferences {
		return nil
	}
	st.stats.ReferenceStart = o.now()
	defer func() {
		st.stats.ReferenceEnd = o.now()
		observeStage(StageRetrieved, st.stats.ReferenceStart, st.stats.ReferenceEnd)
	}()

	vec, err := o.embedder.EmbedQuery(ctx, st.pivot)
	if err != nil {
		return o.abort(ctx, st, classify(err, errkind.Retrieval, "conversation.embed"), StageEmbedded)
	}
	matches, err := o.vectors.Search(ctx, vec, st.project.ID, st.topK)
	if err != nil {
		return o.abort(ctx, st, classify(err, errkind.Retrieval, "conversation.search"), StageRetrieved)
	}
	st.blob = reference.Sanitize(matches)
	o.logger.Debug(ctx, "references retrieved",
		zap.Int("matches", len(matches)),
		zap.Int("documents", st.blob.Len()))
	return nil
}

// finish parses citations, produces audio when requested and persists the
// turn.
func (o *Orchestrator) finish(ctx context.Context, st *turnState, answer string) (*Result, error) {
	cited := st.blob.Cited(reference.ParseCitations(answer))

	var (
		translated string
		audio      []byte
	)
	if st.turn.GenerateAudio {
		spoken := reference.StripCitations(answer)
		if !lang.Same(st.language, o.cfg.PivotLanguage) {
			st.stats.ResponseTranslationStart = o.now()
			text, err := o.translator.Translate(ctx, spoken, st.language)
			st.stats.ResponseTranslationEnd = o.now()
			observeStage(StageTranslatedBack, st.stats.ResponseTranslationStart, st.stats.ResponseTranslationEnd)
			if err != nil {
				return nil, o.abort(ctx, st, classify(err, errkind.Translation, "conversation.translateBack"), StageTranslatedBack)
			}
			translated, spoken = text, text
		}
		audio = o.synthesize(ctx, st, spoken)
	}

	now := o.now()
	st.stats.End = now
	request := &repository.ChatMessage{
		ChatID:      st.chat.ID,
		Role:        repository.RoleUser,
		Message:     st.pivot,
		Language:    st.language,
		Model:       string(st.model),
		Temperature: st.temperature,
		TopK:        st.topK,
		Nonce:       st.turn.Nonce,
		Stats:       st.stats,
		CreatedAt:   st.stats.Start,
	}
	if st.utterance != st.pivot {
		request.OriginalMessage = st.utterance
	}
	response := &repository.ChatMessage{
		ChatID:          st.chat.ID,
		Role:            repository.RoleAssistant,
		Message:         answer,
		OriginalMessage: translated,
		Language:        st.language,
		References:      cited,
		Audio:           audio,
		Model:           string(st.model),
		Temperature:     st.temperature,
		TopK:            st.topK,
		Stats:           st.stats,
		CreatedAt:       now,
	}

	var title string
	if len(st.history) == 0 {
		title = truncateRunes(st.utterance, titleLength)
	}
	if err := o.store.SaveTurn(ctx, []*repository.ChatMessage{request, response}, title); err != nil {
		return nil, o.abort(ctx, st, classify(err, errkind.Persistence, "conversation.persist"), StagePersisted)
	}
	st.reserved = false
	if title != "" && st.chat.Title == "" {
		st.chat.Title = title
	}

	o.logger.Info(ctx, "turn completed",
		zap.String("model", string(st.model)),
		zap.Int("references", st.blob.Len()),
		zap.Int("cited", len(cited)),
		zap.Bool("audio", len(audio) > 0),
		zap.Duration("elapsed", now.Sub(st.stats.Start)))

	return &Result{Chat: st.chat, Request: request, Response: response, Reference: st.blob, Model: st.model}, nil
}

// synthesize produces speech for text. Audio is best-effort: failures are
// logged and yield no audio.
func (o *Orchestrator) synthesize(ctx context.Context, st *turnState, text string) []byte {
	if o.speech == nil {
		o.logger.Warn(ctx, "audio requested without speech engines")
		return nil
	}
	syn, err := o.speech.Synthesizer(st.project.TTSEngine)
	if err != nil {
		o.logger.Warn(ctx, "speech synthesis unavailable", zap.Error(err))
		return nil
	}
	st.stats.TTSStart = o.now()
	audio, err := syn.Synthesize(ctx, speech.StripMarkdown(text), st.language)
	st.stats.TTSEnd = o.now()
	observeStage(StageSynthesized, st.stats.TTSStart, st.stats.TTSEnd)
	if err != nil {
		o.logger.Warn(ctx, "speech synthesis failed", zap.Error(err))
		return nil
	}
	return audio
}

// abort releases the turn's nonce reservation and tags err with stage.
func (o *Orchestrator) abort(ctx context.Context, st *turnState, err error, stage Stage) error {
	if st.reserved {
		if rerr := o.nonces.Release(context.WithoutCancel(ctx), st.turn.Nonce); rerr != nil {
			o.logger.Warn(ctx, "releasing nonce failed", zap.Error(rerr))
		}
		st.reserved = false
	}
	err = errkind.WithStage(err, string(stage))
	o.logger.Warn(ctx, "turn failed",
		zap.String("stage", string(stage)),
		zap.String("kind", string(errkind.KindOf(err))),
		zap.Error(err))
	return err
}

// classify gives unclassified errors kind.
func classify(err error, kind errkind.Kind, op string) error {
	if errkind.KindOf(err) != errkind.Unknown {
		return err
	}
	return errkind.E(kind, op, err)
}

// chatHistory maps stored messages to chain history. System messages are
// not part of the conversation.
func chatHistory(msgs []repository.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case repository.RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Message})
		case repository.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Message})
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
