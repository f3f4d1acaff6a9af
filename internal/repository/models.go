package repository

import "time"

// DocumentType is how a document's content was supplied.
type DocumentType string

const (
	DocumentFile DocumentType = "file"
	DocumentURL  DocumentType = "url"
	DocumentText DocumentType = "text"
)

// DocumentStatus tracks a document through ingestion.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentUploading DocumentStatus = "uploading"
	DocumentReady     DocumentStatus = "ready"
	DocumentFailed    DocumentStatus = "failed"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// RunStatus is the state of a test run. RUNNING is the only non-terminal state.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunCanceled  RunStatus = "CANCELED"
	RunFailed    RunStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunCanceled || s == RunFailed
}

// Project owns documents, chats and the prompt used to answer in them.
type Project struct {
	ID        string    `json:"id" bson:"_id"`
	Title     string    `json:"title" bson:"title"`
	Prompt    string    `json:"prompt,omitempty" bson:"prompt,omitempty"`
	Model     string    `json:"model,omitempty" bson:"model,omitempty"`
	STTEngine string    `json:"stt_engine,omitempty" bson:"stt_engine,omitempty"`
	TTSEngine string    `json:"tts_engine,omitempty" bson:"tts_engine,omitempty"`
	APIKey    string    `json:"-" bson:"api_key,omitempty"`
	Archived  bool      `json:"archived" bson:"archived"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Document is a unit of source content indexed into a project partition.
type Document struct {
	ID        string         `json:"id" bson:"_id"`
	ProjectID string         `json:"project_id" bson:"project_id"`
	Title     string         `json:"title" bson:"title"`
	Type      DocumentType   `json:"type" bson:"type"`
	Text      string         `json:"text,omitempty" bson:"text,omitempty"`
	URL       string         `json:"url,omitempty" bson:"url,omitempty"`
	Path      string         `json:"path,omitempty" bson:"path,omitempty"`
	MIMEType  string         `json:"mime_type,omitempty" bson:"mime_type,omitempty"`
	Status    DocumentStatus `json:"status" bson:"status"`
	Error     string         `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" bson:"updated_at"`
}

// Chat is a conversation session inside a project.
type Chat struct {
	ID        string    `json:"id" bson:"_id"`
	ProjectID string    `json:"project_id" bson:"project_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Title     string    `json:"title" bson:"title"`
	Archived  bool      `json:"archived" bson:"archived"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Stats holds per-stage timestamps for one turn. Zero values mean the
// stage was skipped.
type Stats struct {
	Start                    time.Time `json:"start,omitzero" bson:"start,omitempty"`
	TranscriptStart          time.Time `json:"transcript_start,omitzero" bson:"transcript_start,omitempty"`
	TranscriptEnd            time.Time `json:"transcript_end,omitzero" bson:"transcript_end,omitempty"`
	RequestTranslationStart  time.Time `json:"request_translation_start,omitzero" bson:"request_translation_start,omitempty"`
	RequestTranslationEnd    time.Time `json:"request_translation_end,omitzero" bson:"request_translation_end,omitempty"`
	ReferenceStart           time.Time `json:"reference_start,omitzero" bson:"reference_start,omitempty"`
	ReferenceEnd             time.Time `json:"reference_end,omitzero" bson:"reference_end,omitempty"`
	CompletionStart          time.Time `json:"completion_start,omitzero" bson:"completion_start,omitempty"`
	CompletionEnd            time.Time `json:"completion_end,omitzero" bson:"completion_end,omitempty"`
	ResponseTranslationStart time.Time `json:"response_translation_start,omitzero" bson:"response_translation_start,omitempty"`
	ResponseTranslationEnd   time.Time `json:"response_translation_end,omitzero" bson:"response_translation_end,omitempty"`
	TTSStart                 time.Time `json:"tts_start,omitzero" bson:"tts_start,omitempty"`
	TTSEnd                   time.Time `json:"tts_end,omitzero" bson:"tts_end,omitempty"`
	End                      time.Time `json:"end,omitzero" bson:"end,omitempty"`
}

// ChatMessage is one side of a turn. Messages are never updated once stored.
type ChatMessage struct {
	ID              string    `json:"id" bson:"_id"`
	ChatID          string    `json:"chat_id" bson:"chat_id"`
	Role            Role      `json:"role" bson:"role"`
	Message         string    `json:"message" bson:"message"`
	OriginalMessage string    `json:"original_message,omitempty" bson:"original_message,omitempty"`
	Language        string    `json:"language" bson:"language"`
	References      []string  `json:"references,omitempty" bson:"references,omitempty"`
	Audio           []byte    `json:"-" bson:"audio,omitempty"`
	Model           string    `json:"model,omitempty" bson:"model,omitempty"`
	Temperature     float64   `json:"temperature" bson:"temperature"`
	TopK            int       `json:"top_k" bson:"top_k"`
	Nonce           string    `json:"nonce,omitempty" bson:"nonce,omitempty"`
	Stats           Stats     `json:"stats" bson:"stats"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
}

// HasAudio reports whether synthesized audio was stored with the message.
func (m *ChatMessage) HasAudio() bool { return len(m.Audio) > 0 }

// ChatFeedback is a user's reaction to an assistant message.
type ChatFeedback struct {
	ID        string    `json:"id" bson:"_id"`
	MessageID string    `json:"message_id" bson:"message_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Liked     bool      `json:"liked" bson:"liked"`
	Message   string    `json:"message,omitempty" bson:"message,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// TestSuite is a fixed set of gold questions and sampling parameters.
type TestSuite struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Temperature float64   `json:"temperature" bson:"temperature"`
	TopK        int       `json:"top_k" bson:"top_k"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// TestQuestion is one gold question of a suite.
type TestQuestion struct {
	ID          string    `json:"id" bson:"_id"`
	SuiteID     string    `json:"suite_id" bson:"suite_id"`
	Question    string    `json:"question" bson:"question"`
	HumanAnswer string    `json:"human_answer" bson:"human_answer"`
	Language    string    `json:"language" bson:"language"`
	DocumentIDs []string  `json:"document_ids,omitempty" bson:"document_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// TestRun is one execution of a suite against a project.
type TestRun struct {
	ID         string    `json:"id" bson:"_id"`
	SuiteID    string    `json:"suite_id" bson:"suite_id"`
	ProjectID  string    `json:"project_id" bson:"project_id"`
	Status     RunStatus `json:"status" bson:"status"`
	References bool      `json:"references" bson:"references"`
	Model      string    `json:"model,omitempty" bson:"model,omitempty"`
	Error      string    `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at"`
}

// TestResult is the scored outcome of one question in a run.
type TestResult struct {
	ID          string    `json:"id" bson:"_id"`
	RunID       string    `json:"run_id" bson:"run_id"`
	QuestionID  string    `json:"question_id" bson:"question_id"`
	Question    string    `json:"question" bson:"question"`
	HumanAnswer string    `json:"human_answer" bson:"human_answer"`
	Answer      string    `json:"answer" bson:"answer"`
	CosineSim   float64   `json:"cosine_sim" bson:"cosine_sim"`
	BLEUScore   float64   `json:"bleu_score" bson:"bleu_score"`
	References  []string  `json:"references,omitempty" bson:"references,omitempty"`
	Model       string    `json:"model,omitempty" bson:"model,omitempty"`
	Error       string    `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// Feedback is a reviewer's rating of a test result.
type Feedback struct {
	ID        string    `json:"id" bson:"_id"`
	ResultID  string    `json:"result_id" bson:"result_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Rating    int       `json:"rating" bson:"rating"`
	Notes     string    `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
