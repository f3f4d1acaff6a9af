package repository

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu sync.RWMutex

	projects  map[string]Project
	documents map[string]Document
	chats     map[string]Chat
	messages  map[string]ChatMessage
	chatLog   map[string][]string // chat id -> message ids in insertion order
	reserved  map[string]struct{}
	usedNonce map[string]string // nonce -> message id
	feedback  map[string]ChatFeedback

	suites      map[string]TestSuite
	questions   map[string][]TestQuestion // suite id -> questions
	runs        map[string]TestRun
	results     map[string][]TestResult // run id -> results
	runFeedback map[string]Feedback

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:    make(map[string]Project),
		documents:   make(map[string]Document),
		chats:       make(map[string]Chat),
		messages:    make(map[string]ChatMessage),
		chatLog:     make(map[string][]string),
		reserved:    make(map[string]struct{}),
		usedNonce:   make(map[string]string),
		feedback:    make(map[string]ChatFeedback),
		suites:      make(map[string]TestSuite),
		questions:   make(map[string][]TestQuestion),
		runs:        make(map[string]TestRun),
		results:     make(map[string][]TestResult),
		runFeedback: make(map[string]Feedback),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateProject(_ context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newID(&p.ID)
	stamp(&p.CreatedAt, s.now())
	s.projects[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, notFound("repository.GetProject", "project", id)
	}
	return &p, nil
}

func (s *MemoryStore) CreateDocument(_ context.Context, d *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newID(&d.ID)
	now := s.now()
	stamp(&d.CreatedAt, now)
	stamp(&d.UpdatedAt, now)
	if d.Status == "" {
		d.Status = DocumentPending
	}
	s.documents[d.ID] = *d
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return nil, notFound("repository.GetDocument", "document", id)
	}
	return &d, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, projectID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, d := range s.documents {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	sortByCreated(out, func(d Document) (time.Time, string) { return d.CreatedAt, d.ID })
	return out, nil
}

func (s *MemoryStore) SetDocumentStatus(_ context.Context, id string, status DocumentStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return notFound("repository.SetDocumentStatus", "document", id)
	}
	d.Status = status
	d.Error = errMsg
	d.UpdatedAt = s.now()
	s.documents[id] = d
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return notFound("repository.DeleteDocument", "document", id)
	}
	delete(s.documents, id)
	return nil
}

func (s *MemoryStore) ListStaleDocuments(_ context.Context, cutoff time.Time) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, d := range s.documents {
		if d.Status == DocumentUploading && d.UpdatedAt.Before(cutoff) {
			out = append(out, d)
		}
	}
	sortByCreated(out, func(d Document) (time.Time, string) { return d.CreatedAt, d.ID })
	return out, nil
}

func (s *MemoryStore) CreateChat(_ context.Context, c *Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newID(&c.ID)
	stamp(&c.CreatedAt, s.now())
	s.chats[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetChat(_ context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, notFound("repository.GetChat", "chat", id)
	}
	return &c, nil
}

func (s *MemoryStore) ListChats(_ context.Context, projectID, userID string) ([]Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Chat
	for _, c := range s.chats {
		if c.ProjectID == projectID && (userID == "" || c.UserID == userID) && !c.Archived {
			out = append(out, c)
		}
	}
	sortByCreated(out, func(c Chat) (time.Time, string) { return c.CreatedAt, c.ID })
	return out, nil
}

func (s *MemoryStore) ReserveNonce(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reserved[nonce]; ok {
		return duplicateNonce("repository.ReserveNonce", nonce)
	}
	if _, ok := s.usedNonce[nonce]; ok {
		return duplicateNonce("repository.ReserveNonce", nonce)
	}
	s.reserved[nonce] = struct{}{}
	return nil
}

func (s *MemoryStore) ReleaseNonce(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, nonce)
	return nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked("repository.InsertMessage", []*ChatMessage{m})
}

func (s *MemoryStore) insertLocked(op string, msgs []*ChatMessage) error {
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, ok := s.chats[m.ChatID]; !ok {
			return notFound(op, "chat", m.ChatID)
		}
		if m.Nonce == "" {
			continue
		}
		_, used := s.usedNonce[m.Nonce]
		_, dup := seen[m.Nonce]
		if used || dup {
			return duplicateNonce(op, m.Nonce)
		}
		seen[m.Nonce] = struct{}{}
	}

	now := s.now()
	for _, m := range msgs {
		newID(&m.ID)
		stamp(&m.CreatedAt, now)
		s.messages[m.ID] = *m
		s.chatLog[m.ChatID] = append(s.chatLog[m.ChatID], m.ID)
		if m.Nonce != "" {
			s.usedNonce[m.Nonce] = m.ID
			delete(s.reserved, m.Nonce)
		}
	}
	return nil
}

func (s *MemoryStore) SaveTurn(_ context.Context, msgs []*ChatMessage, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(msgs) == 0 {
		return nil
	}
	if err := s.insertLocked("repository.SaveTurn", msgs); err != nil {
		return err
	}
	chatID := msgs[0].ChatID
	if c := s.chats[chatID]; title != "" && c.Title == "" {
		c.Title = title
		s.chats[chatID] = c
	}
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, notFound("repository.GetMessage", "message", id)
	}
	return &m, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, chatID string) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.chatLog[chatID]
	out := make([]ChatMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id])
	}
	return out, nil
}

func (s *MemoryStore) CreateChatFeedback(_ context.Context, f *ChatFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[f.MessageID]; !ok {
		return notFound("repository.CreateChatFeedback", "message", f.MessageID)
	}
	newID(&f.ID)
	stamp(&f.CreatedAt, s.now())
	s.feedback[f.ID] = *f
	return nil
}

func (s *MemoryStore) CreateSuite(_ context.Context, ts *TestSuite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newID(&ts.ID)
	stamp(&ts.CreatedAt, s.now())
	s.suites[ts.ID] = *ts
	return nil
}

func (s *MemoryStore) GetSuite(_ context.Context, id string) (*TestSuite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.suites[id]
	if !ok {
		return nil, notFound("repository.GetSuite", "test suite", id)
	}
	return &ts, nil
}

func (s *MemoryStore) AddQuestion(_ context.Context, q *TestQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.suites[q.SuiteID]; !ok {
		return notFound("repository.AddQuestion", "test suite", q.SuiteID)
	}
	newID(&q.ID)
	stamp(&q.CreatedAt, s.now())
	s.questions[q.SuiteID] = append(s.questions[q.SuiteID], *q)
	return nil
}

func (s *MemoryStore) ListQuestions(_ context.Context, suiteID string) ([]TestQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.questions[suiteID]), nil
}

func (s *MemoryStore) CreateRun(_ context.Context, r *TestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newID(&r.ID)
	now := s.now()
	stamp(&r.CreatedAt, now)
	stamp(&r.UpdatedAt, now)
	if r.Status == "" {
		r.Status = RunRunning
	}
	s.runs[r.ID] = *r
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, notFound("repository.GetRun", "test run", id)
	}
	return &r, nil
}

func (s *MemoryStore) TransitionRun(_ context.Context, id string, to RunStatus, errMsg string) error {
	const op = "repository.TransitionRun"
	if err := validateTransition(op, to); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return notFound(op, "test run", id)
	}
	if r.Status != RunRunning {
		return invalidTransition(op, r.Status, to)
	}
	r.Status = to
	r.Error = errMsg
	r.UpdatedAt = s.now()
	s.runs[id] = r
	return nil
}

func (s *MemoryStore) ListStaleRuns(_ context.Context, cutoff time.Time) ([]TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TestRun
	for _, r := range s.runs {
		if r.Status == RunRunning && r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sortByCreated(out, func(r TestRun) (time.Time, string) { return r.CreatedAt, r.ID })
	return out, nil
}

func (s *MemoryStore) CreateResult(_ context.Context, r *TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.RunID]; !ok {
		return notFound("repository.CreateResult", "test run", r.RunID)
	}
	newID(&r.ID)
	stamp(&r.CreatedAt, s.now())
	s.results[r.RunID] = append(s.results[r.RunID], *r)
	return nil
}

func (s *MemoryStore) ListResults(_ context.Context, runID string) ([]TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.results[runID]), nil
}

func (s *MemoryStore) CreateFeedback(_ context.Context, f *Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newID(&f.ID)
	stamp(&f.CreatedAt, s.now())
	s.runFeedback[f.ID] = *f
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close(context.Context) error { return nil }

func sortByCreated[T any](items []T, key func(T) (time.Time, string)) {
	slices.SortFunc(items, func(a, b T) int {
		ta, ia := key(a)
		tb, ib := key(b)
		if c := ta.Compare(tb); c != 0 {
			return c
		}
		if ia < ib {
			return -1
		}
		if ia > ib {
			return 1
		}
		return 0
	})
}
