package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colProjects     = "projects"
	colDocuments    = "documents"
	colChats        = "chats"
	colMessages     = "chat_messages"
	colNonces       = "nonce_reservations"
	colChatFeedback = "chat_feedback"
	colSuites       = "test_suites"
	colQuestions    = "test_questions"
	colRuns         = "test_runs"
	colResults      = "test_results"
	colFeedback     = "result_feedback"
)

// MongoStore persists records in MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

var _ Store = (*MongoStore)(nil)

// Ordered collections carry a seq field so reads return insertion order
// even when created_at collides at millisecond precision.
type mongoMessage struct {
	ChatMessage `bson:",inline"`
	Seq         int64 `bson:"seq"`
}

type mongoQuestion struct {
	TestQuestion `bson:",inline"`
	Seq          int64 `bson:"seq"`
}

type mongoResult struct {
	TestResult `bson:",inline"`
	Seq        int64 `bson:"seq"`
}

// NewMongoStore connects to uri, verifies the connection and creates the
// indexes the store relies on.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(database),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colDocuments: {
			{Keys: bson.D{{Key: "project_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
		},
		colChats: {
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "user_id", Value: 1}}},
		},
		colMessages: {
			{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "seq", Value: 1}}},
			{
				Keys:    bson.D{{Key: "nonce", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
		},
		colQuestions: {
			{Keys: bson.D{{Key: "suite_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
		colRuns: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colResults: {
			{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
	}
	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", col, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) insert(ctx context.Context, op, col string, doc any) error {
	if _, err := s.db.Collection(col).InsertOne(ctx, doc); err != nil {
		return persistence(op, err)
	}
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, op, col, kind, id string, out any) error {
	err := s.db.Collection(col).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notFound(op, kind, id)
	}
	if err != nil {
		return persistence(op, err)
	}
	return nil
}

func findAll[T any](ctx context.Context, s *MongoStore, op, col string, filter any, sort bson.D) ([]T, error) {
	cur, err := s.db.Collection(col).Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, persistence(op, err)
	}
	var out []T
	if err := cur.All(ctx, &out); err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

var byCreated = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// ==================== Projects ====================

func (s *MongoStore) CreateProject(ctx context.Context, p *Project) error {
	newID(&p.ID)
	stamp(&p.CreatedAt, s.now())
	return s.insert(ctx, "repository.CreateProject", colProjects, p)
}

func (s *MongoStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := s.findOne(ctx, "repository.GetProject", colProjects, "project", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ==================== Documents ====================

func (s *MongoStore) CreateDocument(ctx context.Context, d *Document) error {
	newID(&d.ID)
	now := s.now()
	stamp(&d.CreatedAt, now)
	stamp(&d.UpdatedAt, now)
	if d.Status == "" {
		d.Status = DocumentPending
	}
	return s.insert(ctx, "repository.CreateDocument", colDocuments, d)
}

func (s *MongoStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var d Document
	if err := s.findOne(ctx, "repository.GetDocument", colDocuments, "document", id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *MongoStore) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	return findAll[Document](ctx, s, "repository.ListDocuments", colDocuments,
		bson.M{"project_id": projectID}, byCreated)
}

func (s *MongoStore) SetDocumentStatus(ctx context.Context, id string, status DocumentStatus, errMsg string) error {
	const op = "repository.SetDocumentStatus"
	res, err := s.db.Collection(colDocuments).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":     status,
		"error":      errMsg,
		"updated_at": s.now(),
	}})
	if err != nil {
		return persistence(op, err)
	}
	if res.MatchedCount == 0 {
		return notFound(op, "document", id)
	}
	return nil
}

func (s *MongoStore) DeleteDocument(ctx context.Context, id string) error {
	const op = "repository.DeleteDocument"
	res, err := s.db.Collection(colDocuments).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return persistence(op, err)
	}
	if res.DeletedCount == 0 {
		return notFound(op, "document", id)
	}
	return nil
}

func (s *MongoStore) ListStaleDocuments(ctx context.Context, cutoff time.Time) ([]Document, error) {
	return findAll[Document](ctx, s, "repository.ListStaleDocuments", colDocuments,
		bson.M{"status": DocumentUploading, "updated_at": bson.M{"$lt": cutoff}}, byCreated)
}

// ==================== Chats ====================

func (s *MongoStore) CreateChat(ctx context.Context, c *Chat) error {
	newID(&c.ID)
	stamp(&c.CreatedAt, s.now())
	return s.insert(ctx, "repository.CreateChat", colChats, c)
}

func (s *MongoStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := s.findOne(ctx, "repository.GetChat", colChats, "chat", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) ListChats(ctx context.Context, projectID, userID string) ([]Chat, error) {
	filter := bson.M{"project_id": projectID, "archived": false}
	if userID != "" {
		filter["user_id"] = userID
	}
	return findAll[Chat](ctx, s, "repository.ListChats", colChats, filter, byCreated)
}

// ==================== Messages ====================

func (s *MongoStore) ReserveNonce(ctx context.Context, nonce string) error {
	const op = "repository.ReserveNonce"
	n, err := s.db.Collection(colMessages).CountDocuments(ctx, bson.M{"nonce": nonce})
	if err != nil {
		return persistence(op, err)
	}
	if n > 0 {
		return duplicateNonce(op, nonce)
	}
	_, err = s.db.Collection(colNonces).InsertOne(ctx, bson.M{"_id": nonce, "reserved_at": s.now()})
	if mongo.IsDuplicateKeyError(err) {
		return duplicateNonce(op, nonce)
	}
	if err != nil {
		return persistence(op, err)
	}
	return nil
}

func (s *MongoStore) ReleaseNonce(ctx context.Context, nonce string) error {
	if _, err := s.db.Collection(colNonces).DeleteOne(ctx, bson.M{"_id": nonce}); err != nil {
		return persistence("repository.ReleaseNonce", err)
	}
	return nil
}

func (s *MongoStore) InsertMessage(ctx context.Context, m *ChatMessage) error {
	return s.SaveTurn(ctx, []*ChatMessage{m}, "")
}

// SaveTurn inserts messages in order and removes the earlier ones again
// if a later insert fails; standalone servers have no transactions.
func (s *MongoStore) SaveTurn(ctx context.Context, msgs []*ChatMessage, title string) error {
	const op = "repository.SaveTurn"
	if len(msgs) == 0 {
		return nil
	}
	chatID := msgs[0].ChatID
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return err
	}

	now := s.now()
	col := s.db.Collection(colMessages)
	var inserted []string
	for i, m := range msgs {
		newID(&m.ID)
		stamp(&m.CreatedAt, now)
		_, err := col.InsertOne(ctx, mongoMessage{ChatMessage: *m, Seq: now.UnixNano() + int64(i)})
		if err == nil {
			inserted = append(inserted, m.ID)
			continue
		}
		if len(inserted) > 0 {
			_, _ = col.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": inserted}})
		}
		if mongo.IsDuplicateKeyError(err) {
			return duplicateNonce(op, m.Nonce)
		}
		return persistence(op, err)
	}

	for _, m := range msgs {
		if m.Nonce != "" {
			_, _ = s.db.Collection(colNonces).DeleteOne(ctx, bson.M{"_id": m.Nonce})
		}
	}
	if title != "" {
		if _, err := s.db.Collection(colChats).UpdateOne(ctx,
			bson.M{"_id": chatID, "title": ""},
			bson.M{"$set": bson.M{"title": title}}); err != nil {
			return persistence(op, err)
		}
	}
	return nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*ChatMessage, error) {
	var m mongoMessage
	if err := s.findOne(ctx, "repository.GetMessage", colMessages, "message", id, &m); err != nil {
		return nil, err
	}
	return &m.ChatMessage, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	docs, err := findAll[mongoMessage](ctx, s, "repository.ListMessages", colMessages,
		bson.M{"chat_id": chatID}, bson.D{{Key: "seq", Value: 1}})
	if err != nil {
		return nil, err
	}
	out := make([]ChatMessage, len(docs))
	for i := range docs {
		out[i] = docs[i].ChatMessage
	}
	return out, nil
}

func (s *MongoStore) CreateChatFeedback(ctx context.Context, f *ChatFeedback) error {
	if _, err := s.GetMessage(ctx, f.MessageID); err != nil {
		return err
	}
	newID(&f.ID)
	stamp(&f.CreatedAt, s.now())
	return s.insert(ctx, "repository.CreateChatFeedback", colChatFeedback, f)
}

// ==================== Evaluation ====================

func (s *MongoStore) CreateSuite(ctx context.Context, ts *TestSuite) error {
	newID(&ts.ID)
	stamp(&ts.CreatedAt, s.now())
	return s.insert(ctx, "repository.CreateSuite", colSuites, ts)
}

func (s *MongoStore) GetSuite(ctx context.Context, id string) (*TestSuite, error) {
	var ts TestSuite
	if err := s.findOne(ctx, "repository.GetSuite", colSuites, "test suite", id, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

func (s *MongoStore) AddQuestion(ctx context.Context, q *TestQuestion) error {
	if _, err := s.GetSuite(ctx, q.SuiteID); err != nil {
		return err
	}
	newID(&q.ID)
	now := s.now()
	stamp(&q.CreatedAt, now)
	return s.insert(ctx, "repository.AddQuestion", colQuestions, mongoQuestion{TestQuestion: *q, Seq: now.UnixNano()})
}

func (s *MongoStore) ListQuestions(ctx context.Context, suiteID string) ([]TestQuestion, error) {
	docs, err := findAll[mongoQuestion](ctx, s, "repository.ListQuestions", colQuestions,
		bson.M{"suite_id": suiteID}, bson.D{{Key: "seq", Value: 1}})
	if err != nil {
		return nil, err
	}
	out := make([]TestQuestion, len(docs))
	for i := range docs {
		out[i] = docs[i].TestQuestion
	}
	return out, nil
}

func (s *MongoStore) CreateRun(ctx context.Context, r *TestRun) error {
	newID(&r.ID)
	now := s.now()
	stamp(&r.CreatedAt, now)
	stamp(&r.UpdatedAt, now)
	if r.Status == "" {
		r.Status = RunRunning
	}
	return s.insert(ctx, "repository.CreateRun", colRuns, r)
}

func (s *MongoStore) GetRun(ctx context.Context, id string) (*TestRun, error) {
	var r TestRun
	if err := s.findOne(ctx, "repository.GetRun", colRuns, "test run", id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *MongoStore) TransitionRun(ctx context.Context, id string, to RunStatus, errMsg string) error {
	const op = "repository.TransitionRun"
	if err := validateTransition(op, to); err != nil {
		return err
	}
	res, err := s.db.Collection(colRuns).UpdateOne(ctx,
		bson.M{"_id": id, "status": RunRunning},
		bson.M{"$set": bson.M{"status": to, "error": errMsg, "updated_at": s.now()}})
	if err != nil {
		return persistence(op, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	current, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return invalidTransition(op, current.Status, to)
}

func (s *MongoStore) ListStaleRuns(ctx context.Context, cutoff time.Time) ([]TestRun, error) {
	return findAll[TestRun](ctx, s, "repository.ListStaleRuns", colRuns,
		bson.M{"status": RunRunning, "created_at": bson.M{"$lt": cutoff}}, byCreated)
}

func (s *MongoStore) CreateResult(ctx context.Context, r *TestResult) error {
	if _, err := s.GetRun(ctx, r.RunID); err != nil {
		return err
	}
	newID(&r.ID)
	now := s.now()
	stamp(&r.CreatedAt, now)
	return s.insert(ctx, "repository.CreateResult", colResults, mongoResult{TestResult: *r, Seq: now.UnixNano()})
}

func (s *MongoStore) ListResults(ctx context.Context, runID string) ([]TestResult, error) {
	docs, err := findAll[mongoResult](ctx, s, "repository.ListResults", colResults,
		bson.M{"run_id": runID}, bson.D{{Key: "seq", Value: 1}})
	if err != nil {
		return nil, err
	}
	out := make([]TestResult, len(docs))
	for i := range docs {
		out[i] = docs[i].TestResult
	}
	return out, nil
}

func (s *MongoStore) CreateFeedback(ctx context.Context, f *Feedback) error {
	newID(&f.ID)
	stamp(&f.CreatedAt, s.now())
	return s.insert(ctx, "repository.CreateFeedback", colFeedback, f)
}
