// Package mongostore persists quests and progress in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/aiquest/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	questsCollection   = "quests"
	progressCollection = "quest_progress"
)

type questDoc struct {
	ID          string       `bson:"_id"`
	Title       string       `bson:"title"`
	Description string       `bson:"description"`
	AIName      string       `bson:"ai_name"`
	UserName    string       `bson:"user_name"`
	Password    string       `bson:"password,omitempty"`
	Active      bool         `bson:"active"`
	Steps       []model.Step `bson:"steps"`
	FinalText   string       `bson:"final_text"`
	CreatedAt   time.Time    `bson:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at"`
}

func toQuestDoc(q *model.Quest) questDoc {
	steps := q.Steps
	if steps == nil {
		steps = []model.Step{}
	}
	return questDoc{
		ID: q.ID, Title: q.Title, Description: q.Description,
		AIName: q.AIName, UserName: q.UserName, Password: q.Password,
		Active: q.Active, Steps: steps, FinalText: q.FinalText,
		CreatedAt: q.CreatedAt, UpdatedAt: q.UpdatedAt,
	}
}

func (d questDoc) quest() *model.Quest {
	steps := d.Steps
	if steps == nil {
		steps = []model.Step{}
	}
	return &model.Quest{
		ID: d.ID, Title: d.Title, Description: d.Description,
		AIName: d.AIName, UserName: d.UserName, Password: d.Password,
		Active: d.Active, Steps: steps, FinalText: d.FinalText,
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// progressDoc is keyed by "{sessionId}-{questId}".
type progressDoc struct {
	Key         string    `bson:"_id"`
	SessionID   string    `bson:"session_id"`
	QuestID     string    `bson:"quest_id"`
	CurrentStep int       `bson:"current_step"`
	Answers     []string  `bson:"answers"`
	Completed   bool      `bson:"completed"`
	StartedAt   time.Time `bson:"started_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toProgressDoc(p *model.Progress) progressDoc {
	answers := p.Answers
	if answers == nil {
		answers = []string{}
	}
	return progressDoc{
		Key:       model.ProgressKey(p.SessionID, p.QuestID),
		SessionID: p.SessionID, QuestID: p.QuestID,
		CurrentStep: p.CurrentStep, Answers: answers, Completed: p.Completed,
		StartedAt: p.StartedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (d progressDoc) progress() *model.Progress {
	answers := d.Answers
	if answers == nil {
		answers = []string{}
	}
	return &model.Progress{
		SessionID: d.SessionID, QuestID: d.QuestID,
		CurrentStep: d.CurrentStep, Answers: answers, Completed: d.Completed,
		StartedAt: d.StartedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// Store is the MongoDB backend.
type Store struct {
	client   *mongo.Client
	quests   *mongo.Collection
	progress *mongo.Collection
}

// Open connects, pings and ensures indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	s := NewFromClient(client, database)
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// NewFromClient wraps an existing client without pinging.
func NewFromClient(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:   client,
		quests:   db.Collection(questsCollection),
		progress: db.Collection(progressCollection),
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.progress.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "quest_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongostore: progress index: %w", err)
	}
	_, err = s.quests.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: quest index: %w", err)
	}
	return nil
}

func (s *Store) ListQuests(ctx context.Context) ([]model.Quest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := s.quests.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []questDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Quest, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d.quest())
	}
	return out, nil
}

func (s *Store) GetQuest(ctx context.Context, id string) (*model.Quest, error) {
	var doc questDoc
	err := s.quests.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.quest(), nil
}

func (s *Store) UpsertQuest(ctx context.Context, q *model.Quest) (*model.Quest, error) {
	doc := toQuestDoc(q)
	_, err := s.quests.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, err
	}
	return doc.quest(), nil
}

func (s *Store) DeleteQuest(ctx context.Context, id string) error {
	_, err := s.quests.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *Store) GetProgress(ctx context.Context, sessionID, questID string) (*model.Progress, error) {
	var doc progressDoc
	err := s.progress.FindOne(ctx, bson.M{"_id": model.ProgressKey(sessionID, questID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.progress(), nil
}

func (s *Store) UpsertProgress(ctx context.Context, p *model.Progress) (*model.Progress, error) {
	doc := toProgressDoc(p)
	_, err := s.progress.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, err
	}
	return doc.progress(), nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
