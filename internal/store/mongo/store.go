package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
	usagedomain "github.com/smallbiznis/allocsync/internal/usage/domain"
)

// Collection name constants.
const (
	colProjects          = "projects"
	colRawUsageEvents    = "raw_usage_events"
	colProcessedRecords  = "processed_usage_records"
	colFailedSubmissions = "failed_submissions"
)

// compile-time interface checks
var (
	_ projectdomain.Repository = (*Store)(nil)
	_ usagedomain.Repository   = (*Store)(nil)
)

// Store implements the project and usage repositories on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger

	// transactional is true when the server supports multi-document
	// transactions (replica set or sharded cluster).
	transactional bool
}

// Connect opens a client for uri and selects database.
func Connect(ctx context.Context, uri, database string, log *zap.Logger) (*Store, error) {
	if uri == "" {
		return nil, errors.New("allocsync/mongo: connection uri is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("allocsync/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("allocsync/mongo: ping: %w", err)
	}
	return New(ctx, client, database, log), nil
}

// New wraps an existing client.
func New(ctx context.Context, client *mongo.Client, database string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		client: client,
		db:     client.Database(database),
		log:    log.Named("store.mongo"),
	}
	s.transactional = s.detectTransactions(ctx)
	return s
}

func (s *Store) detectTransactions(ctx context.Context) bool {
	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	if err := s.db.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		s.log.Warn("hello command failed, transactions disabled", zap.Error(err))
		return false
	}
	return hello.SetName != "" || hello.Msg == "isdbgrid"
}

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("allocsync/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ==================== Project Store ====================

func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*projectdomain.Project, error) {
	var m projectModel
	err := s.db.Collection(colProjects).
		FindOne(ctx, bson.M{"external_id": externalID}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("allocsync/mongo: find project: %w", err)
	}
	project := fromProjectModel(&m)
	return &project, nil
}

func (s *Store) ListByExternalIDs(ctx context.Context, externalIDs []string) ([]projectdomain.Project, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	return s.findProjects(ctx, bson.M{"external_id": bson.M{"$in": externalIDs}})
}

func (s *Store) ListBySource(ctx context.Context, source projectdomain.Source) ([]projectdomain.Project, error) {
	return s.findProjects(ctx, bson.M{"source": string(source)})
}

func (s *Store) findProjects(ctx context.Context, filter bson.M) ([]projectdomain.Project, error) {
	cursor, err := s.db.Collection(colProjects).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "external_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("allocsync/mongo: list projects: %w", err)
	}
	var models []projectModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("allocsync/mongo: decode projects: %w", err)
	}
	out := make([]projectdomain.Project, 0, len(models))
	for i := range models {
		out = append(out, fromProjectModel(&models[i]))
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, project *projectdomain.Project) error {
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	if _, err := s.db.Collection(colProjects).InsertOne(ctx, toProjectModel(project)); err != nil {
		return fmt.Errorf("allocsync/mongo: create project: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, project *projectdomain.Project) error {
	project.UpdatedAt = time.Now().UTC()
	m := toProjectModel(project)
	_, err := s.db.Collection(colProjects).UpdateOne(ctx,
		bson.M{"_id": m.ID},
		bson.M{"$set": bson.M{
			"name":          m.Name,
			"source":        m.Source,
			"net_seconds":   m.NetSeconds,
			"active":        m.Active,
			"resource_ids":  m.ResourceIDs,
			"member_emails": m.MemberEmails,
			"updated_at":    m.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("allocsync/mongo: save project: %w", err)
	}
	return nil
}

func (s *Store) SetActive(ctx context.Context, externalID string, active bool) error {
	_, err := s.db.Collection(colProjects).UpdateOne(ctx,
		bson.M{"external_id": externalID},
		bson.M{"$set": bson.M{"active": active, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("allocsync/mongo: set project active: %w", err)
	}
	return nil
}

func (s *Store) ReplaceMembers(ctx context.Context, members map[string][]string) error {
	if len(members) == 0 {
		return nil
	}
	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(members))
	for externalID, emails := range members {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"external_id": externalID}).
			SetUpdate(bson.M{"$set": bson.M{
				"member_emails": nonNil(emails),
				"updated_at":    now,
			}}))
	}
	_, err := s.db.Collection(colProjects).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("allocsync/mongo: replace members: %w", err)
	}
	return nil
}

// ==================== Usage Store ====================

func (s *Store) InsertRawEvent(ctx context.Context, event *usagedomain.RawUsageEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(colRawUsageEvents).InsertOne(ctx, toRawUsageEventModel(event)); err != nil {
		return fmt.Errorf("allocsync/mongo: insert raw event: %w", err)
	}
	return nil
}

func (s *Store) StreamUnprocessed(ctx context.Context, batchSize int, fn func([]usagedomain.RawUsageEvent) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	var lastID int64
	first := true
	for {
		filter := bson.M{"processed": false}
		if !first {
			filter["_id"] = bson.M{"$gt": lastID}
		}
		cursor, err := s.db.Collection(colRawUsageEvents).Find(ctx, filter,
			options.Find().
				SetSort(bson.D{{Key: "_id", Value: 1}}).
				SetLimit(int64(batchSize)))
		if err != nil {
			return fmt.Errorf("allocsync/mongo: stream raw events: %w", err)
		}
		var models []rawUsageEventModel
		if err := cursor.All(ctx, &models); err != nil {
			return fmt.Errorf("allocsync/mongo: decode raw events: %w", err)
		}
		if len(models) == 0 {
			return nil
		}

		batch := make([]usagedomain.RawUsageEvent, 0, len(models))
		for i := range models {
			batch = append(batch, fromRawUsageEventModel(&models[i]))
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(models) < batchSize {
			return nil
		}
		lastID = models[len(models)-1].ID
		first = false
	}
}

func (s *Store) RecordProcessed(ctx context.Context, rec *usagedomain.ProcessedUsageRecord) (bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if !s.transactional {
		return s.recordProcessed(ctx, rec)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return false, fmt.Errorf("allocsync/mongo: start session: %w", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		return s.recordProcessed(txCtx, rec)
	})
	if err != nil {
		return false, err
	}
	applied, _ := result.(bool)
	return applied, nil
}

// recordProcessed writes the record before touching the raw event, so a crash
// between steps leaves the event unprocessed and the retry sees a duplicate.
// The duplicate is looked up first: a failed insert aborts a transaction.
func (s *Store) recordProcessed(ctx context.Context, rec *usagedomain.ProcessedUsageRecord) (bool, error) {
	existing, err := s.db.Collection(colProcessedRecords).CountDocuments(ctx, bson.M{"job_id": rec.JobID})
	if err != nil {
		return false, fmt.Errorf("allocsync/mongo: find processed record: %w", err)
	}

	applied := existing == 0
	if applied {
		if _, err := s.db.Collection(colProcessedRecords).InsertOne(ctx, toProcessedUsageRecordModel(rec)); err != nil {
			if s.transactional || !mongo.IsDuplicateKeyError(err) {
				return false, fmt.Errorf("allocsync/mongo: insert processed record: %w", err)
			}
			applied = false
		}
	}

	if applied {
		_, err := s.db.Collection(colProjects).UpdateOne(ctx,
			bson.M{"external_id": rec.ProjectExternalID},
			bson.M{
				"$inc": bson.M{"net_seconds": -rec.Seconds},
				"$set": bson.M{"updated_at": rec.CreatedAt},
			},
		)
		if err != nil {
			return false, fmt.Errorf("allocsync/mongo: debit project: %w", err)
		}
	}

	_, err = s.db.Collection(colRawUsageEvents).UpdateOne(ctx,
		bson.M{"job_id": rec.JobID, "processed": false},
		bson.M{"$set": bson.M{"processed": true}},
	)
	if err != nil {
		return false, fmt.Errorf("allocsync/mongo: mark raw event: %w", err)
	}
	return applied, nil
}

func (s *Store) AggregateProcessed(ctx context.Context, month, year int) ([]usagedomain.UsageAggregate, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "month", Value: month},
			{Key: "year", Value: year},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "plan_period_id", Value: "$plan_period_id"},
				{Key: "component_type", Value: "$component_type"},
			}},
			{Key: "amount", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
			{Key: "seconds", Value: bson.D{{Key: "$sum", Value: "$seconds"}}},
			{Key: "records", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "_id.plan_period_id", Value: 1},
			{Key: "_id.component_type", Value: 1},
		}}},
	}
	cursor, err := s.db.Collection(colProcessedRecords).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("allocsync/mongo: aggregate processed: %w", err)
	}
	var rows []aggregateModel
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("allocsync/mongo: decode aggregates: %w", err)
	}
	out := make([]usagedomain.UsageAggregate, 0, len(rows))
	for _, row := range rows {
		out = append(out, usagedomain.UsageAggregate{
			PlanPeriodID:  row.Key.PlanPeriodID,
			ComponentType: row.Key.ComponentType,
			Amount:        row.Amount,
			Seconds:       row.Seconds,
			Records:       row.Records,
		})
	}
	return out, nil
}

func (s *Store) InsertFailedSubmission(ctx context.Context, failed *usagedomain.FailedSubmission) error {
	if failed.CreatedAt.IsZero() {
		failed.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(colFailedSubmissions).InsertOne(ctx, toFailedSubmissionModel(failed)); err != nil {
		return fmt.Errorf("allocsync/mongo: insert failed submission: %w", err)
	}
	return nil
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colProjects: {
			{
				Keys:    bson.D{{Key: "external_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "source", Value: 1}}},
		},
		colRawUsageEvents: {
			{
				Keys:    bson.D{{Key: "job_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "processed", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colProcessedRecords: {
			{
				Keys:    bson.D{{Key: "job_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "year", Value: 1}, {Key: "month", Value: 1}}},
		},
		colFailedSubmissions: {
			{Keys: bson.D{{Key: "year", Value: 1}, {Key: "month", Value: 1}}},
		},
	}
}
