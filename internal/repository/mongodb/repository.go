package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mamadbah2/fieldops/internal/domain/models"
	"github.com/mamadbah2/fieldops/internal/repository"
)

const (
	collWarehouses   = "warehouses"
	collInstructions = "shipping_instruction_lines"
	collPending      = "pending_operations"
)

// Sequencer issues queue sequence numbers.
type Sequencer interface {
	Sequence() int64
}

// Replica implements the local record store and upload queue on MongoDB.
// Every local write is followed by an insert into pending_operations; the
// two inserts are not atomic, a failed enqueue is reported as a write error.
type Replica struct {
	client *mongo.Client
	db     *mongo.Database
	seq    Sequencer
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ repository.Replica     = (*Replica)(nil)
	_ repository.NoteCounter = (*Replica)(nil)
)

// NewReplica connects to MongoDB and verifies the connection.
func NewReplica(ctx context.Context, uri, dbName string, seq Sequencer, logger *zap.Logger) (*Replica, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOptions := options.Client().ApplyURI(uri).SetRegistry(newRegistry())
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &Replica{
		client: client,
		db:     client.Database(dbName),
		seq:    seq,
		logger: logger,
		now:    time.Now,
	}, nil
}

// EnsureIndexes creates the lookup indexes the validator relies on.
func (r *Replica) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		models.TableShippedBales: {
			{Keys: bson.D{{Key: "barcode", Value: 1}}},
			{Keys: bson.D{{Key: "logistics_barcode", Value: 1}}},
		},
		models.TableDispatchedBales: {
			{Keys: bson.D{{Key: "shipped_bale_id", Value: 1}}},
			{Keys: bson.D{{Key: "barcode", Value: 1}}},
			{Keys: bson.D{{Key: "dispatch_note_id", Value: 1}}},
		},
		models.TableDispatchNotes: {
			{Keys: bson.D{{Key: "remote_id", Value: 1}}},
			{Keys: bson.D{{Key: "reference", Value: 1}}},
		},
		collInstructions: {
			{Keys: bson.D{{Key: "instruction_id", Value: 1}, {Key: "product_id", Value: 1}, {Key: "grade_id", Value: 1}}},
		},
		collPending: {
			{Keys: bson.D{{Key: "table", Value: 1}, {Key: "_id", Value: 1}}},
		},
	}

	for coll, indexes := range specs {
		if _, err := r.db.Collection(coll).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// Close closes the MongoDB connection.
func (r *Replica) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *Replica) FindBalesByCode(ctx context.Context, code string) ([]models.ShippedBale, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"barcode": code},
		bson.M{"logistics_barcode": code},
	}}

	var bales []models.ShippedBale
	if err := r.find(ctx, models.TableShippedBales, filter, &bales); err != nil {
		return nil, fmt.Errorf("find bales by code %s: %w", code, err)
	}
	return bales, nil
}

func (r *Replica) GetBale(ctx context.Context, id string) (*models.ShippedBale, error) {
	var bale models.ShippedBale
	if err := r.findOne(ctx, models.TableShippedBales, bson.M{"_id": id}, &bale); err != nil {
		return nil, fmt.Errorf("get bale %s: %w", id, err)
	}
	return &bale, nil
}

func (r *Replica) UpdateBale(ctx context.Context, bale models.ShippedBale) error {
	bale.UpdatedAt = r.now().UTC()
	if err := r.replaceQueued(ctx, models.TableShippedBales, bale.ID, bale, models.ShippedBalePayload(bale)); err != nil {
		return fmt.Errorf("update bale %s: %w", bale.ID, err)
	}
	return nil
}

func (r *Replica) GetNote(ctx context.Context, id string) (*models.DispatchNote, error) {
	keys := bson.A{bson.M{"_id": id}, bson.M{"reference": id}}
	if remoteID, err := strconv.ParseInt(id, 10, 64); err == nil {
		keys = append(keys, bson.M{"remote_id": remoteID})
	}

	var note models.DispatchNote
	if err := r.findOne(ctx, models.TableDispatchNotes, bson.M{"$or": keys}, &note); err != nil {
		return nil, fmt.Errorf("get note %s: %w", id, err)
	}
	note.State = models.ParseNoteState(string(note.State))
	return &note, nil
}

func (r *Replica) UpdateNote(ctx context.Context, note models.DispatchNote) error {
	note.UpdatedAt = r.now().UTC()
	if err := r.replaceQueued(ctx, models.TableDispatchNotes, note.ID, note, models.DispatchNotePayload(note)); err != nil {
		return fmt.Errorf("update note %s: %w", note.ID, err)
	}
	return nil
}

func (r *Replica) FindDispatchedBales(ctx context.Context, f repository.DispatchedBaleFilter) ([]models.DispatchedBale, error) {
	filter := bson.M{}

	var keys bson.A
	if f.ShippedBaleID != "" {
		keys = append(keys, bson.M{"shipped_bale_id": f.ShippedBaleID})
	}
	if f.Barcode != "" {
		keys = append(keys, bson.M{"barcode": f.Barcode})
	}
	if f.LogisticsBarcode != "" {
		keys = append(keys, bson.M{"logistics_barcode": f.LogisticsBarcode}, bson.M{"barcode": f.LogisticsBarcode})
	}
	if len(keys) > 0 {
		filter["$or"] = keys
	}
	if len(f.NoteIDs) > 0 {
		filter["dispatch_note_id"] = bson.M{"$in": f.NoteIDs}
	}

	var rows []models.DispatchedBale
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if err := r.find(ctx, models.TableDispatchedBales, filter, &rows, opts); err != nil {
		return nil, fmt.Errorf("find dispatched bales: %w", err)
	}
	return rows, nil
}

func (r *Replica) GetDispatchedBale(ctx context.Context, id string) (*models.DispatchedBale, error) {
	var row models.DispatchedBale
	if err := r.findOne(ctx, models.TableDispatchedBales, bson.M{"_id": id}, &row); err != nil {
		return nil, fmt.Errorf("get dispatched bale %s: %w", id, err)
	}
	return &row, nil
}

func (r *Replica) InsertDispatchedBale(ctx context.Context, row models.DispatchedBale) error {
	now := r.now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	coll := r.db.Collection(models.TableDispatchedBales)
	return queuedWrite(ctx,
		func(ctx context.Context) error {
			if _, err := coll.InsertOne(ctx, row); err != nil {
				return fmt.Errorf("failed to insert dispatched bale: %w", err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return r.enqueue(ctx, models.TableDispatchedBales, models.OpCreate, row.ID, models.DispatchedBalePayload(row))
		},
		func(ctx context.Context) error {
			_, err := coll.DeleteOne(ctx, bson.M{"_id": row.ID})
			return err
		},
	)
}

func (r *Replica) UpdateDispatchedBale(ctx context.Context, row models.DispatchedBale) error {
	row.UpdatedAt = r.now().UTC()
	if err := r.replaceQueued(ctx, models.TableDispatchedBales, row.ID, row, models.DispatchedBalePayload(row)); err != nil {
		return fmt.Errorf("update dispatched bale %s: %w", row.ID, err)
	}
	return nil
}

func (r *Replica) GetWarehouse(ctx context.Context, id string) (*models.Warehouse, error) {
	var w models.Warehouse
	if err := r.findOne(ctx, collWarehouses, bson.M{"_id": id}, &w); err != nil {
		return nil, fmt.Errorf("get warehouse %s: %w", id, err)
	}
	return &w, nil
}

func (r *Replica) FindInstructionLine(ctx context.Context, instructionID, productID, gradeID string) (*models.ShippingInstructionLine, error) {
	filter := bson.M{
		"instruction_id": instructionID,
		"product_id":     productID,
		"grade_id":       gradeID,
	}

	var line models.ShippingInstructionLine
	if err := r.findOne(ctx, collInstructions, filter, &line); err != nil {
		return nil, fmt.Errorf("find instruction line %s/%s/%s: %w", instructionID, productID, gradeID, err)
	}
	return &line, nil
}

func (r *Replica) ListPending(ctx context.Context, table string, f repository.PendingFilter) ([]models.PendingOperation, error) {
	filter := bson.M{}
	if table != "" {
		filter["table"] = table
	}

	var keys bson.A
	if f.ShippedBaleID != "" {
		keys = append(keys, bson.M{"payload." + models.PayloadShippedBaleID: f.ShippedBaleID})
	}
	if f.Barcode != "" {
		keys = append(keys, bson.M{"payload." + models.PayloadBarcode: f.Barcode})
	}
	if f.DispatchNoteID != "" {
		keys = append(keys, bson.M{"payload." + models.PayloadDispatchNoteID: f.DispatchNoteID})
	}
	if len(keys) > 0 {
		filter["$or"] = keys
	}

	var ops []models.PendingOperation
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if err := r.find(ctx, collPending, filter, &ops, opts); err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	return ops, nil
}

func (r *Replica) CountPending(ctx context.Context) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$table"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.db.Collection(collPending).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count pending operations: %w", err)
	}
	defer cursor.Close(ctx)

	var groups []struct {
		Table string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("decode pending counts: %w", err)
	}

	counts := make(map[string]int, len(groups))
	for _, g := range groups {
		counts[g.Table] = g.Count
	}
	return counts, nil
}

func (r *Replica) CountNotesByState(ctx context.Context) (map[models.NoteState]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$state"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.db.Collection(models.TableDispatchNotes).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count dispatch notes: %w", err)
	}
	defer cursor.Close(ctx)

	var groups []struct {
		State string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("decode note counts: %w", err)
	}

	counts := make(map[models.NoteState]int, len(groups))
	for _, g := range groups {
		counts[models.ParseNoteState(g.State)] += g.Count
	}
	return counts, nil
}

func (r *Replica) Acknowledge(ctx context.Context, id int64) error {
	res, err := r.db.Collection(collPending).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("acknowledge operation %d: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Replica) enqueue(ctx context.Context, table string, kind models.OperationKind, recordID string, payload map[string]any) error {
	op := models.PendingOperation{
		ID:        r.seq.Sequence(),
		Table:     table,
		Kind:      kind,
		RecordID:  recordID,
		Payload:   payload,
		CreatedAt: r.now().UTC(),
	}
	if _, err := r.db.Collection(collPending).InsertOne(ctx, op); err != nil {
		r.logger.Error("local write not queued for upload",
			zap.String("table", table), zap.String("record_id", recordID), zap.Error(err))
		return fmt.Errorf("failed to queue %s %s: %w", kind, table, err)
	}
	return nil
}

// queuedWrite applies a local write and queues it for upload. When the
// queue insert fails the write is undone, so no local change exists without
// its pending operation.
func queuedWrite(ctx context.Context, write, enqueue, undo func(context.Context) error) error {
	if err := write(ctx); err != nil {
		return err
	}
	err := enqueue(ctx)
	if err == nil {
		return nil
	}
	if uerr := undo(context.WithoutCancel(ctx)); uerr != nil {
		return errors.Join(err, fmt.Errorf("roll back local write: %w", uerr))
	}
	return err
}

// replaceQueued replaces the document with id and queues an update, restoring
// the previous document if the update cannot be queued.
func (r *Replica) replaceQueued(ctx context.Context, coll, id string, doc any, payload map[string]any) error {
	prev, err := r.db.Collection(coll).FindOne(ctx, bson.M{"_id": id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}

	return queuedWrite(ctx,
		func(ctx context.Context) error { return r.replace(ctx, coll, id, doc) },
		func(ctx context.Context) error { return r.enqueue(ctx, coll, models.OpUpdate, id, payload) },
		func(ctx context.Context) error { return r.replace(ctx, coll, id, prev) },
	)
}

func (r *Replica) find(ctx context.Context, coll string, filter any, out any, opts ...*options.FindOptions) error {
	cursor, err := r.db.Collection(coll).Find(ctx, filter, opts...)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}

func (r *Replica) findOne(ctx context.Context, coll string, filter any, out any) error {
	err := r.db.Collection(coll).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repository.ErrNotFound
	}
	return err
}

func (r *Replica) replace(ctx context.Context, coll, id string, doc any) error {
	res, err := r.db.Collection(coll).ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
