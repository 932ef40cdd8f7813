//go:build !js && !wasm

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/himanishpuri/acousticid/pkg/models"
)

const (
	DefaultMongoDatabase = "acousticid"

	mongoInsertBatch = 1000
)

type mongoSong struct {
	ID               uint32    `bson:"_id"`
	Title            string    `bson:"title"`
	Artist           string    `bson:"artist"`
	Album            string    `bson:"album,omitempty"`
	DurationMs       int       `bson:"duration_ms"`
	CreatedAt        time.Time `bson:"created_at"`
	Ready            bool      `bson:"ready"`
	FingerprintCount int       `bson:"fingerprint_count"`
}

func (s mongoSong) toModel() models.Song {
	return models.Song{ID: s.ID, Title: s.Title, Artist: s.Artist, Album: s.Album, DurationMs: s.DurationMs, CreatedAt: s.CreatedAt}
}

type mongoPosting struct {
	Hash     uint32 `bson:"hash"`
	SongID   uint32 `bson:"song_id"`
	OffsetMs int32  `bson:"offset_ms"`
}

// Mongo is a document-store index. Each song carries a ready flag that is
// cleared while its postings are rewritten; postings of songs that are not
// ready are filtered out of lookups.
type Mongo struct {
	client   *mongo.Client
	songs    *mongo.Collection
	postings *mongo.Collection
	counters *mongo.Collection
}

// OpenMongo connects to uri and prepares the collections and indexes of
// database (DefaultMongoDatabase when empty).
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo backend requires a URI")
	}
	if database == "" {
		database = DefaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client:   client,
		songs:    db.Collection("songs"),
		postings: db.Collection("fingerprints"),
		counters: db.Collection("counters"),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.songs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "title", Value: 1}, {Key: "artist", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("creating song index: %w", err)
	}
	_, err = m.postings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "hash", Value: 1}}},
		{Keys: bson.D{{Key: "song_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating fingerprint indexes: %w", err)
	}
	return nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) nextSongID(ctx context.Context) (uint32, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "songs"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next song id: %w", err)
	}
	return uint32(doc.Seq), nil
}

func (m *Mongo) findByTitle(ctx context.Context, title, artist string) (*mongoSong, error) {
	var s mongoSong
	err := m.songs.FindOne(ctx, bson.M{"title": title, "artist": artist}).Decode(&s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Mongo) RegisterSong(ctx context.Context, song models.Song) (uint32, error) {
	existing, err := m.findByTitle(ctx, song.Title, song.Artist)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("querying existing song: %w", err)
	}

	id, err := m.nextSongID(ctx)
	if err != nil {
		return 0, err
	}
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now().UTC()
	}
	doc := mongoSong{
		ID: id, Title: song.Title, Artist: song.Artist, Album: song.Album,
		DurationMs: song.DurationMs, CreatedAt: song.CreatedAt,
	}
	if _, err := m.songs.InsertOne(ctx, doc); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("creating song: %w", err)
		}
		existing, fetchErr := m.findByTitle(ctx, song.Title, song.Artist)
		if fetchErr != nil {
			return 0, fmt.Errorf("fetching song after duplicate key: %w", fetchErr)
		}
		return existing.ID, nil
	}
	return id, nil
}

func (m *Mongo) PutMany(ctx context.Context, songID uint32, fps []models.Fingerprint) error {
	res, err := m.songs.UpdateOne(ctx, bson.M{"_id": songID}, bson.M{"$set": bson.M{"ready": false}})
	if err != nil {
		return fmt.Errorf("hiding song: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrSongNotFound
	}
	if _, err := m.postings.DeleteMany(ctx, bson.M{"song_id": songID}); err != nil {
		return fmt.Errorf("clearing fingerprints: %w", err)
	}

	batch := make([]interface{}, 0, mongoInsertBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := m.postings.InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
		batch = batch[:0]
		return err
	}
	for _, fp := range fps {
		batch = append(batch, mongoPosting{Hash: fp.Hash, SongID: songID, OffsetMs: fp.AnchorTimeMs})
		if len(batch) == mongoInsertBatch {
			if err := flush(); err != nil {
				return fmt.Errorf("batch insert fingerprints: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return fmt.Errorf("batch insert fingerprints: %w", err)
	}

	_, err = m.songs.UpdateOne(ctx, bson.M{"_id": songID},
		bson.M{"$set": bson.M{"ready": true, "fingerprint_count": len(fps)}})
	if err != nil {
		return fmt.Errorf("publishing song: %w", err)
	}
	return nil
}

func (m *Mongo) readySongs(ctx context.Context, ids []uint32) (map[uint32]int, error) {
	out := make(map[uint32]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := m.songs.Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "ready": true},
		options.Find().SetProjection(bson.M{"_id": 1, "fingerprint_count": 1}))
	if err != nil {
		return nil, err
	}
	var docs []mongoSong
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		out[d.ID] = d.FingerprintCount
	}
	return out, nil
}

func (m *Mongo) Get(ctx context.Context, hash uint32) ([]models.Posting, error) {
	res, err := m.GetMany(ctx, []uint32{hash})
	if err != nil {
		return nil, err
	}
	return res[hash], nil
}

func (m *Mongo) GetMany(ctx context.Context, hashes []uint32) (map[uint32][]models.Posting, error) {
	out := make(map[uint32][]models.Posting)
	if len(hashes) == 0 {
		return out, nil
	}

	cur, err := m.postings.Find(ctx, bson.M{"hash": bson.M{"$in": hashes}})
	if err != nil {
		return nil, fmt.Errorf("batch querying fingerprints: %w", err)
	}
	var docs []mongoPosting
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding fingerprints: %w", err)
	}

	seen := make(map[uint32]struct{})
	var ids []uint32
	for _, d := range docs {
		if _, ok := seen[d.SongID]; !ok {
			seen[d.SongID] = struct{}{}
			ids = append(ids, d.SongID)
		}
	}
	ready, err := m.readySongs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("checking song state: %w", err)
	}

	for _, d := range docs {
		if _, ok := ready[d.SongID]; !ok {
			continue
		}
		out[d.Hash] = append(out[d.Hash], models.Posting{SongID: d.SongID, OffsetMs: d.OffsetMs})
	}
	return out, nil
}

func (m *Mongo) FingerprintCounts(ctx context.Context, songIDs []uint32) (map[uint32]int, error) {
	out, err := m.readySongs(ctx, songIDs)
	if err != nil {
		return nil, fmt.Errorf("counting fingerprints: %w", err)
	}
	return out, nil
}

func (m *Mongo) TotalSongs(ctx context.Context) (int, error) {
	n, err := m.songs.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("counting songs: %w", err)
	}
	return int(n), nil
}

func (m *Mongo) TotalFingerprints(ctx context.Context) (int, error) {
	cur, err := m.songs.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"ready": true}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$fingerprint_count"}}}},
	})
	if err != nil {
		return 0, fmt.Errorf("summing fingerprints: %w", err)
	}
	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("summing fingerprints: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return int(rows[0].Total), nil
}

func (m *Mongo) GetSong(ctx context.Context, id uint32) (*models.Song, error) {
	var s mongoSong
	err := m.songs.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSongNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying song: %w", err)
	}
	song := s.toModel()
	return &song, nil
}

func (m *Mongo) ListSongs(ctx context.Context) ([]models.Song, error) {
	cur, err := m.songs.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	var docs []mongoSong
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	out := make([]models.Song, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (m *Mongo) DeleteSong(ctx context.Context, id uint32) error {
	res, err := m.songs.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"ready": false}})
	if err != nil {
		return fmt.Errorf("hiding song: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrSongNotFound
	}
	if _, err := m.postings.DeleteMany(ctx, bson.M{"song_id": id}); err != nil {
		return fmt.Errorf("deleting fingerprints: %w", err)
	}
	if _, err := m.songs.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("deleting song: %w", err)
	}
	return nil
}
