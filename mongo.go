package main

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/exp/slog"
)

const (
	usersCollection  = "users"
	imagesCollection = "images"
)

type MongoDatabase struct {
	client *mongo.Client
	users  *mongo.Collection
	images *mongo.Collection
}

func NewMongoDatabase(ctx context.Context, cfg DatabaseConfig) (*MongoDatabase, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	slog.Debug("Database pinged", "driver", DriverMongo, "dbname", cfg.MongoDB)

	db := client.Database(cfg.MongoDB)
	m := &MongoDatabase{
		client: client,
		users:  db.Collection(usersCollection),
		images: db.Collection(imagesCollection),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	slog.Info("Successfully created the database indexes")

	return m, nil
}

func (m *MongoDatabase) ensureIndexes(ctx context.Context) error {
	_, err := m.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return storeError("create user indexes", err)
	}

	_, err = m.images.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return storeError("create image indexes", err)
	}

	return nil
}

func (m *MongoDatabase) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return m.client.Disconnect(ctx)
}

func (m *MongoDatabase) CreateUser(ctx context.Context, user User) error {
	if _, err := m.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateUser
		}

		return storeError("create user", err)
	}

	return nil
}

func (m *MongoDatabase) GetUserByID(ctx context.Context, id string) (User, error) {
	return m.findUser(ctx, bson.M{"_id": id}, "get user")
}

func (m *MongoDatabase) GetUserByIdentifier(ctx context.Context, identifier string) (User, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"email": identifier},
		bson.M{"username": identifier},
	}}

	return m.findUser(ctx, filter, "get user by identifier")
}

func (m *MongoDatabase) FindUserConflict(ctx context.Context, username, email string) (User, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"email": email},
		bson.M{"username": username},
	}}

	return m.findUser(ctx, filter, "find user conflict")
}

func (m *MongoDatabase) findUser(ctx context.Context, filter bson.M, op string) (User, error) {
	var u User
	err := m.users.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, storeError(op, err)
	}

	return u, nil
}

func (m *MongoDatabase) UpdateUserProfilePic(ctx context.Context, id, profilePic string) error {
	res, err := m.users.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"profile_pic": profilePic}},
	)
	if err != nil {
		return storeError("update profile picture", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (m *MongoDatabase) CreateImage(ctx context.Context, image Image) error {
	if _, err := m.images.InsertOne(ctx, image); err != nil {
		return storeError("create image", err)
	}

	return nil
}

func (m *MongoDatabase) CountUserImages(ctx context.Context, userID string) (int, error) {
	n, err := m.images.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, storeError("count images", err)
	}

	return int(n), nil
}

func (m *MongoDatabase) GetAllUserImages(ctx context.Context, userID string) ([]Image, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	cur, err := m.images.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, storeError("list images", err)
	}

	var items []Image
	if err := cur.All(ctx, &items); err != nil {
		return nil, storeError("list images", err)
	}

	return items, nil
}

func (m *MongoDatabase) GetUserImage(ctx context.Context, id, userID string) (Image, error) {
	var i Image
	err := m.images.FindOne(ctx, bson.M{"_id": id, "user_id": userID}).Decode(&i)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Image{}, ErrNotFound
	}
	if err != nil {
		return Image{}, storeError("get image", err)
	}

	return i, nil
}

func (m *MongoDatabase) UpdateImage(ctx context.Context, image Image) error {
	res, err := m.images.UpdateOne(ctx,
		bson.M{"_id": image.ID},
		bson.M{"$set": bson.M{
			"file_path":         image.FilePath,
			"description":       image.Description,
			"mime_type":         image.MimeType,
			"original_filename": image.OriginalFilename,
			"updated_at":        image.UpdatedAt,
		}},
	)
	if err != nil {
		return storeError("update image", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (m *MongoDatabase) DeleteImageByID(ctx context.Context, id string) error {
	res, err := m.images.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return storeError("delete image", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}

	return nil
}
