// Package mongostore 实现基于 MongoDB 的 storage.Backend
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// 所有 Collection 名称和索引在 ensureIndexes 中统一管理。
package mongostore

import (
	"context"
	"fmt"
	"time"

	"natours/internal/shared/model"
	"natours/internal/shared/storage"
	"natours/pkg/logging"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection 名称常量
const (
	ColTours   = "tours"
	ColReviews = "reviews"
	ColUsers   = "users"
)

// Config 连接配置
type Config struct {
	URI      string
	Database string
	// Timeout 单次操作的超时时间，0 表示只受请求 context 约束
	Timeout time.Duration
}

// Store 实现 storage.Backend 接口的 MongoDB 驱动
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *logging.Logger

	tours   *Collection[model.Tour]
	reviews *Collection[model.Review]
	users   *Collection[model.User]
}

var _ storage.Backend = (*Store)(nil)

// NewStore 创建 MongoDB 存储实例
//
// cfg.URI: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// cfg.Database: 数据库名称，如 "natours"
func NewStore(ctx context.Context, cfg Config, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		opts.SetTimeout(cfg.Timeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	// 验证连接
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping failed: %w", wrapError("ping", "", err))
	}

	s := newStore(client, cfg, logger)

	// 创建索引
	if err := s.ensureIndexes(pingCtx); err != nil {
		logger.WithError(err).Warn("mongostore: ensure indexes failed")
	}

	logger.Info("MongoDB connected", "database", cfg.Database)
	return s, nil
}

func newStore(client *mongo.Client, cfg Config, logger *logging.Logger) *Store {
	db := client.Database(cfg.Database)
	s := &Store{client: client, db: db, logger: logger}
	s.tours = newCollection[model.Tour](db.Collection(ColTours), cfg.Timeout, logger)
	s.reviews = newCollection[model.Review](db.Collection(ColReviews), cfg.Timeout, logger)
	s.users = newCollection[model.User](db.Collection(ColUsers), cfg.Timeout, logger)
	return s
}

func (s *Store) Tours() storage.Collection[model.Tour]     { return s.tours }
func (s *Store) Reviews() storage.Collection[model.Review] { return s.reviews }
func (s *Store) Users() storage.Collection[model.User]     { return s.users }

// Ping 健康检查
func (s *Store) Ping(ctx context.Context) error {
	return wrapError("ping", "", s.client.Ping(ctx, nil))
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 创建所有必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		// tours
		{ColTours, bson.D{{Key: "name", Value: 1}}, true},
		{ColTours, bson.D{{Key: "slug", Value: 1}}, false},
		{ColTours, bson.D{{Key: "price", Value: 1}, {Key: "ratingsAverage", Value: -1}}, false},
		{ColTours, bson.D{{Key: "startLocation", Value: "2dsphere"}}, false},
		{ColTours, bson.D{{Key: "createdAt", Value: -1}}, false},

		// reviews：同一用户对同一线路只能评论一次
		{ColReviews, bson.D{{Key: "tour", Value: 1}, {Key: "user", Value: 1}}, true},
		{ColReviews, bson.D{{Key: "createdAt", Value: -1}}, false},

		// users
		{ColUsers, bson.D{{Key: "email", Value: 1}}, true},
	}

	for _, i := range indexes {
		im := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			im.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, im); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}

	return nil
}
