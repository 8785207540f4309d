package mongostore

import (
	"context"
	"errors"
	"time"

	"natours/internal/shared/query"
	"natours/internal/shared/storage"
	"natours/pkg/logging"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// Collection - storage.Collection[T] 的 MongoDB 实现
// ============================================================================

// Collection 泛型集合，每个实体实例化一次
type Collection[T any] struct {
	col     *mongo.Collection
	timeout time.Duration
	logger  *logging.Logger
}

func newCollection[T any](col *mongo.Collection, timeout time.Duration, logger *logging.Logger) *Collection[T] {
	return &Collection[T]{col: col, timeout: timeout, logger: logger}
}

func (c *Collection[T]) Name() string { return c.col.Name() }

// begin 附加单次操作超时，返回的 done 记录耗时并转换错误
func (c *Collection[T]) begin(ctx context.Context, op string) (context.Context, func(error) error) {
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	start := time.Now()
	return ctx, func(err error) error {
		cancel()
		err = wrapError(op, c.col.Name(), err)
		logged := err
		if errors.Is(err, storage.ErrNotFound) {
			logged = nil
		}
		c.logger.WithContext(ctx).DBQueryLog(op, c.col.Name(), time.Since(start), logged)
		return err
	}
}

// byID _id 条件加上调用方的 scope
func byID(id bson.ObjectID, scope []query.Predicate) bson.D {
	filter := bson.D{{Key: "_id", Value: id}}
	return append(filter, query.MongoFilter(scope)...)
}

func (c *Collection[T]) Insert(ctx context.Context, doc *T) error {
	ctx, done := c.begin(ctx, "insert")
	_, err := c.col.InsertOne(ctx, doc)
	return done(err)
}

func (c *Collection[T]) FindByID(ctx context.Context, id bson.ObjectID, scope []query.Predicate) (*T, error) {
	ctx, done := c.begin(ctx, "find")
	var result T
	if err := c.col.FindOne(ctx, byID(id, scope)).Decode(&result); err != nil {
		return nil, done(err)
	}
	return &result, done(nil)
}

func (c *Collection[T]) FindByIDAndUpdate(ctx context.Context, id bson.ObjectID, scope []query.Predicate, update storage.Update) (*T, error) {
	ctx, done := c.begin(ctx, "update")

	set := bson.D{}
	for _, e := range update.Set {
		if e.Key == "_id" || e.Key == query.VersionField {
			continue
		}
		set = append(set, e)
	}
	doc := bson.D{{Key: "$inc", Value: bson.D{{Key: query.VersionField, Value: 1}}}}
	if len(set) > 0 {
		doc = append(doc, bson.E{Key: "$set", Value: set})
	}
	if len(update.Unset) > 0 {
		unset := make(bson.D, 0, len(update.Unset))
		for _, f := range update.Unset {
			unset = append(unset, bson.E{Key: f, Value: ""})
		}
		doc = append(doc, bson.E{Key: "$unset", Value: unset})
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var result T
	if err := c.col.FindOneAndUpdate(ctx, byID(id, scope), doc, opts).Decode(&result); err != nil {
		return nil, done(err)
	}
	return &result, done(nil)
}

func (c *Collection[T]) FindByIDAndDelete(ctx context.Context, id bson.ObjectID, scope []query.Predicate) (*T, error) {
	ctx, done := c.begin(ctx, "delete")
	var result T
	if err := c.col.FindOneAndDelete(ctx, byID(id, scope)).Decode(&result); err != nil {
		return nil, done(err)
	}
	return &result, done(nil)
}

func (c *Collection[T]) Find(ctx context.Context, spec *query.Spec) ([]*T, error) {
	ctx, done := c.begin(ctx, "find")
	results, err := findMany[T](ctx, c.col, spec.MongoFilter(), spec.FindOptions())
	if err != nil {
		return nil, done(err)
	}
	return results, done(nil)
}

func (c *Collection[T]) Count(ctx context.Context, filter []query.Predicate) (int64, error) {
	ctx, done := c.begin(ctx, "count")
	n, err := c.col.CountDocuments(ctx, query.MongoFilter(filter))
	return n, done(err)
}

func (c *Collection[T]) DeleteMany(ctx context.Context, filter []query.Predicate) (int64, error) {
	ctx, done := c.begin(ctx, "delete_many")
	res, err := c.col.DeleteMany(ctx, query.MongoFilter(filter))
	if err != nil {
		return 0, done(err)
	}
	return res.DeletedCount, done(nil)
}

// groupRow $group 阶段的输出
type groupRow struct {
	Key   any     `bson:"_id"`
	Count int64   `bson:"count"`
	Sum   float64 `bson:"sum"`
	Avg   float64 `bson:"avg"`
	Min   float64 `bson:"min"`
	Max   float64 `bson:"max"`
}

func (c *Collection[T]) Group(ctx context.Context, spec storage.GroupSpec) ([]storage.GroupStat, error) {
	ctx, done := c.begin(ctx, "aggregate")

	value := "$" + spec.Value
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: query.MongoFilter(spec.Match)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + spec.Key},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "sum", Value: bson.D{{Key: "$sum", Value: value}}},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: value}}},
			{Key: "min", Value: bson.D{{Key: "$min", Value: value}}},
			{Key: "max", Value: bson.D{{Key: "$max", Value: value}}},
		}}},
	}
	rows, err := aggregate[groupRow](ctx, c.col, pipeline)
	if err != nil {
		return nil, done(err)
	}

	stats := make([]storage.GroupStat, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, storage.GroupStat(r))
	}
	return stats, done(nil)
}
