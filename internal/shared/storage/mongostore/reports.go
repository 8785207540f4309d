package mongostore

import (
	"context"
	"time"

	"natours/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ============================================================================
// TourReports - 聚合管道
// ============================================================================

// notSecret 所有报表都排除秘密线路
func notSecret() bson.E {
	return bson.E{Key: "secretTour", Value: bson.D{{Key: "$ne", Value: true}}}
}

func (s *Store) Stats(ctx context.Context, minRating float64) ([]model.TourStat, error) {
	ctx, done := s.tours.begin(ctx, "tour_stats")
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			notSecret(),
			{Key: "ratingsAverage", Value: bson.D{{Key: "$gte", Value: minRating}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$difficulty"},
			{Key: "numTours", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "numRatings", Value: bson.D{{Key: "$sum", Value: "$ratingsQuantity"}}},
			{Key: "avgRating", Value: bson.D{{Key: "$avg", Value: "$ratingsAverage"}}},
			{Key: "avgPrice", Value: bson.D{{Key: "$avg", Value: "$price"}}},
			{Key: "minPrice", Value: bson.D{{Key: "$min", Value: "$price"}}},
			{Key: "maxPrice", Value: bson.D{{Key: "$max", Value: "$price"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "avgPrice", Value: 1}}}},
	}
	stats, err := aggregate[model.TourStat](ctx, s.tours.col, pipeline)
	if err != nil {
		return nil, done(err)
	}
	return stats, done(nil)
}

func (s *Store) MonthlyPlan(ctx context.Context, year, limit int) ([]model.MonthPlan, error) {
	ctx, done := s.tours.begin(ctx, "monthly_plan")
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{notSecret()}}},
		{{Key: "$unwind", Value: "$startDates"}},
		{{Key: "$match", Value: bson.D{{Key: "startDates", Value: bson.D{
			{Key: "$gte", Value: from},
			{Key: "$lt", Value: to},
		}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$month", Value: "$startDates"}}},
			{Key: "numTourStarts", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "tours", Value: bson.D{{Key: "$push", Value: "$name"}}},
		}}},
		{{Key: "$addFields", Value: bson.D{{Key: "month", Value: "$_id"}}}},
		{{Key: "$project", Value: bson.D{{Key: "_id", Value: 0}}}},
		{{Key: "$sort", Value: bson.D{{Key: "numTourStarts", Value: -1}, {Key: "month", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}

	plan, err := aggregate[model.MonthPlan](ctx, s.tours.col, pipeline)
	if err != nil {
		return nil, done(err)
	}
	return plan, done(nil)
}

func (s *Store) Within(ctx context.Context, lng, lat, radius float64) ([]*model.Tour, error) {
	ctx, done := s.tours.begin(ctx, "tours_within")
	filter := bson.D{
		notSecret(),
		{Key: "startLocation", Value: bson.D{{Key: "$geoWithin", Value: bson.D{
			{Key: "$centerSphere", Value: bson.A{bson.A{lng, lat}, radius}},
		}}}},
	}
	tours, err := findMany[model.Tour](ctx, s.tours.col, filter)
	if err != nil {
		return nil, done(err)
	}
	return tours, done(nil)
}

func (s *Store) Distances(ctx context.Context, lng, lat, multiplier float64) ([]model.TourDistance, error) {
	ctx, done := s.tours.begin(ctx, "tour_distances")
	// $geoNear 必须是第一个阶段，秘密线路通过 query 排除
	pipeline := mongo.Pipeline{
		{{Key: "$geoNear", Value: bson.D{
			{Key: "near", Value: bson.D{
				{Key: "type", Value: model.GeoPointType},
				{Key: "coordinates", Value: bson.A{lng, lat}},
			}},
			{Key: "distanceField", Value: "distance"},
			{Key: "distanceMultiplier", Value: multiplier},
			{Key: "spherical", Value: true},
			{Key: "query", Value: bson.D{notSecret()}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "distance", Value: 1},
			{Key: "name", Value: 1},
		}}},
	}
	distances, err := aggregate[model.TourDistance](ctx, s.tours.col, pipeline)
	if err != nil {
		return nil, done(err)
	}
	return distances, done(nil)
}
