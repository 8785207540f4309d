// Package memstore 实现基于内存的 storage.Backend
//
// 与 mongostore 行为一致（过滤/排序/投影/唯一索引/聚合报表），
// 用于单元测试与无需 MongoDB 的本地开发（database.driver: memory）。
package memstore

import (
	"context"
	"math"
	"sort"

	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"
)

// Collection 名称，与 mongostore 保持一致
const (
	ColTours   = "tours"
	ColReviews = "reviews"
	ColUsers   = "users"
)

// earthRadiusMeters $geoNear 球面距离使用的地球半径
const earthRadiusMeters = 6378100.0

// Store 内存存储
type Store struct {
	tours   *Collection[model.Tour]
	reviews *Collection[model.Review]
	users   *Collection[model.User]
}

// NewStore 创建空的内存存储，唯一约束与 mongostore 的索引一致
func NewStore() *Store {
	return &Store{
		tours:   NewCollection[model.Tour](ColTours, []string{"name"}),
		reviews: NewCollection[model.Review](ColReviews, []string{"tour", "user"}),
		users:   NewCollection[model.User](ColUsers, []string{"email"}),
	}
}

var _ storage.Backend = (*Store)(nil)

func (s *Store) Tours() storage.Collection[model.Tour]     { return s.tours }
func (s *Store) Reviews() storage.Collection[model.Review] { return s.reviews }
func (s *Store) Users() storage.Collection[model.User]     { return s.users }

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storage.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

// ============================================================================
// TourReports
// ============================================================================

// visibleTours 全部非秘密线路
func (s *Store) visibleTours(ctx context.Context, extra ...query.Predicate) ([]*model.Tour, error) {
	filter := append([]query.Predicate{query.Ne("secretTour", true)}, extra...)
	return s.tours.Find(ctx, &query.Spec{
		Filter: filter,
		Sort:   []query.SortKey{{Field: "_id"}},
	})
}

func (s *Store) Stats(ctx context.Context, minRating float64) ([]model.TourStat, error) {
	tours, err := s.visibleTours(ctx, query.Predicate{Field: "ratingsAverage", Op: query.OpGte, Value: minRating})
	if err != nil {
		return nil, err
	}

	byDifficulty := make(map[model.Difficulty]*model.TourStat)
	var order []model.Difficulty
	ratingSum := make(map[model.Difficulty]float64)
	priceSum := make(map[model.Difficulty]float64)
	for _, t := range tours {
		st, ok := byDifficulty[t.Difficulty]
		if !ok {
			st = &model.TourStat{Difficulty: t.Difficulty, MinPrice: math.Inf(1), MaxPrice: math.Inf(-1)}
			byDifficulty[t.Difficulty] = st
			order = append(order, t.Difficulty)
		}
		st.NumTours++
		st.NumRatings += t.RatingsQuantity
		ratingSum[t.Difficulty] += t.RatingsAverage
		priceSum[t.Difficulty] += t.Price
		st.MinPrice = math.Min(st.MinPrice, t.Price)
		st.MaxPrice = math.Max(st.MaxPrice, t.Price)
	}

	stats := make([]model.TourStat, 0, len(order))
	for _, d := range order {
		st := byDifficulty[d]
		st.AvgRating = ratingSum[d] / float64(st.NumTours)
		st.AvgPrice = priceSum[d] / float64(st.NumTours)
		stats = append(stats, *st)
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].AvgPrice < stats[j].AvgPrice })
	return stats, nil
}

func (s *Store) MonthlyPlan(ctx context.Context, year, limit int) ([]model.MonthPlan, error) {
	tours, err := s.visibleTours(ctx)
	if err != nil {
		return nil, err
	}

	plans := make(map[int]*model.MonthPlan)
	for _, t := range tours {
		for _, d := range t.StartDates {
			if d.UTC().Year() != year {
				continue
			}
			m := int(d.UTC().Month())
			p, ok := plans[m]
			if !ok {
				p = &model.MonthPlan{Month: m}
				plans[m] = p
			}
			p.NumTourStarts++
			p.Tours = append(p.Tours, t.Name)
		}
	}

	out := make([]model.MonthPlan, 0, len(plans))
	for _, p := range plans {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NumTourStarts != out[j].NumTourStarts {
			return out[i].NumTourStarts > out[j].NumTourStarts
		}
		return out[i].Month < out[j].Month
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Within(ctx context.Context, lng, lat, radius float64) ([]*model.Tour, error) {
	tours, err := s.visibleTours(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Tour, 0)
	for _, t := range tours {
		if !hasPoint(t) {
			continue
		}
		c := t.StartLocation.Coordinates
		if angularDistance(lng, lat, c[0], c[1]) <= radius {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) Distances(ctx context.Context, lng, lat, multiplier float64) ([]model.TourDistance, error) {
	tours, err := s.visibleTours(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.TourDistance, 0, len(tours))
	for _, t := range tours {
		if !hasPoint(t) {
			continue
		}
		c := t.StartLocation.Coordinates
		meters := angularDistance(lng, lat, c[0], c[1]) * earthRadiusMeters
		out = append(out, model.TourDistance{ID: t.ID, Name: t.Name, Distance: meters * multiplier})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

func hasPoint(t *model.Tour) bool {
	return t.StartLocation != nil && len(t.StartLocation.Coordinates) == 2
}

// angularDistance 两点间的球面角距离（弧度，haversine）
func angularDistance(lng1, lat1, lng2, lat2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	phi1, phi2 := toRad(lat1), toRad(lat2)
	dPhi := phi2 - phi1
	dLambda := toRad(lng2 - lng1)
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
