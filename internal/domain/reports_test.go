package domain

import (
	"context"
	"net/url"
	"testing"
	"time"

	"natours/internal/shared/model"
	"natours/internal/shared/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLatLng(t *testing.T) {
	lat, lng, err := ParseLatLng("34.111745,-118.113491")
	require.NoError(t, err)
	assert.Equal(t, 34.111745, lat)
	assert.Equal(t, -118.113491, lng)

	for _, bad := range []string{"", "34.1", "abc,1", "1,abc", "91,0", "0,181"} {
		_, _, err := ParseLatLng(bad)
		assert.ErrorIs(t, err, query.ErrBadRequest, "input %q", bad)
	}
}

func TestTop5Cheap(t *testing.T) {
	params := Top5Cheap(url.Values{"difficulty": {"easy"}, "limit": {"50"}})
	assert.Equal(t, "5", params.Get("limit"))
	assert.Equal(t, "-ratingsAverage,price", params.Get("sort"))
	assert.Equal(t, "name,price,ratingsAverage,summary,difficulty", params.Get("fields"))
	assert.Equal(t, "easy", params.Get("difficulty"))
}

func seedGeoTours(t *testing.T, r *Registry) {
	t.Helper()
	ctx := context.Background()
	for _, tour := range []*model.Tour{
		{
			Name: "The Los Angeles Walk", Difficulty: model.DifficultyEasy, Price: 100,
			StartLocation: &model.GeoPoint{Coordinates: []float64{-118.2437, 34.0522}},
			StartDates:    []time.Time{time.Date(2021, 7, 1, 9, 0, 0, 0, time.UTC)},
		},
		{
			Name: "The New York Stroll", Difficulty: model.DifficultyMedium, Price: 300,
			StartLocation: &model.GeoPoint{Coordinates: []float64{-74.0060, 40.7128}},
			StartDates:    []time.Time{time.Date(2021, 7, 9, 9, 0, 0, 0, time.UTC), time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)},
		},
		{
			Name: "The Secret Hideout", Difficulty: model.DifficultyEasy, Price: 10, SecretTour: true,
			StartLocation: &model.GeoPoint{Coordinates: []float64{-118.2, 34.0}},
		},
	} {
		tour.Duration, tour.MaxGroupSize, tour.Summary, tour.ImageCover = 3, 10, "summary", "cover.jpg"
		_, err := r.Tours.CreateOne(ctx, tour)
		require.NoError(t, err)
	}
}

func TestReportsWithinAndDistances(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	seedGeoTours(t, r)

	within, err := r.Reports.Within(ctx, "200", "34.111745,-118.113491", UnitMiles)
	require.NoError(t, err)
	require.Len(t, within, 1)
	assert.Equal(t, "The Los Angeles Walk", within[0].Name)

	within, err = r.Reports.Within(ctx, "5000", "34.111745,-118.113491", UnitKilometers)
	require.NoError(t, err)
	assert.Len(t, within, 2)

	distances, err := r.Reports.Distances(ctx, "34.111745,-118.113491", UnitKilometers)
	require.NoError(t, err)
	require.Len(t, distances, 2)
	assert.Equal(t, "The Los Angeles Walk", distances[0].Name)
	assert.InDelta(t, 13.7, distances[0].Distance, 1)
	assert.Greater(t, distances[1].Distance, 3000.0)

	miles, err := r.Reports.Distances(ctx, "34.111745,-118.113491", UnitMiles)
	require.NoError(t, err)
	assert.InDelta(t, distances[1].Distance*0.621371, miles[1].Distance, 1)
}

func TestReportsRejectBadInput(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	_, err := r.Reports.Within(ctx, "200", "34.1,-118.1", "furlong")
	assert.ErrorIs(t, err, query.ErrBadRequest)
	_, err = r.Reports.Within(ctx, "-1", "34.1,-118.1", UnitMiles)
	assert.ErrorIs(t, err, query.ErrBadRequest)
	_, err = r.Reports.Within(ctx, "200", "north", UnitMiles)
	assert.ErrorIs(t, err, query.ErrBadRequest)
	_, err = r.Reports.Distances(ctx, "34.1,-118.1", "")
	assert.ErrorIs(t, err, query.ErrBadRequest)
	_, err = r.Reports.MonthlyPlan(ctx, "twenty")
	assert.ErrorIs(t, err, query.ErrBadRequest)
}

func TestReportsStatsAndMonthlyPlan(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	seedGeoTours(t, r)

	stats, err := r.Reports.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, model.DifficultyEasy, stats[0].Difficulty)
	assert.Equal(t, 1, stats[0].NumTours)
	assert.Equal(t, 100.0, stats[0].AvgPrice)

	plan, err := r.Reports.MonthlyPlan(ctx, "2021")
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, 7, plan[0].Month)
	assert.Equal(t, 2, plan[0].NumTourStarts)
	assert.ElementsMatch(t, []string{"The Los Angeles Walk", "The New York Stroll"}, plan[0].Tours)

	// 评分降到 4.5 以下的线路不再进入统计
	page, err := r.Tours.GetAll(ctx, url.Values{"name": {"The New York Stroll"}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	u := createUser(t, r, "Alice", "alice@example.com")
	_, err = r.Reviews.CreateOne(ctx, &model.Review{Review: "meh", Rating: 2, Tour: page.Items[0].ID, User: u.ID})
	require.NoError(t, err)

	stats, err = r.Reports.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, model.DifficultyEasy, stats[0].Difficulty)
}
