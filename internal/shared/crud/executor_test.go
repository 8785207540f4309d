package crud

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"

	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"
	"natours/internal/shared/storage/memstore"
	"natours/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// recorder 记录写入事件
type recorder[T any] struct {
	mu     sync.Mutex
	events []WriteEvent[T]
}

func (r *recorder[T]) observe(_ context.Context, ev WriteEvent[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder[T]) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func tourHooks() Hooks[model.Tour] {
	return Hooks[model.Tour]{
		Entity: "tour",
		Schema: query.Schema{
			"name":           query.KindString,
			"price":          query.KindNumber,
			"difficulty":     query.KindString,
			"duration":       query.KindNumber,
			"ratingsAverage": query.KindNumber,
			"createdAt":      query.KindTime,
		},
		Protected:     []string{"ratingsAverage", "ratingsQuantity"},
		DefaultFilter: []query.Predicate{query.Ne("secretTour", true)},
		Prepare: func(_ context.Context, t, before *model.Tour) error {
			t.Normalize(before == nil)
			return nil
		},
		Validate: func(t *model.Tour, _ bool) error { return t.Validate() },
		Expanders: map[string]Expander[model.Tour]{
			"reviews": func(_ context.Context, docs []*model.Tour) error {
				for _, d := range docs {
					d.Reviews = []*model.Review{}
				}
				return nil
			},
		},
	}
}

func newTourExecutor(t *testing.T) (*Executor[model.Tour, *model.Tour], *recorder[model.Tour]) {
	t.Helper()
	rec := &recorder[model.Tour]{}
	hooks := tourHooks()
	hooks.Observers = []Observer[model.Tour]{rec.observe}
	return New[model.Tour](memstore.NewStore().Tours(), hooks, logging.Discard()), rec
}

func sampleTour(name string, price float64) *model.Tour {
	return &model.Tour{
		Name:         name,
		Duration:     5,
		MaxGroupSize: 10,
		Difficulty:   model.DifficultyEasy,
		Price:        price,
		Summary:      "A walk",
		ImageCover:   "cover.jpg",
	}
}

func TestCreateOne(t *testing.T) {
	ex, rec := newTourExecutor(t)
	ctx := context.Background()

	in := sampleTour("The Forest Hiker", 397)
	in.RatingsAverage = 1
	in.RatingsQuantity = 40

	created, err := ex.CreateOne(ctx, in)
	require.NoError(t, err)
	assert.False(t, created.ID.IsZero())
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, "the-forest-hiker", created.Slug)
	assert.Equal(t, model.DefaultRatingsAverage, created.RatingsAverage)
	assert.Equal(t, 0, created.RatingsQuantity)
	assert.Equal(t, []EventKind{Created}, rec.kinds())

	got, err := ex.GetOne(ctx, created.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "The Forest Hiker", got.Name)
}

func TestCreateOneReportsAllViolations(t *testing.T) {
	ex, rec := newTourExecutor(t)

	_, err := ex.CreateOne(context.Background(), &model.Tour{Name: "short", Price: -1})
	require.Error(t, err)

	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	fields := map[string]bool{}
	for _, f := range ve.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{"name", "duration", "maxGroupSize", "difficulty", "price", "summary", "imageCover"} {
		assert.True(t, fields[want], "missing violation for %s in %v", want, ve.Fields)
	}
	assert.Empty(t, rec.kinds())
}

func TestCreateOneDuplicate(t *testing.T) {
	ex, _ := newTourExecutor(t)
	ctx := context.Background()

	_, err := ex.CreateOne(ctx, sampleTour("The Forest Hiker", 397))
	require.NoError(t, err)
	_, err = ex.CreateOne(ctx, sampleTour("The Forest Hiker", 100))
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestGetOneNotFound(t *testing.T) {
	ex, _ := newTourExecutor(t)
	ctx := context.Background()

	_, err := ex.GetOne(ctx, "not-an-id")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = ex.GetOne(ctx, bson.NewObjectID().Hex())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	secret := sampleTour("The Secret Hideout", 10)
	secret.SecretTour = true
	created, err := ex.CreateOne(ctx, secret)
	require.NoError(t, err)

	_, err = ex.GetOne(ctx, created.ID.Hex())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetOneExpand(t *testing.T) {
	ex, _ := newTourExecutor(t)
	ctx := context.Background()
	created, err := ex.CreateOne(ctx, sampleTour("The Forest Hiker", 397))
	require.NoError(t, err)

	got, err := ex.GetOne(ctx, created.ID.Hex(), "reviews")
	require.NoError(t, err)
	assert.NotNil(t, got.Reviews)

	_, err = ex.GetOne(ctx, created.ID.Hex(), "guides")
	assert.ErrorIs(t, err, query.ErrBadRequest)
}

func TestGetAll(t *testing.T) {
	ex, _ := newTourExecutor(t)
	ctx := context.Background()

	for i, name := range []string{"The Cheap Walk A", "The Cheap Walk B", "The Dear Walk C"} {
		_, err := ex.CreateOne(ctx, sampleTour(name, float64(100*(i+1))))
		require.NoError(t, err)
	}
	secret := sampleTour("The Secret Hideout", 50)
	secret.SecretTour = true
	_, err := ex.CreateOne(ctx, secret)
	require.NoError(t, err)

	page, err := ex.GetAll(ctx, url.Values{"price[lte]": {"200"}, "sort": {"-price"}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "The Cheap Walk B", page.Items[0].Name)
	assert.EqualValues(t, 2, page.Total)

	page, err = ex.GetAll(ctx, url.Values{"limit": {"1"}, "page": {"2"}, "sort": {"price"}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "The Cheap Walk B", page.Items[0].Name)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)

	page, err = ex.GetAll(ctx, nil, query.Eq("name", "The Dear Walk C"))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	_, err = ex.GetAll(ctx, url.Values{"color": {"red"}})
	assert.ErrorIs(t, err, query.ErrBadRequest)
}

func TestGetAllPastTheLastPage(t *testing.T) {
	ex, _ := newTourExecutor(t)
	ctx := context.Background()
	_, err := ex.CreateOne(ctx, sampleTour("The Forest Hiker", 397))
	require.NoError(t, err)

	page, err := ex.GetAll(ctx, url.Values{"page": {"92233720368547760"}, "limit": {"100"}})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.EqualValues(t, 1, page.Total)
}

// keysOf 把渲染后的文档还原为 JSON 对象
func keysOf(t *testing.T, doc any) map[string]json.RawMessage {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestPageDocumentsHonorProjection(t *testing.T) {
	ex, _ := newTourExecutor(t)
	ctx := context.Background()
	_, err := ex.CreateOne(ctx, sampleTour("The Forest Hiker", 397))
	require.NoError(t, err)

	page, err := ex.GetAll(ctx, url.Values{"fields": {"name,price"}})
	require.NoError(t, err)
	docs, err := page.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 1)

	got := keysOf(t, docs[0])
	assert.Len(t, got, 3)
	assert.Contains(t, got, "_id")
	assert.JSONEq(t, `"The Forest Hiker"`, string(got["name"]))
	assert.JSONEq(t, `397`, string(got["price"]))

	page, err = ex.GetAll(ctx, nil)
	require.NoError(t, err)
	docs, err = page.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.IsType(t, &model.Tour{}, docs[0])
}

func TestPageDocumentsNestedPaths(t *testing.T) {
	tour := sampleTour("The Sea Explorer", 497)
	tour.StartLocation = &model.GeoPoint{Type: model.GeoPointType, Coordinates: []float64{-80.18, 25.77}, Address: "Miami, USA"}
	tour.Locations = []model.Location{
		{Type: model.GeoPointType, Coordinates: []float64{-80.12, 25.79}, Description: "Lummus Park Beach", Day: 1},
		{Type: model.GeoPointType, Coordinates: []float64{-80.64, 24.91}, Description: "Islamorada", Day: 2},
	}
	tour.Reviews = []*model.Review{{Review: "Great", Rating: 5}}

	page := &Page[model.Tour]{Items: []*model.Tour{tour}, Fields: []string{"startLocation.address", "locations.day"}}
	docs, err := page.Documents()
	require.NoError(t, err)

	got := keysOf(t, docs[0])
	assert.JSONEq(t, `{"address":"Miami, USA"}`, string(got["startLocation"]))
	assert.JSONEq(t, `[{"day":1},{"day":2}]`, string(got["locations"]))
	assert.Contains(t, got, "reviews", "展开字段保留")
	assert.NotContains(t, got, "price")
	assert.NotContains(t, got, "ratingsAverage")
}

func TestUpdateOneMergesAndProtects(t *testing.T) {
	ex, rec := newTourExecutor(t)
	ctx := context.Background()
	created, err := ex.CreateOne(ctx, sampleTour("The Forest Hiker", 397))
	require.NoError(t, err)

	patch := JSONPatch[model.Tour]([]byte(`{"name":"The Forest Walker","ratingsAverage":1,"ratingsQuantity":99,"_id":"` + bson.NewObjectID().Hex() + `"}`))
	updated, err := ex.UpdateOne(ctx, created.ID.Hex(), patch)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "The Forest Walker", updated.Name)
	assert.Equal(t, "the-forest-walker", updated.Slug)
	assert.Equal(t, 397.0, updated.Price)
	assert.Equal(t, model.DefaultRatingsAverage, updated.RatingsAverage)
	assert.Equal(t, 0, updated.RatingsQuantity)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	require.Equal(t, []EventKind{Created, Updated}, rec.kinds())
	last := rec.events[1]
	assert.Equal(t, "The Forest Hiker", last.Before.Name)
	assert.Equal(t, "The Forest Walker", last.After.Name)
}

func TestUpdateOneIdempotent(t *testing.T) {
	ex, _ := newTourExecutor(t)
	ctx := context.Background()
	created, err := ex.CreateOne(ctx, sampleTour("The Forest Hiker", 397))
	require.NoError(t, err)

	body := []byte(`{"price":500,"difficulty":"medium"}`)
	first, err := ex.UpdateOne(ctx, created.ID.Hex(), JSONPatch[model.Tour](body))
	require.NoError(t, err)
	second, err := ex.UpdateOne(ctx, created.ID.Hex(), JSONPatch[model.Tour](body))
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestUpdateOneValidatesMergedDocument(t *testing.T) {
	ex, _ := newTourExecutor(t)
	ctx := context.Background()
	created, err := ex.CreateOne(ctx, sampleTour("The Forest Hiker", 397))
	require.NoError(t, err)

	// priceDiscount 只有与已存储的 price 比较才能判定
	_, err = ex.UpdateOne(ctx, created.ID.Hex(), JSONPatch[model.Tour]([]byte(`{"priceDiscount":500}`)))
	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))

	got, err := ex.GetOne(ctx, created.ID.Hex())
	require.NoError(t, err)
	assert.Nil(t, got.PriceDiscount)
}

func TestUpdateOneUnsetsClearedFields(t *testing.T) {
	ex, _ := newTourExecutor(t)
	ctx := context.Background()
	in := sampleTour("The Forest Hiker", 397)
	discount := 50.0
	in.PriceDiscount = &discount
	created, err := ex.CreateOne(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, created.PriceDiscount)

	updated, err := ex.UpdateOne(ctx, created.ID.Hex(), JSONPatch[model.Tour]([]byte(`{"priceDiscount":null}`)))
	require.NoError(t, err)
	assert.Nil(t, updated.PriceDiscount)
}

func TestUpdateOneErrors(t *testing.T) {
	ex, rec := newTourExecutor(t)
	ctx := context.Background()
	created, err := ex.CreateOne(ctx, sampleTour("The Forest Hiker", 397))
	require.NoError(t, err)
	other, err := ex.CreateOne(ctx, sampleTour("The Sea Explorer", 497))
	require.NoError(t, err)

	_, err = ex.UpdateOne(ctx, bson.NewObjectID().Hex(), JSONPatch[model.Tour]([]byte(`{"price":1}`)))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = ex.UpdateOne(ctx, created.ID.Hex(), JSONPatch[model.Tour]([]byte(`[1,2]`)))
	assert.ErrorIs(t, err, query.ErrBadRequest)

	_, err = ex.UpdateOne(ctx, other.ID.Hex(), JSONPatch[model.Tour]([]byte(`{"name":"The Forest Hiker"}`)))
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	assert.Equal(t, []EventKind{Created, Created}, rec.kinds())
}

func TestDeleteOneHard(t *testing.T) {
	ex, rec := newTourExecutor(t)
	ctx := context.Background()
	created, err := ex.CreateOne(ctx, sampleTour("The Forest Hiker", 397))
	require.NoError(t, err)

	require.NoError(t, ex.DeleteOne(ctx, created.ID.Hex()))
	_, err = ex.GetOne(ctx, created.ID.Hex())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, ex.DeleteOne(ctx, created.ID.Hex()), storage.ErrNotFound)

	require.Equal(t, []EventKind{Created, Deleted}, rec.kinds())
	assert.Equal(t, "The Forest Hiker", rec.events[1].Before.Name)
}

func TestDeleteOneSoft(t *testing.T) {
	users := memstore.NewStore().Users()
	ex := New[model.User](users, Hooks[model.User]{
		Entity:        "user",
		DefaultFilter: []query.Predicate{query.Ne("active", false)},
		Delete:        SoftDelete,
		Prepare: func(_ context.Context, u, before *model.User) error {
			u.Normalize(before == nil)
			return u.HashPassword()
		},
	}, logging.Discard())
	ctx := context.Background()

	created, err := ex.CreateOne(ctx, &model.User{Name: "Jonas", Email: "jonas@example.com", Password: "pass1234", PasswordConfirm: "pass1234"})
	require.NoError(t, err)

	require.NoError(t, ex.DeleteOne(ctx, created.ID.Hex()))

	_, err = ex.GetOne(ctx, created.ID.Hex())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 文档仍在存储中，只是被默认过滤条件隐藏
	raw, err := users.FindByID(ctx, created.ID, nil)
	require.NoError(t, err)
	assert.False(t, raw.IsActive())
}

func TestDeleteMany(t *testing.T) {
	ex, rec := newTourExecutor(t)
	ctx := context.Background()
	for _, name := range []string{"The Easy Walk One", "The Easy Walk Two"} {
		_, err := ex.CreateOne(ctx, sampleTour(name, 100))
		require.NoError(t, err)
	}
	_, err := ex.CreateOne(ctx, sampleTour("The Dear Walk Three", 900))
	require.NoError(t, err)

	n, err := ex.DeleteMany(ctx, query.Eq("price", 100.0))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, []EventKind{Created, Created, Created, Deleted, Deleted}, rec.kinds())

	n, err = ex.DeleteMany(ctx, query.Eq("price", 100.0))
	require.NoError(t, err)
	assert.Zero(t, n)

	page, err := ex.GetAll(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
}

func TestObserverPanicDoesNotFailWrite(t *testing.T) {
	ex, _ := newTourExecutor(t)
	ex.Observe(func(context.Context, WriteEvent[model.Tour]) { panic("boom") })

	created, err := ex.CreateOne(context.Background(), sampleTour("The Forest Hiker", 397))
	require.NoError(t, err)
	assert.NotNil(t, created)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "deleted", Deleted.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
