package query

import (
	"errors"
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var tourSchema = Schema{
	"name":                  KindString,
	"difficulty":            KindString,
	"price":                 KindNumber,
	"duration":              KindNumber,
	"ratingsAverage":        KindNumber,
	"secretTour":            KindBool,
	"createdAt":             KindTime,
	"startLocation":         KindString,
	"startLocation.address": KindString,
	"guides":                KindObjectID,
}

func mustParse(t *testing.T, raw string, opts Options, scope ...Predicate) *Spec {
	t.Helper()
	params, err := url.ParseQuery(raw)
	require.NoError(t, err)
	spec, err := Parse(params, tourSchema, opts, scope...)
	require.NoError(t, err)
	return spec
}

// ============================================================================
// 组合场景
// ============================================================================

func TestParse_FilterSortPaginate(t *testing.T) {
	spec := mustParse(t, "difficulty=easy&price[gte]=100&sort=-price,name&page=2&limit=5", Options{})

	assert.Equal(t, []Predicate{
		{Field: "difficulty", Op: OpEq, Value: "easy"},
		{Field: "price", Op: OpGte, Value: float64(100)},
	}, spec.Filter)
	assert.Equal(t, []SortKey{{Field: "price", Desc: true}, {Field: "name"}}, spec.Sort)
	assert.Equal(t, 5, spec.Skip())
	assert.Equal(t, 5, spec.Limit)

	assert.Equal(t, bson.D{
		{Key: "difficulty", Value: "easy"},
		{Key: "price", Value: bson.D{{Key: "$gte", Value: float64(100)}}},
	}, spec.MongoFilter())
	assert.Equal(t, bson.D{
		{Key: "price", Value: -1},
		{Key: "name", Value: 1},
		{Key: "_id", Value: 1},
	}, spec.MongoSort())
}

func TestParse_Defaults(t *testing.T) {
	spec := mustParse(t, "", Options{Hidden: []string{"password"}})

	assert.Empty(t, spec.Filter)
	assert.Equal(t, []SortKey{{Field: "createdAt", Desc: true}}, spec.Sort)
	assert.Empty(t, spec.Fields)
	assert.Equal(t, []string{VersionField, "password"}, spec.Exclude)
	assert.Equal(t, 1, spec.Page)
	assert.Equal(t, 100, spec.Limit)
	assert.Equal(t, 0, spec.Skip())
	assert.Equal(t, bson.D{{Key: "__v", Value: 0}, {Key: "password", Value: 0}}, spec.MongoProjection())
}

func TestParse_ReservedKeysNotFiltered(t *testing.T) {
	spec := mustParse(t, "page=1&sort=name&limit=3&fields=name", Options{})
	assert.Empty(t, spec.Filter)
}

// ============================================================================
// 过滤
// ============================================================================

func TestFilter_ComparisonTokens(t *testing.T) {
	spec := mustParse(t, "price[gt]=10&price[lte]=500&duration[lt]=7&ratingsAverage[gte]=4.5", Options{})

	assert.ElementsMatch(t, []Predicate{
		{Field: "price", Op: OpGt, Value: float64(10)},
		{Field: "price", Op: OpLte, Value: float64(500)},
		{Field: "duration", Op: OpLt, Value: float64(7)},
		{Field: "ratingsAverage", Op: OpGte, Value: 4.5},
	}, spec.Filter)

	filter := spec.MongoFilter()
	var priceOps bson.D
	for _, e := range filter {
		if e.Key == "price" {
			priceOps = e.Value.(bson.D)
		}
	}
	assert.Len(t, priceOps, 2, "同一字段的操作符应合并")
}

func TestFilter_UnknownTokenIsNestedEquality(t *testing.T) {
	spec := mustParse(t, "startLocation[address]=Miami", Options{})
	assert.Equal(t, []Predicate{{Field: "startLocation.address", Op: OpEq, Value: "Miami"}}, spec.Filter)
}

func TestFilter_RepeatedValuesBecomeMembership(t *testing.T) {
	spec := mustParse(t, "difficulty=easy&difficulty=medium", Options{})
	require.Len(t, spec.Filter, 1)
	assert.Equal(t, OpIn, spec.Filter[0].Op)
	assert.Equal(t, []any{"easy", "medium"}, spec.Filter[0].Value)
	assert.Equal(t, bson.D{{Key: "difficulty", Value: bson.D{{Key: "$in", Value: bson.A{"easy", "medium"}}}}}, spec.MongoFilter())
}

func TestFilter_Casting(t *testing.T) {
	id := bson.NewObjectID()
	spec := mustParse(t, "secretTour=false&createdAt[gte]=2021-04-01&guides="+id.Hex(), Options{})

	byField := map[string]any{}
	for _, p := range spec.Filter {
		byField[p.Field] = p.Value
	}
	assert.Equal(t, false, byField["secretTour"])
	assert.Equal(t, time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC), byField["createdAt"])
	assert.Equal(t, id, byField["guides"])
}

func TestFilter_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown field", "password=secret"},
		{"operator injection", "price[$where]=1"},
		{"dollar key", "$where=1"},
		{"bad number", "price[gte]=cheap"},
		{"bad bool", "secretTour=maybe"},
		{"bad id", "guides=xyz"},
		{"unknown nested path", "startLocation[coordinates]=1"},
		{"unsupported comparison token", "price[ne]=5"},
		{"unknown sort field", "sort=-password"},
		{"unknown projection", "fields=name,password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := url.ParseQuery(tt.raw)
			require.NoError(t, err)
			_, err = Parse(params, tourSchema, Options{Hidden: []string{"password"}})
			assert.True(t, errors.Is(err, ErrBadRequest), "err = %v", err)
		})
	}
}

func TestFilter_ScopeIsAlwaysApplied(t *testing.T) {
	tourID := bson.NewObjectID()
	spec := mustParse(t, "difficulty=easy", Options{}, Eq("tour", tourID))
	assert.Equal(t, []Predicate{
		{Field: "difficulty", Op: OpEq, Value: "easy"},
		{Field: "tour", Op: OpEq, Value: tourID},
	}, spec.Filter)
}

func TestMongoFilter_ConflictingEqualityUsesAnd(t *testing.T) {
	a, b := bson.NewObjectID(), bson.NewObjectID()
	filter := MongoFilter([]Predicate{Eq("tour", a), Eq("tour", b)})
	require.Len(t, filter, 1)
	assert.Equal(t, "$and", filter[0].Key)
	assert.Len(t, filter[0].Value, 2)
}

// ============================================================================
// 排序 / 投影 / 分页
// ============================================================================

func TestSort_DuplicatesAndBlanks(t *testing.T) {
	spec := mustParse(t, "sort=price,,-price, name", Options{})
	assert.Equal(t, []SortKey{{Field: "price"}, {Field: "name"}}, spec.Sort)
}

func TestSort_LastValueWins(t *testing.T) {
	spec := mustParse(t, "sort=name&sort=-price", Options{})
	assert.Equal(t, []SortKey{{Field: "price", Desc: true}}, spec.Sort)
}

func TestLimitFields_Inclusion(t *testing.T) {
	spec := mustParse(t, "fields=name,price,_id,name", Options{})
	assert.Equal(t, []string{"name", "price"}, spec.Fields)
	assert.Empty(t, spec.Exclude)
	assert.Equal(t, bson.D{{Key: "name", Value: 1}, {Key: "price", Value: 1}}, spec.MongoProjection())
}

func TestLimitFields_DropsPathsCoveredByParent(t *testing.T) {
	spec := mustParse(t, "fields=startLocation.address,name,startLocation", Options{})
	assert.Equal(t, []string{"name", "startLocation"}, spec.Fields)

	spec = mustParse(t, "fields=startLocation.address,name", Options{})
	assert.Equal(t, []string{"startLocation.address", "name"}, spec.Fields)
}

func TestPaginate_FallsBackToDefaults(t *testing.T) {
	tests := []struct {
		raw       string
		wantPage  int
		wantLimit int
	}{
		{"page=abc&limit=xyz", 1, 100},
		{"page=0&limit=-5", 1, 100},
		{"page=3&limit=10", 3, 10},
		{"page=2.7&limit=4", 2, 4},
		{"limit=1000000", 1, 1000},
		{"page=Inf", 1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			spec := mustParse(t, tt.raw, Options{})
			assert.Equal(t, tt.wantPage, spec.Page)
			assert.Equal(t, tt.wantLimit, spec.Limit)
		})
	}
}

func TestPaginate_OversizedPageStaysPastTheEnd(t *testing.T) {
	for _, raw := range []string{
		"page=92233720368547760&limit=100",
		"page=99999999999999999999&limit=100",
		"page=1e30&limit=100",
	} {
		t.Run(raw, func(t *testing.T) {
			spec := mustParse(t, raw, Options{})
			assert.Equal(t, 100, spec.Limit)
			assert.Equal(t, math.MaxInt32/100+1, spec.Page)
			assert.Positive(t, spec.Skip())
			assert.LessOrEqual(t, spec.Skip(), math.MaxInt32)
		})
	}
}

func TestPaginate_ConfiguredMaximum(t *testing.T) {
	spec := mustParse(t, "limit=80", Options{DefaultLimit: 20, MaxLimit: 50})
	assert.Equal(t, 50, spec.Limit)

	spec = mustParse(t, "", Options{DefaultLimit: 20, MaxLimit: 50})
	assert.Equal(t, 20, spec.Limit)
}

func TestFindOptions_SkipAndLimit(t *testing.T) {
	spec := mustParse(t, "page=4&limit=25", Options{})
	var opts options.FindOptions
	for _, set := range spec.FindOptions().List() {
		require.NoError(t, set(&opts))
	}
	require.NotNil(t, opts.Skip)
	require.NotNil(t, opts.Limit)
	assert.Equal(t, int64(75), *opts.Skip)
	assert.Equal(t, int64(25), *opts.Limit)
}

// ============================================================================
// 阶段顺序
// ============================================================================

func TestBuilder_StageOrderIsFixed(t *testing.T) {
	params := url.Values{"sort": {"name"}}

	_, err := NewBuilder(params, tourSchema, Options{}).Sort().Filter().Spec()
	assert.True(t, errors.Is(err, ErrBadRequest))

	_, err = NewBuilder(params, tourSchema, Options{}).Filter().Paginate().Spec()
	assert.True(t, errors.Is(err, ErrBadRequest), "跳过 sort 直接分页应报错")

	_, err = NewBuilder(params, tourSchema, Options{}).Filter().Filter().Spec()
	assert.True(t, errors.Is(err, ErrBadRequest))

	spec, err := NewBuilder(params, tourSchema, Options{}).Filter().Sort().Spec()
	require.NoError(t, err)
	assert.Equal(t, 100, spec.Limit, "剩余阶段应按默认值补齐")
}
