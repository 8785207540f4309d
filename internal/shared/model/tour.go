package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// Tour - 旅游线路
// ============================================================================

// Difficulty 难度
type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyMedium    Difficulty = "medium"
	DifficultyDifficult Difficulty = "difficult"
)

// GeoPointType GeoJSON 点类型，目前唯一支持的类型
const GeoPointType = "Point"

// GeoPoint GeoJSON 点，coordinates 为 [经度, 纬度]
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
	Address     string    `json:"address,omitempty" bson:"address,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
}

// Location 行程途经点
type Location struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
	Address     string    `json:"address,omitempty" bson:"address,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	Day         int       `json:"day" bson:"day" validate:"gte=0"`
}

// Tour 旅游线路
//
// RatingsAverage / RatingsQuantity 只由评分引擎写入，
// 创建时重置为默认值，更新时不会被客户端覆盖。
type Tour struct {
	ID   bson.ObjectID `json:"_id" bson:"_id"`
	Name string        `json:"name" bson:"name" validate:"required,min=10,max=40"`
	Slug string        `json:"slug" bson:"slug"`

	Duration     float64    `json:"duration" bson:"duration" validate:"required,gt=0"`
	MaxGroupSize int        `json:"maxGroupSize" bson:"maxGroupSize" validate:"required,gt=0"`
	Difficulty   Difficulty `json:"difficulty" bson:"difficulty" validate:"required,oneof=easy medium difficult"`

	RatingsAverage  float64 `json:"ratingsAverage" bson:"ratingsAverage" validate:"gte=1,lte=5"`
	RatingsQuantity int     `json:"ratingsQuantity" bson:"ratingsQuantity" validate:"gte=0"`

	Price         float64  `json:"price" bson:"price" validate:"required,gt=0"`
	PriceDiscount *float64 `json:"priceDiscount,omitempty" bson:"priceDiscount,omitempty"`

	Summary     string   `json:"summary" bson:"summary" validate:"required"`
	Description string   `json:"description,omitempty" bson:"description,omitempty"`
	ImageCover  string   `json:"imageCover" bson:"imageCover" validate:"required"`
	Images      []string `json:"images" bson:"images"`

	CreatedAt  time.Time   `json:"createdAt" bson:"createdAt"`
	StartDates []time.Time `json:"startDates" bson:"startDates"`
	SecretTour bool        `json:"secretTour" bson:"secretTour"`

	StartLocation *GeoPoint       `json:"startLocation,omitempty" bson:"startLocation,omitempty"`
	Locations     []Location      `json:"locations" bson:"locations" validate:"dive"`
	Guides        []bson.ObjectID `json:"guides" bson:"guides"`

	Revision int `json:"-" bson:"__v"`

	// === 响应专用（不持久化） ===

	GuideProfiles []*User   `json:"guideProfiles,omitempty" bson:"-"`
	Reviews       []*Review `json:"reviews,omitempty" bson:"-"`
}

func (t *Tour) DocumentID() bson.ObjectID      { return t.ID }
func (t *Tour) SetDocumentID(id bson.ObjectID) { t.ID = id }
func (t *Tour) SetCreatedAt(at time.Time)      { t.CreatedAt = at }

// DurationWeeks 以周计的时长
func (t *Tour) DurationWeeks() float64 {
	return t.Duration / 7
}

// MarshalJSON 附加 durationWeeks
func (t Tour) MarshalJSON() ([]byte, error) {
	type plain Tour
	out := struct {
		plain
		DurationWeeks *float64 `json:"durationWeeks,omitempty"`
	}{plain: plain(t)}
	if t.Duration > 0 {
		w := t.DurationWeeks()
		out.DurationWeeks = &w
	}
	return json.Marshal(out)
}

// Normalize 写入前的规范化：去空白、生成 slug、补齐默认值
//
// isNew 为 true 时重置派生评分字段。
func (t *Tour) Normalize(isNew bool) {
	t.Name = strings.TrimSpace(t.Name)
	t.Summary = strings.TrimSpace(t.Summary)
	t.Description = strings.TrimSpace(t.Description)
	t.Slug = Slugify(t.Name)

	if isNew {
		t.RatingsAverage = DefaultRatingsAverage
		t.RatingsQuantity = DefaultRatingsQuantity
	}
	t.RatingsAverage = Round1(t.RatingsAverage)

	if t.StartLocation != nil && t.StartLocation.Type == "" {
		t.StartLocation.Type = GeoPointType
	}
	for i := range t.Locations {
		if t.Locations[i].Type == "" {
			t.Locations[i].Type = GeoPointType
		}
	}

	if t.Images == nil {
		t.Images = []string{}
	}
	if t.StartDates == nil {
		t.StartDates = []time.Time{}
	}
	if t.Locations == nil {
		t.Locations = []Location{}
	}
	if t.Guides == nil {
		t.Guides = []bson.ObjectID{}
	}
}

// Validate 校验全部规则
func (t *Tour) Validate() error {
	return check("tour", t).Err()
}

// tourRules priceDiscount 必须低于同一文档的 price
func tourRules(sl validator.StructLevel) {
	t := sl.Current().Interface().(Tour)
	if t.PriceDiscount == nil {
		return
	}
	if *t.PriceDiscount < 0 {
		sl.ReportError(t.PriceDiscount, "priceDiscount", "PriceDiscount", "discount",
			"must not be negative")
		return
	}
	if *t.PriceDiscount >= t.Price {
		sl.ReportError(t.PriceDiscount, "priceDiscount", "PriceDiscount", "discount",
			fmt.Sprintf("discount price (%g) should be below the regular price", *t.PriceDiscount))
	}
}

func pointRules(sl validator.StructLevel) {
	p := sl.Current().Interface().(GeoPoint)
	checkGeo(sl, p.Type, p.Coordinates)
}

func locationRules(sl validator.StructLevel) {
	l := sl.Current().Interface().(Location)
	checkGeo(sl, l.Type, l.Coordinates)
}

func checkGeo(sl validator.StructLevel, typ string, coords []float64) {
	if typ != "" && typ != GeoPointType {
		sl.ReportError(typ, "type", "Type", "point", "must be Point")
	}
	if len(coords) != 2 {
		sl.ReportError(coords, "coordinates", "Coordinates", "coordinates",
			"must be [longitude, latitude]")
		return
	}
	if coords[0] < -180 || coords[0] > 180 || coords[1] < -90 || coords[1] > 90 {
		sl.ReportError(coords, "coordinates", "Coordinates", "coordinates",
			"longitude must be within [-180, 180] and latitude within [-90, 90]")
	}
}

// ============================================================================
// 报表
// ============================================================================

// TourStat 按难度分组的统计（ratingsAverage ≥ 4.5 的线路）
type TourStat struct {
	Difficulty Difficulty `json:"difficulty" bson:"_id"`
	NumTours   int        `json:"numTours" bson:"numTours"`
	NumRatings int        `json:"numRatings" bson:"numRatings"`
	AvgRating  float64    `json:"avgRating" bson:"avgRating"`
	AvgPrice   float64    `json:"avgPrice" bson:"avgPrice"`
	MinPrice   float64    `json:"minPrice" bson:"minPrice"`
	MaxPrice   float64    `json:"maxPrice" bson:"maxPrice"`
}

// MonthPlan 某月出发的线路
type MonthPlan struct {
	Month         int      `json:"month" bson:"month"`
	NumTourStarts int      `json:"numTourStarts" bson:"numTourStarts"`
	Tours         []string `json:"tours" bson:"tours"`
}

// TourDistance 线路起点到给定坐标的距离
type TourDistance struct {
	ID       bson.ObjectID `json:"_id" bson:"_id"`
	Name     string        `json:"name" bson:"name"`
	Distance float64       `json:"distance" bson:"distance"`
}
