package domain

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"natours/internal/shared/model"
	"natours/internal/shared/query"
	"natours/internal/shared/storage"
)

// ============================================================================
// Reports - 线路报表
// ============================================================================

const (
	// StatsMinRating 统计报表只包含评分不低于该值的线路
	StatsMinRating = 4.5
	// MonthlyPlanLimit 月度计划最多返回的月份数
	MonthlyPlanLimit = 6
)

// 距离单位
const (
	UnitMiles      = "mi"
	UnitKilometers = "km"
)

// 地球半径（用于把距离换算成弧度）
const (
	earthRadiusMiles      = 3963.2
	earthRadiusKilometers = 6378.1
)

// 米到目标单位的换算系数
var unitMultipliers = map[string]float64{
	UnitMiles:      0.000621371,
	UnitKilometers: 0.001,
}

// Reports 线路报表，参数解析失败返回 query.ErrBadRequest
type Reports struct {
	backend storage.TourReports
	tours   *TourExecutor
}

// Stats 按难度分组的线路统计
func (p *Reports) Stats(ctx context.Context) ([]model.TourStat, error) {
	return p.backend.Stats(ctx, StatsMinRating)
}

// MonthlyPlan year 年每月出发的线路
func (p *Reports) MonthlyPlan(ctx context.Context, year string) ([]model.MonthPlan, error) {
	y, err := strconv.Atoi(year)
	if err != nil || y < 1 || y > 9999 {
		return nil, fmt.Errorf("%w: invalid year %q", query.ErrBadRequest, year)
	}
	return p.backend.MonthlyPlan(ctx, y, MonthlyPlanLimit)
}

// Within 起点在 center 周围 distance 范围内的线路
//
// center 格式为 "lat,lng"，unit 为 mi 或 km。
func (p *Reports) Within(ctx context.Context, distance, center, unit string) ([]*model.Tour, error) {
	d, err := strconv.ParseFloat(distance, 64)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("%w: distance must be a positive number", query.ErrBadRequest)
	}
	lat, lng, err := ParseLatLng(center)
	if err != nil {
		return nil, err
	}

	var radius float64
	switch unit {
	case UnitMiles:
		radius = d / earthRadiusMiles
	case UnitKilometers:
		radius = d / earthRadiusKilometers
	default:
		return nil, badUnit(unit)
	}

	tours, err := p.backend.Within(ctx, lng, lat, radius)
	if err != nil {
		return nil, err
	}
	if err := p.tours.Expand(ctx, tours); err != nil {
		return nil, err
	}
	return tours, nil
}

// Distances 所有线路起点到 center 的距离
func (p *Reports) Distances(ctx context.Context, center, unit string) ([]model.TourDistance, error) {
	lat, lng, err := ParseLatLng(center)
	if err != nil {
		return nil, err
	}
	multiplier, ok := unitMultipliers[unit]
	if !ok {
		return nil, badUnit(unit)
	}
	return p.backend.Distances(ctx, lng, lat, multiplier)
}

// ParseLatLng 解析 "lat,lng"
func ParseLatLng(s string) (lat, lng float64, err error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if ok {
		lat, err = strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err == nil {
			lng, err = strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
		}
	}
	if !ok || err != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, fmt.Errorf("%w: please provide latitude and longitude in the format lat,lng", query.ErrBadRequest)
	}
	return lat, lng, nil
}

func badUnit(unit string) error {
	return fmt.Errorf("%w: unit must be %s or %s, got %q", query.ErrBadRequest, UnitMiles, UnitKilometers, unit)
}

// Top5Cheap 评分最高且最便宜的五条线路的查询参数
//
// 调用方的其它过滤参数保留，limit/sort/fields 被固定值覆盖。
func Top5Cheap(params url.Values) url.Values {
	out := url.Values{}
	for k, v := range params {
		out[k] = v
	}
	out.Set(query.ParamLimit, "5")
	out.Set(query.ParamSort, "-ratingsAverage,price")
	out.Set(query.ParamFields, "name,price,ratingsAverage,summary,difficulty")
	return out
}
