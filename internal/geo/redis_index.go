package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"swiftride/internal/types"
)

// RedisIndex keeps driver positions in a Redis GEO set.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(client *redis.Client, key string) *RedisIndex {
	return &RedisIndex{client: client, key: key}
}

func (r *RedisIndex) Upsert(ctx context.Context, driverID types.ID, pos types.Point) error {
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

func (r *RedisIndex) Remove(ctx context.Context, driverID types.ID) error {
	return r.client.ZRem(ctx, r.key, string(driverID)).Err()
}

func (r *RedisIndex) Nearby(ctx context.Context, center types.Point, radiusMeters float64, limit int) ([]Candidate, error) {
	results, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(results))
	for _, loc := range results {
		out = append(out, Candidate{
			DriverID:       types.ID(loc.Name),
			Position:       types.Point{Lat: loc.Latitude, Lng: loc.Longitude},
			DistanceMeters: loc.Dist,
		})
	}
	return out, nil
}
