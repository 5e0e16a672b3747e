package models

import (
	"fmt"
	"strings"
)

type Mode string

const (
	ModeRated  Mode = "rated"
	ModeCasual Mode = "casual"
)

// TimeControl is the clock setting requested by a player, in seconds.
type TimeControl struct {
	BaseSeconds      int `db:"base_seconds" json:"baseSeconds"`
	IncrementSeconds int `db:"increment_seconds" json:"incrementSeconds"`
}

func (tc TimeControl) String() string {
	return fmt.Sprintf("%d+%d", tc.BaseSeconds, tc.IncrementSeconds)
}

// TimeControlBucket classifies a time control for pooling. The
// estimated game duration is base + 40*increment seconds.
type TimeControlBucket string

const (
	BucketBullet    TimeControlBucket = "bullet"
	BucketBlitz     TimeControlBucket = "blitz"
	BucketRapid     TimeControlBucket = "rapid"
	BucketClassical TimeControlBucket = "classical"
)

// Bucket derives the pooling bucket from the estimated duration.
func (tc TimeControl) Bucket() TimeControlBucket {
	estimated := tc.BaseSeconds + 40*tc.IncrementSeconds
	switch {
	case estimated <= 180:
		return BucketBullet
	case estimated <= 480:
		return BucketBlitz
	case estimated <= 1500:
		return BucketRapid
	default:
		return BucketClassical
	}
}

// PoolKey identifies the bucket of mutually compatible tickets.
type PoolKey struct {
	Mode    Mode              `db:"mode" json:"mode"`
	Variant string            `db:"variant" json:"variant"`
	Bucket  TimeControlBucket `db:"time_control_bucket" json:"timeControlBucket"`
	Region  string            `db:"region" json:"region"`
}

// String renders the canonical pool key used for index keys, redis
// lock keys, and the pool_key column.
func (k PoolKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Mode, k.Variant, k.Bucket, k.Region)
}

// ParsePoolKey is the inverse of String.
func ParsePoolKey(s string) (PoolKey, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return PoolKey{}, fmt.Errorf("invalid pool key %q", s)
	}
	return PoolKey{
		Mode:    Mode(parts[0]),
		Variant: parts[1],
		Bucket:  TimeControlBucket(parts[2]),
		Region:  parts[3],
	}, nil
}

// NewPoolKey builds the key for a ticket's parameters.
func NewPoolKey(mode Mode, variant string, tc TimeControl, region string) PoolKey {
	return PoolKey{
		Mode:    mode,
		Variant: variant,
		Bucket:  tc.Bucket(),
		Region:  region,
	}
}

// RatingPool is read-only configuration describing a rating ladder.
type RatingPool struct {
	Code           string `db:"code" json:"code"`
	Variant        string `db:"variant" json:"variant"`
	Mode           Mode   `db:"mode" json:"mode"`
	MinBaseSeconds int    `db:"min_base_seconds" json:"minBaseSeconds"`
	MaxBaseSeconds int    `db:"max_base_seconds" json:"maxBaseSeconds"`
	InitialRating  int    `db:"initial_rating" json:"initialRating"`
	RatingSystem   string `db:"rating_system" json:"ratingSystem"`
}
