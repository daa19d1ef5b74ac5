package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested key does not exist in the store.
var ErrNotFound = errors.New("not found")

// Bucket names. Each resource collection lives in its own bucket keyed by id;
// Meta holds the bridge configuration and id bookkeeping.
const (
	BucketLights        = "lights"
	BucketGroups        = "groups"
	BucketScenes        = "scenes"
	BucketSchedules     = "schedules"
	BucketSensors       = "sensors"
	BucketRules         = "rules"
	BucketResourcelinks = "resourcelinks"
	BucketMeta          = "meta"
)

// Buckets lists every bucket the store creates.
var Buckets = []string{
	BucketLights, BucketGroups, BucketScenes, BucketSchedules,
	BucketSensors, BucketRules, BucketResourcelinks, BucketMeta,
}

// Op is a single write. A set of ops passed to Apply commits atomically.
type Op struct {
	Bucket string
	Key    string
	Value  []byte
	Delete bool
}

// Put encodes v as JSON into a write op.
func Put(bucket, key string, v any) (Op, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Op{}, fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return Op{Bucket: bucket, Key: key, Value: data}, nil
}

// Del builds a delete op.
func Del(bucket, key string) Op {
	return Op{Bucket: bucket, Key: key, Delete: true}
}

// Store defines the persistence interface.
type Store interface {
	// Apply commits ops in a single transaction.
	Apply(ops ...Op) error

	Get(bucket, key string) ([]byte, error)

	// Load returns every key of a bucket.
	Load(bucket string) (map[string][]byte, error)

	// Replace drops the contents of the named buckets and writes data in
	// one transaction. Buckets absent from data are left alone.
	Replace(data map[string]map[string][]byte) error

	Close() error
}
