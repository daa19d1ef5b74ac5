package datastore

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"hue-go-bridge/internal/hue"
)

type cloner[T any] interface {
	Clone() T
}

// collection is one id-keyed resource list plus its id counter. Records are
// stored by value; every read hands out a Clone.
type collection[T cloner[T]] struct {
	bucket   string
	list     map[string]T
	nextFree int
}

func newCollection[T cloner[T]](bucket string) *collection[T] {
	return &collection[T]{bucket: bucket, list: make(map[string]T), nextFree: 1}
}

func (c *collection[T]) name() string {
	return c.bucket
}

func (c *collection[T]) get(id string) (T, bool) {
	v, ok := c.list[id]
	if !ok {
		var zero T
		return zero, false
	}
	return v.Clone(), true
}

func (c *collection[T]) has(id string) bool {
	_, ok := c.list[id]
	return ok
}

func (c *collection[T]) all() map[string]T {
	out := make(map[string]T, len(c.list))
	for id, v := range c.list {
		out[id] = v.Clone()
	}
	return out
}

func (c *collection[T]) ids() []string {
	ids := make([]string, 0, len(c.list))
	for id := range c.list {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, hue.CompareIDs)
	return ids
}

// peekID returns the id the next allocation will use.
func (c *collection[T]) peekID() string {
	return strconv.Itoa(c.nextFree)
}

func (c *collection[T]) clone() *collection[T] {
	return &collection[T]{bucket: c.bucket, list: c.all(), nextFree: c.nextFree}
}

func (c *collection[T]) load(raw map[string][]byte) error {
	list := make(map[string]T, len(raw))
	for id, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode %s/%s: %w", c.bucket, id, err)
		}
		list[id] = v
	}
	c.list = list
	return nil
}

func (c *collection[T]) entries() (map[string][]byte, error) {
	out := make(map[string][]byte, len(c.list))
	for id, v := range c.list {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", c.bucket, id, err)
		}
		out[id] = data
	}
	return out, nil
}
