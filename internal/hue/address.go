package hue

import (
	"cmp"
	"strconv"
	"strings"
)

// SplitAddress splits "/lights/1/state" into ["", "lights", "1", "state"].
func SplitAddress(address string) []string {
	return strings.Split(address, "/")
}

// ReferencesLight reports whether the address segments at i and i+1 are
// "lights" and id.
func ReferencesLight(address string, i int, id string) bool {
	parts := SplitAddress(address)
	return len(parts) > i+1 && parts[i] == "lights" && parts[i+1] == id
}

// Target returns the sensor id and state key a condition observes.
func (c Condition) Target() (sensorID, key string, ok bool) {
	parts := SplitAddress(c.Address)
	if len(parts) != 5 || parts[0] != "" || parts[1] != "sensors" || parts[3] != "state" {
		return "", "", false
	}
	if parts[2] == "" || parts[4] == "" {
		return "", "", false
	}
	return parts[2], parts[4], true
}

// CompareIDs orders numeric ids numerically and everything else lexically.
func CompareIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(na, nb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
