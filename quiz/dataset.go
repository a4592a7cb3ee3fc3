/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

var ErrMalformedDataset = errors.New("malformed dataset")

// ParseFeatures reads a GeoJSON FeatureCollection and returns one Feature per
// entry of its features array. Each feature is named after properties.ADMIN,
// falling back to properties.name, and its GeometryRef is its index in the
// array so the browser can find the matching polygon.
func ParseFeatures(data []byte) ([]Feature, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedDataset)
	}

	collection := gjson.GetBytes(data, "features")
	if !collection.IsArray() {
		return nil, fmt.Errorf("%w: missing features array", ErrMalformedDataset)
	}

	items := collection.Array()
	features := make([]Feature, 0, len(items))

	for i, item := range items {
		name := item.Get("properties.ADMIN").String()
		if name == "" {
			name = item.Get("properties.name").String()
		}

		features = append(features, Feature{
			DisplayName: name,
			GeometryRef: strconv.Itoa(i),
		})
	}

	return features, nil
}
