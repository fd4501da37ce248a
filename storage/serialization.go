// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/poiesic/civicrag/core"
)

// EncodeVector serializes a vector as little-endian float32 values.
// A nil vector encodes to nil.
func EncodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector deserializes a vector written by EncodeVector.
// Empty input decodes to nil.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: vector of %d bytes", ErrTruncatedData, len(data))
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, nil
}

// MarshalTags serializes tag metadata as JSON.
func MarshalTags(tags core.TagMetadata) ([]byte, error) {
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("%w: tags: %w", ErrSerializationFailed, err)
	}
	return b, nil
}

// UnmarshalTags deserializes tag metadata written by MarshalTags.
func UnmarshalTags(data []byte) (core.TagMetadata, error) {
	var tags core.TagMetadata
	if err := json.Unmarshal(data, &tags); err != nil {
		return tags, fmt.Errorf("%w: tags: %w", ErrSerializationFailed, err)
	}
	return tags, nil
}

// MarshalGeo serializes a location as JSON.
func MarshalGeo(geo core.Geo) ([]byte, error) {
	b, err := json.Marshal(geo)
	if err != nil {
		return nil, fmt.Errorf("%w: geo: %w", ErrSerializationFailed, err)
	}
	return b, nil
}

// UnmarshalGeo deserializes a location written by MarshalGeo. Empty input is the zero Geo.
func UnmarshalGeo(data []byte) (core.Geo, error) {
	var geo core.Geo
	if len(data) == 0 {
		return geo, nil
	}
	if err := json.Unmarshal(data, &geo); err != nil {
		return geo, fmt.Errorf("%w: geo: %w", ErrSerializationFailed, err)
	}
	return geo, nil
}
