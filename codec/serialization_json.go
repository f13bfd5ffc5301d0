package codec

import (
	jsoniter "github.com/json-iterator/go"
)

var j = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONSerialization encodes bodies as JSON. json-iterator is noticeably
// faster than encoding/json on both paths while staying compatible.
type JSONSerialization struct{}

func (s *JSONSerialization) Unmarshal(in []byte, body interface{}) error {
	return j.Unmarshal(in, body)
}

func (s *JSONSerialization) Marshal(body interface{}) ([]byte, error) {
	return j.Marshal(body)
}
