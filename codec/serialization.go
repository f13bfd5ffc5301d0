// Package codec
package codec

import (
	"fmt"
	"sync"
)

type Serializer interface {
	Unmarshal(in []byte, body interface{}) error
	Marshal(body interface{}) (out []byte, err error)
}

var (
	lock        sync.RWMutex
	serializers = map[string]Serializer{
		"json":        &JSONSerialization{},
		"protobuf":    &ProtobufSerialization{},
		"messagepack": &MessagePackSerialization{},
	}
)

// RegisterSerializer register a serializer under serializationType,
// replacing any previous registration
func RegisterSerializer(serializationType string, s Serializer) {
	lock.Lock()
	defer lock.Unlock()
	serializers[serializationType] = s
}

func GetSerializer(serializationType string) Serializer {
	lock.RLock()
	defer lock.RUnlock()
	return serializers[serializationType]
}

func Unmarshal(serializationType string, in []byte, body interface{}) error {
	if body == nil || len(in) == 0 {
		return nil
	}

	s := GetSerializer(serializationType)
	if s == nil {
		return fmt.Errorf("serializer %s not registered", serializationType)
	}
	return s.Unmarshal(in, body)
}

func Marshal(serializationType string, body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}

	s := GetSerializer(serializationType)
	if s == nil {
		return nil, fmt.Errorf("serializer %s not registered", serializationType)
	}
	return s.Marshal(body)
}
