// Package rpc
package rpc

import (
	"strings"

	"github.com/yingshulu/rpcproxy/codec"
)

// Definition is the abstract description of a remote service: method
// names, streaming flags and per method codecs. It is resolved once by
// NewClient; the resolved descriptors never change afterwards.
type Definition struct {
	Service string
	Methods map[string]Method
}

type Method struct {
	RequestStream  bool
	ResponseStream bool
	Codec          Codec
}

// Codec is the encode/decode pair of one method.
type Codec struct {
	EncodeRequest  func(request interface{}) ([]byte, error)
	DecodeResponse func(in []byte, reply interface{}) error
}

// CodecFor builds a method codec from a registered serializer, e.g.
// CodecFor("json") or CodecFor("protobuf").
func CodecFor(serializationType string) Codec {
	if codec.GetSerializer(serializationType) == nil {
		return Codec{}
	}
	return Codec{
		EncodeRequest: func(request interface{}) ([]byte, error) {
			return codec.Marshal(serializationType, request)
		},
		DecodeResponse: func(in []byte, reply interface{}) error {
			return codec.Unmarshal(serializationType, in, reply)
		},
	}
}

// methodDesc is the immutable resolved form of one method.
type methodDesc struct {
	name           string
	path           string
	requestStream  bool
	responseStream bool
	codec          Codec
}

func resolve(def Definition) (map[string]*methodDesc, error) {
	if def.Service == "" {
		return nil, &DefinitionError{Reason: "empty service name"}
	}
	if len(def.Methods) == 0 {
		return nil, &DefinitionError{Service: def.Service, Reason: "no methods"}
	}

	descs := make(map[string]*methodDesc, len(def.Methods))
	for name, m := range def.Methods {
		if name == "" {
			return nil, &DefinitionError{Service: def.Service, Reason: "empty method name"}
		}
		if m.Codec.EncodeRequest == nil {
			return nil, &DefinitionError{Service: def.Service, Method: name, Reason: "missing request encoder"}
		}
		if m.Codec.DecodeResponse == nil {
			return nil, &DefinitionError{Service: def.Service, Method: name, Reason: "missing response decoder"}
		}
		descs[name] = &methodDesc{
			name:           name,
			path:           strings.ToLower(def.Service) + "." + strings.ToLower(name),
			requestStream:  m.RequestStream,
			responseStream: m.ResponseStream,
			codec:          m.Codec,
		}
	}
	return descs, nil
}
