package transport

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/signalsfoundry/rti/message"
)

// CodecName is the gRPC content subtype the transport negotiates.
const CodecName = "rtijson"

func init() {
	encoding.RegisterCodec(codec{})
}

// codec frames message envelopes as JSON on the wire.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	env, ok := v.(*message.Envelope)
	if !ok {
		return nil, fmt.Errorf("rtijson: cannot marshal %T", v)
	}
	return json.Marshal(env)
}

func (codec) Unmarshal(data []byte, v any) error {
	env, ok := v.(*message.Envelope)
	if !ok {
		return fmt.Errorf("rtijson: cannot unmarshal into %T", v)
	}
	return json.Unmarshal(data, env)
}

func (codec) Name() string { return CodecName }
