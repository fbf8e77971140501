package protocol

import (
	"bytes"
	"errors"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrMalformedState = errors.New("STATE payload is malformed")

var (
	stateOnline  = []byte("ONLINE")
	stateOffline = []byte("OFFLINE")
)

// HostState is the body of a host application STATE message.
type HostState struct {
	Online    bool
	Timestamp time.Time
}

// EncodeState renders a STATE payload. Sparkplug 3.0 uses a JSON object,
// 2.2 the bare ONLINE / OFFLINE strings.
func EncodeState(version SpecificationVersion, st HostState) ([]byte, error) {
	if version == Version22 {
		if st.Online {
			return append([]byte(nil), stateOnline...), nil
		}

		return append([]byte(nil), stateOffline...), nil
	}

	raw, err := sjson.SetBytes([]byte("{}"), "online", st.Online)
	if err != nil {
		return nil, err
	}

	return sjson.SetBytes(raw, "timestamp", st.Timestamp.UnixMilli())
}

// DecodeState parses either STATE payload form.
func DecodeState(raw []byte) (HostState, error) {
	trimmed := bytes.TrimSpace(raw)

	switch {
	case bytes.Equal(trimmed, stateOnline):
		return HostState{Online: true}, nil

	case bytes.Equal(trimmed, stateOffline):
		return HostState{Online: false}, nil
	}

	if !gjson.ValidBytes(trimmed) {
		return HostState{}, ErrMalformedState
	}

	doc := gjson.ParseBytes(trimmed)
	online := doc.Get("online")
	if !doc.IsObject() || (online.Type != gjson.True && online.Type != gjson.False) {
		return HostState{}, ErrMalformedState
	}

	st := HostState{Online: online.Bool()}
	if ts := doc.Get("timestamp"); ts.Exists() {
		st.Timestamp = time.UnixMilli(ts.Int()).UTC()
	}

	return st, nil
}
