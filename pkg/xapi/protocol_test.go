package xapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want Value
	}{
		{`"450000"`, "450000"},
		{`450000`, "450000"},
		{`null`, ""},
		{`"On"`, "On"},
	}
	for _, tt := range tests {
		var v Value
		require.NoError(t, json.Unmarshal([]byte(tt.in), &v))
		assert.Equal(t, tt.want, v, tt.in)
	}
}

func TestValue_Int(t *testing.T) {
	n, err := Value("300000").Int()
	require.NoError(t, err)
	assert.Equal(t, int64(300000), n)

	n, err = Value("1.5e6").Int()
	require.NoError(t, err)
	assert.Equal(t, int64(1500000), n)

	_, err = Value("n/a").Int()
	assert.Error(t, err)
}

func TestDecodeMuteState(t *testing.T) {
	muted, err := DecodeMuteState(json.RawMessage(`"On"`))
	require.NoError(t, err)
	assert.True(t, muted)

	muted, err = DecodeMuteState(json.RawMessage(`"Off"`))
	require.NoError(t, err)
	assert.False(t, muted)

	_, err = DecodeMuteState(json.RawMessage(`"Maybe"`))
	assert.Error(t, err)
}

func TestDecodeCallDisconnect_Empty(t *testing.T) {
	ev, err := DecodeCallDisconnect(nil)
	require.NoError(t, err)
	assert.Empty(t, ev.CallID)
}

func TestExtract(t *testing.T) {
	doc := json.RawMessage(`{"Id":2,"Status":{"Audio":{"Microphones":{"Mute":"Off"}}}}`)

	leaf, ok := extract(doc, []string{"Status", "Audio", "Microphones", "Mute"})
	require.True(t, ok)
	assert.Equal(t, `"Off"`, string(leaf))

	_, ok = extract(doc, []string{"Event", "CallSuccessful"})
	assert.False(t, ok)
}

func TestPathElement(t *testing.T) {
	assert.Equal(t, int64(7), pathElement("7"))
	assert.Equal(t, "abc", pathElement("abc"))
}

func TestEnvelope_RequestID(t *testing.T) {
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"abc","result":{}}`), &env))
	assert.Equal(t, "abc", env.requestID())

	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":12,"result":{}}`), &env))
	assert.Equal(t, "12", env.requestID())
}
