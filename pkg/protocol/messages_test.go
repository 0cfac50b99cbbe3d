package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchJSONRoundTrip(t *testing.T) {
	ts := int64(12345)
	p := Patch{
		UnitID:   "s1|en-US|0",
		Version:  3,
		Stage:    StageHard,
		Text:     "hello world.",
		SrcLang:  "en-US",
		TS:       &ts,
		TTSFinal: true,
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded Patch
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, p, decoded)
}

func TestSegmentEncodeDurableRoundTrip(t *testing.T) {
	seg := Segment{
		UnitID:     "s1|en-US|0",
		Version:    3,
		Stage:      StageHard,
		SrcText:    "hello world.",
		SrcSentLen: []int{12},
		Translations: map[string]Translation{
			"fr-CA": {Text: "bonjour le monde.", TransSentLen: []int{17}},
		},
		TS:       1700000000,
		TTSFinal: true,
	}

	data, err := EncodeDurable(seg)
	require.NoError(t, err)

	var decoded Segment
	require.NoError(t, DecodeDurable(data, &decoded))
	assert.Equal(t, seg, decoded)
}

func TestEnvelopeJSON(t *testing.T) {
	env := Envelope{
		Type: TypeSnapshot,
		Seq:  7,
		Payload: []Segment{
			{UnitID: "s1|en-US|0", Version: 1, Stage: StageSoft, SrcText: "hi"},
		},
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"snapshot"`)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeSnapshot, decoded.Type)
	assert.Equal(t, uint64(7), decoded.Seq)
}

func TestDecodeDurableInvalid(t *testing.T) {
	var seg Segment
	err := DecodeDurable([]byte{0xff, 0xff, 0xff}, &seg)
	assert.Error(t, err)
}
