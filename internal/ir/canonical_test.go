package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"b": 1, "a": "x", "c": nil})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"c":null}`, string(out))
}

func TestMarshalCanonical_Nested(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"list": []any{true, 2.5, int64(3)},
		"obj":  map[string]any{"z": "<&>"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"list":[true,2.5,3],"obj":{"z":"<&>"}}`, string(out))
}

func TestMarshalCanonical_IntegralFloatsCollapse(t *testing.T) {
	a, err := MarshalCanonical(10.0)
	require.NoError(t, err)
	b, err := MarshalCanonical(10)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed form.
	out, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(out))
}

func TestMarshalCanonical_Escapes(t *testing.T) {
	out, err := MarshalCanonical("a\"b\\c\n\x01")
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\n\u0001"`, string(out))
}

func TestMarshalCanonical_RejectsUnsupported(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"f": func() {}})
	assert.Error(t, err)
}

func TestFromGo_Time(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	v, err := FromGo(ts, nil)
	require.NoError(t, err)
	assert.Equal(t, IRString("2024-05-01T11:00:00Z"), v)
}

func TestFromGo_RefLabels(t *testing.T) {
	type thing struct{ name string }
	th := &thing{name: "t1"}
	ref := func(v any) (string, bool) {
		if x, ok := v.(*thing); ok {
			return "@" + x.name, true
		}
		return "", false
	}

	v, err := FromGo([]any{th, "plain"}, ref)
	require.NoError(t, err)
	assert.Equal(t, IRArray{IRString("@t1"), IRString("plain")}, v)
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	obj := IRObject{"\U0001F600": IRInt(1), "ﬁ": IRInt(2), "a": IRInt(3)}
	// U+1F600 encodes as a surrogate pair starting 0xD83D, which sorts
	// before U+FB01 in UTF-16 even though it sorts after it in UTF-8.
	assert.Equal(t, []string{"a", "\U0001F600", "ﬁ"}, obj.SortedKeys())
}
