package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_PreservesKeyOrderAndNumbers(t *testing.T) {
	v, err := Decode([]byte(`{"z":1,"a":{"y":2.50,"b":[true,null,"s"]},"m":10000000000000000001}`))
	require.NoError(t, err)

	obj, ok := v.(*Object)
	require.True(t, ok)

	var keys []string
	for p := obj.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"z", "a", "m"}, keys)

	m, _ := obj.Get("m")
	assert.Equal(t, json.Number("10000000000000000001"), m)

	out, err := Encode(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"z\": 1,\n  \"a\": {\n    \"y\": 2.50,\n    \"b\": [\n      true,\n      null,\n      \"s\"\n    ]\n  },\n  \"m\": 10000000000000000001\n}\n", string(out))
}

func TestDecode_DuplicateKeyKeepsFirstPosition(t *testing.T) {
	v, err := Decode([]byte(`{"a":1,"b":2,"a":3}`))
	require.NoError(t, err)

	out, err := Encode(v)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 3,\n  \"b\": 2\n}\n", string(out))
}

func TestDecode_Errors(t *testing.T) {
	for _, in := range []string{"", "{", `{"a":}`, `[1,]`, `{} {}`, `{1:2}`} {
		_, err := Decode([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := NewObject(
		F("list", []any{NewObject(F("tag", "a"))}),
		F("inner", NewObject(F("k", "v"))),
	)
	cp := CloneObject(orig)

	inner, ok := ObjectAt(cp, "inner")
	require.True(t, ok)
	inner.Set("k", "changed")

	list, ok := ArrayAt(cp, "list")
	require.True(t, ok)
	list[0].(*Object).Set("tag", "b")

	before, err := Encode(NewObject(
		F("list", []any{NewObject(F("tag", "a"))}),
		F("inner", NewObject(F("k", "v"))),
	))
	require.NoError(t, err)
	after, err := Encode(orig)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestEncode_EmptyContainers(t *testing.T) {
	out, err := Encode(NewObject(F("inbounds", []any{}), F("dns", NewObject())))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"inbounds\": [],\n  \"dns\": {}\n}\n", string(out))
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{"", false},
		{"x", true},
		{json.Number("0"), false},
		{json.Number("0.0"), false},
		{json.Number("7"), true},
		{0, false},
		{3, true},
		{[]any{}, true},
		{NewObject(), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truthy(tt.in), "Truthy(%#v)", tt.in)
	}
}

func TestGetters_WrongTypes(t *testing.T) {
	o := NewObject(F("s", "str"), F("n", json.Number("1")))

	_, ok := ObjectAt(o, "s")
	assert.False(t, ok)
	_, ok = ArrayAt(o, "n")
	assert.False(t, ok)
	_, ok = StringAt(o, "n")
	assert.False(t, ok)
	s, ok := StringAt(o, "s")
	assert.True(t, ok)
	assert.Equal(t, "str", s)
	_, ok = StringAt(nil, "s")
	assert.False(t, ok)
}

func TestEncode_NoHTMLEscaping(t *testing.T) {
	obj := NewObject(
		F("tag", "A&B"),
		F("detour", "B<x>"),
		F("path", `C:\u0026dir`),
		F("nested", NewObject(F("password", "p&w"))),
		F("list", []any{"<a>", NewObject(F("k", "x>y"))}),
	)
	out, err := Encode(obj)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `"tag": "A&B"`)
	assert.Contains(t, s, `"detour": "B<x>"`)
	assert.Contains(t, s, `"password": "p&w"`)
	assert.Contains(t, s, `"<a>"`)
	assert.Contains(t, s, `"k": "x>y"`)
	// A literal backslash followed by u0026 stays escaped.
	assert.Contains(t, s, `"path": "C:\\u0026dir"`)
	assert.NotContains(t, s, `\u0026B`)

	back, err := Decode(out)
	require.NoError(t, err)
	path, _ := StringAt(back.(*Object), "path")
	assert.Equal(t, `C:\u0026dir`, path)
	tag, _ := StringAt(back.(*Object), "tag")
	assert.Equal(t, "A&B", tag)
}
