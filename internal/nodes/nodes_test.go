package nodes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/singbox-portmap/internal/document"
	"github.com/John-Robertt/singbox-portmap/internal/jsonc"
	"github.com/John-Robertt/singbox-portmap/internal/model"
)

func TestParseText_Array(t *testing.T) {
	got, err := ParseText("", `[
		// primary
		{"tag": "A", "type": "vless", "server": "a.example.com", "server_port": 443},
		{"tag": "B", "type": "trojan", "server": "10.0.0.2",},
	]`)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, Tags(got))
	assert.Equal(t, "a.example.com", got[0].Server)
	assert.Equal(t, "10.0.0.2", got[1].Server)

	typ, _ := document.StringAt(got[0].Outbound, "type")
	assert.Equal(t, "vless", typ)
}

func TestParseText_OutboundsObject(t *testing.T) {
	got, err := ParseText("", `{"log": {}, "outbounds": [{"tag": "X"}, {"type": "direct"}]}`)
	require.NoError(t, err)
	require.Equal(t, []string{"X"}, Tags(got))
	assert.Equal(t, "", got[0].Server)
}

func TestParseText_SyntaxError(t *testing.T) {
	_, err := ParseText("", `[{"tag": "A"`)
	var pe *jsonc.ParseError
	require.True(t, errors.As(err, &pe), "err=%T %v", err, err)
	assert.Equal(t, model.StageParseNodes, pe.AppError.Stage)
	assert.Equal(t, "JSON_PARSE_ERROR", pe.AppError.Code)
}

func TestExtract_Filtering(t *testing.T) {
	doc, err := document.Decode([]byte(`[
		{"tag": "A"},
		{"tag": ""},
		{"tag": 0},
		{"tag": false},
		{"tag": null},
		{"tag": ["x"]},
		{"tag": {"k": 1}},
		{"server": "no-tag"},
		"string",
		7,
		null,
		{"tag": 12},
		{"tag": true}
	]`))
	require.NoError(t, err)

	got, err := Extract(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "12", "true"}, Tags(got))
}

func TestExtract_Errors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		code string
	}{
		{name: "scalar", in: `"x"`, code: "NODES_STRUCTURE_ERROR"},
		{name: "object without outbounds", in: `{"inbounds": []}`, code: "NODES_STRUCTURE_ERROR"},
		{name: "outbounds not array", in: `{"outbounds": {}}`, code: "NODES_STRUCTURE_ERROR"},
		{name: "empty array", in: `[]`, code: "NODES_EMPTY"},
		{name: "no tags", in: `[{"server": "a"}, {"tag": ""}]`, code: "NODES_EMPTY"},
		{name: "duplicate", in: `[{"tag": "A"}, {"tag": "B"}, {"tag": "A"}]`, code: "NODES_DUPLICATE_TAG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := document.Decode([]byte(tc.in))
			require.NoError(t, err)

			_, err = Extract(doc)
			var se *StructureError
			require.True(t, errors.As(err, &se), "err=%T %v", err, err)
			assert.Equal(t, tc.code, se.AppError.Code)
			assert.Equal(t, model.StageExtractNodes, se.AppError.Stage)
		})
	}
}

func TestExtract_KeepsOutboundVerbatim(t *testing.T) {
	in := `[{"tag":"A","type":"vmess","server":"a.test","tls":{"enabled":true},"extra":[1,2.50]}]`
	doc, err := document.Decode([]byte(in))
	require.NoError(t, err)

	got, err := Extract(doc)
	require.NoError(t, err)

	a, err := document.Encode(got[0].Outbound)
	require.NoError(t, err)
	b, err := document.Encode(doc.([]any)[0])
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}
