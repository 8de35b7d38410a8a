package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"bool", "lower", "number", "string", "title", "trim", "upper"}, r.Names())

	fn, ok := r.Lookup(" UPPER ")
	require.True(t, ok)
	assert.Equal(t, "BAZ", fn("baz"))

	_, ok = r.Lookup("reverse")
	assert.False(t, ok)
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("double", func(v any) any { return v }))
	assert.Error(t, r.Register("Double", func(v any) any { return v }))
	assert.Error(t, r.Register("", func(v any) any { return v }))
	assert.Error(t, r.Register("nil", nil))
	assert.Panics(t, func() { r.MustRegister("double", func(v any) any { return v }) })
}

func TestTransforms(t *testing.T) {
	tests := []struct {
		name string
		fn   func(any) any
		in   any
		want any
	}{
		{"upper string", Upper, "straße", "STRASSE"},
		{"upper passes numbers", Upper, 42, 42},
		{"lower string", Lower, "MiXeD", "mixed"},
		{"title string", Title, "hello world", "Hello World"},
		{"trim string", Trim, "  padded\t", "padded"},
		{"trim passes nil", Trim, nil, nil},
		{"string from float", String, 1.5, "1.5"},
		{"string from int", String, 7, "7"},
		{"string keeps nil", String, nil, nil},
		{"number from string", Number, " 3.25 ", 3.25},
		{"number from int", Number, 3, float64(3)},
		{"number keeps garbage", Number, "abc", "abc"},
		{"bool from string", Bool, "TRUE", true},
		{"bool from yes", Bool, "yes", true},
		{"bool from off", Bool, "off", false},
		{"bool keeps garbage", Bool, "maybe", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.in))
		})
	}
}
