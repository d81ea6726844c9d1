package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/karaf-sub011/errors"
)

func TestParseAndMatch(t *testing.T) {
	props := map[string]any{
		"objectClass":     []string{"example.Greeter", "example.Service"},
		"lang":            "english",
		"service.ranking": 10,
		"weight":          2.5,
		"enabled":         true,
		"Region":          "EU West",
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"(objectClass=example.Greeter)", true},
		{"(objectclass=example.Service)", true},
		{"(objectClass=example.Other)", false},
		{"(lang=eng*)", true},
		{"(lang=*lis*)", true},
		{"(lang=*ish)", true},
		{"(lang=fr*)", false},
		{"(lang=*)", true},
		{"(missing=*)", false},
		{"(service.ranking>=10)", true},
		{"(service.ranking>=11)", false},
		{"(service.ranking<=10)", true},
		{"(service.ranking=10)", true},
		{"(service.ranking=abc)", false},
		{"(weight>=2.0)", true},
		{"(weight<=2.0)", false},
		{"(enabled=true)", true},
		{"(enabled=false)", false},
		{"(region~=euwest)", true},
		{"(region=euwest)", false},
		{"(&(lang=english)(enabled=true))", true},
		{"(&(lang=english)(enabled=false))", false},
		{"(|(lang=german)(service.ranking>=5))", true},
		{"(!(lang=german))", true},
		{"(!(lang=english))", false},
		{" ( & (lang=english) (objectClass=example.Greeter) ) ", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(props))
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"   ",
		"lang=en",
		"(lang=en",
		"(=en)",
		"(lang)",
		"(lang>en)",
		"(&)",
		"(lang=en))",
		"(lang=a(b)",
		"(lang=en\\",
	} {
		t.Run(expr, func(t *testing.T) {
			f, err := Parse(expr)
			require.Error(t, err)
			assert.Nil(t, f)
			assert.True(t, errors.Is(err, errors.ErrInvalidFilter))
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestEscapedValues(t *testing.T) {
	f, err := Parse(`(name=a\*b\(c\))`)
	require.NoError(t, err)

	assert.True(t, f.Match(map[string]any{"name": "a*b(c)"}))
	assert.False(t, f.Match(map[string]any{"name": "axb(c)"}))
	assert.Equal(t, `(name=a\*b\(c\))`, f.String())
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *Filter
	assert.True(t, f.Match(nil))
	assert.True(t, f.Match(map[string]any{"a": 1}))
	assert.Equal(t, "", f.String())
}

func TestStringNormalizes(t *testing.T) {
	a := MustParse("( & (a=1) (b=2*) )")
	b := MustParse("(&(a=1)(b=2*))")

	assert.Equal(t, "(&(a=1)(b=2*))", a.String())
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, MustParse("(a=1)")))
	assert.True(t, Equal(nil, nil))
}

func TestAnd(t *testing.T) {
	assert.Nil(t, And(nil, nil))

	single := And(nil, Equality("a", "1"))
	assert.Equal(t, "(a=1)", single.String())

	combined := And(Equality("objectClass", "x.Y"), MustParse("(lang=en)"))
	assert.Equal(t, "(&(objectClass=x.Y)(lang=en))", combined.String())
	assert.True(t, combined.Match(map[string]any{"objectClass": []string{"x.Y"}, "lang": "en"}))
	assert.False(t, combined.Match(map[string]any{"objectClass": []string{"x.Y"}}))
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("(broken") })
}
