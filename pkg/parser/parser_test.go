package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReturnsGoTreeSitterParser(t *testing.T) {
	r := NewRegistry()
	p := r.Get(".go")
	require.NotNil(t, p)

	src := `package foo

// Greet says hello.
func Greet(name string) string {
	return "hello " + name
}

type Widget struct {
	Name string
}

func (w *Widget) Label() string {
	return w.Name
}
`
	res, err := p.Extract("foo.go", src)
	require.NoError(t, err)
	require.NotEmpty(t, res.Symbols)

	names := map[string]Symbol{}
	for _, s := range res.Symbols {
		names[s.Name] = s
	}
	assert.Contains(t, names, "Greet")
	assert.Contains(t, names, "Widget")
	assert.Contains(t, names, "Label")
	assert.Equal(t, "struct", names["Widget"].Kind)
	assert.Equal(t, "Greet says hello.", names["Greet"].Doc)
}

func TestRegistryReturnsPythonTreeSitterParser(t *testing.T) {
	r := NewRegistry()
	p := r.Get(".py")
	require.NotNil(t, p)

	src := `class Greeter:
    """Greets people."""

    def greet(self, name):
        return self.format(name)

    def format(self, name):
        return "hi " + name
`
	res, err := p.Extract("greeter.py", src)
	require.NoError(t, err)

	names := map[string]Symbol{}
	for _, s := range res.Symbols {
		names[s.Name] = s
	}
	assert.Contains(t, names, "Greeter")
	assert.Contains(t, names, "greet")
	assert.Equal(t, "Greeter.greet", names["greet"].Qualname)
	assert.Equal(t, "Greets people.", names["Greeter"].Doc)
}

func TestRegistryFallsBackToRegexForRuby(t *testing.T) {
	r := NewRegistry()
	p := r.Get(".rb")
	require.NotNil(t, p)
	_, ok := p.(*GenericRegexParser)
	assert.True(t, ok)

	res, err := p.Extract("greeter.rb", "class Greeter\n  def greet\n    puts 'hi'\n  end\nend\n")
	require.NoError(t, err)
	var gotClass, gotMethod bool
	for _, s := range res.Symbols {
		if s.Name == "Greeter" && s.Kind == "class" {
			gotClass = true
		}
		if s.Name == "greet" {
			gotMethod = true
		}
	}
	assert.True(t, gotClass)
	assert.True(t, gotMethod)
}

func TestRegistryUnknownExtensionReturnsNil(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get(".bin"))
	assert.Nil(t, r.Get(".bin")) // cached nil, must not panic on repeat
}

func TestGenericRegexParserGoFallbackConfig(t *testing.T) {
	p := NewGenericRegexParser(".go", regexConfigs[".go"])
	res, err := p.Extract("x.go", "type Foo struct {\n\tX int\n}\n\nfunc Bar() {\n\treturn\n}\n")
	require.NoError(t, err)

	var gotType, gotFunc bool
	for _, s := range res.Symbols {
		if s.Name == "Foo" {
			gotType = true
		}
		if s.Name == "Bar" && s.Kind == "function" {
			gotFunc = true
		}
	}
	assert.True(t, gotType)
	assert.True(t, gotFunc)
}

func TestSymbolIDIsStableForSameInput(t *testing.T) {
	a := SymbolID("root/a.go", "function", "Foo")
	b := SymbolID("root/a.go", "function", "Foo")
	c := SymbolID("root/a.go", "function", "Bar")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
