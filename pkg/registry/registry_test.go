package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	r := New[int]("widget")

	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{name: "valid", key: "alpha"},
		{name: "empty name", key: "  ", wantErr: "widget name cannot be empty"},
		{name: "duplicate ignoring case", key: "ALPHA", wantErr: `widget "ALPHA" already registered`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.key, 1)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_Lookup(t *testing.T) {
	r := New[string]("llm provider")
	r.MustRegister("openai", "o")
	r.MustRegister("Anthropic", "a")

	v, err := r.Lookup("OpenAI")
	require.NoError(t, err)
	assert.Equal(t, "o", v)

	_, err = r.Lookup("ollama")
	assert.EqualError(t, err, `unknown llm provider "ollama" (supported: anthropic, openai)`)

	assert.Equal(t, []string{"anthropic", "openai"}, r.Names())
}

func TestRegistry_Remove(t *testing.T) {
	r := New[int]("widget")
	r.MustRegister("a", 1)

	require.NoError(t, r.Remove("A"))
	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Error(t, r.Remove("a"))
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := New[int]("widget")
	r.MustRegister("a", 1)
	assert.Panics(t, func() { r.MustRegister("a", 2) })
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New[int]("widget")
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Register(string(rune('a'+i%26))+string(rune('a'+i/26)), i)
			r.Names()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.Count())
}
