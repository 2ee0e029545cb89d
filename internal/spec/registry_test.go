package spec

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetAndList(t *testing.T) {
	r, err := NewRegistry(DefaultSpecs()...)
	require.NoError(t, err)

	s, err := r.Get("avatar")
	require.NoError(t, err)
	assert.True(t, s.IsSizeBounded())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownSpec)

	list := r.List()
	require.Len(t, list, len(DefaultSpecs()))
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Name, list[i].Name)
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	_, err := NewRegistry(LoadSpec{Name: "bad"})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestRegistry_Replace(t *testing.T) {
	r, err := NewRegistry(LoadSpec{Name: "a", Width: 10, Height: 10})
	require.NoError(t, err)
	require.NoError(t, r.Register(LoadSpec{Name: "a", Width: 20, Height: 20}))

	s, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 20, s.Width)
}

func TestRegistry_Concurrent(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(LoadSpec{Name: "s", Width: i + 1, Height: 1})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = r.Get("s")
			_ = r.List()
		}()
	}
	wg.Wait()

	_, err = r.Get("s")
	assert.NoError(t, err)
}
