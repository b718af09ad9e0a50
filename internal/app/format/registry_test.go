package format

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tle_zone_judge/internal/domain/model"
)

type namedFormat struct {
	Default
	name string
}

func (f namedFormat) DisplayName() string { return f.name }

func (namedFormat) UpdateParticipation(ctx context.Context, scope Scope) error {
	return scope.Commit(ctx, 0, 0, model.FormatData{})
}

func TestRegistryDuplicateName(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	err = r.Register(DefaultName, Default{})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestRegistryResolve(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	f, err := r.Resolve(DefaultName)
	require.NoError(t, err)
	assert.Equal(t, "Default", f.DisplayName())

	_, err = r.Resolve("icpc")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRegistryAllSortedAndRestartable(t *testing.T) {
	r := newEmptyRegistry()
	require.NoError(t, r.Register("ioi", namedFormat{name: "IOI"}))
	require.NoError(t, r.Register(DefaultName, Default{}))
	require.NoError(t, r.Register("atcoder", namedFormat{name: "AtCoder"}))

	collect := func() [][2]string {
		var out [][2]string
		for name, display := range r.All() {
			out = append(out, [2]string{name, display})
		}
		return out
	}

	want := [][2]string{{"atcoder", "AtCoder"}, {"default", "Default"}, {"ioi", "IOI"}}
	assert.Equal(t, want, collect())
	assert.Equal(t, want, collect())

	var first string
	for name := range r.All() {
		first = name
		break
	}
	assert.Equal(t, "atcoder", first)
}
