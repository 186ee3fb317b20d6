package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monorist/monorise/domain/entity"
)

func courseConfigs() []EntityConfig {
	return []EntityConfig{
		{
			Name: "course",
			MutualFields: map[string]MutualField{
				"modules":  {EntityType: "module"},
				"chapters": {EntityType: "chapter"},
			},
			Prejoins: []Prejoin{{
				MutualField:      "chapters",
				TargetEntityType: "chapter",
				Path:             []Hop{{EntityType: "course"}, {EntityType: "module"}, {EntityType: "chapter"}},
			}},
		},
		{Name: "module", MutualFields: map[string]MutualField{"chapters": {EntityType: "chapter"}}},
		{Name: "chapter"},
	}
}

func TestNew_DefaultsIndexProcessor(t *testing.T) {
	r, err := New(courseConfigs()...)
	require.NoError(t, err)

	course, ok := r.Get("course")
	require.True(t, ok)
	data := course.MutualFields["modules"].DataProcessor([]string{"a", "b"}, "b", nil, nil)

	assert.Equal(t, map[string]interface{}{"index": 1}, data)
	assert.Equal(t, "course", course.DisplayName)
	assert.Equal(t, []string{"chapter", "course", "module"}, r.Names())
}

func TestNew_RejectsInvalidConfigurations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]EntityConfig) []EntityConfig
		errMsg string
	}{
		{
			name: "bad name",
			mutate: func(c []EntityConfig) []EntityConfig {
				return append(c, EntityConfig{Name: "Bad#Name"})
			},
			errMsg: "name must match",
		},
		{
			name: "duplicate",
			mutate: func(c []EntityConfig) []EntityConfig {
				return append(c, EntityConfig{Name: "chapter"})
			},
			errMsg: "defined twice",
		},
		{
			name: "unknown mutual type",
			mutate: func(c []EntityConfig) []EntityConfig {
				c[2].MutualFields = map[string]MutualField{"videos": {EntityType: "video"}}
				return c
			},
			errMsg: "unknown type \"video\"",
		},
		{
			name: "tag name with separator",
			mutate: func(c []EntityConfig) []EntityConfig {
				c[2].Tags = []TagConfig{{Name: "t#x", Processor: func(*entity.Entity) ([]entity.Tag, error) { return nil, nil }}}
				return c
			},
			errMsg: "must not contain '#'",
		},
		{
			name: "cyclic path",
			mutate: func(c []EntityConfig) []EntityConfig {
				c[0].Prejoins[0].Path = []Hop{{EntityType: "course"}, {EntityType: "module"}, {EntityType: "course"}, {EntityType: "chapter"}}
				return c
			},
			errMsg: "acyclic",
		},
		{
			name: "path does not reach target",
			mutate: func(c []EntityConfig) []EntityConfig {
				c[0].Prejoins[0].Path = []Hop{{EntityType: "course"}, {EntityType: "module"}}
				return c
			},
			errMsg: "must end at",
		},
		{
			name: "path starts elsewhere",
			mutate: func(c []EntityConfig) []EntityConfig {
				c[0].Prejoins[0].Path = []Hop{{EntityType: "module"}, {EntityType: "chapter"}}
				return c
			},
			errMsg: "must start at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mutate(courseConfigs())...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPrejoinsAffectedBy(t *testing.T) {
	r := MustNew(courseConfigs()...)

	refs := r.PrejoinsAffectedBy("chapter", "module")

	require.Len(t, refs, 1)
	assert.Equal(t, "course", refs[0].RootType)
	assert.Equal(t, "chapters", refs[0].Prejoin.MutualField)
	assert.Equal(t, 1, refs[0].HopIndex)
	assert.Empty(t, r.PrejoinsAffectedBy("course", "chapter"))
}

func TestChainAllowed(t *testing.T) {
	r := MustNew(courseConfigs()...)

	assert.True(t, r.ChainAllowed("course", "module", "chapter"))
	assert.False(t, r.ChainAllowed("course", "chapter", "module"))
	assert.False(t, r.ChainAllowed("video", "module", "chapter"))
}
