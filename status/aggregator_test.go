package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticProvider map[string]any

func (p staticProvider) GetStatus(float64) map[string]any { return p }

type eventtimeProvider struct{}

func (eventtimeProvider) GetStatus(eventtime float64) map[string]any {
	return map[string]any{"eventtime": eventtime}
}

func TestAggregator(t *testing.T) {
	a := NewAggregator()
	a.Add("query_endstops", staticProvider{"last_query": map[string]bool{"x": true}})
	a.Add("toolhead", eventtimeProvider{})

	assert.Equal(t, []string{"query_endstops", "toolhead"}, a.Objects())

	tests := []struct {
		name  string
		names []string
		want  map[string]map[string]any
	}{
		{
			name:  "one object",
			names: []string{"query_endstops"},
			want: map[string]map[string]any{
				"query_endstops": {"last_query": map[string]bool{"x": true}},
			},
		},
		{
			name: "all objects",
			want: map[string]map[string]any{
				"query_endstops": {"last_query": map[string]bool{"x": true}},
				"toolhead":       {"eventtime": 3.5},
			},
		},
		{
			name:  "unknown skipped",
			names: []string{"extruder", "toolhead"},
			want: map[string]map[string]any{
				"toolhead": {"eventtime": 3.5},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Status(3.5, tt.names...))
		})
	}
}

func TestAggregatorReplace(t *testing.T) {
	a := NewAggregator()
	a.Add("obj", staticProvider{"v": 1})
	a.Add("obj", staticProvider{"v": 2})

	assert.Equal(t, map[string]map[string]any{"obj": {"v": 2}}, a.Status(0))
}
