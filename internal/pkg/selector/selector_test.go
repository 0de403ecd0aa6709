package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name string
		sel  *metav1.LabelSelector
		set  map[string]string
		want bool
	}{
		{
			name: "nil selector matches nothing",
			sel:  nil,
			set:  map[string]string{"tier": "hot"},
			want: false,
		},
		{
			name: "matchLabels all equal",
			sel:  &metav1.LabelSelector{MatchLabels: map[string]string{"tier": "hot", "media": "nvme"}},
			set:  map[string]string{"tier": "hot", "media": "nvme", "extra": "ignored"},
			want: true,
		},
		{
			name: "matchLabels missing key",
			sel:  &metav1.LabelSelector{MatchLabels: map[string]string{"tier": "hot"}},
			set:  map[string]string{"media": "nvme"},
			want: false,
		},
		{
			name: "matchExpressions In",
			sel: &metav1.LabelSelector{MatchExpressions: []metav1.LabelSelectorRequirement{
				{Key: "tier", Operator: metav1.LabelSelectorOpIn, Values: []string{"hot", "warm"}},
			}},
			set:  map[string]string{"tier": "warm"},
			want: true,
		},
		{
			name: "matchExpressions NotIn excludes",
			sel: &metav1.LabelSelector{MatchExpressions: []metav1.LabelSelectorRequirement{
				{Key: "tier", Operator: metav1.LabelSelectorOpNotIn, Values: []string{"cold"}},
			}},
			set:  map[string]string{"tier": "cold"},
			want: false,
		},
		{
			name: "matchExpressions Exists",
			sel: &metav1.LabelSelector{MatchExpressions: []metav1.LabelSelectorRequirement{
				{Key: "nvme", Operator: metav1.LabelSelectorOpExists},
			}},
			set:  map[string]string{"nvme": ""},
			want: true,
		},
		{
			name: "matchExpressions DoesNotExist",
			sel: &metav1.LabelSelector{MatchExpressions: []metav1.LabelSelectorRequirement{
				{Key: "nvme", Operator: metav1.LabelSelectorOpDoesNotExist},
			}},
			set:  map[string]string{"other": "x"},
			want: true,
		},
		{
			name: "all must hold",
			sel: &metav1.LabelSelector{
				MatchLabels: map[string]string{"tier": "hot"},
				MatchExpressions: []metav1.LabelSelectorRequirement{
					{Key: "media", Operator: metav1.LabelSelectorOpIn, Values: []string{"nvme"}},
				},
			},
			set:  map[string]string{"tier": "hot", "media": "sata"},
			want: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Matches(tt.sel, tt.set)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
