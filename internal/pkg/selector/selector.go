// Package selector matches Pool and Volume objects against the
// StoragePolicy label selectors using standard Kubernetes label-selector
// semantics (matchLabels and matchExpressions with In, NotIn, Exists,
// DoesNotExist).
package selector

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// Matches reports whether the given label set satisfies sel. A nil
// selector matches nothing: callers that want "match everything" should
// not call Matches with a nil selector (StoragePolicy requires hot and
// cold pool selectors to be set; warm and volume selectors are optional
// and callers must check for nil before calling Matches).
func Matches(sel *metav1.LabelSelector, set map[string]string) (bool, error) {
	if sel == nil {
		return false, nil
	}
	s, err := metav1.LabelSelectorAsSelector(sel)
	if err != nil {
		return false, err
	}
	return s.Matches(labels.Set(set)), nil
}
