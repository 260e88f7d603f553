package cmdlib

import (
	"slices"
	"strings"
)

// HashDiffNewRemoved returns new and removed keys, both sorted
func HashDiffNewRemoved[V, W any](before map[string]V, after map[string]W) (newElements []string, removedElements []string) {
	for k := range after {
		if _, ok := before[k]; !ok {
			newElements = append(newElements, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			removedElements = append(removedElements, k)
		}
	}
	slices.SortFunc(newElements, strings.Compare)
	slices.SortFunc(removedElements, strings.Compare)
	return
}

// HashIntersection returns sorted keys present in both maps
func HashIntersection[V, W any](xs map[string]V, ys map[string]W) []string {
	var result []string
	for k := range xs {
		if _, ok := ys[k]; ok {
			result = append(result, k)
		}
	}
	slices.Sort(result)
	return result
}
