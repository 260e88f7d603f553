package cmdlib

import (
	"reflect"
	"testing"
)

func TestHashDiffNewRemoved(t *testing.T) {
	before := map[string]bool{"a": true, "b": true, "c": true}
	after := map[string]int{"b": 1, "d": 2, "e": 3}
	newElements, removed := HashDiffNewRemoved(before, after)
	if !reflect.DeepEqual(newElements, []string{"d", "e"}) {
		t.Errorf("unexpected new elements %v", newElements)
	}
	if !reflect.DeepEqual(removed, []string{"a", "c"}) {
		t.Errorf("unexpected removed elements %v", removed)
	}
	newElements, removed = HashDiffNewRemoved(map[string]bool{}, map[string]bool{})
	if newElements != nil || removed != nil {
		t.Errorf("expected no changes, got %v, %v", newElements, removed)
	}
}

func TestHashIntersection(t *testing.T) {
	xs := map[string]bool{"a": true, "b": true, "c": true}
	ys := map[string]string{"c": "", "a": "", "z": ""}
	if got := HashIntersection(xs, ys); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("unexpected intersection %v", got)
	}
}
