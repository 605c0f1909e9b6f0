package process

import (
	"reflect"
	"testing"
)

func TestMergeEnvOverrideWinsOnCollision(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/root"}
	override := []string{"HOME=/workspace", "DEBUG=1"}

	got := mergeEnv(base, override)
	want := []string{"PATH=/usr/bin", "HOME=/workspace", "DEBUG=1"}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMergeEnvIgnoresMalformedEntries(t *testing.T) {
	got := mergeEnv([]string{"PATH=/usr/bin"}, []string{"not-a-kv-pair"})
	want := []string{"PATH=/usr/bin"}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
