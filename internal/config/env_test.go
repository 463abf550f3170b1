// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseString(t *testing.T) {
	t.Setenv("LARDER_TEST_STR", "from-env")
	if got := ParseString("LARDER_TEST_STR", "fallback"); got != "from-env" {
		t.Errorf("ParseString = %q, want from-env", got)
	}
	if got := ParseString("LARDER_TEST_STR_MISSING", "fallback"); got != "fallback" {
		t.Errorf("ParseString = %q, want fallback", got)
	}

	t.Setenv("LARDER_TEST_STR_EMPTY", "")
	if got := ParseString("LARDER_TEST_STR_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("ParseString on empty env = %q, want fallback", got)
	}
}

func TestParseInt(t *testing.T) {
	t.Setenv("LARDER_TEST_INT", "42")
	if got := ParseInt("LARDER_TEST_INT", 7); got != 42 {
		t.Errorf("ParseInt = %d, want 42", got)
	}

	t.Setenv("LARDER_TEST_INT_BAD", "not-a-number")
	if got := ParseInt("LARDER_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("ParseInt on invalid value = %d, want 7", got)
	}
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{
		"true": true, "1": true, "yes": true, "TRUE": true,
		"false": false, "0": false, "no": false,
	}
	for raw, want := range cases {
		t.Setenv("LARDER_TEST_BOOL", raw)
		if got := ParseBool("LARDER_TEST_BOOL", !want); got != want {
			t.Errorf("ParseBool(%q) = %v, want %v", raw, got, want)
		}
	}

	t.Setenv("LARDER_TEST_BOOL", "maybe")
	if got := ParseBool("LARDER_TEST_BOOL", true); got != true {
		t.Error("ParseBool on invalid value should keep default")
	}
}

func TestParseDuration(t *testing.T) {
	t.Setenv("LARDER_TEST_DUR", "90s")
	if got := ParseDuration("LARDER_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("ParseDuration = %s, want 90s", got)
	}

	t.Setenv("LARDER_TEST_DUR_BAD", "soon")
	if got := ParseDuration("LARDER_TEST_DUR_BAD", time.Minute); got != time.Minute {
		t.Errorf("ParseDuration on invalid value = %s, want 1m", got)
	}
}

func TestParseStringSlice(t *testing.T) {
	t.Setenv("LARDER_TEST_SLICE", "https://a.example, https://b.example ,")
	got := ParseStringSlice("LARDER_TEST_SLICE", nil)
	want := []string{"https://a.example", "https://b.example"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseStringSlice mismatch (-want +got):\n%s", diff)
	}

	fallback := []string{"x"}
	if got := ParseStringSlice("LARDER_TEST_SLICE_MISSING", fallback); len(got) != 1 || got[0] != "x" {
		t.Errorf("ParseStringSlice fallback = %v, want [x]", got)
	}
}

func TestParseStringMap(t *testing.T) {
	t.Setenv("LARDER_TEST_MAP", "house-1=https://cal.example/a, house-2=https://cal.example/b, broken, =nope")
	got := ParseStringMap("LARDER_TEST_MAP", nil)
	want := map[string]string{
		"house-1": "https://cal.example/a",
		"house-2": "https://cal.example/b",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseStringMap mismatch (-want +got):\n%s", diff)
	}
}
