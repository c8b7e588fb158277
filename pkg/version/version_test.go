package version

import (
	"fmt"
	"strings"
	"testing"
)

func TestVersionStrings(t *testing.T) {
	v := String()
	if want := fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch); !strings.HasPrefix(v, want) {
		t.Errorf("String() = %s, want prefix %s", v, want)
	}
	if Label == "" && strings.Contains(v, "-") {
		t.Errorf("unlabelled version has a label: %s", v)
	}

	if full := Full(); full != "hybrid-kex "+v {
		t.Errorf("Full() = %q", full)
	}
}
