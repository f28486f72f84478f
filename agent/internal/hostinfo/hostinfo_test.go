package hostinfo

import (
	"context"
	"runtime"
	"strings"
	"testing"
)

func TestTags_AlwaysIncludesOSAndArch(t *testing.T) {
	tags := Tags(context.Background())

	wantOS := "os:" + runtime.GOOS
	wantArch := "arch:" + runtime.GOARCH

	var haveOS, haveArch bool
	for _, tag := range tags {
		if tag == wantOS {
			haveOS = true
		}
		if tag == wantArch {
			haveArch = true
		}
	}
	if !haveOS {
		t.Errorf("expected tags to include %q, got %v", wantOS, tags)
	}
	if !haveArch {
		t.Errorf("expected tags to include %q, got %v", wantArch, tags)
	}
}

func TestTags_AllEntriesAreKeyValuePairs(t *testing.T) {
	for _, tag := range Tags(context.Background()) {
		if !strings.Contains(tag, ":") {
			t.Errorf("tag %q is not in key:value form", tag)
		}
	}
}
