package version

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

func withBuild(t *testing.T, version, commit, date string) {
	t.Helper()
	v, c, d := Version, Commit, Date
	Version, Commit, Date = version, commit, date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
}

func TestGetInfo(t *testing.T) {
	withBuild(t, "1.4.0", "0123456789abcdef", "2026-10-01T08:00:00Z")

	info := GetInfo()
	if info.Version != "1.4.0" || info.Commit != "0123456789abcdef" || info.Date != "2026-10-01T08:00:00Z" {
		t.Errorf("GetInfo() = %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if want := runtime.GOOS + "/" + runtime.GOARCH; info.Platform != want {
		t.Errorf("Platform = %q, want %q", info.Platform, want)
	}
}

func TestInfoStringShortensCommit(t *testing.T) {
	info := Info{Version: "1.4.0", Commit: "0123456789abcdef", Date: "today", GoVersion: "go1.25", Platform: "linux/amd64"}

	got := info.String()
	if !strings.HasPrefix(got, "assetdesk 1.4.0 (01234567)") {
		t.Errorf("String() = %q", got)
	}
	if strings.Contains(got, "89abcdef") {
		t.Errorf("String() should not carry the full commit: %q", got)
	}

	info.Commit = "abc"
	if !strings.Contains(info.String(), "(abc)") {
		t.Errorf("short commits are kept whole: %q", info.String())
	}
}

func TestShortAndUserAgent(t *testing.T) {
	info := Info{Version: "dev", Platform: "darwin/arm64"}
	if info.Short() != "dev" {
		t.Errorf("Short() = %q", info.Short())
	}
	if got := info.UserAgent(); got != "assetdesk/dev (darwin/arm64)" {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestInfoJSONFields(t *testing.T) {
	data, err := json.Marshal(Info{Version: "1", Commit: "c", Date: "d", GoVersion: "g", Platform: "p"})
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"version", "commit", "date", "go_version", "platform"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing %q in %s", key, data)
		}
	}
}
