package drive

import "testing"

func TestNodeState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to NodeState
		want     bool
	}{
		{StateActive, StateActive, false},
		{StateActive, StateTrashed, true},
		{StateActive, StatePurged, true},
		{StateTrashed, StateActive, true},
		{StateTrashed, StateTrashed, true},
		{StateTrashed, StatePurged, true},
		{StatePurged, StateActive, false},
		{StatePurged, StateTrashed, false},
		{StatePurged, StatePurged, true},
		{NodeState(7), StateActive, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s.CanTransition(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseNodeState(t *testing.T) {
	for _, s := range []NodeState{StateActive, StateTrashed, StatePurged} {
		got, err := ParseNodeState(s.String())
		if err != nil {
			t.Fatalf("ParseNodeState(%q) error = %v", s, err)
		}
		if got != s {
			t.Errorf("ParseNodeState(%q) = %v", s, got)
		}
	}
	if _, err := ParseNodeState("deleted"); err == nil {
		t.Error("ParseNodeState(deleted) expected error")
	}
	if got := NodeState(9).String(); got != "NodeState(9)" {
		t.Errorf("String() = %q", got)
	}
}

func TestMediaTypeFor(t *testing.T) {
	tests := map[string]string{
		"photo.JPG":   "image/jpeg",
		"report.pdf":  "application/pdf",
		"archive.zip": "application/zip",
		"README":      DefaultMediaType,
		"data.qqqzz":  DefaultMediaType,
		"page.HTM":    "text/html",
	}
	for name, want := range tests {
		if got := MediaTypeFor(name); got != want {
			t.Errorf("MediaTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestCopyName(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		isDir bool
		want  string
	}{
		{"report.pdf", 1, false, "report 副本(1).pdf"},
		{"archive.tar.gz", 2, false, "archive.tar 副本(2).gz"},
		{"Makefile", 1, false, "Makefile 副本(1)"},
		{".bashrc", 1, false, ".bashrc 副本(1)"},
		{"v1.2", 3, true, "v1.2 副本(3)"},
	}
	for _, tt := range tests {
		if got := copyName(tt.name, tt.n, tt.isDir); got != tt.want {
			t.Errorf("copyName(%q, %d, %v) = %q, want %q", tt.name, tt.n, tt.isDir, got, tt.want)
		}
	}
}
