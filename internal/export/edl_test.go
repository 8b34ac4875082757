package export

import (
	"strings"
	"testing"
)

func TestGenerateEDL_SingleScene(t *testing.T) {
	scenes := []Scene{{Index: 1, Label: "2.00s", Seconds: 2, Score: 0.91}}

	edl := GenerateEDL(scenes, "Birthday", "/media/party.mp4", 30.0, 1.0)

	if !strings.Contains(edl, "TITLE: Birthday") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:01:15 00:00:02:15 00:00:00:00 00:00:01:00") {
		t.Fatalf("missing event line: %q", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  smile 2.00s (score 0.910)") {
		t.Fatalf("missing clip name comment: %q", edl)
	}
	if !strings.Contains(edl, "* MEDIA PATH:  /media/party.mp4") {
		t.Fatalf("missing media path comment: %q", edl)
	}
}

func TestGenerateEDL_ChronologicalAndClampedAtZero(t *testing.T) {
	scenes := []Scene{
		{Index: 1, Label: "5.00s", Seconds: 5, Score: 0.9},
		{Index: 2, Label: "0.20s", Seconds: 0.2, Score: 0.8},
	}

	edl := GenerateEDL(scenes, "Multi", "/a.mp4", 30.0, 1.0)

	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:00:21 00:00:00:00 00:00:00:21") {
		t.Fatalf("first event line mismatch: %q", edl)
	}
	if !strings.Contains(edl, "002  AX       V     C        00:00:04:15 00:00:05:15 00:00:00:21 00:00:01:21") {
		t.Fatalf("second event line mismatch or bad record offset: %q", edl)
	}
	if scenes[0].Seconds != 5 {
		t.Error("GenerateEDL reordered the caller's slice")
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	scenes := []Scene{{Index: 1, Label: "1.00s", Seconds: 1}}
	edl := GenerateEDL(scenes, "Drop", "/x.mp4", 29.97, 1.0)

	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestMsToTimecode(t *testing.T) {
	tests := []struct {
		name string
		ms   int
		fps  int
		want string
	}{
		{name: "zero", ms: 0, fps: 30, want: "00:00:00:00"},
		{name: "one second", ms: 1000, fps: 30, want: "00:00:01:00"},
		{name: "fractional second", ms: 500, fps: 30, want: "00:00:00:15"},
		{name: "one minute", ms: 60000, fps: 30, want: "00:01:00:00"},
		{name: "one hour", ms: 3600000, fps: 30, want: "01:00:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := msToTimecode(tc.ms, tc.fps)
			if got != tc.want {
				t.Fatalf("msToTimecode(%d, %d) = %q, want %q", tc.ms, tc.fps, got, tc.want)
			}
		})
	}
}
