package main

import (
	"bytes"
	"strings"
	"testing"
)

func runPlan(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"plan"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPlan_PrintsCommand(t *testing.T) {
	out, err := runPlan(t, "--input", "song.mp3", "--style", "wave", "--mode", "line", "--fps", "30")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, want := range []string{"ffmpeg", "-i song.mp3", "showwaves=s=1280x720:mode=line:rate=30", "out.mp4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPlan_SiriColours(t *testing.T) {
	out, err := runPlan(t, "-i", "a.wav", "--style", "siri", "--colors", "#ff0000,#00ff00,#0000ff,#ffff00")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.Contains(out, "asplit=4") {
		t.Errorf("missing asplit:\n%s", out)
	}
}

func TestPlan_RejectsInvalidOptions(t *testing.T) {
	tests := [][]string{
		{"-i", "a.wav", "--style", "bars"},
		{"-i", "a.wav", "--fps", "29"},
		{"-i", "a.wav", "--style", "siri", "--colors", "red,blue,green"},
		{"-i", "a.wav", "--color", "red;drawtext"},
		{"--style", "wave"},
	}
	for _, args := range tests {
		if _, err := runPlan(t, args...); err == nil {
			t.Errorf("plan %v succeeded", args)
		}
	}
}
