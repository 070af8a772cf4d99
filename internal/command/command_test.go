package command

import (
	"testing"

	"ToolPilot/internal/router"
)

func TestInterpretMetaCommand(t *testing.T) {
	cases := []struct {
		input    string
		wantName string
		wantArgs string
	}{
		{"/help", "help", ""},
		{"/EXIT", "exit", ""},
		{"  /status  ", "status", ""},
		{"/connect calendar", "connect", "calendar"},
		{"/disconnect  email ", "disconnect", "email"},
	}

	for _, tc := range cases {
		intent := Interpret(tc.input)
		meta, ok := intent.(MetaCommand)
		if !ok {
			t.Fatalf("Interpret(%q) = %T, want MetaCommand", tc.input, intent)
		}
		if meta.Name != tc.wantName {
			t.Fatalf("Interpret(%q).Name = %q, want %q", tc.input, meta.Name, tc.wantName)
		}
		if meta.Args != tc.wantArgs {
			t.Fatalf("Interpret(%q).Args = %q, want %q", tc.input, meta.Args, tc.wantArgs)
		}
	}
}

func TestInterpretForcedTool(t *testing.T) {
	cases := []struct {
		input    string
		wantTool router.Tool
		wantText string
	}{
		{"/chat hello there", router.ToolChat, "hello there"},
		{"/browser search for gophers", router.ToolBrowser, "search for gophers"},
		{"/calendar what is on today", router.ToolCalendar, "what is on today"},
		{"/calender tomorrow", router.ToolCalendar, "tomorrow"},
		{"/email check inbox", router.ToolEmail, "check inbox"},
		{"/mail anything unread", router.ToolEmail, "anything unread"},
		{"/Email check inbox", router.ToolEmail, "check inbox"},
	}

	for _, tc := range cases {
		intent := Interpret(tc.input)
		forced, ok := intent.(ForcedTool)
		if !ok {
			t.Fatalf("Interpret(%q) = %T, want ForcedTool", tc.input, intent)
		}
		if forced.Tool != tc.wantTool {
			t.Fatalf("Interpret(%q).Tool = %q, want %q", tc.input, forced.Tool, tc.wantTool)
		}
		if forced.Text != tc.wantText {
			t.Fatalf("Interpret(%q).Text = %q, want %q", tc.input, forced.Text, tc.wantText)
		}
	}
}

func TestInterpretForcedToolWithoutText(t *testing.T) {
	forced, ok := Interpret("/browser").(ForcedTool)
	if !ok {
		t.Fatalf("expected ForcedTool")
	}
	if forced.Text != "" {
		t.Fatalf("Text = %q, want empty", forced.Text)
	}
}

func TestInterpretUnclassified(t *testing.T) {
	cases := []string{
		"what's the weather",
		"/unknowncommand do something",
		"check my /email please",
	}
	for _, input := range cases {
		if _, ok := Interpret(input).(Unclassified); !ok {
			t.Fatalf("Interpret(%q) = %T, want Unclassified", input, Interpret(input))
		}
	}
}

func TestInterpretTrimsInput(t *testing.T) {
	intent := Interpret("   tell me a joke   ")
	plain, ok := intent.(Unclassified)
	if !ok {
		t.Fatalf("expected Unclassified, got %T", intent)
	}
	if plain.Text != "tell me a joke" {
		t.Fatalf("Text = %q", plain.Text)
	}
}
