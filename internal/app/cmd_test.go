package app

import (
	"io"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"空はserve", []string{}, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"dispatch", []string{"dispatch"}, CommandDispatch},
		{"cleanup", []string{"cleanup"}, CommandCleanup},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"不明なコマンドはserve", []string{"unknown"}, CommandServe},
		{"後続の引数は無視", []string{"dispatch", "--manual"}, CommandDispatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "serve"},
		{CommandDispatch, "dispatch"},
		{CommandCleanup, "cleanup"},
		{CommandMigrate, "migrate"},
		{CommandHealthcheck, "healthcheck"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd); got != tt.want {
			t.Errorf("Command(%q) string = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestParseDispatchFlags(t *testing.T) {
	f, err := ParseDispatchFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Manual {
		t.Error("デフォルトはManual=falseであるべき")
	}

	f, err = ParseDispatchFlags([]string{"--manual"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Manual {
		t.Error("--manual 指定時はManual=trueであるべき")
	}

	if _, err := ParseDispatchFlags([]string{"--unknown"}, io.Discard); err == nil {
		t.Error("未知のフラグはエラーを返すべき")
	}
}
