package backend

import (
	"context"
	"slices"
	"strings"
	"testing"
)

func TestNewGooseAdapterSessionName(t *testing.T) {
	adapter, err := NewGooseAdapter(Config{Type: "goose"}, nil)
	if err != nil {
		t.Fatalf("NewGooseAdapter: %v", err)
	}
	name := adapter.SessionID()
	if !strings.HasPrefix(name, "taskloop-") || len(name) != len("taskloop-")+8 {
		t.Errorf("generated session name %q, want taskloop-<8 hex>", name)
	}
	other, err := NewGooseAdapter(Config{Type: "goose"}, nil)
	if err != nil {
		t.Fatalf("NewGooseAdapter: %v", err)
	}
	if other.SessionID() == name {
		t.Errorf("two adapters share session name %q", name)
	}

	adapter, err = NewGooseAdapter(Config{Type: "goose", SessionID: "review"}, nil)
	if err != nil {
		t.Fatalf("NewGooseAdapter: %v", err)
	}
	if adapter.SessionID() != "review" || adapter.command != "goose" {
		t.Errorf("got session %q command %q", adapter.SessionID(), adapter.command)
	}
}

func TestGooseAdapterArgs(t *testing.T) {
	base := []string{"run", "--text", "plan", "--output-format", "json"}
	tests := []struct {
		name    string
		cfg     Config
		started bool
		want    []string
	}{
		{
			name: "first message names the session",
			cfg:  Config{SessionID: "s"},
			want: append(slices.Clone(base), "--name", "s"),
		},
		{
			name:    "later messages resume",
			cfg:     Config{SessionID: "s"},
			started: true,
			want:    append(slices.Clone(base), "--name", "s", "--resume"),
		},
		{
			name: "stateless",
			cfg:  Config{SessionID: "s", Stateless: true},
			want: append(slices.Clone(base), "--no-session"),
		},
		{
			name: "local provider",
			cfg:  Config{SessionID: "s", Provider: "ollama", Model: "qwen3", SystemPrompt: "Be brief.", Args: []string{"--quiet"}},
			want: append(slices.Clone(base), "--name", "s", "--provider", "ollama", "--model", "qwen3", "--system", "Be brief.", "--quiet"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.WorkDir = t.TempDir()
			adapter, err := NewGooseAdapter(tt.cfg, nil)
			if err != nil {
				t.Fatalf("NewGooseAdapter: %v", err)
			}
			adapter.started = tt.started
			got := adapter.buildArgs(Message{Content: "plan"})
			if !slices.Equal(got, tt.want) {
				t.Errorf("args = %q\nwant   %q", got, tt.want)
			}
		})
	}
}

func TestParseGooseResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "single object", input: `{"content": "done"}`, want: "done"},
		{name: "stream", input: "{\"content\": \"part 1\"}\n{\"other\": 1}\n{\"content\": \"part 2\"}\n", want: "part 1\npart 2"},
		{name: "plain text", input: "just text", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseGooseResponse([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", resp)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseGooseResponse: %v", err)
			}
			if resp.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Content, tt.want)
			}
		})
	}
}

// TestGooseAdapter_SendFallsBackToText verifies non-JSON output is returned
// as content and the session resumes on the next turn.
func TestGooseAdapter_SendFallsBackToText(t *testing.T) {
	cli := fakeCLI(t, `echo "ran: $*"`)
	adapter, err := NewGooseAdapter(Config{Type: "goose", Command: cli, SessionID: "s", WorkDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewGooseAdapter: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "first"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Content != "ran: run --text first --output-format json --name s" || resp.SessionID != "s" {
		t.Errorf("first turn = %+v", resp)
	}

	resp, err = adapter.Send(context.Background(), Message{Content: "second"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasSuffix(resp.Content, "--name s --resume") {
		t.Errorf("second turn should resume, got %q", resp.Content)
	}
}

func TestGooseAdapter_SendFailure(t *testing.T) {
	cli := fakeCLI(t, `echo "no provider configured" >&2; exit 2`)
	adapter, err := NewGooseAdapter(Config{Type: "goose", Command: cli, WorkDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewGooseAdapter: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "hi"})
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if !strings.Contains(resp.Error, "no provider configured") || resp.SessionID != adapter.SessionID() {
		t.Errorf("unexpected failure response %+v", resp)
	}
	if adapter.started {
		t.Error("adapter should not be started after a failure")
	}
}
