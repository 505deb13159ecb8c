package agent

import (
	"reflect"
	"testing"
)

func TestLaunchCommand(t *testing.T) {
	tests := []struct {
		name     string
		def      Definition
		workdir  string
		message  string
		wantExe  string
		wantArgs []string
	}{
		{
			name: "no template appends message",
			def: Definition{
				Executable:  "/usr/bin/claude",
				DefaultArgs: []string{"--print", "--verbose"},
			},
			message:  "hello",
			wantExe:  "/usr/bin/claude",
			wantArgs: []string{"--print", "--verbose", "hello"},
		},
		{
			name: "no template empty message",
			def: Definition{
				Executable:  "/usr/bin/claude",
				DefaultArgs: []string{"--print"},
			},
			wantExe:  "/usr/bin/claude",
			wantArgs: []string{"--print"},
		},
		{
			name: "template with placeholders",
			def: Definition{
				Executable:      "/usr/bin/gemini",
				DefaultArgs:     []string{"--stream"},
				CommandTemplate: "{executable} {flags} --prompt {message}",
			},
			message:  "hi",
			wantExe:  "/usr/bin/gemini",
			wantArgs: []string{"--stream", "--prompt", "hi"},
		},
		{
			name: "template with workdir",
			def: Definition{
				Executable:      "/bin/run",
				CommandTemplate: "{executable} --cwd {workdir}",
			},
			workdir:  "/tmp/project",
			wantExe:  "/bin/run",
			wantArgs: []string{"--cwd", "/tmp/project"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exe, args := tt.def.LaunchCommand(tt.workdir, tt.message)
			if exe != tt.wantExe {
				t.Errorf("executable = %q, want %q", exe, tt.wantExe)
			}
			if len(args) == 0 && len(tt.wantArgs) == 0 {
				return
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestExpandTemplateLeavesUnknownPlaceholders(t *testing.T) {
	out := expandTemplate("{executable} {mystery}", map[string]string{"executable": "x"})
	if out != "x {mystery}" {
		t.Errorf("unexpected expansion: %q", out)
	}
}
