package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file: %v", err)
	}
}

func TestLoadFileSetsValuesWithoutShadowingEnvironment(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# local overrides\n" +
		"CALLBRIDGE_LISTEN_ADDR=:9100\n" +
		"CALLBRIDGE_SYSTEM_PROMPT=\"You are a receptionist\"\n" +
		"export CALLBRIDGE_VOICE=verse\n" +
		"CALLBRIDGE_LOG_LEVEL=debug\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("CALLBRIDGE_LOG_LEVEL", "info")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if got := os.Getenv("CALLBRIDGE_LISTEN_ADDR"); got != ":9100" {
		t.Fatalf("CALLBRIDGE_LISTEN_ADDR=%q, want %q", got, ":9100")
	}
	if got := os.Getenv("CALLBRIDGE_SYSTEM_PROMPT"); got != "You are a receptionist" {
		t.Fatalf("CALLBRIDGE_SYSTEM_PROMPT=%q, want unquoted value", got)
	}
	if got := os.Getenv("CALLBRIDGE_VOICE"); got != "verse" {
		t.Fatalf("CALLBRIDGE_VOICE=%q, want %q", got, "verse")
	}
	if got := os.Getenv("CALLBRIDGE_LOG_LEVEL"); got != "info" {
		t.Fatalf("CALLBRIDGE_LOG_LEVEL=%q, want the real environment preserved", got)
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		line string
		key  string
		val  string
		ok   bool
	}{
		{line: "KEY=value", key: "KEY", val: "value", ok: true},
		{line: "  KEY = spaced value  ", key: "KEY", val: "spaced value", ok: true},
		{line: "export KEY=value", key: "KEY", val: "value", ok: true},
		{line: `KEY="double quoted"`, key: "KEY", val: "double quoted", ok: true},
		{line: "KEY='single quoted'", key: "KEY", val: "single quoted", ok: true},
		{line: "KEY=", key: "KEY", val: "", ok: true},
		{line: "# comment", ok: false},
		{line: "", ok: false},
		{line: "=value", ok: false},
		{line: "no equals sign", ok: false},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.line)
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Errorf("parseLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.line, key, val, ok, tc.key, tc.val, tc.ok)
		}
	}
}
