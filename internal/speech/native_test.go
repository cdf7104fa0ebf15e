package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseSayVoices(t *testing.T) {
	t.Parallel()

	out := []byte(`Alex                en_US    # Most people recognize me by my voice.
Good News           en_US    # We cannot control our destiny.
Amélie              fr_CA    # Bonjour, je m'appelle Amélie.
Samantha (Enhanced) en_US    # Hello, my name is Samantha.
not a voice line
`)
	voices := parseSayVoices(out)
	if len(voices) != 4 {
		t.Fatalf("expected 4 voices, got %+v", voices)
	}
	if voices[1].Name != "Good News" || voices[1].Language != "en_US" {
		t.Fatalf("unexpected multi-word voice: %+v", voices[1])
	}
	if voices[3].ID != "Samantha (Enhanced)" {
		t.Fatalf("unexpected voice id: %+v", voices[3])
	}
}

func TestParseEspeakVoices(t *testing.T) {
	t.Parallel()

	out := []byte(`Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  de              --/M      German             gmw/de
 2  en-gb           --/M      English_(Great_Britain) gmw/en            (en 2)
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
`)
	voices := parseEspeakVoices(out)
	if len(voices) != 3 {
		t.Fatalf("expected 3 voices, got %+v", voices)
	}
	if voices[2].ID != "en-us" || voices[2].Name != "English_(America)" {
		t.Fatalf("unexpected voice: %+v", voices[2])
	}
}

func TestPickVoice(t *testing.T) {
	t.Parallel()

	voices := []Voice{
		{ID: "Thomas", Name: "Thomas", Language: "fr_FR"},
		{ID: "Daniel", Name: "Daniel", Language: "en_GB"},
		{ID: "Fred", Name: "Fred", Language: "en_US"},
		{ID: "Samantha", Name: "Samantha", Language: "en_US"},
	}

	if got := PickVoice(voices, "en-US", DefaultPreferredVoices); got.ID != "Samantha" {
		t.Fatalf("expected preferred voice, got %+v", got)
	}
	if got := PickVoice(voices, "en-US", nil); got.ID != "Fred" {
		t.Fatalf("expected first exact language match, got %+v", got)
	}
	if got := PickVoice(voices, "en-AU", []string{"Daniel"}); got.ID != "Daniel" {
		t.Fatalf("expected same-family preferred voice, got %+v", got)
	}
	if got := PickVoice(voices, "de-DE", DefaultPreferredVoices); got.ID != "" {
		t.Fatalf("expected no voice, got %+v", got)
	}
}

func TestNativeSpeakerEngineDiscovery(t *testing.T) {
	t.Parallel()

	speaker := NewNativeSpeaker(NativeConfig{}, zerolog.Nop())
	speaker.goos = "darwin"
	speaker.lookPath = func(name string) (string, error) {
		if name == "say" {
			return "/usr/bin/say", nil
		}
		return "", errors.New("not found")
	}
	if engine, err := speaker.engine(); err != nil || engine != "/usr/bin/say" {
		t.Fatalf("expected say on darwin, got %q err=%v", engine, err)
	}

	speaker.goos = "linux"
	if _, err := speaker.engine(); !errors.Is(err, ErrNoNativeEngine) {
		t.Fatalf("expected ErrNoNativeEngine, got %v", err)
	}

	speaker.lookPath = func(name string) (string, error) {
		if name == "espeak" {
			return "/usr/bin/espeak", nil
		}
		return "", errors.New("not found")
	}
	if engine, err := speaker.engine(); err != nil || engine != "/usr/bin/espeak" {
		t.Fatalf("expected espeak fallback, got %q err=%v", engine, err)
	}
}

func TestNativeSpeakerRunsEngineWithPickedVoice(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	dir := t.TempDir()
	argsPath := filepath.Join(dir, "args.txt")
	script := filepath.Join(dir, "fake-espeak")
	body := `#!/bin/sh
if [ "$1" = "--voices" ]; then
  echo "Pty Language       Age/Gender VoiceName          File"
  echo " 5  de              --/M      German             gmw/de"
  echo " 5  en-us           --/M      English_(America)  gmw/en-US"
  exit 0
fi
printf '%s\n' "$@" > "` + argsPath + `"
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	speaker := NewNativeSpeaker(NativeConfig{Command: script, Rate: 180}, zerolog.Nop())
	started := 0
	if err := speaker.Speak(context.Background(), "  lights are on  ", func() { started++ }); err != nil {
		t.Fatalf("speak failed: %v", err)
	}
	if started != 1 {
		t.Fatalf("expected onStart once, got %d", started)
	}

	raw, err := os.ReadFile(argsPath)
	if err != nil {
		t.Fatalf("engine was not run: %v", err)
	}
	got := strings.Split(strings.TrimSpace(string(raw)), "\n")
	want := []string{"-v", "en-us", "-s", "180", "--", "lights are on"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected args: %q", got)
	}
}

func TestNativeSpeakerReportsEngineFailure(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	script := filepath.Join(t.TempDir(), "broken-espeak")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho 'no audio device' >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	speaker := NewNativeSpeaker(NativeConfig{Command: script, Voice: "en"}, zerolog.Nop())
	err := speaker.Speak(context.Background(), "hello", nil)
	if err == nil || !strings.Contains(err.Error(), "no audio device") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestNativeSpeakerPassesDashLeadingText(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	dir := t.TempDir()
	spokenPath := filepath.Join(dir, "spoken.txt")
	script := filepath.Join(dir, "strict-espeak")
	// Rejects unknown options the way getopt does until "--" ends them.
	body := `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --) shift; break ;;
    -v|-s) shift 2 ;;
    -*) echo "unknown option $1" >&2; exit 1 ;;
    *) break ;;
  esac
done
printf '%s' "$*" > "` + spokenPath + `"
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	speaker := NewNativeSpeaker(NativeConfig{Command: script, Voice: "en-us"}, zerolog.Nop())
	if err := speaker.Speak(context.Background(), "-5 degrees in Oslo", nil); err != nil {
		t.Fatalf("speak failed: %v", err)
	}
	raw, err := os.ReadFile(spokenPath)
	if err != nil {
		t.Fatalf("engine was not run: %v", err)
	}
	if string(raw) != "-5 degrees in Oslo" {
		t.Fatalf("unexpected spoken text: %q", raw)
	}
}

func TestNativeSpeakerVoiceSelectionSurvivesCancelledCaller(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	script := filepath.Join(t.TempDir(), "fake-espeak")
	body := `#!/bin/sh
if [ "$1" = "--voices" ]; then
  echo "Pty Language       Age/Gender VoiceName          File"
  echo " 5  en-us           --/M      English_(America)  gmw/en-US"
fi
`
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	speaker := NewNativeSpeaker(NativeConfig{Command: script}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := speaker.Speak(ctx, "hello", nil); err == nil {
		t.Fatalf("expected cancelled speak to fail")
	}

	args := speaker.voiceArgs(context.Background(), script)
	if strings.Join(args, " ") != "-v en-us" {
		t.Fatalf("expected voice picked despite cancelled first caller, got %q", args)
	}
}
