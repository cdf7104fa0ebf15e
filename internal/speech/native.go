package speech

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoNativeEngine is returned when no on-device speech command is installed.
var ErrNoNativeEngine = errors.New("no native speech engine available")

// voiceListTimeout bounds the one-time voice listing.
const voiceListTimeout = 5 * time.Second

// DefaultPreferredVoices are tried, in order, among voices matching the
// configured language.
var DefaultPreferredVoices = []string{"Samantha", "Karen", "Daniel", "Moira", "Alex", "English_(America)", "en-us"}

// NativeConfig selects the on-device speech command.
type NativeConfig struct {
	// Command overrides engine discovery (say, espeak-ng or espeak).
	Command  string
	Voice    string
	Language string
	// Rate is words per minute; zero keeps the engine default.
	Rate      int
	Preferred []string
}

// Voice is one installed system voice. ID is passed to the engine.
type Voice struct {
	ID       string
	Name     string
	Language string
}

// CommandSpeaker speaks through the platform speech command.
type CommandSpeaker struct {
	cfg      NativeConfig
	log      zerolog.Logger
	lookPath func(string) (string, error)
	goos     string

	voiceOnce sync.Once
	voice     string
}

func NewNativeSpeaker(cfg NativeConfig, logger zerolog.Logger) *CommandSpeaker {
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if len(cfg.Preferred) == 0 {
		cfg.Preferred = DefaultPreferredVoices
	}
	return &CommandSpeaker{
		cfg:      cfg,
		log:      logger,
		lookPath: exec.LookPath,
		goos:     runtime.GOOS,
	}
}

// Speak blocks until the engine exits or ctx is cancelled. onStart runs once
// the engine process has started.
func (s *CommandSpeaker) Speak(ctx context.Context, text string, onStart func()) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	engine, err := s.engine()
	if err != nil {
		return err
	}

	args := s.voiceArgs(ctx, engine)
	if s.cfg.Rate > 0 {
		flag := "-s"
		if isSay(engine) {
			flag = "-r"
		}
		args = append(args, flag, strconv.Itoa(s.cfg.Rate))
	}
	// Responses may start with a dash, e.g. "-5 degrees".
	args = append(args, "--", text)

	cmd := exec.CommandContext(ctx, engine, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", engine, err)
	}
	if onStart != nil {
		onStart()
	}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", engine, err, msg)
		}
		return fmt.Errorf("%s failed: %w", engine, err)
	}
	return nil
}

// Voices lists the engine's installed voices.
func (s *CommandSpeaker) Voices(ctx context.Context) ([]Voice, error) {
	engine, err := s.engine()
	if err != nil {
		return nil, err
	}

	var args []string
	if isSay(engine) {
		args = []string{"-v", "?"}
	} else {
		args = []string{"--voices"}
	}
	out, err := exec.CommandContext(ctx, engine, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s voices: %w", engine, err)
	}
	if isSay(engine) {
		return parseSayVoices(out), nil
	}
	return parseEspeakVoices(out), nil
}

func (s *CommandSpeaker) engine() (string, error) {
	if s.cfg.Command != "" {
		return s.cfg.Command, nil
	}
	candidates := []string{"espeak-ng", "espeak"}
	if s.goos == "darwin" {
		candidates = []string{"say"}
	}
	for _, candidate := range candidates {
		if path, err := s.lookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", ErrNoNativeEngine
}

func (s *CommandSpeaker) voiceArgs(ctx context.Context, engine string) []string {
	s.voiceOnce.Do(func() {
		if s.cfg.Voice != "" {
			s.voice = s.cfg.Voice
			return
		}
		// Selection happens once, so it must outlive a cancelled first Speak.
		listCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), voiceListTimeout)
		defer cancel()
		voices, err := s.Voices(listCtx)
		if err != nil {
			s.log.Debug().Err(err).Msg("voice listing failed, using engine default")
			return
		}
		s.voice = PickVoice(voices, s.cfg.Language, s.cfg.Preferred).ID
		if s.voice != "" {
			s.log.Debug().Str("voice", s.voice).Msg("selected native voice")
		}
	})
	if s.voice == "" {
		return nil
	}
	return []string{"-v", s.voice}
}

// PickVoice chooses a voice for language: a preferred name among voices in
// that language, then an exact language match, then the same base language.
// It returns the zero Voice when nothing matches.
func PickVoice(voices []Voice, language string, preferred []string) Voice {
	want := normalizeLanguage(language)
	base, _, _ := strings.Cut(want, "-")

	var exact, family []Voice
	for _, voice := range voices {
		lang := normalizeLanguage(voice.Language)
		switch {
		case lang == want:
			exact = append(exact, voice)
		case base != "" && (lang == base || strings.HasPrefix(lang, base+"-")):
			family = append(family, voice)
		}
	}

	candidates := append(exact, family...)
	for _, name := range preferred {
		for _, voice := range candidates {
			if strings.EqualFold(voice.Name, name) || strings.EqualFold(voice.ID, name) {
				return voice
			}
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return Voice{}
}

func normalizeLanguage(tag string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
}

func isSay(engine string) bool {
	return engine == "say" || strings.HasSuffix(engine, "/say")
}

// sayVoiceLine matches `Samantha            en_US    # Hello, my name is Samantha.`
var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}(?:[_-][A-Za-z0-9]+)*)\s+#`)

func parseSayVoices(out []byte) []Voice {
	var voices []Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		match := sayVoiceLine.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}
		name := strings.TrimSpace(match[1])
		voices = append(voices, Voice{ID: name, Name: name, Language: match[2]})
	}
	return voices
}

// parseEspeakVoices reads `espeak --voices` tables:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US
func parseEspeakVoices(out []byte) []Voice {
	var voices []Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		voices = append(voices, Voice{ID: fields[1], Name: fields[3], Language: fields[1]})
	}
	return voices
}
