package presentation

import (
	"sync"
	"time"
)

const (
	defaultEffectDuration = 3 * time.Second
	defaultBackground     = "#FFE66D"
	defaultFilter         = "none"
)

// Effects is the decorative state layered over the picture.
type Effects struct {
	Stars       bool   `json:"stars"`
	Sparkles    bool   `json:"sparkles"`
	ImageFilter string `json:"imageFilter"`
	FilterCSS   string `json:"filterCss"`
	Background  string `json:"background"`
}

// DefaultEffects is the state before any directive has run.
func DefaultEffects() Effects {
	return Effects{ImageFilter: defaultFilter, FilterCSS: filterCSS(defaultFilter), Background: defaultBackground}
}

func filterCSS(filter string) string {
	switch filter {
	case "sepia":
		return "sepia(80%)"
	case "grayscale":
		return "grayscale(100%)"
	case "brightness":
		return "brightness(1.3)"
	case "blur":
		return "blur(2px)"
	default:
		return "none"
	}
}

// EffectBoard applies reply directives. Stars and sparkles switch themselves
// off after their duration; onChange runs (on a timer goroutine) whenever
// that happens so the caller can re-render.
type EffectBoard struct {
	mu       sync.Mutex
	effects  Effects
	timers   map[string]*time.Timer
	onChange func(Effects)
}

func NewEffectBoard(onChange func(Effects)) *EffectBoard {
	return &EffectBoard{
		effects:  DefaultEffects(),
		timers:   make(map[string]*time.Timer),
		onChange: onChange,
	}
}

// Current returns the effects in force right now.
func (b *EffectBoard) Current() Effects {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effects
}

// Apply runs every directive found in reply and reports whether anything
// changed. Unknown directives are ignored.
func (b *EffectBoard) Apply(reply string) bool {
	directives := ParseDirectives(reply)
	if len(directives) == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	before := b.effects
	for _, d := range directives {
		switch d.Name {
		case "showStars":
			b.effects.Stars = true
			b.expire("stars", d.seconds("duration", defaultEffectDuration), func(e *Effects) { e.Stars = false })
		case "showSparkles":
			b.effects.Sparkles = true
			b.expire("sparkles", d.seconds("duration", defaultEffectDuration), func(e *Effects) { e.Sparkles = false })
		case "changeImageFilter":
			f := d.arg("filter", defaultFilter)
			b.effects.ImageFilter = f
			b.effects.FilterCSS = filterCSS(f)
		case "changeBackground":
			b.effects.Background = d.arg("color", defaultBackground)
		}
	}
	return b.effects != before
}

// expire must be called with b.mu held.
func (b *EffectBoard) expire(name string, after time.Duration, off func(*Effects)) {
	if t, ok := b.timers[name]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(after, func() {
		b.mu.Lock()
		if b.timers[name] != t {
			b.mu.Unlock()
			return
		}
		delete(b.timers, name)
		off(&b.effects)
		effects := b.effects
		b.mu.Unlock()

		if b.onChange != nil {
			b.onChange(effects)
		}
	})
	b.timers[name] = t
}

// Reset stops pending timers and restores the defaults.
func (b *EffectBoard) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, t := range b.timers {
		t.Stop()
		delete(b.timers, name)
	}
	b.effects = DefaultEffects()
}
