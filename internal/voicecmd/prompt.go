package voicecmd

import (
	"sync"
	"time"
)

// DefaultPromptTimeout is how long a language switch prompt stays up when the
// user ignores it.
const DefaultPromptTimeout = 8 * time.Second

// AfterFunc schedules f after d and returns a function cancelling it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// LanguagePrompt holds the pending "switch language?" suggestion. Showing a
// new suggestion replaces the old one; an ignored suggestion disappears after
// the timeout.
type LanguagePrompt struct {
	timeout   time.Duration
	afterFunc AfterFunc

	mu     sync.Mutex
	lang   string
	stop   func() bool
	seq    int
	onHide func(lang string)
}

// NewLanguagePrompt returns a prompt that auto-dismisses after timeout
// (<= 0 selects [DefaultPromptTimeout]). afterFunc may be nil.
func NewLanguagePrompt(timeout time.Duration, afterFunc AfterFunc) *LanguagePrompt {
	if timeout <= 0 {
		timeout = DefaultPromptTimeout
	}
	if afterFunc == nil {
		afterFunc = timeAfterFunc
	}
	return &LanguagePrompt{timeout: timeout, afterFunc: afterFunc}
}

// OnHide registers fn to run whenever a prompt goes away without being
// accepted (dismissed or timed out).
func (p *LanguagePrompt) OnHide(fn func(lang string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onHide = fn
}

// Show suggests switching to lang.
func (p *LanguagePrompt) Show(lang string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		p.stop()
	}
	p.seq++
	seq := p.seq
	p.lang = lang
	p.stop = p.afterFunc(p.timeout, func() { p.expire(seq) })
}

// Pending returns the suggested language, if any.
func (p *LanguagePrompt) Pending() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lang, p.lang != ""
}

// Accept clears the prompt and returns the suggested language.
func (p *LanguagePrompt) Accept() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lang := p.lang
	p.clear()
	return lang, lang != ""
}

// Dismiss clears the prompt.
func (p *LanguagePrompt) Dismiss() {
	p.mu.Lock()
	lang := p.lang
	p.clear()
	hook := p.onHide
	p.mu.Unlock()
	if lang != "" && hook != nil {
		hook(lang)
	}
}

func (p *LanguagePrompt) expire(seq int) {
	p.mu.Lock()
	if seq != p.seq || p.lang == "" {
		p.mu.Unlock()
		return
	}
	lang := p.lang
	p.lang = ""
	p.stop = nil
	hook := p.onHide
	p.mu.Unlock()
	if hook != nil {
		hook(lang)
	}
}

// clear must be called with mu held.
func (p *LanguagePrompt) clear() {
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	p.lang = ""
	p.seq++
}
