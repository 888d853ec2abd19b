// Package voicecmd classifies final voice utterances and dispatches them.
//
// Checks run in a fixed order and the first match wins:
//
//  1. language mismatch → "switch language?" prompt, nothing else runs
//  2. pavement layer toggle (keyword anywhere)
//  3. incident report (keyword prefix, optional incident type)
//  4. navigation (keyword prefix with a non-empty destination)
//  5. road status / traffic (keyword anywhere)
//  6. everything else goes to the conversational assistant
//
// Keywords are English defaults plus their translations in the active
// language, so the same router serves every UI language.
package voicecmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/sadaksathi/internal/observe"
)

// Intent names the branch an utterance was routed to.
type Intent string

const (
	IntentNone           Intent = ""
	IntentLanguageSwitch Intent = "language-switch"
	IntentPavement       Intent = "pavement"
	IntentReport         Intent = "report"
	IntentNavigate       Intent = "navigate"
	IntentStatus         Intent = "status"
	IntentAssistant      Intent = "assistant"
)

// Translator looks up localized text. Missing keys come back unchanged.
type Translator interface {
	T(key string, params map[string]string) string
}

// TranslatorFunc returns the translator for a language.
type TranslatorFunc func(lang string) Translator

// Speaker reads text aloud in lang.
type Speaker interface {
	Speak(ctx context.Context, text, lang string) error
}

// Actions are the callbacks the router dispatches to. Nil callbacks are
// skipped.
type Actions struct {
	TogglePavementLayer   func(ctx context.Context)
	OpenReport            func(ctx context.Context, incidentType string)
	Search                func(ctx context.Context, query string)
	OpenAlerts            func(ctx context.Context)
	AskAssistant          func(ctx context.Context, query string)
	RequestLanguageSwitch func(ctx context.Context, lang string)
}

// Outcome describes how an utterance was handled.
type Outcome struct {
	Intent Intent

	// Language is the detected language for IntentLanguageSwitch.
	Language string

	// IncidentType is the canonical incident type for IntentReport, empty
	// for a generic report.
	IncidentType string

	// Query is the destination for IntentNavigate or the full utterance for
	// IntentAssistant.
	Query string
}

// incidentType pairs a canonical type with its translation key.
type incidentType struct {
	name string
	key  string
}

var incidentTypes = []incidentType{
	{"Blocked", "incident_blocked"},
	{"One-Lane", "incident_one-lane"},
	{"Traffic Jam", "incident_traffic_jam"},
	{"Road Hazard", "incident_road_hazard"},
	{"Vehicle Breakdown", "incident_vehicle_breakdown"},
	{"Other", "incident_other"},
}

// keywords is the per-language keyword set.
type keywords struct {
	report   []string
	navigate []string
	status   []string
	pavement []string
}

func buildKeywords(tr Translator) keywords {
	return keywords{
		report:   keywordList(tr, []string{"report", "incident"}, "voice_cmd_report", "voice_cmd_incident"),
		navigate: keywordList(tr, []string{"navigate to", "directions to", "go to"}, "voice_cmd_navigate_to", "voice_cmd_directions_to"),
		status:   keywordList(tr, []string{"status", "traffic", "road"}, "voice_cmd_traffic", "voice_cmd_status"),
		pavement: keywordList(tr, []string{"pavement", "road quality"}, "togglePavementLayer"),
	}
}

// keywordList lower-cases defaults plus translated keys, dropping blanks,
// untranslated keys and duplicates.
func keywordList(tr Translator, defaults []string, keys ...string) []string {
	out := make([]string, 0, len(defaults)+len(keys))
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, d := range defaults {
		add(d)
	}
	for _, k := range keys {
		if v := tr.T(k, nil); v != k {
			add(v)
		}
	}
	return out
}

// Option is a functional option for configuring a [Router].
type Option func(*Router)

// WithPrompt sets the language switch prompt. Default: an 8s auto-dismissing
// prompt.
func WithPrompt(p *LanguagePrompt) Option {
	return func(r *Router) { r.prompt = p }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// Router dispatches utterances. It is safe for concurrent use.
type Router struct {
	translate TranslatorFunc
	speaker   Speaker
	actions   Actions
	prompt    *LanguagePrompt
	metrics   *observe.Metrics
}

// New returns a router. speaker may be nil to disable spoken confirmations.
func New(translate TranslatorFunc, speaker Speaker, actions Actions, opts ...Option) *Router {
	r := &Router{translate: translate, speaker: speaker, actions: actions}
	for _, o := range opts {
		o(r)
	}
	if r.prompt == nil {
		r.prompt = NewLanguagePrompt(DefaultPromptTimeout, nil)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Prompt returns the language switch prompt.
func (r *Router) Prompt() *LanguagePrompt { return r.prompt }

// Route classifies utterance, spoken while the UI language was lang, and runs
// the matching action.
func (r *Router) Route(ctx context.Context, utterance, lang string) Outcome {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return Outcome{}
	}

	out := r.classify(text, lang)
	r.metrics.RecordVoiceCommand(ctx, string(out.Intent))
	slog.Info("voicecmd: routed utterance", "intent", out.Intent, "text", text, "lang", lang)

	tr := r.translate(lang)
	switch out.Intent {
	case IntentLanguageSwitch:
		r.prompt.Show(out.Language)
		if r.actions.RequestLanguageSwitch != nil {
			r.actions.RequestLanguageSwitch(ctx, out.Language)
		}
	case IntentPavement:
		if r.actions.TogglePavementLayer != nil {
			r.actions.TogglePavementLayer(ctx)
		}
		r.speak(ctx, tr.T("togglePavementLayer", nil), lang)
	case IntentReport:
		if out.IncidentType != "" {
			r.speak(ctx, tr.T("voice_command_reporting_specific_incident", map[string]string{
				"incident": tr.T(incidentKey(out.IncidentType), nil),
			}), lang)
		} else {
			r.speak(ctx, tr.T("voice_command_reporting_incident", nil), lang)
		}
		if r.actions.OpenReport != nil {
			r.actions.OpenReport(ctx, out.IncidentType)
		}
	case IntentNavigate:
		r.speak(ctx, tr.T("voice_command_searching_for", map[string]string{"destination": out.Query}), lang)
		if r.actions.Search != nil {
			r.actions.Search(ctx, out.Query)
		}
	case IntentStatus:
		r.speak(ctx, tr.T("voice_command_checking_status", nil), lang)
		if r.actions.OpenAlerts != nil {
			r.actions.OpenAlerts(ctx)
		}
	case IntentAssistant:
		if r.actions.AskAssistant != nil {
			r.actions.AskAssistant(ctx, out.Query)
		}
	}
	return out
}

// Classify reports how utterance would be routed without running any action.
func (r *Router) Classify(utterance, lang string) Outcome {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return Outcome{}
	}
	return r.classify(text, lang)
}

func (r *Router) classify(text, lang string) Outcome {
	if detected, ok := DetectLanguage(text); ok && detected != baseLang(lang) && detected != "en" {
		return Outcome{Intent: IntentLanguageSwitch, Language: detected}
	}

	tr := r.translate(lang)
	kw := buildKeywords(tr)
	lower := strings.ToLower(text)

	if containsAny(lower, kw.pavement) {
		return Outcome{Intent: IntentPavement}
	}

	for _, k := range kw.report {
		if strings.HasPrefix(lower, k) {
			return Outcome{Intent: IntentReport, IncidentType: findIncidentType(lower, tr)}
		}
	}

	for _, k := range kw.navigate {
		if strings.HasPrefix(lower, k) {
			if dest := strings.TrimSpace(lower[len(k):]); dest != "" {
				return Outcome{Intent: IntentNavigate, Query: dest}
			}
		}
	}

	if containsAny(lower, kw.status) {
		return Outcome{Intent: IntentStatus}
	}

	return Outcome{Intent: IntentAssistant, Query: text}
}

func (r *Router) speak(ctx context.Context, text, lang string) {
	if r.speaker == nil || text == "" {
		return
	}
	if err := r.speaker.Speak(ctx, text, lang); err != nil {
		slog.Warn("voicecmd: spoken confirmation failed", "error", err)
	}
}

// findIncidentType returns the first incident type whose localized or English
// name occurs in lower.
func findIncidentType(lower string, tr Translator) string {
	for _, it := range incidentTypes {
		names := []string{strings.ToLower(it.name)}
		if v := tr.T(it.key, nil); v != it.key {
			names = append(names, strings.ToLower(v))
		}
		if containsAny(lower, names) {
			return it.name
		}
	}
	return ""
}

func incidentKey(name string) string {
	for _, it := range incidentTypes {
		if it.name == name {
			return it.key
		}
	}
	return "incident_other"
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// baseLang strips a region suffix ("ne-NP" → "ne").
func baseLang(lang string) string {
	base, _, _ := strings.Cut(lang, "-")
	return base
}
