package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/sadaksathi/internal/assistant"
	"github.com/MrWong99/sadaksathi/internal/i18n"
	"github.com/MrWong99/sadaksathi/internal/incident"
	"github.com/MrWong99/sadaksathi/internal/observe"
	"github.com/MrWong99/sadaksathi/internal/voicecmd"
)

// voiceReportDescription is attached to reports filed by voice.
const voiceReportDescription = "Reported by voice command"

// handleUtterance routes a final utterance from the voice loop.
func (a *App) handleUtterance(ctx context.Context, utterance string) {
	a.Route(ctx, utterance)
}

// Route classifies utterance in the active language and runs its action.
func (a *App) Route(ctx context.Context, utterance string) voicecmd.Outcome {
	return a.router.Route(ctx, utterance, a.Language())
}

// notify records a user-visible voice message.
func (a *App) notify(key string) {
	msg := a.Translate(key, nil)
	a.mu.Lock()
	a.state.lastNotice = msg
	a.mu.Unlock()
	slog.Warn("app: voice notice", "key", key, "message", msg)
}

func (a *App) speak(ctx context.Context, text, lang string) {
	if a.speaker == nil || text == "" {
		return
	}
	if err := a.speaker.Speak(ctx, text, lang); err != nil {
		observe.Logger(ctx).Warn("app: speak failed", "err", err)
	}
}

func (a *App) togglePavement(ctx context.Context) {
	a.mu.Lock()
	a.state.pavement = !a.state.pavement
	on := a.state.pavement
	a.mu.Unlock()
	observe.Logger(ctx).Info("app: pavement layer toggled", "visible", on)
}

// reportIncident files a report at the current location. A generic report is
// filed as "Other".
func (a *App) reportIncident(ctx context.Context, incidentType string) {
	lang := a.Language()
	log := observe.Logger(ctx)

	a.mu.Lock()
	loc := a.state.location
	a.mu.Unlock()
	if loc == nil {
		log.Warn("app: incident report needs a location fix")
		a.speak(ctx, a.catalog.T(lang, incident.KeySubmitError, nil), lang)
		return
	}
	if incidentType == "" {
		incidentType = "Other"
	}

	res, err := a.incidents.Submit(ctx, incident.Report{
		Latitude:     loc.Lat,
		Longitude:    loc.Lon,
		IncidentType: incidentType,
		Description:  voiceReportDescription,
	})
	if err != nil {
		log.Warn("app: incident report failed", "type", incidentType, "err", err)
		a.speak(ctx, a.catalog.T(lang, incident.KeySubmitError, nil), lang)
		return
	}
	a.mu.Lock()
	a.state.lastReport = &res
	a.mu.Unlock()
	log.Info("app: incident reported", "id", res.ID, "type", incidentType, "simulated", res.Simulated)
	a.speak(ctx, a.catalog.T(lang, incident.KeySubmitted, nil), lang)
}

func (a *App) search(ctx context.Context, query string) {
	a.mu.Lock()
	a.state.lastSearch = query
	a.mu.Unlock()
	observe.Logger(ctx).Info("app: destination search", "query", query)
}

func (a *App) openAlerts(ctx context.Context) {
	observe.Logger(ctx).Info("app: road status requested")
}

// askAssistant answers query aloud. A question asked while another one is in
// flight is dropped.
func (a *App) askAssistant(ctx context.Context, query string) {
	lang := a.Language()
	if a.assistant == nil {
		a.speak(ctx, a.catalog.T(lang, assistant.KeyErrorResponse, nil), lang)
		return
	}
	reply, err := a.assistant.Ask(ctx, query, lang, nil)
	switch {
	case errors.Is(err, assistant.ErrBusy):
		observe.Logger(ctx).Info("app: assistant busy, question dropped", "query", query)
		return
	case err != nil:
		observe.Logger(ctx).Warn("app: assistant failed", "err", err)
		a.speak(ctx, a.catalog.T(lang, assistant.KeyErrorResponse, nil), lang)
		return
	}
	a.speak(ctx, reply, lang)
}

// offerLanguage reads the switch prompt aloud in the current language.
func (a *App) offerLanguage(ctx context.Context, lang string) {
	cur := a.Language()
	a.speak(ctx, a.catalog.T(cur, "switchToLanguagePrompt", map[string]string{
		"languageName": i18n.LanguageName(lang),
	}), cur)
	observe.Logger(ctx).Info("app: language switch offered", "from", cur, "to", lang)
}
