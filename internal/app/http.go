package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/sadaksathi/internal/assistant"
	"github.com/MrWong99/sadaksathi/internal/voice"
)

// errVoiceDisabled is reported by the voice endpoints when no voice loop runs.
var errVoiceDisabled = errors.New("voice control is not configured")

// registerAPI mounts the driver client endpoints on mux.
func (a *App) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("PUT /location", a.handleLocation)
	mux.HandleFunc("GET /voice", a.handleVoiceState)
	mux.HandleFunc("POST /voice/enable", a.handleVoiceEnable(true))
	mux.HandleFunc("POST /voice/disable", a.handleVoiceEnable(false))
	mux.HandleFunc("PUT /voice/wake-word", a.handleWakeWord)
	mux.HandleFunc("POST /voice/utterance", a.handleUtteranceAPI)
	mux.HandleFunc("POST /voice/language/accept", a.handleLanguageAccept)
	mux.HandleFunc("POST /voice/language/dismiss", a.handleLanguageDismiss)
}

type locationRequest struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Weather string  `json:"weather,omitempty"`
}

func (a *App) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Lat < -90 || req.Lat > 90 || req.Lon < -180 || req.Lon > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	a.mu.Lock()
	a.state.location = &assistant.Location{Lat: req.Lat, Lon: req.Lon}
	a.state.weather = req.Weather
	a.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type voiceView struct {
	Available       bool        `json:"available"`
	State           voice.State `json:"state"`
	Enabled         bool        `json:"enabled"`
	WakeWord        string      `json:"wakeWord"`
	Language        string      `json:"language"`
	HardError       bool        `json:"hardError"`
	PendingLanguage string      `json:"pendingLanguage,omitempty"`
	Notice          string      `json:"notice,omitempty"`
	PavementLayer   bool        `json:"pavementLayer"`
	LastSearch      string      `json:"lastSearch,omitempty"`
	LastReportID    string      `json:"lastReportId,omitempty"`
}

func (a *App) handleVoiceState(w http.ResponseWriter, r *http.Request) {
	v := voiceView{Language: a.Language(), State: voice.StateIdle}
	if a.voice != nil {
		st := a.voice.Settings()
		v.Available = true
		v.State = a.voice.State()
		v.Enabled = st.IsEnabled
		v.WakeWord = st.WakeWord
		v.HardError = a.voice.HardError()
	} else {
		st := a.settings.Load(r.Context())
		v.Enabled = st.IsEnabled
		v.WakeWord = st.WakeWord
	}
	v.PendingLanguage, _ = a.router.Prompt().Pending()

	a.mu.Lock()
	v.Notice = a.state.lastNotice
	v.PavementLayer = a.state.pavement
	v.LastSearch = a.state.lastSearch
	if a.state.lastReport != nil {
		v.LastReportID = a.state.lastReport.ID
	}
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, v)
}

func (a *App) handleVoiceEnable(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.voice == nil {
			writeError(w, http.StatusServiceUnavailable, errVoiceDisabled.Error())
			return
		}
		if err := a.voice.SetEnabled(r.Context(), enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type wakeWordRequest struct {
	WakeWord string `json:"wakeWord"`
}

func (a *App) handleWakeWord(w http.ResponseWriter, r *http.Request) {
	if a.voice == nil {
		writeError(w, http.StatusServiceUnavailable, errVoiceDisabled.Error())
		return
	}
	var req wakeWordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.voice.SetWakeWord(r.Context(), req.WakeWord); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type utteranceRequest struct {
	Text string `json:"text"`
}

type outcomeView struct {
	Intent       string `json:"intent"`
	Language     string `json:"language,omitempty"`
	IncidentType string `json:"incidentType,omitempty"`
	Query        string `json:"query,omitempty"`
}

// handleUtteranceAPI routes typed text exactly like a spoken command.
func (a *App) handleUtteranceAPI(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	if !decode(w, r, &req) {
		return
	}
	out := a.Route(r.Context(), req.Text)
	writeJSON(w, http.StatusOK, outcomeView{
		Intent:       string(out.Intent),
		Language:     out.Language,
		IncidentType: out.IncidentType,
		Query:        out.Query,
	})
}

func (a *App) handleLanguageAccept(w http.ResponseWriter, r *http.Request) {
	lang, ok := a.router.Prompt().Accept()
	if !ok {
		writeError(w, http.StatusConflict, "no language switch pending")
		return
	}
	if err := a.SetLanguage(r.Context(), lang); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"language": lang})
}

func (a *App) handleLanguageDismiss(w http.ResponseWriter, _ *http.Request) {
	a.router.Prompt().Dismiss()
	w.WriteHeader(http.StatusNoContent)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// maxBody bounds API request bodies.
const maxBody = 64 << 10

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
