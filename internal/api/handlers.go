package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lexiqai/voice-notes/internal/config"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ok(w, s.opts.Controller.Status())
}

type startResult struct {
	Started bool `json:"started"`
}

type transcriptResult struct {
	Transcript string `json:"transcript"`
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	started, err := s.opts.Controller.StartRecording(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, startResult{Started: started})
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	text, err := s.opts.Controller.StopRecording(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, transcriptResult{Transcript: text})
}

func (s *Server) handleCancelRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Controller.CancelRecording(r.Context()); err != nil {
		fail(w, err)
		return
	}
	ok(w, nil)
}

func (s *Server) handleToggleRecording(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Controller.ToggleMainRecording(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	started, err := s.opts.Controller.StartChatRecording(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, startResult{Started: started})
}

func (s *Server) handleStopChat(w http.ResponseWriter, r *http.Request) {
	text, err := s.opts.Controller.StopChatRecording(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, transcriptResult{Transcript: text})
}

func (s *Server) handleCancelChat(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Controller.CancelChatRecording(r.Context()); err != nil {
		fail(w, err)
		return
	}
	ok(w, nil)
}

type enrichRequest struct {
	Text   string `json:"text"`
	Preset string `json:"preset,omitempty"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.opts.Controller.Enrich(r.Context(), req.Text, req.Preset)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

type askRequest struct {
	Transcript string `json:"transcript"`
	Question   string `json:"question"`
}

type askResult struct {
	Answer string `json:"answer"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decode(w, r, &req) {
		return
	}
	answer, err := s.opts.Controller.AskQuestion(r.Context(), req.Transcript, req.Question)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, askResult{Answer: answer})
}

func (s *Server) handleCancelAsk(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]bool{"cancelled": s.opts.Controller.CancelQuestion()})
}

type speakRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if !decode(w, r, &req) {
		return
	}
	path, err := s.opts.Controller.Speak(r.Context(), req.Text, req.Language)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, map[string]string{"path": path})
}

func (s *Server) handleTestTranscription(w http.ResponseWriter, r *http.Request) {
	text, err := s.opts.Controller.TestTranscription(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, transcriptResult{Transcript: text})
}

func (s *Server) handleTestEnrichment(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Controller.TestEnrichment(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, res)
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	names, err := s.opts.Catalog.Presets().List()
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, map[string]any{"presets": names, "active": s.opts.Settings.Snapshot().ActivePreset})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.opts.Catalog.ListModels(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, map[string]any{"models": models})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.opts.Voices == nil {
		ok(w, map[string]any{"voices": []any{}})
		return
	}
	ok(w, map[string]any{"voices": s.opts.Voices.Voices()})
}

type voiceRequest struct {
	VoiceID string `json:"voice_id"`
}

func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if !decode(w, r, &req) {
		return
	}
	if s.opts.Voices == nil {
		badRequest(w, "No voice catalog configured")
		return
	}
	if err := s.opts.Voices.SetVoice(chi.URLParam(r, "language"), req.VoiceID); err != nil {
		fail(w, err)
		return
	}
	ok(w, nil)
}

// settingsView is the non-secret part of the runtime settings.
type settingsView struct {
	STTProvider    string          `json:"stt_provider"`
	LLMProvider    string          `json:"llm_provider"`
	TTSProvider    string          `json:"tts_provider"`
	Model          string          `json:"model"`
	ActivePreset   string          `json:"active_preset"`
	OutputLanguage string          `json:"output_language"`
	AutoEnrich     bool            `json:"auto_enrich"`
	Credentials    map[string]bool `json:"credentials"`
}

func (s *Server) currentSettings() settingsView {
	snap := s.opts.Settings.Snapshot()
	creds := map[string]bool{}
	for _, svc := range config.CredentialServices() {
		creds[svc] = snap.HasCredential(svc)
	}
	return settingsView{
		STTProvider:    snap.STTProvider,
		LLMProvider:    snap.LLMProvider,
		TTSProvider:    snap.TTSProvider,
		Model:          snap.Model,
		ActivePreset:   snap.ActivePreset,
		OutputLanguage: snap.OutputLanguage,
		AutoEnrich:     snap.AutoEnrich,
		Credentials:    creds,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ok(w, s.currentSettings())
}

// settingsPatch carries optional updates; nil fields are left unchanged.
type settingsPatch struct {
	STTProvider    *string `json:"stt_provider"`
	LLMProvider    *string `json:"llm_provider"`
	TTSProvider    *string `json:"tts_provider"`
	Model          *string `json:"model"`
	ActivePreset   *string `json:"active_preset"`
	OutputLanguage *string `json:"output_language"`
	AutoEnrich     *bool   `json:"auto_enrich"`
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var p settingsPatch
	if !decode(w, r, &p) {
		return
	}
	st := s.opts.Settings

	if p.ActivePreset != nil && !s.opts.Catalog.Presets().Exists(strings.TrimSpace(*p.ActivePreset)) {
		fail(w, s.presetMissing(*p.ActivePreset))
		return
	}
	steps := []struct {
		set   *string
		apply func(string) error
	}{
		{p.STTProvider, st.SetSTTProvider},
		{p.LLMProvider, st.SetLLMProvider},
		{p.TTSProvider, st.SetTTSProvider},
		{p.Model, st.SetModel},
		{p.ActivePreset, st.SetActivePreset},
		{p.OutputLanguage, st.SetOutputLanguage},
	}
	for _, step := range steps {
		if step.set == nil {
			continue
		}
		if err := step.apply(*step.set); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	if p.AutoEnrich != nil {
		st.SetAutoEnrich(*p.AutoEnrich)
	}
	s.logger.Info().Interface("settings", s.currentSettings()).Msg("Settings updated")
	ok(w, s.currentSettings())
}

func (s *Server) presetMissing(name string) error {
	_, err := s.opts.Catalog.Presets().Load(strings.TrimSpace(name))
	return err
}

type credentialRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.opts.Settings.SetCredential(chi.URLParam(r, "service"), req.Key); err != nil {
		badRequest(w, err.Error())
		return
	}
	ok(w, s.currentSettings())
}

type urlRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleSetBaseURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.opts.Settings.SetBaseURL(chi.URLParam(r, "service"), req.URL); err != nil {
		badRequest(w, err.Error())
		return
	}
	ok(w, nil)
}
