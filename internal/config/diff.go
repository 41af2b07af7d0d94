package config

import "slices"

// ConfigDiff describes what changed between two configs. Only settings
// that can be applied without a restart are tracked; everything else needs
// one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AssessmentChanged reports a change to the assessment tunables. New
	// sessions pick them up; running ones keep theirs.
	AssessmentChanged bool
	AssessmentFields  []string

	// RestartRequired lists changed sections that only take effect after a
	// restart (providers, store, listen address).
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	o, n := old.Assessment, new.Assessment
	check := func(field string, changed bool) {
		if changed {
			d.AssessmentFields = append(d.AssessmentFields, field)
		}
	}
	check("default_difficulty", o.DefaultDifficulty != n.DefaultDifficulty)
	check("conversation_duration", o.ConversationDuration != n.ConversationDuration)
	check("reading_duration", o.ReadingDuration != n.ReadingDuration)
	check("exercise_quota", o.ExerciseQuota != n.ExerciseQuota)
	check("min_response_words", o.MinResponseWords != n.MinResponseWords)
	check("max_followups", o.MaxFollowups != n.MaxFollowups)
	check("synthesize_speech", o.SpeechEnabled() != n.SpeechEnabled())
	check("voice", o.Voice != n.Voice)
	check("generate_content", o.GenerateContent != n.GenerateContent)
	d.AssessmentChanged = len(d.AssessmentFields) > 0

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("assessment.audio", o.AudioEncoding != n.AudioEncoding || o.SampleRate != n.SampleRate ||
		o.Channels != n.Channels || o.SilenceDuration != n.SilenceDuration)
	restart("providers", !providersEqual(old.Providers, new.Providers))
	restart("store", old.Store != new.Store)

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.TTS, b.TTS) && entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.Scoring, b.Scoring) && entryEqual(a.VAD, b.VAD)
}

// entryEqual compares the identity of two entries. Options are not
// compared.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model || a.Timeout != b.Timeout {
		return false
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}
