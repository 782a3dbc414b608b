package observability

import "github.com/rs/zerolog"

// Recorder is the typed surface every subsystem logs through. It plays the
// role of the teacher's metadata.Recorder, but is backed by a real
// structured-logging library instead of an empty struct: one real logging
// library underneath (zerolog), one typed recording surface on top.
type Recorder interface {
	Fetch(FetchEvent)
	Analysis(AnalysisEvent)
	Limiter(LimiterEvent)
	Invariant(component, detail string)
}

// ZerologRecorder writes every event as a structured zerolog line and
// increments the matching prometheus series. It holds no package-global
// state — every subsystem is handed its own instance at construction,
// following the teacher's one-Recorder-per-Scheduler convention.
type ZerologRecorder struct {
	log     zerolog.Logger
	metrics *Metrics
}

func NewZerologRecorder(log zerolog.Logger, metrics *Metrics) *ZerologRecorder {
	return &ZerologRecorder{log: log, metrics: metrics}
}

func (r *ZerologRecorder) Fetch(e FetchEvent) {
	ev := r.log.Info()
	if e.Err != nil {
		ev = r.log.Warn()
	}
	ev.Str("source", e.SourceID).
		Str("url", e.URL).
		Str("domain", e.Domain).
		Str("method", e.Method).
		Int("status", e.Status).
		Dur("duration", e.Duration).
		Int("bytes", e.Bytes).
		Bool("conditional", e.WasConditional).
		Bool("not_modified", e.WasNotModified).
		Str("cause", string(e.Cause)).
		AnErr("error", e.Err).
		Msg("fetch")

	if r.metrics == nil {
		return
	}
	r.metrics.requestsTotal.WithLabelValues(e.SourceID, string(e.Cause)).Inc()
	r.metrics.requestDuration.WithLabelValues(e.SourceID).Observe(e.Duration.Seconds())
	if e.WasNotModified {
		r.metrics.notModifiedTotal.WithLabelValues(e.SourceID).Inc()
	}
}

func (r *ZerologRecorder) Analysis(e AnalysisEvent) {
	ev := r.log.Info()
	if !e.Succeeded {
		ev = r.log.Warn()
	}
	ev.Str("document_id", e.DocumentID).
		Int64("version_id", e.VersionID).
		Str("method", e.Method).
		Str("backend", e.Backend).
		Bool("succeeded", e.Succeeded).
		Str("cause", string(e.Cause)).
		Dur("duration", e.Duration).
		Msg("analysis")

	if r.metrics == nil {
		return
	}
	status := "success"
	if !e.Succeeded {
		status = "failure"
	}
	r.metrics.analysisTotal.WithLabelValues(e.Method, status).Inc()
	r.metrics.analysisDuration.WithLabelValues(e.Method).Observe(e.Duration.Seconds())
}

func (r *ZerologRecorder) Limiter(e LimiterEvent) {
	r.log.Info().
		Str("domain", e.Domain).
		Dur("current_delay", e.CurrentDelay).
		Bool("in_backoff", e.InBackoff).
		Str("reason", e.Reason).
		Msg("rate_limiter")

	if r.metrics == nil {
		return
	}
	r.metrics.domainDelay.WithLabelValues(e.Domain).Set(e.CurrentDelay.Seconds())
	backoff := 0.0
	if e.InBackoff {
		backoff = 1.0
	}
	r.metrics.domainInBackoff.WithLabelValues(e.Domain).Set(backoff)
}

func (r *ZerologRecorder) Invariant(component, detail string) {
	r.log.Error().Str("component", component).Str("detail", detail).Msg("invariant_violation")
	if r.metrics != nil {
		r.metrics.invariantViolations.WithLabelValues(component).Inc()
	}
}
