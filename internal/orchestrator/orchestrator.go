// Package orchestrator drives the per-user conversation state machine. It
// turns inbound events into ordered outbound actions and runs generations
// through the pipeline; it never talks to the messaging transport itself.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leaderbot/leaderbot/internal/audit"
	"github.com/leaderbot/leaderbot/internal/conversation"
	"github.com/leaderbot/leaderbot/internal/generation"
	"github.com/leaderbot/leaderbot/internal/i18n"
	"github.com/leaderbot/leaderbot/internal/privacy"
	"github.com/leaderbot/leaderbot/internal/quota"
	"github.com/leaderbot/leaderbot/internal/styles"
)

// Quota consumption policies.
const (
	ConsumeOnAttempt = "attempt"
	ConsumeOnSuccess = "success"
)

// Options tune an Orchestrator.
type Options struct {
	// ConsumeOn selects when a generation consumes daily quota.
	ConsumeOn        string
	PrivacyPolicyURL string
	Now              func() time.Time
}

// Orchestrator is safe for concurrent use. Events for one user are
// serialized; events for different users run in parallel.
type Orchestrator struct {
	store     *conversation.Store
	quota     *quota.Gate
	catalog   *styles.Catalog
	generator generation.Generator
	recorder  audit.Recorder
	locks     *KeyedLock
	opts      Options
	logger    *slog.Logger
}

func New(log *slog.Logger, store *conversation.Store, gate *quota.Gate, catalog *styles.Catalog, generator generation.Generator, recorder audit.Recorder, opts Options) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ConsumeOn != ConsumeOnAttempt {
		opts.ConsumeOn = ConsumeOnSuccess
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Orchestrator{
		store:     store,
		quota:     gate,
		catalog:   catalog,
		generator: generator,
		recorder:  recorder,
		locks:     NewKeyedLock(),
		opts:      opts,
		logger:    log.With(slog.String("service", "orchestrator")),
	}
}

// resolved is an event after payload and text classification.
type resolved struct {
	Event
	style   styles.Style
	control string
}

// job is a generation the locked phase decided to start.
type job struct {
	reqID string
	style styles.Style
	photo string
	lang  i18n.Lang
}

// Continuation runs the generation an event started and returns the actions
// reporting its outcome.
type Continuation func(ctx context.Context) []Action

// Handle processes one event and returns the actions to send, in order,
// running any generation inline.
// Errors never escape: every failure is translated into a user message.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) []Action {
	actions, cont := o.Begin(ctx, ev)
	if cont != nil {
		actions = append(actions, cont(ctx)...)
	}
	return actions
}

// Begin applies an event under the user's lock and returns the immediate
// actions. When the event starts a generation, the returned Continuation
// runs it; the conversation stays PROCESSING until it is called.
func (o *Orchestrator) Begin(ctx context.Context, ev Event) ([]Action, Continuation) {
	if strings.TrimSpace(ev.UserKey) == "" {
		o.logger.Warn("event without user key dropped", slog.String("kind", string(ev.Kind)))
		return nil, nil
	}
	if ev.ReqID == "" {
		ev.ReqID = uuid.NewString()
	}
	r := o.classify(ev)
	log := o.logger.With(
		slog.String("req_id", ev.ReqID),
		slog.String("user", privacy.ToLogUser(ev.UserKey)),
	)

	unlock, err := o.locks.Lock(ctx, ev.UserKey)
	if err != nil {
		log.Warn("event abandoned while waiting for user lock", slog.Any("error", err))
		return nil, nil
	}
	actions, next := o.decide(log, r)
	unlock()

	if next == nil {
		return actions, nil
	}
	j, userKey := *next, ev.UserKey
	return actions, func(ctx context.Context) []Action {
		return o.generate(ctx, log, userKey, j)
	}
}

func (o *Orchestrator) classify(ev Event) resolved {
	r := resolved{Event: ev}
	switch ev.Kind {
	case EventPhoto:
		if strings.TrimSpace(ev.ImageURL) == "" {
			r.Kind = EventText
		}
	case EventControl, EventStyle:
		payload := strings.TrimSpace(ev.Payload)
		if payload == "" {
			payload = strings.TrimSpace(ev.Text)
		}
		if IsControl(payload) {
			r.Kind = EventControl
			r.control = payload
			return r
		}
		if s, err := o.catalog.Resolve(payload); err == nil {
			r.Kind = EventStyle
			r.style = s
			return r
		}
		r.Kind = EventControl
		r.control = payload
	case EventText:
		if s, err := o.catalog.Resolve(ev.Text); err == nil {
			r.Kind = EventStyle
			r.style = s
		}
	default:
		r.Kind = EventText
	}
	return r
}

// decide runs with the user's lock held. It mutates state and returns the
// immediate actions plus, optionally, a generation to run after unlocking.
func (o *Orchestrator) decide(log *slog.Logger, ev resolved) ([]Action, *job) {
	now := o.opts.Now()
	rec, err := o.store.GetOrCreate(ev.UserKey, now)
	if err != nil {
		log.Error("load conversation", slog.Any("error", err))
		return nil, nil
	}
	if ev.Locale != "" {
		lang := string(i18n.NormalizeLang(ev.Locale))
		if lang != rec.PreferredLang {
			rec, _ = o.store.SetPreferredLang(ev.UserKey, lang, now)
		}
	}
	lang := langOf(rec)

	if rec.Stage == conversation.StageProcessing {
		if ev.Kind == EventControl && informational(ev.control) {
			return o.informational(lang, ev.control), nil
		}
		if ev.Kind == EventText {
			if kind, ok := DetectAck(ev.Text); ok {
				log.Info("ack ignored", slog.String("ack", string(kind)))
				return nil, nil
			}
		}
		log.Info("event while processing", slog.String("kind", string(ev.Kind)))
		return []Action{sendText(i18n.T(lang, i18n.ProcessingBlocked))}, nil
	}

	switch ev.Kind {
	case EventPhoto:
		if _, err := o.store.SetPhoto(ev.UserKey, ev.ImageURL, now); err != nil {
			log.Error("store photo", slog.Any("error", err))
			return nil, nil
		}
		return []Action{o.stylePicker(lang)}, nil
	case EventStyle:
		return o.selectStyle(log, rec, lang, ev.style, ev.ReqID, now)
	case EventControl:
		return o.control(log, rec, lang, ev, now)
	default:
		return o.text(log, rec, lang, ev.Text), nil
	}
}

func (o *Orchestrator) selectStyle(log *slog.Logger, rec conversation.Record, lang i18n.Lang, style styles.Style, reqID string, now time.Time) ([]Action, *job) {
	if !rec.HasPhoto() {
		_, err := o.store.Update(rec.UserKey, now, func(r *conversation.Record) {
			r.SelectedStyle = style.Name
			r.Stage = Transition(rec.Stage, EventStyle, false)
		})
		if err != nil {
			log.Error("store style", slog.Any("error", err))
		}
		return []Action{sendText(i18n.T(lang, i18n.StyleWithoutPhoto))}, nil
	}

	if !o.quota.CanGenerate(rec.UserKey, now) {
		if _, err := o.store.SetSelectedStyle(rec.UserKey, style.Name, now); err != nil {
			log.Error("store style", slog.Any("error", err))
		}
		log.Info("quota reached", slog.Int("limit", o.quota.Limit()))
		return []Action{sendText(i18n.T(lang, i18n.QuotaReached))}, nil
	}
	if o.opts.ConsumeOn == ConsumeOnAttempt {
		o.quota.Increment(rec.UserKey, now)
	}

	prev := rec.Stage
	_, err := o.store.Update(rec.UserKey, now, func(r *conversation.Record) {
		r.SelectedStyle = style.Name
		r.Stage = Transition(prev, EventStyle, true)
	})
	if err != nil {
		log.Error("enter processing", slog.Any("error", err))
		return nil, nil
	}
	actions := []Action{sendText(i18n.T(lang, i18n.GeneratingPrompt, i18n.Params{StyleLabel: style.DisplayName}))}
	return actions, &job{reqID: reqID, style: style, photo: rec.LastPhotoURL, lang: lang}
}

func (o *Orchestrator) control(log *slog.Logger, rec conversation.Record, lang i18n.Lang, ev resolved, now time.Time) ([]Action, *job) {
	switch {
	case informational(ev.control):
		return o.informational(lang, ev.control), nil
	case ev.control == ControlChooseStyle || ev.control == ControlNewStyle || ev.control == ControlTrending:
		return o.chooseStyle(log, rec, lang, now), nil
	case ev.control == ControlVariation || ev.control == ControlStronger:
		style, err := o.catalog.Resolve(rec.SelectedStyle)
		if err != nil || !rec.HasPhoto() {
			o.setStage(log, rec.UserKey, conversation.StageAwaitingPhoto, now)
			return []Action{sendText(i18n.T(lang, i18n.SendPhotoPrompt))}, nil
		}
		return o.selectStyle(log, rec, lang, style, ev.ReqID, now)
	case ev.control == ControlSendPhoto:
		o.setStage(log, rec.UserKey, conversation.StageAwaitingPhoto, now)
		return []Action{sendText(i18n.T(lang, i18n.SendPhotoPrompt))}, nil
	case ev.control == ControlDownloadHD:
		if rec.LastGeneratedURL != "" {
			return []Action{sendText(i18n.T(lang, i18n.HDReady)), sendImage(rec.LastGeneratedURL)}, nil
		}
		o.setStage(log, rec.UserKey, conversation.StageAwaitingPhoto, now)
		return []Action{
			sendText(i18n.T(lang, i18n.HDUnavailable)),
			sendText(i18n.T(lang, i18n.TextWithoutPhoto)),
		}, nil
	case IsControl(ev.control) && strings.HasPrefix(ev.control, ControlRetryStyle):
		ref := strings.TrimPrefix(strings.TrimPrefix(ev.control, ControlRetryStyle), "_")
		if ref == "" {
			ref = rec.SelectedStyle
		}
		style, err := o.catalog.Resolve(ref)
		if err != nil {
			return o.chooseStyle(log, rec, lang, now), nil
		}
		return o.selectStyle(log, rec, lang, style, ev.ReqID, now)
	default:
		log.Info("unknown payload", slog.String("payload", ev.control))
		return o.explain(rec, lang), nil
	}
}

func (o *Orchestrator) informational(lang i18n.Lang, control string) []Action {
	switch control {
	case ControlPrivacyInfo:
		return []Action{sendText(i18n.T(lang, i18n.Privacy, i18n.Params{Link: o.opts.PrivacyPolicyURL}))}
	case ControlAbout:
		return []Action{sendText(i18n.T(lang, i18n.About))}
	default:
		return []Action{sendText(i18n.T(lang, i18n.FlowExplanation))}
	}
}

func (o *Orchestrator) chooseStyle(log *slog.Logger, rec conversation.Record, lang i18n.Lang, now time.Time) []Action {
	if !rec.HasPhoto() {
		o.setStage(log, rec.UserKey, conversation.StageAwaitingPhoto, now)
		return []Action{sendText(i18n.T(lang, i18n.SendPhotoPrompt))}
	}
	o.setStage(log, rec.UserKey, conversation.StageAwaitingStyle, now)
	return []Action{o.stylePicker(lang)}
}

var aboutQuestions = []string{"wie zit hierachter", "wie zit erachter", "who is behind", "who made this", "who built this"}

func (o *Orchestrator) text(log *slog.Logger, rec conversation.Record, lang i18n.Lang, text string) []Action {
	if kind, ok := DetectAck(text); ok {
		if rec.Stage == conversation.StageAwaitingStyle {
			return []Action{o.stylePicker(lang)}
		}
		log.Info("ack ignored", slog.String("ack", string(kind)))
		return nil
	}
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(text), "?!."))
	for _, q := range aboutQuestions {
		if strings.Contains(normalized, q) {
			return []Action{sendText(i18n.T(lang, i18n.About))}
		}
	}
	return o.explain(rec, lang)
}

// explain answers unrecognized input with the message for the current stage.
func (o *Orchestrator) explain(rec conversation.Record, lang i18n.Lang) []Action {
	switch rec.Stage {
	case conversation.StageIdle:
		return []Action{sendQuickReplies(i18n.T(lang, i18n.FlowExplanation),
			QuickReply{Title: i18n.T(lang, i18n.WhatIsThis), Payload: ControlWhatIsThis},
			QuickReply{Title: i18n.T(lang, i18n.PrivacyButton), Payload: ControlPrivacyInfo},
		)}
	case conversation.StageAwaitingPhoto:
		return []Action{sendText(i18n.T(lang, i18n.TextWithoutPhoto))}
	case conversation.StageAwaitingStyle:
		return []Action{o.stylePicker(lang)}
	case conversation.StageProcessing:
		return []Action{sendText(i18n.T(lang, i18n.ProcessingBlocked))}
	case conversation.StageResultReady:
		return []Action{o.successReplies(lang)}
	case conversation.StageFailure:
		return []Action{sendQuickReplies(i18n.T(lang, i18n.Failure),
			QuickReply{Title: i18n.T(lang, i18n.TryAgain), Payload: ControlRetryStyle},
			QuickReply{Title: i18n.T(lang, i18n.OtherStyle), Payload: ControlChooseStyle},
		)}
	default:
		return []Action{sendText(i18n.T(lang, i18n.FlowExplanation))}
	}
}

func (o *Orchestrator) stylePicker(lang i18n.Lang) Action {
	all := o.catalog.All()
	replies := make([]QuickReply, 0, len(all))
	for _, s := range all {
		replies = append(replies, QuickReply{Title: s.Label, Payload: s.ID})
	}
	return sendQuickReplies(i18n.T(lang, i18n.StylePicker), replies...)
}

func (o *Orchestrator) successReplies(lang i18n.Lang) Action {
	return sendQuickReplies(i18n.T(lang, i18n.Success),
		QuickReply{Title: i18n.T(lang, i18n.NewStyle), Payload: ControlChooseStyle},
		QuickReply{Title: i18n.T(lang, i18n.PrivacyButton), Payload: ControlPrivacyInfo},
	)
}

func (o *Orchestrator) retryReplies(lang i18n.Lang, text string, style styles.Style) Action {
	return sendQuickReplies(text,
		QuickReply{Title: i18n.T(lang, i18n.RetryThisStyle), Payload: style.Name},
		QuickReply{Title: i18n.T(lang, i18n.OtherStyle), Payload: ControlChooseStyle},
	)
}

func (o *Orchestrator) setStage(log *slog.Logger, userKey string, stage conversation.Stage, now time.Time) {
	if _, err := o.store.SetStage(userKey, stage, now); err != nil {
		log.Error("set stage", slog.String("stage", stage.String()), slog.Any("error", err))
	}
}

// generate runs without the user lock; the PROCESSING stage committed before
// keeps concurrent style selections from starting a second run.
func (o *Orchestrator) generate(ctx context.Context, log *slog.Logger, userKey string, j job) (actions []Action) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("generation panic", slog.String("style", j.style.Name), slog.Any("panic", r))
			actions = o.abandon(log, userKey, j)
		}
	}()

	res, genErr := o.generator.Generate(ctx, generation.Request{
		Style:          j.style.Name,
		SourceImageURL: j.photo,
		UserKey:        userKey,
		ReqID:          j.reqID,
	})
	if genErr != nil && res.Proof.ErrorKind == "" {
		kind, _ := generation.KindOf(genErr)
		res.Proof.ErrorKind = kind
	}
	if err := o.recorder.Record(ctx, audit.Entry{
		At:      o.opts.Now(),
		ReqID:   j.reqID,
		LogUser: privacy.ToLogUser(userKey),
		Style:   j.style.Name,
		Proof:   res.Proof,
	}); err != nil {
		log.Warn("record audit entry", slog.Any("error", err))
	}

	// The outcome is applied under the lock even if ctx was cancelled.
	unlock, err := o.locks.Lock(context.WithoutCancel(ctx), userKey)
	if err != nil {
		log.Error("reacquire user lock", slog.Any("error", err))
		return nil
	}
	defer unlock()
	now := o.opts.Now()

	if genErr == nil {
		if o.opts.ConsumeOn == ConsumeOnSuccess {
			o.quota.Increment(userKey, now)
		}
		_, err := o.store.Update(userKey, now, func(r *conversation.Record) {
			r.Stage = conversation.StageResultReady
			r.LastGeneratedURL = res.ImageURL
		})
		if err != nil {
			log.Error("store result", slog.Any("error", err))
		}
		return []Action{sendImage(res.ImageURL), o.successReplies(j.lang)}
	}

	stage, actions := o.translateError(log, j, genErr)
	_, err = o.store.Update(userKey, now, func(r *conversation.Record) {
		r.Stage = stage
		if stage == conversation.StageAwaitingPhoto {
			r.LastPhotoURL = ""
		}
	})
	if err != nil {
		log.Error("store failure", slog.Any("error", err))
	}
	return actions
}

// abandon moves a conversation out of PROCESSING after a generation died
// without an outcome.
func (o *Orchestrator) abandon(log *slog.Logger, userKey string, j job) []Action {
	unlock, err := o.locks.Lock(context.Background(), userKey)
	if err != nil {
		log.Error("reacquire user lock", slog.Any("error", err))
		return nil
	}
	defer unlock()
	o.setStage(log, userKey, conversation.StageFailure, o.opts.Now())
	return []Action{o.retryReplies(j.lang, i18n.T(j.lang, i18n.GenerationGenericFailure), j.style)}
}

// translateError maps a pipeline failure to exactly one user message and the
// next stage.
func (o *Orchestrator) translateError(log *slog.Logger, j job, err error) (conversation.Stage, []Action) {
	kind, ok := generation.KindOf(err)
	if !ok {
		kind = generation.KindProviderError
	}
	attrs := []any{slog.String("kind", string(kind)), slog.String("style", j.style.Name), slog.Any("error", err)}

	switch kind {
	case generation.KindInvalidInput:
		log.Warn("generation rejected input", attrs...)
		return conversation.StageFailure, []Action{o.retryReplies(j.lang, i18n.T(j.lang, i18n.GenerationGenericFailure), j.style)}
	case generation.KindMissingInputImage:
		log.Warn("source photo unusable", attrs...)
		return conversation.StageAwaitingPhoto, []Action{sendText(i18n.T(j.lang, i18n.MissingInputImage))}
	case generation.KindMissingProviderCredential, generation.KindMissingBaseURL:
		log.Error("generation misconfigured", attrs...)
		return conversation.StageFailure, []Action{o.retryReplies(j.lang, i18n.T(j.lang, i18n.GenerationUnavailable), j.style)}
	case generation.KindGenerationTimeout:
		log.Warn("generation timed out", attrs...)
		return conversation.StageFailure, []Action{o.retryReplies(j.lang, i18n.T(j.lang, i18n.GenerationTimeout), j.style)}
	case generation.KindProviderError:
		log.Warn("provider failed", attrs...)
		return conversation.StageFailure, []Action{o.retryReplies(j.lang, i18n.T(j.lang, i18n.GenerationGenericFailure), j.style)}
	default:
		log.Error("unclassified generation error", attrs...)
		return conversation.StageFailure, []Action{o.retryReplies(j.lang, i18n.T(j.lang, i18n.GenerationGenericFailure), j.style)}
	}
}

// Stage returns the current stage of userKey, IDLE if unknown.
func (o *Orchestrator) Stage(userKey string) conversation.Stage {
	rec, ok := o.store.Get(userKey)
	if !ok {
		return conversation.StageIdle
	}
	return rec.Stage
}

func langOf(rec conversation.Record) i18n.Lang {
	if rec.PreferredLang == "" {
		return i18n.DefaultLang
	}
	return i18n.Lang(rec.PreferredLang)
}
