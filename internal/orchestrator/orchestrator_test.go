package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaderbot/leaderbot/internal/audit"
	"github.com/leaderbot/leaderbot/internal/conversation"
	"github.com/leaderbot/leaderbot/internal/generation"
	"github.com/leaderbot/leaderbot/internal/i18n"
	"github.com/leaderbot/leaderbot/internal/quota"
	"github.com/leaderbot/leaderbot/internal/styles"
)

const (
	testUser  = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testPhoto = "https://cdn.example/photo.jpg"
)

type fakeGenerator struct {
	mu   sync.Mutex
	reqs []generation.Request
	fn   func(ctx context.Context, req generation.Request) (generation.Result, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, req generation.Request) (generation.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	url := "https://bot.example/generated/1-x.jpg"
	return generation.Result{ImageURL: url, Proof: generation.Proof{OK: true, OutputURL: url}}, nil
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func failWith(kind generation.Kind) func(context.Context, generation.Request) (generation.Result, error) {
	return func(context.Context, generation.Request) (generation.Result, error) {
		err := &generation.Error{Kind: kind, Op: "test", Err: errors.New("forced")}
		return generation.Result{Proof: generation.Proof{ErrorKind: kind}}, err
	}
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureRecorder) Record(_ context.Context, e audit.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

type fixture struct {
	orch     *Orchestrator
	store    *conversation.Store
	gate     *quota.Gate
	gen      *fakeGenerator
	recorder *captureRecorder
}

func newFixture(limit int, consumeOn string) *fixture {
	f := &fixture{
		store:    conversation.NewStore(),
		gate:     quota.NewGate(limit),
		gen:      &fakeGenerator{},
		recorder: &captureRecorder{},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.orch = New(nil, f.store, f.gate, styles.Default(), f.gen, f.recorder, Options{
		ConsumeOn: consumeOn,
		Now:       func() time.Time { return now },
	})
	return f
}

func (f *fixture) handle(t *testing.T, ev Event) []Action {
	t.Helper()
	if ev.UserKey == "" {
		ev.UserKey = testUser
	}
	return f.orch.Handle(context.Background(), ev)
}

func (f *fixture) record(t *testing.T) conversation.Record {
	t.Helper()
	rec, ok := f.store.Get(testUser)
	require.True(t, ok, "record should exist")
	return rec
}

func photo() Event { return Event{Kind: EventPhoto, ImageURL: testPhoto} }

func text(s string) Event { return Event{Kind: EventText, Text: s} }

func payload(p string) Event { return Event{Kind: EventControl, Payload: p} }

func TestScenarioPhotoThenStyle(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)

	actions := f.handle(t, photo())
	require.Len(t, actions, 1)
	assert.Equal(t, ActionSendQuickReplies, actions[0].Kind)
	assert.Equal(t, i18n.T(i18n.LangNL, i18n.StylePicker), actions[0].Text)
	require.Len(t, actions[0].QuickReplies, len(styles.Default().All()))
	assert.Equal(t, "STYLE_CARICATURE", actions[0].QuickReplies[0].Payload)
	assert.Equal(t, conversation.StageAwaitingStyle, f.record(t).Stage)

	actions = f.handle(t, text("gold"))
	require.Len(t, actions, 3)
	assert.Equal(t, ActionSendText, actions[0].Kind)
	assert.Equal(t, "Ik maak nu je Gold-stijl.", actions[0].Text)
	assert.Equal(t, ActionSendImage, actions[1].Kind)
	assert.Equal(t, ActionSendQuickReplies, actions[2].Kind)
	assert.Equal(t, []QuickReply{
		{Title: "Nieuwe stijl", Payload: ControlChooseStyle},
		{Title: "Privacy", Payload: ControlPrivacyInfo},
	}, actions[2].QuickReplies)

	rec := f.record(t)
	assert.Equal(t, conversation.StageResultReady, rec.Stage)
	assert.Equal(t, actions[1].ImageURL, rec.LastGeneratedURL)
	assert.Equal(t, "gold", rec.SelectedStyle)
	require.Equal(t, 1, f.gen.Calls())
	assert.Equal(t, testPhoto, f.gen.reqs[0].SourceImageURL)
	assert.Equal(t, 1, f.gate.Get(testUser, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)).Count)
}

func TestRetryAfterFailureReusesPhoto(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)
	f.gen.fn = failWith(generation.KindProviderError)

	f.handle(t, photo())
	actions := f.handle(t, payload("STYLE_GOLD"))
	require.NotEmpty(t, actions)
	last := actions[len(actions)-1]
	assert.Equal(t, i18n.T(i18n.LangNL, i18n.GenerationGenericFailure), last.Text)
	assert.Equal(t, "gold", last.QuickReplies[0].Payload)
	assert.Equal(t, ControlChooseStyle, last.QuickReplies[1].Payload)

	rec := f.record(t)
	assert.Equal(t, conversation.StageFailure, rec.Stage)
	assert.Equal(t, testPhoto, rec.LastPhotoURL)
	assert.Equal(t, "gold", rec.SelectedStyle)
	assert.Zero(t, f.gate.Get(testUser, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)).Count)

	f.gen.mu.Lock()
	f.gen.fn = nil
	f.gen.mu.Unlock()
	actions = f.handle(t, payload("RETRY_STYLE_gold"))
	for _, a := range actions {
		assert.NotEqual(t, i18n.T(i18n.LangNL, i18n.StylePicker), a.Text, "retry must not re-prompt")
		assert.NotEqual(t, i18n.T(i18n.LangNL, i18n.StyleWithoutPhoto), a.Text, "retry must not ask for a photo")
	}
	require.Equal(t, 2, f.gen.Calls())
	assert.Equal(t, testPhoto, f.gen.reqs[1].SourceImageURL)
	assert.Equal(t, "gold", f.gen.reqs[1].Style)
	assert.Equal(t, conversation.StageResultReady, f.record(t).Stage)
}

func TestBareRetryUsesSelectedStyle(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)
	f.gen.fn = failWith(generation.KindGenerationTimeout)

	f.handle(t, photo())
	f.handle(t, text("clouds"))
	f.handle(t, payload(ControlRetryStyle))

	require.Equal(t, 2, f.gen.Calls())
	assert.Equal(t, "clouds", f.gen.reqs[1].Style)
}

func TestSingleFlight(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)
	started := make(chan struct{})
	release := make(chan struct{})
	f.gen.fn = func(context.Context, generation.Request) (generation.Result, error) {
		close(started)
		<-release
		return generation.Result{ImageURL: "https://bot.example/generated/a.jpg", Proof: generation.Proof{OK: true}}, nil
	}

	f.handle(t, photo())

	done := make(chan []Action, 1)
	go func() { done <- f.orch.Handle(context.Background(), Event{UserKey: testUser, Kind: EventControl, Payload: "disco"}) }()
	<-started

	assert.Equal(t, conversation.StageProcessing, f.orch.Stage(testUser))
	second := f.handle(t, payload("gold"))
	assert.Equal(t, []Action{{Kind: ActionSendText, Text: i18n.T(i18n.LangNL, i18n.ProcessingBlocked)}}, second)

	close(release)
	first := <-done
	require.Len(t, first, 3)
	assert.Equal(t, 1, f.gen.Calls())
	assert.Equal(t, conversation.StageResultReady, f.record(t).Stage)
	assert.Equal(t, "disco", f.record(t).SelectedStyle)
}

func TestTransitionIsComplete(t *testing.T) {
	t.Parallel()

	for _, stage := range conversation.AllStages() {
		for _, kind := range EventKinds() {
			for _, hasPhoto := range []bool{false, true} {
				next := Transition(stage, kind, hasPhoto)
				assert.Truef(t, next.Valid(), "%s x %s (photo=%v) -> %q", stage, kind, hasPhoto, next)
			}
		}
	}
	assert.Equal(t, conversation.StageAwaitingStyle, Transition(conversation.StageIdle, EventPhoto, false))
	assert.Equal(t, conversation.StageAwaitingPhoto, Transition(conversation.StageIdle, EventStyle, false))
	assert.Equal(t, conversation.StageProcessing, Transition(conversation.StageFailure, EventStyle, true))
	assert.Equal(t, conversation.StageProcessing, Transition(conversation.StageProcessing, EventStyle, true))
}

func TestEveryStageAnswersEveryEventKind(t *testing.T) {
	t.Parallel()

	events := []Event{photo(), payload("gold"), payload(ControlPrivacyInfo), payload("SOMETHING_ELSE"), text("hallo")}
	for _, stage := range conversation.AllStages() {
		for _, ev := range events {
			f := newFixture(5, ConsumeOnSuccess)
			_, err := f.store.Update(testUser, time.Now(), func(r *conversation.Record) {
				r.Stage = stage
				r.LastPhotoURL = testPhoto
			})
			require.NoError(t, err)
			actions := f.handle(t, ev)
			assert.NotEmptyf(t, actions, "stage %s event %+v produced no answer", stage, ev)
			assert.Truef(t, f.record(t).Stage.Valid(), "stage %s event %+v left invalid stage", stage, ev)
		}
	}
}

func TestErrorTranslation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind  generation.Kind
		stage conversation.Stage
		text  i18n.Key
		retry bool
	}{
		{generation.KindInvalidInput, conversation.StageFailure, i18n.GenerationGenericFailure, true},
		{generation.KindMissingInputImage, conversation.StageAwaitingPhoto, i18n.MissingInputImage, false},
		{generation.KindMissingProviderCredential, conversation.StageFailure, i18n.GenerationUnavailable, true},
		{generation.KindMissingBaseURL, conversation.StageFailure, i18n.GenerationUnavailable, true},
		{generation.KindGenerationTimeout, conversation.StageFailure, i18n.GenerationTimeout, true},
		{generation.KindProviderError, conversation.StageFailure, i18n.GenerationGenericFailure, true},
	}
	require.Len(t, cases, len(generation.Kinds()))

	for _, tc := range cases {
		f := newFixture(5, ConsumeOnSuccess)
		f.gen.fn = failWith(tc.kind)
		f.handle(t, photo())
		actions := f.handle(t, text("gold"))

		require.Lenf(t, actions, 2, "%s: generating prompt plus exactly one failure message", tc.kind)
		last := actions[1]
		assert.Equal(t, i18n.T(i18n.LangNL, tc.text), last.Text, tc.kind)
		assert.Equal(t, tc.retry, len(last.QuickReplies) > 0, tc.kind)
		rec := f.record(t)
		assert.Equal(t, tc.stage, rec.Stage, tc.kind)
		if tc.kind == generation.KindMissingInputImage {
			assert.False(t, rec.HasPhoto(), "unusable photo should be dropped")
		} else {
			assert.Equal(t, "gold", rec.SelectedStyle)
		}
	}
}

func TestUnclassifiedErrorTreatedAsProviderError(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)
	f.gen.fn = func(context.Context, generation.Request) (generation.Result, error) {
		return generation.Result{}, errors.New("boom")
	}
	f.handle(t, photo())
	actions := f.handle(t, text("gold"))
	require.Len(t, actions, 2)
	assert.Equal(t, i18n.T(i18n.LangNL, i18n.GenerationGenericFailure), actions[1].Text)
	assert.Equal(t, conversation.StageFailure, f.record(t).Stage)
}

func TestQuotaReachedKeepsStage(t *testing.T) {
	t.Parallel()
	f := newFixture(1, ConsumeOnSuccess)

	f.handle(t, photo())
	f.handle(t, text("gold"))
	require.Equal(t, conversation.StageResultReady, f.record(t).Stage)

	actions := f.handle(t, text("petals"))
	assert.Equal(t, []Action{{Kind: ActionSendText, Text: i18n.T(i18n.LangNL, i18n.QuotaReached)}}, actions)
	assert.Equal(t, conversation.StageResultReady, f.record(t).Stage)
	assert.Equal(t, 1, f.gen.Calls())
}

func TestQuotaPolicies(t *testing.T) {
	t.Parallel()
	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	onSuccess := newFixture(1, ConsumeOnSuccess)
	onSuccess.gen.fn = failWith(generation.KindProviderError)
	onSuccess.handle(t, photo())
	onSuccess.handle(t, text("gold"))
	assert.Equal(t, 0, onSuccess.gate.Get(testUser, day).Count, "failed attempt must not consume quota")

	onAttempt := newFixture(1, ConsumeOnAttempt)
	onAttempt.gen.fn = failWith(generation.KindProviderError)
	onAttempt.handle(t, photo())
	onAttempt.handle(t, text("gold"))
	assert.Equal(t, 1, onAttempt.gate.Get(testUser, day).Count, "attempt consumes quota")
	actions := onAttempt.handle(t, payload("RETRY_STYLE_gold"))
	assert.Equal(t, i18n.T(i18n.LangNL, i18n.QuotaReached), actions[0].Text)
	assert.Equal(t, conversation.StageFailure, onAttempt.record(t).Stage)
}

func TestStyleWithoutPhotoAsksForPhoto(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)

	actions := f.handle(t, payload("disco"))
	assert.Equal(t, []Action{{Kind: ActionSendText, Text: "Stuur eerst een foto, dan maak ik die stijl voor je."}}, actions)
	rec := f.record(t)
	assert.Equal(t, conversation.StageAwaitingPhoto, rec.Stage)
	assert.Equal(t, "disco", rec.SelectedStyle)
	assert.Zero(t, f.gen.Calls())
}

func TestAcknowledgements(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)

	assert.Empty(t, f.handle(t, text("(y)")))
	assert.Empty(t, f.handle(t, text("👍")))

	f.handle(t, photo())
	actions := f.handle(t, text("thanks"))
	require.Len(t, actions, 1)
	assert.Equal(t, i18n.T(i18n.LangNL, i18n.StylePicker), actions[0].Text)
}

func TestDownloadHD(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)

	actions := f.handle(t, payload(ControlDownloadHD))
	assert.Equal(t, []Action{
		{Kind: ActionSendText, Text: i18n.T(i18n.LangNL, i18n.HDUnavailable)},
		{Kind: ActionSendText, Text: i18n.T(i18n.LangNL, i18n.TextWithoutPhoto)},
	}, actions)
	assert.Equal(t, conversation.StageAwaitingPhoto, f.record(t).Stage)

	f.handle(t, photo())
	f.handle(t, text("gold"))
	actions = f.handle(t, payload(ControlDownloadHD))
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSendImage, actions[1].Kind)
	assert.Equal(t, f.record(t).LastGeneratedURL, actions[1].ImageURL)
}

func TestExplanationPerStage(t *testing.T) {
	t.Parallel()

	idle := newFixture(5, ConsumeOnSuccess)
	actions := idle.handle(t, text("Hi"))
	require.Len(t, actions, 1)
	assert.Equal(t, i18n.T(i18n.LangNL, i18n.FlowExplanation), actions[0].Text)
	assert.Equal(t, []QuickReply{
		{Title: "Wat doe ik?", Payload: ControlWhatIsThis},
		{Title: "Privacy", Payload: ControlPrivacyInfo},
	}, actions[0].QuickReplies)
	assert.Equal(t, conversation.StageIdle, idle.record(t).Stage)

	failed := newFixture(5, ConsumeOnSuccess)
	_, err := failed.store.SetStage(testUser, conversation.StageFailure, time.Now())
	require.NoError(t, err)
	actions = failed.handle(t, text("Hey"))
	require.Len(t, actions, 1)
	assert.Equal(t, []QuickReply{
		{Title: "Probeer opnieuw", Payload: ControlRetryStyle},
		{Title: "Andere stijl", Payload: ControlChooseStyle},
	}, actions[0].QuickReplies)

	about := newFixture(5, ConsumeOnSuccess)
	actions = about.handle(t, text("Wie zit hierachter?"))
	assert.Equal(t, []Action{{Kind: ActionSendText, Text: i18n.T(i18n.LangNL, i18n.About)}}, actions)
}

func TestLocaleHintIsRemembered(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)

	actions := f.handle(t, Event{Kind: EventText, Text: "Hi", Locale: "en_US"})
	require.Len(t, actions, 1)
	assert.Equal(t, i18n.T(i18n.LangEN, i18n.FlowExplanation), actions[0].Text)
	assert.Equal(t, "en", f.record(t).PreferredLang)

	actions = f.handle(t, payload(ControlPrivacyInfo))
	require.Len(t, actions, 1)
	assert.Equal(t, i18n.T(i18n.LangEN, i18n.Privacy), actions[0].Text)

	f.handle(t, Event{Kind: EventText, Text: "Hoi", Locale: "nl_BE"})
	assert.Equal(t, "nl", f.record(t).PreferredLang)
}

func TestAuditEntryPerAttempt(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)
	f.gen.fn = failWith(generation.KindGenerationTimeout)

	f.handle(t, photo())
	f.handle(t, Event{Kind: EventText, Text: "gold", ReqID: "req-42"})

	require.Len(t, f.recorder.entries, 1)
	e := f.recorder.entries[0]
	assert.Equal(t, "req-42", e.ReqID)
	assert.Equal(t, testUser[:8], e.LogUser)
	assert.Equal(t, generation.KindGenerationTimeout, e.Proof.ErrorKind)
	assert.False(t, e.Proof.OK)
}

func TestEventsWithoutUserKeyAreDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)

	assert.Nil(t, f.orch.Handle(context.Background(), Event{Kind: EventText, Text: "Hi"}))
	assert.Zero(t, f.store.Len())
}

func TestGenerationPanicEndsInFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)
	f.gen.fn = func(context.Context, generation.Request) (generation.Result, error) {
		panic("provider exploded")
	}

	f.handle(t, photo())
	actions := f.handle(t, text("gold"))

	require.Len(t, actions, 2)
	assert.Equal(t, i18n.T(i18n.LangNL, i18n.GenerationGenericFailure), actions[1].Text)
	assert.Equal(t, conversation.StageFailure, f.record(t).Stage)

	// The user is not stuck: a retry starts a new generation.
	f.gen.fn = nil
	f.handle(t, payload(ControlRetryStyle))
	assert.Equal(t, conversation.StageResultReady, f.record(t).Stage)
	assert.Equal(t, 2, f.gen.Calls())
}

func TestBeginDefersGeneration(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)
	f.handle(t, photo())

	actions, cont := f.orch.Begin(context.Background(), Event{UserKey: testUser, Kind: EventText, Text: "gold"})
	require.Len(t, actions, 1)
	require.NotNil(t, cont)
	assert.Zero(t, f.gen.Calls())
	assert.Equal(t, conversation.StageProcessing, f.record(t).Stage)

	result := cont(context.Background())
	require.Len(t, result, 2)
	assert.Equal(t, ActionSendImage, result[0].Kind)
	assert.Equal(t, conversation.StageResultReady, f.record(t).Stage)

	none, cont := f.orch.Begin(context.Background(), Event{UserKey: testUser, Kind: EventText, Text: "hallo"})
	assert.NotEmpty(t, none)
	assert.Nil(t, cont)
}

func TestVariationRerunsLastStyle(t *testing.T) {
	t.Parallel()

	for _, control := range []string{ControlVariation, ControlStronger} {
		f := newFixture(5, ConsumeOnSuccess)
		f.handle(t, photo())
		f.handle(t, text("gold"))

		actions := f.handle(t, payload(control))
		require.Lenf(t, actions, 3, "%s: generating prompt, image, quick replies", control)
		require.Equal(t, 2, f.gen.Calls())
		assert.Equal(t, "gold", f.gen.reqs[1].Style)
		assert.Equal(t, testPhoto, f.gen.reqs[1].SourceImageURL)
	}
}

func TestVariationWithoutHistoryAsksForPhoto(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)

	actions := f.handle(t, payload(ControlVariation))
	assert.Equal(t, []Action{{Kind: ActionSendText, Text: i18n.T(i18n.LangNL, i18n.SendPhotoPrompt)}}, actions)
	assert.Equal(t, conversation.StageAwaitingPhoto, f.record(t).Stage)
	assert.Zero(t, f.gen.Calls())
}

func TestTrendingShowsStylePicker(t *testing.T) {
	t.Parallel()
	f := newFixture(5, ConsumeOnSuccess)
	f.handle(t, photo())

	actions := f.handle(t, payload(ControlTrending))
	require.Len(t, actions, 1)
	assert.Equal(t, ActionSendQuickReplies, actions[0].Kind)
	assert.Equal(t, conversation.StageAwaitingStyle, f.record(t).Stage)
}
