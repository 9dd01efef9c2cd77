package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fusae/mailcheck/internal/aggregate"
	"github.com/fusae/mailcheck/internal/classify"
	"github.com/fusae/mailcheck/internal/config"
	"github.com/fusae/mailcheck/internal/extract"
	"github.com/fusae/mailcheck/internal/mail"
	"github.com/fusae/mailcheck/internal/notify"
	"github.com/fusae/mailcheck/internal/store"
)

type fakePoller struct {
	mails []*mail.RawMail
	err   error
}

func (f *fakePoller) Poll(ctx context.Context) ([]*mail.RawMail, error) {
	return f.mails, f.err
}

type fakeExtractor struct {
	articles map[string][]extract.Article // keyed by mail token
}

func (f *fakeExtractor) Extract(ctx context.Context, m *mail.RawMail) []extract.Article {
	return f.articles[m.Token]
}

type fakeClassifier struct {
	mu    sync.Mutex
	order []string
	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, a extract.Article, rules *classify.RuleSet) classify.Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.order = append(f.order, a.URL)
	return classify.Verdict{
		IsNegative: true,
		Severity:   store.SeverityHigh,
		Reason:     "test",
		Title:      a.Title,
		Confidence: 0.9,
	}
}

type fakeAggregator struct {
	mu      sync.Mutex
	results map[string]*aggregate.Result // keyed by article URL
	err     error
	calls   int
}

func (f *fakeAggregator) Aggregate(ctx context.Context, v classify.Verdict, a extract.Article) (*aggregate.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[a.URL]; ok {
		return r, nil
	}
	return &aggregate.Result{SentimentID: "s", Notify: false}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (f *fakeNotifier) Notify(ctx context.Context, a notify.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
}

type fakeCompiler struct{ calls int }

func (f *fakeCompiler) CompileRules(ctx context.Context) error {
	f.calls++
	return nil
}

type fakeRuleSource struct{}

func (fakeRuleSource) ListEnabledRules(ctx context.Context) ([]*store.Rule, error) { return nil, nil }
func (fakeRuleSource) ListSuppressKeywords(ctx context.Context) ([]string, error)  { return nil, nil }
func (fakeRuleSource) DeleteProcessedMailsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (fakeRuleSource) ExpireQueueEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Runtime.CheckInterval = 300
	cfg.Runtime.MailRetentionDays = 90
	cfg.Feedback.CompileIntervalMinutes = 30
	cfg.Feedback.LinkTTLHours = 72
	cfg.Concurrency.PMail = 2
	return cfg
}

func newPipeline(p Poller, e Extractor, c Classifier, a Aggregator, n Notifier) *Pipeline {
	return New(p, e, c, a, n, &fakeCompiler{}, fakeRuleSource{}, testConfig(), slog.Default())
}

func TestTickNotifiesFirstOfEvent(t *testing.T) {
	m := &mail.RawMail{Token: "t1", Subject: "XX市第一人民医院负面舆情"}
	art := extract.Article{
		Hospital: "XX市第一人民医院", Title: "病历外泄",
		URL: "https://vendor.example/r?id=abc", Body: "正文",
	}

	agg := &fakeAggregator{results: map[string]*aggregate.Result{
		art.URL: {SentimentID: "sent-1", EventID: 7, Notify: true, EventTotal: 1},
	}}
	notifier := &fakeNotifier{}

	p := newPipeline(
		&fakePoller{mails: []*mail.RawMail{m}},
		&fakeExtractor{articles: map[string][]extract.Article{"t1": {art}}},
		&fakeClassifier{}, agg, notifier)

	p.RunTick(context.Background())

	if len(notifier.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(notifier.alerts))
	}
	a := notifier.alerts[0]
	if a.SentimentID != "sent-1" || a.EventTotal != 1 || a.Severity != store.SeverityHigh {
		t.Errorf("alert = %+v", a)
	}
}

func TestTickDuplicateSuppressesNotification(t *testing.T) {
	m := &mail.RawMail{Token: "t1"}
	art := extract.Article{URL: "https://vendor.example/r?id=abc"}

	agg := &fakeAggregator{results: map[string]*aggregate.Result{
		art.URL: {SentimentID: "sent-2", EventID: 7, IsDuplicate: true, Notify: false, EventTotal: 2},
	}}
	notifier := &fakeNotifier{}

	p := newPipeline(
		&fakePoller{mails: []*mail.RawMail{m}},
		&fakeExtractor{articles: map[string][]extract.Article{"t1": {art}}},
		&fakeClassifier{}, agg, notifier)

	p.RunTick(context.Background())

	if len(notifier.alerts) != 0 {
		t.Errorf("alerts = %d, want 0 for duplicate", len(notifier.alerts))
	}
}

func TestTickArticlesProcessedInInputOrder(t *testing.T) {
	m := &mail.RawMail{Token: "t1"}
	arts := []extract.Article{
		{URL: "https://vendor.example/r?id=1"},
		{URL: "https://vendor.example/r?id=2"},
		{URL: "https://vendor.example/r?id=3"},
	}

	cls := &fakeClassifier{}
	p := newPipeline(
		&fakePoller{mails: []*mail.RawMail{m}},
		&fakeExtractor{articles: map[string][]extract.Article{"t1": arts}},
		cls, &fakeAggregator{}, &fakeNotifier{})

	p.RunTick(context.Background())

	want := []string{arts[0].URL, arts[1].URL, arts[2].URL}
	if len(cls.order) != 3 {
		t.Fatalf("classified %d articles, want 3", len(cls.order))
	}
	for i := range want {
		if cls.order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, cls.order[i], want[i])
		}
	}
}

func TestTickPollFailureEndsTickQuietly(t *testing.T) {
	cls := &fakeClassifier{}
	p := newPipeline(
		&fakePoller{err: errors.New("imap: connection reset")},
		&fakeExtractor{}, cls, &fakeAggregator{}, &fakeNotifier{})

	p.RunTick(context.Background())

	if cls.calls != 0 {
		t.Error("poll failure must end the tick before classification")
	}
}

func TestTickAggregationFailureIsolatedPerArticle(t *testing.T) {
	m := &mail.RawMail{Token: "t1"}
	arts := []extract.Article{
		{URL: "https://vendor.example/r?id=1"},
		{URL: "https://vendor.example/r?id=2"},
	}

	agg := &fakeAggregator{err: errors.New("db down")}
	cls := &fakeClassifier{}
	p := newPipeline(
		&fakePoller{mails: []*mail.RawMail{m}},
		&fakeExtractor{articles: map[string][]extract.Article{"t1": arts}},
		cls, agg, &fakeNotifier{})

	p.RunTick(context.Background())

	if cls.calls != 2 {
		t.Errorf("classifier calls = %d, want 2 (failures isolated per article)", cls.calls)
	}
	if agg.calls != 2 {
		t.Errorf("aggregator calls = %d, want 2", agg.calls)
	}
}

func TestTickCancelledContextSkipsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cls := &fakeClassifier{}
	p := newPipeline(
		&fakePoller{mails: []*mail.RawMail{{Token: "t1"}}},
		&fakeExtractor{}, cls, &fakeAggregator{}, &fakeNotifier{})

	p.RunTick(ctx)

	if cls.calls != 0 {
		t.Error("cancelled context must skip the tick")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := newPipeline(&fakePoller{}, &fakeExtractor{}, &fakeClassifier{},
		&fakeAggregator{}, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
