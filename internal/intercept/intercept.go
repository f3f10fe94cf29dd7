package intercept

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/rpcc"
	"github.com/rs/zerolog"

	"github.com/umredir/umredir/internal/engine"
	"github.com/umredir/umredir/internal/logging"
	"github.com/umredir/umredir/internal/observability"
)

const (
	Surface = "browser"

	// MediaPattern limits paused requests to URLs that rules can match.
	MediaPattern = "*/media/*"

	actionTimeout = 3 * time.Second
)

var ErrNoTarget = errors.New("no page target")

type Matcher interface {
	Match(url string) (engine.Match, bool)
	NotifyMatched(info engine.MatchInfo)
}

type Options struct {
	DevtoolsURL string
	// TargetID selects a page; empty picks the first page target.
	TargetID    string
	Logger      zerolog.Logger
	DecisionLog *logging.DecisionLogger
	Metrics     *observability.Metrics
}

// Interceptor enforces the installed rules inside a Chrome page through the
// DevTools Fetch domain.
type Interceptor struct {
	opts    Options
	matcher Matcher
	log     zerolog.Logger

	mu     sync.Mutex
	conn   *rpcc.Conn
	client *cdp.Client
}

func New(matcher Matcher, opts Options) (*Interceptor, error) {
	if matcher == nil {
		return nil, errors.New("rule matcher is required")
	}
	if opts.DevtoolsURL == "" {
		return nil, errors.New("devtools url is required")
	}
	return &Interceptor{
		opts:    opts,
		matcher: matcher,
		log:     opts.Logger.With().Str("component", "intercept").Logger(),
	}, nil
}

// Run attaches to a page and handles paused requests until ctx is done or
// the DevTools connection drops.
func (i *Interceptor) Run(ctx context.Context) error {
	if err := i.attach(ctx); err != nil {
		return err
	}
	defer i.detach()

	client := i.client
	if err := client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: Patterns()}); err != nil {
		return fmt.Errorf("enable fetch: %w", err)
	}

	paused, err := client.Fetch.RequestPaused(ctx)
	if err != nil {
		return fmt.Errorf("subscribe request paused: %w", err)
	}
	defer paused.Close()

	i.log.Info().Str("pattern", MediaPattern).Msg("intercepting requests")
	for {
		ev, err := paused.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive paused request: %w", err)
		}
		go i.handle(ctx, client, ev)
	}
}

func (i *Interceptor) attach(ctx context.Context) error {
	dt := devtool.New(i.opts.DevtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return fmt.Errorf("list devtools targets: %w", err)
	}
	sel := pickTarget(targets, i.opts.TargetID)
	if sel == nil {
		return ErrNoTarget
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("dial devtools: %w", err)
	}

	i.mu.Lock()
	i.conn = conn
	i.client = cdp.NewClient(conn)
	i.mu.Unlock()

	i.log.Info().Str("target", string(sel.ID)).Str("url", sel.URL).Msg("attached to page")
	return nil
}

func (i *Interceptor) detach() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.conn != nil {
		_ = i.conn.Close()
		i.conn = nil
		i.client = nil
	}
}

func (i *Interceptor) handle(ctx context.Context, client *cdp.Client, ev *fetch.RequestPausedReply) {
	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	decision := logging.Decision{
		Timestamp: start.UTC(),
		RequestID: uuid.NewString(),
		Surface:   Surface,
		Method:    ev.Request.Method,
		URL:       ev.Request.URL,
	}

	match, ok := i.matcher.Match(ev.Request.URL)
	if !ok {
		decision.Action = logging.ActionPass
		if err := client.Fetch.ContinueRequest(actx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID}); err != nil {
			i.log.Warn().Err(err).Str("url", ev.Request.URL).Msg("continue request")
		}
		i.record(decision, start)
		return
	}

	decision.Action = logging.ActionRedirect
	decision.RuleID = match.Rule.ID
	decision.Location = match.RedirectURL
	decision.StatusCode = http.StatusTemporaryRedirect

	if err := client.Fetch.FulfillRequest(actx, redirectArgs(ev.RequestID, match)); err != nil {
		i.log.Warn().Err(err).Str("url", ev.Request.URL).Msg("fulfill redirect")
		decision.StatusCode = 0
		i.record(decision, start)
		return
	}
	i.matcher.NotifyMatched(engine.MatchInfo{
		RuleID:      match.Rule.ID,
		URL:         ev.Request.URL,
		RedirectURL: match.RedirectURL,
		Surface:     Surface,
	})
	i.record(decision, start)
}

func (i *Interceptor) record(decision logging.Decision, start time.Time) {
	decision.DurationMS = time.Since(start).Milliseconds()
	if err := i.opts.DecisionLog.Write(decision); err != nil {
		i.log.Warn().Err(err).Msg("write decision")
	}
	i.opts.Metrics.ObserveDecision(decision)
}

// Patterns returns the Fetch patterns that pause media requests before they
// are sent.
func Patterns() []fetch.RequestPattern {
	p := MediaPattern
	return []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
	}
}

func redirectArgs(id fetch.RequestID, match engine.Match) *fetch.FulfillRequestArgs {
	return &fetch.FulfillRequestArgs{
		RequestID:    id,
		ResponseCode: http.StatusTemporaryRedirect,
		ResponseHeaders: []fetch.HeaderEntry{
			{Name: "Location", Value: match.RedirectURL},
			{Name: "X-Umredir-Rule", Value: strconv.Itoa(match.Rule.ID)},
		},
	}
}

func pickTarget(targets []*devtool.Target, id string) *devtool.Target {
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if id == "" || string(t.ID) == id {
			return t
		}
	}
	return nil
}
