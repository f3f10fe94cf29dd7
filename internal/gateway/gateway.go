package gateway

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/umredir/umredir/internal/engine"
	"github.com/umredir/umredir/internal/logging"
	"github.com/umredir/umredir/internal/observability"
)

const Surface = "gateway"

// Matcher resolves a request URL against the installed rules.
type Matcher interface {
	Match(url string) (engine.Match, bool)
	NotifyMatched(info engine.MatchInfo)
}

// Gateway answers every request with a redirect to the rewritten URL, or
// 404 when no rule applies.
type Gateway struct {
	matcher     Matcher
	decisionLog *logging.DecisionLogger
	metrics     *observability.Metrics
	log         zerolog.Logger
}

func New(matcher Matcher) (*Gateway, error) {
	if matcher == nil {
		return nil, errors.New("rule matcher is required")
	}
	return &Gateway{matcher: matcher, log: zerolog.Nop()}, nil
}

func (g *Gateway) SetDecisionLogger(logger *logging.DecisionLogger) {
	g.decisionLog = logger
}

func (g *Gateway) SetMetrics(metrics *observability.Metrics) {
	g.metrics = metrics
}

func (g *Gateway) SetLogger(logger zerolog.Logger) {
	g.log = logger.With().Str("component", Surface).Logger()
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	target := requestURL(r)
	decision := logging.Decision{
		Timestamp: start.UTC(),
		RequestID: uuid.NewString(),
		Surface:   Surface,
		ClientIP:  clientIP(r),
		Method:    r.Method,
		Host:      r.Host,
		URL:       target,
	}

	match, ok := g.matcher.Match(target)
	if !ok {
		decision.Action = logging.ActionPass
		decision.StatusCode = http.StatusNotFound
		g.writeDecision(decision, start)
		http.NotFound(w, r)
		return
	}

	decision.Action = logging.ActionRedirect
	decision.RuleID = match.Rule.ID
	decision.Location = match.RedirectURL
	decision.StatusCode = http.StatusTemporaryRedirect

	w.Header().Set("Location", match.RedirectURL)
	w.Header().Set("X-Umredir-Rule", strconv.Itoa(match.Rule.ID))
	w.WriteHeader(http.StatusTemporaryRedirect)

	g.matcher.NotifyMatched(engine.MatchInfo{
		RuleID:      match.Rule.ID,
		URL:         target,
		RedirectURL: match.RedirectURL,
		Surface:     Surface,
	})
	g.writeDecision(decision, start)
}

func (g *Gateway) writeDecision(decision logging.Decision, start time.Time) {
	decision.DurationMS = time.Since(start).Milliseconds()
	if err := g.decisionLog.Write(decision); err != nil {
		g.log.Warn().Err(err).Str("request_id", decision.RequestID).Msg("write decision")
	}
	g.metrics.ObserveDecision(decision)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
