// watch follows live matches on a livescore server and prints a line per
// change. With --goal or --status it also records that change first.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/datastore/remote"
	"github.com/preston-bernstein/livescore-service/internal/domain/matches"
	"github.com/preston-bernstein/livescore-service/internal/live"
	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/timeutil"
	"github.com/preston-bernstein/livescore-service/internal/view"
)

const tokenEnv = "LIVESCORE_TOKEN"

type options struct {
	server   string
	token    string
	matchID  string
	goal     matches.Side
	status   matches.Status
	tz       string
	logLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := parseFlags(os.Args[1:], os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	logger := logging.NewLogger(logging.Config{
		Level:   opts.logLevel,
		Service: "livescore-watch",
		Output:  os.Stderr,
	})
	if err := run(ctx, opts, os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, getenv func(string) string) (options, error) {
	var (
		opts   options
		goal   string
		status string
	)
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	fs.StringVar(&opts.server, "server", "http://localhost:4000", "livescore server base URL")
	fs.StringVar(&opts.token, "token", "", "access token (default $"+tokenEnv+")")
	fs.StringVar(&opts.matchID, "match", "", "match id to follow; every match when empty")
	fs.StringVar(&goal, "goal", "", "add a goal for home or away before watching")
	fs.StringVar(&status, "status", "", "set the match status before watching")
	fs.StringVar(&opts.tz, "tz", "UTC", "timezone for kickoff times")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.token == "" && getenv != nil {
		opts.token = strings.TrimSpace(getenv(tokenEnv))
	}
	if (goal != "" || status != "") && opts.matchID == "" {
		return options{}, errors.New("--goal and --status need --match")
	}
	if goal != "" {
		side, err := matches.ParseSide(goal)
		if err != nil {
			return options{}, err
		}
		opts.goal = side
	}
	if status != "" {
		s, err := matches.ParseStatus(status)
		if err != nil {
			return options{}, err
		}
		opts.status = s
	}
	return opts, nil
}

// run follows the requested scope until ctx ends.
func run(ctx context.Context, opts options, out io.Writer, logger *slog.Logger) error {
	session := auth.NewStaticSession(nil)
	if opts.token != "" {
		identity, err := auth.IdentityFromUnverifiedToken(opts.token)
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		session = auth.NewStaticSession(identity)
	}

	store := remote.NewClient(remote.Config{
		BaseURL: opts.server,
		Token:   opts.token,
		Logger:  logger,
	})
	client := live.New(store, session, live.Options{
		Logger:   logger,
		Location: timeutil.ResolveTimezone(opts.tz),
	})
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	p := &printer{out: out}
	if opts.matchID == "" {
		stopWatch := client.WatchList(func(v view.ListView) { p.print(formatList(v)) })
		defer stopWatch()
		if err := client.EnterCollection(ctx); err != nil {
			return err
		}
		p.print(formatList(client.ListView()))
	} else {
		stopWatch := client.WatchMatch(opts.matchID, func(v view.MatchView) { p.print(formatMatch(v)) })
		defer stopWatch()
		if err := client.EnterMatch(ctx, opts.matchID); err != nil {
			return err
		}
		p.print(formatMatch(client.MatchView(opts.matchID)))
		if err := applyChanges(ctx, client, opts); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}

func applyChanges(ctx context.Context, client *live.Client, opts options) error {
	if opts.goal != "" {
		if err := client.IncrementScore(ctx, opts.matchID, opts.goal); err != nil {
			return fmt.Errorf("add goal: %w", err)
		}
	}
	if opts.status != "" {
		if err := client.SetStatus(ctx, opts.matchID, opts.status); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
	}
	return nil
}

// printer writes each distinct rendering once.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func (p *printer) print(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text == p.last {
		return
	}
	p.last = text
	fmt.Fprintln(p.out, text)
}

func formatMatch(v view.MatchView) string {
	switch v.Phase {
	case view.PhaseLoading:
		return v.ID + " loading"
	case view.PhaseNotFound:
		return v.ID + " not found"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s %s %s", v.ID, v.StatusLabel, v.HomeTeam, v.Score, v.AwayTeam)
	if v.StartTime != "" {
		fmt.Fprintf(&b, " (%s)", v.StartTime)
	}
	switch {
	case v.HomeScored:
		b.WriteString(" goal:home")
	case v.AwayScored:
		b.WriteString(" goal:away")
	}
	if v.CanEdit {
		b.WriteString(" editable")
	}
	if v.Updating {
		b.WriteString(" updating")
	}
	if v.LastError != "" {
		fmt.Fprintf(&b, " error=%q", v.LastError)
	}
	return b.String()
}

func formatList(v view.ListView) string {
	if v.Phase != view.PhaseReady {
		return "matches " + string(v.Phase)
	}
	lines := make([]string, 0, len(v.Matches)+1)
	header := fmt.Sprintf("matches (%d)", len(v.Matches))
	if v.LastError != "" {
		header += fmt.Sprintf(" error=%q", v.LastError)
	}
	lines = append(lines, header)
	for _, m := range v.Matches {
		lines = append(lines, "  "+formatMatch(m))
	}
	return strings.Join(lines, "\n")
}
