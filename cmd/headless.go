package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/sleepiecappy/riverflow/internal/ansi"
	"github.com/sleepiecappy/riverflow/internal/buffer"
	"github.com/sleepiecappy/riverflow/internal/interact"
	"github.com/sleepiecappy/riverflow/internal/session"
	"github.com/sleepiecappy/riverflow/internal/supervisor"
	"github.com/sleepiecappy/riverflow/internal/view"
	"github.com/sleepiecappy/riverflow/internal/wait"
)

var headlessCmd = &cobra.Command{
	Use:   "headless [flags] -- <command> [args...]",
	Short: "Run a command and stream its output without the interactive view",
	Long: `Run a command and print its captured lines as they arrive.

Use --filter to print only lines containing a string.
Use --until to stop the command once a line matches a regex.
Use --settle to stop it once its output has been quiet for N ms.
Use --stdin to forward your own stdin lines to the command.
The exit code mirrors the command's own when it exits by itself.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHeadlessCmd,
}

var (
	headlessFilterFlag    string
	headlessUntilFlag     string
	headlessSettleFlag    int
	headlessTimeoutFlag   int
	headlessStdinFlag     bool
	headlessStripAnsiFlag bool
	headlessJsonFlag      bool
)

func init() {
	headlessCmd.Flags().StringVar(&headlessFilterFlag, "filter", "", "Print only lines containing this string")
	headlessCmd.Flags().StringVar(&headlessUntilFlag, "until", "", "Stop the command once a line matches this regex")
	headlessCmd.Flags().IntVar(&headlessSettleFlag, "settle", 0, "Stop the command after N ms without new output")
	headlessCmd.Flags().IntVar(&headlessTimeoutFlag, "timeout", 0, "Stop the command after N seconds (0 waits forever)")
	headlessCmd.Flags().BoolVar(&headlessStdinFlag, "stdin", false, "Forward stdin lines to the command")
	headlessCmd.Flags().BoolVar(&headlessStripAnsiFlag, "strip-ansi", false, "Strip ANSI escape codes")
	headlessCmd.Flags().BoolVar(&headlessJsonFlag, "json", false, "Print one JSON object per line")
}

type headlessOptions struct {
	Filter    string
	Until     string
	Settle    time.Duration
	Timeout   time.Duration
	Stdin     io.Reader
	StripANSI bool
	JSON      bool
	Out       io.Writer
}

func runHeadlessCmd(cmd *cobra.Command, args []string) error {
	opts := headlessOptions{
		Filter:    headlessFilterFlag,
		Until:     headlessUntilFlag,
		Settle:    time.Duration(headlessSettleFlag) * time.Millisecond,
		Timeout:   time.Duration(headlessTimeoutFlag) * time.Second,
		StripANSI: headlessStripAnsiFlag,
		JSON:      headlessJsonFlag,
		Out:       cmd.OutOrStdout(),
	}
	if headlessStdinFlag {
		opts.Stdin = cmd.InOrStdin()
	}
	return runSession(cmd.Context(), args, opts)
}

// printer writes buffer lines that pass the session's filter. It follows
// clears by restarting at sequence zero.
type printer struct {
	w     io.Writer
	enc   *json.Encoder
	strip bool
	next  uint64
	epoch uint64
}

func newPrinter(w io.Writer, asJSON, strip bool) *printer {
	p := &printer{w: w, strip: strip}
	if asJSON {
		p.enc = json.NewEncoder(w)
	}
	return p
}

func (p *printer) flush(buf *buffer.Buffer, pattern view.Pattern) error {
	if e := buf.Epoch(); e != p.epoch {
		p.epoch = e
		p.next = 0
	}
	for _, line := range buf.Since(p.next) {
		p.next = line.Seq + 1
		if pattern.Mode == view.ModeFilter && !view.Contains(line.Text, pattern.Text) {
			continue
		}
		if p.strip {
			line.Text = ansi.Strip(line.Text)
		}
		if err := p.print(line); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) print(line buffer.Line) error {
	if p.enc != nil {
		return p.enc.Encode(line)
	}
	prefix := ""
	switch line.Stream {
	case buffer.StreamStderr:
		prefix = "[stderr] "
	case buffer.StreamInput:
		prefix = "> "
	}
	_, err := fmt.Fprintln(p.w, prefix+line.Text)
	return err
}

func typeLine(sess *session.Session, text string) []interact.Effect {
	for _, r := range text {
		sess.Apply(interact.Char(r))
	}
	return sess.Apply(interact.Do(interact.Submit))
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// runSession drives a session without a UI until the command exits, the
// --until pattern matches or output settles, the timeout passes or ctx ends.
func runSession(ctx context.Context, argv []string, opts headlessOptions) error {
	if opts.Until != "" && opts.Settle > 0 {
		return fmt.Errorf("--until and --settle are mutually exclusive")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	log := pslog.Ctx(ctx)
	sess, sup, shutdown := newSession(ctx, appConfigOrDefault(), argv)
	defer shutdown()

	if opts.Filter != "" {
		sess.Apply(interact.Do(interact.EnterFilter))
		typeLine(sess, opts.Filter)
	}

	// Subscribe before starting so no early line is missed.
	buf := sess.Buffer()
	changed, unsubscribe := buf.Subscribe()
	defer unsubscribe()

	if err := sess.Start(ctx); err != nil {
		return err
	}

	var input <-chan string
	if opts.Stdin != nil {
		sess.Apply(interact.Do(interact.EnterInsert))
		input = readLines(opts.Stdin)
	}

	untilCtx, cancelUntil := context.WithCancel(ctx)
	defer cancelUntil()
	var matched chan error
	waiting := opts.Until != "" || opts.Settle > 0
	if waiting {
		matched = make(chan error, 1)
		cfg := wait.Config{Pattern: opts.Until, Settle: opts.Settle, Timeout: opts.Timeout}
		if opts.StripANSI {
			cfg.Strip = ansi.Strip
		}
		go func() {
			_, err := wait.ForLine(untilCtx, buf, cfg)
			matched <- err
		}()
	}

	var deadline <-chan time.Time
	if opts.Timeout > 0 && !waiting {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	out := newPrinter(opts.Out, opts.JSON, opts.StripANSI)
	flush := func() error { return out.flush(buf, sess.State().Pattern) }

	for {
		if err := flush(); err != nil {
			return err
		}

		select {
		case <-changed:

		case ev := <-sup.Events():
			if !sess.HandleEvent(ev) {
				continue
			}
			if _, ok := ev.(supervisor.EventExited); !ok {
				continue
			}
			if err := flush(); err != nil {
				return err
			}
			stats := buf.Stats()
			log.Debug("command finished", "lines", stats.Lines, "evicted", stats.Evicted, "dropped", stats.Dropped)
			return exitResult(sup.Status())

		case line, ok := <-input:
			if !ok {
				log.Debug("stdin closed")
				input = nil
				continue
			}
			for _, e := range typeLine(sess, line) {
				err := sess.Execute(ctx, e)
				sess.Complete(e, err)
				if err != nil {
					log.Warn("input not delivered", "err", err)
					sess.Apply(interact.Do(interact.Cancel))
					sess.Apply(interact.Do(interact.EnterInsert))
				}
			}

		case err := <-matched:
			if ferr := flush(); ferr != nil {
				return ferr
			}
			if err != nil {
				return err
			}
			if opts.Settle > 0 {
				log.Info("output settled, stopping", "settle", opts.Settle.String())
			} else {
				log.Info("pattern matched, stopping", "pattern", opts.Until)
			}
			return sess.Dispatch(ctx, interact.Do(interact.Quit))

		case <-deadline:
			_ = flush()
			if err := sess.Dispatch(ctx, interact.Do(interact.Quit)); err != nil {
				return err
			}
			return fmt.Errorf("timeout after %s", opts.Timeout)

		case <-ctx.Done():
			_ = flush()
			return nil
		}
	}
}

// exitResult maps how the command ended to the CLI result.
func exitResult(st supervisor.Status) error {
	if st.Exit == nil {
		return st.Err
	}
	switch {
	case st.Exit.Err != nil:
		return st.Exit.Err
	case st.Exit.Code > 0:
		return &ExitError{Code: st.Exit.Code}
	case st.State == supervisor.StateFailed:
		return &ExitError{Code: 1}
	}
	return nil
}
