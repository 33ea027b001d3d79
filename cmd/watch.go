package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mj1618/support-roster/internal/decision"
	"github.com/mj1618/support-roster/internal/logger"
	"github.com/mj1618/support-roster/internal/output"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Track sessions continuously and stream roster changes as JSONL",
	Long: `Poll the desktop every poll_interval and emit roster changes (added, removed,
changed sessions) and conflict prompts as JSONL to stdout.

Conflicts are handled by --on-conflict:
  prompt     wait for an answer on stdin: "keep", "keep:<endpoint-id>",
             "update" or "new", optionally prefixed by a ticket id
  keep       always keep the existing session
  update     always move the existing session to the new window
  different  always track the new window as a separate session

Output is always JSONL regardless of the --format flag. The config file is
reloaded when it changes. Use Ctrl+C or --duration to stop.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("on-conflict", "prompt", "Conflict policy: prompt, keep, update, different")
	watchCmd.Flags().Int("duration", 0, "Max seconds to watch (0 = until Ctrl+C)")
}

// jsonlWriter serialises events from several goroutines.
type jsonlWriter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	events int
}

func newJSONLWriter(w io.Writer) *jsonlWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &jsonlWriter{enc: enc}
}

func (w *jsonlWriter) emit(v interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(v); err != nil {
		logger.Warn().Err(err).Msg("write event failed")
		return
	}
	w.events++
}

func (w *jsonlWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

func parsePolicy(s string) (string, error) {
	switch s {
	case "prompt", "keep", "update", "different":
		return s, nil
	}
	return "", fmt.Errorf("unsupported conflict policy: %s (use prompt, keep, update, or different)", s)
}

func runWatch(cmd *cobra.Command, args []string) error {
	policyFlag, _ := cmd.Flags().GetString("on-conflict")
	durationSec, _ := cmd.Flags().GetInt("duration")
	policy, err := parsePolicy(policyFlag)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if durationSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(durationSec)*time.Second)
		defer cancel()
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	a.watchConfig()

	out := newJSONLWriter(output.Writer)
	start := time.Now()

	// Baseline before subscribing, so the snapshot is not repeated as adds.
	if _, err := a.pollOnce(); err != nil {
		out.emit(map[string]interface{}{
			"type":  "error",
			"ts":    time.Now().Unix(),
			"error": err.Error(),
		})
	}
	changes, unsubscribe := a.reg.Subscribe(64)
	defer unsubscribe()
	out.emit(map[string]interface{}{
		"type":      "snapshot",
		"ts":        time.Now().Unix(),
		"count":     len(a.router.Endpoints()),
		"endpoints": a.router.Endpoints(),
	})

	engineDone := make(chan error, 1)
	go func() { engineDone <- a.engine.Run(a.ctx, nil) }()
	if policy == "prompt" {
		go readAnswers(ctx, os.Stdin, a, out)
	}

	// The first poll may already have raised a conflict.
	announced := announceConflict(a, out, policy, "")
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case c, ok := <-changes:
			if !ok {
				break loop
			}
			out.emit(c)
		case <-a.gate.Notify():
			announced = announceConflict(a, out, policy, announced)
		}
	}
	if err := <-engineDone; err != nil {
		return err
	}

	elapsed := time.Since(start)
	out.emit(map[string]interface{}{
		"type":    "done",
		"ts":      time.Now().Unix(),
		"elapsed": fmt.Sprintf("%.1fs", elapsed.Seconds()),
		"events":  out.count(),
	})
	return nil
}

// announceConflict emits the presented ticket once and, unless the policy
// is prompt, answers it. It returns the id of the last announced ticket.
func announceConflict(a *app, out *jsonlWriter, policy, announced string) string {
	for {
		t, ok := a.gate.Current()
		if !ok || t.ID == announced {
			return announced
		}
		announced = t.ID
		out.emit(conflictEvent(t))
		if policy == "prompt" {
			return announced
		}
		answerTicket(a, out, t.ID, policy)
	}
}

func conflictEvent(t *decision.Ticket) map[string]interface{} {
	return map[string]interface{}{
		"type":   "conflict",
		"ts":     time.Now().Unix(),
		"ticket": t,
	}
}

func answerTicket(a *app, out *jsonlWriter, ticketID, answer string) {
	c, err := a.router.Answer(ticketID, answer)
	if err != nil {
		out.emit(map[string]interface{}{
			"type":  "error",
			"ts":    time.Now().Unix(),
			"error": err.Error(),
		})
		return
	}
	out.emit(map[string]interface{}{
		"type":   "answered",
		"ts":     time.Now().Unix(),
		"ticket": ticketID,
		"choice": c.String(),
	})
}

// readAnswers answers conflicts from lines of r. A line is either a choice
// for the presented ticket or "<ticket-id> <choice>".
func readAnswers(ctx context.Context, r io.Reader, a *app, out *jsonlWriter) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		switch len(fields) {
		case 0:
			continue
		case 1:
			t, ok := a.gate.Current()
			if !ok {
				out.emit(map[string]interface{}{
					"type":  "error",
					"ts":    time.Now().Unix(),
					"error": "no conflict is pending",
				})
				continue
			}
			answerTicket(a, out, t.ID, fields[0])
		default:
			answerTicket(a, out, fields[0], fields[1])
		}
	}
}
