// Package logtail reads container logs for one pod, first as a bounded tail
// of history and then optionally as a live follow. Lines are attributed to
// their source container so the log view can label and filter them.
package logtail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/luxury-yacht/console/backend/internal/config"
)

// Tailer fetches and follows container logs through the Kubernetes API.
type Tailer struct {
	client kubernetes.Interface
	logger Logger
}

// NewTailer constructs a Tailer.
func NewTailer(client kubernetes.Interface, logger Logger) *Tailer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Tailer{client: client, logger: logger}
}

type containerTarget struct {
	namespace string
	pod       string
	container string
	isInit    bool
	state     *containerState
}

func (t containerTarget) key() string {
	return fmt.Sprintf("%s/%s/%s", t.namespace, t.pod, t.container)
}

// Tail fetches the initial log history for every matched container, previous
// instances first when requested, and returns entries in timestamp order
// along with the per-container state a subsequent Follow should resume from.
func (t *Tailer) Tail(ctx context.Context, opts Options) ([]Entry, map[string]*containerState, error) {
	targets, err := t.resolveTargets(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	var (
		mu      sync.Mutex
		entries []Entry
	)
	states := make(map[string]*containerState)
	for _, target := range targets {
		states[target.key()] = &containerState{}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, target := range targets {
		target := target
		group.Go(func() error {
			if opts.Previous {
				prev, err := t.fetchContainerTail(groupCtx, target, opts.TailLines, true)
				if err != nil {
					// The previous instance often does not exist. That is
					// not an error worth failing the whole tail over.
					t.logger.Debug(fmt.Sprintf("logtail: no previous logs for %s: %v", target.key(), err), "LogTail")
				} else {
					mu.Lock()
					entries = append(entries, prev...)
					mu.Unlock()
				}
			}
			current, err := t.fetchContainerTail(groupCtx, target, opts.TailLines, false)
			if err != nil {
				t.logger.Warn(fmt.Sprintf("logtail: tail failed for %s: %v", target.key(), err), "LogTail")
				return nil
			}
			mu.Lock()
			entries = append(entries, current...)
			state := states[target.key()]
			for _, e := range current {
				advanceState(state, e)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	sortEntries(entries)
	return entries, states, nil
}

// Follow streams new lines for every matched container into entriesCh until
// the context is cancelled or every container stream has finished for good.
// States from a prior Tail call suppress lines already delivered.
func (t *Tailer) Follow(ctx context.Context, opts Options, states map[string]*containerState, entriesCh chan<- Entry, errCh chan<- error) error {
	targets, err := t.resolveTargets(ctx, opts)
	if err != nil {
		return err
	}
	if states == nil {
		states = make(map[string]*containerState)
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		target.state = states[target.key()]
		if target.state == nil {
			target.state = &containerState{}
			states[target.key()] = target.state
		}
		wg.Add(1)
		go func(tgt containerTarget) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error(fmt.Sprintf("logtail: panic following %s: %v", tgt.key(), r), "LogTail")
				}
			}()
			t.followContainer(ctx, tgt, entriesCh, errCh)
		}(target)
	}
	wg.Wait()
	return nil
}

func (t *Tailer) resolveTargets(ctx context.Context, opts Options) ([]containerTarget, error) {
	pod, err := t.client.CoreV1().Pods(opts.Namespace).Get(ctx, opts.Pod, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	targets := buildTargets(pod, opts.Container)
	if len(targets) == 0 {
		return nil, fmt.Errorf("logtail: no container in %s/%s matches %q", opts.Namespace, opts.Pod, opts.Container)
	}
	return targets, nil
}

func buildTargets(pod *corev1.Pod, filter string) []containerTarget {
	var targets []containerTarget
	filter = strings.TrimSpace(filter)
	isAll := filter == "" || strings.EqualFold(filter, "all")

	for _, c := range pod.Spec.InitContainers {
		if !isAll && c.Name != filter {
			continue
		}
		targets = append(targets, containerTarget{namespace: pod.Namespace, pod: pod.Name, container: c.Name, isInit: true})
	}
	for _, c := range pod.Spec.Containers {
		if !isAll && c.Name != filter {
			continue
		}
		targets = append(targets, containerTarget{namespace: pod.Namespace, pod: pod.Name, container: c.Name})
	}
	return targets
}

func (t *Tailer) fetchContainerTail(ctx context.Context, target containerTarget, tailLines int, previous bool) ([]Entry, error) {
	if tailLines <= 0 {
		tailLines = config.LogTailDefaultLines
	}
	options := &corev1.PodLogOptions{
		Container:  target.container,
		Timestamps: true,
		Previous:   previous,
		TailLines:  ptr.To(int64(tailLines)),
	}

	req := t.client.CoreV1().Pods(target.namespace).GetLogs(target.pod, options)
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var entries []Entry
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		timestamp, content := splitTimestamp(scanner.Text())
		entries = append(entries, Entry{
			Timestamp:  timestamp,
			Pod:        target.pod,
			Container:  target.container,
			Line:       content,
			IsInit:     target.isInit,
			IsPrevious: previous,
		})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return entries, err
	}
	return entries, nil
}

func (t *Tailer) followContainer(ctx context.Context, target containerTarget, entriesCh chan<- Entry, errCh chan<- error) {
	backoff := config.LogTailBackoffInitial
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		options := &corev1.PodLogOptions{
			Container:  target.container,
			Follow:     true,
			Timestamps: true,
		}
		if !target.state.lastTimestamp.IsZero() {
			since := metav1.NewTime(target.state.lastTimestamp)
			options.SinceTime = &since
		}

		req := t.client.CoreV1().Pods(target.namespace).GetLogs(target.pod, options)
		stream, err := req.Stream(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.logger.Warn(fmt.Sprintf("logtail: follow failed for %s: %v", target.key(), err), "LogTail")
				select {
				case errCh <- fmt.Errorf("logtail: follow failed for %s: %w", target.key(), err):
				default:
				}
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				backoff = nextBackoff(backoff)
			}
			if !t.shouldContinueFollowing(ctx, target) {
				return
			}
			continue
		}
		backoff = config.LogTailBackoffInitial

		t.consumeStream(ctx, stream, target, entriesCh)

		if !t.shouldContinueFollowing(ctx, target) {
			return
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (t *Tailer) consumeStream(ctx context.Context, stream io.ReadCloser, target containerTarget, entriesCh chan<- Entry) {
	defer stream.Close()
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		timestamp, content := splitTimestamp(scanner.Text())
		entry := Entry{
			Timestamp: timestamp,
			Pod:       target.pod,
			Container: target.container,
			Line:      content,
			IsInit:    target.isInit,
		}

		// SinceTime has second resolution, so after a reconnect the server
		// resends lines from the boundary second. Drop exact repeats.
		if timestamp != "" {
			if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
				if !target.state.lastTimestamp.IsZero() && !ts.After(target.state.lastTimestamp) && target.state.lastLine == entry.Line {
					continue
				}
				target.state.lastTimestamp = ts
			}
		}
		target.state.lastLine = entry.Line

		select {
		case entriesCh <- entry:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		t.logger.Debug(fmt.Sprintf("logtail: scanner error for %s: %v", target.key(), err), "LogTail")
	}
}

// shouldContinueFollowing reports whether a finished stream is worth
// reopening. Init containers run once; completed or deleted pods will not
// produce more output.
func (t *Tailer) shouldContinueFollowing(ctx context.Context, target containerTarget) bool {
	if target.isInit {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}

	pod, err := t.client.CoreV1().Pods(target.namespace).Get(ctx, target.pod, metav1.GetOptions{})
	if err != nil {
		return !apierrors.IsNotFound(err)
	}
	if pod.DeletionTimestamp != nil {
		return false
	}
	switch pod.Status.Phase {
	case corev1.PodFailed, corev1.PodSucceeded:
		return false
	default:
		return true
	}
}

func advanceState(state *containerState, e Entry) {
	if e.Timestamp == "" || e.IsPrevious {
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return
	}
	if ts.After(state.lastTimestamp) || state.lastTimestamp.IsZero() {
		state.lastTimestamp = ts
		state.lastLine = e.Line
	}
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsPrevious != entries[j].IsPrevious {
			return entries[i].IsPrevious
		}
		ti, errI := time.Parse(time.RFC3339Nano, entries[i].Timestamp)
		tj, errJ := time.Parse(time.RFC3339Nano, entries[j].Timestamp)
		switch {
		case errI != nil || errJ != nil:
			return i < j
		default:
			return ti.Before(tj)
		}
	})
}

func nextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return config.LogTailBackoffInitial
	}
	next := current * 2
	if next > config.LogTailBackoffMax {
		return config.LogTailBackoffMax
	}
	return next
}

// splitTimestamp separates the leading RFC3339 timestamp the API server
// prepends when Timestamps is set. Lines without one pass through intact.
func splitTimestamp(line string) (string, string) {
	idx := strings.IndexByte(line, ' ')
	if idx <= 0 || idx >= 40 {
		return "", line
	}
	token := line[:idx]
	if _, err := time.Parse(time.RFC3339Nano, token); err != nil {
		return "", line
	}
	return token, line[idx+1:]
}
