// Package cloudshell manages the pods that back cloud shell sessions. Each
// session is a labelled pod running a long-lived shell image in a dedicated
// namespace; the store creates, lists and reaps them and translates pod
// phases into session statuses.
package cloudshell

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/luxury-yacht/console/backend/internal/config"
)

const (
	managedByLabel    = "app.kubernetes.io/managed-by"
	managedByValue    = "console"
	sessionIDLabel    = "console.io/shell-session"
	defaultShellImage = "busybox:1.37"
)

// ErrLimitExceeded is returned when the namespace already holds the maximum
// number of active shell pods.
var ErrLimitExceeded = errors.New("cloudshell: session limit exceeded")

// Logger represents the minimal logging interface required by the store.
type Logger interface {
	Debug(message string, source ...string)
	Info(message string, source ...string)
	Warn(message string, source ...string)
	Error(message string, source ...string)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...string) {}
func (noopLogger) Info(string, ...string)  {}
func (noopLogger) Warn(string, ...string)  {}
func (noopLogger) Error(string, ...string) {}

// Status describes the lifecycle stage of a shell session pod.
type Status string

const (
	StatusCreating    Status = "creating"
	StatusReady       Status = "ready"
	StatusTerminating Status = "terminating"
	StatusTerminated  Status = "terminated"
)

// Session is the externally visible record of one shell pod.
type Session struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	PodName   string    `json:"podName"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Options configures a Store.
type Options struct {
	Client    kubernetes.Interface
	Namespace string
	Image     string
	Limit     int
	Logger    Logger
}

// Store owns the shell pods in one namespace.
type Store struct {
	client    kubernetes.Interface
	namespace string
	image     string
	limit     int
	logger    Logger
}

// NewStore constructs a Store.
func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Image == "" {
		opts.Image = defaultShellImage
	}
	if opts.Limit <= 0 {
		opts.Limit = config.SessionLimit
	}
	return &Store{
		client:    opts.Client,
		namespace: opts.Namespace,
		image:     opts.Image,
		limit:     opts.Limit,
		logger:    opts.Logger,
	}
}

// Namespace returns the namespace the store manages pods in.
func (s *Store) Namespace() string {
	return s.namespace
}

// Create provisions a new shell pod. The active-session limit is enforced
// here as well as in clients: a client restart must not be a way around it.
func (s *Store) Create(ctx context.Context) (Session, error) {
	existing, err := s.List(ctx)
	if err != nil {
		return Session{}, err
	}
	active := 0
	for _, sess := range existing {
		if sess.Status == StatusReady || sess.Status == StatusCreating {
			active++
		}
	}
	if active >= s.limit {
		return Session{}, ErrLimitExceeded
	}

	id := uuid.NewString()
	pod := s.buildPod(id)
	created, err := s.client.CoreV1().Pods(s.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return Session{}, fmt.Errorf("cloudshell: create pod: %w", err)
	}
	s.logger.Info(fmt.Sprintf("cloudshell: created session %s (pod %s)", id, created.Name), "CloudShell")
	return sessionFromPod(created), nil
}

// List returns every shell session pod in the namespace, oldest first.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	selector := labels.Set{managedByLabel: managedByValue}.AsSelector().String()
	pods, err := s.client.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("cloudshell: list pods: %w", err)
	}

	sessions := make([]Session, 0, len(pods.Items))
	for i := range pods.Items {
		sess := sessionFromPod(&pods.Items[i])
		if sess.ID == "" {
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Delete removes the pod backing a session. Deleting a session that is
// already gone is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.find(ctx, sessionID)
	if err != nil {
		return err
	}
	err = s.client.CoreV1().Pods(s.namespace).Delete(ctx, sess.PodName, metav1.DeleteOptions{
		GracePeriodSeconds: ptr.To(int64(5)),
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("cloudshell: delete pod %s: %w", sess.PodName, err)
	}
	s.logger.Info(fmt.Sprintf("cloudshell: deleted session %s", sessionID), "CloudShell")
	return nil
}

// PodName resolves the pod that backs a session, for terminal attachment.
func (s *Store) PodName(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.find(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.Status != StatusReady {
		return "", fmt.Errorf("cloudshell: session %s is not ready (%s)", sessionID, sess.Status)
	}
	return sess.PodName, nil
}

func (s *Store) find(ctx context.Context, sessionID string) (Session, error) {
	selector := labels.Set{sessionIDLabel: sessionID}.AsSelector().String()
	pods, err := s.client.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return Session{}, fmt.Errorf("cloudshell: lookup session %s: %w", sessionID, err)
	}
	if len(pods.Items) == 0 {
		return Session{}, apierrors.NewNotFound(corev1.Resource("pods"), sessionID)
	}
	return sessionFromPod(&pods.Items[0]), nil
}

func (s *Store) buildPod(id string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("shell-%s", id[:8]),
			Namespace: s.namespace,
			Labels: map[string]string{
				managedByLabel: managedByValue,
				sessionIDLabel: id,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:    "shell",
				Image:   s.image,
				Command: []string{"sh", "-c", "while true; do sleep 3600; done"},
				Stdin:   true,
				TTY:     true,
				Resources: corev1.ResourceRequirements{
					Limits: corev1.ResourceList{
						corev1.ResourceCPU:    resource.MustParse("200m"),
						corev1.ResourceMemory: resource.MustParse("256Mi"),
					},
				},
				SecurityContext: &corev1.SecurityContext{
					AllowPrivilegeEscalation: ptr.To(false),
				},
			}},
			TerminationGracePeriodSeconds: ptr.To(int64(5)),
		},
	}
}

// sessionFromPod maps a pod into the session record clients see. Deletion
// takes precedence over phase so a terminating pod never reads as ready.
func sessionFromPod(pod *corev1.Pod) Session {
	sess := Session{
		ID:        pod.Labels[sessionIDLabel],
		Namespace: pod.Namespace,
		PodName:   pod.Name,
		CreatedAt: pod.CreationTimestamp.Time,
	}
	switch {
	case pod.DeletionTimestamp != nil:
		sess.Status = StatusTerminating
	case pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed:
		sess.Status = StatusTerminated
	case pod.Status.Phase == corev1.PodRunning && podReady(pod):
		sess.Status = StatusReady
	default:
		sess.Status = StatusCreating
	}
	return sess
}

func podReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
