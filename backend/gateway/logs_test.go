package gateway

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func runningPod(namespace, name string, containers ...string) *corev1.Pod {
	specs := make([]corev1.Container, 0, len(containers))
	for _, c := range containers {
		specs = append(specs, corev1.Container{Name: c})
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec:       corev1.PodSpec{Containers: specs},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	}
}

func readLogFrame(t *testing.T, conn *websocket.Conn) logFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame logFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestLogStreamDeliversHistoryThenEOF(t *testing.T) {
	ts, _ := newTestServer(t, runningPod("default", "web-1", "app"))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/logs/stream?namespace=default&pod=web-1&follow=false"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// The fake clientset serves a fixed log body for every container.
	first := readLogFrame(t, conn)
	require.Equal(t, "logs", first.Type)
	require.NotEmpty(t, first.Entries)
	require.Equal(t, "web-1", first.Entries[0].Pod)
	require.Equal(t, "app", first.Entries[0].Container)
	require.Equal(t, "fake logs", first.Entries[0].Line)

	eof := readLogFrame(t, conn)
	require.Equal(t, "eof", eof.Type)
}

func TestLogStreamRequiresNamespaceAndPod(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/logs/stream?pod=web-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogStreamReportsUnknownPod(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/logs/stream?namespace=default&pod=ghost&follow=false"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	frame := readLogFrame(t, conn)
	require.Equal(t, "error", frame.Type)
	require.NotEmpty(t, frame.Error)
}
