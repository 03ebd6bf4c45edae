package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/client-go/kubernetes"
	restclient "k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	"github.com/luxury-yacht/console/backend/cloudshell"
	"github.com/luxury-yacht/console/backend/gateway"
	"github.com/luxury-yacht/console/backend/logging"
	"github.com/luxury-yacht/console/backend/logtail"
)

func main() {
	var (
		listenAddr     = flag.String("listen", ":8090", "address the gateway listens on")
		kubeconfig     = flag.String("kubeconfig", "", "path to a kubeconfig; in-cluster config is used when empty")
		shellNamespace = flag.String("shell-namespace", "console-shell", "namespace that holds cloud shell pods")
		shellImage     = flag.String("shell-image", "", "image for cloud shell pods")
		sessionLimit   = flag.Int("session-limit", 0, "maximum concurrent shell sessions")
	)
	klog.InitFlags(nil)
	flag.Parse()

	restConfig, err := buildRestConfig(*kubeconfig)
	if err != nil {
		klog.Fatalf("failed to load kubernetes config: %v", err)
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		klog.Fatalf("failed to build kubernetes client: %v", err)
	}

	logger := logging.NewLogger(1000)
	store := cloudshell.NewStore(cloudshell.Options{
		Client:    client,
		Namespace: *shellNamespace,
		Image:     *shellImage,
		Limit:     *sessionLimit,
		Logger:    logger,
	})
	tailer := logtail.NewTailer(client, logger)
	server := gateway.NewServer(gateway.Options{
		Client:      client,
		RestConfig:  restConfig,
		Store:       store,
		Tailer:      tailer,
		Logger:      logger,
		Diagnostics: logger,
	})

	mux := http.NewServeMux()
	server.Register(mux)

	httpServer := &http.Server{
		Addr:              *listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		klog.Infof("console gateway listening on %s", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("gateway server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	klog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		klog.Errorf("shutdown did not complete cleanly: %v", err)
	}
}

// buildRestConfig prefers in-cluster credentials and falls back to the
// kubeconfig chain, so the same binary runs as a deployment or on a laptop.
func buildRestConfig(kubeconfig string) (*restclient.Config, error) {
	if kubeconfig == "" {
		if cfg, err := restclient.InClusterConfig(); err == nil {
			return cfg, nil
		}
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}
