package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emberly/match-app/internal/messaging"
	"github.com/emberly/match-app/internal/notify"
)

// sender forwards decoded jobs to the external push gateway. With no
// gateway configured it logs the job, which is what staging runs do.
type sender struct {
	gatewayURL string
	client     *http.Client
}

func (s *sender) deliver(job notify.Job) {
	if s.gatewayURL == "" {
		log.Printf("[notifier] (no gateway) to=%s from=%s type=%s", job.IDToSendTo, job.OtherID, job.Kind)
		return
	}

	data, err := json.Marshal(job)
	if err != nil {
		log.Printf("[notifier] marshal job: %v", err)
		return
	}

	resp, err := s.client.Post(s.gatewayURL, "application/json", bytes.NewReader(data))
	if err != nil {
		log.Printf("[notifier] gateway post to=%s: %v", job.IDToSendTo, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[notifier] gateway rejected to=%s status=%d", job.IDToSendTo, resp.StatusCode)
		return
	}
	log.Printf("[notifier] delivered to=%s type=%s", job.IDToSendTo, job.Kind)
}

func main() {
	log.Println("Starting match-app notification worker...")

	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "match-app-notifier"

	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	s := &sender{
		gatewayURL: os.Getenv("PUSH_GATEWAY_URL"),
		client:     &http.Client{Timeout: 10 * time.Second},
	}

	// Queue-group subscription: each job goes to exactly one worker.
	err = natsClient.SubscribePushJobs(func(data []byte) {
		var job notify.Job
		if err := json.Unmarshal(data, &job); err != nil {
			log.Printf("[notifier] failed to unmarshal job: %v", err)
			return
		}
		if job.IDToSendTo == "" || job.Kind == "" {
			log.Printf("[notifier] dropping malformed job: %s", data)
			return
		}
		s.deliver(job)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to push jobs: %v", err)
	}

	log.Printf("match-app notification worker running")
	log.Printf("  nats_url:    %s", natsConfig.URL)
	log.Printf("  gateway_url: %s", s.gatewayURL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}
