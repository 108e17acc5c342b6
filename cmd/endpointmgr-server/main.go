package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/catherinevee/endpointmgr/internal/awsclients"
	"github.com/catherinevee/endpointmgr/internal/collector"
	"github.com/catherinevee/endpointmgr/internal/config"
	"github.com/catherinevee/endpointmgr/internal/jobs"
	"github.com/catherinevee/endpointmgr/internal/logger"
	"github.com/catherinevee/endpointmgr/internal/notify"
	"github.com/catherinevee/endpointmgr/internal/workflow"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configPath := flag.String("config", "", "path to config file")
	workers := flag.Int("workers", 4, "workflow queue workers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger.Initialize(cfg.Logging)
	log := logger.Get()

	registry := awsclients.NewRegistry(nil)
	queue := jobs.NewQueue(*workers, log)
	orch := workflow.New(cfg, workflow.NewAWSClients(registry), queue, notify.NewWebhook(), log)

	if *configPath != "" {
		stop, err := config.Watch(*configPath, log, func(updated *config.Config) {
			*cfg = *updated
		})
		if err != nil {
			log.Warn("config watch unavailable", logger.Err(err))
		} else {
			defer stop()
		}
	}

	srv := newServer(cfg, orch, log)
	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      srv.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", logger.String("addr", *addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", logger.Err(err))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("http shutdown failed", logger.Err(err))
	}
	if err := queue.Shutdown(ctx); err != nil {
		log.Warn("queue shutdown failed", logger.Err(err))
	}
}

type server struct {
	cfg  *config.Config
	orch *workflow.Orchestrator
	log  logger.Logger
}

func newServer(cfg *config.Config, orch *workflow.Orchestrator, log logger.Logger) *server {
	return &server{cfg: cfg, orch: orch, log: log}
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/slack/command", s.handleCommand).Methods(http.MethodPost)
	r.HandleFunc("/slack/interact", s.handleInteraction).Methods(http.MethodPost)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// commandArgs holds the flags parsed from a slash command's text field.
type commandArgs struct {
	InstanceID string
	Region     string
	Days       int
	Hours      int
}

func parseCommandText(text string) (commandArgs, error) {
	var args commandArgs
	fields := strings.Fields(text)
	for i := 0; i < len(fields); i++ {
		flagName := fields[i]
		if i+1 >= len(fields) {
			return args, fmt.Errorf("flag %s is missing a value", flagName)
		}
		value := fields[i+1]
		i++

		switch flagName {
		case "--instance-id":
			args.InstanceID = value
		case "--region":
			args.Region = value
		case "--days":
			n, err := strconv.Atoi(value)
			if err != nil {
				return args, fmt.Errorf("invalid --days value %q", value)
			}
			args.Days = n
		case "--hours":
			n, err := strconv.Atoi(value)
			if err != nil {
				return args, fmt.Errorf("invalid --hours value %q", value)
			}
			args.Hours = n
		default:
			return args, fmt.Errorf("unknown flag %s", flagName)
		}
	}

	if args.InstanceID == "" {
		return args, fmt.Errorf("--instance-id is required")
	}
	if args.Region == "" {
		return args, fmt.Errorf("--region is required")
	}
	return args, nil
}

func (s *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	text := r.PostFormValue("text")
	responseURL := r.PostFormValue("response_url")

	args, err := parseCommandText(text)
	if err != nil {
		ackText(w, fmt.Sprintf("Usage: --instance-id <id> --region <region> [--days N | --hours N] (%v)", err))
		return
	}

	end := time.Now().UTC()
	span := s.cfg.Audit.Window
	switch {
	case args.Hours > 0:
		span = time.Duration(args.Hours) * time.Hour
	case args.Days > 0:
		span = time.Duration(args.Days) * 24 * time.Hour
	}

	if err := s.orch.StartAudit(workflow.CollectPayload{
		Window:      collector.Window{Start: end.Add(-span), End: end},
		Region:      args.Region,
		InstanceID:  args.InstanceID,
		ResponseURL: responseURL,
	}); err != nil {
		s.log.Error("failed to start audit", logger.Err(err))
		ackText(w, fmt.Sprintf("Could not start the audit: %v", err))
		return
	}

	// Slack expects an acknowledgement within 3 seconds; results arrive
	// through the response_url as the workflow progresses.
	ackText(w, fmt.Sprintf("Auditing instance %s in %s over the last %s. Results will follow here.",
		args.InstanceID, args.Region, span))
}

// interactionPayload is the subset of the Block Kit interaction callback the
// server routes on.
type interactionPayload struct {
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
	ResponseURL string `json:"response_url"`
}

func (s *server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	var payload interactionPayload
	if err := json.Unmarshal([]byte(r.PostFormValue("payload")), &payload); err != nil {
		http.Error(w, "invalid interaction payload", http.StatusBadRequest)
		return
	}
	if len(payload.Actions) == 0 {
		http.Error(w, "interaction has no actions", http.StatusBadRequest)
		return
	}

	action := payload.Actions[0]
	switch action.ActionID {
	case notify.ActionApprove:
		if err := s.orch.HandleApproval(r.Context(), action.Value, payload.ResponseURL); err != nil {
			s.log.Error("approval handling failed", logger.Err(err))
			http.Error(w, "approval could not be processed", http.StatusInternalServerError)
			return
		}
	case notify.ActionReject:
		s.orch.HandleRejection(r.Context(), payload.ResponseURL)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func ackText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"response_type": "in_channel",
		"text":          text,
	})
}
