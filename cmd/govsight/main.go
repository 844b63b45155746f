package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antoniostano/govsight/internal/config"
	"github.com/antoniostano/govsight/internal/convo"
	"github.com/antoniostano/govsight/internal/engine"
	"github.com/antoniostano/govsight/internal/httpapi"
	"github.com/antoniostano/govsight/internal/memory"
	"github.com/antoniostano/govsight/internal/nlu"
	"github.com/antoniostano/govsight/internal/observability"
	"github.com/antoniostano/govsight/internal/retrieval"
	"github.com/antoniostano/govsight/internal/semantic"
	"github.com/antoniostano/govsight/internal/watchlist"
	"github.com/antoniostano/govsight/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(256)

	ctx := context.Background()
	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer store.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("memory store: in-memory (DATABASE_URL not set)")
	} else {
		log.Printf("memory store: postgres")
	}

	var completer nlu.Completer
	if cfg.ModelURL != "" {
		completer = nlu.NewHTTPCompleter(cfg.ModelURL, cfg.ModelTimeout)
		log.Printf("model: http endpoint")
	} else {
		completer = nlu.MockCompleter{}
		log.Printf("model: mock (MODEL_HTTP_URL not set)")
	}

	parser := nlu.NewChainParser(nlu.RegexParser{}, nlu.NewModelParser(completer))

	var index semantic.Adapter
	if cfg.SemanticIndexURL != "" {
		index = semantic.NewHTTPAdapter(cfg.SemanticIndexURL, cfg.WebTimeout)
		log.Printf("semantic index: http endpoint")
	} else {
		log.Printf("semantic index: disabled (SEMANTIC_INDEX_URL not set)")
	}

	var corroborator retrieval.Corroborator
	if cfg.SerpAPIKey != "" {
		var scorer web.Scorer = web.HeuristicScorer{}
		var synth web.Synthesizer = web.SnippetSynthesizer{}
		if cfg.ModelURL != "" {
			scorer = web.NewModelScorer(completer)
			synth = web.NewModelSynthesizer(completer)
		}
		corroborator = web.NewCorroborator(
			web.NewSerpSearcher(cfg.SerpEndpoint, cfg.SerpAPIKey, cfg.WebTimeout),
			web.NewPageFetcher(cfg.WebTimeout),
			scorer,
			synth,
			web.Options{
				TopN:            cfg.WebTopN,
				MinHighConf:     cfg.WebMinHighConf,
				RelevanceCutoff: cfg.WebRelevanceCutoff,
			},
		)
		log.Printf("web corroboration: enabled")
	} else {
		log.Printf("web corroboration: disabled (SERPAPI_API_KEY not set)")
	}

	planner := retrieval.NewPlanner(store, index, corroborator, retrieval.Options{
		SemanticThreshold: cfg.SemanticThreshold,
		SemanticTopK:      cfg.SemanticTopK,
	}, metrics, window)

	convos := convo.NewManager(cfg.BufferCapacity, cfg.SessionInactivityTimeout)
	tracker := watchlist.NewTracker(store, nlu.NewModelWatchDetector(completer))

	eng := engine.New(engine.Deps{
		Store:      store,
		Convos:     convos,
		Classifier: nlu.NewModelClassifier(completer),
		Extractor:  nlu.NewModelExtractor(completer),
		Parser:     parser,
		Summarizer: nlu.NewModelSummarizer(completer),
		Responder:  completer,
		Resolver:   planner,
		Tracker:    tracker,
		Metrics:    metrics,
	})

	api := httpapi.New(cfg, eng, store, tracker, metrics, window)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	convos.StartJanitor(runCtx, 30*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
