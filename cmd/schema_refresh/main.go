package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/paladugusuresh/graphrag/internal/graphrag/schema"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
	"github.com/paladugusuresh/graphrag/internal/platform/neo4jdb"
	"github.com/paladugusuresh/graphrag/internal/platform/openai"
)

func main() {
	var synonymsPath string
	var skipEmbeddings bool
	var devMode bool
	var timeout int
	flag.StringVar(&synonymsPath, "synonyms", "", "path to the synonyms yaml (default configs/synonyms.yaml)")
	flag.BoolVar(&skipEmbeddings, "skip-embeddings", false, "rebuild the allow-list without re-syncing schema term embeddings")
	flag.BoolVar(&devMode, "dev", false, "use the offline embedding stub instead of the OpenAI API")
	flag.IntVar(&timeout, "timeout", 300, "overall timeout in seconds")
	flag.Parse()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	graph, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init Neo4j client", "error", err)
		os.Exit(1)
	}
	defer graph.Close(ctx)

	// The refresh CLI is the admin surface; it always runs in write mode.
	mode := schema.Mode{AppMode: "admin", AllowWrites: true}
	catalog := schema.NewCatalog(graph, log)

	snap, changed, err := catalog.Refresh(ctx)
	if err != nil {
		log.Error("Schema refresh failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("fingerprint=%s changed=%v labels=%d relationships=%d\n",
		snap.Fingerprint, changed, len(snap.AllowList.Labels), len(snap.AllowList.Relationships))

	if skipEmbeddings {
		return
	}

	var llm openai.Client
	if devMode {
		llm = openai.NewStub()
	} else {
		llm, err = openai.NewClient(log)
		if err != nil {
			log.Error("Could not init OpenAI client", "error", err)
			os.Exit(1)
		}
	}

	synonyms, err := schema.LoadSynonyms(synonymsPath)
	if err != nil {
		log.Error("Could not load synonyms", "error", err)
		os.Exit(1)
	}

	embedder := schema.NewEmbedder(graph, llm, mode, log)
	terms, err := embedder.Sync(ctx, snap.AllowList, synonyms)
	if err != nil {
		log.Error("Schema embedding sync failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("terms_synced=%d\n", terms)
}
