package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/noxsuite/noxinstall/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:        ":memory:", // Use in-memory database for example
		BusyTimeout: 2 * time.Second,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_FinishRun records a run from start to completion.
func ExampleSQLiteStore_FinishRun() {
	ctx := context.Background()
	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	run := &stores.Run{
		ID:        "run-001",
		SessionID: "20260301_120000",
		Mode:      "guided",
		Status:    stores.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		log.Fatal(err)
	}
	if err := store.FinishRun(ctx, run.ID, stores.RunStatusCompleted, nil, nil); err != nil {
		log.Fatal(err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(got.Mode, got.Status)
	// Output: guided completed
}
