package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pcesched/pcesched/pkg/schedule"
	"github.com/pcesched/pcesched/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		ConnMaxLifetime: 5 * time.Minute,
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

// ExampleSQLiteStore_Put demonstrates storing and reading back a schedule.
func ExampleSQLiteStore_Put() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	rec, err := schedule.NewRecurring("Office hours", false, "allow", []string{"mon", "tue", "wed", "thu", "fri"}, "08:00", "18:00")
	if err != nil {
		log.Fatal(err)
	}

	href := "/orgs/1/sec_policy/active/rule_sets/5/sec_rules/12"
	if err := store.Put(ctx, href, rec); err != nil {
		log.Fatal(err)
	}

	got, err := store.Get(ctx, href)
	if err != nil {
		log.Fatal(err)
	}

	w := got.ToWire()
	fmt.Printf("%s %s %s-%s %v\n", w.Type, w.Action, w.Start, w.End, w.Days)
	// Output: recurring allow 08:00-18:00 [Monday Tuesday Wednesday Thursday Friday]
}

// ExampleSQLiteStore_Delete demonstrates removing a schedule.
func ExampleSQLiteStore_Delete() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	rec, _ := schedule.NewOneTime("Vendor access", true, "2030-01-01T00:00")
	_ = store.Put(ctx, "/orgs/1/sec_policy/active/rule_sets/9", rec)

	deleted, _ := store.Delete(ctx, "/orgs/1/sec_policy/active/rule_sets/9")
	again, _ := store.Delete(ctx, "/orgs/1/sec_policy/active/rule_sets/9")

	fmt.Println(deleted, again)
	// Output: true false
}
