package testutil_test

import (
	"context"
	"testing"

	"github.com/arthur-debert/nanosync/nanosync/query"
	"github.com/arthur-debert/nanosync/nanosync/remote"
	"github.com/arthur-debert/nanosync/testutil"
	"github.com/arthur-debert/nanosync/types"
	"github.com/google/go-cmp/cmp"
)

func TestLoadUniverse(t *testing.T) {
	s, u := testutil.LoadUniverse(t)
	ctx := context.Background()

	if len(u.Documents) != 12 {
		t.Fatalf("expected 12 fixture documents, got %d", len(u.Documents))
	}

	for _, collection := range []string{"users", "users/alice/posts", "todos"} {
		t.Run(collection, func(t *testing.T) {
			records, err := s.Query(ctx, remote.Query{Collection: collection})
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertRecordIDs(t, records, u.Collection(collection)...)
		})
	}

	rec, err := s.Get(ctx, u.Path("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(u.ByName["alice"].Fields, rec.Fields); diff != "" {
		t.Errorf("alice (-want +got):\n%s", diff)
	}
}

func TestUniverseIsShared(t *testing.T) {
	s, u := testutil.LoadUniverse(t)
	ctx := context.Background()

	if err := s.Delete(ctx, u.Path("carol")); err != nil {
		t.Fatal(err)
	}
	other := u.Open(t)
	records, err := other.Query(ctx, remote.Query{
		Collection: "users",
		Descriptor: query.New().Where("role", types.OpEqual, "member").Build(),
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertRecordIDs(t, records, "bob")
}

func TestClockAdvances(t *testing.T) {
	c := testutil.NewClock()
	start := c.Peek()
	if got := c.Now(); !got.After(start) {
		t.Errorf("expected %v after %v", got, start)
	}
}
