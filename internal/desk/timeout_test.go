package desk

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stalledStore blocks every lookup until its context ends.
type stalledStore struct {
	*InMemory
	deadline chan bool
}

func (s *stalledStore) FindOrganizationByExternalID(ctx context.Context, workspaceID string) (Organization, error) {
	_, ok := ctx.Deadline()
	s.deadline <- ok
	<-ctx.Done()
	return Organization{}, ctx.Err()
}

func TestWithTimeoutBoundsStalledCalls(t *testing.T) {
	inner := &stalledStore{InMemory: NewInMemory(), deadline: make(chan bool, 1)}
	s := WithTimeout(inner, 20*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := s.FindOrganizationByExternalID(context.Background(), "T1")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("store call was not bounded")
	}
	if !<-inner.deadline {
		t.Fatal("expected the inner call to see a deadline")
	}
}

func TestWithTimeoutPassesThrough(t *testing.T) {
	mem := NewInMemory()
	s := WithTimeout(mem, time.Second)
	ctx := context.Background()
	org, err := s.InsertOrganization(ctx, Organization{Name: "Acme", ExternalWorkspaceID: "T1"})
	if err != nil {
		t.Fatalf("InsertOrganization: %v", err)
	}
	if _, err := s.InsertOrganization(ctx, Organization{Name: "Dup", ExternalWorkspaceID: "T1"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict through the wrapper, got %v", err)
	}
	got, err := s.FindOrganizationByExternalID(ctx, "T1")
	if err != nil || got.ID != org.ID {
		t.Fatalf("lookup mismatch: %v %+v", err, got)
	}
	if WithTimeout(mem, 0) != Store(mem) {
		t.Fatal("expected zero timeout to return the store unchanged")
	}
}
