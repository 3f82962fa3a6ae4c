package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/metrics"
)

func TestJoinReturnsExistingMembersInJoinOrder(t *testing.T) {
	r := NewRegistry()

	others, err := r.Join("standup", Member{ID: "a", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("join a: %v", err)
	}
	if len(others) != 0 {
		t.Fatalf("first joiner should see empty room, got %v", others)
	}

	others, err = r.Join("standup", Member{ID: "b", DisplayName: "Bob"})
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	if len(others) != 1 || others[0].ID != "a" {
		t.Fatalf("second joiner should see [a], got %v", others)
	}

	others, err = r.Join("standup", Member{ID: "c", DisplayName: "Carol"})
	if err != nil {
		t.Fatalf("join c: %v", err)
	}
	if len(others) != 2 || others[0].ID != "a" || others[1].ID != "b" {
		t.Fatalf("third joiner should see [a b], got %v", others)
	}
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	m := metrics.New()
	r := NewRegistry(WithMetrics(m))

	if _, err := r.Join("huddle", Member{ID: "a"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := r.Join("huddle", Member{ID: "b"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	remaining, err := r.Leave("huddle", "a")
	if err != nil {
		t.Fatalf("leave a: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != "b" {
		t.Fatalf("remaining = %v, want [b]", remaining)
	}
	if got := r.RoomCount(); got != 1 {
		t.Fatalf("room count = %d, want 1", got)
	}

	remaining, err = r.Leave("huddle", "b")
	if err != nil {
		t.Fatalf("leave b: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("remaining = %v, want empty", remaining)
	}
	if got := r.RoomCount(); got != 0 {
		t.Fatalf("room count after last leave = %d, want 0", got)
	}
	if got := m.Get(metrics.RoomsDestroyed); got != 1 {
		t.Fatalf("rooms destroyed counter = %d, want 1", got)
	}
}

func TestLeaveUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Leave("nope", "a"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("leave of unknown room: err = %v, want ErrNotInRoom", err)
	}
	if _, err := r.Join("huddle", Member{ID: "a"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := r.Leave("huddle", "ghost"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("leave of unknown member: err = %v, want ErrNotInRoom", err)
	}
}

func TestLimits(t *testing.T) {
	r := NewRegistry(WithMaxRooms(1), WithMaxMembersPerRoom(2))

	if _, err := r.Join("one", Member{ID: "a"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := r.Join("one", Member{ID: "b"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := r.Join("one", Member{ID: "c"}); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third join: err = %v, want ErrRoomFull", err)
	}
	if _, err := r.Join("two", Member{ID: "d"}); !errors.Is(err, ErrTooManyRooms) {
		t.Fatalf("second room: err = %v, want ErrTooManyRooms", err)
	}

	// Destroying room one frees the slot for room two.
	r.Leave("one", "a")
	r.Leave("one", "b")
	if _, err := r.Join("two", Member{ID: "d"}); err != nil {
		t.Fatalf("join after destroy: %v", err)
	}
}

func TestUpdateDisplayNamePlaceholderNeverRegresses(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Join("huddle", Member{ID: "abcd1234", DisplayName: "Guest-abcd1234"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	if !r.UpdateDisplayName("huddle", "abcd1234", "Alice") {
		t.Fatal("real name should apply over placeholder")
	}
	if r.UpdateDisplayName("huddle", "abcd1234", "Guest-abcd1234") {
		t.Fatal("placeholder must not overwrite real name")
	}
	if r.UpdateDisplayName("huddle", "abcd1234", "") {
		t.Fatal("empty name must not overwrite real name")
	}
	if got := r.Members("huddle")[0].DisplayName; got != "Alice" {
		t.Fatalf("display name = %q, want Alice", got)
	}

	if !r.UpdateDisplayName("huddle", "abcd1234", "Alicia") {
		t.Fatal("newer real name should apply")
	}
	if !r.UpdateDisplayName("huddle", "abcd1234", "Alicia") {
		t.Fatal("re-announcing the same name should be accepted")
	}
	if r.UpdateDisplayName("huddle", "missing", "Mabel") {
		t.Fatal("unknown member must be rejected")
	}
}

func TestSetMediaFlagReflectedInSnapshot(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Join("huddle", Member{ID: "a", CameraEnabled: true}); err != nil {
		t.Fatalf("join: %v", err)
	}

	if !r.SetMediaFlag("huddle", "a", FlagMicrophoneMuted, true) {
		t.Fatal("set mic flag failed")
	}
	if !r.SetMediaFlag("huddle", "a", FlagCameraEnabled, false) {
		t.Fatal("set camera flag failed")
	}
	if !r.SetMediaFlag("huddle", "a", FlagHandRaised, true) {
		t.Fatal("set hand flag failed")
	}
	if r.SetMediaFlag("huddle", "ghost", FlagHandRaised, true) {
		t.Fatal("flag update for absent member should report false")
	}

	got := r.Members("huddle")[0]
	if !got.MicrophoneMuted || got.CameraEnabled || !got.HandRaised {
		t.Fatalf("snapshot flags = %+v", got)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			roomID := fmt.Sprintf("room-%d", i%4)
			id := fmt.Sprintf("m-%d", i)
			for j := 0; j < 100; j++ {
				if _, err := r.Join(roomID, Member{ID: id}); err != nil {
					t.Errorf("join: %v", err)
					return
				}
				r.SetMediaFlag(roomID, id, FlagHandRaised, j%2 == 0)
				if _, err := r.Leave(roomID, id); err != nil {
					t.Errorf("leave: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	if got := r.RoomCount(); got != 0 {
		t.Fatalf("room count after churn = %d, want 0", got)
	}
}
