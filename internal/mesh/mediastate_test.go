package mesh

import (
	"testing"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/protocol"
)

func TestMediaProjectorAppliesAbsoluteState(t *testing.T) {
	m := newMediaProjector()
	m.AddMember(protocol.MemberInfo{ID: "b", CameraEnabled: true})

	m.Apply("b", protocol.EventToggleVideo, false)
	st, ok := m.State("b")
	if !ok || st.CameraEnabled {
		t.Fatalf("state after toggle off = %+v ok=%v", st, ok)
	}

	// Duplicate delivery of the same absolute value is a no-op.
	m.Apply("b", protocol.EventToggleVideo, false)
	st, _ = m.State("b")
	if st.CameraEnabled {
		t.Fatalf("duplicate toggle changed state: %+v", st)
	}

	m.Apply("b", protocol.EventToggleAudio, true)
	m.Apply("b", protocol.EventToggleHand, true)
	st, _ = m.State("b")
	if !st.MicrophoneMuted || !st.HandRaised {
		t.Fatalf("state = %+v", st)
	}
}

func TestMediaProjectorBuffersUnknownMembers(t *testing.T) {
	m := newMediaProjector()

	// Toggle broadcasts can outrun the join snapshot that introduces the
	// member; they must be held, not dropped.
	m.Apply("c", protocol.EventToggleAudio, true)
	m.Apply("c", protocol.EventToggleVideo, false)
	if _, ok := m.State("c"); ok {
		t.Fatal("member known before join")
	}

	m.AddMember(protocol.MemberInfo{ID: "c", CameraEnabled: true})
	st, ok := m.State("c")
	if !ok {
		t.Fatal("member unknown after join")
	}
	if !st.MicrophoneMuted || st.CameraEnabled {
		t.Fatalf("buffered toggles not replayed: %+v", st)
	}
}

// Scenario from the meeting flow: A and B are in the room, C joins while B
// toggles its camera off. C's projection of B must converge on camera-off
// regardless of whether the toggle or the snapshot arrives first.
func TestMediaProjectorToggleDuringJoinConverges(t *testing.T) {
	toggleFirst := newMediaProjector()
	toggleFirst.Apply("b", protocol.EventToggleVideo, false)
	toggleFirst.AddMember(protocol.MemberInfo{ID: "b", CameraEnabled: true})

	snapshotFirst := newMediaProjector()
	snapshotFirst.AddMember(protocol.MemberInfo{ID: "b", CameraEnabled: true})
	snapshotFirst.Apply("b", protocol.EventToggleVideo, false)

	for name, m := range map[string]*mediaProjector{
		"toggle before snapshot": toggleFirst,
		"snapshot before toggle": snapshotFirst,
	} {
		st, ok := m.State("b")
		if !ok || st.CameraEnabled {
			t.Fatalf("%s: state = %+v ok=%v, want camera off", name, st, ok)
		}
	}
}

func TestMediaProjectorRemoveDropsStateAndBuffer(t *testing.T) {
	m := newMediaProjector()
	m.AddMember(protocol.MemberInfo{ID: "b"})
	m.Apply("gone", protocol.EventToggleHand, true)

	m.RemoveMember("b")
	m.RemoveMember("gone")

	if _, ok := m.State("b"); ok {
		t.Fatal("removed member still known")
	}

	// A fresh join after removal starts from the snapshot, not stale
	// buffered toggles.
	m.AddMember(protocol.MemberInfo{ID: "gone"})
	st, _ := m.State("gone")
	if st.HandRaised {
		t.Fatalf("stale buffer applied after removal: %+v", st)
	}
}
