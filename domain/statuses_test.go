package domain

import "testing"

func TestVisibilityOf(t *testing.T) {
	followers := "https://example.com/users/alice/followers"
	tests := []struct {
		name string
		to   []string
		cc   []string
		want Visibility
	}{
		{"public", []string{ActivityStreamsPublic}, []string{followers}, VisibilityPublic},
		{"unlisted", []string{followers}, []string{ActivityStreamsPublic}, VisibilityUnlisted},
		{"private", []string{followers}, nil, VisibilityPrivate},
		{"direct", []string{"https://remote.social/users/bob"}, nil, VisibilityDirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VisibilityOf(tt.to, tt.cc, followers); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestStatusRecipients(t *testing.T) {
	status := Status{
		ActorId: "https://example.com/users/alice",
		To:      []string{ActivityStreamsPublic},
		Cc:      []string{"https://example.com/users/alice/followers"},
	}

	recipients := status.Recipients()
	if len(recipients) != 3 {
		t.Fatalf("Expected 3 recipients, got %d", len(recipients))
	}
	if recipients[2] != status.ActorId {
		t.Errorf("Expected author last, got '%s'", recipients[2])
	}
	if !status.IsAddressedTo("https://example.com/users/alice/followers") {
		t.Error("Expected status to be addressed to followers")
	}
	if status.IsAddressedTo("https://example.com/users/bob") {
		t.Error("Did not expect status to be addressed to bob")
	}
}

func TestFollowStatus(t *testing.T) {
	if !FollowRequested.IsActive() || !FollowAccepted.IsActive() {
		t.Error("Requested and Accepted follows should be active")
	}
	if FollowUndo.IsActive() || FollowRejected.IsActive() {
		t.Error("Undo and Rejected follows should not be active")
	}
	if FollowStatus("Pending").Valid() {
		t.Error("Unknown follow status should not be valid")
	}

	follow := Follow{Inbox: "https://remote.social/users/bob/inbox"}
	if follow.DeliveryInbox() != follow.Inbox {
		t.Errorf("Expected personal inbox without shared inbox, got '%s'", follow.DeliveryInbox())
	}
	follow.SharedInbox = "https://remote.social/inbox"
	if follow.DeliveryInbox() != follow.SharedInbox {
		t.Errorf("Expected shared inbox, got '%s'", follow.DeliveryInbox())
	}
}
