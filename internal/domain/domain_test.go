package domain

import (
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		raw  string
		want Role
		ok   bool
	}{
		{"viewer", RoleViewer, true},
		{" Member ", RoleMember, true},
		{"ADMIN", RoleAdmin, true},
		{"super_admin", RoleSuperAdmin, true},
		{"superadmin", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		got, ok := ParseRole(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseRole(%q) = (%v, %v), want (%v, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRoleOrderingAndNames(t *testing.T) {
	if !(RoleViewer < RoleMember && RoleMember < RoleAdmin && RoleAdmin < RoleSuperAdmin) {
		t.Fatalf("roles must be totally ordered viewer < member < admin < super_admin")
	}
	if RoleSuperAdmin.String() != "super_admin" {
		t.Fatalf("unexpected name %q", RoleSuperAdmin.String())
	}
	if Role(0).Valid() || Role(0).String() != "unknown" {
		t.Fatalf("zero role must be invalid")
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	if PaymentStatusPending.Terminal() {
		t.Fatalf("pending must not be terminal")
	}
	if !PaymentStatusSuccess.Terminal() || !PaymentStatusFailed.Terminal() {
		t.Fatalf("success and failed must be terminal")
	}
}

func TestPaymentTransactionView(t *testing.T) {
	verified := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	donationID := "0f8fad5b-d9cb-469f-a165-70867728950e"
	txn := &PaymentTransaction{
		PaymentID:       "PAY-1-abc",
		CampaignID:      "c1",
		Amount:          99.5,
		Gateway:         GatewayUPI,
		Status:          PaymentStatusSuccess,
		DonationID:      &donationID,
		VerifiedAt:      &verified,
		GatewayResponse: map[string]interface{}{MetaDonorName: "Hidden"},
	}

	view := txn.View()
	if view.PaymentID != txn.PaymentID || view.Status != PaymentStatusSuccess || view.Amount != 99.5 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.DonationID == nil || *view.DonationID != donationID {
		t.Fatalf("expected donation id in view")
	}
}
