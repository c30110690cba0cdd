package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Bedrooms", "bedrooms"},
		{"  Total Bathrooms ", "total_bathrooms"},
		{"Last Sale Amount ($)", "last_sale_amount"},
		{"MLS Agent E-Mail", "mls_agent_e_mail"},
		{"Owner 1 First Name", "owner_1_first_name"},
		{"__already__snake__", "already_snake"},
		{"Pre-FC Auction Date", "pre_fc_auction_date"},
		{"Loan #1 Balance", "loan_1_balance"},
		{"Est. Loan-to-Value", "est_loan_to_value"},
		{"Préstamo", "pr_stamo"},
		{"", ""},
		{"   ", ""},
		{"$$$", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := CanonicalName(tt.input); got != tt.want {
				t.Errorf("CanonicalName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCanonicalName_Idempotent(t *testing.T) {
	inputs := []string{
		"Bedrooms", "  Total Bathrooms ", "A--B__C", "_x_", "Ünïcödé Header",
		"Last Sale Recording Date", "42", "a b\tc\nd", "",
	}
	for _, in := range inputs {
		once := CanonicalName(in)
		twice := CanonicalName(once)
		if once != twice {
			t.Errorf("CanonicalName not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestCanonicalHeaders_PositionalNames(t *testing.T) {
	got := CanonicalHeaders([]string{"Property ID", "", "###", "City"})
	want := []string{"property_id", "column_2", "column_3", "city"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CanonicalHeaders mismatch (-want +got):\n%s", diff)
	}
}

func TestColumnName(t *testing.T) {
	renames := map[string]string{
		"pre_fc_auction_date": "prefc_auction_date",
		"Agent E-Mail":        "agent_email",
		"agent_e_mail":        "agent_contact",
		"blank_rename":        "###",
	}
	tests := []struct {
		header string
		want   string
	}{
		{"Pre FC Auction Date", "prefc_auction_date"},
		{"PreFC Auction Date", "prefc_auction_date"},
		{"Agent E-Mail", "agent_email"},
		{"agent e-mail", "agent_contact"},
		{"City ", "city"},
		{"Blank Rename", "blank_rename"},
		{"", ""},
		{"###", ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := ColumnName(tt.header, renames); got != tt.want {
				t.Errorf("ColumnName(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}

	key := ColumnKey(nil)
	if got := key("Pre FC Auction Date"); got != "pre_fc_auction_date" {
		t.Errorf("ColumnKey(nil) = %q, want pre_fc_auction_date", got)
	}
}
