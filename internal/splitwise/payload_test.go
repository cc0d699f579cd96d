package splitwise

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/common"
)

func TestBuildBySharesPayload_PayerIsParticipant(t *testing.T) {
	got, rows, err := BuildBySharesPayload(BySharesRequest{
		CostCents:          100,
		Description:        "Badminton 2026-02-01",
		CurrencyCode:       "SGD",
		GroupID:            42,
		Date:               "2026-02-01",
		PayerUserID:        2,
		ParticipantUserIDs: []int64{3, 1, 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := Payload{
		"cost":                 "1.00",
		"description":          "Badminton 2026-02-01",
		"currency_code":        "SGD",
		"group_id":             "42",
		"date":                 "2026-02-01",
		"split_equally":        "false",
		"users__0__user_id":    "2",
		"users__0__paid_share": "1.00",
		"users__0__owed_share": "0.33",
		"users__1__user_id":    "1",
		"users__1__paid_share": "0.00",
		"users__1__owed_share": "0.34",
		"users__2__user_id":    "3",
		"users__2__paid_share": "0.00",
		"users__2__owed_share": "0.33",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	wantRows := []ShareRow{{2, 100, 33}, {1, 0, 34}, {3, 0, 33}}
	if diff := cmp.Diff(wantRows, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildBySharesPayload_PayerNotPlaying(t *testing.T) {
	got, _, err := BuildBySharesPayload(BySharesRequest{
		CostCents:          2600,
		CurrencyCode:       "SGD",
		GroupID:            1,
		PayerUserID:        99,
		ParticipantUserIDs: []int64{5, 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["users__0__user_id"] != "99" || got["users__0__owed_share"] != "0.00" || got["users__0__paid_share"] != "26.00" {
		t.Fatalf("payer row = %v", got)
	}
	if got["users__1__user_id"] != "4" || got["users__2__user_id"] != "5" || got["users__2__owed_share"] != "13.00" {
		t.Fatalf("participant rows = %v", got)
	}
	if _, ok := got["date"]; ok {
		t.Fatal("empty date should be omitted")
	}
}

func TestBuildBySharesPayload_MissingParticipants(t *testing.T) {
	_, _, err := BuildBySharesPayload(BySharesRequest{CostCents: 100, PayerUserID: 1})
	if common.CodeOf(err) != string(constants.CodeMissingParticipants) {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, common.ErrFailedPrecondition) {
		t.Fatalf("err should wrap ErrFailedPrecondition: %v", err)
	}
}

func TestPayloadFormAndJSON(t *testing.T) {
	p := Payload{"cost": "1.00", "users__0__user_id": "7"}
	form := p.Form()
	if form.Get("users__0__user_id") != "7" || form.Get("cost") != "1.00" {
		t.Fatalf("form = %v", form)
	}
	if string(p.JSON()) != `{"cost":"1.00","users__0__user_id":"7"}` {
		t.Fatalf("json = %s", p.JSON())
	}
}
