// Package splitwise builds "by shares" expense payloads and posts them to the
// Splitwise API.
package splitwise

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/joseph-ayodele/club-sessions/constants"
	"github.com/joseph-ayodele/club-sessions/internal/common"
	"github.com/joseph-ayodele/club-sessions/internal/money"
)

// BySharesRequest describes one expense paid by a single user and owed
// equally by the participants.
type BySharesRequest struct {
	CostCents          int64
	Description        string
	CurrencyCode       string
	GroupID            int64
	Date               string
	PayerUserID        int64
	ParticipantUserIDs []int64
}

// Payload is the flat form-encoded body create_expense expects, e.g.
// users__0__user_id, users__0__paid_share, users__0__owed_share.
type Payload map[string]string

// ShareRow is one users__N__* group of a payload.
type ShareRow struct {
	UserID    int64
	PaidCents int64
	OwedCents int64
}

// BuildBySharesPayload puts the payer first with the full cost as paid share
// and their equal share (zero if they did not play) as owed share, followed
// by every other participant in ascending id order with a zero paid share.
func BuildBySharesPayload(req BySharesRequest) (Payload, []ShareRow, error) {
	shares, ok := money.ComputeEqualOwedSharesCents(req.CostCents, req.ParticipantUserIDs)
	if !ok {
		return nil, nil, common.NewAppError(string(constants.CodeMissingParticipants),
			"cannot split the session fee: no participants or non-positive fee", common.ErrFailedPrecondition)
	}

	rows := make([]ShareRow, 0, len(shares)+1)
	rows = append(rows, ShareRow{
		UserID:    req.PayerUserID,
		PaidCents: req.CostCents,
		OwedCents: money.ShareOf(shares, req.PayerUserID),
	})
	for _, s := range shares {
		if s.ParticipantID == req.PayerUserID {
			continue
		}
		rows = append(rows, ShareRow{UserID: s.ParticipantID, OwedCents: s.Cents})
	}

	p := Payload{
		"cost":          money.CentsToMoneyString(req.CostCents),
		"description":   req.Description,
		"currency_code": req.CurrencyCode,
		"group_id":      strconv.FormatInt(req.GroupID, 10),
		"split_equally": "false",
	}
	if req.Date != "" {
		p["date"] = req.Date
	}
	for i, r := range rows {
		prefix := fmt.Sprintf("users__%d__", i)
		p[prefix+"user_id"] = strconv.FormatInt(r.UserID, 10)
		p[prefix+"paid_share"] = money.CentsToMoneyString(r.PaidCents)
		p[prefix+"owed_share"] = money.CentsToMoneyString(r.OwedCents)
	}
	return p, rows, nil
}

// Form encodes the payload for an application/x-www-form-urlencoded body.
func (p Payload) Form() url.Values {
	v := make(url.Values, len(p))
	for k, val := range p {
		v.Set(k, val)
	}
	return v
}

// JSON snapshots the payload for the expense audit columns.
func (p Payload) JSON() json.RawMessage {
	b, err := json.Marshal(map[string]string(p))
	if err != nil {
		return nil
	}
	return b
}
