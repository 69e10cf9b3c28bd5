package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

func newEvent(t EventType) (Event, error) {
	switch t {
	case EventTypeCreateMarket:
		return &CreateMarket{}, nil
	case EventTypeApplyMarketConfig:
		return &ApplyMarketConfig{}, nil
	case EventTypeExternalDeposit:
		return &ExternalDeposit{}, nil
	case EventTypeExternalWithdrawal:
		return &ExternalWithdrawal{}, nil
	case EventTypeDeposit:
		return &Deposit{}, nil
	case EventTypeWithdraw:
		return &Withdraw{}, nil
	case EventTypeCreateOrder:
		return &CreateOrder{}, nil
	case EventTypeUpdateOrder:
		return &UpdateOrder{}, nil
	case EventTypeCancelOrder:
		return &CancelOrder{}, nil
	case EventTypeExecuteOrder:
		return &ExecuteOrder{}, nil
	case EventTypeFreezeOrder:
		return &FreezeOrder{}, nil
	case EventTypeLiquidate:
		return &Liquidate{}, nil
	case EventTypeUpdateAdlState:
		return &UpdateAdlState{}, nil
	case EventTypeExecuteAdl:
		return &ExecuteAdl{}, nil
	case EventTypeClaimFunding:
		return &ClaimFunding{}, nil
	case EventTypeClaimCollateral:
		return &ClaimCollateral{}, nil
	case EventTypeClaimAffiliate:
		return &ClaimAffiliate{}, nil
	case EventTypeClaimFees:
		return &ClaimFees{}, nil
	}
	return nil, fmt.Errorf("unknown event type %d", t)
}

// Decode parses a JSON command of type t. Unknown fields are rejected and the
// header must carry a command id, source and caller.
func Decode(t EventType, data []byte) (Event, error) {
	evt, err := newEvent(t)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	h := evt.Meta()
	switch {
	case h.CommandID == uuid.Nil:
		return nil, fmt.Errorf("decode %s: missing command_id", t)
	case h.Source == "":
		return nil, fmt.Errorf("decode %s: missing source", t)
	case h.Caller == "":
		return nil, fmt.Errorf("decode %s: missing caller", t)
	}
	return evt, nil
}

// Encode returns the JSON form of evt as stored in the envelope payload.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}
