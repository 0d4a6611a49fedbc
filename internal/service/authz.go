package service

import (
	"fmt"

	"transfer-service/internal/models"
)

// Action is an operation a caller performs on an order
type Action string

const (
	ActionView            Action = "view"
	ActionConfirm         Action = "confirm"
	ActionPreparePayment  Action = "prepare_payment"
	ActionSimulatePayment Action = "simulate_payment"
	ActionRequestQuote    Action = "request_quote"
	ActionDispatch        Action = "dispatch"
	ActionSimulateCourier Action = "simulate_courier"
	ActionAccept          Action = "accept"
	ActionUploadProof     Action = "upload_proof"
)

type relation uint8

const (
	relBuyer relation = 1 << iota
	relSeller
	relAdmin
)

var actionPolicy = map[Action]relation{
	ActionView:            relBuyer | relSeller | relAdmin,
	ActionConfirm:         relSeller,
	ActionPreparePayment:  relBuyer,
	ActionSimulatePayment: relBuyer,
	ActionRequestQuote:    relBuyer | relSeller,
	ActionDispatch:        relSeller,
	ActionSimulateCourier: relSeller,
	ActionAccept:          relBuyer,
	ActionUploadProof:     relBuyer,
}

func relationOf(caller models.Caller, order *models.Order) relation {
	var r relation
	if caller.CompanyID == order.BuyerCompanyID && caller.BranchID == order.BuyerBranchID {
		r |= relBuyer
	}
	if caller.CompanyID == order.SellerCompanyID && caller.BranchID == order.SellerBranchID {
		r |= relSeller
	}
	if caller.Role == models.RoleAdmin {
		r |= relAdmin
	}
	return r
}

// canAct is the single authorization predicate consulted by every order operation
func canAct(caller models.Caller, order *models.Order, action Action) error {
	required, ok := actionPolicy[action]
	if !ok {
		return fmt.Errorf("%w: unknown action %s", models.ErrForbidden, action)
	}
	if relationOf(caller, order)&required == 0 {
		return fmt.Errorf("%w: caller may not %s order %s", models.ErrForbidden, action, order.ID)
	}
	return nil
}
