package service

import (
	"testing"

	"transfer-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCanAct(t *testing.T) {
	order := &models.Order{
		ID:              "o-1",
		BuyerCompanyID:  "acme",
		BuyerBranchID:   "taipei",
		SellerCompanyID: "bolt",
		SellerBranchID:  "taichung",
	}
	buyer := models.Caller{CompanyID: "acme", BranchID: "taipei"}
	seller := models.Caller{CompanyID: "bolt", BranchID: "taichung"}
	sameCompany := models.Caller{CompanyID: "acme", BranchID: "hsinchu"}
	admin := models.Caller{CompanyID: "ops", BranchID: "hq", Role: models.RoleAdmin}

	tests := []struct {
		action Action
		allow  []models.Caller
		deny   []models.Caller
	}{
		{ActionView, []models.Caller{buyer, seller, admin}, []models.Caller{sameCompany}},
		{ActionConfirm, []models.Caller{seller}, []models.Caller{buyer, admin, sameCompany}},
		{ActionPreparePayment, []models.Caller{buyer}, []models.Caller{seller, admin}},
		{ActionSimulatePayment, []models.Caller{buyer}, []models.Caller{seller}},
		{ActionRequestQuote, []models.Caller{buyer, seller}, []models.Caller{admin, sameCompany}},
		{ActionDispatch, []models.Caller{seller}, []models.Caller{buyer, admin}},
		{ActionSimulateCourier, []models.Caller{seller}, []models.Caller{buyer}},
		{ActionAccept, []models.Caller{buyer}, []models.Caller{seller, admin}},
		{ActionUploadProof, []models.Caller{buyer}, []models.Caller{seller}},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			for _, c := range tt.allow {
				assert.NoError(t, canAct(c, order, tt.action), "%+v", c)
			}
			for _, c := range tt.deny {
				assert.ErrorIs(t, canAct(c, order, tt.action), models.ErrForbidden, "%+v", c)
			}
		})
	}

	assert.ErrorIs(t, canAct(admin, order, Action("refund")), models.ErrForbidden)
}
